package llm_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/larp0/uwularpy-sub000/common/llm"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/openai/openai-go"
)

var _ = Describe("ExtractJSON", func() {
	DescribeTable("finds the outermost object",
		func(input, expected string) {
			Expect(llm.ExtractJSON(input)).To(Equal(expected))
		},
		Entry("bare object", `{"a":1}`, `{"a":1}`),
		Entry("json fence", "```json\n{\"a\":1}\n```", `{"a":1}`),
		Entry("plain fence", "```\n{\"a\":1}\n```", `{"a":1}`),
		Entry("prose around", `Here you go: {"a":{"b":2}} hope it helps`, `{"a":{"b":2}}`),
		Entry("no object", "sorry, I can't", ""),
		Entry("empty", "", ""),
	)
})

var _ = Describe("New", func() {
	It("requires an API key", func() {
		_, err := llm.New(llm.Config{Provider: llm.ProviderOpenAI})
		Expect(err).To(HaveOccurred())
	})

	It("rejects unknown providers", func() {
		_, err := llm.New(llm.Config{Provider: "mystery", APIKey: "k"})
		Expect(err).To(MatchError(ContainSubstring("unsupported")))
	})

	It("builds both providers", func() {
		c, err := llm.New(llm.Config{Provider: llm.ProviderAnthropic, APIKey: "k", Model: "m"})
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Model()).To(Equal("m"))

		c, err = llm.New(llm.Config{APIKey: "k"})
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Model()).NotTo(BeEmpty())
	})
})

var _ = Describe("IsRetryable", func() {
	ctx := context.Background()

	DescribeTable("status codes",
		func(code int, expected bool) {
			err := fmt.Errorf("openai chat: %w", &openai.Error{StatusCode: code})
			Expect(llm.IsRetryable(ctx, err)).To(Equal(expected))
		},
		Entry("429", http.StatusTooManyRequests, true),
		Entry("500", http.StatusInternalServerError, true),
		Entry("503", http.StatusServiceUnavailable, true),
		Entry("400", http.StatusBadRequest, false),
		Entry("401", http.StatusUnauthorized, false),
	)

	It("retries empty and malformed completions", func() {
		Expect(llm.IsRetryable(ctx, llm.ErrEmptyCompletion)).To(BeTrue())
		Expect(llm.IsRetryable(ctx, fmt.Errorf("%w: bad", llm.ErrMalformedResponse))).To(BeTrue())
	})

	It("retries a per-call timeout while the caller is alive", func() {
		Expect(llm.IsRetryable(ctx, context.DeadlineExceeded)).To(BeTrue())
	})

	It("does not retry once the caller is cancelled", func() {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		Expect(llm.IsRetryable(cancelled, errors.New("boom"))).To(BeFalse())
	})

	It("treats nil as not retryable", func() {
		Expect(llm.IsRetryable(ctx, nil)).To(BeFalse())
	})
})
