package issue_tracker_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/larp0/uwularpy-sub000/internal/service/issue_tracker"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("StatusError", func() {
	DescribeTable("matches domain sentinels by status code",
		func(code int, sentinel error) {
			err := fmt.Errorf("wrapped: %w", &issue_tracker.StatusError{Op: "op", StatusCode: code, Err: errors.New("x")})
			Expect(errors.Is(err, sentinel)).To(BeTrue())
		},
		Entry("404", http.StatusNotFound, issue_tracker.ErrNotFound),
		Entry("403", http.StatusForbidden, issue_tracker.ErrForbidden),
		Entry("401", http.StatusUnauthorized, issue_tracker.ErrUnauthorized),
		Entry("422", http.StatusUnprocessableEntity, issue_tracker.ErrValidation),
	)

	It("does not match unrelated sentinels", func() {
		err := &issue_tracker.StatusError{Op: "op", StatusCode: http.StatusInternalServerError, Err: errors.New("x")}
		Expect(errors.Is(err, issue_tracker.ErrNotFound)).To(BeFalse())
	})
})

var _ = Describe("IsRetryable", func() {
	ctx := context.Background()

	DescribeTable("by status",
		func(code int, expected bool) {
			err := &issue_tracker.StatusError{Op: "op", StatusCode: code, Err: errors.New("x")}
			Expect(issue_tracker.IsRetryable(ctx, err)).To(Equal(expected))
		},
		Entry("429 retried", http.StatusTooManyRequests, true),
		Entry("500 retried", http.StatusInternalServerError, true),
		Entry("502 retried", http.StatusBadGateway, true),
		Entry("403 not retried", http.StatusForbidden, false),
		Entry("404 not retried", http.StatusNotFound, false),
		Entry("422 not retried", http.StatusUnprocessableEntity, false),
	)

	It("retries network errors and per-call timeouts", func() {
		Expect(issue_tracker.IsRetryable(ctx, errors.New("connection reset by peer"))).To(BeTrue())
		Expect(issue_tracker.IsRetryable(ctx, context.DeadlineExceeded)).To(BeTrue())
	})

	It("stops once the caller is gone", func() {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		Expect(issue_tracker.IsRetryable(cancelled, errors.New("connection reset"))).To(BeFalse())
	})
})

var _ = Describe("UserMessage", func() {
	It("names the permission problem", func() {
		err := &issue_tracker.StatusError{Op: "op", StatusCode: http.StatusForbidden, Err: errors.New("x")}
		Expect(issue_tracker.UserMessage(err)).To(ContainSubstring("permission"))
	})
})
