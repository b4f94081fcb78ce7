package brain_test

import (
	"context"
	"errors"

	"github.com/larp0/uwularpy-sub000/internal/brain"
	"github.com/larp0/uwularpy-sub000/internal/model"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("IntentResolver", func() {
	var (
		ctx        context.Context
		classifier *mockClassifier
		resolver   *brain.IntentResolver
	)

	BeforeEach(func() {
		ctx = context.Background()
		classifier = &mockClassifier{}
		resolver = brain.NewIntentResolver("l", classifier)
	})

	It("lets the rules win without asking the classifier", func() {
		res := resolver.Resolve(ctx, "@l ship it", true)

		Expect(res.Task).To(Equal(model.TaskApprove))
		Expect(res.Source).To(Equal(model.ResolvedByRules))
		Expect(classifier.callCount).To(BeZero())
	})

	It("ignores comments without a mention", func() {
		res := resolver.Resolve(ctx, "looks good to me", true)

		Expect(res.Task).To(Equal(model.TaskNone))
		Expect(res.Source).To(Equal(model.Unresolved))
		Expect(classifier.callCount).To(BeZero())
	})

	It("falls back to the classifier for unmatched commands", func() {
		var gotText string
		var gotFlag bool
		classifier.classifyFn = func(_ context.Context, text string, milestoneCreated bool) (model.IntentClassification, error) {
			gotText, gotFlag = text, milestoneCreated
			return model.IntentClassification{Intent: model.IntentApproval, Confidence: 0.85}, nil
		}

		res := resolver.Resolve(ctx, "@l aprove pls", true)

		Expect(res.Task).To(Equal(model.TaskApprove))
		Expect(res.Source).To(Equal(model.ResolvedByClassifier))
		Expect(res.Classification).NotTo(BeNil())
		Expect(gotText).To(Equal("aprove pls"))
		Expect(gotFlag).To(BeTrue())
	})

	It("sends the classifier the command as written", func() {
		var gotText string
		classifier.classifyFn = func(_ context.Context, text string, _ bool) (model.IntentClassification, error) {
			gotText = text
			return model.IntentClassification{Intent: model.IntentApproval, Confidence: 0.9}, nil
		}

		res := resolver.Resolve(ctx, "@l dev  ¡Sí, ADELANTE!  ", true)

		Expect(res.Task).To(Equal(model.TaskApprove))
		Expect(res.Command.IsDevCommand).To(BeTrue())
		Expect(gotText).To(Equal("¡Sí, ADELANTE!"))
	})

	It("treats a classifier failure as unrecognized", func() {
		classifier.classifyFn = func(context.Context, string, bool) (model.IntentClassification, error) {
			return model.IntentClassification{}, errors.New("timeout")
		}

		res := resolver.Resolve(ctx, "@l aprove", true)

		Expect(res.Task).To(Equal(model.TaskNone))
		Expect(res.Source).To(Equal(model.Unresolved))
		Expect(res.Classification).To(BeNil())
	})

	It("treats a low-confidence answer as unrecognized", func() {
		classifier.classifyFn = func(context.Context, string, bool) (model.IntentClassification, error) {
			return model.IntentClassification{Intent: model.IntentApproval, Confidence: 0.3}, nil
		}

		res := resolver.Resolve(ctx, "@l maybe?", true)

		Expect(res.Task).To(Equal(model.TaskNone))
		Expect(res.Classification).NotTo(BeNil())
	})

	It("uses the whole command as the query for classifier-routed plans", func() {
		classifier.classifyFn = func(context.Context, string, bool) (model.IntentClassification, error) {
			return model.IntentClassification{Intent: model.IntentPlanning, Confidence: 0.9}, nil
		}

		res := resolver.Resolve(ctx, "@l analiza la seguridad", false)

		Expect(res.Task).To(Equal(model.TaskPlan))
		Expect(res.Query()).To(Equal("analiza la seguridad"))
	})

	It("works without a classifier", func() {
		resolver = brain.NewIntentResolver("l", nil)

		res := resolver.Resolve(ctx, "@l aprove", true)

		Expect(res.Task).To(Equal(model.TaskNone))
	})
})
