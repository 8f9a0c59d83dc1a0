package resilience_test

import (
	"fmt"
	"time"

	apperrors "github.com/disruption-ops/orchestrator/internal/errors"
	"github.com/disruption-ops/orchestrator/pkg/resilience"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Chain", func() {
	newBreaker := func(name string) *resilience.Breaker {
		return resilience.NewBreaker(name, 0.5, time.Minute)
	}

	It("should return the first candidate's result when it succeeds", func() {
		chain := resilience.NewChain([]resilience.FallbackStep[string]{
			{ID: "anthropic", Breaker: newBreaker("anthropic"), Attempt: func() (string, error) { return "anthropic-result", nil }},
			{ID: "bedrock", Breaker: newBreaker("bedrock"), Attempt: func() (string, error) { return "bedrock-result", nil }},
		})

		result, winner, hops, err := chain.Run()
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal("anthropic-result"))
		Expect(winner).To(Equal("anthropic"))
		Expect(hops).To(BeEmpty())

		metrics := chain.GetMetrics()
		Expect(metrics.TotalCalls).To(Equal(int64(1)))
		Expect(metrics.SuccessfulCalls).To(Equal(int64(1)))
		Expect(metrics.FallbacksUsed).To(Equal(int64(0)))
	})

	It("should fall through to the next candidate on a throttled error and record a hop", func() {
		chain := resilience.NewChain([]resilience.FallbackStep[string]{
			{ID: "anthropic", Breaker: newBreaker("anthropic"), Attempt: func() (string, error) {
				return "", apperrors.NewProviderThrottledError("anthropic", fmt.Errorf("rate limited"))
			}},
			{ID: "bedrock", Breaker: newBreaker("bedrock"), Attempt: func() (string, error) { return "bedrock-result", nil }},
		})

		result, winner, hops, err := chain.Run()
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal("bedrock-result"))
		Expect(winner).To(Equal("bedrock"))
		Expect(hops).To(HaveLen(1))
		Expect(hops[0].FromID).To(Equal("anthropic"))
		Expect(hops[0].ToID).To(Equal("bedrock"))
		Expect(hops[0].Reason).To(ContainSubstring("rate limited"))

		metrics := chain.GetMetrics()
		Expect(metrics.FallbacksUsed).To(Equal(int64(1)))
	})

	It("should return a throttled error when every candidate is throttled", func() {
		chain := resilience.NewChain([]resilience.FallbackStep[string]{
			{ID: "anthropic", Breaker: newBreaker("anthropic"), Attempt: func() (string, error) {
				return "", apperrors.NewProviderThrottledError("anthropic", fmt.Errorf("down"))
			}},
			{ID: "bedrock", Breaker: newBreaker("bedrock"), Attempt: func() (string, error) {
				return "", apperrors.NewProviderThrottledError("bedrock", fmt.Errorf("down"))
			}},
		})

		_, _, hops, err := chain.Run()
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("bedrock"))
		Expect(hops).To(HaveLen(1))

		metrics := chain.GetMetrics()
		Expect(metrics.FailedCalls).To(Equal(int64(1)))
	})

	It("should propagate a non-throttling error immediately without trying the next candidate", func() {
		secondaryCalled := false
		chain := resilience.NewChain([]resilience.FallbackStep[string]{
			{ID: "anthropic", Breaker: newBreaker("anthropic"), Attempt: func() (string, error) {
				return "", apperrors.NewValidationError("malformed request")
			}},
			{ID: "bedrock", Breaker: newBreaker("bedrock"), Attempt: func() (string, error) {
				secondaryCalled = true
				return "bedrock-result", nil
			}},
		})

		_, winner, hops, err := chain.Run()
		Expect(err).To(HaveOccurred())
		Expect(apperrors.IsType(err, apperrors.ErrorTypeValidation)).To(BeTrue())
		Expect(winner).To(BeEmpty())
		Expect(hops).To(BeEmpty())
		Expect(secondaryCalled).To(BeFalse())

		metrics := chain.GetMetrics()
		Expect(metrics.FailedCalls).To(Equal(int64(1)))
		Expect(metrics.FallbacksUsed).To(Equal(int64(0)))
	})
})
