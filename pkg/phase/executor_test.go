package phase_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/disruption-ops/orchestrator/pkg/phase"
	"github.com/disruption-ops/orchestrator/pkg/schema"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

var _ = Describe("Executor", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("should run every agent concurrently and collate success responses", func() {
		var inFlight int32
		var maxInFlight int32
		var mu sync.Mutex

		invoke := func(ctx context.Context, agentID string) schema.AgentResponse {
			n := atomic.AddInt32(&inFlight, 1)
			mu.Lock()
			if n > maxInFlight {
				maxInFlight = n
			}
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return schema.AgentResponse{AgentName: agentID, Status: schema.StatusSuccess, Recommendation: "ok-" + agentID}
		}

		e := phase.New(phase.Config{
			PerAgentTimeout: time.Second,
			PhaseTimeout:    5 * time.Second,
			MaxConcurrency:  8,
		}, quietLogger())

		agentIDs := []string{"a1", "a2", "a3", "a4"}
		collation := e.Run(ctx, schema.PhaseInitial, agentIDs, invoke)

		Expect(collation.Responses).To(HaveLen(4))
		for _, id := range agentIDs {
			Expect(collation.Responses[id].Status).To(Equal(schema.StatusSuccess))
			Expect(collation.Responses[id].Recommendation).To(Equal("ok-" + id))
		}
		Expect(maxInFlight).To(BeNumerically(">", 1))
	})

	It("should bound concurrency to MaxConcurrency", func() {
		var inFlight int32
		var maxInFlight int32
		var mu sync.Mutex

		invoke := func(ctx context.Context, agentID string) schema.AgentResponse {
			n := atomic.AddInt32(&inFlight, 1)
			mu.Lock()
			if n > maxInFlight {
				maxInFlight = n
			}
			mu.Unlock()
			time.Sleep(30 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return schema.AgentResponse{AgentName: agentID, Status: schema.StatusSuccess}
		}

		e := phase.New(phase.Config{
			PerAgentTimeout: time.Second,
			PhaseTimeout:    5 * time.Second,
			MaxConcurrency:  2,
		}, quietLogger())

		agentIDs := []string{"a1", "a2", "a3", "a4", "a5", "a6"}
		e.Run(ctx, schema.PhaseInitial, agentIDs, invoke)

		Expect(maxInFlight).To(BeNumerically("<=", 2))
	})

	It("should record status=timeout when an agent exceeds its per-agent deadline", func() {
		invoke := func(ctx context.Context, agentID string) schema.AgentResponse {
			<-ctx.Done()
			time.Sleep(200 * time.Millisecond)
			return schema.AgentResponse{AgentName: agentID, Status: schema.StatusSuccess}
		}

		e := phase.New(phase.Config{
			PerAgentTimeout: 50 * time.Millisecond,
			PhaseTimeout:    5 * time.Second,
			MaxConcurrency:  4,
		}, quietLogger())

		start := time.Now()
		collation := e.Run(ctx, schema.PhaseInitial, []string{"slow"}, invoke)
		elapsed := time.Since(start)

		Expect(collation.Responses["slow"].Status).To(Equal(schema.StatusTimeout))
		Expect(collation.Responses["slow"].Duration).To(BeNumerically("~", 50*time.Millisecond, 40*time.Millisecond))
		// The Executor must not block waiting for the late real result to unwind.
		Expect(elapsed).To(BeNumerically("<", 150*time.Millisecond))
	})

	It("must not let a late-arriving result after a per-agent timeout mutate the Collation", func() {
		var lateWrites int32

		invoke := func(ctx context.Context, agentID string) schema.AgentResponse {
			<-ctx.Done()
			time.Sleep(100 * time.Millisecond)
			atomic.AddInt32(&lateWrites, 1)
			return schema.AgentResponse{AgentName: agentID, Status: schema.StatusSuccess, Recommendation: "late and wrong"}
		}

		e := phase.New(phase.Config{
			PerAgentTimeout: 20 * time.Millisecond,
			PhaseTimeout:    5 * time.Second,
			MaxConcurrency:  4,
		}, quietLogger())

		collation := e.Run(ctx, schema.PhaseInitial, []string{"late"}, invoke)

		Expect(collation.Responses["late"].Status).To(Equal(schema.StatusTimeout))
		Expect(collation.Responses["late"].Recommendation).To(BeEmpty())

		// Give the goroutine time to actually finish and attempt its
		// (discarded) write, proving it ran but could not reach the
		// Collation returned above.
		Eventually(func() int32 { return atomic.LoadInt32(&lateWrites) }, "500ms", "10ms").Should(Equal(int32(1)))
		Expect(collation.Responses["late"].Recommendation).To(BeEmpty())
	})

	It("should cancel all remaining agents once the whole-phase deadline elapses", func() {
		invoke := func(ctx context.Context, agentID string) schema.AgentResponse {
			select {
			case <-time.After(5 * time.Second):
				return schema.AgentResponse{AgentName: agentID, Status: schema.StatusSuccess}
			case <-ctx.Done():
				return schema.AgentResponse{AgentName: agentID, Status: schema.StatusTimeout}
			}
		}

		e := phase.New(phase.Config{
			PerAgentTimeout: 10 * time.Second,
			PhaseTimeout:    50 * time.Millisecond,
			MaxConcurrency:  4,
		}, quietLogger())

		start := time.Now()
		collation := e.Run(ctx, schema.PhaseInitial, []string{"x1", "x2", "x3"}, invoke)
		elapsed := time.Since(start)

		Expect(elapsed).To(BeNumerically("<", 500*time.Millisecond))
		for _, id := range []string{"x1", "x2", "x3"} {
			Expect(collation.Responses[id].Status).To(Equal(schema.StatusTimeout))
		}
	})

	It("should recover a panicking Invoke into a status=error response", func() {
		invoke := func(ctx context.Context, agentID string) schema.AgentResponse {
			panic("boom")
		}

		e := phase.New(phase.Config{
			PerAgentTimeout: time.Second,
			PhaseTimeout:    5 * time.Second,
			MaxConcurrency:  4,
		}, quietLogger())

		collation := e.Run(ctx, schema.PhaseInitial, []string{"panicky"}, invoke)

		Expect(collation.Responses["panicky"].Status).To(Equal(schema.StatusError))
		Expect(collation.Responses["panicky"].Error).To(ContainSubstring("boom"))
	})

	It("should apply default timeouts and concurrency when Config is zero-valued", func() {
		invoke := func(ctx context.Context, agentID string) schema.AgentResponse {
			return schema.AgentResponse{AgentName: agentID, Status: schema.StatusSuccess}
		}

		e := phase.New(phase.Config{}, nil)
		collation := e.Run(ctx, schema.PhaseRevision, []string{"only"}, invoke)

		Expect(collation.Phase).To(Equal(schema.PhaseRevision))
		Expect(collation.Responses["only"].Status).To(Equal(schema.StatusSuccess))
	})
})
