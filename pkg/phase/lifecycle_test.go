package phase_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/disruption-ops/orchestrator/pkg/phase"
)

func TestPhase(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Phase Suite")
}

var _ = Describe("Task lifecycle", func() {
	Describe("IsTerminal", func() {
		DescribeTable("should correctly identify terminal vs non-terminal states",
			func(s phase.TaskState, expected bool) {
				Expect(phase.IsTerminal(s)).To(Equal(expected))
			},
			Entry("Pending is not terminal", phase.Pending, false),
			Entry("Running is not terminal", phase.Running, false),
			Entry("Completed is terminal", phase.Completed, true),
			Entry("TimedOut is terminal", phase.TimedOut, true),
			Entry("Failed is terminal", phase.Failed, true),
		)
	})

	Describe("CanTransition", func() {
		DescribeTable("should validate task state transitions",
			func(from, to phase.TaskState, allowed bool) {
				Expect(phase.CanTransition(from, to)).To(Equal(allowed))
			},
			Entry("Pending -> Running: allowed", phase.Pending, phase.Running, true),
			Entry("Pending -> Completed: NOT allowed", phase.Pending, phase.Completed, false),
			Entry("Running -> Completed: allowed", phase.Running, phase.Completed, true),
			Entry("Running -> TimedOut: allowed", phase.Running, phase.TimedOut, true),
			Entry("Running -> Failed: allowed", phase.Running, phase.Failed, true),
			Entry("Completed -> Running: NOT allowed", phase.Completed, phase.Running, false),
			Entry("TimedOut -> Running: NOT allowed", phase.TimedOut, phase.Running, false),
			Entry("Failed -> Running: NOT allowed", phase.Failed, phase.Running, false),
		)
	})

	Describe("Validate", func() {
		DescribeTable("should validate task state values",
			func(s phase.TaskState, shouldSucceed bool) {
				err := phase.Validate(s)
				if shouldSucceed {
					Expect(err).ToNot(HaveOccurred())
				} else {
					Expect(err).To(HaveOccurred())
					Expect(err.Error()).To(ContainSubstring("invalid phase task state"))
				}
			},
			Entry("Pending is valid", phase.Pending, true),
			Entry("Running is valid", phase.Running, true),
			Entry("Completed is valid", phase.Completed, true),
			Entry("TimedOut is valid", phase.TimedOut, true),
			Entry("Failed is valid", phase.Failed, true),
			Entry("empty string is invalid", phase.TaskState(""), false),
			Entry("unknown value is invalid", phase.TaskState("unknown"), false),
		)
	})
})
