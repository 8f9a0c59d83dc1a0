package agent_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/disruption-ops/orchestrator/pkg/agent"
	"github.com/disruption-ops/orchestrator/pkg/catalogue"
	"github.com/disruption-ops/orchestrator/pkg/datafetcher"
	"github.com/disruption-ops/orchestrator/pkg/gateway"
	"github.com/disruption-ops/orchestrator/pkg/schema"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestAgent(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Agent Runtime Suite")
}

// fakeProvider is a single-turn ModelProvider test double: it answers
// Extract with a fixed FlightInfo-shaped object and ToolCallLoop with a
// fixed final answer, ignoring req entirely.
type fakeProvider struct {
	extractReply map[string]interface{}
	finalAnswer  string
}

func (f *fakeProvider) ID() string { return "fake-primary" }

func (f *fakeProvider) Complete(ctx context.Context, req gateway.CompletionRequest) (string, error) {
	return f.finalAnswer, nil
}

func (f *fakeProvider) Extract(ctx context.Context, req gateway.ExtractRequest) (map[string]interface{}, error) {
	return f.extractReply, nil
}

func (f *fakeProvider) ToolCallLoop(ctx context.Context, req gateway.ToolCallLoopRequest) (gateway.ToolCallLoopResult, error) {
	return gateway.ToolCallLoopResult{FinalAnswer: f.finalAnswer, Iterations: 1}, nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func writeCatalogueFile(dir, content string) string {
	path := filepath.Join(dir, "catalogue.yaml")
	Expect(os.WriteFile(path, []byte(content), 0644)).To(Succeed())
	return path
}

const testCatalogue = `
agents:
  - agent_id: crew_compliance
    system_prompt: "You enforce crew duty-time limits."
    is_safety_agent: true
    authorized_tools:
      - name: lookup_crew
        fetcher_operation: point_get
        argument_shape: "key"
  - agent_id: cost_optimization
    system_prompt: "You optimize recovery cost."
    is_safety_agent: false
    authorized_tools:
      - name: scan_costs
        fetcher_operation: filter_scan
        argument_shape: "pattern"
`

var _ = Describe("Agent Runtime", func() {
	var (
		cat *catalogue.Catalogue
		mr  *miniredis.Miniredis
		f   *datafetcher.Fetcher
		ctx context.Context
	)

	BeforeEach(func() {
		path := writeCatalogueFile(GinkgoT().TempDir(), testCatalogue)
		var err error
		cat, err = catalogue.Load(path, quietLogger())
		Expect(err).NotTo(HaveOccurred())

		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		f = datafetcher.New(client, datafetcher.Config{RetryMaxAttempts: 1, RetryBaseDelay: time.Millisecond}, quietLogger())

		ctx = context.Background()
	})

	AfterEach(func() {
		mr.Close()
	})

	It("should return a success AgentResponse with structured recommendation fields", func() {
		provider := &fakeProvider{
			extractReply: map[string]interface{}{
				"flight_number":    "ey123",
				"date":             "today",
				"disruption_event": "cancellation",
			},
			finalAnswer: `{"recommendation":"reassign standby crew","confidence":0.82,"reasoning":"within duty limits","binding_constraints":["BLOCKING: crew must rest 10h"]}`,
		}
		gw := gateway.New([]gateway.ModelProvider{provider}, gateway.Config{}, quietLogger())
		rt := agent.New(gw, f, cat, quietLogger())
		rt.Now = func() time.Time { return time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC) }

		resp := rt.Run(ctx, "crew_compliance", schema.DisruptionPayload{
			UserPrompt: "EY123 was cancelled today",
			Phase:      schema.PhaseInitial,
		}, nil, nil)

		Expect(resp.Status).To(Equal(schema.StatusSuccess))
		Expect(resp.Recommendation).To(Equal("reassign standby crew"))
		Expect(resp.Confidence).To(Equal(0.82))
		Expect(resp.BindingConstraints).To(ConsistOf("BLOCKING: crew must rest 10h"))
		Expect(resp.ExtractedFlightInfo).NotTo(BeNil())
		Expect(resp.ExtractedFlightInfo.FlightNumber).To(Equal("EY123"))
		Expect(resp.ExtractedFlightInfo.Date).To(Equal("2026-07-31"))
	})

	It("should drop binding constraints from a non-safety agent", func() {
		provider := &fakeProvider{
			extractReply: map[string]interface{}{
				"flight_number":    "EY456",
				"date":             "2026-07-30",
				"disruption_event": "delay",
			},
			finalAnswer: `{"recommendation":"rebook via partner","confidence":0.6,"binding_constraints":["HIGH: do this anyway"]}`,
		}
		gw := gateway.New([]gateway.ModelProvider{provider}, gateway.Config{}, quietLogger())
		rt := agent.New(gw, f, cat, quietLogger())

		resp := rt.Run(ctx, "cost_optimization", schema.DisruptionPayload{
			UserPrompt: "EY456 delayed",
			Phase:      schema.PhaseInitial,
		}, nil, nil)

		Expect(resp.Status).To(Equal(schema.StatusSuccess))
		Expect(resp.BindingConstraints).To(BeEmpty())
	})

	It("should fall back to the raw text recommendation with degraded_parse on a non-JSON final answer", func() {
		provider := &fakeProvider{
			extractReply: map[string]interface{}{
				"flight_number":    "EY789",
				"date":             "2026-07-29",
				"disruption_event": "diversion",
			},
			finalAnswer: "just reassign the crew, trust me",
		}
		gw := gateway.New([]gateway.ModelProvider{provider}, gateway.Config{}, quietLogger())
		rt := agent.New(gw, f, cat, quietLogger())

		resp := rt.Run(ctx, "crew_compliance", schema.DisruptionPayload{
			UserPrompt: "EY789 diverted",
			Phase:      schema.PhaseInitial,
		}, nil, nil)

		Expect(resp.Status).To(Equal(schema.StatusSuccess))
		Expect(resp.Recommendation).To(Equal("just reassign the crew, trust me"))
		Expect(resp.Confidence).To(Equal(0.5))
		Expect(resp.Reasoning).To(ContainSubstring("degraded_parse"))
	})

	It("should return status=error when extraction fails validation", func() {
		provider := &fakeProvider{
			extractReply: map[string]interface{}{
				"flight_number":    "",
				"date":             "2026-07-29",
				"disruption_event": "diversion",
			},
		}
		gw := gateway.New([]gateway.ModelProvider{provider}, gateway.Config{}, quietLogger())
		rt := agent.New(gw, f, cat, quietLogger())

		resp := rt.Run(ctx, "crew_compliance", schema.DisruptionPayload{
			UserPrompt: "something happened",
			Phase:      schema.PhaseInitial,
		}, nil, nil)

		Expect(resp.Status).To(Equal(schema.StatusError))
		Expect(resp.Error).NotTo(BeEmpty())
	})

	It("should return status=error for an agent not in the catalogue", func() {
		gw := gateway.New([]gateway.ModelProvider{&fakeProvider{}}, gateway.Config{}, quietLogger())
		rt := agent.New(gw, f, cat, quietLogger())

		resp := rt.Run(ctx, "unknown_agent", schema.DisruptionPayload{
			UserPrompt: "x",
			Phase:      schema.PhaseInitial,
		}, nil, nil)

		Expect(resp.Status).To(Equal(schema.StatusError))
	})

	It("should dispatch an authorized point_get tool call through the Data Fetcher", func() {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		client.HSet(ctx, "crew:EY123", "name", "Jane Doe")

		var capturedArgs map[string]interface{}
		provider := &toolCallingProvider{
			extractReply: map[string]interface{}{
				"flight_number":    "EY123",
				"date":             "2026-07-29",
				"disruption_event": "cancellation",
			},
			toolName: "lookup_crew",
			toolArgs: map[string]interface{}{"key": "crew:EY123"},
			onResult: func(args map[string]interface{}) { capturedArgs = args },
		}
		gw := gateway.New([]gateway.ModelProvider{provider}, gateway.Config{}, quietLogger())
		rt := agent.New(gw, f, cat, quietLogger())

		resp := rt.Run(ctx, "crew_compliance", schema.DisruptionPayload{
			UserPrompt: "EY123 cancelled",
			Phase:      schema.PhaseInitial,
		}, nil, nil)

		Expect(resp.Status).To(Equal(schema.StatusSuccess))
		Expect(capturedArgs).To(HaveKeyWithValue("key", "crew:EY123"))
	})
})

// toolCallingProvider drives exactly one tool call then returns a fixed
// final answer, so the handler dispatch path can be exercised without a
// real LLM.
type toolCallingProvider struct {
	extractReply map[string]interface{}
	toolName     string
	toolArgs     map[string]interface{}
	onResult     func(args map[string]interface{})
}

func (p *toolCallingProvider) ID() string { return "tool-calling-fake" }

func (p *toolCallingProvider) Complete(ctx context.Context, req gateway.CompletionRequest) (string, error) {
	return "", nil
}

func (p *toolCallingProvider) Extract(ctx context.Context, req gateway.ExtractRequest) (map[string]interface{}, error) {
	return p.extractReply, nil
}

func (p *toolCallingProvider) ToolCallLoop(ctx context.Context, req gateway.ToolCallLoopRequest) (gateway.ToolCallLoopResult, error) {
	result := req.Handler(ctx, gateway.ToolCall{Name: p.toolName, Arguments: p.toolArgs})
	if p.onResult != nil {
		p.onResult(p.toolArgs)
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"recommendation": "reassign crew based on lookup: " + result.Content,
		"confidence":     0.7,
	})
	return gateway.ToolCallLoopResult{FinalAnswer: string(payload), Iterations: 1}, nil
}
