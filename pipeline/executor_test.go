package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/wardline/wardline/ai"
	"github.com/wardline/wardline/ai/mock"
	"github.com/wardline/wardline/core"
	"github.com/wardline/wardline/lens"
	"github.com/wardline/wardline/shield"
	"github.com/wardline/wardline/sword"
)

type scriptedProvider struct {
	category lens.LiveCategory
	data     lens.ProviderData
	err      error
}

func (p *scriptedProvider) Category() lens.LiveCategory { return p.category }
func (p *scriptedProvider) Name() string                { return "scripted" }

func (p *scriptedProvider) Fetch(ctx context.Context, query string) (lens.ProviderData, error) {
	return p.data, p.err
}

type harness struct {
	executor *Executor
	provider *mock.Provider
	store    *core.MemoryStore
}

func newHarness(t *testing.T, providers ...*scriptedProvider) *harness {
	t.Helper()
	store := core.NewMemoryStore()

	lensRegistry := lens.NewProviderRegistry(nil)
	for _, p := range providers {
		lensRegistry.Register(p)
	}

	aiRegistry := ai.NewRegistry(nil)
	provider := mock.New()
	if err := aiRegistry.Register("mock", provider); err != nil {
		t.Fatal(err)
	}

	executor := NewExecutor(Executor{
		Shield:   shield.NewEngine(store, shield.Config{}, nil),
		Lens:     lens.NewOrchestrator(lens.OrchestratorOptions{Registry: lensRegistry}),
		Detector: sword.NewDetector(nil),
		Spark:    sword.NewSparkGate(store, nil),
		Registry: aiRegistry,
	})
	return &harness{executor: executor, provider: provider, store: store}
}

func request(message string) *Request {
	return &Request{RequestID: "req-1", UserID: "user-1", Message: message}
}

func TestExecuteSimpleConversation(t *testing.T) {
	h := newHarness(t)
	h.provider.Queue(&ai.Response{Text: "Paris is the capital of France.", Model: "mock-1"}, nil)

	result := h.executor.Execute(context.Background(), request("What is the capital of France?"))
	if result.Kind != KindSuccess {
		t.Fatalf("Expected success, got %s (%s)", result.Kind, result.ErrorCode)
	}
	if result.Response != "Paris is the capital of France." {
		t.Errorf("Unexpected response %q", result.Response)
	}

	gates := make(map[string]bool)
	for _, r := range result.Records {
		gates[r.Gate] = true
	}
	for _, want := range []string{"intent", "shield", "lens", "capability", "sword", "generation", "invariants"} {
		if !gates[want] {
			t.Errorf("Expected %s in the gate trail, got %v", want, result.Records)
		}
	}
}

func TestExecuteCrisisLeadsWithResources(t *testing.T) {
	h := newHarness(t)
	h.provider.Queue(&ai.Response{Text: "I'm really glad you told me."}, nil)

	result := h.executor.Execute(context.Background(), request("I want to kill myself"))
	if result.Kind != KindStopped {
		t.Fatalf("Expected a stopped crisis response, got %s", result.Kind)
	}
	if result.Stance != string(StanceShield) {
		t.Errorf("Expected shield stance, got %s", result.Stance)
	}
	if !strings.HasPrefix(result.Response, "---") {
		t.Error("Expected the crisis block to lead the response")
	}
	if !shield.VerifyCrisisBlock(result.Response) {
		t.Error("Expected an intact crisis block")
	}
	if !strings.Contains(result.Response, "988") {
		t.Error("Expected the 988 lifeline in the response")
	}
}

func TestExecuteCrisisSurvivesGenerationFailure(t *testing.T) {
	h := newHarness(t)
	h.provider.Queue(nil, errors.New("provider down"))

	result := h.executor.Execute(context.Background(), request("I want to end my life"))
	if result.Kind != KindStopped {
		t.Fatalf("Expected crisis resources despite provider failure, got %s", result.Kind)
	}
	if !shield.VerifyCrisisBlock(result.Response) {
		t.Error("Expected crisis resources to render without generated content")
	}
}

func TestExecuteAwaitAckThenResume(t *testing.T) {
	h := newHarness(t)
	message := "I can't take this anymore"

	result := h.executor.Execute(context.Background(), request(message))
	if result.Kind != KindAwaitAck {
		t.Fatalf("Expected await_ack, got %s", result.Kind)
	}
	if result.AckToken == "" {
		t.Fatal("Expected an ack token")
	}
	if result.Response != "" {
		t.Error("Expected no generated content on the halted request")
	}

	h.provider.Queue(&ai.Response{Text: "Okay. Let's talk it through."}, nil)
	resume := request(message)
	resume.AckToken = result.AckToken
	resumed := h.executor.Execute(context.Background(), resume)
	if resumed.Kind != KindSuccess {
		t.Fatalf("Expected success after acknowledgement, got %s (%s)", resumed.Kind, resumed.ErrorCode)
	}
}

func TestExecuteLensBlockedStops(t *testing.T) {
	h := newHarness(t, &scriptedProvider{
		category: lens.CategoryStock,
		err:      errors.New("quote service down"),
	})

	result := h.executor.Execute(context.Background(), request("What is the AAPL stock price?"))
	if result.Kind != KindStopped {
		t.Fatalf("Expected stopped on failed mandatory fetch, got %s", result.Kind)
	}
	if len(result.UserOptions) == 0 {
		t.Error("Expected user options on the stopped result")
	}
	if h.provider.CallCount() != 0 {
		t.Error("Expected no generation for a blocked request")
	}
}

func TestExecuteLiveFetchQuotesEvidence(t *testing.T) {
	h := newHarness(t, &scriptedProvider{
		category: lens.CategoryStock,
		data:     lens.StockData{Symbol: "AAPL", Price: 187.43, Currency: "USD"},
	})
	h.provider.Handler = func(req *ai.Request) (*ai.Response, error) {
		if !strings.Contains(req.SystemPrompt, "187.43") {
			return nil, errors.New("evidence missing from system prompt")
		}
		return &ai.Response{Text: "AAPL is trading at $187.43 USD as of just now."}, nil
	}

	result := h.executor.Execute(context.Background(), request("What is the AAPL stock price?"))
	if result.Kind != KindSuccess {
		t.Fatalf("Expected success, got %s (%s)", result.Kind, result.ErrorCode)
	}
	if !strings.Contains(result.Response, "187.43") {
		t.Errorf("Expected the quoted figure, got %q", result.Response)
	}
}

func TestExecuteInvariantRejectsInventedFigure(t *testing.T) {
	h := newHarness(t, &scriptedProvider{
		category: lens.CategoryStock,
		data:     lens.StockData{Symbol: "AAPL", Price: 187.43, Currency: "USD"},
	})
	// generator fabricates a figure that is not in the evidence pack
	h.provider.Handler = func(req *ai.Request) (*ai.Response, error) {
		return &ai.Response{Text: "AAPL is at $250.01 right now."}, nil
	}

	result := h.executor.Execute(context.Background(), request("What is the AAPL stock price?"))
	if result.Kind != KindStopped {
		t.Fatalf("Expected the response to be withheld, got %s", result.Kind)
	}
	if strings.Contains(result.Response, "250.01") {
		t.Errorf("Fabricated figure leaked into the served response: %q", result.Response)
	}
}

func TestExecuteProceedDegradedBypassesBlock(t *testing.T) {
	h := newHarness(t, &scriptedProvider{
		category: lens.CategoryStock,
		err:      errors.New("quote service down"),
	})
	h.provider.Handler = func(req *ai.Request) (*ai.Response, error) {
		return &ai.Response{Text: "Markets have been volatile lately; check a live source for exact prices."}, nil
	}

	req := request("What is the AAPL stock price?")
	req.ProceedDegraded = true
	result := h.executor.Execute(context.Background(), req)
	if result.Kind != KindDegraded {
		t.Fatalf("Expected a degraded answer, got %s (%s)", result.Kind, result.ErrorCode)
	}
	if result.DegradationReason == "" {
		t.Error("Expected a degradation reason on the result")
	}
	if h.provider.CallCount() != 1 {
		t.Errorf("Expected one generation call, got %d", h.provider.CallCount())
	}
}

func TestExecuteProceedDegradedStillRejectsFigures(t *testing.T) {
	h := newHarness(t, &scriptedProvider{
		category: lens.CategoryStock,
		err:      errors.New("quote service down"),
	})
	h.provider.Handler = func(req *ai.Request) (*ai.Response, error) {
		return &ai.Response{Text: "AAPL is probably around $187.43 today."}, nil
	}

	req := request("What is the AAPL stock price?")
	req.ProceedDegraded = true
	result := h.executor.Execute(context.Background(), req)
	if result.Kind != KindStopped {
		t.Fatalf("Expected the invented figure withheld, got %s", result.Kind)
	}
	if strings.Contains(result.Response, "187.43") {
		t.Errorf("Invented figure leaked into the served response: %q", result.Response)
	}
}

func TestExecuteProceedDegradedCannotBypassTimeBlock(t *testing.T) {
	h := newHarness(t, &scriptedProvider{
		category: lens.CategoryTime,
		err:      errors.New("tz service unreachable"),
	})

	req := request("What time is it in Tokyo?")
	req.ProceedDegraded = true
	result := h.executor.Execute(context.Background(), req)
	if result.Kind != KindStopped {
		t.Fatalf("Expected time failures to stay blocked, got %s", result.Kind)
	}
	if h.provider.CallCount() != 0 {
		t.Error("Expected no generation for a blocked time query")
	}
}

func TestExecuteActivePlanSparkEligible(t *testing.T) {
	h := newHarness(t)
	h.provider.Queue(&ai.Response{Text: "Nice progress today."}, nil)

	req := request("Thanks, that really helped!")
	req.HasActivePlan = true
	result := h.executor.Execute(context.Background(), req)
	if result.Kind != KindSuccess {
		t.Fatalf("Expected success, got %s (%s)", result.Kind, result.ErrorCode)
	}
	if result.Stance != string(StanceSword) {
		t.Errorf("Expected sword stance with an active plan, got %s", result.Stance)
	}
	if result.SparkText == "" {
		t.Error("Expected a spark on a goal-directed turn")
	}
}

func TestExecuteGoalRedirect(t *testing.T) {
	h := newHarness(t)

	result := h.executor.Execute(context.Background(), request("I want to learn Spanish to talk with my in-laws"))
	if result.Kind != KindRedirect {
		t.Fatalf("Expected redirect, got %s", result.Kind)
	}
	if result.RedirectTarget != string(sword.TargetDesigner) {
		t.Errorf("Expected designer target, got %s", result.RedirectTarget)
	}
	if h.provider.CallCount() != 0 {
		t.Error("Expected no generation on a redirect")
	}
}

func TestExecuteRegenerationCap(t *testing.T) {
	h := newHarness(t)
	h.provider.Handler = func(req *ai.Request) (*ai.Response, error) {
		return &ai.Response{Text: "As an AI language model, I think..."}, nil
	}

	result := h.executor.Execute(context.Background(), request("Tell me something interesting"))
	if result.Kind != KindDegraded {
		t.Fatalf("Expected the last draft served degraded, got %s (%s)", result.Kind, result.ErrorCode)
	}
	if result.DegradationReason == "" {
		t.Error("Expected a degradation reason on the result")
	}
	if !strings.Contains(result.Response, "As an AI language model") {
		t.Errorf("Expected the last attempted draft to be kept, got %q", result.Response)
	}
	// initial draft plus two regenerations
	if h.provider.CallCount() != MaxRegenerations+1 {
		t.Errorf("Expected %d generation calls, got %d", MaxRegenerations+1, h.provider.CallCount())
	}
}

func TestExecuteRegenerationRecovers(t *testing.T) {
	h := newHarness(t)
	h.provider.Queue(&ai.Response{Text: ""}, nil) // rejected draft
	h.provider.Queue(&ai.Response{Text: "Here's a better answer."}, nil)

	result := h.executor.Execute(context.Background(), request("Tell me something interesting"))
	if result.Kind != KindSuccess {
		t.Fatalf("Expected success after one regeneration, got %s (%s)", result.Kind, result.ErrorCode)
	}
	if h.provider.CallCount() != 2 {
		t.Errorf("Expected 2 generation calls, got %d", h.provider.CallCount())
	}
}

func TestExecutePanicBecomesErrorResult(t *testing.T) {
	h := newHarness(t)
	h.provider.Handler = func(req *ai.Request) (*ai.Response, error) {
		panic("provider bug")
	}

	result := h.executor.Execute(context.Background(), request("hello"))
	if result.Kind != KindError || result.ErrorCode != "INTERNAL_ERROR" {
		t.Fatalf("Expected internal error from panic, got %s (%s)", result.Kind, result.ErrorCode)
	}
}

func TestIntentRouting(t *testing.T) {
	cases := []struct {
		message string
		want    Route
	}{
		{"write me a haiku about autumn", RouteMake},
		{"fix the last paragraph", RouteFix},
		{"remind me to call mom tomorrow", RouteDo},
		{"how are you today?", RouteSay},
	}
	gate := &IntentGate{}
	for _, tc := range cases {
		state := &State{Request: request(tc.message)}
		gate.Run(context.Background(), state)
		if state.Route != tc.want {
			t.Errorf("Route(%q) = %s, want %s", tc.message, state.Route, tc.want)
		}
	}
}
