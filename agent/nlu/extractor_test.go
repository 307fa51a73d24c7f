package nlu

import (
	"context"
	"errors"
	"testing"
	"time"

	contractx "github.com/shopez/ez-agent/agent/contract"
	flowx "github.com/shopez/ez-agent/agent/flow"
	statex "github.com/shopez/ez-agent/agent/state"
)

type fakeBackend struct {
	cls   contractx.Classification
	err   error
	calls int
}

func (f *fakeBackend) ClassifyText(ctx context.Context, text string, languageHint string) (contractx.Classification, error) {
	f.calls++
	if f.err != nil {
		return contractx.Classification{}, f.err
	}
	return f.cls, nil
}

func newTestExtractor(t *testing.T, backend contractx.Classifier) *Extractor {
	t.Helper()
	e, err := NewExtractor(backend, flowx.DefaultCatalog(), DefaultConfidenceThreshold)
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}
	return e
}

func conversationWithFlow(t *testing.T, kind statex.FlowKind, stage statex.Stage) *statex.Conversation {
	t.Helper()
	now := time.Now()
	conv := statex.NewConversation("conv-1", now)
	flow, err := statex.NewFlow("flow-1", kind, now)
	if err != nil {
		t.Fatalf("NewFlow: %v", err)
	}
	for flow.Stage != stage {
		next := statex.StageAwaitingConfirmation
		if flow.Stage == statex.StageAwaitingConfirmation {
			next = statex.StageExecuting
		}
		if err := flow.Advance(next, now); err != nil {
			t.Fatalf("advance to %s: %v", stage, err)
		}
	}
	conv.BeginFlow(flow)
	return conv
}

func TestClassifyMenuWordsBypassBackend(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	e := newTestExtractor(t, backend)

	for _, text := range []string{"main menu", "Menu", "メインメニュー"} {
		intent := e.Classify(context.Background(), text, nil)
		if intent.Label != contractx.IntentMainMenu {
			t.Errorf("Classify(%q) = %s, want main_menu", text, intent.Label)
		}
	}
	if backend.calls != 0 {
		t.Fatalf("backend calls = %d, want 0", backend.calls)
	}
}

func TestClassifyExplicitEscalationWins(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{cls: contractx.Classification{Label: "return", Confidence: 0.99}}
	e := newTestExtractor(t, backend)

	intent := e.Classify(context.Background(), "let me speak to a human please", nil)
	if intent.Label != contractx.IntentEscalate {
		t.Fatalf("label = %s, want escalate", intent.Label)
	}
	if backend.calls != 0 {
		t.Fatalf("backend calls = %d, want 0", backend.calls)
	}
}

func TestClassifyConfirmDenyDuringConfirmation(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{cls: contractx.Classification{Label: "cancel", Confidence: 0.95}}
	e := newTestExtractor(t, backend)
	conv := conversationWithFlow(t, statex.FlowReturn, statex.StageAwaitingConfirmation)

	intent := e.Classify(context.Background(), "yes, proceed", conv)
	if !intent.Confirm || intent.Deny {
		t.Fatalf("intent = %+v, want confirm", intent)
	}

	// "cancel" while awaiting confirmation is a deny, not a cancellation flow.
	intent = e.Classify(context.Background(), "cancel", conv)
	if !intent.Deny || intent.Confirm {
		t.Fatalf("intent = %+v, want deny", intent)
	}
	if backend.calls != 0 {
		t.Fatalf("backend calls = %d, want 0", backend.calls)
	}
}

func TestClassifyConfirmationMatchesWholeWordsOnly(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{cls: contractx.Classification{Label: "unknown", Confidence: 0.2}}
	e := newTestExtractor(t, backend)
	conv := conversationWithFlow(t, statex.FlowWarrantyClaim, statex.StageAwaitingConfirmation)

	// "broken" contains "ok" and "nothing" contains "no"; neither is a
	// confirmation signal.
	for _, text := range []string{
		"wait, the hinge is also broken",
		"nothing else happened after that",
	} {
		intent := e.Classify(context.Background(), text, conv)
		if intent.Confirm || intent.Deny {
			t.Errorf("Classify(%q) = %+v, want neither confirm nor deny", text, intent)
		}
	}
	if backend.calls != 2 {
		t.Fatalf("backend calls = %d, want 2", backend.calls)
	}

	if intent := e.Classify(context.Background(), "okay", conv); !intent.Confirm {
		t.Fatalf("Classify(okay) = %+v, want confirm", intent)
	}
	if intent := e.Classify(context.Background(), "no thanks", conv); !intent.Deny {
		t.Fatalf("Classify(no thanks) = %+v, want deny", intent)
	}
}

func TestClassifyEscalationMatchesWholeWordsOnly(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{cls: contractx.Classification{Label: "warranty_claim", Confidence: 0.9}}
	e := newTestExtractor(t, backend)

	// "inhumane" contains "human"; that is not a handoff request.
	intent := e.Classify(context.Background(), "the packaging was inhumane, my laptop arrived cracked", nil)
	if intent.Label != contractx.IntentWarrantyClaim {
		t.Fatalf("label = %s, want warranty_claim", intent.Label)
	}
	if backend.calls != 1 {
		t.Fatalf("backend calls = %d, want 1", backend.calls)
	}
}

func TestNewExtractorRequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := NewExtractor(nil, flowx.DefaultCatalog(), DefaultConfidenceThreshold); err == nil {
		t.Fatal("expected an error for a nil backend")
	}
	if _, err := NewExtractor(&fakeBackend{}, nil, DefaultConfidenceThreshold); err == nil {
		t.Fatal("expected an error for a nil planner")
	}
}

func TestClassifyBelowThresholdForcesUnknown(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{cls: contractx.Classification{Label: "return", Confidence: 0.3}}
	e := newTestExtractor(t, backend)

	intent := e.Classify(context.Background(), "hmm maybe the thing", nil)
	if intent.Label != contractx.IntentUnknown {
		t.Fatalf("label = %s, want unknown", intent.Label)
	}
}

func TestClassifySlotFillTargetsNextMissingSlot(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{cls: contractx.Classification{Label: "unknown", Confidence: 0.1}}
	e := newTestExtractor(t, backend)
	conv := conversationWithFlow(t, statex.FlowReturn, statex.StageCollectingSlots)

	intent := e.Classify(context.Background(), "it stopped charging", conv)
	if !intent.SlotFill || intent.TargetSlot != flowx.SlotOrderID {
		t.Fatalf("intent = %+v, want slot fill for order_id", intent)
	}
	if intent.Slots[flowx.SlotOrderID] != "it stopped charging" {
		t.Fatalf("slot candidate = %q, want verbatim text", intent.Slots[flowx.SlotOrderID])
	}
}

func TestClassifyFallsBackToRulesOnBackendError(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{err: errors.New("model unreachable")}
	e := newTestExtractor(t, backend)

	intent := e.Classify(context.Background(), "where is my order ord_1001?", nil)
	if intent.Label != contractx.IntentOrderStatus {
		t.Fatalf("label = %s, want order_status", intent.Label)
	}
	if intent.Slots["order_id"] != "ORD-1001" {
		t.Fatalf("order_id = %q, want ORD-1001", intent.Slots["order_id"])
	}

	intent = e.Classify(context.Background(), "I want to return ORD-1001", nil)
	if intent.Label != contractx.IntentReturn {
		t.Fatalf("label = %s, want return", intent.Label)
	}
}

func TestClassifyNormalizesBudgetSlot(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{cls: contractx.Classification{
		Label:      "product_search",
		Confidence: 0.9,
		Slots:      map[string]string{"query": "gaming laptop", "budget": "under 60k"},
	}}
	e := newTestExtractor(t, backend)

	intent := e.Classify(context.Background(), "gaming laptop under 60k", nil)
	if intent.Label != contractx.IntentProductSearch {
		t.Fatalf("label = %s, want product_search", intent.Label)
	}
	if intent.Slots["max_price"] != "60000" {
		t.Fatalf("max_price = %q, want 60000", intent.Slots["max_price"])
	}
}

func TestClassifyDetectsJapanese(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{cls: contractx.Classification{Label: "return", Confidence: 0.9}}
	e := newTestExtractor(t, backend)

	intent := e.Classify(context.Background(), "返品したいです", nil)
	if intent.Language != "ja" {
		t.Fatalf("language = %q, want ja", intent.Language)
	}
}

func TestNormalizeOrderID(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"ord_1001":   "ORD-1001",
		" ORD-42 ":   "ORD-42",
		"ord1001":    "ORD-1001",
		"ORD-1001":   "ORD-1001",
	}
	for in, want := range cases {
		if got := NormalizeOrderID(in); got != want {
			t.Errorf("NormalizeOrderID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseBudget(t *testing.T) {
	t.Parallel()

	cases := map[string]int64{
		"under 60k":    60000,
		"60000":        60000,
		"about 100k":   100000,
		"cheap please": 0,
	}
	for in, want := range cases {
		if got := ParseBudget(in); got != want {
			t.Errorf("ParseBudget(%q) = %d, want %d", in, got, want)
		}
	}
}
