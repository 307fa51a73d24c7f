package reply

import (
	"strings"
	"testing"

	contractx "github.com/shopez/ez-agent/agent/contract"
	flowx "github.com/shopez/ez-agent/agent/flow"
	statex "github.com/shopez/ez-agent/agent/state"
)

func hasAction(actions []contractx.Action, want contractx.Action) bool {
	for _, a := range actions {
		if a == want {
			return true
		}
	}
	return false
}

func TestComposeConfirmationOffersConfirmAndCancel(t *testing.T) {
	t.Parallel()

	c := NewComposer()
	r := c.Compose(flowx.Decision{
		Kind:     flowx.DecisionAskConfirmation,
		FlowKind: statex.FlowCancellation,
		Language: "en",
	})

	if r.Text == "" {
		t.Fatal("confirmation reply has no text")
	}
	if !hasAction(r.Actions, contractx.ActionConfirm) || !hasAction(r.Actions, contractx.ActionCancel) {
		t.Fatalf("actions = %v, want confirm and cancel present", r.Actions)
	}
	if hasAction(r.Actions, contractx.ActionMainMenu) {
		t.Fatalf("actions = %v, confirmation must not offer main_menu", r.Actions)
	}
}

func TestComposeSlotPromptNeverOffersConfirm(t *testing.T) {
	t.Parallel()

	c := NewComposer()
	r := c.Compose(flowx.Decision{
		Kind:     flowx.DecisionPromptSlot,
		FlowKind: statex.FlowReturn,
		Slot:     flowx.SlotOrderID,
		Language: "en",
	})

	if !strings.Contains(r.Text, "ORD-1001") {
		t.Fatalf("order id prompt %q should show the expected format", r.Text)
	}
	if hasAction(r.Actions, contractx.ActionConfirm) {
		t.Fatalf("actions = %v, slot prompt must not offer confirm", r.Actions)
	}
	if !hasAction(r.Actions, contractx.ActionMainMenu) {
		t.Fatalf("actions = %v, want main_menu", r.Actions)
	}
}

func TestComposeTerminalOutcomesOfferOnlyMainMenu(t *testing.T) {
	t.Parallel()

	c := NewComposer()

	for _, kind := range []flowx.DecisionKind{flowx.DecisionExecuted, flowx.DecisionEscalated} {
		d := flowx.Decision{Kind: kind, FlowKind: statex.FlowReturn, Language: "en"}
		if kind == flowx.DecisionExecuted {
			d.Outcome = &contractx.Result{Success: true, Reference: "REF-1A2B3C4D"}
		}
		r := c.Compose(d)
		if len(r.Actions) != 1 || r.Actions[0] != contractx.ActionMainMenu {
			t.Errorf("%s actions = %v, want only main_menu", kind, r.Actions)
		}
	}
}

func TestComposeExecutedIncludesReference(t *testing.T) {
	t.Parallel()

	c := NewComposer()
	r := c.Compose(flowx.Decision{
		Kind:     flowx.DecisionExecuted,
		FlowKind: statex.FlowCancellation,
		Outcome:  &contractx.Result{Success: true, Reference: "CXL-9F8E7D6C"},
		Language: "en",
	})

	if !strings.Contains(r.Text, "CXL-9F8E7D6C") {
		t.Fatalf("reply %q does not carry the transaction reference", r.Text)
	}
}

func TestComposeExecutionFailure(t *testing.T) {
	t.Parallel()

	c := NewComposer()
	r := c.Compose(flowx.Decision{
		Kind:     flowx.DecisionExecuted,
		FlowKind: statex.FlowReturn,
		Outcome:  &contractx.Result{Success: false, Detail: "temporary failure"},
		Language: "en",
	})

	if !strings.Contains(strings.ToLower(r.Text), "try again") {
		t.Fatalf("failure reply %q should invite a retry", r.Text)
	}
}

func TestComposeOrderDetailsPassesPriceThrough(t *testing.T) {
	t.Parallel()

	c := NewComposer()
	order := &contractx.Order{
		ID:          "ORD-1001",
		ProductName: "ZenBook 14",
		Price:       contractx.Money{Amount: 89900, Currency: "JPY"},
		Status:      contractx.OrderShipped,
	}
	r := c.Compose(flowx.Decision{
		Kind:     flowx.DecisionOrderDetails,
		FlowKind: statex.FlowOrderStatus,
		Order:    order,
		Language: "en",
	})

	if !strings.Contains(r.Text, "89900") || !strings.Contains(r.Text, "JPY") {
		t.Fatalf("reply %q must carry amount and source currency unchanged", r.Text)
	}
	if r.Order == nil || r.Order.ID != "ORD-1001" {
		t.Fatalf("structured order = %+v", r.Order)
	}
}

func TestComposeOrderDetailsIncludesTracking(t *testing.T) {
	t.Parallel()

	c := NewComposer()
	order := &contractx.Order{
		ID:           "ORD-1001",
		ProductName:  "ZenBook 14",
		Price:        contractx.Money{Amount: 89900, Currency: "JPY"},
		Status:       contractx.OrderShipped,
		Carrier:      "Yamato",
		TrackingCode: "YT-4420881",
	}
	r := c.Compose(flowx.Decision{
		Kind:     flowx.DecisionOrderDetails,
		FlowKind: statex.FlowOrderStatus,
		Order:    order,
		Language: "en",
	})

	if !strings.Contains(r.Text, "Yamato") || !strings.Contains(r.Text, "YT-4420881") {
		t.Fatalf("reply %q must surface carrier and tracking number", r.Text)
	}

	order.Carrier = ""
	order.TrackingCode = ""
	bare := c.Compose(flowx.Decision{
		Kind:     flowx.DecisionOrderDetails,
		FlowKind: statex.FlowOrderStatus,
		Order:    order,
		Language: "en",
	})
	if strings.Contains(bare.Text, "tracking") {
		t.Fatalf("reply %q mentions tracking for an order without one", bare.Text)
	}
}

func TestComposeRepromptGatewayOutageInvitesRetry(t *testing.T) {
	t.Parallel()

	c := NewComposer()
	r := c.Compose(flowx.Decision{
		Kind:     flowx.DecisionRepromptSlot,
		FlowKind: statex.FlowReturn,
		Slot:     flowx.SlotOrderID,
		Detail:   "temporary failure",
		Language: "en",
	})

	if !strings.Contains(strings.ToLower(r.Text), "try again") {
		t.Fatalf("outage reply %q should invite a retry", r.Text)
	}
	if strings.Contains(strings.ToLower(r.Text), "couldn't find that order") {
		t.Fatalf("outage reply %q must not blame the order id", r.Text)
	}
}

func TestComposeJapaneseCatalog(t *testing.T) {
	t.Parallel()

	c := NewComposer()
	r := c.Compose(flowx.Decision{
		Kind:     flowx.DecisionPromptSlot,
		FlowKind: statex.FlowReturn,
		Slot:     flowx.SlotOrderID,
		Language: "ja",
	})

	if !strings.Contains(r.Text, "注文番号") {
		t.Fatalf("reply %q is not localized to Japanese", r.Text)
	}
}

func TestComposeUnknownLanguageFallsBackToEnglish(t *testing.T) {
	t.Parallel()

	c := NewComposer()
	r := c.Compose(flowx.Decision{Kind: flowx.DecisionMainMenu, Language: "fr"})
	if !strings.Contains(r.Text, "ShopEZ") {
		t.Fatalf("reply %q, want the English menu", r.Text)
	}
}

func TestComposeIneligibleOrderExplains(t *testing.T) {
	t.Parallel()

	c := NewComposer()
	r := c.Compose(flowx.Decision{
		Kind:     flowx.DecisionOrderIneligible,
		FlowKind: statex.FlowCancellation,
		Detail:   "already delivered",
		Language: "en",
	})

	if !strings.Contains(strings.ToLower(r.Text), "return") {
		t.Fatalf("reply %q should point the user at a return", r.Text)
	}
}

func TestComposeProductsCarriesPayload(t *testing.T) {
	t.Parallel()

	c := NewComposer()
	products := []contractx.Product{{ID: "p1", Name: "ZenBook 14"}, {ID: "p2", Name: "ThinkPad X1"}}
	r := c.Compose(flowx.Decision{
		Kind:     flowx.DecisionProducts,
		FlowKind: statex.FlowProductSearch,
		Products: products,
		Language: "en",
	})

	if len(r.Products) != 2 {
		t.Fatalf("products = %d, want 2", len(r.Products))
	}
	if !strings.Contains(r.Text, "2") {
		t.Fatalf("reply %q should state the match count", r.Text)
	}

	empty := c.Compose(flowx.Decision{Kind: flowx.DecisionProducts, Language: "en"})
	if len(empty.Products) != 0 || empty.Text == r.Text {
		t.Fatalf("empty search reply = %+v", empty)
	}
}
