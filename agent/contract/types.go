package contract

import (
	"time"

	statex "github.com/shopez/ez-agent/agent/state"
)

// IntentLabel is the closed classification set. Anything the classifier
// cannot place confidently is forced to IntentUnknown; the engine never
// routes on a guess.
type IntentLabel string

const (
	IntentProductSearch IntentLabel = "product_search"
	IntentCompare       IntentLabel = "compare"
	IntentOrderStatus   IntentLabel = "order_status"
	IntentReturn        IntentLabel = "return"
	IntentCancel        IntentLabel = "cancel"
	IntentWarrantyClaim IntentLabel = "warranty_claim"
	IntentEscalate      IntentLabel = "escalate"
	IntentMainMenu      IntentLabel = "main_menu"
	IntentUnknown       IntentLabel = "unknown"
)

func (l IntentLabel) Valid() bool {
	switch l {
	case IntentProductSearch, IntentCompare, IntentOrderStatus, IntentReturn,
		IntentCancel, IntentWarrantyClaim, IntentEscalate, IntentMainMenu, IntentUnknown:
		return true
	}
	return false
}

// FlowKind maps an actionable intent to the flow it starts. The second
// return is false for labels that do not open a flow (Escalate, MainMenu,
// Unknown, Compare).
func (l IntentLabel) FlowKind() (statex.FlowKind, bool) {
	switch l {
	case IntentProductSearch, IntentCompare:
		// Compare is a catalog lookup too; it rides the product search flow.
		return statex.FlowProductSearch, true
	case IntentOrderStatus:
		return statex.FlowOrderStatus, true
	case IntentReturn:
		return statex.FlowReturn, true
	case IntentCancel:
		return statex.FlowCancellation, true
	case IntentWarrantyClaim:
		return statex.FlowWarrantyClaim, true
	}
	return "", false
}

// Intent is the extractor's per-turn output: classification plus raw,
// unvalidated slot candidates. Ephemeral; consumed by the engine and never
// persisted.
type Intent struct {
	Label      IntentLabel       `json:"label"`
	Confidence float64           `json:"confidence"`
	Slots      map[string]string `json:"slots,omitempty"`
	Language   string            `json:"language,omitempty"`

	// SlotFill marks a low-confidence turn reinterpreted as an answer to the
	// active flow's next missing slot. TargetSlot names that slot.
	SlotFill   bool   `json:"slot_fill,omitempty"`
	TargetSlot string `json:"target_slot,omitempty"`

	// Confirm/Deny are set when the turn reads as a binary confirmation
	// signal while a flow awaits confirmation.
	Confirm bool `json:"confirm,omitempty"`
	Deny    bool `json:"deny,omitempty"`
}

// Classification is the raw output of the classifier backend, before the
// extractor applies thresholds and flow context.
type Classification struct {
	Label      string            `json:"label"`
	Confidence float64           `json:"confidence"`
	Slots      map[string]string `json:"slots,omitempty"`
	Language   string            `json:"language,omitempty"`
}

// Money carries a price with its source currency. The core never converts;
// values pass through to the presentation layer unchanged.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type Product struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Brand  string   `json:"brand,omitempty"`
	RAMGB  int      `json:"ram_gb,omitempty"`
	Price  Money    `json:"price"`
	Colors []string `json:"colors,omitempty"`
}

type OrderStatus string

const (
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

type Order struct {
	ID           string      `json:"id"`
	ProductID    string      `json:"product_id,omitempty"`
	ProductName  string      `json:"product_name"`
	Price        Money       `json:"price"`
	Status       OrderStatus `json:"status"`
	OrderedAt    time.Time   `json:"ordered_at"`
	DeliveredAt  *time.Time  `json:"delivered_at,omitempty"`
	Carrier      string      `json:"carrier,omitempty"`
	TrackingCode string      `json:"tracking_code,omitempty"`
}

type ProductFilters struct {
	Query    string `json:"query,omitempty"`
	Brand    string `json:"brand,omitempty"`
	MaxPrice int64  `json:"max_price,omitempty"`
	MinRAMGB int    `json:"min_ram_gb,omitempty"`
	Color    string `json:"color,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// ReasonCode is the enumerated reason set transactions are normalized to.
// Free text that maps to no code becomes ReasonOther with the verbatim
// wording preserved for human review.
type ReasonCode string

const (
	ReasonBetterPrice     ReasonCode = "better_price"
	ReasonChangedMind     ReasonCode = "changed_mind"
	ReasonOrderedMistake  ReasonCode = "ordered_by_mistake"
	ReasonDeliveryTooLong ReasonCode = "delivery_too_long"
	ReasonDefective       ReasonCode = "defective"
	ReasonWrongItem       ReasonCode = "wrong_item"
	ReasonNotAsDescribed  ReasonCode = "not_as_described"
	ReasonNoLongerNeeded  ReasonCode = "no_longer_needed"
	ReasonBattery         ReasonCode = "battery"
	ReasonScreen          ReasonCode = "screen"
	ReasonPerformance     ReasonCode = "performance"
	ReasonHardware        ReasonCode = "hardware"
	ReasonSoftware        ReasonCode = "software"
	ReasonOther           ReasonCode = "other"
)

// TransactionRequest is the immutable snapshot handed to the gateway once a
// flow reaches Executing. It is derived from a completed flow and not
// retained after execution.
type TransactionRequest struct {
	FlowID     string            `json:"flow_id"`
	Kind       statex.FlowKind   `json:"kind"`
	OrderID    string            `json:"order_id,omitempty"`
	ReasonCode ReasonCode        `json:"reason_code,omitempty"`
	ReasonText string            `json:"reason_text,omitempty"`
	Slots      map[string]string `json:"slots,omitempty"`
	IssuedAt   time.Time         `json:"issued_at"`
}

// Result is the gateway's execution outcome. Failure is a normal result,
// recorded into history; the engine never retries on its own.
type Result struct {
	Success   bool   `json:"success"`
	Detail    string `json:"detail,omitempty"`
	Reference string `json:"reference,omitempty"`
}

// Reply is the composed outbound message: localized text plus the suggested
// quick actions valid for the current state.
type Reply struct {
	Text    string   `json:"text"`
	Actions []Action `json:"actions,omitempty"`

	// Optional structured payloads the presentation layer may render.
	Products []Product `json:"products,omitempty"`
	Order    *Order    `json:"order,omitempty"`
}

type Action string

const (
	ActionConfirm  Action = "confirm"
	ActionDeny     Action = "deny"
	ActionCancel   Action = "cancel"
	ActionMainMenu Action = "main_menu"
)
