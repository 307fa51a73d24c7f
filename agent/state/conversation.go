package state

import (
	"errors"
	"fmt"
	"time"
)

// Conversation is the persistent source-of-truth for one customer dialogue.
// It owns at most one ActiveFlow at a time; the dialogue service guarantees
// single-writer access per conversation id.
type Conversation struct {
	ID       string `json:"id"`
	Language string `json:"language,omitempty"`

	Turns []Turn      `json:"turns,omitempty"`
	Flow  *ActiveFlow `json:"flow,omitempty"`

	// Escalation counters, maintained by the workflow engine and read by the
	// escalation policy.
	ConsecutiveUnknown int    `json:"consecutive_unknown,omitempty"`
	FailingSlot        string `json:"failing_slot,omitempty"`
	SlotFailures       int    `json:"slot_failures,omitempty"`
	GatewayFailures    int    `json:"gateway_failures,omitempty"`

	// Escalated marks the whole conversation as handed off to a human, even
	// when no flow was active at the time. MainMenu hands it back to the bot.
	Escalated bool `json:"escalated,omitempty"`

	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
)

type Turn struct {
	Role TurnRole  `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
	// Outcome records a transaction result attached to this turn, e.g.
	// "return approved ref=REF-1A2B3C4D". Empty for ordinary turns.
	Outcome string `json:"outcome,omitempty"`
}

type FlowKind string

const (
	FlowProductSearch FlowKind = "product_search"
	FlowOrderStatus   FlowKind = "order_status"
	FlowReturn        FlowKind = "return"
	FlowCancellation  FlowKind = "cancellation"
	FlowWarrantyClaim FlowKind = "warranty_claim"
)

func (k FlowKind) Valid() bool {
	switch k {
	case FlowProductSearch, FlowOrderStatus, FlowReturn, FlowCancellation, FlowWarrantyClaim:
		return true
	}
	return false
}

// Transactional reports whether executing the flow has side effects and
// therefore requires explicit user confirmation first.
func (k FlowKind) Transactional() bool {
	switch k {
	case FlowReturn, FlowCancellation, FlowWarrantyClaim:
		return true
	}
	return false
}

type Stage string

const (
	StageCollectingSlots      Stage = "collecting_slots"
	StageAwaitingConfirmation Stage = "awaiting_confirmation"
	StageExecuting            Stage = "executing"
	StageCompleted            Stage = "completed"
	StageEscalated            Stage = "escalated"
)

// stageRank orders stages for the forward-only invariant. Completed and
// Escalated share the top rank: both are terminal, neither follows the other.
func stageRank(s Stage) int {
	switch s {
	case StageCollectingSlots:
		return 0
	case StageAwaitingConfirmation:
		return 1
	case StageExecuting:
		return 2
	case StageCompleted, StageEscalated:
		return 3
	}
	return -1
}

func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageEscalated
}

// SlotValue keeps the user's raw wording next to the normalized value the
// engine validated. Raw is preserved verbatim for human review.
type SlotValue struct {
	Raw        string `json:"raw"`
	Normalized string `json:"normalized"`
	Valid      bool   `json:"valid"`
}

// ActiveFlow is one multi-turn transactional goal. A flow instance only
// moves forward through its stages and is discarded, never rewound.
type ActiveFlow struct {
	ID    string               `json:"id"`
	Kind  FlowKind             `json:"kind"`
	Stage Stage                `json:"stage"`
	Slots map[string]SlotValue `json:"slots,omitempty"`

	// Executed flips when ExecuteTransaction has been issued for this
	// instance. It never resets: the engine invokes the gateway at most once
	// per flow regardless of repeated confirmations.
	Executed bool `json:"executed,omitempty"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var (
	ErrInvalidTransition = errors.New("invalid stage transition")
	ErrFlowTerminal      = errors.New("flow is terminal")
	ErrNoActiveFlow      = errors.New("no active flow")
	ErrUnknownFlowKind   = errors.New("unknown flow kind")
)

func NewFlow(id string, kind FlowKind, now time.Time) (*ActiveFlow, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFlowKind, kind)
	}
	return &ActiveFlow{
		ID:        id,
		Kind:      kind,
		Stage:     StageCollectingSlots,
		Slots:     make(map[string]SlotValue, 4),
		StartedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}, nil
}

func (f *ActiveFlow) SetSlot(name string, v SlotValue) {
	if f.Slots == nil {
		f.Slots = make(map[string]SlotValue, 4)
	}
	f.Slots[name] = v
}

func (f *ActiveFlow) Slot(name string) (SlotValue, bool) {
	if f == nil || f.Slots == nil {
		return SlotValue{}, false
	}
	v, ok := f.Slots[name]
	return v, ok
}

// Advance moves the flow to a strictly later stage. Moving backwards, moving
// out of a terminal stage, and same-stage "moves" all fail.
func (f *ActiveFlow) Advance(to Stage, now time.Time) error {
	if f == nil {
		return ErrNoActiveFlow
	}
	if f.Stage.Terminal() {
		return fmt.Errorf("%w: stage=%s", ErrFlowTerminal, f.Stage)
	}
	from, dest := stageRank(f.Stage), stageRank(to)
	if dest < 0 || dest <= from {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, f.Stage, to)
	}
	f.Stage = to
	f.UpdatedAt = now.UTC()
	return nil
}

func NewConversation(id string, now time.Time) *Conversation {
	return &Conversation{
		ID:             id,
		CreatedAt:      now.UTC(),
		LastActivityAt: now.UTC(),
	}
}

func (c *Conversation) Touch(now time.Time) {
	c.LastActivityAt = now.UTC()
}

func (c *Conversation) AppendTurn(t Turn) {
	c.Turns = append(c.Turns, t)
}

// BeginFlow installs a fresh flow, replacing whatever was active. The caller
// decides whether replacing is legal (topic switch) or a bug.
func (c *Conversation) BeginFlow(f *ActiveFlow) {
	c.Flow = f
}

// AbandonFlow drops the active flow without executing it. Slot data is
// discarded with the flow; history is untouched.
func (c *Conversation) AbandonFlow() {
	c.Flow = nil
}

// RecordIntentOutcome maintains the consecutive-Unknown counter.
func (c *Conversation) RecordIntentOutcome(unknown bool) {
	if unknown {
		c.ConsecutiveUnknown++
		return
	}
	c.ConsecutiveUnknown = 0
}

// RecordSlotFailure tracks repeated validation failures for one slot. The
// streak resets when a different slot fails or any slot validates.
func (c *Conversation) RecordSlotFailure(slot string) {
	if c.FailingSlot != slot {
		c.FailingSlot = slot
		c.SlotFailures = 0
	}
	c.SlotFailures++
}

func (c *Conversation) ResetSlotFailures() {
	c.FailingSlot = ""
	c.SlotFailures = 0
}

func (c *Conversation) Validate() error {
	if c.ID == "" {
		return ErrInvalidConversation
	}
	if c.Flow == nil {
		return nil
	}
	if !c.Flow.Kind.Valid() {
		return fmt.Errorf("%w: flow kind=%q", ErrUnknownFlowKind, c.Flow.Kind)
	}
	if stageRank(c.Flow.Stage) < 0 {
		return fmt.Errorf("%w: flow stage=%q", ErrInvalidTransition, c.Flow.Stage)
	}
	if c.Flow.ID == "" {
		return errors.New("active flow must have an id")
	}
	return nil
}
