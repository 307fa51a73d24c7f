package state

import (
	"errors"
	"testing"
	"time"
)

func TestFlowAdvanceForwardOnly(t *testing.T) {
	t.Parallel()

	now := time.Now()
	f, err := NewFlow("flow-1", FlowReturn, now)
	if err != nil {
		t.Fatalf("NewFlow: %v", err)
	}

	if err := f.Advance(StageAwaitingConfirmation, now); err != nil {
		t.Fatalf("advance to awaiting_confirmation: %v", err)
	}
	if err := f.Advance(StageCollectingSlots, now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("backwards advance: got %v, want ErrInvalidTransition", err)
	}
	if err := f.Advance(StageAwaitingConfirmation, now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("same-stage advance: got %v, want ErrInvalidTransition", err)
	}
	if err := f.Advance(StageExecuting, now); err != nil {
		t.Fatalf("advance to executing: %v", err)
	}
	if err := f.Advance(StageCompleted, now); err != nil {
		t.Fatalf("advance to completed: %v", err)
	}
	if err := f.Advance(StageEscalated, now); !errors.Is(err, ErrFlowTerminal) {
		t.Fatalf("advance out of terminal: got %v, want ErrFlowTerminal", err)
	}
}

func TestFlowAdvanceSkipsStages(t *testing.T) {
	t.Parallel()

	now := time.Now()
	f, err := NewFlow("flow-1", FlowOrderStatus, now)
	if err != nil {
		t.Fatalf("NewFlow: %v", err)
	}

	// Lookup flows jump straight from collecting to executing.
	if err := f.Advance(StageExecuting, now); err != nil {
		t.Fatalf("skip awaiting_confirmation: %v", err)
	}
	// Escalation can terminate any non-terminal stage.
	if err := f.Advance(StageEscalated, now); err != nil {
		t.Fatalf("escalate from executing: %v", err)
	}
	if !f.Stage.Terminal() {
		t.Fatalf("stage %s should be terminal", f.Stage)
	}
}

func TestNewFlowRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	if _, err := NewFlow("flow-1", FlowKind("pizza_delivery"), time.Now()); !errors.Is(err, ErrUnknownFlowKind) {
		t.Fatalf("got %v, want ErrUnknownFlowKind", err)
	}
}

func TestRecordSlotFailureResetsOnDifferentSlot(t *testing.T) {
	t.Parallel()

	conv := NewConversation("conv-1", time.Now())

	conv.RecordSlotFailure("order_id")
	conv.RecordSlotFailure("order_id")
	if conv.SlotFailures != 2 {
		t.Fatalf("SlotFailures = %d, want 2", conv.SlotFailures)
	}

	conv.RecordSlotFailure("reason")
	if conv.SlotFailures != 1 {
		t.Fatalf("SlotFailures after slot change = %d, want 1", conv.SlotFailures)
	}
	if conv.FailingSlot != "reason" {
		t.Fatalf("FailingSlot = %q, want reason", conv.FailingSlot)
	}

	conv.ResetSlotFailures()
	if conv.SlotFailures != 0 || conv.FailingSlot != "" {
		t.Fatalf("reset left %d/%q", conv.SlotFailures, conv.FailingSlot)
	}
}

func TestRecordIntentOutcome(t *testing.T) {
	t.Parallel()

	conv := NewConversation("conv-1", time.Now())

	conv.RecordIntentOutcome(true)
	conv.RecordIntentOutcome(true)
	if conv.ConsecutiveUnknown != 2 {
		t.Fatalf("ConsecutiveUnknown = %d, want 2", conv.ConsecutiveUnknown)
	}
	conv.RecordIntentOutcome(false)
	if conv.ConsecutiveUnknown != 0 {
		t.Fatalf("ConsecutiveUnknown after understood turn = %d, want 0", conv.ConsecutiveUnknown)
	}
}

func TestConversationValidate(t *testing.T) {
	t.Parallel()

	now := time.Now()

	conv := NewConversation("", now)
	if err := conv.Validate(); !errors.Is(err, ErrInvalidConversation) {
		t.Fatalf("empty id: got %v, want ErrInvalidConversation", err)
	}

	conv = NewConversation("conv-1", now)
	if err := conv.Validate(); err != nil {
		t.Fatalf("flowless conversation: %v", err)
	}

	conv.Flow = &ActiveFlow{ID: "flow-1", Kind: FlowKind("bogus"), Stage: StageCollectingSlots}
	if err := conv.Validate(); !errors.Is(err, ErrUnknownFlowKind) {
		t.Fatalf("bogus kind: got %v, want ErrUnknownFlowKind", err)
	}

	conv.Flow = &ActiveFlow{ID: "", Kind: FlowReturn, Stage: StageCollectingSlots}
	if err := conv.Validate(); err == nil {
		t.Fatal("flow without id should not validate")
	}
}
