package flow

import (
	"testing"
	"time"

	statex "github.com/shopez/ez-agent/agent/state"
)

func TestResolveStaleDiscardsAbandonedFlow(t *testing.T) {
	t.Parallel()

	now := time.Now()
	conv := statex.NewConversation("conv-1", now.Add(-time.Hour))
	conv.LastActivityAt = now.Add(-time.Hour)
	flow, err := statex.NewFlow("flow-1", statex.FlowReturn, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("NewFlow: %v", err)
	}
	conv.BeginFlow(flow)

	if changed := ResolveStale(conv, 30*time.Minute, now); !changed {
		t.Fatal("stale flow was not resolved")
	}
	if conv.Flow != nil {
		t.Fatalf("flow = %+v, want nil", conv.Flow)
	}
}

func TestResolveStaleExecutingRecordsFailure(t *testing.T) {
	t.Parallel()

	now := time.Now()
	conv := statex.NewConversation("conv-1", now.Add(-time.Hour))
	conv.LastActivityAt = now.Add(-time.Hour)
	flow, err := statex.NewFlow("flow-1", statex.FlowCancellation, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("NewFlow: %v", err)
	}
	if err := flow.Advance(statex.StageAwaitingConfirmation, now.Add(-time.Hour)); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := flow.Advance(statex.StageExecuting, now.Add(-time.Hour)); err != nil {
		t.Fatalf("advance: %v", err)
	}
	conv.BeginFlow(flow)

	if changed := ResolveStale(conv, 30*time.Minute, now); !changed {
		t.Fatal("stale executing flow was not resolved")
	}
	if conv.Flow == nil || conv.Flow.Stage != statex.StageCompleted {
		t.Fatalf("flow = %+v, want completed", conv.Flow)
	}
	if len(conv.Turns) != 1 || conv.Turns[0].Outcome == "" {
		t.Fatalf("turns = %+v, want one outcome turn", conv.Turns)
	}
}

func TestResolveStaleLeavesFreshConversationsAlone(t *testing.T) {
	t.Parallel()

	now := time.Now()
	conv := statex.NewConversation("conv-1", now)
	flow, err := statex.NewFlow("flow-1", statex.FlowReturn, now)
	if err != nil {
		t.Fatalf("NewFlow: %v", err)
	}
	conv.BeginFlow(flow)

	if changed := ResolveStale(conv, 30*time.Minute, now.Add(time.Minute)); changed {
		t.Fatal("fresh conversation was resolved")
	}
	if conv.Flow == nil {
		t.Fatal("active flow was discarded")
	}
}

func TestResolveStaleIgnoresTerminalFlows(t *testing.T) {
	t.Parallel()

	now := time.Now()
	conv := statex.NewConversation("conv-1", now.Add(-time.Hour))
	conv.LastActivityAt = now.Add(-time.Hour)
	flow, err := statex.NewFlow("flow-1", statex.FlowReturn, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("NewFlow: %v", err)
	}
	if err := flow.Advance(statex.StageEscalated, now.Add(-time.Hour)); err != nil {
		t.Fatalf("advance: %v", err)
	}
	conv.BeginFlow(flow)

	if changed := ResolveStale(conv, 30*time.Minute, now); changed {
		t.Fatal("terminal flow was resolved again")
	}
}
