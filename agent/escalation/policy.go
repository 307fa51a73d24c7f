package escalation

import (
	statex "github.com/shopez/ez-agent/agent/state"
)

// Policy decides when a conversation must be handed to a human agent. It is
// a pure function over conversation counters; the workflow engine performs
// the actual transition. Explicit user requests bypass the policy entirely
// (the extractor classifies them as an Escalate intent).
type Policy struct {
	// MaxUnknownTurns: consecutive turns the classifier could not place.
	MaxUnknownTurns int
	// MaxSlotFailures: consecutive validation failures on the same slot.
	MaxSlotFailures int
	// MaxGatewayFailures: transaction execution failures within one
	// conversation.
	MaxGatewayFailures int
}

func DefaultPolicy() Policy {
	return Policy{
		MaxUnknownTurns:    3,
		MaxSlotFailures:    3,
		MaxGatewayFailures: 2,
	}
}

func (p Policy) ShouldEscalate(conv *statex.Conversation) bool {
	if conv == nil {
		return false
	}
	if p.MaxUnknownTurns > 0 && conv.ConsecutiveUnknown >= p.MaxUnknownTurns {
		return true
	}
	if p.MaxSlotFailures > 0 && conv.SlotFailures >= p.MaxSlotFailures {
		return true
	}
	if p.MaxGatewayFailures > 0 && conv.GatewayFailures >= p.MaxGatewayFailures {
		return true
	}
	return false
}
