package dialogue

import (
	"context"
	"errors"
	"strings"
	"time"

	contractx "github.com/shopez/ez-agent/agent/contract"
	flowx "github.com/shopez/ez-agent/agent/flow"
	statex "github.com/shopez/ez-agent/agent/state"
)

var (
	ErrInvalidMessage      = errors.New("message text is required")
	ErrInvalidConversation = errors.New("conversation id is required")
)

// GraphInput is one inbound user message.
type GraphInput struct {
	ConversationID string
	Text           string
}

// GraphOutput is the turn's final verdict. Pending is non-nil when a
// transaction still has to be executed outside the conversation lock; the
// service finishes the turn through ApplyExecutionResult in that case.
type GraphOutput struct {
	ConversationID string
	Reply          contractx.Reply
	Escalated      bool
	Pending        *PendingExecution
}

// PendingExecution identifies the transaction a confirmed flow is waiting
// on. FlowID guards against applying the result to a superseded flow.
type PendingExecution struct {
	FlowID  string
	Request contractx.TransactionRequest
}

// GraphState threads one turn through the pipeline nodes.
type GraphState struct {
	ConversationID string
	Text           string
	Now            time.Time

	Conv     *statex.Conversation
	Intent   contractx.Intent
	Decision flowx.Decision
	Reply    contractx.Reply
	Pending  *PendingExecution
}

func ValidateRequest(in GraphInput, now func() time.Time) (*GraphState, error) {
	id := strings.TrimSpace(in.ConversationID)
	if id == "" {
		return nil, ErrInvalidConversation
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrInvalidMessage
	}
	return &GraphState{
		ConversationID: id,
		Text:           text,
		Now:            now().UTC(),
	}, nil
}

func LoadOrCreateConversation(ctx context.Context, st *GraphState, store statex.Store) (*GraphState, error) {
	conv, err := store.Load(ctx, st.ConversationID)
	if err != nil {
		if !errors.Is(err, statex.ErrStateNotFound) {
			return nil, err
		}
		conv = statex.NewConversation(st.ConversationID, st.Now)
	}
	st.Conv = conv
	return st, nil
}

// ResolveStaleFlow applies the inactivity timeout lazily, before the turn is
// interpreted. A flow left in Executing resolves to a recorded failure.
func ResolveStaleFlow(st *GraphState, timeout time.Duration) (*GraphState, error) {
	flowx.ResolveStale(st.Conv, timeout, st.Now)
	return st, nil
}

// ClassifyIntent runs the extractor under its own deadline: the call happens
// while the conversation lock is held, so it must not outlive the budget.
func ClassifyIntent(ctx context.Context, st *GraphState, extractor IntentExtractor, timeout time.Duration) (*GraphState, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	st.Intent = extractor.Classify(cctx, st.Text, st.Conv)
	return st, nil
}

// Decide records the user turn and advances the workflow state machine. The
// engine's gateway lookups run under the given deadline for the same reason
// ClassifyIntent does.
func Decide(ctx context.Context, st *GraphState, engine TurnEngine, timeout time.Duration) (*GraphState, error) {
	st.Conv.AppendTurn(statex.Turn{
		Role: statex.RoleUser,
		Text: st.Text,
		At:   st.Now,
	})

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	decision, err := engine.HandleIntent(cctx, st.Conv, st.Intent)
	if err != nil {
		return nil, err
	}
	st.Decision = decision
	st.Conv.Touch(st.Now)
	return st, nil
}

// ComposeReply renders the decision and records the assistant turn. A
// pending execution produces no reply yet; the service composes it after the
// gateway call.
func ComposeReply(st *GraphState, composer ReplyComposer) (*GraphState, error) {
	if st.Decision.Kind == flowx.DecisionExecutePending {
		st.Pending = &PendingExecution{
			FlowID:  st.Conv.Flow.ID,
			Request: *st.Decision.Request,
		}
		return st, nil
	}

	st.Reply = composer.Compose(st.Decision)
	st.Conv.AppendTurn(assistantTurn(st.Reply, st.Decision, st.Now))
	return st, nil
}

func SaveConversation(ctx context.Context, st *GraphState, store statex.Store) (*GraphState, error) {
	if err := st.Conv.Validate(); err != nil {
		return nil, err
	}
	if err := store.Save(ctx, st.Conv); err != nil {
		return nil, err
	}
	return st, nil
}

func FinalizeReply(st *GraphState) (GraphOutput, error) {
	return GraphOutput{
		ConversationID: st.ConversationID,
		Reply:          st.Reply,
		Escalated:      st.Decision.Kind == flowx.DecisionEscalated,
		Pending:        st.Pending,
	}, nil
}

func assistantTurn(reply contractx.Reply, decision flowx.Decision, now time.Time) statex.Turn {
	turn := statex.Turn{
		Role: statex.RoleAssistant,
		Text: reply.Text,
		At:   now.UTC(),
	}
	if decision.Kind == flowx.DecisionExecuted && decision.Outcome != nil {
		if decision.Outcome.Success {
			turn.Outcome = "transaction succeeded ref=" + decision.Outcome.Reference
		} else {
			turn.Outcome = "transaction failed: " + decision.Outcome.Detail
		}
	}
	return turn
}
