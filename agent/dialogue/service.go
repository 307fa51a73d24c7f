package dialogue

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"

	contractx "github.com/shopez/ez-agent/agent/contract"
	flowx "github.com/shopez/ez-agent/agent/flow"
	nlux "github.com/shopez/ez-agent/agent/nlu"
	replyx "github.com/shopez/ez-agent/agent/reply"
	statex "github.com/shopez/ez-agent/agent/state"
)

// IntentExtractor turns raw user text into an Intent, using the active flow
// for context.
type IntentExtractor interface {
	Classify(ctx context.Context, text string, conv *statex.Conversation) contractx.Intent
}

// TurnEngine is the workflow state machine the service drives.
type TurnEngine interface {
	HandleIntent(ctx context.Context, conv *statex.Conversation, intent contractx.Intent) (flowx.Decision, error)
	ApplyExecutionResult(conv *statex.Conversation, flowID string, res contractx.Result, execErr error) (flowx.Decision, error)
}

// ReplyComposer renders an engine decision into the outbound reply.
type ReplyComposer interface {
	Compose(d flowx.Decision) contractx.Reply
}

var (
	_ IntentExtractor = (*nlux.Extractor)(nil)
	_ TurnEngine      = (*flowx.Engine)(nil)
	_ ReplyComposer   = (*replyx.Composer)(nil)
)

// Service processes conversation turns end to end: lock, load, classify,
// decide, compose, save. It is the single writer per conversation id and the
// only component that calls ExecuteTransaction, always outside the lock.
type Service struct {
	store     statex.Store
	locks     *statex.Locks
	extractor IntentExtractor
	engine    TurnEngine
	composer  ReplyComposer
	gateway   contractx.LookupGateway
	notifier  contractx.HandoffNotifier
	watchdog  *flowx.Watchdog

	graphRunner compose.Runnable[GraphInput, GraphOutput]

	timeout         time.Duration
	classifyTimeout time.Duration
	decideTimeout   time.Duration
	now             func() time.Time
}

// Default deadlines for the calls made while the conversation lock is held.
// Without them a hung classifier backend or database would pin the lock and
// stall every later turn of the conversation.
const (
	DefaultClassifyTimeout = 30 * time.Second
	DefaultDecideTimeout   = 10 * time.Second
)

type Config struct {
	// InactivityTimeout after which an unfinished flow is resolved. Zero
	// means the default.
	InactivityTimeout time.Duration

	// ClassifyTimeout bounds the classifier backend call made under the
	// conversation lock. Zero means the default.
	ClassifyTimeout time.Duration

	// DecideTimeout bounds the gateway lookups the engine makes under the
	// conversation lock. Zero means the default.
	DecideTimeout time.Duration
}

// New wires the turn pipeline. locks must be the same instance the watchdog
// sweeps with, so stale-flow resolution serializes against turn processing.
func New(
	store statex.Store,
	locks *statex.Locks,
	extractor IntentExtractor,
	engine TurnEngine,
	composer ReplyComposer,
	gateway contractx.LookupGateway,
	notifier contractx.HandoffNotifier,
	watchdog *flowx.Watchdog,
	cfg Config,
) (*Service, error) {
	if store == nil {
		return nil, errors.New("state store is required")
	}
	if locks == nil {
		locks = statex.NewLocks()
	}
	if extractor == nil {
		return nil, errors.New("intent extractor is required")
	}
	if engine == nil {
		return nil, errors.New("turn engine is required")
	}
	if composer == nil {
		return nil, errors.New("reply composer is required")
	}
	if gateway == nil {
		return nil, errors.New("lookup gateway is required")
	}

	timeout := cfg.InactivityTimeout
	if timeout <= 0 {
		timeout = flowx.DefaultInactivityTimeout
	}
	classifyTimeout := cfg.ClassifyTimeout
	if classifyTimeout <= 0 {
		classifyTimeout = DefaultClassifyTimeout
	}
	decideTimeout := cfg.DecideTimeout
	if decideTimeout <= 0 {
		decideTimeout = DefaultDecideTimeout
	}

	s := &Service{
		store:           store,
		locks:           locks,
		extractor:       extractor,
		engine:          engine,
		composer:        composer,
		gateway:         gateway,
		notifier:        notifier,
		watchdog:        watchdog,
		timeout:         timeout,
		classifyTimeout: classifyTimeout,
		decideTimeout:   decideTimeout,
		now:             time.Now,
	}

	graphRunner, err := s.compileHandleMessageGraph(context.Background())
	if err != nil {
		return nil, err
	}
	s.graphRunner = graphRunner

	return s, nil
}

// HandleMessage processes one user message and returns the reply. When the
// turn confirms a transaction, the gateway call happens here, after the
// conversation lock is released, and the outcome is applied in a second
// locked section.
func (s *Service) HandleMessage(ctx context.Context, conversationID string, text string) (contractx.Reply, error) {
	s.locks.Lock(conversationID)
	out, err := s.graphRunner.Invoke(ctx, GraphInput{
		ConversationID: conversationID,
		Text:           text,
	})
	s.locks.Unlock(conversationID)
	if err != nil {
		return contractx.Reply{}, err
	}

	if s.watchdog != nil {
		s.watchdog.Observe(out.ConversationID, s.now())
	}

	reply := out.Reply
	escalated := out.Escalated

	if out.Pending != nil {
		res, execErr := s.gateway.ExecuteTransaction(ctx, out.Pending.Request)
		reply, escalated, err = s.finishExecution(ctx, out.ConversationID, out.Pending.FlowID, res, execErr)
		if err != nil {
			return contractx.Reply{}, err
		}
	}

	if escalated {
		s.notifyHandoff(ctx, out.ConversationID)
	}

	return reply, nil
}

// finishExecution applies the gateway verdict under a fresh lock. The flow
// may have been resolved or escalated while the call was in flight; the
// engine detects that through the flow instance id.
func (s *Service) finishExecution(ctx context.Context, conversationID, flowID string, res contractx.Result, execErr error) (contractx.Reply, bool, error) {
	s.locks.Lock(conversationID)
	defer s.locks.Unlock(conversationID)

	conv, err := s.store.Load(ctx, conversationID)
	if err != nil {
		return contractx.Reply{}, false, err
	}

	decision, err := s.engine.ApplyExecutionResult(conv, flowID, res, execErr)
	if err != nil {
		return contractx.Reply{}, false, err
	}

	now := s.now()
	reply := s.composer.Compose(decision)
	conv.AppendTurn(assistantTurn(reply, decision, now))
	conv.Touch(now)

	if err := s.store.Save(ctx, conv); err != nil {
		return contractx.Reply{}, false, err
	}
	return reply, decision.Kind == flowx.DecisionEscalated, nil
}

// notifyHandoff publishes the escalation to the human-agent desk. The reply
// already told the user; a publish failure is logged, not surfaced.
func (s *Service) notifyHandoff(ctx context.Context, conversationID string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyHandoff(ctx, conversationID, "conversation escalated"); err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("handoff notification failed")
	}
}
