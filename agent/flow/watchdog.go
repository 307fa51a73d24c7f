package flow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	statex "github.com/shopez/ez-agent/agent/state"
)

const DefaultInactivityTimeout = 30 * time.Minute

// ResolveStale forces a conversation whose activity is older than the
// timeout out of any non-terminal flow. A flow stuck in Executing resolves
// to a failure outcome; earlier stages are simply discarded. Returns true
// when the conversation was changed.
func ResolveStale(conv *statex.Conversation, timeout time.Duration, now time.Time) bool {
	if conv == nil || conv.Flow == nil || conv.Flow.Stage.Terminal() {
		return false
	}
	if now.Sub(conv.LastActivityAt) < timeout {
		return false
	}

	flow := conv.Flow
	if flow.Stage == statex.StageExecuting {
		// Never leave a transaction in Executing forever: resolve it to a
		// recorded failure the user can see next time.
		_ = flow.Advance(statex.StageCompleted, now)
		conv.AppendTurn(statex.Turn{
			Role:    statex.RoleAssistant,
			Text:    "",
			At:      now.UTC(),
			Outcome: "transaction timed out before completion",
		})
		return true
	}

	conv.AbandonFlow()
	conv.ResetSlotFailures()
	return true
}

// Watchdog sweeps recently active conversations and resolves the ones whose
// flows outlived the inactivity timeout. The dialogue service reports
// activity through Observe; the sweep takes the same per-conversation locks
// as turn processing.
type Watchdog struct {
	store   statex.Store
	locks   *statex.Locks
	timeout time.Duration
	sweep   time.Duration
	now     func() time.Time

	mu     sync.Mutex
	active map[string]time.Time
}

func NewWatchdog(store statex.Store, locks *statex.Locks, timeout, sweep time.Duration) (*Watchdog, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if locks == nil {
		return nil, errors.New("locks are required")
	}
	if timeout <= 0 {
		timeout = DefaultInactivityTimeout
	}
	if sweep <= 0 {
		sweep = timeout / 4
	}
	return &Watchdog{
		store:   store,
		locks:   locks,
		timeout: timeout,
		sweep:   sweep,
		now:     time.Now,
		active:  make(map[string]time.Time),
	}, nil
}

func (w *Watchdog) Timeout() time.Duration {
	return w.timeout
}

// Observe records turn activity for a conversation.
func (w *Watchdog) Observe(conversationID string, at time.Time) {
	w.mu.Lock()
	w.active[conversationID] = at.UTC()
	w.mu.Unlock()
}

// Run sweeps until the context is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.SweepOnce(ctx)
		}
	}
}

// SweepOnce resolves every tracked conversation that has gone stale.
func (w *Watchdog) SweepOnce(ctx context.Context) {
	now := w.now()

	w.mu.Lock()
	stale := make([]string, 0, len(w.active))
	for id, last := range w.active {
		if now.Sub(last) >= w.timeout {
			stale = append(stale, id)
		}
	}
	w.mu.Unlock()

	for _, id := range stale {
		w.resolve(ctx, id, now)
	}
}

func (w *Watchdog) resolve(ctx context.Context, conversationID string, now time.Time) {
	w.locks.Lock(conversationID)
	defer w.locks.Unlock(conversationID)

	conv, err := w.store.Load(ctx, conversationID)
	if err != nil {
		if !errors.Is(err, statex.ErrStateNotFound) {
			log.Warn().Err(err).Str("conversation_id", conversationID).Msg("watchdog load failed")
			return
		}
		// Expired from the store; nothing to resolve.
		w.forget(conversationID)
		return
	}

	if ResolveStale(conv, w.timeout, now) {
		if err := w.store.Save(ctx, conv); err != nil {
			log.Warn().Err(err).Str("conversation_id", conversationID).Msg("watchdog save failed")
			return
		}
		log.Info().Str("conversation_id", conversationID).Msg("stale flow resolved")
	}
	w.forget(conversationID)
}

func (w *Watchdog) forget(conversationID string) {
	w.mu.Lock()
	delete(w.active, conversationID)
	w.mu.Unlock()
}
