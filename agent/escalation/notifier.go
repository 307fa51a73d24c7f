package escalation

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	qstashx "github.com/shopez/ez-agent/pkg/qstash"
)

// Publisher is the slice of the queue client the notifier needs.
type Publisher interface {
	Publish(ctx context.Context, destination string, payload any) error
}

var _ Publisher = (*qstashx.Client)(nil)

// QStashNotifier hands escalated conversations to the human-agent desk by
// publishing a handoff record to its inbound queue.
type QStashNotifier struct {
	publisher   Publisher
	destination string
	now         func() time.Time
}

type handoffMessage struct {
	ConversationID string    `json:"conversation_id"`
	Reason         string    `json:"reason"`
	EscalatedAt    time.Time `json:"escalated_at"`
}

func NewQStashNotifier(publisher Publisher, destination string) (*QStashNotifier, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if destination == "" {
		return nil, errors.New("handoff destination is required")
	}
	return &QStashNotifier{
		publisher:   publisher,
		destination: destination,
		now:         time.Now,
	}, nil
}

func (n *QStashNotifier) NotifyHandoff(ctx context.Context, conversationID string, reason string) error {
	msg := handoffMessage{
		ConversationID: conversationID,
		Reason:         reason,
		EscalatedAt:    n.now().UTC(),
	}
	if err := n.publisher.Publish(ctx, n.destination, msg); err != nil {
		return err
	}
	log.Info().Str("conversation_id", conversationID).Str("reason", reason).Msg("handoff published")
	return nil
}
