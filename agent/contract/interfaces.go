package contract

import "context"

// Classifier is the intent classification backend. Implementations may call
// a language model; callers must assume unbounded latency and pass a
// deadline-carrying context.
type Classifier interface {
	ClassifyText(ctx context.Context, text string, languageHint string) (Classification, error)
}

// LookupGateway abstracts catalog and order retrieval plus transaction
// execution. SearchProducts and GetOrder are idempotent and safe to retry;
// ExecuteTransaction is not, and the engine invokes it at most once per flow
// instance.
type LookupGateway interface {
	SearchProducts(ctx context.Context, filters ProductFilters) ([]Product, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ExecuteTransaction(ctx context.Context, req TransactionRequest) (Result, error)
}

// HandoffNotifier delivers an escalated conversation to the human-agent
// channel. The policy decides when; this is only the how.
type HandoffNotifier interface {
	NotifyHandoff(ctx context.Context, conversationID string, reason string) error
}
