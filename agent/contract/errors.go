package contract

import "errors"

var (
	// ErrClassificationUncertain: confidence fell below the threshold. The
	// turn degrades to a clarification prompt, never a guessed route.
	ErrClassificationUncertain = errors.New("classification confidence too low")

	// ErrSlotValidationFailed: a slot value did not validate. The engine
	// re-prompts for the same slot; repeats feed the escalation policy.
	ErrSlotValidationFailed = errors.New("slot validation failed")

	// ErrGatewayUnavailable: the lookup gateway could not be reached or
	// rejected the call transiently.
	ErrGatewayUnavailable = errors.New("gateway unavailable")

	// ErrUnknownIntent: no actionable intent and no slot-fill interpretation.
	ErrUnknownIntent = errors.New("unknown intent")

	ErrOrderNotFound = errors.New("order not found")
	ErrValidation    = errors.New("validation failed")
)
