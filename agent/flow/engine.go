package flow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	contractx "github.com/shopez/ez-agent/agent/contract"
	statex "github.com/shopez/ez-agent/agent/state"
)

// topicSwitchConfidence is the minimum confidence for a different actionable
// intent to abandon the flow in progress. Below it the turn is treated as
// noise or a slot answer, never a switch.
const topicSwitchConfidence = 0.75

// Policy is the escalation decision function consulted before and after
// state transitions. Pure; the engine performs the actual transition.
type Policy interface {
	ShouldEscalate(conv *statex.Conversation) bool
}

type DecisionKind string

const (
	DecisionClarify         DecisionKind = "clarify"
	DecisionMainMenu        DecisionKind = "main_menu"
	DecisionPromptSlot      DecisionKind = "prompt_slot"
	DecisionRepromptSlot    DecisionKind = "reprompt_slot"
	DecisionOrderIneligible DecisionKind = "order_ineligible"
	DecisionAskConfirmation DecisionKind = "ask_confirmation"
	DecisionFlowDiscarded   DecisionKind = "flow_discarded"
	DecisionExecutePending  DecisionKind = "execute_pending"
	DecisionExecuted        DecisionKind = "executed"
	DecisionProducts        DecisionKind = "products"
	DecisionOrderDetails    DecisionKind = "order_details"
	DecisionSuperseded      DecisionKind = "superseded"
	DecisionEscalated       DecisionKind = "escalated"
)

// Decision is the engine's verdict for one turn, rendered by the composer.
type Decision struct {
	Kind     DecisionKind
	FlowKind statex.FlowKind
	Language string

	// Slot being prompted for, when Kind is PromptSlot/RepromptSlot.
	Slot string

	// Request is set for DecisionExecutePending: the service must issue it
	// outside the conversation lock and feed the result back through
	// ApplyExecutionResult.
	Request *contractx.TransactionRequest

	// Outcome is set for DecisionExecuted.
	Outcome *contractx.Result

	Products []contractx.Product
	Order    *contractx.Order

	// Detail carries a business-rule explanation, e.g. why an order is
	// ineligible for cancellation.
	Detail string
}

// Engine is the transaction workflow state machine. It mutates the
// conversation it is given; the caller owns locking and persistence.
type Engine struct {
	gateway contractx.LookupGateway
	catalog *Catalog
	reasons *ReasonTable
	policy  Policy

	newID func() string
	now   func() time.Time
}

func NewEngine(gateway contractx.LookupGateway, catalog *Catalog, reasons *ReasonTable, policy Policy) (*Engine, error) {
	if gateway == nil {
		return nil, errors.New("lookup gateway is required")
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if reasons == nil {
		reasons = DefaultReasonTable()
	}
	if policy == nil {
		return nil, errors.New("escalation policy is required")
	}
	return &Engine{
		gateway: gateway,
		catalog: catalog,
		reasons: reasons,
		policy:  policy,
		newID:   uuid.NewString,
		now:     time.Now,
	}, nil
}

// Catalog exposes the slot plan, e.g. for the extractor's slot-fill targeting.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// HandleIntent advances the conversation's state machine by one turn.
// Called with the per-conversation lock held. It never invokes
// ExecuteTransaction itself; that surfaces as DecisionExecutePending.
func (e *Engine) HandleIntent(ctx context.Context, conv *statex.Conversation, intent contractx.Intent) (Decision, error) {
	if conv == nil {
		return Decision{}, statex.ErrNilConversation
	}
	now := e.now()
	if intent.Language != "" {
		conv.Language = intent.Language
	}
	lang := conv.Language

	// Terminal flows are cleared lazily on the next turn.
	if conv.Flow != nil && conv.Flow.Stage.Terminal() {
		conv.Flow = nil
	}

	switch intent.Label {
	case contractx.IntentMainMenu:
		conv.AbandonFlow()
		conv.ResetSlotFailures()
		conv.ConsecutiveUnknown = 0
		conv.Escalated = false
		return Decision{Kind: DecisionMainMenu, Language: lang}, nil
	case contractx.IntentEscalate:
		conv.RecordIntentOutcome(false)
		return e.escalate(conv, now, lang), nil
	}

	if conv.Escalated {
		// Already handed off; keep replying with the handoff notice until
		// the user explicitly returns to the menu.
		return Decision{Kind: DecisionEscalated, Language: lang}, nil
	}

	switchKind, actionable := intent.Label.FlowKind()

	if conv.Flow == nil {
		if actionable {
			conv.RecordIntentOutcome(false)
			return e.startFlow(ctx, conv, switchKind, intent, now)
		}
		conv.RecordIntentOutcome(intent.Label == contractx.IntentUnknown)
		if e.policy.ShouldEscalate(conv) {
			return e.escalate(conv, now, lang), nil
		}
		return Decision{Kind: DecisionClarify, Language: lang}, nil
	}

	flow := conv.Flow

	// Topic switch: a different actionable kind at high confidence abandons
	// the current flow without executing it. Slot-fill wins the tie only
	// within the same flow kind.
	if actionable && switchKind != flow.Kind && intent.Confidence >= topicSwitchConfidence {
		log.Debug().
			Str("conversation_id", conv.ID).
			Str("from", string(flow.Kind)).
			Str("to", string(switchKind)).
			Msg("topic switch, abandoning flow")
		conv.AbandonFlow()
		conv.ResetSlotFailures()
		conv.RecordIntentOutcome(false)
		return e.startFlow(ctx, conv, switchKind, intent, now)
	}

	switch flow.Stage {
	case statex.StageCollectingSlots:
		return e.collectSlots(ctx, conv, flow, intent, now)
	case statex.StageAwaitingConfirmation:
		return e.handleConfirmation(conv, flow, intent, now)
	case statex.StageExecuting:
		// A previous execute is still in flight; nothing to advance here.
		return Decision{Kind: DecisionSuperseded, FlowKind: flow.Kind, Language: lang}, nil
	}

	return Decision{}, fmt.Errorf("%w: stage=%q", statex.ErrInvalidTransition, flow.Stage)
}

func (e *Engine) startFlow(ctx context.Context, conv *statex.Conversation, kind statex.FlowKind, intent contractx.Intent, now time.Time) (Decision, error) {
	flow, err := statex.NewFlow(e.newID(), kind, now)
	if err != nil {
		return Decision{}, err
	}
	conv.BeginFlow(flow)
	conv.ResetSlotFailures()

	// Seed slots from the intent's raw candidates; a single rich message can
	// fill several slots in one turn.
	for _, name := range e.catalog.RequiredSlots(kind) {
		if raw, ok := intent.Slots[name]; ok && strings.TrimSpace(raw) != "" {
			flow.SetSlot(name, statex.SlotValue{Raw: raw})
		}
	}
	// Optional filter slots (budget, brand, ram, color) ride along for
	// product search.
	if kind == statex.FlowProductSearch {
		for _, name := range []string{"max_price", "brand", "ram", "color"} {
			if raw, ok := intent.Slots[name]; ok && strings.TrimSpace(raw) != "" {
				flow.SetSlot(name, statex.SlotValue{Raw: raw, Normalized: raw, Valid: true})
			}
		}
	}

	return e.collectSlots(ctx, conv, flow, intent, now)
}

// collectSlots validates pending candidates in catalog order and emits a
// prompt for exactly the next missing slot, or advances the stage when all
// required slots hold valid values.
func (e *Engine) collectSlots(ctx context.Context, conv *statex.Conversation, flow *statex.ActiveFlow, intent contractx.Intent, now time.Time) (Decision, error) {
	lang := conv.Language

	// Merge new candidates from this turn.
	for _, name := range e.catalog.RequiredSlots(flow.Kind) {
		if v, ok := flow.Slot(name); ok && v.Valid {
			continue
		}
		if raw, ok := intent.Slots[name]; ok && strings.TrimSpace(raw) != "" {
			flow.SetSlot(name, statex.SlotValue{Raw: raw})
		}
	}
	if intent.SlotFill && intent.TargetSlot != "" {
		if raw, ok := intent.Slots[intent.TargetSlot]; ok {
			if v, has := flow.Slot(intent.TargetSlot); !has || !v.Valid {
				flow.SetSlot(intent.TargetSlot, statex.SlotValue{Raw: raw})
			}
		}
	}

	for _, name := range e.catalog.RequiredSlots(flow.Kind) {
		v, ok := flow.Slot(name)
		if ok && v.Valid {
			continue
		}
		if !ok || strings.TrimSpace(v.Raw) == "" {
			// Nothing offered yet: prompt for exactly this slot.
			flow.UpdatedAt = now.UTC()
			return Decision{Kind: DecisionPromptSlot, FlowKind: flow.Kind, Slot: name, Language: lang}, nil
		}

		verdict := e.validateSlot(ctx, flow.Kind, name, v.Raw)
		switch {
		case verdict.err != nil:
			if errors.Is(verdict.err, contractx.ErrGatewayUnavailable) {
				// The backend being down is not the user's fault: keep the
				// candidate for the next turn and answer conversationally.
				log.Warn().
					Err(verdict.err).
					Str("conversation_id", conv.ID).
					Str("slot", name).
					Msg("slot validation hit a gateway outage")
				conv.GatewayFailures++
				if e.policy.ShouldEscalate(conv) {
					return e.escalate(conv, now, lang), nil
				}
				return Decision{
					Kind:     DecisionRepromptSlot,
					FlowKind: flow.Kind,
					Slot:     name,
					Detail:   "temporary failure",
					Language: lang,
				}, nil
			}
			return Decision{}, verdict.err
		case verdict.ineligible:
			// Business rule rejection is final for this flow instance.
			conv.AbandonFlow()
			conv.ResetSlotFailures()
			return Decision{
				Kind:     DecisionOrderIneligible,
				FlowKind: flow.Kind,
				Slot:     name,
				Detail:   verdict.detail,
				Language: lang,
			}, nil
		case !verdict.valid:
			flow.SetSlot(name, statex.SlotValue{Raw: v.Raw})
			conv.RecordSlotFailure(name)
			if e.policy.ShouldEscalate(conv) {
				return e.escalate(conv, now, lang), nil
			}
			return Decision{
				Kind:     DecisionRepromptSlot,
				FlowKind: flow.Kind,
				Slot:     name,
				Detail:   verdict.detail,
				Language: lang,
			}, nil
		default:
			flow.SetSlot(name, statex.SlotValue{Raw: v.Raw, Normalized: verdict.normalized, Valid: true})
			conv.ResetSlotFailures()
		}
	}

	// All required slots valid.
	if flow.Kind.Transactional() {
		if err := flow.Advance(statex.StageAwaitingConfirmation, now); err != nil {
			return Decision{}, err
		}
		return Decision{Kind: DecisionAskConfirmation, FlowKind: flow.Kind, Language: lang}, nil
	}

	// Lookup flows have no side effects and need no confirmation.
	if err := flow.Advance(statex.StageExecuting, now); err != nil {
		return Decision{}, err
	}
	return e.executeLookup(ctx, conv, flow, now)
}

type slotVerdict struct {
	valid      bool
	ineligible bool
	normalized string
	detail     string
	err        error
}

func (e *Engine) validateSlot(ctx context.Context, kind statex.FlowKind, name, raw string) slotVerdict {
	switch name {
	case SlotOrderID:
		return e.validateOrderID(ctx, kind, raw)
	case SlotReason:
		code, _ := e.reasons.Map(kind, raw)
		return slotVerdict{valid: true, normalized: string(code)}
	case SlotQuery:
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			return slotVerdict{detail: "empty query"}
		}
		return slotVerdict{valid: true, normalized: trimmed}
	default:
		return slotVerdict{valid: true, normalized: strings.TrimSpace(raw)}
	}
}

// validateOrderID checks the order exists and is eligible for the requested
// flow: cancellation is impossible once delivered; returns and warranty
// claims require delivery.
func (e *Engine) validateOrderID(ctx context.Context, kind statex.FlowKind, raw string) slotVerdict {
	id := normalizeOrderID(raw)
	if id == "" {
		return slotVerdict{detail: "order id missing"}
	}

	order, err := e.gateway.GetOrder(ctx, id)
	if err != nil {
		if errors.Is(err, contractx.ErrOrderNotFound) {
			return slotVerdict{detail: "order not found"}
		}
		return slotVerdict{err: fmt.Errorf("%w: get order %s: %v", contractx.ErrGatewayUnavailable, id, err)}
	}

	delivered := order.Status == contractx.OrderDelivered
	switch kind {
	case statex.FlowCancellation:
		if delivered {
			return slotVerdict{ineligible: true, detail: "already delivered"}
		}
	case statex.FlowReturn, statex.FlowWarrantyClaim:
		if !delivered {
			return slotVerdict{ineligible: true, detail: "not delivered yet"}
		}
	}
	return slotVerdict{valid: true, normalized: id}
}

func (e *Engine) handleConfirmation(conv *statex.Conversation, flow *statex.ActiveFlow, intent contractx.Intent, now time.Time) (Decision, error) {
	lang := conv.Language

	switch {
	case intent.Deny:
		conv.AbandonFlow()
		conv.ResetSlotFailures()
		conv.RecordIntentOutcome(false)
		return Decision{Kind: DecisionFlowDiscarded, FlowKind: flow.Kind, Language: lang}, nil
	case intent.Confirm:
		conv.RecordIntentOutcome(false)
		if flow.Executed {
			// Repeated confirm signals never re-execute.
			return Decision{Kind: DecisionSuperseded, FlowKind: flow.Kind, Language: lang}, nil
		}
		if err := flow.Advance(statex.StageExecuting, now); err != nil {
			return Decision{}, err
		}
		flow.Executed = true
		req := e.buildRequest(flow, now)
		return Decision{Kind: DecisionExecutePending, FlowKind: flow.Kind, Request: &req, Language: lang}, nil
	default:
		// Neither confirm nor deny: re-ask, and let repeated confusion feed
		// the escalation policy.
		conv.RecordIntentOutcome(true)
		if e.policy.ShouldEscalate(conv) {
			return e.escalate(conv, now, lang), nil
		}
		return Decision{Kind: DecisionAskConfirmation, FlowKind: flow.Kind, Detail: "reprompt", Language: lang}, nil
	}
}

func (e *Engine) buildRequest(flow *statex.ActiveFlow, now time.Time) contractx.TransactionRequest {
	slots := make(map[string]string, len(flow.Slots))
	for name, v := range flow.Slots {
		slots[name] = v.Normalized
	}

	req := contractx.TransactionRequest{
		FlowID:   flow.ID,
		Kind:     flow.Kind,
		Slots:    slots,
		IssuedAt: now.UTC(),
	}
	if v, ok := flow.Slot(SlotOrderID); ok {
		req.OrderID = v.Normalized
	}
	if v, ok := flow.Slot(SlotReason); ok {
		req.ReasonCode = contractx.ReasonCode(v.Normalized)
		req.ReasonText = v.Raw
	}
	return req
}

// ApplyExecutionResult records the gateway's verdict after the out-of-lock
// ExecuteTransaction call. The flow may have been abandoned or escalated in
// the interim; the instance id guards against applying a stale result.
func (e *Engine) ApplyExecutionResult(conv *statex.Conversation, flowID string, res contractx.Result, execErr error) (Decision, error) {
	if conv == nil {
		return Decision{}, statex.ErrNilConversation
	}
	now := e.now()
	lang := conv.Language

	flow := conv.Flow
	if flow == nil || flow.ID != flowID || flow.Stage != statex.StageExecuting {
		log.Warn().
			Str("conversation_id", conv.ID).
			Str("flow_id", flowID).
			Msg("execution result arrived for a superseded flow")
		return Decision{Kind: DecisionSuperseded, Language: lang}, nil
	}

	if execErr != nil {
		conv.GatewayFailures++
		if e.policy.ShouldEscalate(conv) {
			return e.escalate(conv, now, lang), nil
		}
		if err := flow.Advance(statex.StageCompleted, now); err != nil {
			return Decision{}, err
		}
		outcome := contractx.Result{Success: false, Detail: "temporary failure"}
		return Decision{Kind: DecisionExecuted, FlowKind: flow.Kind, Outcome: &outcome, Language: lang}, nil
	}

	if err := flow.Advance(statex.StageCompleted, now); err != nil {
		return Decision{}, err
	}
	outcome := res
	return Decision{Kind: DecisionExecuted, FlowKind: flow.Kind, Outcome: &outcome, Language: lang}, nil
}

// executeLookup runs side-effect-free flows (product search, order status)
// to completion within the turn. These gateway calls are idempotent and run
// under the caller's deadline.
func (e *Engine) executeLookup(ctx context.Context, conv *statex.Conversation, flow *statex.ActiveFlow, now time.Time) (Decision, error) {
	lang := conv.Language

	switch flow.Kind {
	case statex.FlowProductSearch:
		filters := buildFilters(flow)
		products, err := e.gateway.SearchProducts(ctx, filters)
		if err != nil {
			if advErr := flow.Advance(statex.StageCompleted, now); advErr != nil {
				return Decision{}, advErr
			}
			outcome := contractx.Result{Success: false, Detail: "temporary failure"}
			return Decision{Kind: DecisionExecuted, FlowKind: flow.Kind, Outcome: &outcome, Language: lang}, nil
		}
		if err := flow.Advance(statex.StageCompleted, now); err != nil {
			return Decision{}, err
		}
		return Decision{Kind: DecisionProducts, FlowKind: flow.Kind, Products: products, Language: lang}, nil

	case statex.FlowOrderStatus:
		v, _ := flow.Slot(SlotOrderID)
		order, err := e.gateway.GetOrder(ctx, v.Normalized)
		if err != nil {
			if advErr := flow.Advance(statex.StageCompleted, now); advErr != nil {
				return Decision{}, advErr
			}
			outcome := contractx.Result{Success: false, Detail: "temporary failure"}
			return Decision{Kind: DecisionExecuted, FlowKind: flow.Kind, Outcome: &outcome, Language: lang}, nil
		}
		if err := flow.Advance(statex.StageCompleted, now); err != nil {
			return Decision{}, err
		}
		return Decision{Kind: DecisionOrderDetails, FlowKind: flow.Kind, Order: &order, Language: lang}, nil
	}

	return Decision{}, fmt.Errorf("%w: lookup for kind=%q", statex.ErrUnknownFlowKind, flow.Kind)
}

// escalate transitions to the terminal Escalated state, discarding in-flight
// slot data but preserving history.
func (e *Engine) escalate(conv *statex.Conversation, now time.Time, lang string) Decision {
	kind := statex.FlowKind("")
	if flow := conv.Flow; flow != nil && !flow.Stage.Terminal() {
		kind = flow.Kind
		flow.Slots = nil
		// Advance is forward-only and Escalated tops every non-terminal
		// stage, so this cannot fail for a non-terminal flow.
		_ = flow.Advance(statex.StageEscalated, now)
	}
	conv.Escalated = true
	conv.ResetSlotFailures()
	conv.ConsecutiveUnknown = 0
	return Decision{Kind: DecisionEscalated, FlowKind: kind, Language: lang}
}

func buildFilters(flow *statex.ActiveFlow) contractx.ProductFilters {
	filters := contractx.ProductFilters{Limit: 5}
	if v, ok := flow.Slot(SlotQuery); ok {
		filters.Query = v.Normalized
	}
	if v, ok := flow.Slot("brand"); ok {
		filters.Brand = v.Normalized
	}
	if v, ok := flow.Slot("color"); ok {
		filters.Color = v.Normalized
	}
	if v, ok := flow.Slot("max_price"); ok {
		if n, err := strconv.ParseInt(v.Normalized, 10, 64); err == nil {
			filters.MaxPrice = n
		}
	}
	if v, ok := flow.Slot("ram"); ok {
		if n, err := strconv.Atoi(strings.TrimSuffix(strings.ToLower(v.Normalized), "gb")); err == nil {
			filters.MinRAMGB = n
		}
	}
	return filters
}

func normalizeOrderID(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "_", "-")
	if strings.HasPrefix(s, "ORD") && !strings.HasPrefix(s, "ORD-") {
		s = "ORD-" + strings.TrimPrefix(s, "ORD")
	}
	return s
}
