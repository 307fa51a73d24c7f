package reply

import (
	"fmt"
	"strings"

	contractx "github.com/shopez/ez-agent/agent/contract"
	flowx "github.com/shopez/ez-agent/agent/flow"
	statex "github.com/shopez/ez-agent/agent/state"
)

// Composer renders an engine decision into an outbound reply: localized
// message text plus the suggested actions valid for the current state. No
// business logic lives here; every branch is a deterministic lookup.
type Composer struct{}

func NewComposer() *Composer {
	return &Composer{}
}

const (
	langEN = "en"
	langJA = "ja"
)

type catalog struct {
	clarify       string
	mainMenu      string
	discarded     string
	superseded    string
	escalated     string
	execFailed    string
	noProducts    string
	promptSlots   map[string]string
	repromptSlots map[string]string
	confirm       map[statex.FlowKind]string
	confirmAgain  string
	executed      map[statex.FlowKind]string
	ineligible    map[string]string
	orderSummary  string
	orderTracking string
	productsFound string
}

var catalogs = map[string]catalog{
	langEN: {
		clarify:    "Sorry, I didn't catch that. Could you rephrase, or pick an option from the main menu?",
		mainMenu:   "Welcome to ShopEZ Laptops! I can help you find a laptop, track an order, or handle returns, cancellations, and warranty claims.",
		discarded:  "No problem, I've discarded that request. Anything else I can help with?",
		superseded: "That request is no longer active. Let's start fresh from the main menu.",
		escalated:  "I'm connecting you with a human agent now. They'll have the full conversation history.",
		execFailed: "Sorry, I couldn't complete that right now. Please try again in a moment.",
		noProducts: "I couldn't find any laptops matching that. Want to try different requirements?",
		promptSlots: map[string]string{
			flowx.SlotOrderID: "Please share your order ID (it looks like ORD-1001).",
			flowx.SlotReason:  "Could you tell me the reason for this request?",
			flowx.SlotQuery:   "What kind of laptop are you looking for?",
		},
		repromptSlots: map[string]string{
			flowx.SlotOrderID: "I couldn't find that order. Please double-check the order ID and try again.",
			flowx.SlotReason:  "Sorry, I didn't get the reason. Could you describe it again?",
			flowx.SlotQuery:   "Sorry, I didn't get that. What kind of laptop are you looking for?",
		},
		confirm: map[statex.FlowKind]string{
			statex.FlowReturn:        "Shall I submit the return request for this order?",
			statex.FlowCancellation:  "Shall I cancel this order? Your refund will be processed after cancellation.",
			statex.FlowWarrantyClaim: "Shall I file the warranty claim for this order?",
		},
		confirmAgain: "Just to be sure: please answer yes to proceed or no to stop.",
		executed: map[statex.FlowKind]string{
			statex.FlowReturn:        "Return approved! Your refund will be processed after we receive the item. Reference: %s",
			statex.FlowCancellation:  "Cancellation processed! Your refund will be issued within 5-7 business days. Reference: %s",
			statex.FlowWarrantyClaim: "Warranty claim submitted! Our team will contact you within 24 hours. Reference: %s",
		},
		ineligible: map[string]string{
			"already delivered": "This order has already been delivered, so it can't be cancelled. Would you like to start a return instead?",
			"not delivered yet": "This order hasn't been delivered yet, so that request isn't possible. You can cancel the order instead.",
		},
		orderSummary:  "Order %s: %s, %d %s, status: %s.",
		orderTracking: " Shipped via %s, tracking number %s.",
		productsFound: "Here are %d laptops that match:",
	},
	langJA: {
		clarify:    "すみません、うまく理解できませんでした。言い換えるか、メインメニューからお選びください。",
		mainMenu:   "ShopEZ Laptopsへようこそ!ノートPC探し、注文の追跡、返品・キャンセル・保証のお手続きをお手伝いします。",
		discarded:  "かしこまりました。その手続きは取り消しました。他にご用件はありますか?",
		superseded: "その手続きは既に終了しています。メインメニューからやり直してください。",
		escalated:  "担当者におつなぎします。これまでの会話内容は引き継がれます。",
		execFailed: "申し訳ありません、ただいま処理できませんでした。しばらくしてからもう一度お試しください。",
		noProducts: "条件に合うノートPCが見つかりませんでした。条件を変えてみますか?",
		promptSlots: map[string]string{
			flowx.SlotOrderID: "注文番号を教えてください(例: ORD-1001)。",
			flowx.SlotReason:  "お手続きの理由を教えてください。",
			flowx.SlotQuery:   "どのようなノートPCをお探しですか?",
		},
		repromptSlots: map[string]string{
			flowx.SlotOrderID: "その注文が見つかりませんでした。注文番号をご確認のうえ、もう一度お試しください。",
			flowx.SlotReason:  "理由をうまく読み取れませんでした。もう一度教えてください。",
			flowx.SlotQuery:   "うまく読み取れませんでした。どのようなノートPCをお探しですか?",
		},
		confirm: map[statex.FlowKind]string{
			statex.FlowReturn:        "この注文の返品を申請してよろしいですか?",
			statex.FlowCancellation:  "この注文をキャンセルしてよろしいですか?キャンセル後に返金処理を行います。",
			statex.FlowWarrantyClaim: "この注文の保証申請を行ってよろしいですか?",
		},
		confirmAgain: "確認のため、「はい」か「いいえ」でお答えください。",
		executed: map[statex.FlowKind]string{
			statex.FlowReturn:        "返品を承りました。商品の到着後に返金いたします。受付番号: %s",
			statex.FlowCancellation:  "キャンセルを承りました。5〜7営業日以内に返金いたします。受付番号: %s",
			statex.FlowWarrantyClaim: "保証申請を受け付けました。24時間以内に担当よりご連絡します。受付番号: %s",
		},
		ineligible: map[string]string{
			"already delivered": "この注文は既にお届け済みのためキャンセルできません。代わりに返品をご希望ですか?",
			"not delivered yet": "この注文はまだお届け前のため、そのお手続きはできません。キャンセルは可能です。",
		},
		orderSummary:  "注文 %s: %s、%d %s、状況: %s。",
		orderTracking: "配送業者: %s、追跡番号: %s。",
		productsFound: "条件に合うノートPCが%d件見つかりました:",
	},
}

func catalogFor(lang string) catalog {
	if c, ok := catalogs[strings.ToLower(strings.TrimSpace(lang))]; ok {
		return c
	}
	return catalogs[langEN]
}

// Compose maps one engine decision to a reply. Suggested actions depend only
// on the decision kind: slot prompts never offer confirm, confirmation
// offers exactly confirm/deny/cancel, terminal outcomes offer the main menu.
func (c *Composer) Compose(d flowx.Decision) contractx.Reply {
	msgs := catalogFor(d.Language)

	switch d.Kind {
	case flowx.DecisionMainMenu:
		return contractx.Reply{Text: msgs.mainMenu, Actions: menuOnly()}

	case flowx.DecisionClarify:
		return contractx.Reply{Text: msgs.clarify, Actions: menuOnly()}

	case flowx.DecisionPromptSlot:
		return contractx.Reply{Text: msgs.promptSlots[d.Slot], Actions: menuOnly()}

	case flowx.DecisionRepromptSlot:
		if d.Detail == "temporary failure" {
			return contractx.Reply{Text: msgs.execFailed, Actions: menuOnly()}
		}
		return contractx.Reply{Text: msgs.repromptSlots[d.Slot], Actions: menuOnly()}

	case flowx.DecisionOrderIneligible:
		if text, ok := msgs.ineligible[d.Detail]; ok {
			return contractx.Reply{Text: text, Actions: menuOnly()}
		}
		return contractx.Reply{Text: msgs.clarify, Actions: menuOnly()}

	case flowx.DecisionAskConfirmation:
		text := msgs.confirm[d.FlowKind]
		if d.Detail == "reprompt" {
			text = msgs.confirmAgain
		}
		return contractx.Reply{
			Text:    text,
			Actions: []contractx.Action{contractx.ActionConfirm, contractx.ActionDeny, contractx.ActionCancel},
		}

	case flowx.DecisionFlowDiscarded:
		return contractx.Reply{Text: msgs.discarded, Actions: menuOnly()}

	case flowx.DecisionExecuted:
		if d.Outcome == nil || !d.Outcome.Success {
			text := msgs.execFailed
			if d.Outcome != nil && d.Outcome.Detail != "" && d.Outcome.Detail != "temporary failure" {
				text = d.Outcome.Detail
			}
			return contractx.Reply{Text: text, Actions: menuOnly()}
		}
		return contractx.Reply{
			Text:    fmt.Sprintf(msgs.executed[d.FlowKind], d.Outcome.Reference),
			Actions: menuOnly(),
		}

	case flowx.DecisionProducts:
		if len(d.Products) == 0 {
			return contractx.Reply{Text: msgs.noProducts, Actions: menuOnly()}
		}
		return contractx.Reply{
			Text:     fmt.Sprintf(msgs.productsFound, len(d.Products)),
			Actions:  menuOnly(),
			Products: d.Products,
		}

	case flowx.DecisionOrderDetails:
		order := d.Order
		text := fmt.Sprintf(msgs.orderSummary,
			order.ID, order.ProductName, order.Price.Amount, order.Price.Currency, order.Status)
		if order.TrackingCode != "" {
			text += fmt.Sprintf(msgs.orderTracking, order.Carrier, order.TrackingCode)
		}
		return contractx.Reply{Text: text, Actions: menuOnly(), Order: order}

	case flowx.DecisionSuperseded:
		return contractx.Reply{Text: msgs.superseded, Actions: menuOnly()}

	case flowx.DecisionEscalated:
		return contractx.Reply{Text: msgs.escalated, Actions: menuOnly()}
	}

	// DecisionExecutePending never reaches the composer; the service applies
	// the execution result first. Degrade to a clarification if it does.
	return contractx.Reply{Text: msgs.clarify, Actions: menuOnly()}
}

func menuOnly() []contractx.Action {
	return []contractx.Action{contractx.ActionMainMenu}
}
