package nlu

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"

	contractx "github.com/shopez/ez-agent/agent/contract"
	statex "github.com/shopez/ez-agent/agent/state"
)

const DefaultConfidenceThreshold = 0.55

// SlotPlanner tells the extractor which slot the active flow is waiting for,
// so an otherwise-unclassifiable turn can be read as an answer to it.
type SlotPlanner interface {
	NextMissingSlot(f *statex.ActiveFlow) (string, bool)
}

// Extractor normalizes free text into an Intent: classification label,
// confidence, and raw slot candidates. Pure over its inputs; the backend
// call is the only external effect.
type Extractor struct {
	backend   contractx.Classifier
	planner   SlotPlanner
	threshold float64
}

func NewExtractor(backend contractx.Classifier, planner SlotPlanner, threshold float64) (*Extractor, error) {
	if backend == nil {
		return nil, errors.New("classifier backend is required")
	}
	if planner == nil {
		return nil, errors.New("slot planner is required")
	}
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultConfidenceThreshold
	}
	return &Extractor{
		backend:   backend,
		planner:   planner,
		threshold: threshold,
	}, nil
}

var orderIDPattern = regexp.MustCompile(`(?i)ORD[_-]?\d+`)

var menuWords = map[string]bool{
	"main menu": true, "menu": true, "home": true,
	"ホーム": true, "メインメニュー": true,
}

// Escalation trigger phrases; an explicit request always wins over the model.
var escalateWords = []string{
	"human", "agent", "representative", "manager", "supervisor",
	"speak to someone", "real person", "talk to person",
	"担当者", "人間と話",
}

var confirmWords = []string{
	"yes", "confirm", "proceed", "ok", "okay", "yeah", "yep", "sure",
	"はい", "確認",
}

var denyWords = []string{
	"no", "cancel", "don't", "do not", "stop", "nevermind", "never mind",
	"いいえ", "キャンセル",
}

// Whole-word matchers: short entries like "ok" and "no" must never fire on
// substrings ("broken", "nothing"), or an ordinary message would read as a
// binary signal and confirm a transaction the user never confirmed.
var (
	escalateMatch = wordMatcher(escalateWords)
	confirmMatch  = wordMatcher(confirmWords)
	denyMatch     = wordMatcher(denyWords)
)

// wordMatcher compiles a whole-word matcher for the ASCII entries and keeps
// substring matching for the rest (Japanese has no space-delimited words, so
// \b has nothing to anchor on).
func wordMatcher(words []string) func(string) bool {
	var ascii []string
	var substrings []string
	for _, w := range words {
		if isASCII(w) {
			ascii = append(ascii, regexp.QuoteMeta(w))
		} else {
			substrings = append(substrings, w)
		}
	}
	var re *regexp.Regexp
	if len(ascii) > 0 {
		re = regexp.MustCompile(`\b(?:` + strings.Join(ascii, "|") + `)\b`)
	}
	return func(lower string) bool {
		if re != nil && re.MatchString(lower) {
			return true
		}
		for _, w := range substrings {
			if strings.Contains(lower, w) {
				return true
			}
		}
		return false
	}
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// keyword fallback table, most specific first
var keywordIntents = []struct {
	words []string
	label contractx.IntentLabel
}{
	{[]string{"compare", " vs ", "versus", "which is better", "difference between"}, contractx.IntentCompare},
	{[]string{"warranty", "broken", "not working"}, contractx.IntentWarrantyClaim},
	{[]string{"return", "refund", "send back"}, contractx.IntentReturn},
	{[]string{"cancel", "stop order"}, contractx.IntentCancel},
	{[]string{"order", "status", "track", "where is"}, contractx.IntentOrderStatus},
	{[]string{"laptop", "computer", "buy", "purchase"}, contractx.IntentProductSearch},
}

// Classify turns raw user text into an Intent. The active flow (possibly
// nil) disambiguates: confirmation turns, slot answers, and topic switches
// all depend on where the conversation currently stands.
func (e *Extractor) Classify(ctx context.Context, text string, conv *statex.Conversation) contractx.Intent {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	if menuWords[lower] {
		return contractx.Intent{Label: contractx.IntentMainMenu, Confidence: 1, Language: detectLanguage(trimmed, conv)}
	}
	if escalateMatch(lower) {
		return contractx.Intent{Label: contractx.IntentEscalate, Confidence: 1, Language: detectLanguage(trimmed, conv)}
	}

	flow := activeFlow(conv)

	// A flow waiting on yes/no accepts only a binary signal; match it before
	// asking the model so "cancel" reads as deny, not as a cancellation flow.
	if flow != nil && flow.Stage == statex.StageAwaitingConfirmation {
		if confirmMatch(lower) {
			return contractx.Intent{Label: contractx.IntentUnknown, Confidence: 1, Confirm: true, Language: detectLanguage(trimmed, conv)}
		}
		if denyMatch(lower) {
			return contractx.Intent{Label: contractx.IntentUnknown, Confidence: 1, Deny: true, Language: detectLanguage(trimmed, conv)}
		}
	}

	intent := e.classifyWithBackend(ctx, trimmed, conv)
	intent.Language = pickLanguage(intent.Language, trimmed, conv)
	normalizeSlots(intent.Slots)

	// Below-threshold turns while a flow is collecting slots are answers,
	// not noise: target the next required slot with the verbatim text.
	if intent.Label == contractx.IntentUnknown && flow != nil && flow.Stage == statex.StageCollectingSlots {
		if slot, ok := e.planner.NextMissingSlot(flow); ok {
			intent.SlotFill = true
			intent.TargetSlot = slot
			if intent.Slots == nil {
				intent.Slots = map[string]string{}
			}
			if _, present := intent.Slots[slot]; !present {
				intent.Slots[slot] = trimmed
			}
		}
	}

	return intent
}

func (e *Extractor) classifyWithBackend(ctx context.Context, text string, conv *statex.Conversation) contractx.Intent {
	hint := ""
	if conv != nil {
		hint = conv.Language
	}

	cls, err := e.backend.ClassifyText(ctx, text, hint)
	if err != nil {
		log.Debug().Err(err).Msg("classifier backend failed, using rule fallback")
		return fallbackClassify(text)
	}

	label := contractx.IntentLabel(strings.ToLower(strings.TrimSpace(cls.Label)))
	if !label.Valid() {
		label = contractx.IntentUnknown
	}
	confidence := clamp01(cls.Confidence)
	if confidence < e.threshold {
		label = contractx.IntentUnknown
	}

	return contractx.Intent{
		Label:      label,
		Confidence: confidence,
		Slots:      cls.Slots,
		Language:   cls.Language,
	}
}

// fallbackClassify mirrors the rule table used when the model is
// unreachable: order-id pattern first, then keyword buckets.
func fallbackClassify(text string) contractx.Intent {
	lower := strings.ToLower(text)

	if m := orderIDPattern.FindString(text); m != "" {
		label := contractx.IntentOrderStatus
		for _, row := range keywordIntents {
			if row.label == contractx.IntentOrderStatus {
				continue
			}
			if containsAny(lower, row.words) {
				label = row.label
				break
			}
		}
		return contractx.Intent{
			Label:      label,
			Confidence: 0.9,
			Slots:      map[string]string{"order_id": NormalizeOrderID(m)},
		}
	}

	for _, row := range keywordIntents {
		if containsAny(lower, row.words) {
			return contractx.Intent{Label: row.label, Confidence: 0.7}
		}
	}

	return contractx.Intent{Label: contractx.IntentUnknown, Confidence: 0}
}

// NormalizeOrderID canonicalizes user spellings like "ord_1001" to "ORD-1001".
func NormalizeOrderID(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "_", "-")
	if strings.HasPrefix(s, "ORD") && !strings.HasPrefix(s, "ORD-") {
		s = "ORD-" + strings.TrimPrefix(s, "ORD")
	}
	return s
}

var digitsPattern = regexp.MustCompile(`\d+`)

// ParseBudget converts budget wording to a numeric price cap: "under 60k"
// -> 60000. Zero means unparseable.
func ParseBudget(raw string) int64 {
	lower := strings.ToLower(raw)
	m := digitsPattern.FindString(lower)
	if m == "" {
		return 0
	}
	n, err := strconv.ParseInt(m, 10, 64)
	if err != nil {
		return 0
	}
	if strings.Contains(lower, "k") {
		n *= 1000
	}
	return n
}

func normalizeSlots(slots map[string]string) {
	if slots == nil {
		return
	}
	if id, ok := slots["order_id"]; ok {
		slots["order_id"] = NormalizeOrderID(id)
	}
	if budget, ok := slots["budget"]; ok {
		if v := ParseBudget(budget); v > 0 {
			slots["max_price"] = strconv.FormatInt(v, 10)
		}
	}
}

func activeFlow(conv *statex.Conversation) *statex.ActiveFlow {
	if conv == nil {
		return nil
	}
	return conv.Flow
}

func pickLanguage(fromBackend, text string, conv *statex.Conversation) string {
	if lang := strings.TrimSpace(fromBackend); lang != "" {
		return lang
	}
	return detectLanguage(text, conv)
}

func detectLanguage(text string, conv *statex.Conversation) string {
	for _, r := range text {
		if unicode.In(r, unicode.Hiragana, unicode.Katakana, unicode.Han) {
			return "ja"
		}
	}
	if conv != nil && conv.Language != "" {
		return conv.Language
	}
	return "en"
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
