package flow

import (
	"strings"

	contractx "github.com/shopez/ez-agent/agent/contract"
	statex "github.com/shopez/ez-agent/agent/state"
)

// ReasonMapping binds one reason code to the free-text wordings that should
// normalize to it.
type ReasonMapping struct {
	Code     contractx.ReasonCode
	Keywords []string
}

// ReasonTable normalizes free-text reasons to the enumerated code set, per
// flow kind. Unmapped text keeps its verbatim wording and maps to Other.
// The keyword lists are store policy data; this table is the default, not
// the law.
type ReasonTable struct {
	byKind map[statex.FlowKind][]ReasonMapping
}

func NewReasonTable(byKind map[statex.FlowKind][]ReasonMapping) *ReasonTable {
	t := &ReasonTable{byKind: make(map[statex.FlowKind][]ReasonMapping, len(byKind))}
	for kind, rows := range byKind {
		t.byKind[kind] = append([]ReasonMapping(nil), rows...)
	}
	return t
}

// DefaultReasonTable mirrors the ShopEZ reason lists for cancellations,
// returns, and warranty claims.
func DefaultReasonTable() *ReasonTable {
	return NewReasonTable(map[statex.FlowKind][]ReasonMapping{
		statex.FlowCancellation: {
			{Code: contractx.ReasonBetterPrice, Keywords: []string{"better price", "cheaper", "found it cheaper", "price elsewhere"}},
			{Code: contractx.ReasonChangedMind, Keywords: []string{"changed my mind", "change of mind", "don't want it anymore"}},
			{Code: contractx.ReasonOrderedMistake, Keywords: []string{"mistake", "by accident", "wrong order", "ordered twice"}},
			{Code: contractx.ReasonDeliveryTooLong, Keywords: []string{"too long", "taking forever", "delivery is slow", "late"}},
		},
		statex.FlowReturn: {
			{Code: contractx.ReasonDefective, Keywords: []string{"defective", "faulty", "broken", "doesn't work", "not working", "dead"}},
			{Code: contractx.ReasonWrongItem, Keywords: []string{"wrong item", "different item", "not what i ordered"}},
			{Code: contractx.ReasonNotAsDescribed, Keywords: []string{"not as described", "different from the picture", "misleading"}},
			{Code: contractx.ReasonNoLongerNeeded, Keywords: []string{"no longer needed", "don't need", "not needed"}},
		},
		statex.FlowWarrantyClaim: {
			{Code: contractx.ReasonBattery, Keywords: []string{"battery", "charge", "charging", "drains"}},
			{Code: contractx.ReasonScreen, Keywords: []string{"screen", "display", "flicker", "dead pixel"}},
			{Code: contractx.ReasonPerformance, Keywords: []string{"slow", "performance", "lag", "freezes", "overheat"}},
			{Code: contractx.ReasonHardware, Keywords: []string{"hardware", "keyboard", "fan", "hinge", "port"}},
			{Code: contractx.ReasonSoftware, Keywords: []string{"software", "windows", "driver", "boot", "blue screen"}},
		},
	})
}

// Map normalizes a free-text reason for the given flow kind. The second
// return reports whether a specific code matched; Other is the catch-all.
func (t *ReasonTable) Map(kind statex.FlowKind, text string) (contractx.ReasonCode, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return contractx.ReasonOther, false
	}
	for _, row := range t.byKind[kind] {
		for _, kw := range row.Keywords {
			if strings.Contains(lower, kw) {
				return row.Code, true
			}
		}
	}
	return contractx.ReasonOther, false
}
