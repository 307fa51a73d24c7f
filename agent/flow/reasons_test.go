package flow

import (
	"testing"

	contractx "github.com/shopez/ez-agent/agent/contract"
	statex "github.com/shopez/ez-agent/agent/state"
)

func TestReasonTableMapsKnownWordings(t *testing.T) {
	t.Parallel()

	table := DefaultReasonTable()

	cases := []struct {
		kind statex.FlowKind
		text string
		want contractx.ReasonCode
	}{
		{statex.FlowCancellation, "I found it cheaper somewhere else", contractx.ReasonBetterPrice},
		{statex.FlowCancellation, "sorry, changed my mind", contractx.ReasonChangedMind},
		{statex.FlowCancellation, "I ordered twice by accident", contractx.ReasonOrderedMistake},
		{statex.FlowCancellation, "delivery is taking forever", contractx.ReasonDeliveryTooLong},
		{statex.FlowReturn, "the laptop arrived broken", contractx.ReasonDefective},
		{statex.FlowReturn, "this is not what i ordered", contractx.ReasonWrongItem},
		{statex.FlowWarrantyClaim, "battery drains in an hour", contractx.ReasonBattery},
		{statex.FlowWarrantyClaim, "the display has a dead pixel", contractx.ReasonScreen},
		{statex.FlowWarrantyClaim, "it freezes constantly", contractx.ReasonPerformance},
	}

	for _, tc := range cases {
		code, matched := table.Map(tc.kind, tc.text)
		if !matched {
			t.Errorf("Map(%s, %q) did not match", tc.kind, tc.text)
			continue
		}
		if code != tc.want {
			t.Errorf("Map(%s, %q) = %s, want %s", tc.kind, tc.text, code, tc.want)
		}
	}
}

func TestReasonTableUnmappedFallsBackToOther(t *testing.T) {
	t.Parallel()

	table := DefaultReasonTable()

	code, matched := table.Map(statex.FlowReturn, "my cat sat on it")
	if matched {
		t.Fatal("unmapped wording reported a match")
	}
	if code != contractx.ReasonOther {
		t.Fatalf("code = %s, want other", code)
	}
}

func TestReasonTableKindsDoNotBleed(t *testing.T) {
	t.Parallel()

	table := DefaultReasonTable()

	// Battery is a warranty reason; as a cancellation wording it is Other.
	code, matched := table.Map(statex.FlowCancellation, "the battery is bad")
	if matched || code != contractx.ReasonOther {
		t.Fatalf("Map(cancellation, battery) = %s matched=%t, want other/false", code, matched)
	}
}
