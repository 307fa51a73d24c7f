package flow

import (
	statex "github.com/shopez/ez-agent/agent/state"
)

// Slot names shared across flow kinds.
const (
	SlotOrderID = "order_id"
	SlotReason  = "reason"
	SlotQuery   = "query"
)

// Catalog defines, per flow kind, which slots are required and in which
// order they are collected. The ordering is store business data, not
// algorithm: callers may supply their own catalog.
type Catalog struct {
	required map[statex.FlowKind][]string
}

// DefaultCatalog carries the ShopEZ ordering: transactional flows collect
// the order id before the reason.
func DefaultCatalog() *Catalog {
	return &Catalog{
		required: map[statex.FlowKind][]string{
			statex.FlowProductSearch: {SlotQuery},
			statex.FlowOrderStatus:   {SlotOrderID},
			statex.FlowReturn:        {SlotOrderID, SlotReason},
			statex.FlowCancellation:  {SlotOrderID, SlotReason},
			statex.FlowWarrantyClaim: {SlotOrderID, SlotReason},
		},
	}
}

func NewCatalog(required map[statex.FlowKind][]string) *Catalog {
	c := &Catalog{required: make(map[statex.FlowKind][]string, len(required))}
	for kind, slots := range required {
		c.required[kind] = append([]string(nil), slots...)
	}
	return c
}

// RequiredSlots returns the ordered required slot names for a kind.
func (c *Catalog) RequiredSlots(kind statex.FlowKind) []string {
	return c.required[kind]
}

// NextMissingSlot returns the first required slot the flow has not validated
// yet, in catalog order. Also satisfies the extractor's SlotPlanner.
func (c *Catalog) NextMissingSlot(f *statex.ActiveFlow) (string, bool) {
	if f == nil {
		return "", false
	}
	for _, name := range c.required[f.Kind] {
		if v, ok := f.Slot(name); !ok || !v.Valid {
			return name, true
		}
	}
	return "", false
}

// Complete reports whether every required slot has validated.
func (c *Catalog) Complete(f *statex.ActiveFlow) bool {
	_, missing := c.NextMissingSlot(f)
	return !missing
}
