/*
Package cart contains the optimistic cart reconciliation store and the service
that keeps it eventually consistent with the authoritative server cart.

This file defines the CartLine struct, the unit of cart state. A line is
created optimistically with a negative placeholder id, confirmed when the
backend assigns a real id, and removed on explicit delete or rollback.
*/
package cart

import (
	"maps"
	"time"

	"shopsync/internal/pkg/randx"
)

// CartLine represents one entry of the shopping cart. A consistent cart holds
// exactly one line per product variant id.
type CartLine struct {
	// ID is the server-assigned line id, or a negative placeholder while the
	// creating request is still in flight.
	ID int64 `json:"id"`

	// ProductVariantID identifies the purchasable variant this line holds.
	ProductVariantID string `json:"productVariantId"`

	// Quantity is the number of units, always at least 1.
	Quantity int `json:"quantity"`

	// UnitPrice is the price per unit in minor currency units.
	UnitPrice int64 `json:"unitPrice"`

	// ProductName is the display name snapshot taken when the line was added.
	ProductName string `json:"productName"`

	// ThumbnailRef is an opaque reference to the product image.
	ThumbnailRef string `json:"thumbnailRef,omitempty"`

	// AttributeSelections maps attribute id to the selected value id.
	AttributeSelections map[string]string `json:"attributeSelections,omitempty"`
}

// Pending reports whether the line still carries a local placeholder id.
func (l CartLine) Pending() bool {
	return randx.IsTempLineID(l.ID)
}

// Subtotal returns quantity x unit price for this line.
func (l CartLine) Subtotal() int64 {
	return int64(l.Quantity) * l.UnitPrice
}

// clone returns a copy whose attribute selections map is independent, so a
// caller mutating a returned line cannot reach back into store state.
func (l CartLine) clone() CartLine {
	l.AttributeSelections = maps.Clone(l.AttributeSelections)
	return l
}

// Snapshot is the persisted form of the cart state, written to the local store
// on every mutation so the cart survives restarts until the next server sync.
type Snapshot struct {
	Lines      []CartLine `json:"lines"`
	CapturedAt time.Time  `json:"capturedAt"`
}
