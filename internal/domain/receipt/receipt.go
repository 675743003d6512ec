// Package receipt defines redemption evidence. Evidence is persisted before
// any chain interaction so operators can reconcile a failed release.
package receipt

import "time"

// Item is one line of the receipt breakdown. Items are immutable once
// attached to a receipt.
type Item struct {
	Name      string
	Quantity  int64
	UnitPrice int64
}

// Receipt is the proof-of-spend header plus its line items. TotalAmount must
// equal the redemption amount passed to the orchestrator.
type Receipt struct {
	ID           string
	EvidenceID   string
	FarmID       string
	StoreName    string
	StoreAddress string
	StorePhone   string
	TotalAmount  int64
	CategoryID   string
	Reason       string
	Content      string
	PhotoRef     string
	Items        []Item
	CreatedAt    time.Time
}
