package stock

import (
	"errors"
	"time"
)

// Item is the company-wide stock record per distinct fabric item.
// Quantities are kept in the canonical meters unit.
type Item struct {
	ID            int64
	CompanyID     int64
	ItemCode      string
	FabricType    string
	Color         string
	GSM           int
	CurrentStock  float64
	ReservedStock float64
	DamagedStock  float64
	AvgCost       float64
	TotalValue    float64
	BatchOutput   bool
	SourceReceipt int64
	SourceClient  string
	ElongationPct float64
	UpdatedAt     time.Time
}

// AvailableStock is derived, never stored independently.
func (i Item) AvailableStock() float64 {
	return i.CurrentStock - i.ReservedStock
}

// ItemKey resolves an item within a company. Batch separates kept
// production output from lot-backed stock of the same fabric, so the
// two are never merged into one aggregate row.
type ItemKey struct {
	CompanyID  int64
	FabricType string
	Color      string
	GSM        int
	Batch      bool
}

// Provenance tags items created from consigned production output.
type Provenance struct {
	ReceiptID     int64
	ClientName    string
	ElongationPct float64
}

// Delta is one signed stock change, meters-equivalent, applied through
// Service.Apply, the only write path for item quantities and value.
type Delta struct {
	Key           ItemKey
	CurrentDelta  float64
	ReservedDelta float64
	DamagedDelta  float64
	UnitCost      float64
	RefModule     string
	RefID         string
	Note          string
	ActorID       int64
	Provenance    *Provenance
}

// Movement is the append-only trail of applied deltas.
type Movement struct {
	ID            int64
	ItemID        int64
	CurrentDelta  float64
	ReservedDelta float64
	DamagedDelta  float64
	UnitCost      float64
	RefModule     string
	RefID         string
	Note          string
	ActorID       int64
	PostedAt      time.Time
}

// ListFilter narrows item listings.
type ListFilter struct {
	CompanyID  int64
	FabricType string
	Page       int
	PerPage    int
}

var (
	// ErrItemNotFound indicates a missing item row.
	ErrItemNotFound = errors.New("stock: item not found")
	// ErrNegativeStock triggered when a delta would drive a bucket negative.
	ErrNegativeStock = errors.New("stock: negative stock not allowed")
	// ErrInvalidDelta indicates a delta that moves no bucket.
	ErrInvalidDelta = errors.New("stock: delta must move at least one bucket")
	// ErrInvalidUnitCost indicates invalid cost value on an inbound delta.
	ErrInvalidUnitCost = errors.New("stock: unit cost must be >= 0")
	// ErrInvalidKey indicates an incomplete item key.
	ErrInvalidKey = errors.New("stock: company and fabric type required")
)
