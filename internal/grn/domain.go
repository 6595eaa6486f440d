// Package grn models goods-received-notes for grey fabric: one inward
// receipt split into physical lots, with a derived per-receipt balance and
// stock status recomputed from the lots on every mutation.
package grn

import (
	"errors"
	"time"

	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/uom"
)

// EntryType enumerates how the receipt entered the system.
type EntryType string

const (
	EntryPurchaseOrder EntryType = "purchase_order"
	EntryDirectStock   EntryType = "direct_stock"
	EntryTransferIn    EntryType = "transfer_in"
	EntryAdjustment    EntryType = "adjustment"
)

// Valid reports whether the entry type is known.
func (t EntryType) Valid() bool {
	switch t {
	case EntryPurchaseOrder, EntryDirectStock, EntryTransferIn, EntryAdjustment:
		return true
	}
	return false
}

// MaterialSource enumerates who owns the received material.
type MaterialSource string

const (
	SourceOwn            MaterialSource = "own"
	SourceClientProvided MaterialSource = "client_provided"
	SourceJobWork        MaterialSource = "job_work"
)

// Valid reports whether the material source is known.
func (s MaterialSource) Valid() bool {
	return s == SourceOwn || s == SourceClientProvided || s == SourceJobWork
}

// LotStatus enumerates lot lifecycle states.
type LotStatus string

const (
	LotActive   LotStatus = "active"
	LotConsumed LotStatus = "consumed"
	LotDamaged  LotStatus = "damaged"
	LotReserved LotStatus = "reserved"
)

// Valid reports whether the lot status is known.
func (s LotStatus) Valid() bool {
	switch s {
	case LotActive, LotConsumed, LotDamaged, LotReserved:
		return true
	}
	return false
}

// StockStatus is the coarse receipt-level label derived from the balance.
type StockStatus string

const (
	StatusActive     StockStatus = "active"
	StatusLowStock   StockStatus = "low_stock"
	StatusConsumed   StockStatus = "consumed"
	StatusOutOfStock StockStatus = "out_of_stock"
)

// Fabric describes the received grey fabric.
type Fabric struct {
	Type  string
	Grade string
	GSM   int
	Width float64
	Color string
}

// Receipt is one inward-goods event. Lots and balance mutate over its life;
// the receipt row itself is never hard-deleted, only tombstoned.
type Receipt struct {
	ID             int64
	CompanyID      int64
	Number         string
	EntryType      EntryType
	MaterialSource MaterialSource
	Fabric         Fabric
	ReceivedQty    uom.Quantity
	AcceptedQty    uom.Quantity
	RejectedQty    uom.Quantity
	PORef          string
	WarehouseID    int64
	Balance        Balance
	Status         StockStatus
	Version        int64
	CreatedBy      int64
	DeletedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Deleted reports whether the receipt carries a tombstone.
func (r Receipt) Deleted() bool {
	return r.DeletedAt != nil
}

// Lot is a physical sub-quantity of a receipt stored at one location.
// Status transitions are the only mutation; lots are never deleted.
type Lot struct {
	ID          int64
	ReceiptID   int64
	LotNumber   string
	Quantity    uom.Quantity
	Status      LotStatus
	Grade       string
	CostPerUnit float64
	TotalCost   float64
	WarehouseID int64
	Location    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MetersEquivalent is the lot quantity converted to the canonical unit.
func (l Lot) MetersEquivalent() float64 {
	return uom.ToMeters(l.Quantity)
}

var (
	// ErrReceiptNotFound indicates a missing or tombstoned receipt.
	ErrReceiptNotFound = errors.New("grn: receipt not found")
	// ErrLotNotFound indicates the receipt has no lot with that number.
	ErrLotNotFound = errors.New("grn: lot not found")
	// ErrDuplicateLot rejects a lot number already present on the receipt.
	ErrDuplicateLot = errors.New("grn: duplicate lot number")
	// ErrDuplicateNumber rejects a receipt number already in use.
	ErrDuplicateNumber = errors.New("grn: receipt number already exists")
	// ErrInvalidLot indicates missing or invalid lot fields.
	ErrInvalidLot = errors.New("grn: lot requires number, positive quantity and unit")
	// ErrInvalidStatus indicates an unknown lot status.
	ErrInvalidStatus = errors.New("grn: unknown lot status")
	// ErrInvalidReceipt indicates missing or invalid receipt fields.
	ErrInvalidReceipt = errors.New("grn: invalid receipt data")
	// ErrReceiptDeleted rejects mutations on a tombstoned receipt.
	ErrReceiptDeleted = errors.New("grn: receipt is deleted")
	// ErrActiveLots blocks deletion while any lot is still active.
	ErrActiveLots = errors.New("grn: receipt has active lots")
	// ErrForceRequired blocks deletion of receipts with lot history unless forced.
	ErrForceRequired = errors.New("grn: force flag required to delete receipt with lot history")
)
