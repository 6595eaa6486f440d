// Package consignment tracks client-owned fabric through consumption, waste,
// return and retention, with an append-only transaction ledger.
package consignment

import (
	"errors"
	"math"
	"time"

	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/uom"
)

// TxnKind enumerates ledger transaction kinds.
type TxnKind string

const (
	TxnReceived    TxnKind = "received"
	TxnConsumed    TxnKind = "consumed"
	TxnWaste       TxnKind = "waste"
	TxnReturned    TxnKind = "returned"
	TxnKeptAsStock TxnKind = "kept_as_stock"
	TxnAdjustment  TxnKind = "adjustment"
)

// Valid reports whether the kind is known.
func (k TxnKind) Valid() bool {
	switch k {
	case TxnReceived, TxnConsumed, TxnWaste, TxnReturned, TxnKeptAsStock, TxnAdjustment:
		return true
	}
	return false
}

// additive reports whether the kind increases the running balance.
func (k TxnKind) additive() bool {
	return k == TxnReceived || k == TxnAdjustment
}

// OutputType enumerates what a production run produced.
type OutputType string

const (
	OutputFinished     OutputType = "finished"
	OutputSemiFinished OutputType = "semi_finished"
	OutputWaste        OutputType = "waste"
)

// Valid reports whether the output type is known.
func (t OutputType) Valid() bool {
	return t == OutputFinished || t == OutputSemiFinished || t == OutputWaste
}

// Disposition enumerates the lifecycle of a production output.
type Disposition string

const (
	DispositionPending          Disposition = "pending"
	DispositionCompleted        Disposition = "completed"
	DispositionReturnedToClient Disposition = "returned_to_client"
	DispositionKeptAsStock      Disposition = "kept_as_stock"
)

// Terminal reports whether the disposition ends the output lifecycle.
func (d Disposition) Terminal() bool {
	return d == DispositionReturnedToClient || d == DispositionKeptAsStock
}

// Consignment is the per-receipt block for client-provided material.
// All running totals are meters-equivalent.
type Consignment struct {
	ID             int64
	ReceiptID      int64
	CompanyID      int64
	ClientName     string
	ClientOrderRef string
	TotalReceived  float64
	TotalConsumed  float64
	TotalWaste     float64
	TotalReturned  float64
	TotalKept      float64
	CurrentBalance float64
	Consumption    Consumption
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Consumption is the summary block set by updateConsumption.
type Consumption struct {
	ConsumedQty    float64
	WasteQty       float64
	ReturnableQty  float64
	ShortfallFlag  bool
	Notes          string
	LastRecordedAt time.Time
}

// BalanceConsistent verifies the ledger invariant on the running totals.
func (c Consignment) BalanceConsistent() bool {
	expected := c.TotalReceived - c.TotalConsumed - c.TotalWaste - c.TotalReturned - c.TotalKept
	return math.Abs(expected-c.CurrentBalance) < 0.0001
}

// LedgerEntry is one append-only history row.
type LedgerEntry struct {
	ID            int64
	ConsignmentID int64
	Kind          TxnKind
	Quantity      float64
	BalanceAfter  float64
	Reference     string
	Notes         string
	At            time.Time
}

// Output is one production-run output from consigned material.
type Output struct {
	ID            int64
	ConsignmentID int64
	Quantity      uom.Quantity
	OutputType    OutputType
	Grade         string
	Disposition   Disposition
	ClientRetQty  float64
	KeptQty       float64
	ElongationPct float64
	ProductionRef string
	Notes         string
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}

var (
	// ErrConsignmentNotFound indicates the receipt has no consignment block.
	ErrConsignmentNotFound = errors.New("consignment: not found for receipt")
	// ErrOutputNotFound indicates a missing production output.
	ErrOutputNotFound = errors.New("consignment: production output not found")
	// ErrInvalidKind indicates an unknown transaction kind.
	ErrInvalidKind = errors.New("consignment: unknown transaction kind")
	// ErrNegativeQuantity rejects negative quantities outside adjustments.
	ErrNegativeQuantity = errors.New("consignment: quantity must be non-negative")
	// ErrNegativeBalance rejects operations that would overdraw the consigned balance.
	ErrNegativeBalance = errors.New("consignment: balance would go negative")
	// ErrInvalidOutput indicates invalid production output input.
	ErrInvalidOutput = errors.New("consignment: invalid production output")
	// ErrInvalidDisposition indicates an unknown or unreachable disposition.
	ErrInvalidDisposition = errors.New("consignment: invalid disposition")
	// ErrAlreadyResolved indicates the output reached a terminal disposition.
	ErrAlreadyResolved = errors.New("consignment: output already resolved")
	// ErrDispositionExceedsOutput rejects return+kept beyond the produced quantity.
	ErrDispositionExceedsOutput = errors.New("consignment: disposition quantities exceed output quantity")
)
