package grn

import (
	"math"

	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/uom"
)

// UnitBalance is the per-unit breakdown of a receipt's lots.
type UnitBalance struct {
	Total     float64 `json:"total"`
	Available float64 `json:"available"`
	Reserved  float64 `json:"reserved"`
	Damaged   float64 `json:"damaged"`
}

// Balance tracks each unit independently. Meters and pieces never sum into
// one number here; only the company stock aggregate works in meters.
type Balance struct {
	Meters UnitBalance `json:"meters"`
	Yards  UnitBalance `json:"yards"`
	Pieces UnitBalance `json:"pieces"`
}

func (b *Balance) bucket(u uom.Unit) *UnitBalance {
	switch u {
	case uom.UnitYards:
		return &b.Yards
	case uom.UnitPieces:
		return &b.Pieces
	default:
		return &b.Meters
	}
}

// Consistent verifies total == available + reserved + damaged per unit.
func (b Balance) Consistent() bool {
	for _, ub := range []UnitBalance{b.Meters, b.Yards, b.Pieces} {
		if math.Abs(ub.Total-(ub.Available+ub.Reserved+ub.Damaged)) > 0.0001 {
			return false
		}
	}
	return true
}

// Thresholds configures the low-stock cutoffs per unit. Injected from app
// config so the cutoffs are not baked into the derivation.
type Thresholds struct {
	Meters float64
	Yards  float64
	Pieces float64
}

// DefaultThresholds mirrors the historical cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{Meters: 100, Yards: 100, Pieces: 10}
}

// Recompute derives the balance strictly from current lot statuses.
// Consumed lots drop out of every bucket; they remain visible only through
// the lot list itself. Damaged and reserved lots stay in total.
func Recompute(lots []Lot) Balance {
	var b Balance
	for _, lot := range lots {
		if lot.Status == LotConsumed {
			continue
		}
		ub := b.bucket(lot.Quantity.Unit)
		ub.Total += lot.Quantity.Value
		switch lot.Status {
		case LotActive:
			ub.Available += lot.Quantity.Value
		case LotReserved:
			ub.Reserved += lot.Quantity.Value
		case LotDamaged:
			ub.Damaged += lot.Quantity.Value
		}
	}
	return b
}

// DeriveStatus labels a balance. Priority: everything gone, nothing left to
// use, running low, otherwise active.
func DeriveStatus(b Balance, t Thresholds) StockStatus {
	const eps = 0.0001
	totalsZero := b.Meters.Total < eps && b.Yards.Total < eps && b.Pieces.Total < eps
	availZero := b.Meters.Available < eps && b.Yards.Available < eps && b.Pieces.Available < eps
	switch {
	case totalsZero:
		return StatusOutOfStock
	case availZero:
		return StatusConsumed
	case b.Meters.Available < t.Meters && b.Yards.Available < t.Yards && b.Pieces.Available < t.Pieces:
		return StatusLowStock
	default:
		return StatusActive
	}
}
