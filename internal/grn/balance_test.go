package grn

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CoderMasters4/Dhruval-Erp-sub003/internal/uom"
)

func lot(number string, qty float64, unit uom.Unit, status LotStatus) Lot {
	return Lot{LotNumber: number, Quantity: uom.Quantity{Value: qty, Unit: unit}, Status: status}
}

func TestRecomputeBucketsPerUnit(t *testing.T) {
	lots := []Lot{
		lot("L1", 500, uom.UnitMeters, LotActive),
		lot("L2", 200, uom.UnitMeters, LotReserved),
		lot("L3", 100, uom.UnitMeters, LotDamaged),
		lot("L4", 50, uom.UnitYards, LotActive),
		lot("L5", 30, uom.UnitPieces, LotActive),
	}
	b := Recompute(lots)

	require.InDelta(t, 800, b.Meters.Total, 0.0001)
	require.InDelta(t, 500, b.Meters.Available, 0.0001)
	require.InDelta(t, 200, b.Meters.Reserved, 0.0001)
	require.InDelta(t, 100, b.Meters.Damaged, 0.0001)
	require.InDelta(t, 50, b.Yards.Total, 0.0001)
	require.InDelta(t, 30, b.Pieces.Total, 0.0001)
	require.True(t, b.Consistent())
}

func TestRecomputeExcludesConsumedLots(t *testing.T) {
	lots := []Lot{
		lot("L1", 500, uom.UnitMeters, LotConsumed),
		lot("L2", 100, uom.UnitMeters, LotDamaged),
	}
	b := Recompute(lots)

	require.InDelta(t, 100, b.Meters.Total, 0.0001)
	require.InDelta(t, 0, b.Meters.Available, 0.0001)
	require.InDelta(t, 100, b.Meters.Damaged, 0.0001)
	require.True(t, b.Consistent())
}

func TestDeriveStatusTable(t *testing.T) {
	thresholds := DefaultThresholds()
	cases := []struct {
		name string
		lots []Lot
		want StockStatus
	}{
		{"empty receipt", nil, StatusOutOfStock},
		{"fully consumed", []Lot{lot("L1", 500, uom.UnitMeters, LotConsumed)}, StatusOutOfStock},
		{"all damaged", []Lot{lot("L1", 500, uom.UnitMeters, LotDamaged)}, StatusConsumed},
		{"all reserved", []Lot{lot("L1", 500, uom.UnitMeters, LotReserved)}, StatusConsumed},
		{"low meters", []Lot{lot("L1", 40, uom.UnitMeters, LotActive)}, StatusLowStock},
		{"low pieces", []Lot{lot("L1", 5, uom.UnitPieces, LotActive)}, StatusLowStock},
		{"meters above threshold", []Lot{lot("L1", 400, uom.UnitMeters, LotActive)}, StatusActive},
		{"pieces above threshold", []Lot{lot("L1", 40, uom.UnitMeters, LotActive), lot("L2", 25, uom.UnitPieces, LotActive)}, StatusActive},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := Recompute(tc.lots)
			require.Equal(t, tc.want, DeriveStatus(b, thresholds))
		})
	}
}

func TestDeriveStatusHonoursInjectedThresholds(t *testing.T) {
	b := Recompute([]Lot{lot("L1", 400, uom.UnitMeters, LotActive)})
	require.Equal(t, StatusActive, DeriveStatus(b, DefaultThresholds()))
	require.Equal(t, StatusLowStock, DeriveStatus(b, Thresholds{Meters: 500, Yards: 100, Pieces: 10}))
}

func TestBalanceInvariantUnderTransitions(t *testing.T) {
	lots := []Lot{
		lot("L1", 500, uom.UnitMeters, LotActive),
		lot("L2", 120, uom.UnitYards, LotActive),
	}
	for _, status := range []LotStatus{LotReserved, LotDamaged, LotConsumed, LotActive} {
		lots[0].Status = status
		b := Recompute(lots)
		require.True(t, b.Consistent(), "status %s", status)
	}
}
