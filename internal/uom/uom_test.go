package uom

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToMeters(t *testing.T) {
	require.InDelta(t, 0.9144, ToMeters(Quantity{Value: 1, Unit: UnitYards}), 1e-9)
	require.InDelta(t, 250, ToMeters(Quantity{Value: 250, Unit: UnitMeters}), 1e-9)
	require.InDelta(t, 12, ToMeters(Quantity{Value: 12, Unit: UnitPieces}), 1e-9)
}

func TestMetersIsFixedPoint(t *testing.T) {
	yards := Quantity{Value: 73.5, Unit: UnitYards}
	once := ToMeters(yards)
	require.InDelta(t, once, ToMeters(Quantity{Value: once, Unit: UnitMeters}), 1e-9)
}

func TestParseUnit(t *testing.T) {
	for _, s := range []string{"meters", "yards", "pieces"} {
		u, err := ParseUnit(s)
		require.NoError(t, err)
		require.True(t, u.Valid())
	}
	_, err := ParseUnit("kilograms")
	require.Error(t, err)
}
