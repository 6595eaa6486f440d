// Package uom models fabric units of measure and conversion to the
// canonical meters unit used by company-wide stock records.
package uom

import "fmt"

// Unit enumerates supported fabric units.
type Unit string

const (
	// UnitMeters is the canonical length unit.
	UnitMeters Unit = "meters"
	// UnitYards converts to meters with a fixed factor.
	UnitYards Unit = "yards"
	// UnitPieces is a counting unit, not convertible to length.
	UnitPieces Unit = "pieces"
)

// MetersPerYard is the exact international yard.
const MetersPerYard = 0.9144

// Quantity couples a value with its unit so callers never pass bare floats.
type Quantity struct {
	Value float64
	Unit  Unit
}

// ParseUnit validates a unit string at the boundary. Unknown units are a
// caller error; conversion itself never fails.
func ParseUnit(s string) (Unit, error) {
	switch Unit(s) {
	case UnitMeters, UnitYards, UnitPieces:
		return Unit(s), nil
	}
	return "", fmt.Errorf("uom: unknown unit %q", s)
}

// ToMeters converts a quantity to its meters-equivalent value.
// Pieces pass through unchanged: they are treated as already being in the
// target counting unit, so callers must not mix pieces into length totals.
func ToMeters(q Quantity) float64 {
	switch q.Unit {
	case UnitYards:
		return q.Value * MetersPerYard
	default:
		return q.Value
	}
}

// Valid reports whether the unit is one of the supported values.
func (u Unit) Valid() bool {
	return u == UnitMeters || u == UnitYards || u == UnitPieces
}
