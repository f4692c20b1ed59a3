package infra

import (
	"fmt"
	"math"
	"math/big"

	"github.com/jackc/pgx/v5/pgtype"
)

// NumericToPercent converts a pgtype.Numeric (from a NUMERIC(5,2) percentage
// column) to float64. Returns an error if the value is NULL or NaN.
func NumericToPercent(n pgtype.Numeric) (float64, error) {
	if !n.Valid {
		return 0, fmt.Errorf("numeric value is NULL")
	}
	if n.NaN {
		return 0, fmt.Errorf("numeric value is NaN")
	}
	f, err := n.Float64Value()
	if err != nil {
		return 0, fmt.Errorf("convert numeric: %w", err)
	}
	return math.Round(f.Float64*100) / 100, nil
}

// PercentToNumeric encodes a percentage with exactly two fractional digits,
// clamped to the 0..100 range the columns accept.
func PercentToNumeric(pct float64) pgtype.Numeric {
	switch {
	case pct < 0 || math.IsNaN(pct):
		pct = 0
	case pct > 100:
		pct = 100
	}
	return pgtype.Numeric{
		Int:              big.NewInt(int64(math.Round(pct * 100))),
		Exp:              -2,
		InfinityModifier: pgtype.Finite,
		Valid:            true,
	}
}
