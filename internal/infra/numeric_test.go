package infra

import (
	"math"
	"math/big"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentToNumeric_TwoDecimals(t *testing.T) {
	n := PercentToNumeric(33.333333)
	assert.Equal(t, int32(-2), n.Exp)
	assert.Equal(t, int64(3333), n.Int.Int64())
	assert.True(t, n.Valid)
}

func TestPercentToNumeric_Clamps(t *testing.T) {
	assert.Equal(t, int64(0), PercentToNumeric(-5).Int.Int64())
	assert.Equal(t, int64(10000), PercentToNumeric(120).Int.Int64())
	assert.Equal(t, int64(0), PercentToNumeric(math.NaN()).Int.Int64())
}

func TestNumericToPercent_RoundTrip(t *testing.T) {
	for _, pct := range []float64{0, 33.33, 66.67, 100} {
		v, err := NumericToPercent(PercentToNumeric(pct))
		require.NoError(t, err)
		assert.InDelta(t, pct, v, 0.0001)
	}
}

func TestNumericToPercent_IntegerExponent(t *testing.T) {
	// 5 * 10^1 = 50
	n := pgtype.Numeric{Int: big.NewInt(5), Exp: 1, Valid: true}
	v, err := NumericToPercent(n)
	require.NoError(t, err)
	assert.Equal(t, 50.0, v)
}

func TestNumericToPercent_NullReturnsError(t *testing.T) {
	_, err := NumericToPercent(pgtype.Numeric{Valid: false})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NULL")
}

func TestNumericToPercent_NaNReturnsError(t *testing.T) {
	_, err := NumericToPercent(pgtype.Numeric{NaN: true, Valid: true})
	assert.Error(t, err)
}
