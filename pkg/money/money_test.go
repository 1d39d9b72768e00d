package money

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDecimalDividesByHundred(t *testing.T) {
	assert.True(t, decimal.RequireFromString("12.34").Equal(ToDecimal(1234)))
	assert.True(t, decimal.RequireFromString("-0.05").Equal(ToDecimal(-5)))
	assert.True(t, decimal.Zero.Equal(ToDecimal(0)))
}

func TestFromDecimalTruncates(t *testing.T) {
	assert.Equal(t, int64(1234), FromDecimal(decimal.RequireFromString("12.349")))
	assert.Equal(t, int64(-1234), FromDecimal(decimal.RequireFromString("-12.349")))
	assert.Equal(t, int64(100), FromDecimal(decimal.NewFromInt(1)))
}

func TestMinorUnitsRoundTrip(t *testing.T) {
	for _, m := range []int64{0, 1, 99, 100, 101, 123456789, -1, -250, 9_223_372_036_854_775} {
		assert.Equal(t, m, FromDecimal(ToDecimal(m)), "amount %d", m)
	}
}

func TestToNullDecimal(t *testing.T) {
	assert.False(t, ToNullDecimal(nil).Valid)

	v := int64(500)
	got := ToNullDecimal(&v)
	require.True(t, got.Valid)
	assert.True(t, decimal.NewFromInt(5).Equal(got.Decimal))
}

func TestParseAmountRejectsNonDecimal(t *testing.T) {
	_, err := ParseAmount("1e3")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = ParseAmount("abc")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = ParseAmount(" ")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	amount, err := ParseAmount("19.99")
	require.NoError(t, err)
	assert.Equal(t, int64(1999), FromDecimal(amount))
}

func TestToTimeKeepsAbsenceDistinctFromEpoch(t *testing.T) {
	assert.Nil(t, ToTime(nil))

	zero := int64(0)
	epoch := ToTime(&zero)
	require.NotNil(t, epoch)
	assert.True(t, epoch.Equal(time.Unix(0, 0)))

	ts := int64(1706659200)
	got := ToTime(&ts)
	require.NotNil(t, got)
	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, ts, *FromTime(got))
}
