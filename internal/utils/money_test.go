package utils

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMinorUnits(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"150.00", 15000},
		{"19.99", 1999},
		{"0.01", 1},
		{"10.005", 1001},
		{"10.004", 1000},
		{"1234567.89", 123456789},
	}
	for _, tc := range cases {
		got, err := ToMinorUnits(decimal.RequireFromString(tc.in))
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestToMinorUnitsRejectsNonPositive(t *testing.T) {
	for _, in := range []string{"0", "-5.00", "0.004"} {
		_, err := ToMinorUnits(decimal.RequireFromString(in))
		assert.ErrorIs(t, err, ErrNonPositiveAmount, in)
	}
}

func TestParseClientAmount(t *testing.T) {
	cases := map[float64]string{
		0.1:      "0.10",
		0.2:      "0.20",
		19.99:    "19.99",
		150:      "150.00",
		99999.95: "99999.95",
	}
	for in, want := range cases {
		got := ParseClientAmount(in)
		assert.True(t, decimal.RequireFromString(want).Equal(got), "%v parsed as %s", in, got)
	}
}

func TestMinorUnitsRoundTrip(t *testing.T) {
	amount := decimal.RequireFromString("42.37")
	minor, err := ToMinorUnits(amount)
	require.NoError(t, err)
	assert.True(t, amount.Equal(FromMinorUnits(minor)))
}
