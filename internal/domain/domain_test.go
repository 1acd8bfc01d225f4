package domain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"5", "5"},
		{"0.250", "0.25"},
		{"1e-6", "0.000001"},
		{"0x1", "1"},
		{"0xde0b6b3a7640000", "1000000000000000000"},
		{" 10 ", "10"},
		{"0.0000000000000000001", "0.0000000000000000001"},
		{"1e-30", "0.000000000000000000000000000001"},
		{"123456789.000000000000000000000001", "123456789.000000000000000000000001"},
	}
	for _, tc := range cases {
		got, err := NormalizeAmount(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	for _, bad := range []string{"", "abc", "-1", "0xzz", "0x", "0x-1", "0x+1", "1/3", "-0x1"} {
		_, err := ParseAmount(bad)
		assert.ErrorIs(t, err, ErrInvalidAmount, bad)
	}
}

func TestFormatUnits(t *testing.T) {
	oneEth := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	assert.Equal(t, "1", FormatUnits(oneEth, 18))

	half := new(big.Int).Div(oneEth, big.NewInt(2))
	assert.Equal(t, "0.5", FormatUnits(half, 18))

	assert.Equal(t, "5", FormatUnits(big.NewInt(5_000_000), 6))
	assert.Equal(t, "42", FormatUnits(big.NewInt(42), 0))
	assert.Equal(t, "0", FormatUnits(nil, 6))

	assert.Equal(t, "0.000000000000000000000001", FormatUnits(big.NewInt(1), 24))
	assert.Equal(t, "0.000000000000000001", FormatUnits(big.NewInt(1), 18))
}

func TestFormatAmount_NonTerminating(t *testing.T) {
	assert.Equal(t, "0.333333333333333333", FormatAmount(big.NewRat(1, 3)))

	tiny := new(big.Rat).SetFrac(big.NewInt(1), new(big.Int).Mul(big.NewInt(3), new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)))
	assert.NotEqual(t, "0", FormatAmount(tiny), "small values keep significant digits")
}

func TestParseCategory(t *testing.T) {
	for in, want := range map[string]Category{
		"external": CategoryNative,
		"internal": CategoryInternal,
		"token":    CategoryToken,
		"ERC721":   CategoryToken,
		"erc1155":  CategoryMultiToken,
	} {
		got, ok := ParseCategory(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := ParseCategory("log")
	assert.False(t, ok)
}

func TestNotificationID_Stable(t *testing.T) {
	a := NotificationID("0xABC", "wh_1")
	b := NotificationID("0xabc", "wh_1")
	c := NotificationID("0xabc", "wh_2")

	assert.Equal(t, a, b, "hash case must not change the id")
	assert.NotEqual(t, a, c)
}

func TestSubscription_TracksCaseInsensitive(t *testing.T) {
	sub := Subscription{TrackedAddresses: NewAddressSet("0xAA", " 0xBb ")}

	assert.True(t, sub.Tracks("0xaa"))
	assert.True(t, sub.Tracks("0xBB"))
	assert.False(t, sub.Tracks("0xcc"))

	clone := sub.Clone()
	clone.TrackedAddresses.Add("0xcc")
	assert.False(t, sub.Tracks("0xcc"), "clone must not share the set")
}
