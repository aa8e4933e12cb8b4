package amount

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := map[string]uint64{
		"0":                     0,
		"1":                     100_000_000,
		"1.5":                   150_000_000,
		"1.50":                  150_000_000,
		"0.00000001":            1,
		"12.34500000":           1_234_500_000,
		" 3.1 ":                 310_000_000,
		"184467440737.0955161":  18_446_744_073_709_551_610,
		"184467440737.09551615": 18_446_744_073_709_551_615,
		"007.25":                725_000_000,
	}
	for text, want := range cases {
		got, err := Parse(text)
		require.NoError(t, err, text)
		require.Equal(t, want, got, text)
	}
}

func TestParseRejects(t *testing.T) {
	for _, text := range []string{
		"",
		"abc",
		"-1",
		"+1",
		".5",
		"5.",
		"1.2.3",
		"1.123456789",
		"0.000000010",
		"1.1e3",
		"1 000",
		"184467440738",
		"184467440737.09551616",
	} {
		_, err := Parse(text)
		require.ErrorIs(t, err, ErrInvalidAmount, text)
	}
}

func TestFormat(t *testing.T) {
	require.Equal(t, "0.00000000", Format(0))
	require.Equal(t, "1.50000000", Format(150_000_000))
	require.Equal(t, "0.00000001", Format(1))
	require.Equal(t, "184467440737.09551615", Format(^uint64(0)))
}

func TestFormatParseAgree(t *testing.T) {
	for _, v := range []uint64{0, 1, 10, 123_456_789, 500 * 100_000_000} {
		parsed, err := Parse(Format(v))
		require.NoError(t, err)
		require.Equal(t, v, parsed)
	}
}
