package duration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_AllUnits(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"1s", time.Second},
		{"5m", 5 * time.Minute},
		{"2h", 2 * time.Hour},
		{"3d", 3 * 24 * time.Hour},
		{"1w", 7 * 24 * time.Hour},
		{"1M", 30 * 24 * time.Hour},
		{"1y", 365 * 24 * time.Hour},
		{"30s", 30 * time.Second},
	}
	for _, c := range cases {
		got, err := Parse(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestParse_RejectsBadInput(t *testing.T) {
	for _, in := range []string{"", "s", "10", "1.5s", "-1s", "1x", "one second"} {
		_, err := Parse(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestParse_MinuteAndMonthAreCaseSensitive(t *testing.T) {
	minute, err := Parse("1m")
	require.NoError(t, err)
	month, err := Parse("1M")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, minute)
	assert.Equal(t, 30*24*time.Hour, month)
}

func TestParseSeconds(t *testing.T) {
	n, err := ParseSeconds("2m")
	require.NoError(t, err)
	assert.Equal(t, int64(120), n)

	_, err = ParseSeconds("nope")
	assert.Error(t, err)
}
