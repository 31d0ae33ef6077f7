package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevenshteinDistance(t *testing.T) {
	assert.Equal(t, 0, LevenshteinDistance("bremen", "bremen"))
	assert.Equal(t, 3, LevenshteinDistance("kitten", "sitting"))
	assert.Equal(t, 6, LevenshteinDistance("", "berlin"))
	// runes, not bytes
	assert.Equal(t, 1, LevenshteinDistance("köln", "koln"))
}

func TestSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, Similarity("union berlin", "union berlin"), 1e-9)
	assert.InDelta(t, 1.0, Similarity("", ""), 1e-9)

	// token overlap beats edit distance when words are reordered
	assert.InDelta(t, 1.0, Similarity("berlin union", "union berlin"), 1e-9)

	s := Similarity("hamburg", "freiburg")
	assert.Less(t, s, 0.8)
	assert.GreaterOrEqual(t, s, 0.0)
}

func TestTokenDice(t *testing.T) {
	assert.InDelta(t, 2.0/3.0, TokenDice("werder bremen", "bremen"), 1e-9)
	assert.InDelta(t, 0.0, TokenDice("werder", ""), 1e-9)
}

func TestTruncateAndMask(t *testing.T) {
	assert.Equal(t, "Müll", Truncate("Müller", 4))
	assert.Equal(t, "ab", Truncate("ab", 10))
	assert.Equal(t, "se**et", MaskSecret("secret"))
	assert.Equal(t, "***", MaskSecret("abc"))
}

func TestGetAsInteger(t *testing.T) {
	cases := []struct {
		in   any
		want int
	}{
		{2, 2},
		{2.0, 2},
		{1.6, 2},
		{"3", 3},
		{" 1 ", 1},
		{"2,0", 2},
		{int64(4), 4},
	}
	for _, c := range cases {
		got, err := GetAsInteger(c.in)
		require.NoError(t, err, "input %v", c.in)
		assert.Equal(t, c.want, got, "input %v", c.in)
	}

	_, err := GetAsInteger("zwei")
	assert.Error(t, err)
	_, err = GetAsInteger(nil)
	assert.Error(t, err)
	_, err = GetAsInteger([]int{1})
	assert.Error(t, err)
}

func TestParseDecimal(t *testing.T) {
	v, err := ParseDecimal("1,85")
	require.NoError(t, err)
	assert.InDelta(t, 1.85, v, 1e-9)
	_, err = ParseDecimal("x")
	assert.Error(t, err)
}
