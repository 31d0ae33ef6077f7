package util

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// LevenshteinDistance calculates the Levenshtein distance between two strings.
// Distance is counted in runes so umlauts cost one edit, not two.
func LevenshteinDistance(str1, str2 string) int {
	s1 := []rune(str1)
	s2 := []rune(str2)
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	// two rolling rows of the classic matrix
	prev := make([]int, len(s2)+1)
	curr := make([]int, len(s2)+1)
	for j := 0; j <= len(s2); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(s1); i++ {
		curr[0] = i
		for j := 1; j <= len(s2); j++ {
			cost := 0
			if s1[i-1] != s2[j-1] {
				cost = 1
			}
			curr[j] = min3(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[len(s2)]
}

// min3 returns the minimum of three integers
func min3(a, b, c int) int {
	if a < b && a < c {
		return a
	}
	if b < c {
		return b
	}
	return c
}

// EditSimilarity returns 1 - distance/maxLen, a score between 0.0 and 1.0
// where 1.0 is a perfect match
func EditSimilarity(str1, str2 string) float64 {
	maxLen := len([]rune(str1))
	if l := len([]rune(str2)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1.0 // Both strings are empty
	}
	return 1.0 - float64(LevenshteinDistance(str1, str2))/float64(maxLen)
}

// TokenDice is the Dice coefficient over the whitespace separated token sets
// of the two strings
func TokenDice(str1, str2 string) float64 {
	a := tokenSet(str1)
	b := tokenSet(str2)
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	shared := 0
	for t := range a {
		if _, ok := b[t]; ok {
			shared++
		}
	}
	return 2.0 * float64(shared) / float64(len(a)+len(b))
}

func tokenSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, t := range strings.Fields(s) {
		out[t] = struct{}{}
	}
	return out
}

// Similarity is the larger of EditSimilarity and TokenDice.
// Inputs are expected to be normalised already.
func Similarity(str1, str2 string) float64 {
	return math.Max(EditSimilarity(str1, str2), TokenDice(str1, str2))
}

// Truncate cuts s to at most n runes
func Truncate(s string, n int) string {
	if n < 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// MaskSecret keeps the first and last two characters of a secret for logging
func MaskSecret(s string) string {
	r := []rune(s)
	if len(r) <= 4 {
		return strings.Repeat("*", len(r))
	}
	return string(r[:2]) + strings.Repeat("*", len(r)-4) + string(r[len(r)-2:])
}

// GetAsString converts various types to string
// If s is a string, return it
// If s is any form of number, format it and return it
func GetAsString(s any) (string, error) {
	if s == nil {
		return "", fmt.Errorf("cannot convert nil to string")
	}

	switch v := s.(type) {
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

// GetAsInteger converts the loosely typed values found in decoded JSON to an int.
// Whole floats ("2.0" or 2.0) are accepted, fractions are rounded to the nearest integer.
func GetAsInteger(s any) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("cannot convert nil to integer")
	}

	switch v := s.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		if v > math.MaxInt32 || v < math.MinInt32 {
			return 0, fmt.Errorf("int64 value %d is out of int range", v)
		}
		return int(v), nil
	case float32:
		return roundFloat(float64(v))
	case float64:
		return roundFloat(v)
	case string:
		t := strings.TrimSpace(v)
		if result, err := strconv.Atoi(t); err == nil {
			return result, nil
		}
		f, err := strconv.ParseFloat(strings.Replace(t, ",", ".", 1), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert string '%s' to integer: %w", v, err)
		}
		return roundFloat(f)
	default:
		return 0, fmt.Errorf("cannot convert type %T to integer", s)
	}
}

func roundFloat(f float64) (int, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("float value %f is not a number", f)
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, fmt.Errorf("float value %f is out of int range", f)
	}
	return int(math.Round(f)), nil
}

// ParseDecimal parses "1,85" as well as "1.85"
func ParseDecimal(s string) (float64, error) {
	return strconv.ParseFloat(strings.Replace(strings.TrimSpace(s), ",", ".", 1), 64)
}
