package canonical

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Fixed 8-decimal float canonicalization.
//
// Floats are rendered as "<int>.<8 digits>" with half-to-even (banker's)
// rounding applied to the decimal expansion, so 0.5 at the cut digit rounds
// toward the even neighbour. Negative zero normalizes to zero. The rounding
// operates on the decimal string of the shortest float representation, which
// is platform-independent in Go.

const fractionDigits = 8

// FormatFloat returns the canonical fixed 8-decimal rendering of f.
// Rejects NaN and +/-Inf.
func FormatFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("%w: %w", ErrInvalidValue, ErrNonFinite)
	}

	s := strconv.FormatFloat(f, 'f', -1, 64)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart = s[:i]
		fracPart = s[i+1:]
	}

	intPart, fracPart = roundHalfEven(intPart, fracPart)

	if neg && intPart == "0" && fracPart == strings.Repeat("0", fractionDigits) {
		neg = false // -0 normalizes to 0
	}

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteString(intPart)
	b.WriteByte('.')
	b.WriteString(fracPart)
	return b.String(), nil
}

// RoundFloat returns f normalized to its canonical 8-decimal value.
func RoundFloat(f float64) (float64, error) {
	s, err := FormatFloat(f)
	if err != nil {
		return 0, err
	}
	out, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	if out == 0 {
		return 0, nil // never return -0
	}
	return out, nil
}

// roundHalfEven cuts frac to exactly fractionDigits digits with half-to-even
// rounding, carrying into the integer part when needed.
func roundHalfEven(intPart, fracPart string) (string, string) {
	if len(fracPart) <= fractionDigits {
		return intPart, fracPart + strings.Repeat("0", fractionDigits-len(fracPart))
	}

	kept := []byte(fracPart[:fractionDigits])
	rest := fracPart[fractionDigits:]

	roundUp := false
	switch {
	case rest[0] > '5':
		roundUp = true
	case rest[0] < '5':
		roundUp = false
	default:
		// Exactly at the midpoint only if every remaining digit is zero.
		tail := strings.TrimRight(rest[1:], "0")
		if tail != "" {
			roundUp = true
		} else {
			// Half-to-even on the last kept digit.
			last := kept[fractionDigits-1]
			roundUp = (last-'0')%2 == 1
		}
	}

	if !roundUp {
		return intPart, string(kept)
	}

	// Propagate the carry through the fraction digits.
	i := fractionDigits - 1
	for i >= 0 {
		if kept[i] == '9' {
			kept[i] = '0'
			i--
			continue
		}
		kept[i]++
		return intPart, string(kept)
	}

	// Carry into the integer part.
	ip := []byte(intPart)
	j := len(ip) - 1
	for j >= 0 {
		if ip[j] == '9' {
			ip[j] = '0'
			j--
			continue
		}
		ip[j]++
		return string(ip), string(kept)
	}
	return "1" + string(ip), string(kept)
}
