package stat7

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/openmultiverse/stat7hub/pkg/canonical"
)

// Address string grammar:
//
//	stat7://<realm>:<lineage>/<adj1>,<adj2>,...,<adjN>/<horizon>?resonance=<r>&velocity=<v>&density=<d>
//
// Realm and adjacency tokens are percent-encoded (unreserved set only:
// A-Z a-z 0-9 - . _ ~). Lineage is decimal. The dynamic dimensions are
// rendered with 8-decimal banker's rounding. An empty adjacency sequence
// yields an empty middle segment ("//"). Encoder and decoder are inverses
// on the set of valid, normalized coordinates.

const addressScheme = "stat7://"

var (
	ErrInvalidAddress = errors.New("stat7: invalid address")
)

// Address encodes c using the grammar above. The coordinate must be
// normalized and valid; otherwise an error is returned.
func Address(c Coordinate) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}

	r, err := canonical.FormatFloat(c.Resonance)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	v, err := canonical.FormatFloat(c.Velocity)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	d, err := canonical.FormatFloat(c.Density)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	var b strings.Builder
	b.WriteString(addressScheme)
	b.WriteString(escapeToken(c.Realm))
	b.WriteByte(':')
	b.WriteString(strconv.FormatUint(c.Lineage, 10))
	b.WriteByte('/')
	for i, a := range c.Adjacency {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(escapeToken(a))
	}
	b.WriteByte('/')
	b.WriteString(string(c.Horizon))
	b.WriteString("?resonance=")
	b.WriteString(r)
	b.WriteString("&velocity=")
	b.WriteString(v)
	b.WriteString("&density=")
	b.WriteString(d)
	return b.String(), nil
}

// ParseAddress decodes an address string back into a coordinate.
func ParseAddress(s string) (Coordinate, error) {
	if !strings.HasPrefix(s, addressScheme) {
		return Coordinate{}, fmt.Errorf("%w: missing scheme", ErrInvalidAddress)
	}
	rest := s[len(addressScheme):]

	path := rest
	query := ""
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		path = rest[:i]
		query = rest[i+1:]
	} else {
		return Coordinate{}, fmt.Errorf("%w: missing dimensions query", ErrInvalidAddress)
	}

	segs := strings.Split(path, "/")
	if len(segs) != 3 {
		return Coordinate{}, fmt.Errorf("%w: expected 3 path segments, got %d", ErrInvalidAddress, len(segs))
	}

	// <realm>:<lineage>. Tokens escape ':', so any raw colon is the separator.
	sep := strings.LastIndexByte(segs[0], ':')
	if sep < 0 {
		return Coordinate{}, fmt.Errorf("%w: missing lineage separator", ErrInvalidAddress)
	}
	realm, err := unescapeToken(segs[0][:sep])
	if err != nil {
		return Coordinate{}, err
	}
	lineage, err := strconv.ParseUint(segs[0][sep+1:], 10, 64)
	if err != nil {
		return Coordinate{}, fmt.Errorf("%w: bad lineage: %v", ErrInvalidAddress, err)
	}

	var adjacency []string
	if segs[1] != "" {
		parts := strings.Split(segs[1], ",")
		adjacency = make([]string, 0, len(parts))
		for _, p := range parts {
			tok, err := unescapeToken(p)
			if err != nil {
				return Coordinate{}, err
			}
			adjacency = append(adjacency, tok)
		}
	}

	horizon := Horizon(segs[2])

	dims, err := parseDimensions(query)
	if err != nil {
		return Coordinate{}, err
	}

	c := Coordinate{
		Realm:     realm,
		Lineage:   lineage,
		Adjacency: adjacency,
		Horizon:   horizon,
		Resonance: dims["resonance"],
		Velocity:  dims["velocity"],
		Density:   dims["density"],
	}
	if err := c.Normalize(); err != nil {
		return Coordinate{}, err
	}
	if err := c.Validate(); err != nil {
		return Coordinate{}, err
	}
	return c, nil
}

func parseDimensions(query string) (map[string]float64, error) {
	out := make(map[string]float64, 3)
	for _, pair := range strings.Split(query, "&") {
		eq := strings.IndexByte(pair, '=')
		if eq < 0 {
			return nil, fmt.Errorf("%w: bad query pair %q", ErrInvalidAddress, pair)
		}
		key := pair[:eq]
		switch key {
		case "resonance", "velocity", "density":
		default:
			return nil, fmt.Errorf("%w: unknown dimension %q", ErrInvalidAddress, key)
		}
		f, err := strconv.ParseFloat(pair[eq+1:], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad %s: %v", ErrInvalidAddress, key, err)
		}
		out[key] = f
	}
	for _, key := range []string{"resonance", "velocity", "density"} {
		if _, ok := out[key]; !ok {
			return nil, fmt.Errorf("%w: missing dimension %q", ErrInvalidAddress, key)
		}
	}
	return out, nil
}

const upperhex = "0123456789ABCDEF"

func isUnreserved(b byte) bool {
	return (b >= 'A' && b <= 'Z') ||
		(b >= 'a' && b <= 'z') ||
		(b >= '0' && b <= '9') ||
		b == '-' || b == '.' || b == '_' || b == '~'
}

// escapeToken percent-encodes every byte outside the unreserved set.
// Stricter than url.PathEscape so that ':' ',' '/' '?' can never appear raw
// inside a token.
func escapeToken(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&0x0f])
	}
	return b.String()
}

func unescapeToken(s string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		if i+2 >= len(s) {
			return "", fmt.Errorf("%w: truncated percent escape", ErrInvalidAddress)
		}
		hi := unhex(s[i+1])
		lo := unhex(s[i+2])
		if hi < 0 || lo < 0 {
			return "", fmt.Errorf("%w: bad percent escape %q", ErrInvalidAddress, s[i:i+3])
		}
		b.WriteByte(byte(hi<<4 | lo))
		i += 2
	}
	return b.String(), nil
}

func unhex(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	}
	return -1
}
