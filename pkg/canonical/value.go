package canonical

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode/utf8"
)

// Canonical Value encoding (v1)
//
// Purpose:
// A deterministic JSON serialization used as the identity primitive across
// realms. Fingerprint(x) must be byte-identical on every platform for the
// same logical value.
//
// Rules:
//   - Object keys are emitted in ASCII-lexicographic order (byte-wise), recursively.
//   - Arrays preserve insertion order.
//   - Strings are UTF-8 with minimal JSON escaping (quote, backslash, control chars).
//   - Integers are emitted without a decimal point; floats use fixed 8-decimal
//     banker's rounding with trailing zeros preserved (1.0 -> "1.00000000").
//   - No whitespace between tokens, no trailing newline.
//   - NaN, +/-Inf, cyclic references and non-string object keys are rejected.

var (
	ErrInvalidValue = errors.New("canonical: invalid value")
	ErrNonFinite    = errors.New("canonical: non-finite number")
	ErrCycle        = errors.New("canonical: cyclic reference")
	ErrBadKey       = errors.New("canonical: object key must be a string")
	ErrBadType      = errors.New("canonical: unsupported type")
)

// Canonicalize returns the canonical JSON encoding of v.
// Accepted value shapes: nil, bool, signed/unsigned integers, finite floats,
// string, []any (or typed slices of the above), map[string]any, json.Number.
func Canonicalize(v any) ([]byte, error) {
	var b strings.Builder
	seen := make(map[uintptr]struct{})
	if err := encode(&b, v, seen, 0); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

// Fingerprint returns SHA-256 over Canonicalize(v).
// Pure: the same logical value always yields the same digest.
func Fingerprint(v any) ([32]byte, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(b), nil
}

const maxDepth = 64

func encode(b *strings.Builder, v any, seen map[uintptr]struct{}, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("%w: %w", ErrInvalidValue, ErrCycle)
	}

	switch t := v.(type) {
	case nil:
		b.WriteString("null")
		return nil
	case bool:
		if t {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
		return nil
	case string:
		encodeString(b, t)
		return nil
	case int:
		fmt.Fprintf(b, "%d", t)
		return nil
	case int8:
		fmt.Fprintf(b, "%d", t)
		return nil
	case int16:
		fmt.Fprintf(b, "%d", t)
		return nil
	case int32:
		fmt.Fprintf(b, "%d", t)
		return nil
	case int64:
		fmt.Fprintf(b, "%d", t)
		return nil
	case uint:
		fmt.Fprintf(b, "%d", t)
		return nil
	case uint8:
		fmt.Fprintf(b, "%d", t)
		return nil
	case uint16:
		fmt.Fprintf(b, "%d", t)
		return nil
	case uint32:
		fmt.Fprintf(b, "%d", t)
		return nil
	case uint64:
		fmt.Fprintf(b, "%d", t)
		return nil
	case float32:
		return encodeFloat(b, float64(t))
	case float64:
		return encodeFloat(b, t)
	case json.Number:
		return encodeNumber(b, t)
	case map[string]any:
		return encodeObject(b, t, seen, depth)
	case []any:
		return encodeArray(b, t, seen, depth)
	case []string:
		arr := make([]any, len(t))
		for i, s := range t {
			arr[i] = s
		}
		return encodeArray(b, arr, seen, depth)
	}

	// Reject maps with non-string keys explicitly; everything else is unsupported.
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Map {
		return fmt.Errorf("%w: %w: %s", ErrInvalidValue, ErrBadKey, rv.Type())
	}
	return fmt.Errorf("%w: %w: %T", ErrInvalidValue, ErrBadType, v)
}

func encodeObject(b *strings.Builder, m map[string]any, seen map[uintptr]struct{}, depth int) error {
	ptr := reflect.ValueOf(m).Pointer()
	if _, ok := seen[ptr]; ok {
		return fmt.Errorf("%w: %w", ErrInvalidValue, ErrCycle)
	}
	seen[ptr] = struct{}{}
	defer delete(seen, ptr)

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		encodeString(b, k)
		b.WriteByte(':')
		if err := encode(b, m[k], seen, depth+1); err != nil {
			return err
		}
	}
	b.WriteByte('}')
	return nil
}

func encodeArray(b *strings.Builder, a []any, seen map[uintptr]struct{}, depth int) error {
	if len(a) > 0 {
		ptr := reflect.ValueOf(a).Pointer()
		if _, ok := seen[ptr]; ok {
			return fmt.Errorf("%w: %w", ErrInvalidValue, ErrCycle)
		}
		seen[ptr] = struct{}{}
		defer delete(seen, ptr)
	}

	b.WriteByte('[')
	for i, v := range a {
		if i > 0 {
			b.WriteByte(',')
		}
		if err := encode(b, v, seen, depth+1); err != nil {
			return err
		}
	}
	b.WriteByte(']')
	return nil
}

func encodeNumber(b *strings.Builder, n json.Number) error {
	s := string(n)
	if s == "" {
		return fmt.Errorf("%w: empty number", ErrInvalidValue)
	}
	if !strings.ContainsAny(s, ".eE") {
		// Integer form: emit verbatim (already minimal decimal).
		b.WriteString(s)
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return encodeFloat(b, f)
}

func encodeFloat(b *strings.Builder, f float64) error {
	s, err := FormatFloat(f)
	if err != nil {
		return err
	}
	b.WriteString(s)
	return nil
}

func encodeString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(b, `\u%04x`, r)
			} else if r == utf8.RuneError {
				// Preserve replacement runes as-is; input is assumed UTF-8.
				b.WriteRune(r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
}

// Parse decodes canonical JSON back into the value model:
// nil, bool, int64, float64, string, []any, map[string]any.
// Round-trip: Parse(Canonicalize(x)) equals x for every canonicalizable,
// normalized x.
func Parse(data []byte) (any, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	// Trailing tokens are not canonical.
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrInvalidValue)
	}
	return normalizeParsed(raw)
}

func normalizeParsed(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string:
		return t, nil
	case json.Number:
		if !strings.ContainsAny(string(t), ".eE") {
			i, err := t.Int64()
			if err == nil {
				return i, nil
			}
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return RoundFloat(f)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			nv, err := normalizeParsed(t[i])
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			nv, err := normalizeParsed(val)
			if err != nil {
				return nil, err
			}
			out[k] = nv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %w: %T", ErrInvalidValue, ErrBadType, v)
	}
}

// Equal reports whether two values have identical canonical encodings.
// Floats are compared through their 8-decimal canonical forms, never directly.
func Equal(a, b any) bool {
	ab, err := Canonicalize(a)
	if err != nil {
		return false
	}
	bb, err := Canonicalize(b)
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}
