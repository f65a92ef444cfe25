// Package sanitize neutralizes untrusted text and numbers before they reach a render sink.
package sanitize

import (
	"encoding/json"
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Field is text guaranteed to contain no active markup.
// Values are produced by Text; converting an arbitrary string to Field bypasses the guarantee.
type Field string

// String returns the escaped text.
func (f Field) String() string { return string(f) }

// Text coerces v to text and escapes every character that could open a markup context.
// It never panics. Applying it to its own output returns the same value.
func Text(v any) Field {
	return Field(html.EscapeString(Plain(v)))
}

// Plain is Text without the final escape. The result is for matching and comparison only
// and must not reach a render sink.
func Plain(v any) string {
	s := coerce(v)
	s = strings.ToValidUTF8(s, "�")
	s = strings.Map(dropControl, s)
	// Unescape first so already-escaped input is not double-escaped.
	s = html.UnescapeString(s)
	s = strings.Map(dropControl, s)
	// Fold fullwidth and other compatibility forms so look-alike brackets are escaped too.
	s = norm.NFKC.String(s)
	return s
}

// Strings sanitizes every element of a list.
func Strings(values []string) []Field {
	out := make([]Field, len(values))
	for i, v := range values {
		out[i] = Text(v)
	}
	return out
}

// Count clamps a displayed count to zero or above.
func Count(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// Cost formats a price with two decimals. NaN, infinities and negatives display as 0.00.
func Cost(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		v = 0
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// Fold lowercases the plain form of v for case-insensitive matching.
// A Field and the raw text it was built from fold to the same string.
func Fold(v any) string {
	return strings.ToLower(Plain(v))
}

func coerce(v any) (s string) {
	defer func() {
		if recover() != nil {
			s = ""
		}
	}()

	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case Field:
		return string(t)
	case []byte:
		return string(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case fmt.Stringer:
		return t.String()
	case error:
		return t.Error()
	default:
		return fmt.Sprint(t)
	}
}

func dropControl(r rune) rune {
	if r == '\t' || r == '\n' {
		return r
	}
	if unicode.IsControl(r) {
		return -1
	}
	return r
}
