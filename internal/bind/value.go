// Package bind extracts {name=value} parameters from user text and rewrites
// {placeholder} templates into statements with engine-native bind tokens,
// refusing to execute anything with an unbound placeholder.
package bind

import (
	"regexp"
	"strconv"
	"strings"
)

type Kind int

const (
	KindInt Kind = iota
	KindFloat
	KindString
)

// Value is a tagged variant: parameter values are coerced once at parse time
// and pattern-matched downstream instead of carried as untyped scalars.
type Value struct {
	Kind  Kind
	Int   int64
	Float float64
	Str   string
}

func IntValue(v int64) Value { return Value{Kind: KindInt, Int: v} }

func FloatValue(v float64) Value { return Value{Kind: KindFloat, Float: v} }

func StringValue(v string) Value { return Value{Kind: KindString, Str: v} }

// Native returns the driver-facing representation.
func (v Value) Native() any {
	switch v.Kind {
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	default:
		return v.Str
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	default:
		return v.Str
	}
}

// ParseValue coerces raw text: digits-only becomes an integer, anything that
// parses as a decimal becomes a float, everything else stays a string.
func ParseValue(raw string) Value {
	if isDigitsOnly(raw) {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return IntValue(n)
		}
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return FloatValue(f)
	}
	return StringValue(raw)
}

func isDigitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var paramPattern = regexp.MustCompile(`\{([^{}=]*)=([^{}]*)\}`)

// ExtractParams scans text for {name=value} pairs. Names are trimmed and
// lower-cased; the last occurrence of a name wins. Free-form phrasing outside
// braces is ignored entirely.
func ExtractParams(text string) map[string]Value {
	params := make(map[string]Value)
	for _, match := range paramPattern.FindAllStringSubmatch(text, -1) {
		name := strings.ToLower(strings.TrimSpace(match[1]))
		if name == "" {
			continue
		}
		params[name] = ParseValue(strings.TrimSpace(match[2]))
	}
	return params
}
