package expr

import (
	"strconv"
	"strings"
)

// Kind is the dynamic type of a Value.
type Kind int

const (
	KindBool Kind = iota
	KindNumber
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	}
	return "unknown"
}

// Value is the result of evaluating a symbol or expression: a string, a
// number or a boolean.
type Value struct {
	Kind Kind
	B    bool
	N    int64
	S    string
}

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{Kind: KindBool, B: b} }

// Number returns a numeric value.
func Number(n int64) Value { return Value{Kind: KindNumber, N: n} }

// String returns a string value.
func String(s string) Value { return Value{Kind: KindString, S: s} }

// False is the canonical false value.
var False = Bool(false)

// Truth reports the value's truthiness: numbers are true when non-zero,
// strings when non-empty and not "n".
func (v Value) Truth() bool {
	switch v.Kind {
	case KindBool:
		return v.B
	case KindNumber:
		return v.N != 0
	default:
		return v.S != "" && v.S != "n"
	}
}

// String renders the value the way it would appear in a .config file,
// without quoting.
func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		if v.B {
			return "y"
		}
		return "n"
	case KindNumber:
		return strconv.FormatInt(v.N, 10)
	default:
		return v.S
	}
}

// Equal compares two values. Values of the same kind compare natively;
// mixed kinds compare their rendered string forms.
func (v Value) Equal(o Value) bool {
	return v.Compare(o) == 0
}

// Compare orders two values: -1, 0 or 1.
func (v Value) Compare(o Value) int {
	if v.Kind == o.Kind {
		switch v.Kind {
		case KindBool:
			if v.B == o.B {
				return 0
			}
			if !v.B {
				return -1
			}
			return 1
		case KindNumber:
			switch {
			case v.N < o.N:
				return -1
			case v.N > o.N:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(v.String(), o.String())
}

// ParseNumber parses a decimal or 0x-prefixed hexadecimal literal.
func ParseNumber(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return 0, false
		}
		return int64(n), true
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
