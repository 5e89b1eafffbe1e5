package dts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/robert-at-pretension-io/kconfig-dts/internal/diag"
)

// ValueKind is the variant of a PropertyValue.
type ValueKind int

const (
	KindString ValueKind = iota + 1
	KindBool
	KindInt
	// KindExpression is a parenthesised cell expression; Int holds its
	// value.
	KindExpression
	KindArray
	KindBytestring
	KindPHandle
)

var kindNames = [...]string{
	KindString:     "string",
	KindBool:       "bool",
	KindInt:        "int",
	KindExpression: "expression",
	KindArray:      "array",
	KindBytestring: "bytestring",
	KindPHandle:    "phandle",
}

func (k ValueKind) String() string {
	if k > 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// PHandle is a reference to a node by label or by path.
type PHandle struct {
	Label string
	Path  string
	Loc   diag.Location
}

func (p *PHandle) String() string {
	if p.Path != "" {
		return "&{" + p.Path + "}"
	}
	return "&" + p.Label
}

// PropertyValue is one comma-separated component of a property value.
// Array values hold their cells, each of kind Int, Expression or PHandle.
type PropertyValue struct {
	Kind  ValueKind
	Str   string
	Int   int64
	Expr  string
	Bytes []byte
	Cells []PropertyValue
	Ref   *PHandle
	// Bits is the cell width of an array, 32 unless set with /bits/.
	Bits int
	Loc  diag.Location
}

// IsCell reports whether v can appear inside an array.
func (v PropertyValue) IsCell() bool {
	return v.Kind == KindInt || v.Kind == KindExpression || v.Kind == KindPHandle
}

// Number returns the integer value of an Int or Expression cell.
func (v PropertyValue) Number() (int64, bool) {
	if v.Kind == KindInt || v.Kind == KindExpression {
		return v.Int, true
	}
	return 0, false
}

func (v PropertyValue) String() string {
	switch v.Kind {
	case KindString:
		return strconv.Quote(v.Str)
	case KindBool:
		return "true"
	case KindInt:
		return formatCell(v.Int)
	case KindExpression:
		return v.Expr
	case KindPHandle:
		return v.Ref.String()
	case KindBytestring:
		parts := make([]string, len(v.Bytes))
		for i, b := range v.Bytes {
			parts[i] = fmt.Sprintf("%02x", b)
		}
		return "[" + strings.Join(parts, " ") + "]"
	case KindArray:
		parts := make([]string, len(v.Cells))
		for i, c := range v.Cells {
			parts[i] = c.String()
		}
		s := "<" + strings.Join(parts, " ") + ">"
		if v.Bits != 0 && v.Bits != 32 {
			s = fmt.Sprintf("/bits/ %d %s", v.Bits, s)
		}
		return s
	}
	return "?"
}

func formatCell(n int64) string {
	if n >= 0 && n < 10 {
		return strconv.FormatInt(n, 10)
	}
	return fmt.Sprintf("0x%x", n)
}

// ValueType is the type label derived from a value's shape. The labels
// follow the binding type names.
type ValueType string

const (
	TypeEmpty        ValueType = ""
	TypeBoolean      ValueType = "boolean"
	TypeInt          ValueType = "int"
	TypeArray        ValueType = "array"
	TypeString       ValueType = "string"
	TypeStringArray  ValueType = "string-array"
	TypeBytes        ValueType = "uint8-array"
	TypePHandle      ValueType = "phandle"
	TypePHandles     ValueType = "phandles"
	TypePHandleArray ValueType = "phandle-array"
	TypePath         ValueType = "path"
	TypeCompound     ValueType = "compound"
)

// Classify derives the type of a property value list.
func Classify(values []PropertyValue) ValueType {
	if len(values) == 0 {
		return TypeEmpty
	}
	var strs, bools, bytes, refs, arrays int
	for _, v := range values {
		switch v.Kind {
		case KindString:
			strs++
		case KindBool:
			bools++
		case KindBytestring:
			bytes++
		case KindPHandle:
			refs++
		case KindArray:
			arrays++
		}
	}
	n := len(values)
	switch {
	case bools == n:
		return TypeBoolean
	case strs == n && n == 1:
		return TypeString
	case strs == n:
		return TypeStringArray
	case bytes == 1 && n == 1:
		return TypeBytes
	case refs == 1 && n == 1:
		return TypePath
	case arrays == n:
		return classifyCells(values)
	}
	return TypeCompound
}

func classifyCells(arrays []PropertyValue) ValueType {
	var cells, handles int
	for _, a := range arrays {
		for _, c := range a.Cells {
			cells++
			if c.Kind == KindPHandle {
				handles++
			}
		}
	}
	switch {
	case cells == 0:
		return TypeArray
	case handles == 0 && cells == 1:
		return TypeInt
	case handles == 0:
		return TypeArray
	case handles == cells && cells == 1:
		return TypePHandle
	case handles == cells:
		return TypePHandles
	}
	return TypePHandleArray
}
