// Package value defines the runtime value representation shared by the
// compiler's constant pool, the VM's stack, and the globals table.
package value

import "fmt"

type ValueType int

const (
	VAL_NIL ValueType = iota
	VAL_BOOL
	VAL_NUMBER
	VAL_OBJ // string
)

// Value is a tagged variant over {number, string, boolean, nil}. A string
// Value's buffer is a Go string, immutable and safe to share; copying a
// Value duplicates only the header, never the bytes, and no code path frees
// a string buffer explicitly.
type Value struct {
	Type     ValueType
	AsBool   bool
	AsNumber float64
	Obj      string // populated when Type == VAL_OBJ
}

func NewNil() Value             { return Value{Type: VAL_NIL} }
func NewBool(b bool) Value      { return Value{Type: VAL_BOOL, AsBool: b} }
func NewNumber(n float64) Value { return Value{Type: VAL_NUMBER, AsNumber: n} }
func NewString(s string) Value  { return Value{Type: VAL_OBJ, Obj: s} }

func (v Value) IsNil() bool    { return v.Type == VAL_NIL }
func (v Value) IsBool() bool   { return v.Type == VAL_BOOL }
func (v Value) IsNumber() bool { return v.Type == VAL_NUMBER }
func (v Value) IsString() bool { return v.Type == VAL_OBJ }

// Falsey reports whether v is falsey in a boolean context: nil and false
// are falsey, every other value (including 0 and "") is truthy.
func (v Value) Falsey() bool {
	return v.IsNil() || (v.IsBool() && !v.AsBool)
}

// Equal implements OP_EQUAL: values of different type are never equal; nil
// equals nil; otherwise compare by underlying Go value.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case VAL_NIL:
		return true
	case VAL_BOOL:
		return v.AsBool == o.AsBool
	case VAL_NUMBER:
		return v.AsNumber == o.AsNumber
	case VAL_OBJ:
		return v.Obj == o.Obj
	default:
		return false
	}
}

// String renders v the way the print builtin does: numbers via a fixed
// six-fractional-digit %f, booleans as true/false, nil as nil, strings
// verbatim.
func (v Value) String() string {
	switch v.Type {
	case VAL_NIL:
		return "nil"
	case VAL_BOOL:
		return fmt.Sprintf("%t", v.AsBool)
	case VAL_NUMBER:
		return fmt.Sprintf("%f", v.AsNumber)
	case VAL_OBJ:
		return v.Obj
	default:
		return "unknown"
	}
}

// TypeName names v's runtime type for diagnostics.
func (v Value) TypeName() string {
	switch v.Type {
	case VAL_NIL:
		return "nil"
	case VAL_BOOL:
		return "bool"
	case VAL_NUMBER:
		return "number"
	case VAL_OBJ:
		return "string"
	default:
		return "unknown"
	}
}
