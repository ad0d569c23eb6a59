package host

import "encoding/json"

// ValueKind tags which field of Value is populated. Value is the
// typed-value codec for the WIT boundary: every value crossing the
// host/guest boundary carries both a payload and an AnalysedType
// describing its shape, so encode/decode round-trip losslessly for every
// WIT primitive and compound type.
type ValueKind string

const (
	KindBool   ValueKind = "bool"
	KindU8     ValueKind = "u8"
	KindU16    ValueKind = "u16"
	KindU32    ValueKind = "u32"
	KindU64    ValueKind = "u64"
	KindS8     ValueKind = "s8"
	KindS16    ValueKind = "s16"
	KindS32    ValueKind = "s32"
	KindS64    ValueKind = "s64"
	KindF32    ValueKind = "f32"
	KindF64    ValueKind = "f64"
	KindStr    ValueKind = "string"
	KindList   ValueKind = "list"
	KindRecord ValueKind = "record"
	KindVariant ValueKind = "variant"
	KindEnum   ValueKind = "enum"
	KindFlags  ValueKind = "flags"
	KindTuple  ValueKind = "tuple"
	KindOption ValueKind = "option"
	KindResult ValueKind = "result"
	KindHandle ValueKind = "handle"
)

// AnalysedType describes the WIT shape of a Value without carrying data,
// mirroring the original's TypeAnnotatedValue split between type and
// value. Compound types recurse through Elem/Fields/Cases.
type AnalysedType struct {
	Kind   ValueKind      `json:"kind"`
	Elem   *AnalysedType  `json:"elem,omitempty"`   // list, option
	Fields []NamedType    `json:"fields,omitempty"` // record, tuple(unnamed)
	Cases  []string       `json:"cases,omitempty"`  // variant, enum, flags
	Ok     *AnalysedType  `json:"ok,omitempty"`     // result
	Err    *AnalysedType  `json:"err,omitempty"`    // result
}

type NamedType struct {
	Name string       `json:"name"`
	Type AnalysedType `json:"type"`
}

// Value is a closed Go sum type over every WIT value shape. Exactly one
// field is populated, selected by Kind.
type Value struct {
	Kind ValueKind    `json:"kind"`
	Type AnalysedType `json:"type"`

	Bool    *bool           `json:"bool,omitempty"`
	Int     *int64          `json:"int,omitempty"`
	Uint    *uint64         `json:"uint,omitempty"`
	Float   *float64        `json:"float,omitempty"`
	Str     *string         `json:"str,omitempty"`
	List    []Value         `json:"list,omitempty"`
	Record  []NamedValue    `json:"record,omitempty"`
	Variant *VariantValue   `json:"variant,omitempty"`
	Enum    *string         `json:"enum,omitempty"`
	Flags   []string        `json:"flags,omitempty"`
	Tuple   []Value         `json:"tuple,omitempty"`
	Option  *Value          `json:"option,omitempty"` // nil means none
	Result  *ResultValue    `json:"result,omitempty"`
	Handle  *uint64         `json:"handle,omitempty"`
}

type NamedValue struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

type VariantValue struct {
	Case  string `json:"case"`
	Value *Value `json:"value,omitempty"`
}

type ResultValue struct {
	Ok  *Value `json:"ok,omitempty"`
	Err *Value `json:"err,omitempty"`
}

// Encode serializes a Value to the same JSON encoding the oplog uses for
// ImportedFunctionInvoked request/response payloads, so a host call's
// recorded bytes and a guest-visible Value round-trip through one format.
func Encode(v Value) ([]byte, error) {
	return json.Marshal(v)
}

// Decode is the inverse of Encode.
func Decode(raw []byte) (Value, error) {
	var v Value
	if err := json.Unmarshal(raw, &v); err != nil {
		return Value{}, err
	}
	return v, nil
}

// Bool/U64/Str etc. are convenience constructors used throughout the host
// surface to avoid repeating the Kind+pointer boilerplate at every call
// site.
func BoolValue(b bool) Value   { return Value{Kind: KindBool, Type: AnalysedType{Kind: KindBool}, Bool: &b} }
func U64Value(u uint64) Value  { return Value{Kind: KindU64, Type: AnalysedType{Kind: KindU64}, Uint: &u} }
func S64Value(i int64) Value   { return Value{Kind: KindS64, Type: AnalysedType{Kind: KindS64}, Int: &i} }
func F64Value(f float64) Value { return Value{Kind: KindF64, Type: AnalysedType{Kind: KindF64}, Float: &f} }
func StrValue(s string) Value  { return Value{Kind: KindStr, Type: AnalysedType{Kind: KindStr}, Str: &s} }
