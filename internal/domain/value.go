package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// ValueKind discriminates the scalar types a field value can hold.
type ValueKind string

const (
	ValueString ValueKind = "string"
	ValueNumber ValueKind = "number"
	ValueBool   ValueKind = "bool"
)

// Value is a tagged scalar extracted from an utterance or supplied by the
// parser. Numeric values are decimals so derivation arithmetic stays exact;
// parser output is converted once at the client boundary and everything
// downstream works with typed values.
type Value struct {
	Kind ValueKind
	Str  string
	Num  decimal.Decimal
	Flag bool
}

func String(s string) Value {
	return Value{Kind: ValueString, Str: s}
}

func Number(d decimal.Decimal) Value {
	return Value{Kind: ValueNumber, Num: d}
}

func NumberFromFloat(f float64) Value {
	return Value{Kind: ValueNumber, Num: decimal.NewFromFloat(f)}
}

func Bool(b bool) Value {
	return Value{Kind: ValueBool, Flag: b}
}

// Decimal returns the numeric value, reporting false for non-numeric kinds.
func (v Value) Decimal() (decimal.Decimal, bool) {
	if v.Kind != ValueNumber {
		return decimal.Decimal{}, false
	}
	return v.Num, true
}

// IsZero reports whether the value is a numeric zero. Non-numeric values are
// never zero for the purpose of secondary-rule predicates.
func (v Value) IsZero() bool {
	return v.Kind == ValueNumber && v.Num.IsZero()
}

func (v Value) String() string {
	switch v.Kind {
	case ValueString:
		return v.Str
	case ValueNumber:
		return v.Num.String()
	case ValueBool:
		return fmt.Sprintf("%t", v.Flag)
	}
	return ""
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueString:
		return json.Marshal(v.Str)
	case ValueNumber:
		return json.Marshal(json.RawMessage(v.Num.String()))
	case ValueBool:
		return json.Marshal(v.Flag)
	}
	return []byte("null"), nil
}

func (v *Value) UnmarshalJSON(b []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	converted, err := ValueFromAny(raw)
	if err != nil {
		return err
	}
	*v = converted
	return nil
}

// ValueFromAny converts an untyped JSON scalar into a Value. Nested objects
// and arrays are rejected; the caller drops them with a diagnostic.
func ValueFromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return Value{}, fmt.Errorf("parsing number %q: %w", t.String(), err)
		}
		return Number(d), nil
	case float64:
		return NumberFromFloat(t), nil
	case int:
		return Number(decimal.NewFromInt(int64(t))), nil
	case int64:
		return Number(decimal.NewFromInt(t)), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", raw)
	}
}
