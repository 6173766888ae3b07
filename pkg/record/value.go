package record

import (
	"encoding/json"
	"strconv"
	"time"
)

// Kind names how a field is interpreted once it leaves the store.
type Kind string

const (
	KindText      Kind = "text"
	KindDecimal   Kind = "decimal"
	KindInteger   Kind = "integer"
	KindTimestamp Kind = "timestamp"
	KindCounter   Kind = "counter"
	KindBool      Kind = "bool"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindDecimal, KindInteger, KindTimestamp, KindCounter, KindBool:
		return true
	}
	return false
}

// Value is a decoded, typed field value. The zero Value is not valid; fields
// that could not be decoded are left out of a Record instead.
type Value struct {
	kind Kind
	s    string
	f    float64
	i    int64
	t    time.Time
	b    bool
}

func TextValue(s string) Value         { return Value{kind: KindText, s: s} }
func DecimalValue(f float64) Value     { return Value{kind: KindDecimal, f: f} }
func IntegerValue(i int64) Value       { return Value{kind: KindInteger, i: i} }
func CounterValue(i int64) Value       { return Value{kind: KindCounter, i: i} }
func TimestampValue(t time.Time) Value { return Value{kind: KindTimestamp, t: t} }
func BoolValue(b bool) Value           { return Value{kind: KindBool, b: b} }

// ZeroValue returns the zero of the given kind, used by the "zero" fallback.
func ZeroValue(k Kind) Value {
	return Value{kind: k}
}

func (v Value) Kind() Kind      { return v.kind }
func (v Value) Text() string    { return v.s }
func (v Value) Float() float64  { return v.f }
func (v Value) Int() int64      { return v.i }
func (v Value) Time() time.Time { return v.t }
func (v Value) Bool() bool      { return v.b }

// Interface returns the value as a plain Go value.
func (v Value) Interface() any {
	switch v.kind {
	case KindText:
		return v.s
	case KindDecimal:
		return v.f
	case KindInteger, KindCounter:
		return v.i
	case KindTimestamp:
		return v.t
	case KindBool:
		return v.b
	}
	return nil
}

func (v Value) String() string {
	switch v.kind {
	case KindText:
		return v.s
	case KindDecimal:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindInteger, KindCounter:
		return strconv.FormatInt(v.i, 10)
	case KindTimestamp:
		return v.t.Format(time.RFC3339)
	case KindBool:
		return strconv.FormatBool(v.b)
	}
	return ""
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindTimestamp {
		return json.Marshal(v.t.Format(time.RFC3339Nano))
	}
	return json.Marshal(v.Interface())
}
