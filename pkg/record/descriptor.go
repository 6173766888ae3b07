package record

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Fallback is what a field becomes when its stored value cannot be decoded.
type Fallback string

const (
	FallbackUnset Fallback = "unset"
	FallbackZero  Fallback = "zero"
)

// Descriptor declares one optional field: where it lives in the store and how
// it is decoded.
type Descriptor struct {
	Name     string   `json:"name" yaml:"name"`
	Column   string   `json:"column" yaml:"column"`
	Kind     Kind     `json:"kind" yaml:"kind"`
	Fallback Fallback `json:"fallback,omitempty" yaml:"fallback,omitempty"`
}

// EffectiveFallback resolves the fallback policy; counters always fall back to zero.
func (d Descriptor) EffectiveFallback() Fallback {
	if d.Kind == KindCounter {
		return FallbackZero
	}
	if d.Fallback == "" {
		return FallbackUnset
	}
	return d.Fallback
}

// ColumnName returns the store column, defaulting to the field name.
func (d Descriptor) ColumnName() string {
	if d.Column != "" {
		return d.Column
	}
	return d.Name
}

func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("descriptor name is empty")
	}
	if !d.Kind.Valid() {
		return fmt.Errorf("descriptor %s: unknown kind %q", d.Name, d.Kind)
	}
	switch d.Fallback {
	case "", FallbackUnset, FallbackZero:
	default:
		return fmt.Errorf("descriptor %s: unknown fallback %q", d.Name, d.Fallback)
	}
	return nil
}

// DefaultDescriptors describes the test-result table the label pipeline reads.
func DefaultDescriptors() []Descriptor {
	return []Descriptor{
		{Name: "test_date", Column: "TestDate", Kind: KindTimestamp},
		{Name: "model", Column: "Model", Kind: KindText},
		{Name: "voltage", Column: "Voltage", Kind: KindDecimal},
		{Name: "current", Column: "Current", Kind: KindDecimal},
		{Name: "resistance", Column: "Resistance", Kind: KindDecimal},
		{Name: "passed", Column: "Passed", Kind: KindBool},
		{Name: "operator", Column: "Operator", Kind: KindText},
		{Name: "notes", Column: "Notes", Kind: KindText},
		{Name: "retest_count", Column: "RetestCount", Kind: KindCounter},
	}
}

// DecodeError reports a single field that could not be interpreted.
type DecodeError struct {
	Field  string
	Column string
	Value  any
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode field %s (column %s) from %T: %v", e.Field, e.Column, e.Value, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

var errNoRepresentation = errors.New("no accepted representation")

// timeLayouts are tried in order when a timestamp arrives as text.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"1/2/2006 3:04:05 PM",
	"01/02/2006",
}

type step func(raw any) (Value, bool)

// strategies lists the accepted source representations per kind, in order.
var strategies = map[Kind][]step{
	KindText:      {textFromString, textFromBytes, textFromAny},
	KindDecimal:   {decimalFromFloat, decimalFromInt, decimalFromText},
	KindInteger:   {integerFromInt, integerFromFloat, integerFromText},
	KindCounter:   {counterFromInt, counterFromFloat, counterFromText},
	KindTimestamp: {timestampFromTime, timestampFromText, timestampFromUnix},
	KindBool:      {boolFromBool, boolFromInt, boolFromText},
}

// Decode interprets raw according to d. A nil raw value yields ok=false and no
// error: NULL is absence, not drift. Counters treat NULL as zero.
func Decode(d Descriptor, raw any) (v Value, ok bool, err error) {
	if raw == nil {
		if d.Kind == KindCounter {
			return CounterValue(0), true, nil
		}
		return Value{}, false, nil
	}
	for _, try := range strategies[d.Kind] {
		if v, ok := try(raw); ok {
			return v, true, nil
		}
	}
	derr := &DecodeError{Field: d.Name, Column: d.ColumnName(), Value: raw, Err: errNoRepresentation}
	if d.EffectiveFallback() == FallbackZero {
		return ZeroValue(d.Kind), true, derr
	}
	return Value{}, false, derr
}

// Stringify renders an identity or serial column as text.
func Stringify(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int:
		return strconv.Itoa(v)
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return Stringify(float64(v))
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprintf("%v", raw)
}

func asText(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v), true
	case []byte:
		return strings.TrimSpace(string(v)), true
	}
	return "", false
}

func asInt(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int:
		return int64(v), true
	case int16:
		return int64(v), true
	case int8:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case uint:
		if uint64(v) > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	}
	return 0, false
}

func asFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	}
	return 0, false
}

func textFromString(raw any) (Value, bool) {
	s, ok := raw.(string)
	return TextValue(s), ok
}

func textFromBytes(raw any) (Value, bool) {
	b, ok := raw.([]byte)
	return TextValue(string(b)), ok
}

func textFromAny(raw any) (Value, bool) {
	return TextValue(Stringify(raw)), true
}

func decimalFromFloat(raw any) (Value, bool) {
	f, ok := asFloat(raw)
	return DecimalValue(f), ok
}

func decimalFromInt(raw any) (Value, bool) {
	i, ok := asInt(raw)
	return DecimalValue(float64(i)), ok
}

func decimalFromText(raw any) (Value, bool) {
	s, ok := asText(raw)
	if !ok {
		return Value{}, false
	}
	// Some locales store decimals with a comma separator.
	f, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil {
		return Value{}, false
	}
	return DecimalValue(f), true
}

func integerFromInt(raw any) (Value, bool) {
	i, ok := asInt(raw)
	return IntegerValue(i), ok
}

func integerFromFloat(raw any) (Value, bool) {
	f, ok := asFloat(raw)
	if !ok || f != math.Trunc(f) {
		return Value{}, false
	}
	return IntegerValue(int64(f)), true
}

func integerFromText(raw any) (Value, bool) {
	s, ok := asText(raw)
	if !ok {
		return Value{}, false
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Value{}, false
	}
	return IntegerValue(i), true
}

func counterFromInt(raw any) (Value, bool) {
	v, ok := integerFromInt(raw)
	return CounterValue(v.i), ok
}

func counterFromFloat(raw any) (Value, bool) {
	v, ok := integerFromFloat(raw)
	return CounterValue(v.i), ok
}

func counterFromText(raw any) (Value, bool) {
	v, ok := integerFromText(raw)
	return CounterValue(v.i), ok
}

func timestampFromTime(raw any) (Value, bool) {
	t, ok := raw.(time.Time)
	return TimestampValue(t), ok
}

func timestampFromText(raw any) (Value, bool) {
	s, ok := asText(raw)
	if !ok || s == "" {
		return Value{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return TimestampValue(t), true
		}
	}
	return Value{}, false
}

func timestampFromUnix(raw any) (Value, bool) {
	i, ok := asInt(raw)
	if !ok {
		return Value{}, false
	}
	return TimestampValue(time.Unix(i, 0).UTC()), true
}

func boolFromBool(raw any) (Value, bool) {
	b, ok := raw.(bool)
	return BoolValue(b), ok
}

func boolFromInt(raw any) (Value, bool) {
	i, ok := asInt(raw)
	if !ok {
		return Value{}, false
	}
	return BoolValue(i != 0), true
}

func boolFromText(raw any) (Value, bool) {
	s, ok := asText(raw)
	if !ok {
		return Value{}, false
	}
	switch strings.ToLower(s) {
	case "yes", "y", "pass", "passed", "ok":
		return BoolValue(true), true
	case "no", "n", "fail", "failed":
		return BoolValue(false), true
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return Value{}, false
	}
	return BoolValue(b), true
}
