package record

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Record is an immutable snapshot of one row at fetch time. Optional fields
// missing from the store are absent, not zeroed.
type Record struct {
	identity string
	serial   string
	fields   map[string]Value
}

// New builds a Record. The fields map is copied.
func New(identity, serial string, fields map[string]Value) *Record {
	cp := make(map[string]Value, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return &Record{identity: identity, serial: serial, fields: cp}
}

func (r *Record) Identity() string { return r.identity }
func (r *Record) Serial() string   { return r.serial }

// Watermark returns the (identity, serial) pair of the record.
func (r *Record) Watermark() Watermark {
	return Watermark{Identity: r.identity, Serial: r.serial}
}

// Field returns the named field and whether it is set.
func (r *Record) Field(name string) (Value, bool) {
	v, ok := r.fields[name]
	return v, ok
}

// Has reports whether the named field is set.
func (r *Record) Has(name string) bool {
	_, ok := r.fields[name]
	return ok
}

// Fields returns the names of set fields in sorted order.
func (r *Record) Fields() []string {
	names := make([]string, 0, len(r.fields))
	for k := range r.fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (r *Record) Float(name string) (float64, bool) {
	v, ok := r.fields[name]
	if !ok || v.kind != KindDecimal {
		return 0, false
	}
	return v.f, true
}

func (r *Record) Int(name string) (int64, bool) {
	v, ok := r.fields[name]
	if !ok || (v.kind != KindInteger && v.kind != KindCounter) {
		return 0, false
	}
	return v.i, true
}

func (r *Record) Time(name string) (time.Time, bool) {
	v, ok := r.fields[name]
	if !ok || v.kind != KindTimestamp {
		return time.Time{}, false
	}
	return v.t, true
}

func (r *Record) Text(name string) (string, bool) {
	v, ok := r.fields[name]
	if !ok || v.kind != KindText {
		return "", false
	}
	return v.s, true
}

func (r *Record) Bool(name string) (bool, bool) {
	v, ok := r.fields[name]
	if !ok || v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// Equal compares identity and serial only; other fields are ignored because
// identity+serial is the dedup key.
func (r *Record) Equal(other *Record) bool {
	if r == nil || other == nil {
		return r == other
	}
	return strings.EqualFold(r.identity, other.identity) && strings.EqualFold(r.serial, other.serial)
}

func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Identity string           `json:"identity"`
		Serial   string           `json:"serial"`
		Fields   map[string]Value `json:"fields"`
	}{r.identity, r.serial, r.fields})
}
