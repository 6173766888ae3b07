package gateway

import (
	"database/sql"
	"errors"

	"github.com/user/rowwatch/pkg/record"
)

// scan turns the current row into a Record by walking the plan's descriptor
// table. Decode failures are absorbed per field.
func (g *SQLGateway) scan(rows *sql.Rows, p *plan, table string) (*record.Record, error) {
	n := 1 + len(p.fields)
	if p.serial != "" {
		n++
	}
	values := make([]any, n)
	ptrs := make([]any, n)
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}

	identity := record.Stringify(values[0])
	idx := 1
	serial := ""
	if p.serial != "" {
		serial = record.Stringify(values[1])
		idx = 2
	}

	fields := make(map[string]record.Value, len(p.fields)+len(p.absent))
	for i, f := range p.fields {
		raw := values[idx+i]
		v, ok, err := record.Decode(f.desc, raw)
		if err != nil {
			g.reportDecodeError(table, identity, err)
		}
		if ok {
			fields[f.desc.Name] = v
		}
	}
	for _, d := range p.absent {
		// A missing counter column means zero occurrences.
		if d.Kind == record.KindCounter {
			fields[d.Name] = record.CounterValue(0)
		}
	}
	return record.New(identity, serial, fields), nil
}

func (g *SQLGateway) reportDecodeError(table, identity string, err error) {
	var derr *record.DecodeError
	if !errors.As(err, &derr) {
		g.getLogger().Warn("Field decode failed", "table", table, "identity", identity, "error", err)
		return
	}
	decodeErrors.WithLabelValues(derr.Field).Inc()
	g.getLogger().Warn("Field decode failed, applying fallback",
		"table", table,
		"identity", identity,
		"field", derr.Field,
		"column", derr.Column,
		"value_type", typeName(derr.Value),
		"error", derr.Err,
	)
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	switch v.(type) {
	case []byte:
		return "bytes"
	case string:
		return "string"
	case int64:
		return "int64"
	case float64:
		return "float64"
	}
	return "other"
}
