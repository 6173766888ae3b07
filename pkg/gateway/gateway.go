package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/user/rowwatch"
	"github.com/user/rowwatch/pkg/record"
	"github.com/user/rowwatch/pkg/sqlutil"
)

// DefaultBatchSize is the row cap used when FetchRecent gets a non-positive limit.
const DefaultBatchSize = 50

// Config describes the watched store.
type Config struct {
	Driver         string              `json:"driver" yaml:"driver"`
	DSN            string              `json:"dsn" yaml:"dsn"`
	IdentityColumn string              `json:"identity_column" yaml:"identity_column"`
	SerialColumn   string              `json:"serial_column" yaml:"serial_column"`
	Fields         []record.Descriptor `json:"fields" yaml:"fields"`
}

func (c Config) Validate() error {
	if sqlutil.Normalize(c.Driver) == "" {
		return fmt.Errorf("unsupported driver %q", c.Driver)
	}
	if strings.TrimSpace(c.DSN) == "" {
		return errors.New("dsn is empty")
	}
	if c.IdentityColumn == "" {
		return errors.New("identity column is empty")
	}
	if c.SerialColumn == "" {
		return errors.New("serial column is empty")
	}
	for _, d := range c.Fields {
		if err := d.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SQLGateway reads the watched table through database/sql. It keeps no state
// between calls.
type SQLGateway struct {
	config Config
	opener func(driverName, dsn string) (*sql.DB, error)

	mu     sync.Mutex
	logger rowwatch.Logger
}

// New creates a gateway. Fields defaults to record.DefaultDescriptors.
func New(config Config) (*SQLGateway, error) {
	if config.Fields == nil {
		config.Fields = record.DefaultDescriptors()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gateway config: %w", err)
	}
	return &SQLGateway{
		config: config,
		opener: sql.Open,
		logger: rowwatch.NopLogger{},
	}, nil
}

// SetLogger sets the logger for the gateway.
func (g *SQLGateway) SetLogger(logger rowwatch.Logger) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if logger == nil {
		logger = rowwatch.NopLogger{}
	}
	g.logger = logger
}

func (g *SQLGateway) getLogger() rowwatch.Logger {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.logger
}

// Driver returns the canonical driver name.
func (g *SQLGateway) Driver() string {
	return sqlutil.Normalize(g.config.Driver)
}

// FetchWatermark returns the row with the greatest serial, or nil when the
// table is empty.
func (g *SQLGateway) FetchWatermark(ctx context.Context, table string) (*record.Record, error) {
	recs, err := g.fetch(ctx, "fetch_watermark", table, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

// FetchRecent returns up to limit rows, most recent first.
func (g *SQLGateway) FetchRecent(ctx context.Context, table string, limit int) ([]*record.Record, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	return g.fetch(ctx, "fetch_recent", table, limit)
}

// Probe runs a trivial count on a fresh session. It never panics.
func (g *SQLGateway) Probe(ctx context.Context, table string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			g.getLogger().Warn("Store probe panicked", "table", table, "panic", r)
			ok = false
		}
	}()
	return g.count(ctx, "probe", table) == nil
}

// Verify reopens a session and runs a trivial query, returning the
// classified error on failure.
func (g *SQLGateway) Verify(ctx context.Context, table string) error {
	return g.count(ctx, "verify", table)
}

func (g *SQLGateway) count(ctx context.Context, op, table string) error {
	start := time.Now()
	defer observeQuery(op, start)

	from, err := sqlutil.QuoteIdent(g.Driver(), table)
	if err != nil {
		return &rowwatch.QueryError{Op: op, Table: table, Err: err}
	}
	s, err := g.open(ctx, op, table)
	if err != nil {
		return err
	}
	defer s.close()

	var n int64
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(queryCountFormat, from)).Scan(&n); err != nil {
		return &rowwatch.QueryError{Op: op, Table: table, Err: err}
	}
	return nil
}

// plan is the column layout of one read, resolved against the live schema.
type plan struct {
	identity string
	serial   string // empty when the store has no serial column
	fields   []plannedField
	absent   []record.Descriptor
}

type plannedField struct {
	desc   record.Descriptor
	column string
}

func (g *SQLGateway) plan(ctx context.Context, s *session, op string) (*plan, error) {
	if _, err := s.loadColumns(ctx, op); err != nil {
		return nil, err
	}
	p := &plan{}
	var ok bool
	if p.identity, ok = s.column(g.config.IdentityColumn); !ok {
		return nil, &rowwatch.QueryError{Op: op, Table: s.table, Err: fmt.Errorf("identity column %s not found", g.config.IdentityColumn)}
	}
	if serial, ok := s.column(g.config.SerialColumn); ok {
		p.serial = serial
	} else {
		g.getLogger().Warn("Serial column missing, ordering by identity", "table", s.table, "column", g.config.SerialColumn)
	}
	for _, d := range g.config.Fields {
		if col, ok := s.column(d.ColumnName()); ok {
			p.fields = append(p.fields, plannedField{desc: d, column: col})
		} else {
			p.absent = append(p.absent, d)
		}
	}
	return p, nil
}

func (p *plan) selectList(driver string) (string, error) {
	names := []string{p.identity}
	if p.serial != "" {
		names = append(names, p.serial)
	}
	for _, f := range p.fields {
		names = append(names, f.column)
	}
	quoted := make([]string, len(names))
	for i, n := range names {
		q, err := sqlutil.QuoteIdent(driver, n)
		if err != nil {
			return "", err
		}
		quoted[i] = q
	}
	return strings.Join(quoted, ", "), nil
}

func (p *plan) orderBy(driver string) (string, error) {
	id, err := sqlutil.QuoteIdent(driver, p.identity)
	if err != nil {
		return "", err
	}
	if p.serial == "" {
		return id + " DESC", nil
	}
	serial, err := sqlutil.QuoteIdent(driver, p.serial)
	if err != nil {
		return "", err
	}
	return serial + " DESC, " + id + " DESC", nil
}

func (g *SQLGateway) fetch(ctx context.Context, op, table string, limit int) ([]*record.Record, error) {
	start := time.Now()
	defer observeQuery(op, start)

	driver := g.Driver()
	from, err := sqlutil.QuoteIdent(driver, table)
	if err != nil {
		return nil, &rowwatch.QueryError{Op: op, Table: table, Err: err}
	}

	s, err := g.open(ctx, op, table)
	if err != nil {
		return nil, err
	}
	defer s.close()

	p, err := g.plan(ctx, s, op)
	if err != nil {
		return nil, err
	}
	cols, err := p.selectList(driver)
	if err != nil {
		return nil, &rowwatch.QueryError{Op: op, Table: table, Err: err}
	}
	order, err := p.orderBy(driver)
	if err != nil {
		return nil, &rowwatch.QueryError{Op: op, Table: table, Err: err}
	}

	query := sqlutil.SelectLimited(driver, cols, from, order, limit)
	g.getLogger().Debug("Executing store query", "op", op, "query", query)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &rowwatch.QueryError{Op: op, Table: table, Err: err}
	}
	defer rows.Close()

	var recs []*record.Record
	for rows.Next() {
		rec, err := g.scan(rows, p, table)
		if err != nil {
			return nil, &rowwatch.QueryError{Op: op, Table: table, Err: err}
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &rowwatch.QueryError{Op: op, Table: table, Err: err}
	}
	return recs, nil
}
