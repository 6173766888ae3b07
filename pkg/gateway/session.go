package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	"github.com/user/rowwatch"
	"github.com/user/rowwatch/pkg/sqlutil"
	_ "modernc.org/sqlite"
)

// session is a short-lived handle to the store. A fresh session per call is
// what lets us observe commits made by other writers.
type session struct {
	db      *sql.DB
	driver  string
	table   string
	columns map[string]string // lower(column) -> column as stored
}

func (g *SQLGateway) open(ctx context.Context, op, table string) (*session, error) {
	driver := sqlutil.Normalize(g.config.Driver)
	if driver == sqlutil.DriverSQLite {
		if err := checkSQLiteFile(g.config.DSN); err != nil {
			return nil, &rowwatch.ConnectionError{Op: op, Err: err}
		}
	}

	dsn := g.config.DSN
	if driver == sqlutil.DriverSQLite && !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)"
	}

	db, err := g.opener(driverName(driver), dsn)
	if err != nil {
		return nil, &rowwatch.ConnectionError{Op: op, Err: fmt.Errorf("failed to open %s connection: %w", driver, err)}
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &rowwatch.ConnectionError{Op: op, Err: fmt.Errorf("failed to ping %s database: %w", driver, err)}
	}
	return &session{db: db, driver: driver, table: table}, nil
}

// checkSQLiteFile refuses to let the driver create an empty database where the
// watched file should be.
func checkSQLiteFile(dsn string) error {
	path := dsn
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimPrefix(path, "file:")
	if path == "" || path == ":memory:" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("store file %s does not exist", path)
		}
		return fmt.Errorf("store file %s: %w", path, err)
	}
	return nil
}

func (s *session) close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

// loadColumns reads the table's column set once per session.
func (s *session) loadColumns(ctx context.Context, op string) (map[string]string, error) {
	if s.columns != nil {
		return s.columns, nil
	}
	schema, table := sqlutil.SplitTable(s.table)
	query, args := columnsQuery(s.driver, schema, table)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &rowwatch.QueryError{Op: op, Table: s.table, Err: fmt.Errorf("failed to read column metadata: %w", err)}
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &rowwatch.QueryError{Op: op, Table: s.table, Err: err}
		}
		cols[strings.ToLower(name)] = name
	}
	if err := rows.Err(); err != nil {
		return nil, &rowwatch.QueryError{Op: op, Table: s.table, Err: err}
	}
	if len(cols) == 0 {
		return nil, &rowwatch.QueryError{Op: op, Table: s.table, Err: fmt.Errorf("table %s not found", s.table)}
	}
	s.columns = cols
	return cols, nil
}

// column resolves a configured column against the session's column set.
func (s *session) column(name string) (string, bool) {
	actual, ok := s.columns[strings.ToLower(name)]
	return actual, ok
}
