package sqlutil

import (
	"fmt"
	"regexp"
	"strings"
)

var identRe = regexp.MustCompile(`^[A-Za-z0-9_\.]+$`)

// Driver names accepted by the helpers in this package.
const (
	DriverSQLite    = "sqlite"
	DriverMySQL     = "mysql"
	DriverPostgres  = "postgres"
	DriverSQLServer = "sqlserver"
)

// Normalize maps driver aliases onto the canonical names above.
func Normalize(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "sqlite3":
		return DriverSQLite
	case "mysql", "mariadb":
		return DriverMySQL
	case "pgx", "postgres", "postgresql":
		return DriverPostgres
	case "mssql", "sqlserver":
		return DriverSQLServer
	}
	return ""
}

// QuoteIdent validates and quotes an SQL identifier (optionally schema-qualified)
// according to the target driver. It supports dot-separated identifiers like schema.table.
// Drivers: postgres -> "name", mysql/sqlite -> `name`, sqlserver -> [name].
func QuoteIdent(driver, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty identifier")
	}
	if !identRe.MatchString(name) {
		return "", fmt.Errorf("invalid identifier: %s", name)
	}
	parts := strings.Split(name, ".")

	quote := func(s string) string {
		switch Normalize(driver) {
		case DriverPostgres:
			return "\"" + s + "\""
		case DriverMySQL, DriverSQLite:
			return "`" + s + "`"
		case DriverSQLServer:
			return "[" + s + "]"
		default:
			return "\"" + s + "\""
		}
	}

	for i, p := range parts {
		if p == "" {
			return "", fmt.Errorf("invalid identifier: %s", name)
		}
		parts[i] = quote(p)
	}
	return strings.Join(parts, "."), nil
}

// Placeholder returns a placeholder suitable for the driver and 1-based index.
func Placeholder(driver string, index int) string {
	switch Normalize(driver) {
	case DriverPostgres:
		return fmt.Sprintf("$%d", index)
	case DriverSQLServer:
		return fmt.Sprintf("@p%d", index)
	default:
		return "?"
	}
}

// SplitTable splits an optionally schema-qualified table name.
func SplitTable(name string) (schema, table string) {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// SelectLimited builds "SELECT cols FROM from ORDER BY order" capped at limit rows,
// using TOP for sqlserver and LIMIT elsewhere.
func SelectLimited(driver, cols, from, order string, limit int) string {
	if Normalize(driver) == DriverSQLServer {
		return fmt.Sprintf("SELECT TOP (%d) %s FROM %s ORDER BY %s", limit, cols, from, order)
	}
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT %d", cols, from, order, limit)
}
