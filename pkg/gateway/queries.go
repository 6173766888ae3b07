package gateway

import (
	"fmt"

	"github.com/user/rowwatch/pkg/sqlutil"
)

const (
	queryColumnsSQLite = `SELECT name FROM pragma_table_info(%s)`

	queryColumnsMySQL = `
		SELECT COLUMN_NAME FROM information_schema.columns
		WHERE table_schema = COALESCE(NULLIF(%[1]s, ''), DATABASE()) AND LOWER(table_name) = LOWER(%[2]s)
		ORDER BY ORDINAL_POSITION`

	queryColumnsPostgres = `
		SELECT column_name FROM information_schema.columns
		WHERE table_schema = COALESCE(NULLIF(%[1]s, ''), current_schema()) AND LOWER(table_name) = LOWER(%[2]s)
		ORDER BY ordinal_position`

	queryColumnsSQLServer = `
		SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS
		WHERE (%[1]s = '' OR TABLE_SCHEMA = %[1]s) AND LOWER(TABLE_NAME) = LOWER(%[2]s)
		ORDER BY ORDINAL_POSITION`

	queryCountFormat = "SELECT COUNT(*) FROM %s"
)

// columnsQuery returns the metadata query and its arguments for the driver.
func columnsQuery(driver, schema, table string) (string, []any) {
	ph := func(i int) string { return sqlutil.Placeholder(driver, i) }
	switch sqlutil.Normalize(driver) {
	case sqlutil.DriverMySQL:
		return fmt.Sprintf(queryColumnsMySQL, ph(1), ph(2)), []any{schema, table}
	case sqlutil.DriverPostgres:
		return fmt.Sprintf(queryColumnsPostgres, ph(1), ph(2)), []any{schema, table}
	case sqlutil.DriverSQLServer:
		return fmt.Sprintf(queryColumnsSQLServer, ph(1), ph(2)), []any{schema, table}
	default:
		return fmt.Sprintf(queryColumnsSQLite, ph(1)), []any{table}
	}
}

// driverName maps a canonical driver onto the database/sql registration name.
func driverName(driver string) string {
	switch sqlutil.Normalize(driver) {
	case sqlutil.DriverPostgres:
		return "pgx"
	case sqlutil.DriverMySQL:
		return "mysql"
	case sqlutil.DriverSQLServer:
		return "sqlserver"
	case sqlutil.DriverSQLite:
		return "sqlite"
	}
	return ""
}
