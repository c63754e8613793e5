package sqldb

import (
	"fmt"
	"strings"
)

// Dialect holds the per-driver SQL the engine needs.
type Dialect struct {
	// Name is shown to the model, e.g. "DuckDB".
	Name        string
	TablesQuery string
	quote       byte
}

var (
	DuckDB = Dialect{
		Name:        "DuckDB",
		TablesQuery: `SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() ORDER BY table_name`,
		quote:       '"',
	}
	Postgres = Dialect{
		Name:        "PostgreSQL",
		TablesQuery: `SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() ORDER BY table_name`,
		quote:       '"',
	}
	MySQL = Dialect{
		Name:        "MySQL",
		TablesQuery: `SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() ORDER BY table_name`,
		quote:       '`',
	}
)

func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "duckdb":
		return DuckDB, nil
	case "postgres", "pgx":
		return Postgres, nil
	case "mysql":
		return MySQL, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported driver %q", driver)
	}
}

func (d Dialect) QuoteIdent(value string) string {
	q := string(d.quote)
	return q + strings.ReplaceAll(value, q, q+q) + q
}
