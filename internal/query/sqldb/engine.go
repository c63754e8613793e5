package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/query"
)

// internalTablePrefix hides bookkeeping tables such as the seed
// migration ledger from the model.
const internalTablePrefix = "askdb_"

type Engine struct {
	DB      *sql.DB
	Dialect Dialect
}

func NewEngine(db *sql.DB, dialect Dialect) *Engine {
	return &Engine{DB: db, Dialect: dialect}
}

func (e *Engine) DialectName() string {
	return e.Dialect.Name
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	if e.DB == nil {
		return query.Result{}, fmt.Errorf("database is required")
	}
	sqlText := stripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}

	start := time.Now()
	rows, err := e.DB.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, resultRows, truncated, err := scanRows(rows, request.RowLimit)
	if err != nil {
		return query.Result{}, err
	}

	return query.Result{
		Columns:   columns,
		Rows:      resultRows,
		Truncated: truncated,
		Duration:  time.Since(start),
	}, nil
}

func (e *Engine) UsableTableNames(ctx context.Context) ([]string, error) {
	if e.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	rows, err := e.DB.QueryContext(ctx, e.Dialect.TablesQuery)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		if strings.HasPrefix(strings.ToLower(name), internalTablePrefix) {
			continue
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table names: %w", err)
	}
	return names, nil
}

// ProbeColumns re-issues the statement without fetching rows to learn
// its column names.
func (e *Engine) ProbeColumns(ctx context.Context, sqlText string) ([]string, error) {
	if e.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	inner := stripTrailingSemicolons(sqlText)
	if inner == "" {
		return nil, fmt.Errorf("sql is required")
	}
	rows, err := e.DB.QueryContext(ctx, fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT 0", inner))
	if err != nil {
		return nil, fmt.Errorf("probe columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("probe columns: %w", err)
	}
	return columns, nil
}

func (e *Engine) DescribeTables(ctx context.Context, sampleRows int) ([]query.TableInfo, error) {
	names, err := e.UsableTableNames(ctx)
	if err != nil {
		return nil, err
	}
	if sampleRows < 0 {
		sampleRows = 0
	}

	tables := make([]query.TableInfo, 0, len(names))
	for _, name := range names {
		sqlText := fmt.Sprintf("SELECT * FROM %s LIMIT %d", e.Dialect.QuoteIdent(name), sampleRows)
		rows, err := e.DB.QueryContext(ctx, sqlText)
		if err != nil {
			return nil, fmt.Errorf("describe table %q: %w", name, err)
		}
		columns, sample, _, err := scanRows(rows, sampleRows)
		_ = rows.Close()
		if err != nil {
			return nil, fmt.Errorf("describe table %q: %w", name, err)
		}
		tables = append(tables, query.TableInfo{Name: name, Columns: columns, SampleRows: sample})
	}
	return tables, nil
}

func scanRows(rows *sql.Rows, limit int) ([]string, [][]any, bool, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, false, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	truncated := false
	for rows.Next() {
		if limit > 0 && len(resultRows) == limit {
			truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, nil, false, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return nil, nil, false, fmt.Errorf("iterate rows: %w", err)
	}
	return columns, resultRows, truncated, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
