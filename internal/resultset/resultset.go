package resultset

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type Kind string

const (
	KindTable  Kind = "table"
	KindOpaque Kind = "opaque"
)

const emptyStructured = "[]"

// Raw is whatever came back from the database boundary. Rows is non-nil
// only when the driver returned structured rows.
type Raw struct {
	SQL     string
	Columns []string
	Rows    [][]any
	Text    string
	Scalar  any
}

type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Result is either a Table or an opaque value shown as-is.
type Result struct {
	Kind    Kind
	Table   Table
	Opaque  any
	Warning *NormalizationError
}

// NormalizationError explains why a result was shown opaque instead of
// as a table.
type NormalizationError struct {
	Reason string
	Err    error
}

func (e *NormalizationError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *NormalizationError) Unwrap() error {
	return e.Err
}

// ColumnProber reads result-set column names without fetching rows.
type ColumnProber interface {
	ProbeColumns(ctx context.Context, sqlText string) ([]string, error)
}

// Normalize turns a raw database result into a Table when it can and an
// opaque value when it cannot. It never fails; problems are reported in
// Result.Warning. prober may be nil.
func Normalize(ctx context.Context, raw Raw, prober ColumnProber) Result {
	rows := raw.Rows
	structured := rows != nil
	var warning *NormalizationError

	if !structured && strings.HasPrefix(raw.Text, "[(") {
		parsed, err := ParseTupleList(raw.Text)
		if err != nil {
			warning = &NormalizationError{Reason: "parse tuple literal", Err: err}
		} else {
			rows = parsed
		}
	}

	if len(rows) == 0 {
		return Result{Kind: KindOpaque, Opaque: opaqueValue(raw, structured), Warning: warning}
	}

	columns := resolveColumns(ctx, raw, prober, len(rows[0]))
	for i, row := range rows {
		if len(row) != len(columns) {
			return Result{
				Kind:   KindOpaque,
				Opaque: opaqueValue(raw, structured),
				Warning: &NormalizationError{
					Reason: fmt.Sprintf("row %d has %d values but there are %d columns", i+1, len(row), len(columns)),
				},
			}
		}
	}

	return Result{
		Kind:  KindTable,
		Table: Table{Columns: columns, Rows: rows},
	}
}

// Raw returns the input that normalizes back to r. Normalizing the raw
// form of an opaque result yields the same opaque result.
func (r Result) Raw() Raw {
	if r.Kind == KindTable {
		return Raw{Columns: r.Table.Columns, Rows: r.Table.Rows}
	}
	if text, ok := r.Opaque.(string); ok {
		return Raw{Text: text}
	}
	return Raw{Scalar: r.Opaque}
}

func resolveColumns(ctx context.Context, raw Raw, prober ColumnProber, width int) []string {
	if len(raw.Columns) > 0 {
		return raw.Columns
	}
	if prober != nil && strings.TrimSpace(raw.SQL) != "" {
		if columns, err := prober.ProbeColumns(ctx, raw.SQL); err == nil && len(columns) > 0 {
			return columns
		}
	}
	return SyntheticColumns(width)
}

// SyntheticColumns returns col_1..col_n.
func SyntheticColumns(n int) []string {
	columns := make([]string, n)
	for i := range columns {
		columns[i] = fmt.Sprintf("col_%d", i+1)
	}
	return columns
}

func opaqueValue(raw Raw, structured bool) any {
	switch {
	case structured && len(raw.Rows) == 0:
		return emptyStructured
	case structured:
		// Not a tuple literal, so normalizing it again keeps it opaque.
		return fmt.Sprint(raw.Rows)
	case raw.Text != "":
		return raw.Text
	case raw.Scalar != nil:
		return DisplayValue(raw.Scalar)
	default:
		return ""
	}
}

// Display returns a copy of the table with values converted for
// rendering.
func (t Table) Display() Table {
	rows := make([][]any, len(t.Rows))
	for i, row := range t.Rows {
		converted := make([]any, len(row))
		for j, value := range row {
			converted[j] = DisplayValue(value)
		}
		rows[i] = converted
	}
	columns := append([]string(nil), t.Columns...)
	return Table{Columns: columns, Rows: rows}
}

func (t Table) Empty() bool {
	return len(t.Columns) == 0
}

func DisplayValue(value any) any {
	switch typed := value.(type) {
	case []byte:
		return string(typed)
	case time.Time:
		return typed.Format(time.RFC3339)
	default:
		return typed
	}
}
