package export

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/askdb/askdb/internal/resultset"
)

type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

const (
	CSVFilename        = "query_results.csv"
	ParquetFilename    = "query_results.parquet"
	CSVContentType     = "text/csv; charset=utf-8"
	ParquetContentType = "application/vnd.apache.parquet"
)

func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case FormatCSV, "":
		return FormatCSV, nil
	case FormatParquet:
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", value)
	}
}

func (f Format) ContentType() string {
	if f == FormatParquet {
		return ParquetContentType
	}
	return CSVContentType
}

func (f Format) Filename() string {
	if f == FormatParquet {
		return ParquetFilename
	}
	return CSVFilename
}

// Encode renders table in the given format.
func Encode(table resultset.Table, format Format) ([]byte, error) {
	switch format {
	case FormatCSV:
		return CSV(table)
	case FormatParquet:
		return Parquet(table)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

func CSV(table resultset.Table) ([]byte, error) {
	var buf bytes.Buffer
	if err := table.WriteCSV(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Parquet writes every column as an optional UTF-8 string. NULLs stay
// NULL; other values use the CSV cell rendering.
func Parquet(table resultset.Table) ([]byte, error) {
	if len(table.Columns) == 0 {
		return nil, fmt.Errorf("table has no columns")
	}
	names := ParquetColumnNames(table.Columns)

	group := parquet.Group{}
	for _, name := range names {
		group[name] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema("query_results", group)

	// Group orders its fields by name; leafIndex maps table column
	// position to schema column index.
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	position := make(map[string]int, len(sorted))
	for i, name := range sorted {
		position[name] = i
	}
	leafIndex := make([]int, len(names))
	for i, name := range names {
		leafIndex[i] = position[name]
	}

	rows := make([]parquet.Row, 0, len(table.Rows))
	for r, source := range table.Rows {
		if len(source) != len(names) {
			return nil, fmt.Errorf("row %d has %d values, want %d", r+1, len(source), len(names))
		}
		row := make(parquet.Row, len(names))
		for i, value := range source {
			column := leafIndex[i]
			if value == nil {
				row[column] = parquet.NullValue().Level(0, 0, column)
				continue
			}
			row[column] = parquet.ValueOf(resultset.FormatCell(value)).Level(0, 1, column)
		}
		rows = append(rows, row)
	}

	var buf bytes.Buffer
	writer := parquet.NewWriter(&buf, schema)
	if _, err := writer.WriteRows(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// ParquetColumnNames makes column names unique and non-empty. Later
// duplicates get a numeric suffix.
func ParquetColumnNames(columns []string) []string {
	names := make([]string, len(columns))
	seen := make(map[string]bool, len(columns))
	for i, column := range columns {
		base := strings.TrimSpace(column)
		if base == "" {
			base = fmt.Sprintf("col_%d", i+1)
		}
		name := base
		for n := 2; seen[name]; n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		seen[name] = true
		names[i] = name
	}
	return names
}
