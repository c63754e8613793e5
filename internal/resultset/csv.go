package resultset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
)

// WriteCSV writes the table as comma-separated UTF-8 with a header row.
func (t Table) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	record := make([]string, len(t.Columns))
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("row %d has %d values, want %d", i+1, len(row), len(t.Columns))
		}
		for j, value := range row {
			record[j] = FormatCell(value)
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row %d: %w", i+1, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// ReadCSV parses CSV written by WriteCSV. Every value comes back as a
// string.
func ReadCSV(r io.Reader) (Table, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return Table{}, fmt.Errorf("csv has no header row")
	}
	if err != nil {
		return Table{}, fmt.Errorf("read csv header: %w", err)
	}
	table := Table{Columns: header, Rows: make([][]any, 0)}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("read csv row: %w", err)
		}
		row := make([]any, len(record))
		for i, value := range record {
			row[i] = value
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

// FormatCell renders a single value the way it appears in exports. NULL
// becomes the empty string.
func FormatCell(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case []byte:
		return string(typed)
	case time.Time:
		return typed.Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	case bool:
		if typed {
			return "True"
		}
		return "False"
	default:
		return fmt.Sprint(typed)
	}
}
