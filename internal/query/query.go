package query

import (
	"context"
	"time"
)

type Request struct {
	SQL string
	// RowLimit caps the number of rows read. Zero reads everything.
	RowLimit int
}

// Result is the single typed shape every engine returns.
type Result struct {
	Columns   []string
	Rows      [][]any
	Truncated bool
	Duration  time.Duration
}

// TableInfo describes one table for prompting the model.
type TableInfo struct {
	Name       string
	Columns    []string
	SampleRows [][]any
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
	UsableTableNames(ctx context.Context) ([]string, error)
	ProbeColumns(ctx context.Context, sqlText string) ([]string, error)
	DescribeTables(ctx context.Context, sampleRows int) ([]TableInfo, error)
	DialectName() string
}
