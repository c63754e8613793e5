package nl2sql

import (
	"context"
	"errors"
)

// ErrMissingCredential is returned when an agent is built without the
// credential its provider requires.
var ErrMissingCredential = errors.New("nl2sql: llm credential is required")

type TableContext struct {
	TableName  string   `json:"table_name"`
	Columns    []string `json:"columns"`
	SampleRows [][]any  `json:"sample_rows"`
}

type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Question string           `json:"question"`
	Dialect  string           `json:"dialect"`
	TopK     int              `json:"top_k"`
	History  []HistoryMessage `json:"history"`
	Tables   []TableContext   `json:"tables"`
}

// Output is the free-form text produced by the model. Result usually
// embeds a "SQLQuery:" line but nothing guarantees it.
type Output struct {
	Result   string `json:"result"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type Agent interface {
	Invoke(ctx context.Context, req Request) (Output, error)
}
