// Package chat runs one question through the model, the sanitizer, the
// database and the normalizer, and records the exchange in the session
// transcript.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/resultset"
	"github.com/askdb/askdb/internal/transcript"
)

var (
	// ErrConfiguration halts a turn before anything is recorded. It wraps
	// nl2sql.ErrMissingCredential or database.ErrMissingCredentials.
	ErrConfiguration       = errors.New("configuration required")
	ErrDatabaseUnavailable = errors.New("database unavailable")
	ErrEmptyQuestion       = errors.New("question is required")
	ErrNoTable             = errors.New("no table result to export")
)

const (
	WarningExtractionMiss      = "EXTRACTION_MISS"
	WarningSanitizationEmpty   = "SANITIZATION_EMPTY"
	WarningExecutionFailed     = "EXECUTION_FAILED"
	WarningReadOnlyRejected    = "READ_ONLY_REJECTED"
	WarningNormalizationFailed = "NORMALIZATION_FAILED"
	WarningAgentFailed         = "AGENT_FAILED"
)

type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ResultView struct {
	Kind      string   `json:"kind"`
	Columns   []string `json:"columns,omitempty"`
	Rows      [][]any  `json:"rows,omitempty"`
	Value     any      `json:"value,omitempty"`
	Truncated bool     `json:"truncated,omitempty"`
}

// Turn is everything that happened for one question.
type Turn struct {
	SessionID       string             `json:"session_id"`
	Question        string             `json:"question"`
	RawOutput       string             `json:"raw_output"`
	SQL             string             `json:"sql,omitempty"`
	MarkerFound     bool               `json:"marker_found"`
	Executed        bool               `json:"executed"`
	Result          *ResultView        `json:"result,omitempty"`
	Warnings        []Warning          `json:"warnings"`
	Provider        string             `json:"provider,omitempty"`
	Model           string             `json:"model,omitempty"`
	AgentDurationMS int64              `json:"agent_duration_ms"`
	QueryDurationMS int64              `json:"query_duration_ms"`
	Reply           transcript.Message `json:"reply"`
}

func (t *Turn) warn(code, message string) {
	t.Warnings = append(t.Warnings, Warning{Code: code, Message: message})
}

func (t *Turn) warningCodes() []string {
	codes := make([]string, len(t.Warnings))
	for i, w := range t.Warnings {
		codes[i] = w.Code
	}
	return codes
}

type Options struct {
	// Agent may be nil when AgentErr explains why none is configured.
	Agent            nl2sql.Agent
	AgentErr         error
	Sessions         *transcript.Registry
	Connector        Connector
	Logger           *slog.Logger
	RowLimit         int
	SchemaSampleRows int
	TopK             int
}

type Service struct {
	opts Options
}

func NewService(opts Options) (*Service, error) {
	if opts.Sessions == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	if opts.Connector == nil {
		return nil, fmt.Errorf("connector is required")
	}
	if opts.Agent == nil && opts.AgentErr == nil {
		opts.AgentErr = nl2sql.ErrMissingCredential
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Service{opts: opts}, nil
}

func (s *Service) CreateSession() *transcript.Session {
	return s.opts.Sessions.Create()
}

func (s *Service) History(sessionID string) ([]transcript.Message, error) {
	session, err := s.opts.Sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return session.Transcript.All(), nil
}

func (s *Service) Clear(sessionID string) ([]transcript.Message, error) {
	session, err := s.opts.Sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	session.LockTurn()
	defer session.UnlockTurn()
	session.Reset()
	return session.Transcript.All(), nil
}

// EndSession forgets the session with its transcript and last table.
func (s *Service) EndSession(sessionID string) error {
	if !s.opts.Sessions.Delete(sessionID) {
		return transcript.ErrSessionNotFound
	}
	return nil
}

func (s *Service) LastTable(sessionID string) (resultset.Table, error) {
	session, err := s.opts.Sessions.Get(sessionID)
	if err != nil {
		return resultset.Table{}, err
	}
	table, ok := session.LastTable()
	if !ok {
		return resultset.Table{}, ErrNoTable
	}
	return table, nil
}

func (s *Service) Tables(ctx context.Context, settings ConnectionSettings) ([]string, error) {
	conn, err := s.opts.Connector.Connect(ctx, settings)
	if err != nil {
		return nil, err
	}
	return conn.Engine.UsableTableNames(ctx)
}

// Ready checks that the default database answers.
func (s *Service) Ready(ctx context.Context) error {
	_, err := s.Tables(ctx, ConnectionSettings{})
	return err
}

// Ask runs one turn. Configuration problems return an error and leave
// the transcript untouched; every later failure is reported as a warning
// on the returned turn.
func (s *Service) Ask(ctx context.Context, sessionID, question string, settings ConnectionSettings) (Turn, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Turn{}, ErrEmptyQuestion
	}
	session, err := s.opts.Sessions.Get(sessionID)
	if err != nil {
		return Turn{}, err
	}
	if s.opts.Agent == nil {
		return Turn{}, fmt.Errorf("%w: %w", ErrConfiguration, s.opts.AgentErr)
	}
	conn, err := s.opts.Connector.Connect(ctx, settings)
	if err != nil {
		return Turn{}, err
	}

	session.LockTurn()
	defer session.UnlockTurn()

	history := session.Transcript.All()
	session.Transcript.Append(transcript.Message{Role: transcript.RoleUser, Content: question})

	turn := Turn{SessionID: session.ID, Question: question, Warnings: []Warning{}}
	logger := s.opts.Logger.With(
		slog.String("session_id", session.ID),
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
	)

	tables, err := conn.Engine.DescribeTables(ctx, s.opts.SchemaSampleRows)
	if err != nil {
		logger.WarnContext(ctx, "describe tables failed", slog.String("error", err.Error()))
	}

	agentStart := time.Now()
	output, err := s.opts.Agent.Invoke(ctx, nl2sql.Request{
		Question: question,
		Dialect:  conn.Engine.DialectName(),
		TopK:     s.opts.TopK,
		History:  historyForAgent(history),
		Tables:   tableContexts(tables),
	})
	agentElapsed := time.Since(agentStart)
	observability.ObserveAgentLatency(agentElapsed)
	turn.AgentDurationMS = agentElapsed.Milliseconds()
	if err != nil {
		turn.warn(WarningAgentFailed, err.Error())
		reply := fmt.Sprintf("Sorry, I could not get an answer from the language model: %v", err)
		return s.finish(ctx, logger, session, turn, reply, "agent_failed"), nil
	}
	turn.RawOutput = output.Result
	turn.Provider = output.Provider
	turn.Model = output.Model

	s.runQuery(ctx, conn, session, &turn)

	outcome := "ok"
	if len(turn.Warnings) > 0 {
		outcome = "degraded"
	}
	return s.finish(ctx, logger, session, turn, output.Result, outcome), nil
}

func (s *Service) runQuery(ctx context.Context, conn Connection, session *transcript.Session, turn *Turn) {
	sanitized := nl2sql.Sanitize(turn.RawOutput)
	turn.SQL = sanitized.SQL
	turn.MarkerFound = sanitized.MarkerFound
	if !sanitized.MarkerFound {
		turn.warn(WarningExtractionMiss, "model output has no SQLQuery: line")
	}
	if sanitized.Empty() {
		turn.warn(WarningSanitizationEmpty, "no SQL statement left after cleanup")
		return
	}
	if !sanitized.Executable() {
		return
	}
	if conn.ReadOnly && !nl2sql.IsReadOnly(sanitized.SQL) {
		turn.warn(WarningReadOnlyRejected, "only single read-only statements run against this database")
		return
	}

	result, err := conn.Engine.Execute(ctx, query.Request{SQL: sanitized.SQL, RowLimit: s.opts.RowLimit})
	turn.Executed = true
	if err != nil {
		turn.warn(WarningExecutionFailed, err.Error())
		return
	}
	observability.ObserveQueryLatency(result.Duration)
	turn.QueryDurationMS = result.Duration.Milliseconds()

	normalized := resultset.Normalize(ctx, resultset.Raw{
		SQL:     sanitized.SQL,
		Columns: result.Columns,
		Rows:    result.Rows,
	}, conn.Engine)
	if normalized.Warning != nil {
		turn.warn(WarningNormalizationFailed, normalized.Warning.Error())
	}
	turn.Result = viewOf(normalized, result.Truncated)
	if normalized.Kind == resultset.KindTable {
		session.SetLastTable(normalized.Table)
	}
}

func (s *Service) finish(ctx context.Context, logger *slog.Logger, session *transcript.Session, turn Turn, reply, outcome string) Turn {
	turn.Reply = transcript.Message{Role: transcript.RoleAssistant, Content: reply, CreatedAt: time.Now().UTC()}
	session.Transcript.Append(turn.Reply)
	observability.ObserveTurn(outcome, turn.warningCodes())
	for _, w := range turn.Warnings {
		logger.WarnContext(ctx, "turn degraded",
			slog.String("code", w.Code),
			slog.String("message", w.Message),
		)
	}
	return turn
}

func viewOf(result resultset.Result, truncated bool) *ResultView {
	if result.Kind == resultset.KindTable {
		display := result.Table.Display()
		return &ResultView{Kind: string(resultset.KindTable), Columns: display.Columns, Rows: display.Rows, Truncated: truncated}
	}
	return &ResultView{Kind: string(resultset.KindOpaque), Value: result.Opaque}
}

func historyForAgent(messages []transcript.Message) []nl2sql.HistoryMessage {
	// The greeting is not part of the conversation the model needs.
	if len(messages) > 0 && messages[0].Role == transcript.RoleAssistant {
		messages = messages[1:]
	}
	out := make([]nl2sql.HistoryMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, nl2sql.HistoryMessage{Role: string(msg.Role), Content: msg.Content})
	}
	return out
}

func tableContexts(tables []query.TableInfo) []nl2sql.TableContext {
	out := make([]nl2sql.TableContext, 0, len(tables))
	for _, table := range tables {
		out = append(out, nl2sql.TableContext{
			TableName:  table.Name,
			Columns:    table.Columns,
			SampleRows: table.SampleRows,
		})
	}
	return out
}
