package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/askdb/askdb/internal/chat"
	"github.com/askdb/askdb/internal/database"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/transcript"
)

type sessionBody struct {
	SessionID string               `json:"session_id"`
	Messages  []transcript.Message `json:"messages"`
}

func createSession(t *testing.T, h http.Handler) string {
	t.Helper()
	rr := serve(h, http.MethodPost, "/v1/sessions", "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("create session status = %d body=%s", rr.Code, rr.Body.String())
	}
	var body sessionBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if len(body.Messages) != 1 || body.Messages[0].Role != transcript.RoleAssistant {
		t.Fatalf("messages = %+v", body.Messages)
	}
	return body.SessionID
}

func TestAskEndpointRunsTurnAndExportsTable(t *testing.T) {
	agent := &scriptedAgent{reply: "SQLQuery: SELECT \"NAME\", \"MARKS\" FROM STUDENT LIMIT 5;\nSQLResult: [('Krish', 90)]\nAnswer: Krish"}
	h := NewHandler(loadTestConfig(t, nil), Dependencies{Chat: newChatService(t, agent, &staticConnector{})})
	sessionID := createSession(t, h)

	rr := serve(h, http.MethodPost, "/v1/sessions/"+sessionID+"/ask", `{"question":"Who is in the class?"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("ask status = %d body=%s", rr.Code, rr.Body.String())
	}
	var turn chat.Turn
	if err := json.Unmarshal(rr.Body.Bytes(), &turn); err != nil {
		t.Fatalf("decode turn: %v", err)
	}
	if turn.SQL != `SELECT "NAME", "MARKS" FROM STUDENT LIMIT 5;` {
		t.Fatalf("sql = %q", turn.SQL)
	}
	if !turn.Executed || turn.Result == nil || turn.Result.Kind != "table" || len(turn.Result.Rows) != 2 {
		t.Fatalf("turn = %+v", turn)
	}
	if len(turn.Warnings) != 0 {
		t.Fatalf("warnings = %+v", turn.Warnings)
	}

	history := serve(h, http.MethodGet, "/v1/sessions/"+sessionID+"/messages", "")
	var body sessionBody
	if err := json.Unmarshal(history.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(body.Messages) != 3 || body.Messages[1].Content != "Who is in the class?" || body.Messages[2].Content != agent.reply {
		t.Fatalf("history = %+v", body.Messages)
	}

	csvResp := serve(h, http.MethodGet, "/v1/sessions/"+sessionID+"/export.csv", "")
	if csvResp.Code != http.StatusOK {
		t.Fatalf("csv status = %d body=%s", csvResp.Code, csvResp.Body.String())
	}
	if got := csvResp.Header().Get("Content-Disposition"); !strings.Contains(got, "query_results.csv") {
		t.Fatalf("Content-Disposition = %q", got)
	}
	if csvResp.Body.String() != "NAME,MARKS\nKrish,90\nDarius,100\n" {
		t.Fatalf("csv body = %q", csvResp.Body.String())
	}

	parquetResp := serve(h, http.MethodGet, "/v1/sessions/"+sessionID+"/export.parquet", "")
	if parquetResp.Code != http.StatusOK {
		t.Fatalf("parquet status = %d body=%s", parquetResp.Code, parquetResp.Body.String())
	}
	if !strings.HasPrefix(parquetResp.Body.String(), "PAR1") {
		t.Fatal("parquet body should start with the PAR1 magic")
	}
}

func TestAskEndpointReportsWarningsInBody(t *testing.T) {
	agent := &scriptedAgent{reply: "SQLQuery: SELECT * FROM TEACHER"}
	h := NewHandler(loadTestConfig(t, nil), Dependencies{Chat: newChatService(t, agent, &staticConnector{})})
	sessionID := createSession(t, h)

	rr := serve(h, http.MethodPost, "/v1/sessions/"+sessionID+"/ask", `{"question":"teachers?"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var turn chat.Turn
	if err := json.Unmarshal(rr.Body.Bytes(), &turn); err != nil {
		t.Fatalf("decode turn: %v", err)
	}
	if len(turn.Warnings) != 1 || turn.Warnings[0].Code != chat.WarningExecutionFailed {
		t.Fatalf("warnings = %+v", turn.Warnings)
	}

	export := serve(h, http.MethodGet, "/v1/sessions/"+sessionID+"/export.csv", "")
	if export.Code != http.StatusNotFound {
		t.Fatalf("export status = %d", export.Code)
	}
}

func TestAskEndpointPassesConnectionSettings(t *testing.T) {
	connector := &staticConnector{}
	h := NewHandler(loadTestConfig(t, nil), Dependencies{Chat: newChatService(t, &scriptedAgent{reply: "SQLQuery: SELECT 1"}, connector)})
	sessionID := createSession(t, h)

	body := `{"question":"q","connection":{"mode":"remote","driver":"postgres","host":"db:5432","user":"u","password":"p","database":"school"}}`
	if rr := serve(h, http.MethodPost, "/v1/sessions/"+sessionID+"/ask", body); rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	got := connector.seen[len(connector.seen)-1]
	if got.Mode != "remote" || got.Driver != "postgres" || got.Database != "school" {
		t.Fatalf("settings = %+v", got)
	}
}

func TestAskEndpointErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		agent     nl2sql.Agent
		connector *staticConnector
		session   string
		body      string
		status    int
		code      string
	}{
		{"empty question", &scriptedAgent{}, &staticConnector{}, "", `{"question":"  "}`, http.StatusBadRequest, "QUESTION_REQUIRED"},
		{"bad json", &scriptedAgent{}, &staticConnector{}, "", `{"question":`, http.StatusBadRequest, "INVALID_JSON"},
		{"unknown field", &scriptedAgent{}, &staticConnector{}, "", `{"prompt":"x"}`, http.StatusBadRequest, "INVALID_JSON"},
		{"unknown session", &scriptedAgent{}, &staticConnector{}, "0b7f1f6e-9d8a-4a4e-8f69-3f6c2d1e0a55", `{"question":"q"}`, http.StatusNotFound, "SESSION_NOT_FOUND"},
		{"missing credentials", &scriptedAgent{}, &staticConnector{err: fmt.Errorf("%w: %w", chat.ErrConfiguration, database.ErrMissingCredentials)}, "", `{"question":"q"}`, http.StatusPreconditionFailed, "CONFIGURATION_REQUIRED"},
		{"database down", &scriptedAgent{}, &staticConnector{err: fmt.Errorf("%w: dial tcp: refused", chat.ErrDatabaseUnavailable)}, "", `{"question":"q"}`, http.StatusServiceUnavailable, "DATABASE_UNAVAILABLE"},
		{"unexpected", &scriptedAgent{}, &staticConnector{err: errors.New("boom")}, "", `{"question":"q"}`, http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(loadTestConfig(t, nil), Dependencies{Chat: newChatService(t, tt.agent, tt.connector)})
			sessionID := tt.session
			if sessionID == "" {
				sessionID = createSession(t, h)
			}
			rr := serve(h, http.MethodPost, "/v1/sessions/"+sessionID+"/ask", tt.body)
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d body=%s", rr.Code, tt.status, rr.Body.String())
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if body["error_code"] != tt.code {
				t.Fatalf("error_code = %v, want %s", body["error_code"], tt.code)
			}
		})
	}
}

func TestMissingLLMKeyIsPreconditionFailed(t *testing.T) {
	svc, err := chat.NewService(chat.Options{
		AgentErr:  nl2sql.ErrMissingCredential,
		Sessions:  transcript.NewRegistry(transcript.RegistryConfig{}),
		Connector: &staticConnector{},
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	h := NewHandler(loadTestConfig(t, nil), Dependencies{Chat: svc})
	sessionID := createSession(t, h)

	rr := serve(h, http.MethodPost, "/v1/sessions/"+sessionID+"/ask", `{"question":"q"}`)
	if rr.Code != http.StatusPreconditionFailed {
		t.Fatalf("status = %d", rr.Code)
	}
	history := serve(h, http.MethodGet, "/v1/sessions/"+sessionID+"/messages", "")
	var body sessionBody
	if err := json.Unmarshal(history.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(body.Messages) != 1 {
		t.Fatalf("history should be untouched, got %+v", body.Messages)
	}
}

func TestEndSessionRemovesSession(t *testing.T) {
	h := NewHandler(loadTestConfig(t, nil), Dependencies{Chat: newChatService(t, &scriptedAgent{}, &staticConnector{})})
	sessionID := createSession(t, h)

	if rr := serve(h, http.MethodDelete, "/v1/sessions/"+sessionID, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	if rr := serve(h, http.MethodGet, "/v1/sessions/"+sessionID+"/messages", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("history after end status = %d", rr.Code)
	}
	if rr := serve(h, http.MethodDelete, "/v1/sessions/"+sessionID, ""); rr.Code != http.StatusNotFound {
		t.Fatalf("second end status = %d", rr.Code)
	}
}

func TestClearHistoryResetsToGreeting(t *testing.T) {
	h := NewHandler(loadTestConfig(t, nil), Dependencies{Chat: newChatService(t, &scriptedAgent{reply: "SQLQuery: SELECT 1"}, &staticConnector{})})
	sessionID := createSession(t, h)
	serve(h, http.MethodPost, "/v1/sessions/"+sessionID+"/ask", `{"question":"q"}`)

	rr := serve(h, http.MethodDelete, "/v1/sessions/"+sessionID+"/messages", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body sessionBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Messages) != 1 || body.Messages[0].Content != transcript.DefaultGreeting {
		t.Fatalf("messages = %+v", body.Messages)
	}
	if export := serve(h, http.MethodGet, "/v1/sessions/"+sessionID+"/export.csv", ""); export.Code != http.StatusNotFound {
		t.Fatalf("export after clear status = %d", export.Code)
	}
}
