package nl2sql

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAIAgentInvokeReturnsRawContent(t *testing.T) {
	var captured struct {
		Model    string              `json:"model"`
		Messages []map[string]string `json:"messages"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"SQLQuery: SELECT COUNT(*) FROM STUDENT"}}]}`))
	}))
	defer server.Close()

	agent, err := NewOpenAIAgent(OpenAIConfig{BaseURL: server.URL + "/", APIKey: "test-key", Model: "m1"})
	if err != nil {
		t.Fatalf("NewOpenAIAgent() error = %v", err)
	}
	out, err := agent.Invoke(context.Background(), Request{
		Question: "how many students?",
		Dialect:  "DuckDB",
		Tables:   []TableContext{{TableName: "STUDENT", Columns: []string{"NAME", "MARKS"}}},
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if out.Result != "SQLQuery: SELECT COUNT(*) FROM STUDENT" {
		t.Fatalf("Result = %q", out.Result)
	}
	if out.Model != "m1" || out.Provider != "openai-compatible" {
		t.Fatalf("Output = %#v", out)
	}
	if captured.Model != "m1" {
		t.Fatalf("payload model = %q", captured.Model)
	}
	if len(captured.Messages) != 2 {
		t.Fatalf("messages = %d", len(captured.Messages))
	}
	if captured.Messages[0]["role"] != "system" || !strings.Contains(captured.Messages[0]["content"], "Table: STUDENT") {
		t.Fatalf("system message = %#v", captured.Messages[0])
	}
	if captured.Messages[1]["content"] != "Question: how many students?" {
		t.Fatalf("user message = %#v", captured.Messages[1])
	}
}

func TestOpenAIAgentSurfacesHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer server.Close()

	agent, err := NewOpenAIAgent(OpenAIConfig{BaseURL: server.URL, APIKey: "k"})
	if err != nil {
		t.Fatalf("NewOpenAIAgent() error = %v", err)
	}
	_, err = agent.Invoke(context.Background(), Request{Question: "q"})
	if err == nil || !strings.Contains(err.Error(), "status=401") {
		t.Fatalf("Invoke() error = %v", err)
	}
}

func TestNewOpenAIAgentRequiresCredential(t *testing.T) {
	_, err := NewOpenAIAgent(OpenAIConfig{BaseURL: "https://api.example.com"})
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("error = %v, want ErrMissingCredential", err)
	}
}
