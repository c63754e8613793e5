package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/askdb/askdb/internal/chat"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/export"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/query"
	"github.com/askdb/askdb/internal/resultset"
	"github.com/askdb/askdb/internal/storage"
	"github.com/askdb/askdb/internal/transcript"
)

type scriptedAgent struct {
	reply string
	err   error
}

func (a *scriptedAgent) Invoke(context.Context, nl2sql.Request) (nl2sql.Output, error) {
	if a.err != nil {
		return nl2sql.Output{}, a.err
	}
	return nl2sql.Output{Result: a.reply, Provider: "scripted", Model: "test"}, nil
}

type studentEngine struct{}

func (studentEngine) Execute(_ context.Context, req query.Request) (query.Result, error) {
	if strings.Contains(req.SQL, "TEACHER") {
		return query.Result{}, io.ErrUnexpectedEOF
	}
	return query.Result{
		Columns:  []string{"NAME", "MARKS"},
		Rows:     [][]any{{"Krish", int64(90)}, {"Darius", int64(100)}},
		Duration: time.Millisecond,
	}, nil
}

func (studentEngine) UsableTableNames(context.Context) ([]string, error) {
	return []string{"STUDENT"}, nil
}

func (studentEngine) ProbeColumns(context.Context, string) ([]string, error) {
	return []string{"NAME", "MARKS"}, nil
}

func (studentEngine) DescribeTables(context.Context, int) ([]query.TableInfo, error) {
	return []query.TableInfo{{Name: "STUDENT", Columns: []string{"NAME", "CLASS", "SECTION", "MARKS"}}}, nil
}

func (studentEngine) DialectName() string { return "DuckDB" }

type staticConnector struct {
	err  error
	seen []chat.ConnectionSettings
}

func (c *staticConnector) Connect(_ context.Context, settings chat.ConnectionSettings) (chat.Connection, error) {
	c.seen = append(c.seen, settings)
	if c.err != nil {
		return chat.Connection{}, c.err
	}
	return chat.Connection{Engine: studentEngine{}, ReadOnly: true}, nil
}

type memoryArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
	infos   map[string]storage.ObjectInfo
}

func newMemoryArchive() *memoryArchive {
	return &memoryArchive{objects: map[string][]byte{}, infos: map[string]storage.ObjectInfo{}}
}

func (m *memoryArchive) Archive(_ context.Context, sessionID string, table resultset.Table, format export.Format) (storage.ObjectInfo, error) {
	body, err := export.Encode(table, format)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	key, err := storage.BuildExportKey(sessionID, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), string(format))
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info := storage.ObjectInfo{Key: key, Size: int64(len(body)), ContentType: format.ContentType()}
	m.mu.Lock()
	m.objects[key] = body
	m.infos[key] = info
	m.mu.Unlock()
	return info, nil
}

func (m *memoryArchive) List(_ context.Context, sessionID string) ([]storage.ObjectInfo, error) {
	prefix, err := storage.ExportPrefix(sessionID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []storage.ObjectInfo{}
	for key, info := range m.infos {
		if strings.HasPrefix(key, prefix) {
			out = append(out, info)
		}
	}
	return out, nil
}

func (m *memoryArchive) Fetch(_ context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.objects[key]
	if !ok {
		return nil, storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(body)), m.infos[key], nil
}

func newChatService(t *testing.T, agent nl2sql.Agent, connector chat.Connector) *chat.Service {
	t.Helper()
	svc, err := chat.NewService(chat.Options{
		Agent:     agent,
		Sessions:  transcript.NewRegistry(transcript.RegistryConfig{}),
		Connector: connector,
		RowLimit:  100,
	})
	if err != nil {
		t.Fatalf("chat.NewService() error = %v", err)
	}
	return svc
}

func loadTestConfig(t *testing.T, env map[string]string) config.Config {
	t.Helper()
	cfg, err := config.Load("askdb-api", mapLookup(env))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
