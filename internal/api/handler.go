package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/chat"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/export"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/resultset"
	"github.com/askdb/askdb/internal/storage"
	"github.com/askdb/askdb/internal/transcript"
)

const maxRequestBodyBytes = 1 << 20

type ReadinessCheck func(ctx context.Context) error

// ChatService is the subset of chat.Service the handlers use.
type ChatService interface {
	CreateSession() *transcript.Session
	History(sessionID string) ([]transcript.Message, error)
	Clear(sessionID string) ([]transcript.Message, error)
	EndSession(sessionID string) error
	Ask(ctx context.Context, sessionID, question string, settings chat.ConnectionSettings) (chat.Turn, error)
	LastTable(sessionID string) (resultset.Table, error)
	Tables(ctx context.Context, settings chat.ConnectionSettings) ([]string, error)
}

type ExportArchive interface {
	Archive(ctx context.Context, sessionID string, table resultset.Table, format export.Format) (storage.ObjectInfo, error)
	List(ctx context.Context, sessionID string) ([]storage.ObjectInfo, error)
	Fetch(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Chat              ChatService
	// Archive is nil when exports are not archived to object storage.
	Archive ExportArchive
	UI      http.Handler
}

type route struct {
	pattern string
	roles   []string
	handle  func(Dependencies, http.ResponseWriter, *http.Request)
}

var protectedRoutes = []route{
	{"POST /v1/sessions", []string{auth.RoleChatUser}, handleCreateSession},
	{"DELETE /v1/sessions/{id}", []string{auth.RoleChatUser}, handleEndSession},
	{"GET /v1/sessions/{id}/messages", []string{auth.RoleChatUser}, handleHistory},
	{"DELETE /v1/sessions/{id}/messages", []string{auth.RoleChatUser}, handleClearHistory},
	{"POST /v1/sessions/{id}/ask", []string{auth.RoleChatUser}, handleAsk},
	{"GET /v1/sessions/{id}/export.csv", []string{auth.RoleChatUser}, handleExport(export.FormatCSV)},
	{"GET /v1/sessions/{id}/export.parquet", []string{auth.RoleChatUser}, handleExport(export.FormatParquet)},
	{"POST /v1/sessions/{id}/exports", []string{auth.RoleChatUser, auth.RoleExportAdmin}, handleArchiveExport},
	{"GET /v1/sessions/{id}/exports", []string{auth.RoleChatUser, auth.RoleExportAdmin}, handleListExports},
	{"GET /v1/exports/{key...}", []string{auth.RoleExportAdmin}, handleFetchExport},
	{"GET /v1/tables", []string{auth.RoleChatUser}, handleListTables},
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	for _, rt := range protectedRoutes {
		protected.HandleFunc(rt.pattern, func(w http.ResponseWriter, r *http.Request) {
			if deps.Chat == nil {
				writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "chat service is not configured", false, nil)
				return
			}
			if err := auth.RequireRole(r, rt.roles...); err != nil {
				writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
				return
			}
			rt.handle(deps, w, r)
		})
	}

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	for _, rt := range protectedRoutes {
		mux.Handle(rt.pattern, protectedHandler)
	}
	if deps.UI != nil {
		mux.Handle("GET /{path...}", deps.UI)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

// CheckObjectStoreConfig fails readiness when archiving is enabled but
// the object store is not addressable.
func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if !cfg.Export.ArchiveEnabled {
			return nil
		}
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

// writeChatError maps chat and session errors to HTTP responses.
func writeChatError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyQuestion):
		writeError(ctx, w, http.StatusBadRequest, "QUESTION_REQUIRED", err.Error(), false, nil)
	case errors.Is(err, transcript.ErrSessionNotFound):
		writeError(ctx, w, http.StatusNotFound, "SESSION_NOT_FOUND", err.Error(), false, nil)
	case errors.Is(err, chat.ErrConfiguration):
		writeError(ctx, w, http.StatusPreconditionFailed, "CONFIGURATION_REQUIRED", err.Error(), false, nil)
	case errors.Is(err, chat.ErrDatabaseUnavailable):
		writeError(ctx, w, http.StatusServiceUnavailable, "DATABASE_UNAVAILABLE", err.Error(), true, nil)
	case errors.Is(err, chat.ErrNoTable):
		writeError(ctx, w, http.StatusNotFound, "NO_TABLE_RESULT", "ask a question that returns a table before exporting", false, nil)
	default:
		writeError(ctx, w, http.StatusInternalServerError, "INTERNAL", "request failed", true, map[string]any{"details": err.Error()})
	}
}
