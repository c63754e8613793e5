package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/askdb/askdb/internal/export"
	"github.com/askdb/askdb/internal/storage"
)

func handleExport(format export.Format) func(Dependencies, http.ResponseWriter, *http.Request) {
	return func(deps Dependencies, w http.ResponseWriter, r *http.Request) {
		table, err := deps.Chat.LastTable(r.PathValue("id"))
		if err != nil {
			writeChatError(r.Context(), w, err)
			return
		}
		body, err := export.Encode(table, format)
		if err != nil {
			writeError(r.Context(), w, http.StatusUnprocessableEntity, "EXPORT_FAILED", "failed to encode export", false, map[string]any{"details": err.Error()})
			return
		}
		w.Header().Set("Content-Type", format.ContentType())
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", format.Filename()))
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}
}

func handleArchiveExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Archive == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_ARCHIVE_NOT_CONFIGURED", "export archive is not configured", false, nil)
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_FORMAT", err.Error(), false, nil)
		return
	}
	sessionID := r.PathValue("id")
	table, err := deps.Chat.LastTable(sessionID)
	if err != nil {
		writeChatError(r.Context(), w, err)
		return
	}
	info, err := deps.Archive.Archive(r.Context(), sessionID, table, format)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "EXPORT_ARCHIVE_FAILED", "failed to archive export", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func handleListExports(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Archive == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_ARCHIVE_NOT_CONFIGURED", "export archive is not configured", false, nil)
		return
	}
	sessionID := r.PathValue("id")
	if _, err := deps.Chat.History(sessionID); err != nil {
		writeChatError(r.Context(), w, err)
		return
	}
	objects, err := deps.Archive.List(r.Context(), sessionID)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "EXPORT_LIST_FAILED", "failed to list exports", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "exports": objects})
}

func handleFetchExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Archive == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_ARCHIVE_NOT_CONFIGURED", "export archive is not configured", false, nil)
		return
	}
	body, info, err := deps.Archive.Fetch(r.Context(), r.PathValue("key"))
	if errors.Is(err, storage.ErrObjectNotFound) {
		writeError(r.Context(), w, http.StatusNotFound, "EXPORT_NOT_FOUND", "export was not found", false, nil)
		return
	}
	if err != nil {
		writeError(r.Context(), w, http.StatusBadGateway, "EXPORT_FETCH_FAILED", "failed to fetch export", true, map[string]any{"details": err.Error()})
		return
	}
	defer func() { _ = body.Close() }()

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}
