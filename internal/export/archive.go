package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/resultset"
	"github.com/askdb/askdb/internal/storage"
)

// Archiver stores exports in an object store so they outlive the
// in-memory session.
type Archiver struct {
	store storage.ObjectStore
	now   func() time.Time
}

func NewArchiver(store storage.ObjectStore) *Archiver {
	return &Archiver{store: store, now: time.Now}
}

func (a *Archiver) Archive(ctx context.Context, sessionID string, table resultset.Table, format Format) (storage.ObjectInfo, error) {
	if a == nil || a.store == nil {
		return storage.ObjectInfo{}, fmt.Errorf("export archive is not configured")
	}
	key, err := storage.BuildExportKey(sessionID, a.now(), string(format))
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	body, err := Encode(table, format)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("encode %s export: %w", format, err)
	}
	info, err := a.store.Put(ctx, key, bytes.NewReader(body), int64(len(body)), storage.PutOptions{
		ContentType: format.ContentType(),
		Metadata: map[string]string{
			"Session": sessionID,
			"Rows":    strconv.Itoa(len(table.Rows)),
			"Columns": strconv.Itoa(len(table.Columns)),
		},
	})
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("archive export: %w", err)
	}
	return info, nil
}

// List returns the session's archived exports, newest first.
func (a *Archiver) List(ctx context.Context, sessionID string) ([]storage.ObjectInfo, error) {
	if a == nil || a.store == nil {
		return nil, fmt.Errorf("export archive is not configured")
	}
	prefix, err := storage.ExportPrefix(sessionID)
	if err != nil {
		return nil, err
	}
	objects, err := a.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key > objects[j].Key })
	return objects, nil
}

// Fetch opens an archived export. Only keys under exports/ are served.
func (a *Archiver) Fetch(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	if a == nil || a.store == nil {
		return nil, storage.ObjectInfo{}, fmt.Errorf("export archive is not configured")
	}
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if !storage.IsExportKey(key) {
		return nil, storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return a.store.Get(ctx, key)
}
