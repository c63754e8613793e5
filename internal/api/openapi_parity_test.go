package api

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestOpenAPIDocumentsEveryRoute(t *testing.T) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	repoRoot := filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
	openAPIPath := filepath.Join(repoRoot, "api", "openapi.yaml")

	content, err := os.ReadFile(openAPIPath)
	if err != nil {
		t.Fatalf("read openapi file error = %v", err)
	}
	text := string(content)

	requiredPaths := []string{
		"/v1/health:",
		"/v1/ready:",
		"/v1/metrics:",
		"/v1/sessions:",
		"/v1/sessions/{id}:",
		"/v1/sessions/{id}/messages:",
		"/v1/sessions/{id}/ask:",
		"/v1/sessions/{id}/export.csv:",
		"/v1/sessions/{id}/export.parquet:",
		"/v1/sessions/{id}/exports:",
		"/v1/exports/{key}:",
		"/v1/tables:",
	}
	for _, path := range requiredPaths {
		if !strings.Contains(text, path) {
			t.Fatalf("openapi missing path %s", path)
		}
	}
}

func TestEveryProtectedRouteIsDocumented(t *testing.T) {
	_, filename, _, _ := runtime.Caller(0)
	content, err := os.ReadFile(filepath.Join(filepath.Dir(filename), "..", "..", "api", "openapi.yaml"))
	if err != nil {
		t.Fatalf("read openapi file error = %v", err)
	}
	for _, rt := range protectedRoutes {
		_, path, _ := strings.Cut(rt.pattern, " ")
		path = strings.Replace(path, "{key...}", "{key}", 1)
		if !strings.Contains(string(content), "\n  "+path+":") {
			t.Fatalf("openapi missing route %s", rt.pattern)
		}
	}
}
