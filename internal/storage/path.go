package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

const exportRoot = "exports"

var keyComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildExportKey returns exports/<session>/<timestamp>.<ext>.
func BuildExportKey(sessionID string, at time.Time, ext string) (string, error) {
	if err := validateKeyComponent(sessionID, "session id"); err != nil {
		return "", err
	}
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if err := validateKeyComponent(ext, "extension"); err != nil {
		return "", err
	}
	stamp := at.UTC().Format("20060102T150405.000000000Z")
	return path.Join(exportRoot, sessionID, stamp+"."+ext), nil
}

// ExportPrefix is the key prefix under which a session's exports live.
func ExportPrefix(sessionID string) (string, error) {
	if err := validateKeyComponent(sessionID, "session id"); err != nil {
		return "", err
	}
	return exportRoot + "/" + sessionID + "/", nil
}

// IsExportKey reports whether key was produced by BuildExportKey.
func IsExportKey(key string) bool {
	parts := strings.Split(strings.TrimPrefix(key, "/"), "/")
	if len(parts) != 3 || parts[0] != exportRoot {
		return false
	}
	return keyComponentPattern.MatchString(parts[1]) && keyComponentPattern.MatchString(parts[2])
}

func validateKeyComponent(value, field string) error {
	if !keyComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
