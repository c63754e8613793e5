package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/cli/askdbctl"
)

func main() {
	timeout := parseDurationWithDefault(strings.TrimSpace(os.Getenv("ASKDB_CLI_TIMEOUT")), 60*time.Second)
	options := askdbctl.Options{
		BaseURL: envOr("ASKDB_API_URL", "http://localhost:8080"),
		APIKey:  strings.TrimSpace(os.Getenv("ASKDB_API_KEY")),
		Timeout: timeout,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}

	os.Exit(askdbctl.Run(context.Background(), os.Args[1:], options))
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDurationWithDefault(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid ASKDB_CLI_TIMEOUT %q; using %s\n", raw, fallback)
		return fallback
	}
	return parsed
}
