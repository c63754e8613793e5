// Package askdbctl implements a small command line client for the askdb
// HTTP API.
package askdbctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/askdb/askdb/internal/resultset"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type command struct {
	method string
	path   string
	body   any
	// render replaces the default JSON/raw output when set.
	render func(w io.Writer, body []byte) error
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("askdbctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "askdb API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 60*time.Second), "HTTP timeout (e.g. 60s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	cmd, err := parseCommand(fs.Args())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	endpoint := strings.TrimRight(*baseURL, "/") + cmd.path
	code, responseBody, err := doRequest(ctx, client, cmd, endpoint, *apiKey)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if cmd.render != nil {
		if err := cmd.render(stdout, responseBody); err != nil {
			_, _ = fmt.Fprintf(stderr, "render response: %v\n", err)
			return 1
		}
		return 0
	}
	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = stdout.Write(responseBody)
	}
	return 0
}

func parseCommand(args []string) (command, error) {
	name := strings.TrimSpace(args[0])
	rest := args[1:]
	needSession := func() (string, error) {
		if len(rest) < 1 || strings.TrimSpace(rest[0]) == "" {
			return "", fmt.Errorf("%s requires a session id", name)
		}
		return url.PathEscape(strings.TrimSpace(rest[0])), nil
	}

	switch name {
	case "health":
		return command{method: http.MethodGet, path: "/v1/health"}, nil
	case "ready":
		return command{method: http.MethodGet, path: "/v1/ready"}, nil
	case "tables":
		return command{method: http.MethodGet, path: "/v1/tables"}, nil
	case "new":
		return command{method: http.MethodPost, path: "/v1/sessions"}, nil
	case "history", "clear", "export", "show", "end":
		session, err := needSession()
		if err != nil {
			return command{}, err
		}
		switch name {
		case "history":
			return command{method: http.MethodGet, path: "/v1/sessions/" + session + "/messages"}, nil
		case "clear":
			return command{method: http.MethodDelete, path: "/v1/sessions/" + session + "/messages"}, nil
		case "end":
			return command{method: http.MethodDelete, path: "/v1/sessions/" + session}, nil
		case "show":
			return command{method: http.MethodGet, path: "/v1/sessions/" + session + "/export.csv", render: renderTable}, nil
		default:
			return command{method: http.MethodGet, path: "/v1/sessions/" + session + "/export.csv"}, nil
		}
	case "ask":
		session, err := needSession()
		if err != nil {
			return command{}, err
		}
		question := strings.TrimSpace(strings.Join(rest[1:], " "))
		if question == "" {
			return command{}, fmt.Errorf("ask requires a question")
		}
		return command{
			method: http.MethodPost,
			path:   "/v1/sessions/" + session + "/ask",
			body:   map[string]string{"question": question},
		}, nil
	default:
		return command{}, fmt.Errorf("unknown command %q", name)
	}
}

func doRequest(ctx context.Context, client *http.Client, cmd command, endpoint, apiKey string) (int, []byte, error) {
	var body io.Reader
	if cmd.body != nil {
		payload, err := json.Marshal(cmd.body)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, cmd.method, endpoint, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// renderTable prints an exported CSV as aligned columns.
func renderTable(w io.Writer, body []byte) error {
	table, err := resultset.ReadCSV(bytes.NewReader(body))
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, strings.Join(table.Columns, "\t"))
	for _, row := range table.Rows {
		cells := make([]string, len(row))
		for i, value := range row {
			cells[i] = fmt.Sprint(value)
		}
		_, _ = fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "(%d rows)\n", len(table.Rows))
	return err
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: askdbctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                      GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                       GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  tables                      GET /v1/tables")
	_, _ = fmt.Fprintln(w, "  new                         POST /v1/sessions")
	_, _ = fmt.Fprintln(w, "  ask <session> <question>    POST /v1/sessions/{id}/ask")
	_, _ = fmt.Fprintln(w, "  history <session>           GET /v1/sessions/{id}/messages")
	_, _ = fmt.Fprintln(w, "  clear <session>             DELETE /v1/sessions/{id}/messages")
	_, _ = fmt.Fprintln(w, "  export <session>            GET /v1/sessions/{id}/export.csv")
	_, _ = fmt.Fprintln(w, "  show <session>              print the last table as aligned columns")
	_, _ = fmt.Fprintln(w, "  end <session>               DELETE /v1/sessions/{id}")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
