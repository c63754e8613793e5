package api

import (
	"net/http"
	"strings"

	"github.com/askdb/askdb/internal/chat"
)

const connectionHeaderPrefix = "X-AskDB-"

func handleListTables(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	settings := connectionFromHeaders(r.Header)
	tables, err := deps.Chat.Tables(r.Context(), settings)
	if err != nil {
		writeChatError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

// connectionFromHeaders reads X-AskDB-Mode, -Driver, -Host, -User,
// -Password and -Database.
func connectionFromHeaders(h http.Header) chat.ConnectionSettings {
	get := func(name string) string {
		return strings.TrimSpace(h.Get(connectionHeaderPrefix + name))
	}
	return chat.ConnectionSettings{
		Mode:     get("Mode"),
		Driver:   get("Driver"),
		Host:     get("Host"),
		User:     get("User"),
		Password: h.Get(connectionHeaderPrefix + "Password"),
		Database: get("Database"),
	}
}
