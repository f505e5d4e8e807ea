package mcp

import (
	"net/http"

	"github.com/Strob0t/GroundControl/internal/middleware"
)

// guard puts the MCP endpoint behind the same key check as the REST API and
// attributes tool calls to the agent named in X-Operator. An empty key
// leaves the endpoint open.
func guard(apiKey string, next http.Handler) http.Handler {
	return middleware.APIKey(apiKey)(middleware.Actor(next))
}
