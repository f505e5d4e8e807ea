package middleware

import (
	"net/http"
	"strings"

	"github.com/Strob0t/GroundControl/internal/logger"
)

// HeaderOperator names the operator or agent acting on a request.
const HeaderOperator = "X-Operator"

const maxActorLength = 64

// Actor stores the X-Operator header in the context. Handlers use it as the
// default requested_by and actor of commands and confirmations.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := strings.TrimSpace(r.Header.Get(HeaderOperator))
		if actor == "" || len(actor) > maxActorLength {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(logger.WithActor(r.Context(), actor)))
	})
}
