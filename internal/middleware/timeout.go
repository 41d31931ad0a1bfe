package middleware

import (
	"net/http"
	"time"
)

// DefaultRequestTimeout bounds a request handler. It is longer than the
// resolver's provider timeout so a slow model still yields the rule-based answer.
const DefaultRequestTimeout = 15 * time.Second

const timeoutBody = `{"success":false,"error":"Request Timeout","message":"the request took too long"}`

// Timeout cancels the request context and answers 503 once timeout elapses
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, timeoutBody)
	}
}
