package server

import (
	"net/http"
	"time"

	"labonnas-pos/internal/httpx"
)

// health reports the store and broker state. Any failing dependency turns
// the response into a 503.
func health(opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{}
		healthy := true

		if opts.Store != nil {
			if err := opts.Store.Ping(r.Context()); err != nil {
				opts.Logger.Warn("health_check_failed", "Store ping failed", httpx.RequestID(r), map[string]interface{}{
					"error": err.Error(),
				})
				checks["store"] = "down"
				healthy = false
			} else {
				checks["store"] = "ok"
			}
		}

		switch {
		case opts.Broker == nil:
			checks["broker"] = "disabled"
		case opts.Broker.IsClosed():
			checks["broker"] = "down"
			healthy = false
		default:
			checks["broker"] = "ok"
		}

		response := map[string]interface{}{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"service":   opts.Service,
			"checks":    checks,
		}
		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
			response["status"] = "unhealthy"
		}
		httpx.WriteJSON(w, status, response)
	}
}
