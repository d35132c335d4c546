package http

import (
	"context"
	"net/http"
	"time"

	"github.com/aussiebroadwan/mfagate/internal/mfa/store"
	"github.com/aussiebroadwan/mfagate/pkg/httpx"
	"github.com/aussiebroadwan/mfagate/pkg/mfasdk"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// ReadyzHandler reports 503 when the database or an external challenge
// store does not answer.
func ReadyzHandler(
	startTime time.Time,
	version string,
	st store.Store,
	challenges store.Challenges,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &mfasdk.HealthChecks{
			Database:   "ok",
			Challenges: "ok",
		}
		overallStatus := "ok"
		statusCode := http.StatusOK

		if err := st.Ping(r.Context()); err != nil {
			checks.Database = "error: " + err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		// Challenges kept in the database are covered by the check above
		if p, ok := challenges.(pinger); ok {
			if err := p.Ping(r.Context()); err != nil {
				checks.Challenges = "error: " + err.Error()
				overallStatus = "degraded"
				statusCode = http.StatusServiceUnavailable
			}
		}

		response := mfasdk.HealthResponse{
			Status:  overallStatus,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		}
		httpx.WriteJSON(w, statusCode, response)
	}
}
