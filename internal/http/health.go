package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Pinger checks connectivity. db.Adapter satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports whether the target database answers within two
// seconds.
type HealthHandler struct {
	DB Pinger
}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.DB.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "service_unhealthy", fmt.Errorf("target database unreachable: %w", err))
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "ok", "db": "ok"})
}
