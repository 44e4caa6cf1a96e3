package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/voyagehq/crm-ai-go/internal/services"
)

var startTime = time.Now()

// HealthPinger is the slice of a backing store the probes need. Both
// database.PostgresDB and database.RedisClient satisfy it.
type HealthPinger interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler serves the probe endpoints. They are plain http.HandlerFunc
// so load balancers hit them without going through the API middleware stack.
type HealthHandler struct {
	db            HealthPinger
	redis         HealthPinger
	scheduler     *services.DigestScheduler
	resources     *services.ResourceOptimizer
	botConfigured bool
	version       string
}

type HealthResponse struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Services  map[string]string        `json:"services"`
	System    *services.SystemSnapshot `json:"system,omitempty"`
	Version   string                   `json:"version"`
	Uptime    string                   `json:"uptime"`
}

func NewHealthHandler(db, redis HealthPinger, scheduler *services.DigestScheduler, resources *services.ResourceOptimizer, botConfigured bool, version string) *HealthHandler {
	return &HealthHandler{
		db:            db,
		redis:         redis,
		scheduler:     scheduler,
		resources:     resources,
		botConfigured: botConfigured,
		version:       version,
	}
}

func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	services := make(map[string]string)

	if h.db != nil {
		if err := h.db.HealthCheck(r.Context()); err != nil {
			services["database"] = "unhealthy: " + err.Error()
		} else {
			services["database"] = "healthy"
		}
	} else {
		services["database"] = "unhealthy: not configured"
	}

	// Redis is optional: the analysis cache falls back to memory without it.
	if h.redis != nil {
		if err := h.redis.HealthCheck(r.Context()); err != nil {
			services["redis"] = "unhealthy: " + err.Error()
		} else {
			services["redis"] = "healthy"
		}
	} else {
		services["redis"] = "disabled"
	}

	// Digests only run when a bot token is configured, so neither being
	// absent degrades overall health.
	if h.botConfigured {
		services["telegram"] = "healthy"
	} else {
		services["telegram"] = "disabled"
	}

	if h.scheduler != nil {
		if h.scheduler.IsHealthy() {
			services["digest_scheduler"] = "healthy"
		} else {
			services["digest_scheduler"] = "unhealthy: workers stalled"
		}
	} else {
		services["digest_scheduler"] = "disabled"
	}

	overallStatus := "healthy"
	for _, status := range services {
		if strings.HasPrefix(status, "unhealthy") {
			overallStatus = "unhealthy"
			break
		}
	}

	response := HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Services:  services,
		Version:   h.version,
		Uptime:    time.Since(startTime).String(),
	}
	if h.resources != nil {
		response.System = h.resources.Snapshot(r.Context())
	}

	w.Header().Set("Content-Type", "application/json")
	if overallStatus == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// ReadinessCheck gates traffic on the database only. A pod without Redis or
// a bot can still serve requests.
func (h *HealthHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	services := make(map[string]string)

	w.Header().Set("Content-Type", "application/json")

	if h.db == nil {
		services["database"] = "not ready"
	} else if err := h.db.HealthCheck(r.Context()); err != nil {
		services["database"] = "not ready"
	} else {
		services["database"] = "ready"
	}

	if services["database"] != "ready" {
		w.WriteHeader(http.StatusServiceUnavailable)
		if err := json.NewEncoder(w).Encode(map[string]interface{}{
			"ready":    false,
			"services": services,
		}); err != nil {
			http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"ready":    true,
		"services": services,
	}); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// LivenessCheck only proves the process responds.
func (h *HealthHandler) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status":    "alive",
		"timestamp": time.Now().Format(time.RFC3339),
	}); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
