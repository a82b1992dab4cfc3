package api

import (
	"net/http"
	"sort"
	"time"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

// PipelineHealth reports each pipeline's terminal error, nil when healthy.
type PipelineHealth interface {
	Health() map[string]error
}

// ConnectionStatus is satisfied by the MQTT client.
type ConnectionStatus interface {
	IsConnected() bool
}

type HealthHandler struct {
	pipelines PipelineHealth
	mqtt      ConnectionStatus
	version   string
	startTime time.Time
}

// NewHealthHandler builds the health endpoint. mqtt may be nil when no
// broker is configured.
func NewHealthHandler(pipelines PipelineHealth, mqtt ConnectionStatus, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		pipelines: pipelines,
		mqtt:      mqtt,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	// A stopped pipeline never restarts.
	health := h.pipelines.Health()
	names := make([]string, 0, len(health))
	for name := range health {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if health[name] != nil {
			checks[name] = "error: " + health[name].Error()
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks[name] = "ok"
		}
	}

	// MQTT check
	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	WriteJSON(w, httpStatus, HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	})
}
