package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/rickgao/relaymesh/internal/app"
	"github.com/rickgao/relaymesh/internal/metrics"
	"github.com/rickgao/relaymesh/internal/orchestrator"
	"github.com/rickgao/relaymesh/internal/version"
)

type healthResponse struct {
	Status     string         `json:"status"`
	Version    string         `json:"version"`
	Mode       string         `json:"mode"`
	Connected  int            `json:"connected"`
	Connecting int            `json:"connecting"`
	Failed     int            `json:"failed"`
	Total      int            `json:"total"`
	Components map[string]any `json:"components"`
}

type relayResponse struct {
	URL                 string  `json:"url"`
	State               string  `json:"state,omitempty"`
	Status              string  `json:"status"`
	Score               float64 `json:"score"`
	AvgLatencyMs        int64   `json:"avg_latency_ms"`
	Successes           int64   `json:"successes"`
	Failures            int64   `json:"failures"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
}

// debugRelayResponse adds the raw last error, which is diagnostic only.
type debugRelayResponse struct {
	relayResponse
	LastError string `json:"last_error,omitempty"`
}

// newHandler creates the HTTP handler for status, control and metrics.
func newHandler(a *app.App, metricsPath string, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		summary := a.Orchestrator.Summary()
		health := healthResponse{
			Status:     overallStatus(summary),
			Version:    version.String(),
			Mode:       summary.Mode.String(),
			Connected:  summary.Connected,
			Connecting: summary.Connecting,
			Failed:     summary.Failed,
			Total:      summary.Total,
			Components: make(map[string]any),
		}

		// Check preferences database
		if a.DatabaseEnabled() {
			if err := a.Ping(ctx); err != nil {
				health.Status = "degraded"
				health.Components["postgres"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["postgres"] = "connected"
			}
		}

		health.Components["pools"] = map[string]any{
			"general":  a.General.Stats(),
			"isolated": a.Isolated.Stats(),
		}

		status := http.StatusOK
		if health.Status == "unhealthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, health)
	})

	mux.HandleFunc("/relays", func(w http.ResponseWriter, r *http.Request) {
		rows := relayRows(a)
		relays := make([]relayResponse, len(rows))
		for i, row := range rows {
			relays[i] = row.relayResponse
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"count":  len(relays),
			"relays": relays,
		})
	})

	mux.HandleFunc("/relays/info", func(w http.ResponseWriter, r *http.Request) {
		url := r.URL.Query().Get("url")
		if url == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url is required"})
			return
		}

		doc, err := a.RelayInfo(r.Context(), url)
		switch {
		case errors.Is(err, app.ErrUnknownRelay):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		case err != nil:
			logger.Warn("relay info unavailable", "relay", url, "error", err)
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "relay information unavailable"})
		default:
			writeJSON(w, http.StatusOK, doc)
		}
	})

	mux.HandleFunc("/mode", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]string{"mode": a.Orchestrator.Mode().String()})
		case http.MethodPost:
			name := r.URL.Query().Get("name")
			mode, err := a.SetMode(r.Context(), name)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}
			logger.Info("mode changed over http", "mode", mode)
			writeJSON(w, http.StatusOK, map[string]any{
				"mode":      mode.String(),
				"endpoints": a.Orchestrator.ActiveEndpoints(),
			})
		default:
			w.Header().Set("Allow", "GET, POST")
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		}
	})

	mux.HandleFunc("/refresh", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST")
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		retried := a.Orchestrator.Refresh(r.Context())
		writeJSON(w, http.StatusOK, map[string]int{"retried": retried})
	})

	mux.HandleFunc("/debug/queues", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, a.QueueStats())
	})

	mux.HandleFunc("/debug/relays", func(w http.ResponseWriter, r *http.Request) {
		rows := relayRows(a)
		writeJSON(w, http.StatusOK, map[string]any{
			"count":  len(rows),
			"relays": rows,
		})
	})

	mux.Handle(metricsPath, metrics.Handler())

	return mux
}

// relayRows lists every relay with health data plus active relays without
// samples yet, sorted by URL.
func relayRows(a *app.App) []debugRelayResponse {
	states := a.Orchestrator.Summary().PerEndpoint

	snapshot := a.Monitor.Snapshot()
	rows := make([]debugRelayResponse, 0, len(snapshot))
	seen := make(map[string]struct{}, len(snapshot))
	for _, m := range snapshot {
		seen[m.URL] = struct{}{}
		rows = append(rows, debugRelayResponse{
			relayResponse: relayResponse{
				URL:                 m.URL,
				State:               string(states[m.URL]),
				Status:              string(m.Status),
				Score:               m.Score,
				AvgLatencyMs:        m.AvgLatency.Milliseconds(),
				Successes:           m.Successes,
				Failures:            m.Failures,
				ConsecutiveFailures: m.ConsecutiveFailures,
			},
			LastError: m.LastError,
		})
	}

	for url, state := range states {
		if _, ok := seen[url]; ok {
			continue
		}
		rows = append(rows, debugRelayResponse{relayResponse: relayResponse{
			URL:    url,
			State:  string(state),
			Status: string(a.Monitor.StatusOf(url)),
			Score:  a.Monitor.Score(url),
		}})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].URL < rows[j].URL })
	return rows
}

// overallStatus maps a connection summary to a service status. No active
// relays is healthy: the mode asked for nothing.
func overallStatus(s orchestrator.Summary) string {
	switch {
	case s.Total == 0:
		return "healthy"
	case s.AreAllConnected():
		return "healthy"
	case s.IsAnyConnected() || s.Connecting > 0:
		return "degraded"
	default:
		return "unhealthy"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
