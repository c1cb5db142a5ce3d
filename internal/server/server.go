// Package server exposes the HTTP surface: heartbeat and alert ingestion,
// status and uptime reads, and the live status websocket.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"pulsemon/internal/alerts"
	"pulsemon/internal/heartbeat"
	"pulsemon/internal/models"
	"pulsemon/internal/monitor"
	"pulsemon/internal/notify"
)

// Server wraps HTTP serving of the monitor API.
type Server struct {
	httpServer  *http.Server
	runner      *monitor.Runner
	ingestor    *heartbeat.Ingestor
	router      *notify.Router
	alertSecret string
	log         *zap.Logger
	live        *liveHub
}

// New creates a configured HTTP server for the monitor.
func New(addr string, runner *monitor.Runner, ingestor *heartbeat.Ingestor, router *notify.Router, alertSecret string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	mux := http.NewServeMux()
	s := &Server{
		httpServer:  &http.Server{Addr: addr, Handler: mux},
		runner:      runner,
		ingestor:    ingestor,
		router:      router,
		alertSecret: alertSecret,
		log:         log,
		live:        newLiveHub(),
	}
	runner.OnSummary(s.live.Broadcast)
	s.registerRoutes(mux)
	return s
}

// Run blocks and serves HTTP traffic.
func (s *Server) Run() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("/api/alert", s.handleAlert)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/uptime", s.handleUptime)
	mux.HandleFunc("/api/alerts", s.handleAlertHistory)
	mux.HandleFunc("/api/channels", s.handleChannels)
	mux.HandleFunc("/api/evaluate", s.handleEvaluate)
	mux.HandleFunc("/api/test-notification", s.handleTestNotification)
	mux.HandleFunc("/api/live", s.handleLive)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("Method not allowed"))
		return
	}

	var req heartbeat.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Invalid JSON payload"))
		return
	}

	outcome, err := s.ingestor.Ingest(r.Context(), req, bearerToken(r), time.Now())
	if err != nil {
		s.log.Error("heartbeat ingestion failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody("Storage error"))
		return
	}

	total := len(outcome.Results)
	succeeded := outcome.Succeeded()
	switch {
	case succeeded == total:
		if !req.IsBatch() {
			writeJSON(w, http.StatusOK, map[string]any{
				"success":   true,
				"message":   "Heartbeat recorded",
				"serviceId": req.ServiceID,
				"timestamp": outcome.Timestamp.Format(time.RFC3339),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"message":   "All heartbeats recorded",
			"results":   outcome.Results,
			"timestamp": outcome.Timestamp.Format(time.RFC3339),
		})
	case succeeded == 0:
		status := http.StatusBadRequest
		if outcome.AllAuthFailures() {
			status = http.StatusUnauthorized
		}
		writeJSON(w, status, map[string]any{
			"success": false,
			"message": "All heartbeats failed",
			"results": outcome.Results,
		})
	default:
		writeJSON(w, http.StatusMultiStatus, map[string]any{
			"success": false,
			"message": "Partial success",
			"results": outcome.Results,
		})
	}
}

func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("Method not allowed"))
		return
	}
	// An unset secret leaves the endpoint open; a set secret gates it.
	if s.alertSecret != "" {
		if subtle.ConstantTimeCompare([]byte(bearerToken(r)), []byte(s.alertSecret)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorBody("Unauthorized"))
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("Unreadable body"))
		return
	}
	now := time.Now()
	alert, err := alerts.Normalize(body, now)
	if err != nil {
		if errors.Is(err, alerts.ErrUnsupportedFormat) {
			writeJSON(w, http.StatusBadRequest, errorBody("Unsupported alert format"))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	if invalid := s.invalidChannels(alert.Channels); len(invalid) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success":         false,
			"message":         "Unknown channels requested",
			"invalidChannels": invalid,
			"validChannels":   s.router.ChannelNames(),
		})
		return
	}

	sent, err := s.runner.RecordExternal(r.Context(), alert, now)
	if err != nil {
		// Dispatch already happened; history persistence is best effort here.
		s.log.Warn("persist alert history", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  "Alert dispatched",
		"event":    sent.Event,
		"channels": sent.Channels,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	summary, err := s.runner.Summary(r.Context())
	if err != nil {
		s.log.Error("read status summary", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody("Storage error"))
		return
	}
	if summary == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleUptime(w http.ResponseWriter, r *http.Request) {
	serviceID := r.URL.Query().Get("service")
	if serviceID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("Missing service parameter"))
		return
	}
	if _, ok := s.runner.Service(serviceID); !ok {
		writeJSON(w, http.StatusNotFound, errorBody("Unknown serviceId"))
		return
	}
	series, err := s.runner.UptimeSeries(r.Context(), serviceID, time.Now())
	if err != nil {
		s.log.Error("read uptime series", zap.Error(err), zap.String("service", serviceID))
		writeJSON(w, http.StatusInternalServerError, errorBody("Storage error"))
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (s *Server) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.runner.History(r.Context())
	if err != nil {
		s.log.Error("read alert history", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody("Storage error"))
		return
	}
	if entries == nil {
		entries = []models.SentAlert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": entries})
}

func (s *Server) handleChannels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"channels": s.router.ChannelNames()})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("Method not allowed"))
		return
	}
	summary, err := s.runner.RunOnce(r.Context())
	if err != nil {
		s.log.Error("evaluation round failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody("Evaluation failed"))
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("Method not allowed"))
		return
	}
	var req struct {
		ChannelType string `json:"channelType"`
		EventType   string `json:"eventType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChannelType == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("channelType is required"))
		return
	}
	event := models.EventType(req.EventType)
	if event == "" {
		event = models.EventDown
	}
	if err := s.router.SendTest(r.Context(), req.ChannelType, event, time.Now()); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Test notification sent"})
}

func (s *Server) invalidChannels(requested []string) []string {
	var invalid []string
	for _, name := range requested {
		if !s.router.HasChannel(name) {
			invalid = append(invalid, name)
		}
	}
	return invalid
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func errorBody(message string) map[string]any {
	return map[string]any{"success": false, "message": message}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
