package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/djkaif/status-monitor/internal/models"
	"github.com/djkaif/status-monitor/internal/server"
	"github.com/djkaif/status-monitor/internal/telemetry"
)

// APIKeyHeader carries the shared credential on every authenticated call.
const APIKeyHeader = "X-API-Key"

type Handler struct {
	srv    *server.Server
	secret string
	log    *zap.Logger
	tracer trace.Tracer
}

// NewHTTPHandler wires the heartbeat/delivery routes. Every route except
// /health requires the shared secret in the X-API-Key header.
func NewHTTPHandler(srv *server.Server, secret string, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{
		srv:    srv,
		secret: secret,
		log:    log,
		tracer: otel.Tracer("status-monitor/api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/heartbeat", h.auth(h.handleHeartbeat))
	mux.HandleFunc("/events", h.auth(h.handleEvents))
	mux.HandleFunc("/archive/pull", h.auth(h.handlePull))
	mux.HandleFunc("/archive/ack", h.auth(h.handleAck))
	mux.HandleFunc("/nodes", h.auth(h.handleNodes))

	return h.traced(mux)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Node      string `json:"node"`
		NodeType  string `json:"node_type"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	err := h.srv.Ingest(r.Context(), req.Node, req.NodeType, req.Timestamp)
	if errors.Is(err, server.ErrEmptyNode) {
		telemetry.SignalsTotal.WithLabelValues("rejected").Inc()
		h.writeError(w, http.StatusBadRequest, "node required")
		return
	}
	if err != nil {
		h.log.Error("heartbeat ingest failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to record heartbeat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	events := h.srv.DrainEvents()
	if events == nil {
		events = []models.TransitionEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(events),
		"events": events,
	})
}

func (h *Handler) handlePull(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	batch, err := h.srv.Pull(r.Context())
	if err != nil {
		h.log.Error("archive pull failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to read archive")
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (h *Handler) handleAck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		BatchID string `json:"batch_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if req.BatchID == "" {
		h.writeError(w, http.StatusBadRequest, "batch_id required")
		return
	}

	err := h.srv.Acknowledge(r.Context(), req.BatchID)
	if errors.Is(err, server.ErrNoBatch) || errors.Is(err, server.ErrTokenMismatch) {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.log.Error("archive ack failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to clear archive")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	nodes, err := h.srv.Nodes(r.Context())
	if err != nil {
		h.log.Error("node listing failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to list nodes")
		return
	}
	if nodes == nil {
		nodes = []models.Node{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(nodes),
		"nodes": nodes,
	})
}

// auth rejects requests whose X-API-Key does not equal the shared secret.
func (h *Handler) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(APIKeyHeader) != h.secret {
			telemetry.AuthFailures.Inc()
			h.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// traced opens a span per request.
func (h *Handler) traced(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), r.Method+" "+r.URL.Path)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
	h.log.Debug("request rejected", zap.Int("status", status), zap.String("reason", msg))
}
