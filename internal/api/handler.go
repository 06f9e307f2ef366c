package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/parsnet/l2link/internal/config"
	"github.com/parsnet/l2link/internal/tunnel"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

// Handler wires the configuration store into HTTP handlers.
type Handler struct {
	store *config.Store

	clock func() time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// NewHandler constructs a Handler around the provided store.
func NewHandler(store *config.Store, opts ...HandlerOption) *Handler {
	h := &Handler{
		store: store,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = r
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.clock(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	_ = r
	resp := statusResponse{
		Configured: h.store.IsConfigured(),
		Role:       string(h.store.Role()),
		LocalIP:    h.store.LocalIP(),
		RemoteIP:   h.store.RemoteIP(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	_ = r
	writeJSON(w, http.StatusOK, h.store.Snapshot())
}

func (h *Handler) handlePutRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to parse JSON payload")
		return
	}

	if err := h.store.SetRole(config.Role(req.Role)); err != nil {
		if errors.Is(err, config.ErrInvalidRole) {
			writeError(w, http.StatusBadRequest, "Invalid role", err.Error())
			return
		}
		writeInternalError(w, err)
		return
	}

	h.handleStatus(w, r)
}

func (h *Handler) handlePutEndpoints(w http.ResponseWriter, r *http.Request) {
	var req endpointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to parse JSON payload")
		return
	}
	if req.IPIran == nil && req.IPKharej == nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "at least one of ip_iran or ip_kharej is required")
		return
	}

	err := h.store.Update(func(d *config.Document) {
		if req.IPIran != nil {
			d.IPIran = req.IPIran
		}
		if req.IPKharej != nil {
			d.IPKharej = req.IPKharej
		}
	})
	if err != nil {
		writeInternalError(w, err)
		return
	}

	h.handleStatus(w, r)
}

func (h *Handler) handleGetPorts(w http.ResponseWriter, r *http.Request) {
	_ = r
	writeJSON(w, http.StatusOK, portsResponse{Ports: h.store.ForwardedPorts()})
}

func (h *Handler) handleAddPort(w http.ResponseWriter, r *http.Request) {
	var req portRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to parse JSON payload")
		return
	}
	if req.Port <= 0 || req.Port > 65535 {
		writeError(w, http.StatusBadRequest, "Invalid port", "port must be between 1 and 65535")
		return
	}

	if err := h.store.AddPort(req.Port); err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, portsResponse{Ports: h.store.ForwardedPorts()})
}

func (h *Handler) handleRemovePort(w http.ResponseWriter, r *http.Request) {
	port, err := strconv.Atoi(r.PathValue("port"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid port", "port must be an integer")
		return
	}

	if err := h.store.RemovePort(port); err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, portsResponse{Ports: h.store.ForwardedPorts()})
}

func (h *Handler) handleTunnelIDs(w http.ResponseWriter, r *http.Request) {
	_ = r
	writeJSON(w, http.StatusOK, h.store.TunnelIDs())
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.store.ClearAll(); err != nil {
		writeInternalError(w, err)
		return
	}
	h.handleStatus(w, r)
}

func (h *Handler) handlePlan(w http.ResponseWriter, r *http.Request) {
	_ = r
	params, err := tunnel.FromStore(h.store)
	if err != nil {
		if errors.Is(err, tunnel.ErrNotConfigured) {
			writeError(w, http.StatusConflict, "Not configured", err.Error())
			return
		}
		writeInternalError(w, err)
		return
	}

	resp := planResponse{
		Params:   params,
		Setup:    params.SetupCommands(),
		Teardown: params.TeardownCommands(),
		Forward:  params.ForwardCommands(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

type roleRequest struct {
	Role string `json:"role"`
}

type endpointsRequest struct {
	IPIran   *string `json:"ip_iran"`
	IPKharej *string `json:"ip_kharej"`
}

type portRequest struct {
	Port int `json:"port"`
}

type portsResponse struct {
	Ports []int `json:"ports"`
}

type statusResponse struct {
	Configured bool   `json:"configured"`
	Role       string `json:"role"`
	LocalIP    string `json:"local_ip"`
	RemoteIP   string `json:"remote_ip"`
}

type planResponse struct {
	Params   tunnel.Params `json:"params"`
	Setup    [][]string    `json:"setup"`
	Teardown [][]string    `json:"teardown"`
	Forward  [][]string    `json:"forward,omitempty"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, errorResponse{
		Error:   message,
		Details: details,
	})
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
}
