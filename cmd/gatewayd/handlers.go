package main

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/agentflow/llmgateway/gateway"
	"github.com/agentflow/llmgateway/router"
)

// ChatHandler serves the gateway's single inbound completion route.
type ChatHandler struct {
	router *router.Router
	logger *zap.Logger
}

// NewChatHandler builds a ChatHandler bound to the given Router.
func NewChatHandler(r *router.Router, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{router: r, logger: logger}
}

// HandleCompletion decodes a ChatRequest body, dispatches it through the
// Router, and writes back a ChatResponse or a structured error.
func (h *ChatHandler) HandleCompletion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorJSON(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is supported")
		return
	}

	var req gateway.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body: "+err.Error())
		return
	}

	resp, gerr := h.router.Complete(r.Context(), &req)
	if gerr != nil {
		h.logger.Debug("completion failed", zap.String("code", string(gerr.Code)), zap.String("vendor", req.Vendor))
		writeGatewayError(w, gerr)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// HealthHandler serves liveness, readiness, and version endpoints.
type HealthHandler struct {
	router *router.Router
	logger *zap.Logger
}

// NewHealthHandler builds a HealthHandler bound to the given Router.
func NewHealthHandler(r *router.Router, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{router: r, logger: logger}
}

// HandleHealth reports process liveness; it never depends on upstream
// vendor reachability.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReady reports whether the gateway is ready to accept traffic. It is
// currently equivalent to HandleHealth: the router and its providers are
// wired synchronously during startup, so readiness tracks process liveness.
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleVersion returns a handler reporting the build's version metadata.
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// writeJSON marshals v as the JSON response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErrorJSON writes a minimal structured error body not backed by a
// *gateway.Error (e.g. request decode failures the router never sees).
func writeErrorJSON(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   map[string]string{"code": code, "message": message},
	})
}

// writeGatewayError writes a *gateway.Error, honoring its HTTPStatus when
// the producer set one and falling back to a code-based mapping otherwise.
func writeGatewayError(w http.ResponseWriter, gerr *gateway.Error) {
	status := gerr.HTTPStatus
	if status == 0 {
		status = httpStatusForCode(gerr.Code)
	}
	writeJSON(w, status, map[string]any{
		"success": false,
		"error": map[string]any{
			"code":      gerr.Code,
			"message":   gerr.Message,
			"retryable": gerr.Retryable,
			"provider":  gerr.Provider,
		},
	})
}

// httpStatusForCode maps gateway error codes that never pass through a
// provider adapter (and so never get WithHTTPStatus called on them) to a
// response status.
func httpStatusForCode(code gateway.ErrorCode) int {
	switch code {
	case gateway.ErrInvalidRequest, gateway.ErrGroundedJSONUnsupported:
		return http.StatusBadRequest
	case gateway.ErrModelNotAllowed, gateway.ErrGroundingNotSupported:
		return http.StatusUnprocessableEntity
	case gateway.ErrVendorAuthError:
		return http.StatusUnauthorized
	case gateway.ErrRateLimited, gateway.ErrRateLimitedQuota:
		return http.StatusTooManyRequests
	case gateway.ErrTimeout, gateway.ErrCancelled:
		return http.StatusGatewayTimeout
	case gateway.ErrGroundingRequiredFailed, gateway.ErrEmptyCompletion:
		return http.StatusBadGateway
	case gateway.ErrServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
