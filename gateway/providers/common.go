// Package providers holds the vendor adapters (OpenAI-style Responses,
// Vertex/Gemini) plus the HTTP error-mapping helpers they share.
package providers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/agentflow/llmgateway/types"
)

// MapHTTPError classifies a vendor HTTP response into the gateway's error
// taxonomy. Adapters call this once they've read the error body.
func MapHTTPError(status int, msg string, vendor string) *types.Error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return types.NewError(types.ErrVendorAuthError, msg).WithHTTPStatus(status).WithProvider(vendor)
	case http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, msg).WithHTTPStatus(status).WithRetryable(true).WithProvider(vendor)
	case http.StatusBadRequest:
		if quotaKeyword(msg) {
			return types.NewError(types.ErrRateLimitedQuota, msg).WithHTTPStatus(status).WithProvider(vendor)
		}
		return types.NewError(types.ErrInvalidRequest, msg).WithHTTPStatus(status).WithProvider(vendor)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return types.NewError(types.ErrTimeout, msg).WithHTTPStatus(status).WithRetryable(true).WithProvider(vendor)
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return types.NewError(types.ErrServiceUnavailable, msg).WithHTTPStatus(status).WithRetryable(true).WithProvider(vendor)
	default:
		return types.NewError(types.ErrServiceUnavailable, msg).WithHTTPStatus(status).WithRetryable(status >= 500).WithProvider(vendor)
	}
}

func quotaKeyword(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "quota") || strings.Contains(m, "credit") || strings.Contains(m, "insufficient")
}

// ReadErrorMessage extracts a human-readable message from a vendor error
// body, falling back to the raw bytes when the body isn't the expected
// {"error":{"message":...}} shape.
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Status != "" {
			return fmt.Sprintf("%s (%s)", errResp.Error.Message, errResp.Error.Status)
		}
		return errResp.Error.Message
	}
	return string(data)
}

// SafeCloseBody closes an HTTP response body, swallowing the close error —
// there's nothing actionable a caller could do with it.
func SafeCloseBody(body io.ReadCloser) {
	if body != nil {
		_ = body.Close()
	}
}
