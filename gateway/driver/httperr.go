package driver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rudironsoni/inference-gateway/gateway/gwerrors"
)

// MapHTTPError classifies an upstream HTTP status into the gateway's closed
// error taxonomy, shared by every driver that talks raw HTTP. 401/403 ->
// auth_error, 429 -> rate_limited, 5xx/network -> server_error,
// 400/404/422 -> client_error; anything else defaults by status range.
func MapHTTPError(status int, msg string, provider string) *gwerrors.Error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return gwerrors.New(gwerrors.CodeAuthError, msg).WithProvider(provider)
	case http.StatusTooManyRequests:
		return gwerrors.New(gwerrors.CodeRateLimited, msg).WithProvider(provider)
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return gwerrors.New(gwerrors.CodeClientError, msg).WithProvider(provider)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return gwerrors.New(gwerrors.CodeServerError, msg).WithProvider(provider)
	default:
		if status >= 500 {
			return gwerrors.New(gwerrors.CodeServerError, msg).WithProvider(provider)
		}
		if status >= 400 {
			return gwerrors.New(gwerrors.CodeClientError, msg).WithProvider(provider)
		}
		return gwerrors.New(gwerrors.CodeServerError, fmt.Sprintf("unexpected status %d: %s", status, msg)).WithProvider(provider)
	}
}

// ReadErrorMessage extracts a human-readable message from an upstream error
// body, falling back to the raw text if it isn't the usual {"error":{...}}
// shape.
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(data))
}
