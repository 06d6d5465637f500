package middleware

import (
	"encoding/json"
	"net/http"

	courierAuth "github.com/MrEthical07/courierAuth"
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind courierAuth.Kind) int {
	switch kind {
	case courierAuth.KindUnauthorized:
		return http.StatusUnauthorized
	case courierAuth.KindNotFound:
		return http.StatusNotFound
	case courierAuth.KindBadRequest:
		return http.StatusBadRequest
	case courierAuth.KindConflict:
		return http.StatusConflict
	case courierAuth.KindForbidden:
		return http.StatusForbidden
	case courierAuth.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError classifies err with [courierAuth.KindOf] and writes the matching
// status. The body carries only the sentinel message, never wrapped detail.
func WriteError(w http.ResponseWriter, err error) {
	kind := courierAuth.KindOf(err)
	WriteJSON(w, StatusFor(kind), ErrorResponse{Error: courierAuth.PublicMessage(err), Code: kind.String()})
}
