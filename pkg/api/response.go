// Package api wires the gateway's HTTP surface (C8): route registration
// on gorilla/mux, request decoding, and the structured error envelope.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// errorEnvelope is the structured failure body of §6/§7: {"error":
// <http_status_int>, "message": <string>}.
type errorEnvelope struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
}

func writeJSON(logger log.Logger, w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		level.Error(logger).Log("msg", "failed to encode JSON response", "err", err)
	}
}

func writeError(logger log.Logger, w http.ResponseWriter, status int, message string) {
	writeJSON(logger, w, status, errorEnvelope{Error: status, Message: message})
}

func writeNotFound(logger log.Logger, w http.ResponseWriter) {
	writeError(logger, w, http.StatusNotFound, "not found")
}
