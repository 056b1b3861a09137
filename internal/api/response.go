package api

import (
	"encoding/json"
	"net/http"
)

// writeJSON serializes v as the response body. Once the status line is out
// an encode failure cannot be reported to the client, so it is dropped.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError emits the {"error": message} envelope every failure response
// shares. Messages are operator-facing; internal detail stays in the logs.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
