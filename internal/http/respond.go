package httpx

import (
	"encoding/json"
	"io"
	"net/http"
)

const msgInvalidMethod = "Invalid method"

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeFailure sends the boolean failure envelope used by the account views.
func writeFailure(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"status": false, "error": msg})
}

// writeStatus sends the numeric status envelope used by the dealer views.
func writeStatus(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"status": status, "message": msg})
}

const maxBodyBytes = 1 << 20

func readBody(req *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
}
