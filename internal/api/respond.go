package api

import (
	"encoding/json"
	"net/http"
)

// envelope is the uniform response shape. Error responses carry a
// machine-readable code where clients need to distinguish causes.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondSuccess(w http.ResponseWriter, data interface{}) {
	respondJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, envelope{Success: false, Error: message})
}

func respondErrorCode(w http.ResponseWriter, status int, message, code string) {
	respondJSON(w, status, envelope{Success: false, Error: message, Code: code})
}
