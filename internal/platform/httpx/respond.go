// Package httpx provides the JSON response envelope shared by every API route.
package httpx

import (
	"encoding/json"
	"net/http"
)

// Envelope is the JSON body returned by every API route.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// OK wraps data in a success envelope.
func OK(w http.ResponseWriter, status int, data any) {
	JSON(w, status, Envelope{Success: true, Data: data})
}

// Fail sends the failure envelope {success:false, error, code}.
func Fail(w http.ResponseWriter, status int, message, code string) {
	if message == "" {
		message = http.StatusText(status)
	}
	JSON(w, status, Envelope{Success: false, Error: message, Code: code})
}

// DecodeJSON decodes JSON request body into the target struct.
func DecodeJSON(r *http.Request, target any) error {
	return json.NewDecoder(r.Body).Decode(target)
}
