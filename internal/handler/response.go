package handler

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"
)

// WriteJSON writes a JSON response with the given status code and data.
// Sets Content-Type to application/json before writing the status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data) // Write error intentionally ignored in response helper
}

// errorResponse is the error body of the exchange API.
type errorResponse struct {
	Error string `json:"error"`
}

// detailResponse is the body of authentication failures.
type detailResponse struct {
	Detail string `json:"detail"`
}

// WriteError writes {"error": message} with the given status code.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, errorResponse{Error: message})
}

// WriteDetail writes {"detail": message} with the given status code.
func WriteDetail(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, detailResponse{Detail: message})
}

var errBadBody = errors.New("request body must be JSON or form encoded")

// ParseOrderForm reads token_name and amount from a JSON or form encoded body.
// Amounts may arrive as JSON numbers or strings.
func ParseOrderForm(r *http.Request) (token, amount string, err error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch {
	case ct == "application/json" || ct == "":
		var body struct {
			TokenName string          `json:"token_name"`
			Amount    json.RawMessage `json:"amount"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return "", "", errBadBody
		}
		return body.TokenName, rawAmount(body.Amount), nil

	case ct == "application/x-www-form-urlencoded" || ct == "multipart/form-data":
		if err := r.ParseMultipartForm(1 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			return "", "", errBadBody
		}
		return r.PostFormValue("token_name"), r.PostFormValue("amount"), nil
	}
	return "", "", errBadBody
}

// rawAmount unwraps a JSON string or passes a JSON number through verbatim.
func rawAmount(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return s
}
