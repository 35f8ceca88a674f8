package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/jorgekeles/sistema-barberia/internal/apperr"
)

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, err error) {
	ae := apperr.From(err)
	WriteJSON(w, ae.HTTPStatus(), errorEnvelope{Error: errorBody{Code: ae.Code, Message: ae.Message}})
}

// WriteRaw replays a stored response body verbatim (idempotency replays).
func WriteRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
