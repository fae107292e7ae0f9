package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/toaststats-backfill/pkg/backfill/apierr"
	"github.com/google/uuid"
)

// Metadata accompanies every admin API response, per the stable contract:
// a per-request operation ID and an ISO-8601 timestamp.
type Metadata struct {
	OperationID string `json:"operationId"`
	Timestamp   string `json:"timestamp"`
}

func newMetadata() Metadata {
	return Metadata{OperationID: uuid.NewString(), Timestamp: time.Now().UTC().Format(time.RFC3339)}
}

// Envelope wraps every response body.
type Envelope struct {
	Data     any        `json:"data,omitempty"`
	Error    *ErrorBody `json:"error,omitempty"`
	Metadata Metadata   `json:"metadata"`
}

// ErrorBody is the stable machine-code-plus-message error shape.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Envelope{Data: data, Metadata: newMetadata()})
}

func writeError(w http.ResponseWriter, err error) {
	status := apierr.StatusOf(err)
	code := apierr.CodeOf(err)
	if code == "" {
		code = apierr.CodeValidationError
	}
	writeJSON(w, status, Envelope{
		Error:    &ErrorBody{Code: string(code), Message: err.Error()},
		Metadata: newMetadata(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, dest any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return apierr.Wrap(apierr.CodeValidationError, "malformed request body", err)
	}
	return nil
}
