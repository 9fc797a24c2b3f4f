package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/txn2/karaoke-live/pkg/live"
)

type dataEnvelope struct {
	Data any `json:"data"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeData wraps v in the data envelope.
func writeData(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, dataEnvelope{Data: v})
}

// writeError maps err onto its code and status. The wrapped cause is only
// included in detail when detail is set.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, detail bool) {
	var le *live.Error
	if !errors.As(err, &le) {
		h.logger.Error("unhandled api error", "path", r.URL.Path, "error", err)
		le = &live.Error{Code: "internal", Message: "internal error", Err: err}
	}

	body := errorBody{Code: string(le.Code), Message: le.Message}
	if detail && le.Err != nil {
		body.Detail = le.Err.Error()
	}
	writeJSON(w, le.Code.HTTPStatus(), errorEnvelope{Error: body})
}

// badRequest reports malformed input.
func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, format string, args ...any) {
	h.writeError(w, r, &live.Error{Code: live.CodeInvalidArgument, Message: fmt.Sprintf(format, args...)}, false)
}

// decode reads a bounded JSON body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding body: %w", err)
	}
	return nil
}

// pathID parses a positive integer path value.
func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	return id, err == nil && id > 0
}
