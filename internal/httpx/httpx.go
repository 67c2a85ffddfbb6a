package httpx

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/studytrack/backend/internal/apierr"
	"github.com/studytrack/backend/internal/logger"
	"github.com/studytrack/backend/internal/models"
)

func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteError renders err using its apierr status. Server-side failures are
// logged and their message is not echoed to the client.
func WriteError(w http.ResponseWriter, log *logger.Logger, err error) {
	status, code := apierr.StatusOf(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		if log != nil {
			log.Error("request failed", "error", err, "code", code)
		}
		msg = "Internal server error"
	}
	WriteJSON(w, status, models.ErrorResponse{Error: msg, Code: code, Details: apierr.Details(err)})
}

// DecodeJSON decodes the request body into dst, limited to 1MB.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apierr.InvalidRequest("invalid request body: %v", err)
	}
	return nil
}

func IntQueryParam(query url.Values, key string, defaultVal int) int {
	s := query.Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	return v
}
