package web_server

import (
	"encoding/json"
	"github.com/lefinal/flipmatch/errors"
	"github.com/lefinal/flipmatch/messages"
	"go.uber.org/zap"
	"net/http"
)

// statusForError maps the code of the given error to an HTTP status code.
func statusForError(err error) int {
	e, _ := errors.Cast(err)
	switch e.Code {
	case errors.ErrBadRequest, errors.ErrProtocolViolation:
		return http.StatusBadRequest
	case errors.ErrUnauthorized:
		return http.StatusUnauthorized
	case errors.ErrForbidden:
		return http.StatusForbidden
	case errors.ErrNotFound:
		return http.StatusNotFound
	case errors.ErrConflict, errors.ErrInvalidState:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// respondErr logs the given error and responds with messages.MessageError.
func respondErr(logger *zap.Logger, w http.ResponseWriter, err error) {
	errors.Log(logger, err)
	respondJSON(logger, w, statusForError(err), messages.MessageErrorFromError(err))
}

// respondJSON responds with the given status code and JSON body.
func respondJSON(logger *zap.Logger, w http.ResponseWriter, status int, body interface{}) {
	raw, err := json.Marshal(body)
	if err != nil {
		errors.Log(logger, errors.NewJSONError(err, "marshal response", false))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(raw)
	if err != nil {
		logger.Debug("write response", zap.Error(err))
	}
}
