package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/roomvoice/server/internal/roomerr"
)

// errorResponse wraps API errors in a consistent JSON structure.
type errorResponse struct {
	Error errorDetail `json:"error"`
}

// errorDetail contains the machine-readable error code and a
// human-readable message. Code is a string (e.g. "ROOM_NOT_FOUND"),
// not an HTTP status, so clients can branch on it independent of the
// transport-level status.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON serializes data as JSON and writes it to the response writer.
// Complexity: O(n) where n is the serialized size of data
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		zerolog.DefaultContextLogger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// writeError writes a structured error response with an explicit
// machine-readable code.
// Complexity: O(1)
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// httpStatusForCode maps a roomerr.Code to the HTTP status this surface
// answers with. Falls back to Category for codes this surface never
// produces directly (provider/tool errors only ever reach C2, not REST).
func httpStatusForCode(re *roomerr.Error) int {
	switch re.Code {
	case roomerr.CodeRoomNotFound:
		return http.StatusNotFound
	case roomerr.CodeRoomClosed, roomerr.CodeRoomFull, roomerr.CodeNotInRoom:
		return http.StatusConflict
	case roomerr.CodeInvalidName, roomerr.CodeInvalidInput:
		return http.StatusBadRequest
	case roomerr.CodeUnauthorized:
		return http.StatusUnauthorized
	case roomerr.CodeRateLimited:
		return http.StatusTooManyRequests
	}
	switch re.Category {
	case roomerr.CategoryProvider:
		return http.StatusBadGateway
	case roomerr.CategoryTool:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeRoomErr writes err using its own code/category, falling back to a
// generic internal error if err is not a *roomerr.Error.
func writeRoomErr(w http.ResponseWriter, err error) {
	re, ok := err.(*roomerr.Error)
	if !ok {
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	writeError(w, httpStatusForCode(re), string(re.Code), re.Message)
}
