package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"homeserver/internal/api"
	"homeserver/internal/files"
	"homeserver/internal/models"
)

func (s *Server) writeErrorReq(w http.ResponseWriter, r *http.Request, status int, err error) {
	if err == nil {
		err = errors.New(http.StatusText(status))
	}

	code := errorCode(status, err)
	numericCode := errorNumericCode(status, err)
	message := err.Error()

	fields := []any{"status", status, "code", code, "error_code", numericCode, "error", err}
	if r != nil {
		fields = append(fields, "method", r.Method, "path", r.URL.Path, "remote_addr", r.RemoteAddr)
	}

	switch {
	case status >= 500:
		s.log().Error("request error", fields...)
		message = "internal error"
	case status >= 400 && shouldWarnClientError(status):
		s.log().Warn("request rejected", fields...)
	case status >= 400:
		s.log().Debug("request rejected", fields...)
	}

	if r != nil && r.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}
	s.writeJSON(w, status, api.ErrorResponse{Error: message, Code: code, ErrorCode: numericCode})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("write json response", "status", status, "error", err)
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	err = fileError(err)
	s.writeErrorReq(w, r, httpStatusFromError(err), err)
}

type apiError struct {
	status  int
	code    string
	errCode int
	err     error
}

func (e apiError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e apiError) Unwrap() error {
	return e.err
}

func makeAPIError(status int, code string, errCode int, err error) error {
	if err == nil {
		err = errors.New(http.StatusText(status))
	}

	var existing apiError
	if errors.As(err, &existing) {
		if existing.status != 0 {
			return existing
		}
	}

	return apiError{status: status, code: code, errCode: errCode, err: err}
}

func badRequestCode(err error, code int) error {
	return makeAPIError(http.StatusBadRequest, "invalid_argument", code, err)
}

func unauthorized(err error) error {
	return makeAPIError(http.StatusUnauthorized, "unauthorized", ErrCodeUnauthorized, err)
}

func storeFailure(err error) error {
	return makeAPIError(http.StatusInternalServerError, "internal", ErrCodeStoreFailure, err)
}

// fileError maps storage engine errors onto API errors.
func fileError(err error) error {
	var outside *models.OutsideWriteNamespaceError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &outside):
		return makeAPIError(http.StatusForbidden, "forbidden", ErrCodeForbidden, err)
	case errors.Is(err, files.ErrInvalidPath):
		return badRequestCode(err, ErrCodeInvalidPath)
	case errors.Is(err, files.ErrUnauthorized):
		return unauthorized(err)
	case errors.Is(err, files.ErrDirectoryNotFound):
		return makeAPIError(http.StatusNotFound, "not_found", ErrCodeDirectoryNotFound, err)
	case errors.Is(err, files.ErrNotFound):
		return makeAPIError(http.StatusNotFound, "not_found", ErrCodeFileNotFound, err)
	case errors.Is(err, files.ErrContentMismatch):
		return badRequestCode(err, ErrCodeContentMismatch)
	case errors.Is(err, files.ErrTooLarge):
		return makeAPIError(http.StatusRequestEntityTooLarge, "too_large", ErrCodeRequestTooLarge, err)
	case errors.Is(err, files.ErrRangeNotSatisfied):
		return makeAPIError(http.StatusRequestedRangeNotSatisfiable, "invalid_range", ErrCodeInvalidRange, err)
	case errors.Is(err, files.ErrStreamAborted):
		return badRequestCode(err, ErrCodeUploadAborted)
	case errors.Is(err, files.ErrConsistency):
		return makeAPIError(http.StatusInternalServerError, "internal", ErrCodeConsistency, err)
	case errors.Is(err, files.ErrStorageIO):
		return storeFailure(err)
	default:
		return makeAPIError(http.StatusInternalServerError, "internal", ErrCodeInternal, err)
	}
}

func httpStatusFromError(err error) int {
	var apiErr apiError
	if errors.As(err, &apiErr) {
		return apiErr.status
	}
	return http.StatusInternalServerError
}

func errorCode(status int, err error) string {
	var apiErr apiError
	if errors.As(err, &apiErr) && apiErr.code != "" {
		return apiErr.code
	}
	switch status {
	case http.StatusBadRequest:
		return "invalid_argument"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "resource_exhausted"
	case http.StatusInternalServerError:
		return "internal"
	default:
		return ""
	}
}

func errorNumericCode(status int, err error) int {
	var apiErr apiError
	if errors.As(err, &apiErr) && apiErr.errCode > 0 {
		return apiErr.errCode
	}
	return defaultErrorCodeByStatus(status)
}

func shouldWarnClientError(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

func queryInt(r *http.Request, key string) (int, error) {
	value := strings.TrimSpace(r.URL.Query().Get(key))
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, badRequestCode(fmt.Errorf("invalid %s", key), ErrCodeInvalidQuery)
	}
	if parsed < 0 {
		return 0, badRequestCode(fmt.Errorf("%s must be >= 0", key), ErrCodeInvalidQuery)
	}
	return parsed, nil
}

// queryBool treats a bare flag (?shallow) as true.
func queryBool(r *http.Request, key string) (bool, error) {
	values, present := r.URL.Query()[key]
	if !present {
		return false, nil
	}
	value := strings.TrimSpace(values[0])
	if value == "" {
		return true, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, badRequestCode(fmt.Errorf("invalid %s", key), ErrCodeInvalidQuery)
	}
	return parsed, nil
}
