// Package errors provides the error kinds shared by the evaluation pipeline.
//
// Three kinds drive retry decisions: transport errors (the reasoning
// service or a backend could not be reached, or rate-limited us), validation
// errors (a response arrived but violated its expected shape), and backend
// errors (the retrieval backend returned unusable candidates).
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes.
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeNotFound       = "NOT_FOUND"
	CodeRateLimited    = "RATE_LIMITED"

	CodeTransport = "TRANSPORT_ERROR"
	CodeBackend   = "BACKEND_ERROR"
	CodeTimeout   = "TIMEOUT"
	CodeInternal  = "INTERNAL_ERROR"
)

// AppError represents an application error with code and details.
type AppError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code for this error.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case CodeValidation, CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeTransport, CodeBackend:
		return http.StatusBadGateway
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new AppError.
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with an AppError.
func Wrap(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetail adds a single detail to the error.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// ValidationError creates a validation error.
func ValidationError(message string) *AppError {
	return New(CodeValidation, message)
}

// ValidationErrorf creates a validation error with a formatted message.
func ValidationErrorf(format string, args ...any) *AppError {
	return New(CodeValidation, fmt.Sprintf(format, args...))
}

// TransportError wraps a failure to talk to an external service.
func TransportError(service string, err error) *AppError {
	return Wrap(CodeTransport, fmt.Sprintf("%s call failed", service), err).WithDetail("service", service)
}

// BackendError wraps a retrieval backend failure.
func BackendError(message string, err error) *AppError {
	return Wrap(CodeBackend, message, err)
}

// InvalidRequestError creates an invalid request error.
func InvalidRequestError(message string) *AppError {
	return New(CodeInvalidRequest, message)
}

// NotFoundError creates a not found error.
func NotFoundError(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

// InternalError creates an internal error.
func InternalError(message string, err error) *AppError {
	return Wrap(CodeInternal, message, err)
}

// Code returns the code of the outermost AppError in err's chain, or "".
func Code(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

func hasCode(err error, code string) bool {
	for err != nil {
		var appErr *AppError
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// IsValidation reports whether err carries a validation error.
func IsValidation(err error) bool {
	return hasCode(err, CodeValidation)
}

// IsTransport reports whether err carries a transport error.
// Rate limiting and timeouts count as transport failures.
func IsTransport(err error) bool {
	return hasCode(err, CodeTransport) || hasCode(err, CodeRateLimited) || hasCode(err, CodeTimeout)
}

// IsBackend reports whether err carries a backend error.
func IsBackend(err error) bool {
	return hasCode(err, CodeBackend)
}

// IsNotFound reports whether err carries a not found error.
func IsNotFound(err error) bool {
	return hasCode(err, CodeNotFound)
}

// Kind returns a short label for logging and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsTransport(err):
		return "transport"
	case IsValidation(err):
		return "validation"
	case IsBackend(err):
		return "backend"
	default:
		return "other"
	}
}

// ErrorResponse is the standard JSON error response structure.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// WriteJSON writes a JSON error response.
func WriteJSON(w http.ResponseWriter, status int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteError writes err as a JSON response. Errors that are not AppErrors are
// reported as internal errors without their message.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		WriteJSON(w, appErr.HTTPStatus(), ErrorResponse{
			Error:   appErr.Message,
			Code:    appErr.Code,
			Details: appErr.Details,
		})
		return
	}

	WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error: "internal server error",
		Code:  CodeInternal,
	})
}
