package lucets

import (
	"errors"
	"net/http"
	"unicode/utf8"
)

var (
	// ErrConnectionNotOpen is returned by Context.Send and Context.Close when
	// the connection is not established, is closing, or has closed.
	ErrConnectionNotOpen = errors.New("connection not open")

	// ErrUnstructuredMessage is returned by codecs when a payload decodes to
	// a scalar instead of an object or array.
	ErrUnstructuredMessage = errors.New("message is not an object or array")
)

// maxCloseReason is the longest reason a close frame can carry.
const maxCloseReason = 123

// UsageError reports a misuse of the registration API. It is raised with
// panic during application setup.
type UsageError struct {
	Op      string
	Message string
}

func (e *UsageError) Error() string {
	return e.Op + ": " + e.Message
}

// HTTPError rejects an upgrade request. Returned from a pre-upgrade hook, it
// becomes the HTTP response sent to the client before the connection is
// closed.
type HTTPError struct {
	// Status is the HTTP status code of the response.
	Status int

	// Message is the response body when Expose is true.
	Message string

	// Expose allows Message to reach the client. When false, the body is the
	// reason phrase of Status.
	Expose bool

	// Header holds extra headers for the response.
	Header http.Header

	// Err is the underlying cause, kept for observers.
	Err error
}

// NewHTTPError creates an HTTPError. The message is exposed unless the
// status is a server error from 500 to 599. An empty message defaults to the
// reason phrase.
func NewHTTPError(status int, message string) *HTTPError {
	if message == "" {
		message = http.StatusText(status)
	}
	return &HTTPError{
		Status:  status,
		Message: message,
		Expose:  !isServerStatus(status),
	}
}

func (e *HTTPError) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// Body returns the text sent to the client.
func (e *HTTPError) Body() string {
	if e.Expose && e.Message != "" {
		return e.Message
	}
	return httpStatusText(e.Status)
}

// WebSocketError closes an established connection. Returned from a
// post-upgrade or message hook, its code and reason are sent in the close
// frame.
type WebSocketError struct {
	// Code is the close status code.
	Code Status

	// Message is the close reason when Expose is true.
	Message string

	// Expose allows Message to reach the client. When false, the reason is
	// the phrase registered for Code.
	Expose bool

	// Err is the underlying cause, kept for observers.
	Err error
}

// NewWebSocketError creates a WebSocketError. The message is exposed unless
// the code is a server fault from 4500 to 4599. An empty message defaults to
// the reason phrase.
func NewWebSocketError(code Status, message string) *WebSocketError {
	if message == "" {
		message = StatusText(code)
	}
	return &WebSocketError{
		Code:    code,
		Message: message,
		Expose:  !isServerCode(code),
	}
}

func (e *WebSocketError) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *WebSocketError) Unwrap() error {
	return e.Err
}

// Reason returns the text sent in the close frame, cut to fit.
func (e *WebSocketError) Reason() string {
	reason := StatusText(e.Code)
	if e.Expose && e.Message != "" {
		reason = e.Message
	}
	return truncateReason(reason)
}

// AsHTTPError classifies an error raised before the upgrade. An HTTPError
// anywhere in the chain is returned as is, or as a non-exposable 500 copy if
// its status is invalid. Anything else becomes a non-exposable 500 wrapping
// the original error. The error passed in is never modified.
func AsHTTPError(err error) *HTTPError {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.Status < 100 || httpErr.Status > 999 {
			normalized := *httpErr
			normalized.Status = http.StatusInternalServerError
			normalized.Expose = false
			return &normalized
		}
		return httpErr
	}
	return &HTTPError{
		Status:  http.StatusInternalServerError,
		Message: http.StatusText(http.StatusInternalServerError),
		Err:     err,
	}
}

// AsWebSocketError classifies an error raised after the upgrade. A
// WebSocketError anywhere in the chain is returned as is, or as a
// non-exposable 4500 copy if its code is outside the application range.
// Anything else becomes a non-exposable 4500 wrapping the original error.
// The error passed in is never modified.
func AsWebSocketError(err error) *WebSocketError {
	var wsErr *WebSocketError
	if errors.As(err, &wsErr) {
		if !IsApplicationStatus(wsErr.Code) {
			normalized := *wsErr
			normalized.Code = StatusInternalServerError
			normalized.Expose = false
			return &normalized
		}
		return wsErr
	}
	return &WebSocketError{
		Code:    StatusInternalServerError,
		Message: StatusText(StatusInternalServerError),
		Err:     err,
	}
}

// IsServerError reports whether an error is a server fault. HTTP statuses
// from 500 to 599 and close codes from 4500 to 4599 are server faults, as is
// any error that carries neither.
func IsServerError(err error) bool {
	var wsErr *WebSocketError
	if errors.As(err, &wsErr) {
		return isServerCode(wsErr.Code)
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return isServerStatus(httpErr.Status)
	}
	return true
}

func isServerStatus(status int) bool {
	return status >= 500 && status <= 599
}

func isServerCode(code Status) bool {
	return code >= 4500 && code <= 4599
}

func httpStatusText(status int) string {
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "Unknown Status"
}

func truncateReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	cut := maxCloseReason
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
