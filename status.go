package lucets

import (
	"net/http"

	"github.com/coder/websocket"
)

// Status represents a WebSocket close status code as defined in RFC 6455.
// Codes 4000 to 4999 are reserved for applications.
type Status = websocket.StatusCode

// WebSocket close status codes
const (
	StatusNormalClosure           Status = websocket.StatusNormalClosure           // 1000
	StatusGoingAway               Status = websocket.StatusGoingAway               // 1001
	StatusProtocolError           Status = websocket.StatusProtocolError           // 1002
	StatusUnsupportedData         Status = websocket.StatusUnsupportedData         // 1003
	StatusNoStatusRcvd            Status = websocket.StatusNoStatusRcvd            // 1005
	StatusAbnormalClosure         Status = websocket.StatusAbnormalClosure         // 1006
	StatusInvalidFramePayloadData Status = websocket.StatusInvalidFramePayloadData // 1007
	StatusPolicyViolation         Status = websocket.StatusPolicyViolation         // 1008
	StatusMessageTooBig           Status = websocket.StatusMessageTooBig           // 1009
	StatusMandatoryExtension      Status = websocket.StatusMandatoryExtension      // 1010
	StatusInternalError           Status = websocket.StatusInternalError           // 1011
	StatusServiceRestart          Status = websocket.StatusServiceRestart          // 1012
	StatusTryAgainLater           Status = websocket.StatusTryAgainLater           // 1013
	StatusBadGateway              Status = websocket.StatusBadGateway              // 1014
	StatusTLSHandshake            Status = websocket.StatusTLSHandshake            // 1015
)

// Application close status codes. They mirror the HTTP status with 4000
// added, so a hook can reject a live connection the same way it would reject
// an upgrade request.
const (
	StatusBadRequest          Status = 4400
	StatusUnauthorized        Status = 4401
	StatusForbidden           Status = 4403
	StatusNotFound            Status = 4404
	StatusInternalServerError Status = 4500
)

var statusText = map[Status]string{
	StatusBadRequest:          "Bad Request",
	StatusUnauthorized:        "Unauthorized",
	StatusForbidden:           "Forbidden",
	StatusNotFound:            "Not Found",
	StatusInternalServerError: "Internal Server Error",
}

// StatusText returns the reason phrase for an application close code. Codes
// without a registered phrase in the 4100 to 4599 range fall back to the
// phrase of the matching HTTP status. It returns "Unknown error" otherwise.
func StatusText(code Status) string {
	if text, ok := statusText[code]; ok {
		return text
	}
	if code >= 4100 && code <= 4599 {
		if text := http.StatusText(int(code) - 4000); text != "" {
			return text
		}
	}
	return "Unknown error"
}

// IsApplicationStatus reports whether the code is in the range applications
// may use in a close frame.
func IsApplicationStatus(code Status) bool {
	return code >= 4000 && code <= 4999
}
