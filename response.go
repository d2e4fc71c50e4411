package lucets

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
)

// httpErrorResponse renders a complete HTTP/1.1 response for a rejected
// upgrade request.
func httpErrorResponse(httpErr *HTTPError) []byte {
	body := httpErr.Body()
	header := responseHeader(httpErr, body)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\n", httpErr.Status, httpStatusText(httpErr.Status))
	_ = header.Write(&buf)
	buf.WriteString("\r\n")
	buf.WriteString(body)
	return buf.Bytes()
}

func responseHeader(httpErr *HTTPError, body string) http.Header {
	header := http.Header{}
	header.Set("Content-Type", "text/plain")
	header.Set("Connection", "close")
	for key, values := range httpErr.Header {
		header[http.CanonicalHeaderKey(key)] = values
	}
	header.Set("Content-Length", strconv.Itoa(len(body)))
	return header
}

// writeHTTPError sends the rejection to the client and ends the transport.
// The raw connection is taken over when the response writer allows it.
// Otherwise the response goes through the writer with the same headers.
func writeHTTPError(res http.ResponseWriter, httpErr *HTTPError) error {
	if hijacker, ok := res.(http.Hijacker); ok {
		conn, _, err := hijacker.Hijack()
		if err == nil {
			defer conn.Close()
			_, err = conn.Write(httpErrorResponse(httpErr))
			return err
		}
	}

	body := httpErr.Body()
	header := res.Header()
	for key, values := range responseHeader(httpErr, body) {
		header[key] = values
	}
	res.WriteHeader(httpErr.Status)
	_, err := res.Write([]byte(body))
	return err
}
