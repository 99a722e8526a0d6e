package mimicry

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"
)

// currentHTTPDate formats now in the RFC 1123 form HTTP Date headers use.
func currentHTTPDate(now time.Time) string {
	return now.UTC().Format(http.TimeFormat)
}

// buildMessage assembles a start line, a set of headers (in the given
// order, so the wire shape is deterministic per profile), and a body
// into a full HTTP message. Content-Length is always set from the
// actual body length so UnwrapBody can recover it exactly.
func buildMessage(startLine string, headers [][2]string, body []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(startLine)
	buf.WriteString("\r\n")
	for _, h := range headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", h[0], h[1])
	}
	fmt.Fprintf(&buf, "Content-Length: %d\r\n", len(body))
	buf.WriteString("\r\n")
	buf.Write(body)
	return buf.Bytes()
}

// UnwrapBody extracts the body from a wrapped HTTP request or response,
// regardless of direction: a response starts with "HTTP/", anything
// else is parsed as a request line.
func UnwrapBody(data []byte) ([]byte, error) {
	r := bufio.NewReader(bytes.NewReader(data))
	peek, err := r.Peek(5)
	if err != nil {
		return nil, fmt.Errorf("mimicry: short message: %w", err)
	}

	if string(peek) == "HTTP/" {
		resp, err := http.ReadResponse(r, nil)
		if err != nil {
			return nil, fmt.Errorf("mimicry: parse response: %w", err)
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("mimicry: read response body: %w", err)
		}
		return body, nil
	}

	req, err := http.ReadRequest(r)
	if err != nil {
		return nil, fmt.Errorf("mimicry: parse request: %w", err)
	}
	defer req.Body.Close()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("mimicry: read request body: %w", err)
	}
	return body, nil
}
