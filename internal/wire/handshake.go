package wire

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// websocketGUID is the fixed GUID appended to the client key when computing
// Sec-WebSocket-Accept (RFC 6455 §4.2.2).
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

var headerTerminator = []byte("\r\n\r\n")

var (
	ErrNotGet     = errors.New("request method must be GET")
	ErrBadRequest = errors.New("malformed upgrade request")
)

// HasHeaderBlock reports whether buf contains a complete HTTP header block.
func HasHeaderBlock(buf []byte) bool {
	return bytes.Contains(buf, headerTerminator)
}

// UpgradeRequest is the parsed form of a WebSocket upgrade request.
// Header names are lower-cased.
type UpgradeRequest struct {
	Path    string
	Query   url.Values
	Headers map[string]string
}

// ParseUpgrade parses the HTTP header block at the front of buf. The caller
// must have confirmed the block is complete with HasHeaderBlock.
func ParseUpgrade(buf []byte) (*UpgradeRequest, error) {
	end := bytes.Index(buf, headerTerminator)
	if end < 0 {
		return nil, ErrBadRequest
	}

	lines := strings.Split(string(buf[:end]), "\r\n")
	requestLine := lines[0]
	if !strings.HasPrefix(strings.ToUpper(requestLine), "GET") {
		return nil, ErrNotGet
	}

	target := "/"
	if parts := strings.Split(requestLine, " "); len(parts) >= 2 {
		target = parts[1]
	}

	req := &UpgradeRequest{
		Path:    target,
		Query:   url.Values{},
		Headers: make(map[string]string, len(lines)-1),
	}
	if u, err := url.Parse(target); err == nil {
		req.Path = u.Path
		req.Query = u.Query()
	}

	for _, line := range lines[1:] {
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		req.Headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}

	return req, nil
}

// WebSocketKey returns the Sec-WebSocket-Key header value, or "".
func (r *UpgradeRequest) WebSocketKey() string {
	return r.Headers["sec-websocket-key"]
}

// Cookie extracts the named cookie from the Cookie header. The name match
// is case-insensitive and the value is URL-decoded, matching how the HTTP
// tier's session layer reads its own cookie.
func (r *UpgradeRequest) Cookie(name string) string {
	header := r.Headers["cookie"]
	if header == "" {
		return ""
	}
	prefix := strings.ToLower(name) + "="
	for _, piece := range strings.Split(header, ";") {
		segment := strings.TrimSpace(piece)
		if !strings.HasPrefix(strings.ToLower(segment), prefix) {
			continue
		}
		value := segment[len(prefix):]
		if decoded, err := url.QueryUnescape(value); err == nil {
			return decoded
		}
		return value
	}
	return ""
}

// AcceptKey computes the Sec-WebSocket-Accept value for a client key.
func AcceptKey(key string) string {
	sum := sha1.Sum([]byte(key + websocketGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// SwitchingProtocols builds the 101 response completing the handshake.
func SwitchingProtocols(acceptKey string) []byte {
	return []byte("HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + acceptKey + "\r\n" +
		"\r\n")
}

// HTTPError builds a plain-text error response for a rejected handshake.
// The connection is torn down after writing it; no frames follow.
func HTTPError(status int, title, body string) []byte {
	return []byte(fmt.Sprintf(
		"HTTP/1.1 %d %s\r\nContent-Type: text/plain; charset=utf-8\r\nConnection: close\r\nContent-Length: %d\r\n\r\n%s",
		status, title, len(body), body))
}
