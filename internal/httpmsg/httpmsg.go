// Package httpmsg parses the request-line and headers of an HTTP/1.x
// request out of a byte buffer that the caller has already split at the
// CRLFCRLF header terminator.
package httpmsg

import (
	"bytes"
	"strings"

	"github.com/xdg/tinygate/internal/proxyerr"
)

// Request is a parsed HTTP request: method, request-URI, version (without
// the "HTTP/" prefix) and a lowercased-name header map. Header names are
// canonicalized (lowercased, trimmed) at parse time; only one value per
// name is kept, last write wins.
type Request struct {
	Method  string
	URI     string
	Version string
	Headers map[string]string
}

// Header returns the value for name, case-insensitively, and whether it
// was present.
func (r *Request) Header(name string) (string, bool) {
	v, ok := r.Headers[strings.ToLower(name)]
	return v, ok
}

// FindHeaderEnd scans buf for the first occurrence of the four-byte
// sequence CRLFCRLF and returns the index of its first byte, or -1 if not
// found. Used by the connection handler to know when it has read a
// complete set of request headers.
func FindHeaderEnd(buf []byte) int {
	return bytes.Index(buf, []byte("\r\n\r\n"))
}

// Parse parses data (the header block only, NOT including the trailing
// CRLFCRLF terminator or any body bytes past it) into a Request.
//
// The first non-empty line must be a request line of exactly three
// whitespace-separated tokens: method, URI, version. The version is
// stored with any "HTTP/" prefix stripped; a missing prefix falls back to
// "1.1" rather than being rejected (spec's documented open question (a)).
// Subsequent lines up to the first empty line are headers, split at the
// first colon; malformed lines (no colon) are silently skipped. Header
// values are sanitized to strip ASCII control characters and non-ASCII
// characters before storage.
func Parse(data []byte) (*Request, error) {
	text := string(data)
	lines := splitLines(text)

	var firstLine string
	rest := lines
	for len(rest) > 0 {
		if strings.TrimSpace(rest[0]) != "" {
			firstLine = rest[0]
			rest = rest[1:]
			break
		}
		rest = rest[1:]
	}
	if firstLine == "" {
		return nil, proxyerr.New(proxyerr.InvalidRequest, "empty request")
	}

	parts := strings.Fields(firstLine)
	if len(parts) != 3 {
		return nil, proxyerr.New(proxyerr.InvalidRequest, "invalid request line format")
	}

	version := parts[2]
	if v, ok := strings.CutPrefix(version, "HTTP/"); ok {
		version = v
	} else {
		version = "1.1"
	}

	req := &Request{
		Method:  parts[0],
		URI:     parts[1],
		Version: version,
		Headers: make(map[string]string),
	}

	for _, line := range rest {
		if line == "" {
			break
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(line[:idx]))
		value := SanitizeHeaderValue(strings.TrimSpace(line[idx+1:]))
		req.Headers[name] = value
	}

	return req, nil
}

// SanitizeHeaderValue strips non-ASCII and control characters from value,
// matching the behavior of the original implementation's header sanitizer.
func SanitizeHeaderValue(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if r > 127 {
			continue
		}
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// splitLines splits text on \n and trims a trailing \r from each line,
// tolerating both CRLF and bare LF line endings.
func splitLines(text string) []string {
	raw := strings.Split(text, "\n")
	lines := make([]string, len(raw))
	for i, l := range raw {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
