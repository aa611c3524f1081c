package proxy

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/xdg/tinygate/internal/clog"
	"github.com/xdg/tinygate/internal/httpmsg"
	"github.com/xdg/tinygate/internal/netutil"
	"github.com/xdg/tinygate/internal/proxyerr"
	"github.com/xdg/tinygate/internal/pump"
)

// handleForward implements §4.2.2: resolve the origin from either an
// absolute-form or origin-form request URI, dial it, re-serialize the
// request exactly as parsed, and relay the response.
func (h *handler) handleForward(req *httpmsg.Request, bodyPrefix []byte) {
	host, port, err := resolveOrigin(req)
	if err != nil {
		clog.Info("proxy: %s: %v", h.conn.RemoteAddr(), err)
		writeStatus(h.conn, 400, "Bad Request")
		h.server.sink.RequestFailed()
		return
	}

	origin, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), dialTimeout)
	if err != nil {
		clog.Info("proxy: %s: forward dial %s:%d failed: %v", h.conn.RemoteAddr(), host, port, err)
		writeStatus(h.conn, 502, "Bad Gateway")
		h.server.sink.RequestFailed()
		return
	}
	defer origin.Close()

	if _, err := origin.Write(serializeRequest(req, bodyPrefix)); err != nil {
		clog.Debug("proxy: %s: write to origin failed: %v", h.conn.RemoteAddr(), err)
		h.server.sink.RequestFailed()
		return
	}

	n, err := pump.Copy(h.conn, origin, h.server.cfg.Timeout)
	h.server.sink.BytesTransferred(n)
	if err != nil {
		clog.Debug("proxy: %s: forward to %s:%d ended: %v", h.conn.RemoteAddr(), host, port, err)
	}
}

// resolveOrigin derives (host, port) per §4.2.2: absolute-form URIs are
// parsed directly; origin-form URIs require a Host header.
func resolveOrigin(req *httpmsg.Request) (string, int, error) {
	if strings.HasPrefix(req.URI, "http://") || strings.HasPrefix(req.URI, "https://") {
		u, err := url.Parse(req.URI)
		if err != nil || u.Hostname() == "" {
			return "", 0, proxyerr.New(proxyerr.InvalidRequest, "cannot parse absolute-form URI")
		}
		if p := u.Port(); p != "" {
			n, err := strconv.Atoi(p)
			if err != nil {
				return "", 0, proxyerr.New(proxyerr.InvalidRequest, "invalid port in URI")
			}
			return u.Hostname(), n, nil
		}
		if u.Scheme == "https" {
			return u.Hostname(), 443, nil
		}
		return u.Hostname(), 80, nil
	}

	hostHeader, ok := req.Header("host")
	if !ok || hostHeader == "" {
		return "", 0, proxyerr.New(proxyerr.InvalidRequest, "no host derivable from origin-form request")
	}
	host, port, err := netutil.SplitHostPort(hostHeader, 80)
	if err != nil {
		return "", 0, proxyerr.New(proxyerr.InvalidRequest, "invalid port in Host header")
	}
	if !netutil.ValidHostname(host) && net.ParseIP(host) == nil {
		return "", 0, proxyerr.New(proxyerr.InvalidRequest, "invalid host in Host header")
	}
	return host, port, nil
}

// serializeRequest rebuilds the request line and headers exactly as
// parsed (no hop-by-hop stripping; see the documented open question on
// that), appending any body bytes already buffered past the headers.
func serializeRequest(req *httpmsg.Request, bodyPrefix []byte) []byte {
	var b strings.Builder
	b.WriteString(req.Method)
	b.WriteByte(' ')
	b.WriteString(req.URI)
	b.WriteString(" HTTP/")
	b.WriteString(req.Version)
	b.WriteString("\r\n")
	for name, value := range req.Headers {
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")

	out := make([]byte, 0, b.Len()+len(bodyPrefix))
	out = append(out, []byte(b.String())...)
	out = append(out, bodyPrefix...)
	return out
}
