package proxy

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/xdg/tinygate/internal/clog"
	"github.com/xdg/tinygate/internal/httpmsg"
	"github.com/xdg/tinygate/internal/proxyerr"
)

// handler carries the per-connection state for one accepted socket
// through the NEW -> ACL_CHECK -> READING_HEADERS -> DISPATCH ->
// {TUNNEL|FORWARD} -> DONE pipeline. It holds no state beyond the
// connection itself; there is no reuse across connections.
type handler struct {
	server *Server
	conn   net.Conn
}

// run drives one connection through the full pipeline, writing any
// canonical error response itself before returning. It never panics;
// the accept loop wraps it with a recover as defense in depth.
func (h *handler) run() {
	defer h.conn.Close()

	remoteIP := remoteIPOf(h.conn)
	if remoteIP == nil || !h.server.acl.IsAllowed(remoteIP) {
		clog.Info("proxy: ACL denied %s", h.conn.RemoteAddr())
		writeStatus(h.conn, 403, "Forbidden")
		h.server.sink.RequestDenied()
		return
	}

	headerBuf, bodyPrefix, err := h.readHeaders()
	if err != nil {
		h.failRead(err)
		return
	}
	if headerBuf == nil {
		// Clean close before any byte arrived.
		return
	}

	req, err := httpmsg.Parse(headerBuf)
	if err != nil {
		clog.Info("proxy: %s: malformed request: %v", h.conn.RemoteAddr(), err)
		writeStatus(h.conn, 400, "Bad Request")
		h.server.sink.RequestFailed()
		return
	}

	h.server.sink.RequestProcessed()
	h.dispatch(req, bodyPrefix)
}

// failRead maps a header-read failure to its canonical status code and
// updates the matching stats counter.
func (h *handler) failRead(err error) {
	pe, _ := proxyerr.As(err)
	kind := proxyerr.Internal
	if pe != nil {
		kind = pe.Kind
	}
	switch kind {
	case proxyerr.Timeout:
		writeStatus(h.conn, 408, "Request Timeout")
	case proxyerr.InvalidRequest:
		writeStatus(h.conn, 400, "Bad Request")
	default:
		writeStatus(h.conn, 500, "Internal Server Error")
	}
	h.server.sink.RequestFailed()
	clog.Debug("proxy: %s: header read failed: %v", h.conn.RemoteAddr(), err)
}

// readHeaders reads into a growable buffer, bounded by the configured
// header-size cap, until it finds the CRLFCRLF terminator. It returns the
// header block (without the terminator) and any body bytes already read
// past it. A nil, nil, nil return means the peer closed cleanly before
// sending any byte.
func (h *handler) readHeaders() (header, bodyPrefix []byte, err error) {
	headerCap := h.server.cfg.HeaderSizeCap
	timeout := h.server.cfg.Timeout
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)

	for {
		if timeout > 0 {
			h.conn.SetReadDeadline(time.Now().Add(timeout))
		}
		n, readErr := h.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if idx := httpmsg.FindHeaderEnd(buf); idx >= 0 {
				return buf[:idx], buf[idx+4:], nil
			}
			if len(buf) > headerCap {
				return nil, nil, proxyerr.New(proxyerr.InvalidRequest, "Request headers too large")
			}
		}
		if readErr != nil {
			if n == 0 && len(buf) == 0 {
				if ne, ok := readErr.(net.Error); ok && ne.Timeout() {
					return nil, nil, proxyerr.New(proxyerr.Timeout, "header read timed out")
				}
				return nil, nil, nil
			}
			if ne, ok := readErr.(net.Error); ok && ne.Timeout() {
				return nil, nil, proxyerr.New(proxyerr.Timeout, "header read timed out")
			}
			return nil, nil, proxyerr.New(proxyerr.InvalidRequest, "Incomplete request")
		}
	}
}

// dispatch runs the DISPATCH state: auth, stat-host, filter, then method
// routing to CONNECT tunneling or one-shot HTTP forwarding.
func (h *handler) dispatch(req *httpmsg.Request, bodyPrefix []byte) {
	if h.server.auth.Enabled() {
		ok, err := h.server.auth.Authenticate(req)
		if err != nil || !ok {
			clog.Info("proxy: %s: authentication failed", h.conn.RemoteAddr())
			writeProxyAuthRequired(h.conn, h.server.auth.Realm())
			h.server.sink.RequestDenied()
			h.server.sink.AuthAttempt(false)
			return
		}
		h.server.sink.AuthAttempt(true)
	}

	// StatHost match is plain substring containment against the Host
	// header, not an exact or suffix match. A short or common StatHost
	// value can be triggered unintentionally by unrelated requests;
	// this is a known property of the match, not a bug.
	if statHost := h.server.cfg.StatHost; statHost != "" {
		if host, ok := req.Header("host"); ok && strings.Contains(host, statHost) {
			h.serveStats()
			return
		}
	}

	if h.server.flt.Enabled() && !h.server.flt.IsAllowed(req.URI) {
		clog.Info("proxy: %s: filter blocked %s", h.conn.RemoteAddr(), req.URI)
		writeStatus(h.conn, 403, "Forbidden")
		h.server.sink.RequestFiltered()
		return
	}

	switch req.Method {
	case "CONNECT":
		h.handleConnect(req)
	case "GET", "POST", "PUT", "DELETE", "HEAD", "OPTIONS", "PATCH":
		h.handleForward(req, bodyPrefix)
	default:
		writeStatus(h.conn, 405, "Method Not Allowed")
		h.server.sink.RequestFailed()
	}
}

// serveStats renders the in-memory stats page, matching §6's stat-host
// response contract exactly (200, text/html charset=utf-8, no-cache).
func (h *handler) serveStats() {
	body := h.server.sink.RenderHTML()
	resp := "HTTP/1.1 200 OK\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"Cache-Control: no-cache\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n" +
		"Connection: close\r\n\r\n" + body
	h.conn.Write([]byte(resp))
}

func remoteIPOf(conn net.Conn) net.IP {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

