package proxy

import (
	"net"
	"strconv"

	"github.com/xdg/tinygate/internal/clog"
	"github.com/xdg/tinygate/internal/httpmsg"
	"github.com/xdg/tinygate/internal/netutil"
	"github.com/xdg/tinygate/internal/pump"
)

// handleConnect implements §4.2.1: validate the target port against the
// configured allow-list, dial the origin, write the tunnel-established
// line, then relay bytes verbatim until either side closes.
func (h *handler) handleConnect(req *httpmsg.Request) {
	host, portStr, err := net.SplitHostPort(req.URI)
	if err != nil {
		writeStatus(h.conn, 400, "Bad Request")
		h.server.sink.RequestFailed()
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		writeStatus(h.conn, 400, "Bad Request")
		h.server.sink.RequestFailed()
		return
	}
	if !netutil.ValidHostname(host) && net.ParseIP(host) == nil {
		writeStatus(h.conn, 400, "Bad Request")
		h.server.sink.RequestFailed()
		return
	}

	if !portAllowed(h.server.cfg.ConnectPorts, port) {
		clog.Info("proxy: %s: CONNECT to disallowed port %d", h.conn.RemoteAddr(), port)
		writeStatus(h.conn, 403, "Forbidden")
		h.server.sink.RequestDenied()
		return
	}

	origin, err := net.DialTimeout("tcp", net.JoinHostPort(host, portStr), dialTimeout)
	if err != nil {
		clog.Info("proxy: %s: CONNECT dial %s failed: %v", h.conn.RemoteAddr(), req.URI, err)
		writeStatus(h.conn, 502, "Bad Gateway")
		h.server.sink.RequestFailed()
		return
	}
	defer origin.Close()

	if _, err := h.conn.Write([]byte("HTTP/1.1 200 Connection established\r\n\r\n")); err != nil {
		clog.Debug("proxy: %s: failed writing CONNECT reply: %v", h.conn.RemoteAddr(), err)
		return
	}

	n, err := pump.Copy(h.conn, origin, h.server.cfg.Timeout)
	h.server.sink.BytesTransferred(n)
	if err != nil {
		clog.Debug("proxy: %s: tunnel to %s ended: %v", h.conn.RemoteAddr(), req.URI, err)
	}
}

func portAllowed(allowed []int, port int) bool {
	for _, p := range allowed {
		if p == port {
			return true
		}
	}
	return false
}
