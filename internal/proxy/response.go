package proxy

import (
	"fmt"
	"net"
)

// reasonText is the minimal HTML body template for canonical error
// responses. It never echoes request-derived content back to the client.
const reasonText = "<html><head><title>%d %s</title></head><body><h1>%d %s</h1></body></html>"

// writeStatus writes a canonical status-line-plus-minimal-HTML response
// for code/reason to conn. Every response closes the connection; this
// proxy never keeps a failed connection alive for reuse.
func writeStatus(conn net.Conn, code int, reason string, extraHeaders ...string) {
	body := fmt.Sprintf(reasonText, code, reason, code, reason)
	var headers string
	for _, h := range extraHeaders {
		headers += h + "\r\n"
	}
	resp := fmt.Sprintf(
		"HTTP/1.1 %d %s\r\n"+
			"Content-Type: text/html\r\n"+
			"Content-Length: %d\r\n"+
			"%s"+
			"Connection: close\r\n\r\n%s",
		code, reason, len(body), headers, body,
	)
	conn.Write([]byte(resp))
}

// writeProxyAuthRequired emits a 407 carrying the realm challenge, per
// §6: "Proxy-Authenticate: Basic realm=\"<realm>\"".
func writeProxyAuthRequired(conn net.Conn, realm string) {
	writeStatus(conn, 407, "Proxy Authentication Required",
		fmt.Sprintf(`Proxy-Authenticate: Basic realm="%s"`, realm))
}
