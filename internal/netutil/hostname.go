// Package netutil holds small host/address helpers used by the connection
// handler's forward and CONNECT tunnel paths.
package netutil

import "strings"

// ValidHostname reports whether hostname is a syntactically valid DNS name:
// non-empty, at most 253 characters overall, each dot-separated label
// non-empty, at most 63 characters, alphanumeric-or-hyphen, and not
// starting or ending with a hyphen.
func ValidHostname(hostname string) bool {
	if hostname == "" || len(hostname) > 253 {
		return false
	}
	for _, part := range strings.Split(hostname, ".") {
		if part == "" || len(part) > 63 {
			return false
		}
		if part[0] == '-' || part[len(part)-1] == '-' {
			return false
		}
		for _, c := range part {
			if !isAlnum(c) && c != '-' {
				return false
			}
		}
	}
	return true
}

func isAlnum(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// SplitHostPort splits a "host" or "host:port" string, returning the
// default port if none is present. It splits at the last colon and does
// not handle bracketed IPv6 literals (net.SplitHostPort does); it is used
// for the proxy's Host-header parsing.
func SplitHostPort(hostport string, defaultPort int) (string, int, error) {
	idx := strings.LastIndexByte(hostport, ':')
	if idx < 0 {
		return hostport, defaultPort, nil
	}
	host := hostport[:idx]
	portStr := hostport[idx+1:]
	port, err := parsePort(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

func parsePort(s string) (int, error) {
	if s == "" {
		return 0, errInvalidPort
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errInvalidPort
		}
		n = n*10 + int(c-'0')
		if n > 65535 {
			return 0, errInvalidPort
		}
	}
	return n, nil
}

type portError struct{}

func (portError) Error() string { return "invalid port" }

var errInvalidPort = portError{}
