// Package config holds the immutable Configuration record and the
// tinyproxy-style line-directive parser that builds it. Unlike the
// teacher's YAML config, tinygate's wire format is a line-oriented
// directive file (spec.md §6) — see Load.
package config

import (
	"net"
	"strconv"
	"time"
)

// BasicAuth is a single Basic proxy-auth credential triple.
type BasicAuth struct {
	Username string
	Password string
	Realm    string
}

// Upstream describes a chained upstream proxy. Parsed from the config file
// but not read by any component: the proxy server always dials origins
// directly.
type Upstream struct {
	Type     string // "http" or "socks5"
	Host     string
	Port     int
	Username string
	Password string
	Domain   string
}

// ReverseProxy describes a reverse-proxy path mapping. Declared but not
// implemented, matching spec.md §1's extension-seam language.
type ReverseProxy struct {
	Path string
	URL  string
}

// FilterSettings configures the filter engine.
type FilterSettings struct {
	Enabled       bool
	CaseSensitive bool
	Extended      bool
	Path          string
}

// HeaderPolicy configures the optional header-mutation hook (§4.7).
type HeaderPolicy struct {
	Anonymous        []string
	ViaProxyName     string
	DisableViaHeader bool
	XTinyproxy       bool
	AddHeaders       map[string]string
}

// Config is the immutable, read-only-after-load configuration record
// consumed by every policy engine and the accept/dispatch server.
type Config struct {
	Port            int
	BindAddress     net.IP
	ListenAddresses []net.IP

	Timeout        time.Duration
	MaxClients     int
	BufferSize     int
	HeaderSizeCap  int
	ConnectPorts   []int

	Allow []string
	Deny  []string

	BasicAuth *BasicAuth

	Filter FilterSettings
	Header HeaderPolicy

	Upstream         []Upstream
	ReverseProxy     []ReverseProxy
	TransparentProxy bool

	StatHost string
	StatFile string

	// MetricsAddr, if non-empty, is the address (host:port) on which the
	// Prometheus /metrics endpoint is served. Disabled (empty) by
	// default; additive to the stat-host HTML page, not a replacement.
	MetricsAddr string

	LogFile  string
	Syslog   bool
	LogLevel string
	Debug    bool

	ErrorFiles       map[int]string
	DefaultErrorFile string
}

// Default returns a Config populated with tinyproxy's own defaults: port
// 8888, 600-second timeout, 100 max clients, 8192-byte buffer, CONNECT
// ports {443, 563}, Via name "tinygate".
func Default() *Config {
	return &Config{
		Port:          8888,
		BindAddress:   net.IPv4zero,
		Timeout:       600 * time.Second,
		MaxClients:    100,
		BufferSize:    8192,
		HeaderSizeCap: 16384,
		ConnectPorts:  []int{443, 563},

		Header: HeaderPolicy{
			ViaProxyName: "tinygate",
			AddHeaders:   map[string]string{},
		},

		ErrorFiles: map[int]string{},
		LogLevel:   "Info",
	}
}

// ListenAddrs returns the (address, port) pairs this config should bind:
// one per ListenAddresses entry, or a single entry for BindAddress if
// ListenAddresses is empty.
func (c *Config) ListenAddrs() []string {
	port := strconv.Itoa(c.Port)
	if len(c.ListenAddresses) == 0 {
		return []string{net.JoinHostPort(c.BindAddress.String(), port)}
	}
	addrs := make([]string, len(c.ListenAddresses))
	for i, ip := range c.ListenAddresses {
		addrs[i] = net.JoinHostPort(ip.String(), port)
	}
	return addrs
}
