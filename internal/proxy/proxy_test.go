package proxy

import (
	"bufio"
	"encoding/base64"
	"net"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/xdg/tinygate/internal/config"
	"github.com/xdg/tinygate/internal/stats"
)

// startServer boots a Server on an ephemeral loopback port and returns its
// address and a shutdown func. It runs Run() in a goroutine since Run
// blocks until all listeners stop.
func startServer(t *testing.T, cfg *config.Config) (string, *stats.Sink, func()) {
	t.Helper()
	cfg.BindAddress = net.ParseIP("127.0.0.1")
	cfg.Port = 0
	if cfg.HeaderSizeCap == 0 {
		cfg.HeaderSizeCap = 16384
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxClients == 0 {
		cfg.MaxClients = 10
	}
	if len(cfg.ConnectPorts) == 0 {
		cfg.ConnectPorts = []int{443, 563}
	}

	sink := stats.New()
	srv, err := New(cfg, sink)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	srv.listeners = []net.Listener{ln}
	srv.sem = make(chan struct{}, cfg.MaxClients)
	srv.shutdownC = make(chan struct{})
	srv.running = true
	srv.wg.Add(1)
	go srv.acceptLoop(ln)

	return addr, sink, func() { srv.Shutdown() }
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	return conn
}

func readAll(t *testing.T, conn net.Conn, timeout time.Duration) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			break
		}
	}
	return sb.String()
}

func TestE1ConnectAllowed(t *testing.T) {
	originLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer originLn.Close()
	_, originPort, _ := net.SplitHostPort(originLn.Addr().String())
	go func() {
		c, err := originLn.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		c.Write([]byte("hello"))
	}()

	cfg := config.Default()
	cfg.ConnectPorts = []int{mustAtoi(t, originPort)}
	addr, _, stop := startServer(t, cfg)
	defer stop()

	conn := dial(t, addr)
	defer conn.Close()
	req := "CONNECT 127.0.0.1:" + originPort + " HTTP/1.1\r\nHost: 127.0.0.1:" + originPort + "\r\n\r\n"
	conn.Write([]byte(req))

	resp := readFirstLine(t, conn)
	if !strings.HasPrefix(resp, "HTTP/1.1 200") {
		t.Fatalf("expected 200 Connection established, got %q", resp)
	}
}

func TestE2ConnectDeniedPort(t *testing.T) {
	cfg := config.Default()
	cfg.ConnectPorts = []int{443}
	addr, _, stop := startServer(t, cfg)
	defer stop()

	conn := dial(t, addr)
	defer conn.Close()
	conn.Write([]byte("CONNECT example.com:22 HTTP/1.1\r\n\r\n"))

	resp := readFirstLine(t, conn)
	if !strings.HasPrefix(resp, "HTTP/1.1 403") {
		t.Fatalf("expected 403, got %q", resp)
	}
}

func TestE3AuthRequired(t *testing.T) {
	cfg := config.Default()
	cfg.BasicAuth = &config.BasicAuth{Username: "alice", Password: "secret", Realm: "Tinyproxy"}
	addr, _, stop := startServer(t, cfg)
	defer stop()

	conn := dial(t, addr)
	defer conn.Close()
	conn.Write([]byte("GET http://x/ HTTP/1.1\r\n\r\n"))

	resp := readAll(t, conn, 2*time.Second)
	if !strings.HasPrefix(resp, "HTTP/1.1 407") {
		t.Fatalf("expected 407, got %q", resp)
	}
	if !strings.Contains(resp, `Proxy-Authenticate: Basic realm="Tinyproxy"`) {
		t.Fatalf("missing Proxy-Authenticate challenge: %q", resp)
	}
}

func TestE4AuthSuccessForwardsToOrigin(t *testing.T) {
	originLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer originLn.Close()
	originHost, originPort, _ := net.SplitHostPort(originLn.Addr().String())

	received := make(chan string, 1)
	go func() {
		c, err := originLn.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		line, _ := bufio.NewReader(c).ReadString('\n')
		received <- line
		c.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"))
	}()

	cfg := config.Default()
	cfg.BasicAuth = &config.BasicAuth{Username: "alice", Password: "secret", Realm: "Tinyproxy"}
	addr, _, stop := startServer(t, cfg)
	defer stop()

	conn := dial(t, addr)
	defer conn.Close()
	token := base64.StdEncoding.EncodeToString([]byte("alice:secret"))
	req := "GET http://" + originHost + ":" + originPort + "/page HTTP/1.1\r\n" +
		"Proxy-Authorization: Basic " + token + "\r\n\r\n"
	conn.Write([]byte(req))

	select {
	case line := <-received:
		if !strings.Contains(line, "/page") {
			t.Fatalf("origin did not receive expected request line: %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("origin never received a request")
	}
}

func TestE5ACLDenyWinsOverAllow(t *testing.T) {
	cfg := config.Default()
	cfg.Allow = []string{"127.0.0.0/8"}
	cfg.Deny = []string{"127.0.0.1"}
	addr, _, stop := startServer(t, cfg)
	defer stop()

	conn := dial(t, addr)
	defer conn.Close()
	conn.Write([]byte("GET http://example.com/ HTTP/1.1\r\n\r\n"))
	resp := readFirstLine(t, conn)
	if !strings.HasPrefix(resp, "HTTP/1.1 403") {
		t.Fatalf("expected 403 for denied client, got %q", resp)
	}
}

func TestE6FilterBlock(t *testing.T) {
	dir := t.TempDir()
	filterPath := dir + "/filter.txt"
	writeFile(t, filterPath, "ads\n")

	cfg := config.Default()
	cfg.Filter.Enabled = true
	cfg.Filter.Path = filterPath
	addr, _, stop := startServer(t, cfg)
	defer stop()

	conn := dial(t, addr)
	defer conn.Close()
	conn.Write([]byte("GET http://ads.example.com/ HTTP/1.1\r\n\r\n"))
	resp := readFirstLine(t, conn)
	if !strings.HasPrefix(resp, "HTTP/1.1 403") {
		t.Fatalf("expected 403 for filtered URL, got %q", resp)
	}
}

func TestHeaderCapExceeded(t *testing.T) {
	cfg := config.Default()
	cfg.HeaderSizeCap = 128
	addr, _, stop := startServer(t, cfg)
	defer stop()

	conn := dial(t, addr)
	defer conn.Close()
	conn.Write([]byte("GET / HTTP/1.1\r\n"))
	conn.Write([]byte(strings.Repeat("X-Pad: aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa\r\n", 5)))

	resp := readAll(t, conn, 2*time.Second)
	if !strings.HasPrefix(resp, "HTTP/1.1 400") {
		t.Fatalf("expected 400 for oversized headers, got %q", resp)
	}
}

func TestAdmissionCapDropsExcessConnections(t *testing.T) {
	cfg := config.Default()
	cfg.MaxClients = 1
	addr, _, stop := startServer(t, cfg)
	defer stop()

	slow := dial(t, addr) // occupies the single permit; never completes headers
	defer slow.Close()
	time.Sleep(50 * time.Millisecond)

	dropped := dial(t, addr)
	defer dropped.Close()
	dropped.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, 16)
	n, err := dropped.Read(buf)
	if n != 0 || err == nil {
		t.Fatalf("expected second connection to be dropped with no bytes, got n=%d err=%v", n, err)
	}
}

func readFirstLine(t *testing.T, conn net.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		t.Fatalf("read first line: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	n, err := strconv.Atoi(s)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
