package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Port != 8888 {
		t.Errorf("Port = %d, want 8888", cfg.Port)
	}
	if cfg.Timeout != 600*time.Second {
		t.Errorf("Timeout = %v, want 600s", cfg.Timeout)
	}
	if cfg.MaxClients != 100 {
		t.Errorf("MaxClients = %d, want 100", cfg.MaxClients)
	}
	if cfg.BufferSize != 8192 {
		t.Errorf("BufferSize = %d, want 8192", cfg.BufferSize)
	}
	if len(cfg.ConnectPorts) != 2 || cfg.ConnectPorts[0] != 443 || cfg.ConnectPorts[1] != 563 {
		t.Errorf("ConnectPorts = %v, want [443 563]", cfg.ConnectPorts)
	}
}

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.conf"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8888 {
		t.Errorf("expected default config for missing file, got Port = %d", cfg.Port)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tinygate.conf")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadBasicDirectives(t *testing.T) {
	path := writeConfig(t, `
# comment line
Port 3128
Bind 127.0.0.1
Timeout 30
MaxClients 50
Allow 192.168.1.0/24
Deny 192.168.1.100
BasicAuth alice:secret
ConnectPort 8443
FilterURLs yes
Filter /etc/tinygate/filter.txt
StatHost stats.local
MetricsAddr 127.0.0.1:9100
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 3128 {
		t.Errorf("Port = %d, want 3128", cfg.Port)
	}
	if cfg.BindAddress.String() != "127.0.0.1" {
		t.Errorf("BindAddress = %v", cfg.BindAddress)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
	if cfg.MaxClients != 50 {
		t.Errorf("MaxClients = %d, want 50", cfg.MaxClients)
	}
	if len(cfg.Allow) != 1 || cfg.Allow[0] != "192.168.1.0/24" {
		t.Errorf("Allow = %v", cfg.Allow)
	}
	if len(cfg.Deny) != 1 || cfg.Deny[0] != "192.168.1.100" {
		t.Errorf("Deny = %v", cfg.Deny)
	}
	if cfg.BasicAuth == nil || cfg.BasicAuth.Username != "alice" || cfg.BasicAuth.Password != "secret" {
		t.Errorf("BasicAuth = %+v", cfg.BasicAuth)
	}
	if len(cfg.ConnectPorts) != 3 || cfg.ConnectPorts[2] != 8443 {
		t.Errorf("ConnectPorts = %v", cfg.ConnectPorts)
	}
	if !cfg.Filter.Enabled {
		t.Error("expected FilterURLs yes to enable filtering")
	}
	if cfg.StatHost != "stats.local" {
		t.Errorf("StatHost = %q", cfg.StatHost)
	}
	if cfg.MetricsAddr != "127.0.0.1:9100" {
		t.Errorf("MetricsAddr = %q", cfg.MetricsAddr)
	}
}

func TestParseBoolVariants(t *testing.T) {
	for _, v := range []string{"yes", "true", "on", "1"} {
		ok, err := parseBool(v)
		if err != nil || !ok {
			t.Errorf("parseBool(%q) = (%v, %v), want (true, nil)", v, ok, err)
		}
	}
	for _, v := range []string{"no", "false", "off", "0"} {
		ok, err := parseBool(v)
		if err != nil || ok {
			t.Errorf("parseBool(%q) = (%v, %v), want (false, nil)", v, ok, err)
		}
	}
	if _, err := parseBool("maybe"); err == nil {
		t.Error("expected error for unrecognized boolean value")
	}
}

func TestUnknownDirectiveIsSkipped(t *testing.T) {
	path := writeConfig(t, "Port 9000\nTotallyUnknownDirective foo\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Port)
	}
}

func TestInvalidDirectiveValueFails(t *testing.T) {
	path := writeConfig(t, "Port notanumber\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid port value")
	}
}

func TestListenAddrsFallsBackToBind(t *testing.T) {
	cfg := Default()
	cfg.Port = 8888
	addrs := cfg.ListenAddrs()
	if len(addrs) != 1 {
		t.Fatalf("ListenAddrs() = %v, want 1 entry", addrs)
	}
}
