package config

import (
	"bufio"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xdg/tinygate/internal/clog"
	"github.com/xdg/tinygate/internal/proxyerr"
)

// Load reads and parses a tinyproxy-style directive file at path into a
// Config. A missing file is not an error — it returns Default(). Parse
// failures on a recognized directive are fatal (*proxyerr.Error of kind
// Config); unrecognized directives are logged and skipped.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, proxyerr.Wrap(proxyerr.Config, err, "cannot open config file "+path)
	}
	defer f.Close()

	cfg := Default()
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := splitDirective(line)
		if !ok {
			continue
		}

		if err := applyDirective(cfg, strings.ToLower(key), value); err != nil {
			return nil, proxyerr.Wrapf(proxyerr.Config, err, "line %d: %s", lineNum, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, proxyerr.Wrap(proxyerr.Config, err, "error reading config file "+path)
	}

	return cfg, nil
}

// splitDirective splits line at the first run of whitespace into a
// (directive, value) pair.
func splitDirective(line string) (string, string, bool) {
	idx := strings.IndexFunc(line, func(r rune) bool { return r == ' ' || r == '\t' })
	if idx < 0 {
		return "", "", false
	}
	key := line[:idx]
	value := strings.TrimSpace(line[idx+1:])
	return key, value, true
}

func applyDirective(cfg *Config, key, value string) error {
	switch key {
	case "port":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Port = n
	case "bind":
		ip := net.ParseIP(value)
		if ip == nil {
			return invalidValue("bind address", value)
		}
		cfg.BindAddress = ip
	case "listen":
		ip := net.ParseIP(value)
		if ip == nil {
			return invalidValue("listen address", value)
		}
		cfg.ListenAddresses = append(cfg.ListenAddresses, ip)
	case "timeout":
		secs, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Timeout = time.Duration(secs) * time.Second
	case "maxclients":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.MaxClients = n
	case "logfile":
		cfg.LogFile = value
	case "syslog":
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		cfg.Syslog = b
	case "loglevel":
		cfg.LogLevel = value
	case "allow":
		cfg.Allow = append(cfg.Allow, value)
	case "deny":
		cfg.Deny = append(cfg.Deny, value)
	case "basicauth":
		user, pass, ok := strings.Cut(value, ":")
		if !ok {
			return invalidValue("basicauth", value)
		}
		cfg.BasicAuth = &BasicAuth{Username: user, Password: pass, Realm: "Tinyproxy"}
	case "connectport":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.ConnectPorts = append(cfg.ConnectPorts, n)
	case "filter":
		cfg.Filter.Path = value
	case "filterurls":
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		cfg.Filter.Enabled = b
	case "filterextended":
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		cfg.Filter.Extended = b
	case "filtercasesensitive":
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		cfg.Filter.CaseSensitive = b
	case "anonymous":
		cfg.Header.Anonymous = append(cfg.Header.Anonymous, value)
	case "viaproxyname":
		cfg.Header.ViaProxyName = value
	case "xtinyproxy":
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		cfg.Header.XTinyproxy = b
	case "disableviaheader":
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		cfg.Header.DisableViaHeader = b
	case "stathost":
		cfg.StatHost = value
	case "statfile":
		cfg.StatFile = value
	case "metricsaddr":
		cfg.MetricsAddr = value
	case "errorfile":
		code, file, ok := strings.Cut(value, " ")
		if !ok {
			return invalidValue("errorfile", value)
		}
		n, err := strconv.Atoi(strings.TrimSpace(code))
		if err != nil {
			return err
		}
		cfg.ErrorFiles[n] = strings.TrimSpace(file)
	case "defaulterrorfile":
		cfg.DefaultErrorFile = value
	case "reverseonly":
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		cfg.TransparentProxy = b
	case "upstream":
		u, err := parseUpstream(value)
		if err != nil {
			// Unparseable upstream directives are logged and skipped, matching
			// the original implementation's tolerant behavior for this directive.
			clog.Warn("config: invalid upstream directive %q: %v", value, err)
			return nil
		}
		cfg.Upstream = append(cfg.Upstream, u)
	default:
		clog.Warn("config: unknown directive %q", key)
	}
	return nil
}

// parseBool accepts yes/true/on/1 and no/false/off/0, case-insensitively.
func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "yes", "true", "on", "1":
		return true, nil
	case "no", "false", "off", "0":
		return false, nil
	default:
		return false, invalidValue("boolean", value)
	}
}

// parseUpstream parses "type:host:port" into an Upstream record.
func parseUpstream(value string) (Upstream, error) {
	parts := strings.Split(value, ":")
	if len(parts) < 3 {
		return Upstream{}, invalidValue("upstream", value)
	}
	port, err := strconv.Atoi(parts[2])
	if err != nil {
		return Upstream{}, err
	}
	return Upstream{Type: parts[0], Host: parts[1], Port: port}, nil
}

type valueError struct{ msg string }

func (e *valueError) Error() string { return e.msg }

func invalidValue(what, value string) error {
	return &valueError{"invalid " + what + ": " + value}
}
