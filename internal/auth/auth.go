// Package auth implements Basic proxy authentication: validating a
// Proxy-Authorization header against a single configured credential pair.
package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"strings"
	"unicode/utf8"

	"github.com/xdg/tinygate/internal/httpmsg"
	"github.com/xdg/tinygate/internal/proxyerr"
)

// Credentials is a single Basic-auth username/password/realm triple.
type Credentials struct {
	Username string
	Password string
	Realm    string
}

// Authenticator validates the proxy-authorization header against an
// optional configured credential. A nil Credentials pointer means
// authentication is disabled and every request is permitted.
type Authenticator struct {
	creds *Credentials
}

// New builds an Authenticator. Pass nil to disable authentication.
func New(creds *Credentials) *Authenticator {
	return &Authenticator{creds: creds}
}

// Enabled reports whether authentication is configured.
func (a *Authenticator) Enabled() bool {
	return a.creds != nil
}

// Realm returns the configured realm, defaulting to "Tinyproxy" when
// authentication is disabled or no realm was set.
func (a *Authenticator) Realm() string {
	if a.creds == nil || a.creds.Realm == "" {
		return "Tinyproxy"
	}
	return a.creds.Realm
}

// Authenticate checks req's Proxy-Authorization header.
//
// If no credentials are configured, it returns (true, nil). Otherwise a
// missing header returns (false, nil) — a soft deny. A header present but
// not beginning with the literal "Basic " prefix, invalid base64, a
// decoded value that isn't valid UTF-8, or a decoded value with no ':'
// separator is a hard failure, returned as a *proxyerr.Error of kind
// AuthenticationFailed (distinct from a soft deny). A well-formed but
// wrong credential returns (false, nil).
func (a *Authenticator) Authenticate(req *httpmsg.Request) (bool, error) {
	if a.creds == nil {
		return true, nil
	}

	header, ok := req.Header("proxy-authorization")
	if !ok {
		return false, nil
	}

	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return false, proxyerr.New(proxyerr.AuthenticationFailed, "non-Basic authentication scheme")
	}

	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return false, proxyerr.Wrap(proxyerr.AuthenticationFailed, err, "invalid base64 credentials")
	}
	if !utf8.Valid(decoded) {
		return false, proxyerr.New(proxyerr.AuthenticationFailed, "credentials not valid UTF-8")
	}

	idx := strings.IndexByte(string(decoded), ':')
	if idx < 0 {
		return false, proxyerr.New(proxyerr.AuthenticationFailed, "invalid credentials format")
	}

	user := string(decoded[:idx])
	pass := string(decoded[idx+1:])

	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(a.creds.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(a.creds.Password)) == 1
	return userOK && passOK, nil
}
