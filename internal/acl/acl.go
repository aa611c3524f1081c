// Package acl implements the access-control evaluator: allow/deny decisions
// for a client IP against a list of CIDR/host rules, evaluated in a fixed
// deny-then-allow order.
package acl

import (
	"net"
	"strconv"
	"strings"

	"github.com/xdg/tinygate/internal/clog"
)

// ruleKind discriminates the three IpRule variants.
type ruleKind int

const (
	ruleAll ruleKind = iota
	ruleSingle
	ruleNetwork
)

// rule is a parsed, immutable IP rule: All, Single(ip), or Network(ip, prefix).
type rule struct {
	kind    ruleKind
	ip      net.IP
	prefix  int
	isIPv4  bool
	network uint32 // precomputed for IPv4 networks
	net6    [16]byte
}

// List is an immutable, constructed-once access-control list.
type List struct {
	allow []rule
	deny  []rule
}

// New builds a List from allow/deny rule strings, as loaded from
// configuration. Invalid rules are logged and skipped. If both lists are
// empty after parsing, a single All allow rule is synthesized so that a
// proxy with no configured ACL permits every client by default.
func New(allowRules, denyRules []string) *List {
	l := &List{}
	for _, s := range allowRules {
		r, err := parseRule(s)
		if err != nil {
			clog.Warn("acl: invalid allow rule %q: %v", s, err)
			continue
		}
		l.allow = append(l.allow, r)
	}
	for _, s := range denyRules {
		r, err := parseRule(s)
		if err != nil {
			clog.Warn("acl: invalid deny rule %q: %v", s, err)
			continue
		}
		l.deny = append(l.deny, r)
	}
	if len(l.allow) == 0 && len(l.deny) == 0 {
		l.allow = append(l.allow, rule{kind: ruleAll})
	}
	return l
}

// IsAllowed reports whether ip may connect. Deny rules are scanned first;
// any match denies regardless of allow rules. Then allow rules are scanned;
// any match admits. No allow match denies.
func (l *List) IsAllowed(ip net.IP) bool {
	for _, r := range l.deny {
		if r.matches(ip) {
			return false
		}
	}
	for _, r := range l.allow {
		if r.matches(ip) {
			return true
		}
	}
	return false
}

func (r rule) matches(ip net.IP) bool {
	switch r.kind {
	case ruleAll:
		return true
	case ruleSingle:
		return r.ip.Equal(ip)
	case ruleNetwork:
		return ipInNetwork(ip, r)
	default:
		return false
	}
}

// ipInNetwork reduces both addresses to a fixed-width integer (32 for IPv4,
// 128 for IPv6), computes mask = ~((1 << (width - prefix)) - 1) with the
// prefix == 0 special case, and compares the masked values. Mixed-family
// comparisons always return false.
func ipInNetwork(ip net.IP, r rule) bool {
	if r.isIPv4 {
		v4 := ip.To4()
		if v4 == nil {
			return false
		}
		ipBits := be32(v4)
		mask := v4Mask(r.prefix)
		return (ipBits & mask) == (r.network & mask)
	}

	// IPv6 network. Reject anything that parses as IPv4 (mixed-family).
	if ip.To4() != nil {
		return false
	}
	v6 := ip.To16()
	if v6 == nil {
		return false
	}
	mask := v6Mask(r.prefix)
	var ipArr [16]byte
	copy(ipArr[:], v6)
	for i := 0; i < 16; i++ {
		if (ipArr[i] & mask[i]) != (r.net6[i] & mask[i]) {
			return false
		}
	}
	return true
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func v4Mask(prefix int) uint32 {
	if prefix == 0 {
		return 0
	}
	return ^uint32(0) << (32 - prefix)
}

func v6Mask(prefix int) [16]byte {
	var mask [16]byte
	if prefix == 0 {
		return mask
	}
	full := prefix / 8
	rem := prefix % 8
	for i := 0; i < full; i++ {
		mask[i] = 0xff
	}
	if rem > 0 && full < 16 {
		mask[full] = ^byte(0) << (8 - rem)
	}
	return mask
}

// parseRule parses a single ACL rule string: "all"/"*" -> All,
// "A.B.C.D/N" or "v6addr/N" -> Network, bare address -> Single.
func parseRule(s string) (rule, error) {
	s = strings.TrimSpace(s)

	if s == "all" || s == "*" {
		return rule{kind: ruleAll}, nil
	}

	if idx := strings.IndexByte(s, '/'); idx >= 0 {
		addrStr := s[:idx]
		prefixStr := s[idx+1:]

		ip := net.ParseIP(addrStr)
		if ip == nil {
			return rule{}, &parseError{"invalid network address: " + addrStr}
		}
		prefix, err := strconv.Atoi(prefixStr)
		if err != nil {
			return rule{}, &parseError{"invalid prefix length: " + prefixStr}
		}

		v4 := ip.To4()
		isIPv4 := v4 != nil
		maxPrefix := 128
		if isIPv4 {
			maxPrefix = 32
		}
		if prefix < 0 || prefix > maxPrefix {
			return rule{}, &parseError{"prefix length out of range"}
		}

		r := rule{kind: ruleNetwork, prefix: prefix, isIPv4: isIPv4}
		if isIPv4 {
			r.network = be32(v4)
		} else {
			copy(r.net6[:], ip.To16())
		}
		return r, nil
	}

	ip := net.ParseIP(s)
	if ip == nil {
		return rule{}, &parseError{"invalid IP address: " + s}
	}
	return rule{kind: ruleSingle, ip: ip}, nil
}

type parseError struct{ msg string }

func (e *parseError) Error() string { return e.msg }
