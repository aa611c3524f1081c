// Package filter implements the URL filter engine: a block list of
// substring, domain-suffix, and regex rules evaluated in file order
// against a request's URI. This is a block list only — a match always
// denies; the absence of any match always allows.
package filter

import (
	"bufio"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/xdg/tinygate/internal/clog"
	"github.com/xdg/tinygate/internal/proxyerr"
)

type ruleKind int

const (
	ruleSubstring ruleKind = iota
	ruleDomain
	ruleRegex
)

type rule struct {
	kind    ruleKind
	text    string // substring/domain rule text, already case-folded if needed
	regex   *regexp.Regexp
	display string // original line, for logging
}

// Engine is an immutable, constructed-once filter rule set.
type Engine struct {
	enabled       bool
	caseSensitive bool
	rules         []rule
}

// Options configures Engine construction.
type Options struct {
	Enabled       bool
	CaseSensitive bool
	Extended      bool
	FilterPath    string
}

// New builds an Engine from opts. If opts.Enabled and FilterPath is set,
// the file is read line by line; blank lines and lines starting with '#'
// are skipped. Rule classification per line: if Extended, attempt to
// compile as regex, falling back to a substring rule on compile failure
// (logged); else if the line starts with '.', it is a domain-suffix rule;
// otherwise it is a substring rule.
func New(opts Options) (*Engine, error) {
	e := &Engine{enabled: opts.Enabled, caseSensitive: opts.CaseSensitive}
	if !opts.Enabled || opts.FilterPath == "" {
		return e, nil
	}

	f, err := os.Open(opts.FilterPath)
	if err != nil {
		return nil, proxyerr.Wrap(proxyerr.Config, err, "cannot open filter file "+opts.FilterPath)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		text := line
		if !opts.CaseSensitive {
			text = strings.ToLower(text)
		}

		var r rule
		switch {
		case opts.Extended:
			re, err := regexp.Compile(text)
			if err != nil {
				clog.Warn("filter: invalid regex on line %d: %q, treating as substring match", lineNum, line)
				r = rule{kind: ruleSubstring, text: text, display: line}
			} else {
				r = rule{kind: ruleRegex, regex: re, display: line}
			}
		case strings.HasPrefix(line, "."):
			r = rule{kind: ruleDomain, text: text, display: line}
		default:
			r = rule{kind: ruleSubstring, text: text, display: line}
		}
		e.rules = append(e.rules, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, proxyerr.Wrap(proxyerr.Config, err, "error reading filter file "+opts.FilterPath)
	}

	clog.Debug("filter: loaded %d rules from %s", len(e.rules), opts.FilterPath)
	return e, nil
}

// Enabled reports whether filtering is active.
func (e *Engine) Enabled() bool {
	return e.enabled
}

// RuleCount returns the number of loaded rules.
func (e *Engine) RuleCount() int {
	return len(e.rules)
}

// IsAllowed reports whether rawURL passes the filter. If disabled, always
// true. Otherwise rules are evaluated in file order; the first match
// blocks (returns false). No match allows.
func (e *Engine) IsAllowed(rawURL string) bool {
	if !e.enabled {
		return true
	}

	check := rawURL
	if !e.caseSensitive {
		check = strings.ToLower(check)
	}

	for _, r := range e.rules {
		if e.matches(r, check) {
			clog.Debug("filter: blocked %s by rule %q", rawURL, r.display)
			return false
		}
	}
	return true
}

func (e *Engine) matches(r rule, check string) bool {
	switch r.kind {
	case ruleSubstring:
		return strings.Contains(check, r.text)
	case ruleRegex:
		return r.regex.MatchString(check)
	case ruleDomain:
		return e.matchesDomain(r.text, check)
	default:
		return false
	}
}

// matchesDomain extracts the host from check (parsing it as a URL) and
// compares it against the domain suffix rule. If parsing fails, it falls
// back to substring containment against the raw value, as the original
// behavior does.
func (e *Engine) matchesDomain(domain, check string) bool {
	u, err := url.Parse(check)
	if err != nil || u.Host == "" {
		return strings.Contains(check, domain)
	}

	host := u.Hostname()
	if !e.caseSensitive {
		host = strings.ToLower(host)
	}

	suffix := strings.TrimPrefix(domain, ".")
	return host == suffix || strings.HasSuffix(host, domain)
}
