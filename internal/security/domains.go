// Package security holds the outbound-network allow-list (SPEC_FULL §6):
// a hard-coded table of LLM provider hostnames plus the local Ollama port,
// consulted whenever fetch_url would otherwise reach a loopback, link-local,
// or private address. Public hosts are never gated here — toolexec's
// isPrivateHost check only calls into this table for addresses that would
// already be suspicious, which is what keeps fetch_url usable for arbitrary
// public URLs while still closing the SSRF hole for internal ones.
package security

import "strings"

// DefaultAllowedHosts are the hostnames this runtime trusts by default:
// the provider APIs it ships adapters for, plus the conventional local
// Ollama endpoint. "*.domain" entries match any subdomain of domain.
var DefaultAllowedHosts = []string{
	"api.anthropic.com",
	"api.openai.com",
	"generativelanguage.googleapis.com",
	"*.googleapis.com",
	"api.groq.com",
	"api.mistral.ai",
	"openrouter.ai",
	"localhost:11434",
	"127.0.0.1:11434",
}

// AllowList matches a host (as passed to net/url's Host, so it may carry a
// ":port" suffix) against a table of exact hostnames or "*.domain" suffix
// patterns.
type AllowList struct {
	exact  map[string]bool
	suffix []string
}

// NewAllowList builds an AllowList from a table of hostnames and
// "*.domain"-style suffix patterns.
func NewAllowList(hosts ...string) *AllowList {
	a := &AllowList{exact: make(map[string]bool)}
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(h, "*."); ok {
			a.suffix = append(a.suffix, rest)
			continue
		}
		a.exact[h] = true
	}
	return a
}

// NewDefaultAllowList builds an AllowList from DefaultAllowedHosts plus any
// operator-configured extra hosts (e.g. a self-hosted MCP server or a second
// local model runtime).
func NewDefaultAllowList(extra ...string) *AllowList {
	return NewAllowList(append(append([]string{}, DefaultAllowedHosts...), extra...)...)
}

// Allows reports whether host matches an exact entry or a "*.domain"
// suffix pattern in the list.
func (a *AllowList) Allows(host string) bool {
	if a == nil {
		return false
	}
	host = strings.ToLower(host)
	if a.exact[host] {
		return true
	}
	bare, _, found := strings.Cut(host, ":")
	if found && a.exact[bare] {
		return true
	}
	for _, suf := range a.suffix {
		if host == suf || strings.HasSuffix(host, "."+suf) {
			return true
		}
		if found && (bare == suf || strings.HasSuffix(bare, "."+suf)) {
			return true
		}
	}
	return false
}

// Allower returns the function value toolexec.Executor.DomainAllow expects
// (and FetchURL's checkHostAllowed consults for any host isPrivateHost flags).
func (a *AllowList) Allower() func(host string) bool {
	return a.Allows
}
