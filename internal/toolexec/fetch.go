package toolexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const (
	fetchTimeout        = 20 * time.Second
	maxFetchRedirects   = 5
	maxFetchBodyBytes   = 1 << 20 // 1 MB
	defaultFetchMaxChars = 10000
)

// ErrPrivateNetworkBlocked is returned when fetch_url targets a
// loopback/link-local/private address not explicitly allow-listed.
var ErrPrivateNetworkBlocked = errors.New("fetch_url: target resolves to a private or loopback address")

// DomainAllower decides whether fetch_url may contact a given host, passed
// as the URL's host including any ":port". A nil allower permits every
// public host and still blocks private/loopback ranges (see isPrivateHost).
type DomainAllower func(host string) bool

// FetchURL implements fetch_url: a plain GET with up to five manual
// redirects (never http.Client's automatic redirect-follow, since that
// would silently allow a redirect to bypass the domain allow-list), capped
// read, and HTML-to-text extraction.
func FetchURL(ctx context.Context, allow DomainAllower, rawURL string, maxChars int) (string, error) {
	if maxChars <= 0 {
		maxChars = defaultFetchMaxChars
	}

	client := &http.Client{
		Timeout: fetchTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	current := rawURL
	for redirects := 0; ; redirects++ {
		if redirects > maxFetchRedirects {
			return "", fmt.Errorf("fetch_url: too many redirects (>%d)", maxFetchRedirects)
		}
		parsed, err := url.Parse(current)
		if err != nil {
			return "", fmt.Errorf("fetch_url: invalid URL: %w", err)
		}
		if err := checkHostAllowed(parsed.Hostname(), parsed.Host, allow); err != nil {
			return "", err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return "", fmt.Errorf("fetch_url: build request: %w", err)
		}
		req.Header.Set("User-Agent", "agentrt/1.0")
		req.Header.Set("Accept", "text/html, text/plain;q=0.9, */*;q=0.5")

		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("fetch_url: %w", err)
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			loc := resp.Header.Get("Location")
			resp.Body.Close()
			if loc == "" {
				return "", fmt.Errorf("fetch_url: redirect with no Location header")
			}
			next, err := parsed.Parse(loc)
			if err != nil {
				return "", fmt.Errorf("fetch_url: invalid redirect location: %w", err)
			}
			current = next.String()
			continue
		}

		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return "", fmt.Errorf("fetch_url: HTTP %d", resp.StatusCode)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBodyBytes))
		if err != nil {
			return "", fmt.Errorf("fetch_url: read body: %w", err)
		}

		var text string
		if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
			text = extractReadableText(body)
		} else {
			text = string(body)
		}
		return truncateChars(text, maxChars), nil
	}
}

func checkHostAllowed(host, hostPort string, allow DomainAllower) error {
	if host == "" {
		return fmt.Errorf("fetch_url: URL has no host")
	}
	if isPrivateHost(host) {
		if allow == nil || !allow(hostPort) {
			return ErrPrivateNetworkBlocked
		}
	}
	return nil
}

func isPrivateHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsPrivate()
}

var skipTextTags = map[string]bool{"script": true, "style": true, "noscript": true}

var blockTextTags = map[string]bool{
	"p": true, "div": true, "br": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "li": true, "tr": true, "td": true,
	"th": true, "blockquote": true, "pre": true, "hr": true, "header": true,
	"footer": true, "section": true, "article": true, "nav": true, "main": true,
}

// extractReadableText strips HTML down to visible text, dropping
// script/style/noscript content and collapsing whitespace.
func extractReadableText(data []byte) string {
	tokenizer := html.NewTokenizer(bytes.NewReader(data))
	var b strings.Builder
	skip := 0
	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			return collapseBlankLines(b.String())
		}
		name, _ := tokenizer.TagName()
		tag := string(name)
		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			if skipTextTags[tag] {
				skip++
			}
			if blockTextTags[tag] && b.Len() > 0 {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			if skipTextTags[tag] && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(tokenizer.Text())
			}
		}
	}
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blanks := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			blanks++
			if blanks <= 1 {
				out = append(out, "")
			}
			continue
		}
		blanks = 0
		out = append(out, trimmed)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func truncateChars(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars]) + "\n\n[truncated]"
}

// WebSearchResult is one hit from a pluggable web_search backend.
type WebSearchResult struct {
	Title string
	URL   string
	Text  string
}

// WebSearchBackend is implemented by a host that wires a real search API.
// Without one configured, web_search returns a clear tool error rather than
// failing the run.
type WebSearchBackend interface {
	Search(ctx context.Context, query string, numResults int) ([]WebSearchResult, error)
}

// ErrNoSearchBackend is returned by WebSearch when no backend is wired.
var ErrNoSearchBackend = errors.New("web_search: no search backend configured")

// WebSearch implements web_search against a pluggable backend.
func WebSearch(ctx context.Context, backend WebSearchBackend, query string, numResults int) (string, error) {
	if backend == nil {
		return "", ErrNoSearchBackend
	}
	if numResults <= 0 {
		numResults = 5
	}
	results, err := backend.Search(ctx, query, numResults)
	if err != nil {
		return "", fmt.Errorf("web_search: %w", err)
	}
	if len(results) == 0 {
		return "No results found.", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d result(s):\n", len(results))
	for i, r := range results {
		fmt.Fprintf(&b, "\n--- %d. %s ---\nURL: %s\n", i+1, r.Title, r.URL)
		if r.Text != "" {
			b.WriteString(r.Text)
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}

// LintFile is a stub: this environment has no bundled linter integration.
func LintFile(_ string) (string, error) {
	return "", errors.New("lint_file: not implemented in this environment")
}
