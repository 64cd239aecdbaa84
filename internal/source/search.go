package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/JE668/get-m3u/internal/endpoint"
	"github.com/JE668/get-m3u/internal/httpclient"
)

const maxSearchBody = 4 << 20

// SearchSource scrapes a search-engine result page for embedded host:port
// substrings. The query service requires a session cookie; when it is absent
// the source reports ErrNotConfigured and contributes nothing.
type SearchSource struct {
	URL     string
	Cookie  string
	Client  *http.Client
	Timeout time.Duration
}

func (s *SearchSource) Name() string { return "search" }

func (s *SearchSource) Discover(ctx context.Context) ([]string, error) {
	if s.URL == "" || s.Cookie == "" {
		return nil, ErrNotConfigured
	}
	client := s.Client
	if client == nil {
		client = httpclient.Default()
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Cookie", s.Cookie)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		// The session cookie has a limited lifetime upstream.
		return nil, fmt.Errorf("session credential rejected (HTTP %d)", resp.StatusCode)
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("rate limited by search service")
	default:
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchBody))
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	text := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "html") {
		// Markup stripped first: result pages bury the interesting strings in
		// link text and table cells, and raw HTML adds regex noise.
		text = visibleText(body)
	}
	return endpoint.Extract(text), nil
}

// visibleText reduces an HTML document to its text content plus href
// attribute values (result links often carry the ip:port in the URL itself).
func visibleText(doc []byte) string {
	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(string(doc)))
	skipDepth := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return sb.String()
		case html.StartTagToken:
			tok := z.Token()
			switch tok.Data {
			case "script", "style":
				skipDepth++
			case "a":
				for _, attr := range tok.Attr {
					if attr.Key == "href" {
						sb.WriteString(attr.Val)
						sb.WriteByte(' ')
					}
				}
			}
		case html.EndTagToken:
			tok := z.Token()
			if (tok.Data == "script" || tok.Data == "style") && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth == 0 {
				sb.Write(z.Text())
				sb.WriteByte(' ')
			}
		}
	}
}
