// Package httpclient provides the shared tuned HTTP client used by every
// stage that talks to the network: discovery, geo lookup, liveness probing,
// template refresh and the downstream notifier.
package httpclient

import (
	"compress/gzip"
	"io"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"
)

const (
	DefaultTimeout         = 15 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
	MaxIdleConnsPerHost    = 16
)

var defaultClient *http.Client

func init() {
	defaultClient = &http.Client{
		Timeout: DefaultTimeout,
		Transport: &decodingTransport{rt: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: MaxIdleConnsPerHost,
			IdleConnTimeout:     DefaultIdleConnTimeout,
		}},
	}
}

// Default returns the shared client.
func Default() *http.Client {
	return defaultClient
}

// WithTimeout returns a client with the given timeout sharing the default
// transport settings.
func WithTimeout(timeout time.Duration) *http.Client {
	dt, ok := defaultClient.Transport.(*decodingTransport)
	if !ok {
		return &http.Client{Timeout: timeout}
	}
	t, ok := dt.rt.(*http.Transport)
	if !ok {
		return &http.Client{Timeout: timeout}
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &decodingTransport{rt: t.Clone()},
	}
}

// decodingTransport advertises brotli+gzip and transparently decodes the
// response body. Setting Accept-Encoding by hand disables net/http's automatic
// gzip handling, so both encodings are decoded here.
type decodingTransport struct {
	rt http.RoundTripper
}

func (t *decodingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" && req.Method != http.MethodHead {
		req.Header.Set("Accept-Encoding", "br, gzip")
	}
	resp, err := t.rt.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	switch resp.Header.Get("Content-Encoding") {
	case "br":
		resp.Body = &decodedBody{r: brotli.NewReader(resp.Body), c: resp.Body}
	case "gzip":
		gz, gzErr := gzip.NewReader(resp.Body)
		if gzErr != nil {
			resp.Body.Close()
			return nil, gzErr
		}
		resp.Body = &decodedBody{r: gz, c: resp.Body}
	default:
		return resp, nil
	}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	return resp, nil
}

type decodedBody struct {
	r io.Reader
	c io.Closer
}

func (b *decodedBody) Read(p []byte) (int, error) { return b.r.Read(p) }
func (b *decodedBody) Close() error               { return b.c.Close() }
