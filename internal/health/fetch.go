package health

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

// maxBodySize caps how much of the page is read.
const maxBodySize = 16 << 20

// Page is a fetched page.
type Page struct {
	StatusCode   int
	Body         []byte
	ResponseTime time.Duration
}

// Fetcher downloads the monitored page.
type Fetcher struct {
	url    string
	client *http.Client
}

// NewFetcher returns a fetcher for url with a per-request timeout.
func NewFetcher(url string, timeout time.Duration) *Fetcher {
	return &Fetcher{
		url: url,
		client: &http.Client{
			Timeout: timeout,
			// Compression is negotiated by hand so brotli works too.
			Transport: &http.Transport{
				Proxy:              http.ProxyFromEnvironment,
				DisableCompression: true,
			},
		},
	}
}

// WithHTTPClient replaces the HTTP client. Compression is still requested
// and decoded by the fetcher.
func (f *Fetcher) WithHTTPClient(client *http.Client) *Fetcher {
	f.client = client
	return f
}

// URL returns the monitored URL.
func (f *Fetcher) URL() string { return f.url }

// Fetch GETs the page and returns its decoded body.
func (f *Fetcher) Fetch(ctx context.Context) (*Page, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept-Encoding", "gzip, br")
	req.Header.Set("User-Agent", "spinner")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	body, err := decode(resp.Header.Get("Content-Encoding"), raw)
	if err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}

	return &Page{
		StatusCode:   resp.StatusCode,
		Body:         body,
		ResponseTime: time.Since(start),
	}, nil
}

func decode(encoding string, body []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip":
		gr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		return io.ReadAll(io.LimitReader(gr, maxBodySize))
	case "br":
		return io.ReadAll(io.LimitReader(brotli.NewReader(bytes.NewReader(body)), maxBodySize))
	default:
		return body, nil
	}
}
