package tle

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxFetchBytes caps a single source response. Element catalogs are a few
// hundred KB at most; anything larger is a misbehaving source.
const maxFetchBytes = 10 * 1024 * 1024

// Fetcher retrieves raw element data from one or more remote sources.
type Fetcher struct {
	sourceURLs []string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher for the given source URLs.
func NewFetcher(sourceURLs []string, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		sourceURLs: sourceURLs,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// SourceURLs returns the configured source URLs.
func (f *Fetcher) SourceURLs() []string {
	return f.sourceURLs
}

// Fetch retrieves raw element data from every configured source and
// concatenates the bodies. A failing source is logged and skipped; Fetch
// only errors when no source yields data.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	var buf bytes.Buffer
	var fetched int

	for _, url := range f.sourceURLs {
		data, err := f.fetchOne(ctx, url)
		if err != nil {
			f.logger.Warn("element source fetch failed", "url", url, "error", err)
			continue
		}
		buf.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			buf.WriteByte('\n')
		}
		fetched++
	}

	if fetched == 0 {
		return nil, fmt.Errorf("all %d element sources failed", len(f.sourceURLs))
	}
	return buf.Bytes(), nil
}

func (f *Fetcher) fetchOne(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching element data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > maxFetchBytes {
		return nil, fmt.Errorf("response exceeds %d byte limit", maxFetchBytes)
	}

	return body, nil
}
