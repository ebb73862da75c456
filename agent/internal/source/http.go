package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/obsidianstack/pagescore/agent/internal/compute"
	"github.com/obsidianstack/pagescore/agent/internal/config"
	"github.com/obsidianstack/pagescore/agent/internal/trace"
)

type httpSource struct {
	src      config.Source
	client   *http.Client
	manifest *Manifest

	mu   sync.Mutex
	etag string
}

func (s *httpSource) ID() string { return s.src.ID }

// Collect fetches the endpoint. A 304 Not Modified, or a response whose ETag
// matches the previous one, yields no bundles.
func (s *httpSource) Collect(ctx context.Context) ([]*compute.Bundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, etag, err := s.fetch(ctx, s.src.Endpoint, s.etag)
	if err != nil {
		return nil, err
	}
	if data == nil || (etag != "" && etag == s.etag) {
		slog.Debug("http source: not modified", "source", s.src.ID)
		return nil, nil
	}

	base, err := url.Parse(s.src.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("http source %q: %w", s.src.ID, err)
	}
	b, err := s.manifest.Bundle(data, func(ref string) ([]byte, error) {
		u, err := base.Parse(ref)
		if err != nil {
			return nil, err
		}
		body, _, err := s.fetch(ctx, u.String(), "")
		return body, err
	})
	if err != nil {
		return nil, fmt.Errorf("http source %q: %w", s.src.ID, err)
	}

	s.etag = etag
	b.Name = s.src.Endpoint
	b.SourceID = s.src.ID
	b.CollectedAt = time.Now().UTC()
	return []*compute.Bundle{b}, nil
}

// fetch GETs rawURL and returns the inflated body and its ETag. A nil body
// with no error means the server answered 304.
func (s *httpSource) fetch(ctx context.Context, rawURL, etag string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotModified:
		return nil, etag, nil
	default:
		return nil, "", fmt.Errorf("%s: unexpected status %d", rawURL, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, trace.MaxArtifactBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	if int64(len(raw)) > trace.MaxArtifactBytes {
		return nil, "", fmt.Errorf("%s: body exceeds %d bytes", rawURL, int64(trace.MaxArtifactBytes))
	}
	data, err := trace.Decompress(raw)
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("ETag"), nil
}
