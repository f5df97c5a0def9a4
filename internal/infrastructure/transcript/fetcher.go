package transcript

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ChannelDigest/internal/domain"
	"ChannelDigest/internal/ports"
)

const defaultEndpoint = "https://video.google.com/timedtext"

// Fetcher retrieves caption tracks through the public timedtext endpoint.
// A video without captions answers with an empty document; that is a
// normal miss, not an error.
type Fetcher struct {
	endpoint string
	language string
	client   *http.Client
	cache    *Cache
	logger   *slog.Logger
}

var _ ports.TranscriptFetcher = (*Fetcher)(nil)

// NewFetcher wires the fetcher. cache may be nil to disable caching.
func NewFetcher(client *http.Client, language string, cache *Cache, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if language == "" {
		language = "en"
	}
	return &Fetcher{
		endpoint: defaultEndpoint,
		language: language,
		client:   client,
		cache:    cache,
		logger:   logger,
	}
}

// timedtext mirrors the caption XML document.
type timedtext struct {
	Texts []struct {
		Value string `xml:",chardata"`
	} `xml:"text"`
}

// Fetch returns the merged caption text for a video.
func (f *Fetcher) Fetch(ctx context.Context, videoID string) (string, bool, error) {
	if text, ok := f.cache.Get(ctx, videoID); ok {
		if f.logger != nil {
			f.logger.Debug("transcript cache hit", "video", videoID)
		}
		return text, true, nil
	}

	u, err := url.Parse(f.endpoint)
	if err != nil {
		return "", false, domain.Permanent(fmt.Errorf("timedtext url: %w", err))
	}
	q := u.Query()
	q.Set("lang", f.language)
	q.Set("v", videoID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", false, domain.Permanent(fmt.Errorf("new request: %w", err))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", false, domain.Transient(fmt.Errorf("fetch transcript %s: %w", videoID, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", false, domain.Transient(fmt.Errorf("transcript %s: status %s", videoID, resp.Status))
	case resp.StatusCode != http.StatusOK:
		return "", false, domain.Permanent(fmt.Errorf("transcript %s: status %s", videoID, resp.Status))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false, domain.Transient(fmt.Errorf("read transcript %s: %w", videoID, err))
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		// Empty 200 means the video has no caption track.
		return "", false, nil
	}

	var doc timedtext
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return "", false, domain.Transient(fmt.Errorf("parse transcript %s: %w", videoID, err))
	}
	if len(doc.Texts) == 0 {
		return "", false, nil
	}

	parts := make([]string, 0, len(doc.Texts))
	for _, t := range doc.Texts {
		if s := strings.TrimSpace(t.Value); s != "" {
			parts = append(parts, s)
		}
	}
	text := strings.Join(parts, " ")
	if text == "" {
		return "", false, nil
	}

	if f.logger != nil {
		f.logger.Debug("transcript fetched", "video", videoID, "chars", len(text))
	}
	f.cache.Set(ctx, videoID, text)
	return text, true, nil
}
