package youtube

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"ChannelDigest/internal/domain"
	"ChannelDigest/internal/ports"
)

const defaultFeedURL = "https://www.youtube.com/feeds/videos.xml"

// RSSDiscovery finds new channel uploads through the public per-channel
// feed. No API key, no quota of its own; the feed carries the latest
// uploads which is plenty for incremental polling.
type RSSDiscovery struct {
	feedURL string
	client  *http.Client
	logger  *slog.Logger
}

var _ ports.Discovery = (*RSSDiscovery)(nil)

// NewRSSDiscovery wires an HTTP client; a nil client gets a sane default.
func NewRSSDiscovery(client *http.Client, logger *slog.Logger) *RSSDiscovery {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &RSSDiscovery{feedURL: defaultFeedURL, client: client, logger: logger}
}

// Kind identifies the strategy inside the discovery registry.
func (d *RSSDiscovery) Kind() string {
	return "youtube-rss"
}

// feed mirrors the subset of the Atom document we consume.
type feed struct {
	Title   string      `xml:"title"`
	Entries []feedEntry `xml:"entry"`
}

type feedEntry struct {
	VideoID   string `xml:"videoId"`
	Title     string `xml:"title"`
	Published string `xml:"published"`
	Link      struct {
		Href string `xml:"href,attr"`
	} `xml:"link"`
}

// Discover fetches the channel feed and returns entries published strictly
// after since. A missing channel is a permanent failure; network trouble
// and server errors are transient.
func (d *RSSDiscovery) Discover(ctx context.Context, channelID string, since time.Time) ([]domain.VideoCandidate, error) {
	u, err := url.Parse(d.feedURL)
	if err != nil {
		return nil, domain.Permanent(fmt.Errorf("feed url: %w", err))
	}
	q := u.Query()
	q.Set("channel_id", channelID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, domain.Permanent(fmt.Errorf("new request: %w", err))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("fetch feed %s: %w", channelID, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.Permanent(fmt.Errorf("channel %s: feed not found", channelID))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, domain.Transient(fmt.Errorf("channel %s: feed status %s", channelID, resp.Status))
	case resp.StatusCode != http.StatusOK:
		return nil, domain.Permanent(fmt.Errorf("channel %s: feed status %s", channelID, resp.Status))
	}

	var doc feed
	if err := xml.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, domain.Transient(fmt.Errorf("parse feed %s: %w", channelID, err))
	}

	var out []domain.VideoCandidate
	for _, entry := range doc.Entries {
		if entry.VideoID == "" {
			continue
		}
		publishedAt, err := time.Parse(time.RFC3339, entry.Published)
		if err != nil {
			if d.logger != nil {
				d.logger.Debug("skipping entry with bad timestamp", "video", entry.VideoID, "published", entry.Published)
			}
			continue
		}
		if !publishedAt.After(since) {
			continue
		}

		link := entry.Link.Href
		if link == "" {
			link = "https://www.youtube.com/watch?v=" + entry.VideoID
		}
		out = append(out, domain.VideoCandidate{
			VideoID:     entry.VideoID,
			Title:       entry.Title,
			Link:        link,
			PublishedAt: publishedAt.UTC(),
		})
	}

	if d.logger != nil {
		d.logger.Debug("feed scanned", "channel", channelID, "entries", len(doc.Entries), "new", len(out))
	}
	return out, nil
}
