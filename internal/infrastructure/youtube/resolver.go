package youtube

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"ChannelDigest/internal/domain"
	"ChannelDigest/internal/ports"
)

// channelIDExpr matches only the owner channel id embedded in the page
// source, not ids of featured or related channels.
var channelIDExpr = regexp.MustCompile(`"externalId":"(UC[a-zA-Z0-9_-]{22})"`)

// PageResolver resolves any channel URL (handle, /channel/, /c/ vanity) to
// the permanent UC id by scraping the channel page.
type PageResolver struct {
	client *http.Client
}

var _ ports.ChannelResolver = (*PageResolver)(nil)

// NewPageResolver wires an HTTP client; a nil client gets a sane default.
func NewPageResolver(client *http.Client) *PageResolver {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &PageResolver{client: client}
}

// Resolve fetches the channel page and extracts the owner channel id plus
// the display name from the page metadata.
func (r *PageResolver) Resolve(ctx context.Context, channelURL string) (string, string, error) {
	if !strings.HasPrefix(channelURL, "http") {
		channelURL = "https://" + channelURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, channelURL, nil)
	if err != nil {
		return "", "", domain.Permanent(fmt.Errorf("new request: %w", err))
	}
	// A browser-ish agent avoids the consent interstitial.
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", "", domain.Transient(fmt.Errorf("fetch channel page: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", "", domain.Permanent(fmt.Errorf("channel page not found: %s", channelURL))
	case resp.StatusCode != http.StatusOK:
		return "", "", domain.Transient(fmt.Errorf("channel page status %s", resp.Status))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", "", domain.Transient(fmt.Errorf("parse channel page: %w", err))
	}

	html, err := doc.Html()
	if err != nil {
		return "", "", domain.Transient(fmt.Errorf("render channel page: %w", err))
	}

	match := channelIDExpr.FindStringSubmatch(html)
	if match == nil {
		return "", "", domain.Permanent(fmt.Errorf("owner channel id not found in %s", channelURL))
	}
	channelID := match[1]

	name, _ := doc.Find(`meta[property="og:title"]`).Attr("content")
	if name == "" {
		name = strings.TrimSuffix(doc.Find("title").Text(), " - YouTube")
	}

	return channelID, strings.TrimSpace(name), nil
}
