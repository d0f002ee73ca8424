package plex

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"

	"watchbridge/internal/identity"
	"watchbridge/internal/services"
	"watchbridge/internal/source"
)

// DiffFeed fetches the RSS diff feed for one channel. The feeds are fast but
// lossy: they only carry recent additions, so an empty document means "nothing
// recent", never "watchlist is empty".
func (c *Client) DiffFeed(ctx context.Context, channel source.Channel) ([]source.Item, error) {
	endpoint := c.feedURL(channel)
	if endpoint == "" {
		return nil, services.Wrap(services.ErrConfiguration, "plex", "diff feed", fmt.Sprintf("no feed url configured for channel %s", channel), nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "plex", "diff feed", "build request", err)
	}
	req.Header.Set("Accept", "application/rss+xml, application/xml")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.quick.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "plex", "diff feed", "fetch feed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, services.Wrap(services.ErrTransient, "plex", "diff feed",
			fmt.Sprintf("feed returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	items, err := parseFeed(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "plex", "diff feed", "parse feed", err)
	}
	return items, nil
}

func (c *Client) feedURL(channel source.Channel) string {
	switch channel {
	case source.ChannelSelf:
		return c.selfFeedURL
	case source.ChannelFriends:
		return c.friendsFeedURL
	default:
		return ""
	}
}

type rssDocument struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title     string `xml:"title"`
	GUID      string `xml:"guid"`
	Category  string `xml:"category"`
	Keywords  string `xml:"keywords"`
	Thumbnail struct {
		URL string `xml:"url,attr"`
	} `xml:"thumbnail"`
}

func parseFeed(r io.Reader) ([]source.Item, error) {
	var doc rssDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode rss: %w", err)
	}

	items := make([]source.Item, 0, len(doc.Channel.Items))
	for _, entry := range doc.Channel.Items {
		raw := feedGuids(entry)
		if len(raw) == 0 {
			continue
		}
		items = append(items, source.Item{
			Identity: identity.NewIdentity(raw...),
			Title:    strings.TrimSpace(entry.Title),
			Kind:     normalizeKind(entry.Category),
			Thumb:    entry.Thumbnail.URL,
		})
	}
	return items, nil
}

// feedGuids prefers the keywords element, which carries the full
// comma-separated GUID list, and falls back to the single guid element.
func feedGuids(entry rssItem) []string {
	keywords := strings.TrimSpace(entry.Keywords)
	if keywords != "" {
		parts := strings.Split(keywords, ",")
		raw := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				raw = append(raw, trimmed)
			}
		}
		if len(raw) > 0 {
			return raw
		}
	}
	if guid := strings.TrimSpace(entry.GUID); guid != "" {
		return []string{guid}
	}
	return nil
}
