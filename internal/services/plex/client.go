package plex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"watchbridge/internal/config"
	"watchbridge/internal/identity"
	"watchbridge/internal/services"
	"watchbridge/internal/source"
)

const userAgent = "watchbridge/0.1.0"

// Client talks to the Plex account and discover APIs. It implements
// source.Client.
type Client struct {
	plexURL        string
	discoverURL    string
	token          string
	selfFeedURL    string
	friendsFeedURL string

	// quick serves small account and feed requests, bulk serves full
	// watchlist fetches.
	quick *http.Client
	bulk  *http.Client
}

// New constructs a Client from configuration.
func New(cfg *config.Config) *Client {
	return &Client{
		plexURL:        strings.TrimRight(cfg.Plex.URL, "/"),
		discoverURL:    strings.TrimRight(cfg.Plex.DiscoverURL, "/"),
		token:          strings.TrimSpace(cfg.Plex.Token),
		selfFeedURL:    strings.TrimSpace(cfg.Plex.SelfFeedURL),
		friendsFeedURL: strings.TrimSpace(cfg.Plex.FriendsFeedURL),
		quick:          &http.Client{Timeout: time.Duration(cfg.Plex.RequestTimeout) * time.Second},
		bulk:           &http.Client{Timeout: time.Duration(cfg.Plex.FetchTimeout) * time.Second},
	}
}

// HasDiffFeeds reports whether at least one diff feed URL is configured.
func (c *Client) HasDiffFeeds() bool {
	return c.selfFeedURL != "" || c.friendsFeedURL != ""
}

// Ping verifies the token against the account endpoint.
func (c *Client) Ping(ctx context.Context) error {
	if c.token == "" {
		return services.Wrap(services.ErrConfiguration, "plex", "ping", "token is not configured", nil)
	}
	var out accountResponse
	if err := c.getJSON(ctx, c.quick, c.plexURL+"/api/v2/user", &out); err != nil {
		return services.Wrap(services.ErrConnectivity, "plex", "ping", "account endpoint unreachable", err)
	}
	return nil
}

// Account returns the primary account the configured token belongs to.
func (c *Client) Account(ctx context.Context) (source.Account, error) {
	var out accountResponse
	if err := c.getJSON(ctx, c.quick, c.plexURL+"/api/v2/user", &out); err != nil {
		return source.Account{}, services.Wrap(services.ErrTransient, "plex", "account", "fetch account", err)
	}
	account, err := out.account()
	if err != nil {
		return source.Account{}, services.Wrap(services.ErrTransient, "plex", "account", "normalize account", err)
	}
	return account, nil
}

// Friends fetches the current friend listing. Any failure yields an
// incomplete result so callers never treat an error as an empty friend set.
func (c *Client) Friends(ctx context.Context) (source.FriendsResult, error) {
	var out []accountResponse
	if err := c.getJSON(ctx, c.quick, c.plexURL+"/api/v2/friends", &out); err != nil {
		return source.FriendsResult{}, services.Wrap(services.ErrIncomplete, "plex", "friends", "fetch friend listing", err)
	}

	friends := make([]source.Account, 0, len(out))
	for _, entry := range out {
		account, err := entry.account()
		if err != nil {
			return source.FriendsResult{}, services.Wrap(services.ErrIncomplete, "plex", "friends", "normalize friend account", err)
		}
		friends = append(friends, account)
	}
	return source.FriendsResult{Friends: friends, Complete: true}, nil
}

// SelfWatchlist fetches the primary user's complete watchlist from the
// discover API.
func (c *Client) SelfWatchlist(ctx context.Context) ([]source.Item, error) {
	endpoint := c.discoverURL + "/library/sections/watchlist/all"
	items, err := c.fetchWatchlist(ctx, endpoint)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "plex", "self watchlist", "fetch watchlist", err)
	}
	return items, nil
}

// FriendWatchlist fetches one friend's complete watchlist.
func (c *Client) FriendWatchlist(ctx context.Context, friend source.Account) ([]source.Item, error) {
	endpoint := fmt.Sprintf("%s/library/sections/watchlist/all?userID=%s", c.discoverURL, url.QueryEscape(strconv.FormatInt(friend.ID, 10)))
	items, err := c.fetchWatchlist(ctx, endpoint)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "plex", "friend watchlist", friend.Name, err)
	}
	return items, nil
}

func (c *Client) fetchWatchlist(ctx context.Context, endpoint string) ([]source.Item, error) {
	var out watchlistResponse
	if err := c.getJSON(ctx, c.bulk, endpoint, &out); err != nil {
		return nil, err
	}

	items := make([]source.Item, 0, len(out.MediaContainer.Metadata))
	for _, meta := range out.MediaContainer.Metadata {
		item, ok := meta.item()
		if !ok {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (c *Client) getJSON(ctx context.Context, client *http.Client, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Plex-Token", c.token)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("plex request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("plex returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// accountResponse tolerates the loosely typed id field Plex emits: some
// endpoints return a number, others a string, legacy payloads a uuid.
type accountResponse struct {
	ID       json.RawMessage `json:"id"`
	UUID     string          `json:"uuid"`
	Username string          `json:"username"`
	Title    string          `json:"title"`
}

func (a accountResponse) account() (source.Account, error) {
	id, err := normalizeAccountID(a.ID)
	if err != nil {
		return source.Account{}, err
	}
	name := a.Username
	if name == "" {
		name = a.Title
	}
	if name == "" {
		return source.Account{}, fmt.Errorf("account %d has no name", id)
	}
	return source.Account{ID: id, Name: name}, nil
}

func normalizeAccountID(raw json.RawMessage) (int64, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return 0, fmt.Errorf("account id is missing")
	}
	trimmed = strings.Trim(trimmed, `"`)
	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("account id %q is not numeric: %w", trimmed, err)
	}
	if id == 0 {
		return 0, fmt.Errorf("account id is zero")
	}
	return id, nil
}

type watchlistResponse struct {
	MediaContainer struct {
		Metadata []watchlistMetadata `json:"Metadata"`
	} `json:"MediaContainer"`
}

type watchlistMetadata struct {
	Title string `json:"title"`
	Type  string `json:"type"`
	Thumb string `json:"thumb"`
	Guid  []struct {
		ID string `json:"id"`
	} `json:"Guid"`
	Genre []struct {
		Tag string `json:"tag"`
	} `json:"Genre"`
}

func (m watchlistMetadata) item() (source.Item, bool) {
	raw := make([]string, 0, len(m.Guid))
	for _, guid := range m.Guid {
		if guid.ID != "" {
			raw = append(raw, guid.ID)
		}
	}
	if len(raw) == 0 {
		return source.Item{}, false
	}

	genres := make([]string, 0, len(m.Genre))
	for _, genre := range m.Genre {
		if genre.Tag != "" {
			genres = append(genres, genre.Tag)
		}
	}

	return source.Item{
		Identity: identity.NewIdentity(raw...),
		Title:    m.Title,
		Kind:     normalizeKind(m.Type),
		Thumb:    m.Thumb,
		Genres:   genres,
	}, true
}

func normalizeKind(raw string) source.Kind {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "show", "series", "tv":
		return source.KindShow
	default:
		return source.KindMovie
	}
}
