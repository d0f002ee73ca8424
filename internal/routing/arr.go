package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"watchbridge/internal/config"
	"watchbridge/internal/identity"
	"watchbridge/internal/logging"
	"watchbridge/internal/services"
	"watchbridge/internal/source"
)

const userAgent = "watchbridge/0.1.0"

// arrRouter routes across up to two v3 API backends, one per content kind.
type arrRouter struct {
	sonarr *arrInstance
	radarr *arrInstance
	logger *slog.Logger
}

// NewRouter builds a Router over the enabled Sonarr and Radarr instances.
// With neither enabled every call reports ErrNoInstance.
func NewRouter(cfg *config.Config, logger *slog.Logger) Router {
	if logger == nil {
		logger = logging.NewNop()
	}
	router := &arrRouter{logger: logger}
	if cfg.Sonarr.Enabled {
		router.sonarr = newArrInstance("sonarr", cfg.Sonarr)
	}
	if cfg.Radarr.Enabled {
		router.radarr = newArrInstance("radarr", cfg.Radarr)
	}
	return router
}

func (r *arrRouter) instanceFor(kind source.Kind) *arrInstance {
	switch kind {
	case source.KindShow:
		return r.sonarr
	case source.KindMovie:
		return r.radarr
	default:
		return nil
	}
}

func (r *arrRouter) Route(ctx context.Context, candidate Candidate, opts Options) error {
	instance := r.instanceFor(candidate.Kind)
	if instance == nil {
		return fmt.Errorf("%w: %s", ErrNoInstance, candidate.Kind)
	}
	authorityID, err := authorityID(candidate)
	if err != nil {
		return services.Wrap(services.ErrTransient, instance.name, "route", candidate.Title, err)
	}
	if err := instance.add(ctx, candidate.Title, authorityID, !opts.InitialSync); err != nil {
		return services.Wrap(services.ErrTransient, instance.name, "route", candidate.Title, err)
	}
	r.logger.Info("routed item",
		logging.String(logging.FieldTitle, candidate.Title),
		logging.String("instance", instance.name),
		logging.Int64(logging.FieldUserID, opts.UserID))
	return nil
}

func (r *arrRouter) CheckExistence(ctx context.Context, candidate Candidate) Existence {
	instance := r.instanceFor(candidate.Kind)
	if instance == nil {
		return Existence{Err: fmt.Errorf("%w: %s", ErrNoInstance, candidate.Kind)}
	}
	authorityID, err := authorityID(candidate)
	if err != nil {
		return Existence{Instance: instance.name, Err: err}
	}
	found, err := instance.lookup(ctx, authorityID)
	if err != nil {
		return Existence{Instance: instance.name, Err: err}
	}
	return Existence{Found: found != nil, Checked: true, Instance: instance.name}
}

func (r *arrRouter) Cleanup(ctx context.Context, candidate Candidate) error {
	instance := r.instanceFor(candidate.Kind)
	if instance == nil {
		return nil
	}
	authorityID, err := authorityID(candidate)
	if err != nil {
		return nil
	}
	found, err := instance.lookup(ctx, authorityID)
	if err != nil || found == nil {
		return err
	}
	if found.HasFile || found.Statistics.SizeOnDisk > 0 {
		r.logger.Debug("cleanup skipped, files on disk",
			logging.String(logging.FieldTitle, candidate.Title),
			logging.String("instance", instance.name))
		return nil
	}
	if err := instance.remove(ctx, found.ID); err != nil {
		return services.Wrap(services.ErrTransient, instance.name, "cleanup", candidate.Title, err)
	}
	r.logger.Info("removed item from backend",
		logging.String(logging.FieldTitle, candidate.Title),
		logging.String("instance", instance.name))
	return nil
}

// authorityID extracts the backend lookup key: the tvdb id for shows, the
// tmdb id for movies.
func authorityID(candidate Candidate) (int64, error) {
	agency := identity.AuthorityFor(string(candidate.Kind))
	value, ok := candidate.Identity.ValueFor(agency)
	if !ok {
		return 0, fmt.Errorf("no %s guid for %q", agency, candidate.Title)
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s guid %q is not numeric", agency, value)
	}
	return id, nil
}

// arrInstance is one Sonarr or Radarr endpoint speaking the v3 API.
type arrInstance struct {
	name             string
	baseURL          string
	apiKey           string
	rootFolder       string
	qualityProfileID int
	tagLabel         string
	client           *http.Client

	mu    sync.Mutex
	tagID int
}

func newArrInstance(name string, cfg config.Arr) *arrInstance {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &arrInstance{
		name:             name,
		baseURL:          strings.TrimRight(cfg.URL, "/"),
		apiKey:           cfg.APIKey,
		rootFolder:       cfg.RootFolder,
		qualityProfileID: cfg.QualityProfileID,
		tagLabel:         strings.TrimSpace(cfg.Tag),
		client:           &http.Client{Timeout: timeout},
	}
}

func (a *arrInstance) resource() string {
	if a.name == "sonarr" {
		return "series"
	}
	return "movie"
}

func (a *arrInstance) lookupParam() string {
	if a.name == "sonarr" {
		return "tvdbId"
	}
	return "tmdbId"
}

type arrRecord struct {
	ID         int64 `json:"id"`
	HasFile    bool  `json:"hasFile"`
	Statistics struct {
		SizeOnDisk int64 `json:"sizeOnDisk"`
	} `json:"statistics"`
}

func (a *arrInstance) lookup(ctx context.Context, authorityID int64) (*arrRecord, error) {
	endpoint := fmt.Sprintf("%s/api/v3/%s?%s=%d", a.baseURL, a.resource(), a.lookupParam(), authorityID)
	var records []arrRecord
	if err := a.do(ctx, http.MethodGet, endpoint, nil, &records); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

func (a *arrInstance) add(ctx context.Context, title string, authorityID int64, search bool) error {
	tags, err := a.ensureTag(ctx)
	if err != nil {
		return err
	}

	body := map[string]any{
		"title":            title,
		a.lookupParam():    authorityID,
		"qualityProfileId": a.qualityProfileID,
		"rootFolderPath":   a.rootFolder,
		"monitored":        true,
		"tags":             tags,
	}
	if a.name == "sonarr" {
		body["addOptions"] = map[string]any{"searchForMissingEpisodes": search}
	} else {
		body["addOptions"] = map[string]any{"searchForMovie": search}
	}

	err = a.do(ctx, http.MethodPost, a.baseURL+"/api/v3/"+a.resource(), body, nil)
	if err != nil && isAlreadyExists(err) {
		return nil
	}
	return err
}

func (a *arrInstance) remove(ctx context.Context, recordID int64) error {
	endpoint := fmt.Sprintf("%s/api/v3/%s/%d?deleteFiles=false", a.baseURL, a.resource(), recordID)
	return a.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

// ensureTag resolves the configured tag label to its backend id, creating the
// tag on first use. The id is cached for the instance lifetime.
func (a *arrInstance) ensureTag(ctx context.Context) ([]int, error) {
	if a.tagLabel == "" {
		return []int{}, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tagID != 0 {
		return []int{a.tagID}, nil
	}

	var tags []struct {
		ID    int    `json:"id"`
		Label string `json:"label"`
	}
	if err := a.do(ctx, http.MethodGet, a.baseURL+"/api/v3/tag", nil, &tags); err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	for _, tag := range tags {
		if strings.EqualFold(tag.Label, a.tagLabel) {
			a.tagID = tag.ID
			return []int{a.tagID}, nil
		}
	}

	var created struct {
		ID int `json:"id"`
	}
	if err := a.do(ctx, http.MethodPost, a.baseURL+"/api/v3/tag", map[string]any{"label": a.tagLabel}, &created); err != nil {
		return nil, fmt.Errorf("create tag %q: %w", a.tagLabel, err)
	}
	a.tagID = created.ID
	return []int{a.tagID}, nil
}

func (a *arrInstance) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Api-Key", a.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", a.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &statusError{
			status: resp.StatusCode,
			detail: fmt.Sprintf("%s %s returned %d: %s", a.name, method, resp.StatusCode, strings.TrimSpace(string(raw))),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", a.name, err)
	}
	return nil
}

type statusError struct {
	status int
	detail string
}

func (e *statusError) Error() string { return e.detail }

// isAlreadyExists recognizes the duplicate-add rejection both backends return
// when content is already tracked.
func isAlreadyExists(err error) bool {
	se, ok := err.(*statusError)
	if !ok {
		return false
	}
	if se.status == http.StatusConflict {
		return true
	}
	return se.status == http.StatusBadRequest && strings.Contains(strings.ToLower(se.detail), "already")
}
