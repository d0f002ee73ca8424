package routing_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"watchbridge/internal/identity"
	"watchbridge/internal/logging"
	"watchbridge/internal/routing"
	"watchbridge/internal/source"
	"watchbridge/internal/testsupport"
)

func movieCandidate(title string, guids ...string) routing.Candidate {
	return routing.Candidate{
		Identity: identity.NewIdentity(guids...),
		Title:    title,
		Kind:     source.KindMovie,
	}
}

func showCandidate(title string, guids ...string) routing.Candidate {
	return routing.Candidate{
		Identity: identity.NewIdentity(guids...),
		Title:    title,
		Kind:     source.KindShow,
	}
}

func TestRouteMovieAddsToRadarr(t *testing.T) {
	var added map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v3/tag" && r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`[{"id": 3, "label": "watchbridge"}]`))
		case r.URL.Path == "/api/v3/movie" && r.Method == http.MethodPost:
			if r.Header.Get("X-Api-Key") != "test-key" {
				t.Errorf("missing api key header")
			}
			_ = json.NewDecoder(r.Body).Decode(&added)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id": 10}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithRadarr(server.URL))
	router := routing.NewRouter(cfg, logging.NewNop())

	err := router.Route(context.Background(), movieCandidate("Heat", "tmdb://949", "imdb://tt0113277"), routing.Options{})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if added["tmdbId"] != float64(949) {
		t.Fatalf("unexpected payload: %v", added)
	}
	if opts, ok := added["addOptions"].(map[string]any); !ok || opts["searchForMovie"] != true {
		t.Fatalf("expected search enabled: %v", added["addOptions"])
	}
	if tags, ok := added["tags"].([]any); !ok || len(tags) != 1 || tags[0] != float64(3) {
		t.Fatalf("expected tag applied: %v", added["tags"])
	}
}

func TestRouteInitialSyncSuppressesSearch(t *testing.T) {
	var added map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v3/tag" && r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`[{"id": 1, "label": "watchbridge"}]`))
		case r.URL.Path == "/api/v3/series" && r.Method == http.MethodPost:
			_ = json.NewDecoder(r.Body).Decode(&added)
			w.WriteHeader(http.StatusCreated)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithSonarr(server.URL))
	router := routing.NewRouter(cfg, logging.NewNop())

	err := router.Route(context.Background(), showCandidate("Severance", "tvdb://371980"), routing.Options{InitialSync: true})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if opts, ok := added["addOptions"].(map[string]any); !ok || opts["searchForMissingEpisodes"] != false {
		t.Fatalf("expected search suppressed: %v", added["addOptions"])
	}
}

func TestRouteDuplicateIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v3/tag" && r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`[]`))
		case r.URL.Path == "/api/v3/tag" && r.Method == http.MethodPost:
			_, _ = w.Write([]byte(`{"id": 5}`))
		case r.URL.Path == "/api/v3/movie" && r.Method == http.MethodPost:
			http.Error(w, `[{"errorMessage": "This movie has already been added"}]`, http.StatusBadRequest)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithRadarr(server.URL))
	router := routing.NewRouter(cfg, logging.NewNop())

	err := router.Route(context.Background(), movieCandidate("Heat", "tmdb://949"), routing.Options{})
	if err != nil {
		t.Fatalf("duplicate add should succeed, got %v", err)
	}
}

func TestRouteNoInstanceForKind(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	router := routing.NewRouter(cfg, logging.NewNop())

	err := router.Route(context.Background(), showCandidate("Severance", "tvdb://371980"), routing.Options{})
	if !errors.Is(err, routing.ErrNoInstance) {
		t.Fatalf("expected ErrNoInstance, got %v", err)
	}
}

func TestRouteMissingAuthorityGuid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected, got %s %s", r.Method, r.URL.Path)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithRadarr(server.URL))
	router := routing.NewRouter(cfg, logging.NewNop())

	err := router.Route(context.Background(), movieCandidate("Heat", "imdb://tt0113277"), routing.Options{})
	if err == nil {
		t.Fatal("expected error for movie without tmdb guid")
	}
}

func TestCheckExistence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("tvdbId") == "371980" {
			_, _ = w.Write([]byte(`[{"id": 12, "hasFile": false}]`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithSonarr(server.URL))
	router := routing.NewRouter(cfg, logging.NewNop())

	existing := router.CheckExistence(context.Background(), showCandidate("Severance", "tvdb://371980"))
	if !existing.Checked || !existing.Found {
		t.Fatalf("expected found: %+v", existing)
	}

	missing := router.CheckExistence(context.Background(), showCandidate("Unknown", "tvdb://1"))
	if !missing.Checked || missing.Found {
		t.Fatalf("expected checked but absent: %+v", missing)
	}

	unroutable := router.CheckExistence(context.Background(), movieCandidate("Heat", "tmdb://949"))
	if unroutable.Checked {
		t.Fatalf("disabled backend must not report checked: %+v", unroutable)
	}
}

func TestCleanupLeavesDownloadedContent(t *testing.T) {
	var deleted bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v3/series":
			_, _ = w.Write([]byte(`[{"id": 12, "hasFile": false, "statistics": {"sizeOnDisk": 9000}}]`))
		case r.Method == http.MethodDelete:
			deleted = true
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithSonarr(server.URL))
	router := routing.NewRouter(cfg, logging.NewNop())

	if err := router.Cleanup(context.Background(), showCandidate("Severance", "tvdb://371980")); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted {
		t.Fatal("content with files on disk must not be deleted")
	}
}

func TestCleanupRemovesUntouchedContent(t *testing.T) {
	var deletedPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v3/series":
			_, _ = w.Write([]byte(`[{"id": 12, "hasFile": false, "statistics": {"sizeOnDisk": 0}}]`))
		case r.Method == http.MethodDelete:
			deletedPath = r.URL.Path
			if r.URL.Query().Get("deleteFiles") != "false" {
				t.Errorf("expected deleteFiles=false, got %q", r.URL.RawQuery)
			}
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithSonarr(server.URL))
	router := routing.NewRouter(cfg, logging.NewNop())

	if err := router.Cleanup(context.Background(), showCandidate("Severance", "tvdb://371980")); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deletedPath != "/api/v3/series/12" {
		t.Fatalf("unexpected delete path %q", deletedPath)
	}
}
