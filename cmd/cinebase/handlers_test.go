package main

import (
	"bytes"
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	gocache "github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/cinebase/cinebase/pkg/media"
	"github.com/cinebase/cinebase/pkg/sessionstate"
)

type fakeMetadata struct {
	trendingCalls int
	detailsCalls  int
	page          media.ResultPage
	details       media.Details
	err           error
}

func (f *fakeMetadata) Trending(_ context.Context, page int) (media.ResultPage, error) {
	f.trendingCalls++
	return f.page, f.err
}

func (f *fakeMetadata) Search(_ context.Context, query string, page int) (media.ResultPage, error) {
	return f.page, f.err
}

func (f *fakeMetadata) Details(_ context.Context, kind media.Kind, id int) (media.Details, error) {
	f.detailsCalls++
	if f.err != nil {
		return media.Details{}, f.err
	}
	return f.details, nil
}

type fakeAwards struct {
	text string
	err  error
}

func (f *fakeAwards) Awards(_ context.Context, imdbID string) (string, error) {
	return f.text, f.err
}

type fakeAuth struct {
	identity media.Identity
	err      error
}

func (f *fakeAuth) SignUp(_ context.Context, email, password string) (media.Identity, error) {
	return f.identity, f.err
}

func (f *fakeAuth) SignIn(_ context.Context, email, password string) (media.Identity, error) {
	return f.identity, f.err
}

func (f *fakeAuth) UpdateAccount(_ context.Context, identity media.Identity, email, password string) (media.Identity, error) {
	if email != "" {
		identity.Email = email
	}
	return identity, f.err
}

type fakeDB struct {
	entries   []media.WatchlistEntry
	listCalls int
}

func (f *fakeDB) InitProfile(_ context.Context, identity media.Identity) error { return nil }

func (f *fakeDB) UpdateProfile(_ context.Context, identity media.Identity, name string) error {
	return nil
}

func (f *fakeDB) AddEntry(_ context.Context, identity media.Identity, entry media.WatchlistEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeDB) RemoveEntry(_ context.Context, identity media.Identity, mediaID string) error {
	kept := f.entries[:0]
	for _, entry := range f.entries {
		if entry.ID != mediaID {
			kept = append(kept, entry)
		}
	}
	f.entries = kept
	return nil
}

func (f *fakeDB) ListEntries(_ context.Context, identity media.Identity) ([]media.WatchlistEntry, error) {
	f.listCalls++
	return append([]media.WatchlistEntry{}, f.entries...), nil
}

func (f *fakeDB) ClearEntries(_ context.Context, identity media.Identity) error {
	f.entries = nil
	return nil
}

type fakeInsight struct {
	enabled bool
	calls   int
	text    string
}

func (f *fakeInsight) Enabled() bool { return f.enabled }

func (f *fakeInsight) Summarize(_ context.Context, title, plot string) (string, error) {
	f.calls++
	return f.text, nil
}

func newTestApp(metadata metadataClient, awards awardsClient, auth authClient, db watchlistClient, insight insightClient) *fiber.App {
	logger := zap.NewNop()
	globalGoCache := gocache.New(gocache.NoExpiration, 0)
	global := &goCache{cache: globalGoCache, logger: logger}
	manager := sessionstate.NewManager(global, time.Hour, nil, logger)
	cfg := config{
		WebPath:           os.TempDir(),
		CacheAgeTrending:  5 * time.Minute,
		CacheAgeSearch:    time.Hour,
		CacheAgeDetails:   time.Hour,
		CacheAgeWatchlist: 10 * time.Second,
		CacheAgeInsights:  time.Hour,
		SessionTTL:        time.Hour,
	}
	app := fiber.New()
	app.Use(createSessionMiddleware(manager, logger))
	goCaches := map[string]*gocache.Cache{"global": globalGoCache}
	setupRoutes(app, cfg, manager, metadata, awards, auth, db, insight, goCaches, logger)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, target, body string, cookie *http.Cookie) *http.Response {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, bytes.NewReader([]byte(body)))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	res, err := app.Test(req, -1)
	require.NoError(t, err)
	return res
}

func readBody(t *testing.T, res *http.Response) string {
	body, err := ioutil.ReadAll(res.Body)
	require.NoError(t, err)
	res.Body.Close()
	return string(body)
}

func sessionCookie(t *testing.T, res *http.Response) *http.Cookie {
	for _, cookie := range res.Cookies() {
		if cookie.Name == sessionCookieName {
			return cookie
		}
	}
	t.Fatal("No session cookie in response")
	return nil
}

func TestTrendingSharedAcrossSessions(t *testing.T) {
	metadata := &fakeMetadata{page: media.ResultPage{
		Page:  1,
		Items: []media.Item{{ID: 10378, Kind: media.KindMovie, Title: "Big Buck Bunny"}},
	}}
	app := newTestApp(metadata, nil, &fakeAuth{}, &fakeDB{}, &fakeInsight{})

	res := doJSON(t, app, "GET", "/api/trending", "", nil)
	require.Equal(t, fiber.StatusOK, res.StatusCode)
	require.Equal(t, "Big Buck Bunny", gjson.Get(readBody(t, res), "items.0.title").String())

	// No cookie, so this is a different session. The trending cache is
	// global, the fetch must not run again.
	res = doJSON(t, app, "GET", "/api/trending", "", nil)
	require.Equal(t, fiber.StatusOK, res.StatusCode)
	require.Equal(t, 1, metadata.trendingCalls)
}

func TestSearchRequiresQuery(t *testing.T) {
	app := newTestApp(&fakeMetadata{}, nil, &fakeAuth{}, &fakeDB{}, &fakeInsight{})
	res := doJSON(t, app, "GET", "/api/search", "", nil)
	require.Equal(t, fiber.StatusBadRequest, res.StatusCode)
}

func TestDetailsWithAwards(t *testing.T) {
	metadata := &fakeMetadata{details: media.Details{
		ID:     603,
		Kind:   media.KindMovie,
		Title:  "The Matrix",
		IMDBid: "tt0133093",
	}}
	awards := &fakeAwards{text: "Won 4 Oscars"}
	app := newTestApp(metadata, awards, &fakeAuth{}, &fakeDB{}, &fakeInsight{})

	res := doJSON(t, app, "GET", "/api/media/movie/603", "", nil)
	require.Equal(t, fiber.StatusOK, res.StatusCode)
	body := readBody(t, res)
	require.Equal(t, "The Matrix", gjson.Get(body, "title").String())
	require.Equal(t, "Won 4 Oscars", gjson.Get(body, "awards").String())
}

func TestDetailsNotFound(t *testing.T) {
	metadata := &fakeMetadata{err: media.ErrNotFound}
	app := newTestApp(metadata, nil, &fakeAuth{}, &fakeDB{}, &fakeInsight{})

	res := doJSON(t, app, "GET", "/api/media/movie/999999", "", nil)
	require.Equal(t, fiber.StatusNotFound, res.StatusCode)
}

func TestDetailsBadKind(t *testing.T) {
	app := newTestApp(&fakeMetadata{}, nil, &fakeAuth{}, &fakeDB{}, &fakeInsight{})
	res := doJSON(t, app, "GET", "/api/media/book/603", "", nil)
	require.Equal(t, fiber.StatusBadRequest, res.StatusCode)
}

func TestWatchlistRequiresSignIn(t *testing.T) {
	app := newTestApp(&fakeMetadata{}, nil, &fakeAuth{}, &fakeDB{}, &fakeInsight{})
	res := doJSON(t, app, "GET", "/api/watchlist", "", nil)
	require.Equal(t, fiber.StatusUnauthorized, res.StatusCode)
}

func TestSignInWatchlistSignOut(t *testing.T) {
	auth := &fakeAuth{identity: media.Identity{
		UserID:  "u1",
		Email:   "jane@example.com",
		IDToken: "id-token",
	}}
	db := &fakeDB{entries: []media.WatchlistEntry{
		{ID: "603", Kind: media.KindMovie, Title: "The Matrix"},
	}}
	app := newTestApp(&fakeMetadata{}, nil, auth, db, &fakeInsight{})

	res := doJSON(t, app, "POST", "/api/auth/signin", `{"email": "jane@example.com", "password": "secret"}`, nil)
	require.Equal(t, fiber.StatusOK, res.StatusCode)
	cookie := sessionCookie(t, res)
	require.Equal(t, "u1", gjson.Get(readBody(t, res), "userID").String())

	// Signed in: the watchlist is readable and cached per session.
	res = doJSON(t, app, "GET", "/api/watchlist", "", cookie)
	require.Equal(t, fiber.StatusOK, res.StatusCode)
	body := readBody(t, res)
	require.Equal(t, int64(1), gjson.Get(body, "#").Int())
	res = doJSON(t, app, "GET", "/api/watchlist", "", cookie)
	require.Equal(t, fiber.StatusOK, res.StatusCode)
	readBody(t, res)
	require.Equal(t, 1, db.listCalls)

	// A mutation invalidates the cached list.
	res = doJSON(t, app, "PUT", "/api/watchlist/680", `{"kind": "movie", "title": "Pulp Fiction"}`, cookie)
	require.Equal(t, fiber.StatusNoContent, res.StatusCode)
	res = doJSON(t, app, "GET", "/api/watchlist", "", cookie)
	require.Equal(t, fiber.StatusOK, res.StatusCode)
	body = readBody(t, res)
	require.Equal(t, int64(2), gjson.Get(body, "#").Int())
	require.Equal(t, 2, db.listCalls)

	// Sign-out drops the identity, the same session is anonymous again.
	res = doJSON(t, app, "POST", "/api/auth/signout", "", cookie)
	require.Equal(t, fiber.StatusNoContent, res.StatusCode)
	res = doJSON(t, app, "GET", "/api/watchlist", "", cookie)
	require.Equal(t, fiber.StatusUnauthorized, res.StatusCode)
}

func TestInsightsDisabled(t *testing.T) {
	app := newTestApp(&fakeMetadata{}, nil, &fakeAuth{}, &fakeDB{}, &fakeInsight{enabled: false})
	res := doJSON(t, app, "POST", "/api/media/movie/603/insights", "", nil)
	require.Equal(t, fiber.StatusServiceUnavailable, res.StatusCode)
}

func TestInsightsCachedPerSession(t *testing.T) {
	metadata := &fakeMetadata{details: media.Details{
		ID:       603,
		Kind:     media.KindMovie,
		Title:    "The Matrix",
		Overview: "A hacker discovers reality is a simulation.",
	}}
	insight := &fakeInsight{enabled: true, text: "A mind-bending classic."}
	app := newTestApp(metadata, nil, &fakeAuth{}, &fakeDB{}, insight)

	res := doJSON(t, app, "POST", "/api/media/movie/603/insights", "", nil)
	require.Equal(t, fiber.StatusOK, res.StatusCode)
	cookie := sessionCookie(t, res)
	require.Equal(t, "A mind-bending classic.", gjson.Get(readBody(t, res), "insight").String())

	res = doJSON(t, app, "POST", "/api/media/movie/603/insights", "", cookie)
	require.Equal(t, fiber.StatusOK, res.StatusCode)
	require.Equal(t, 1, insight.calls)
}

func TestSelectionEndpoints(t *testing.T) {
	app := newTestApp(&fakeMetadata{}, nil, &fakeAuth{}, &fakeDB{}, &fakeInsight{})

	res := doJSON(t, app, "PUT", "/api/selection/current_page", `{"value": "search"}`, nil)
	require.Equal(t, fiber.StatusNoContent, res.StatusCode)
	cookie := sessionCookie(t, res)

	res = doJSON(t, app, "GET", "/api/selection/current_page", "", cookie)
	require.Equal(t, fiber.StatusOK, res.StatusCode)
	body := readBody(t, res)
	require.Equal(t, "search", gjson.Get(body, "value").String())
	require.True(t, gjson.Get(body, "set").Bool())

	res = doJSON(t, app, "GET", "/api/selection/favorite_color", "", cookie)
	require.Equal(t, fiber.StatusBadRequest, res.StatusCode)
}

func TestUpstreamFailureIsRetryable(t *testing.T) {
	metadata := &fakeMetadata{err: context.DeadlineExceeded}
	app := newTestApp(metadata, nil, &fakeAuth{}, &fakeDB{}, &fakeInsight{})

	res := doJSON(t, app, "GET", "/api/trending", "", nil)
	require.Equal(t, fiber.StatusBadGateway, res.StatusCode)
	require.True(t, gjson.Get(readBody(t, res), "retryable").Bool())

	// A failed fetch must not poison the cache: once the service recovers,
	// the next request fetches fresh data.
	metadata.err = nil
	metadata.page = media.ResultPage{Page: 1, Items: []media.Item{{Title: "Sintel"}}}
	res = doJSON(t, app, "GET", "/api/trending", "", nil)
	require.Equal(t, fiber.StatusOK, res.StatusCode)
	require.Equal(t, "Sintel", gjson.Get(readBody(t, res), "items.0.title").String())
}

func TestHealth(t *testing.T) {
	app := newTestApp(&fakeMetadata{}, nil, &fakeAuth{}, &fakeDB{}, &fakeInsight{})
	res := doJSON(t, app, "GET", "/health", "", nil)
	require.Equal(t, fiber.StatusOK, res.StatusCode)
	require.Equal(t, "OK", readBody(t, res))
}

func TestStatus(t *testing.T) {
	app := newTestApp(&fakeMetadata{}, nil, &fakeAuth{}, &fakeDB{}, &fakeInsight{})
	res := doJSON(t, app, "GET", "/status", "", nil)
	require.Equal(t, fiber.StatusOK, res.StatusCode)
	body := readBody(t, res)
	require.True(t, gjson.Get(body, "caches.global").Exists())
	require.True(t, gjson.Get(body, "sessions").Exists())
}
