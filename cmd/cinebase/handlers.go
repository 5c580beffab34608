package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/cinebase/cinebase/pkg/media"
	"github.com/cinebase/cinebase/pkg/sessionstate"
)

// The handlers only need small slices of the client APIs, so they depend on
// interfaces and the concrete clients are injected in main. That's also what
// makes the handlers testable with fakes.

type metadataClient interface {
	Trending(ctx context.Context, page int) (media.ResultPage, error)
	Search(ctx context.Context, query string, page int) (media.ResultPage, error)
	Details(ctx context.Context, kind media.Kind, id int) (media.Details, error)
}

type awardsClient interface {
	Awards(ctx context.Context, imdbID string) (string, error)
}

type authClient interface {
	SignUp(ctx context.Context, email, password string) (media.Identity, error)
	SignIn(ctx context.Context, email, password string) (media.Identity, error)
	UpdateAccount(ctx context.Context, identity media.Identity, email, password string) (media.Identity, error)
}

type watchlistClient interface {
	InitProfile(ctx context.Context, identity media.Identity) error
	UpdateProfile(ctx context.Context, identity media.Identity, name string) error
	AddEntry(ctx context.Context, identity media.Identity, entry media.WatchlistEntry) error
	RemoveEntry(ctx context.Context, identity media.Identity, mediaID string) error
	ListEntries(ctx context.Context, identity media.Identity) ([]media.WatchlistEntry, error)
	ClearEntries(ctx context.Context, identity media.Identity) error
}

type insightClient interface {
	Enabled() bool
	Summarize(ctx context.Context, title, plot string) (string, error)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type profileResponse struct {
	UserID      string `json:"userID"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

func toProfileResponse(identity media.Identity) profileResponse {
	return profileResponse{
		UserID:      identity.UserID,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
	}
}

func createSignUpHandler(auth authClient, db watchlistClient, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req credentialsRequest
		if err := c.BodyParser(&req); err != nil || req.Email == "" || req.Password == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Email and password are required"})
		}
		identity, err := auth.SignUp(c.Context(), req.Email, req.Password)
		if err != nil {
			return sendUpstreamError(c, err, logger)
		}
		// A fresh account gets its database node right away so the first
		// watchlist read doesn't hit a missing path.
		if err = db.InitProfile(c.Context(), identity); err != nil {
			logger.Warn("Couldn't initialize profile for new account", zap.Error(err), zap.String("userID", identity.UserID))
		}
		store := sessionFromCtx(c)
		store.ClearOnSignOut()
		store.SetIdentity(&identity)
		return c.Status(fiber.StatusCreated).JSON(toProfileResponse(identity))
	}
}

func createSignInHandler(auth authClient, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req credentialsRequest
		if err := c.BodyParser(&req); err != nil || req.Email == "" || req.Password == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Email and password are required"})
		}
		identity, err := auth.SignIn(c.Context(), req.Email, req.Password)
		if err != nil {
			return sendUpstreamError(c, err, logger)
		}
		store := sessionFromCtx(c)
		// Drop any state left over from a previous user of this session.
		store.ClearOnSignOut()
		store.SetIdentity(&identity)
		return c.JSON(toProfileResponse(identity))
	}
}

func createSignOutHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		sessionFromCtx(c).ClearOnSignOut()
		return c.SendStatus(fiber.StatusNoContent)
	}
}

func createTrendingHandler(metadata metadataClient, cacheAge time.Duration, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		page, err := strconv.Atoi(c.Query("page", "1"))
		if err != nil || page < 1 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid page"})
		}
		store := sessionFromCtx(c)
		rCtx := c.Context()
		pageIface, err := store.GetOrFetch("trending:"+strconv.Itoa(page), cacheAge, func() (interface{}, error) {
			return metadata.Trending(rCtx, page)
		})
		if err != nil {
			return sendUpstreamError(c, err, logger)
		}
		store.SetSelection(sessionstate.FieldCurrentPage, "trending")
		return c.JSON(pageIface.(media.ResultPage))
	}
}

func createSearchHandler(metadata metadataClient, cacheAge time.Duration, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		query := c.Query("query", "")
		if query == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing query"})
		}
		page, err := strconv.Atoi(c.Query("page", "1"))
		if err != nil || page < 1 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid page"})
		}
		store := sessionFromCtx(c)
		rCtx := c.Context()
		pageIface, err := store.GetOrFetch(fmt.Sprintf("search:%v:%v", query, page), cacheAge, func() (interface{}, error) {
			return metadata.Search(rCtx, query, page)
		})
		if err != nil {
			return sendUpstreamError(c, err, logger)
		}
		store.SetSelection(sessionstate.FieldCurrentPage, "search")
		return c.JSON(pageIface.(media.ResultPage))
	}
}

func createDetailsHandler(metadata metadataClient, awards awardsClient, cacheAge time.Duration, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		kind, id, ok := parseMediaParams(c)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid media kind or ID"})
		}
		store := sessionFromCtx(c)
		rCtx := c.Context()
		cacheKey := fmt.Sprintf("details:%v:%v", kind, id)
		detailsIface, err := store.GetOrFetch(cacheKey, cacheAge, func() (interface{}, error) {
			details, err := metadata.Details(rCtx, kind, id)
			if err != nil {
				return nil, err
			}
			// Awards are a nice-to-have. A missing OMDb record or a flaky
			// OMDb response must not break the details view.
			if awards != nil && details.IMDBid != "" {
				awardsText, err := awards.Awards(rCtx, details.IMDBid)
				if err != nil && !errors.Is(err, media.ErrNotFound) {
					logger.Warn("Couldn't fetch awards", zap.Error(err), zap.String("imdbID", details.IMDBid))
				} else {
					details.Awards = awardsText
				}
			}
			return details, nil
		})
		if err != nil {
			return sendUpstreamError(c, err, logger)
		}
		store.SetSelection(sessionstate.FieldSelectedMedia, fmt.Sprintf("%v:%v", kind, id))
		return c.JSON(detailsIface.(media.Details))
	}
}

func createInsightsHandler(metadata metadataClient, insight insightClient, detailsCacheAge, cacheAge time.Duration, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if insight == nil || !insight.Enabled() {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "AI insights are disabled"})
		}
		kind, id, ok := parseMediaParams(c)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid media kind or ID"})
		}
		store := sessionFromCtx(c)
		rCtx := c.Context()
		// The summary needs title and plot, which come from the (usually
		// already cached) details entry.
		detailsIface, err := store.GetOrFetch(fmt.Sprintf("details:%v:%v", kind, id), detailsCacheAge, func() (interface{}, error) {
			return metadata.Details(rCtx, kind, id)
		})
		if err != nil {
			return sendUpstreamError(c, err, logger)
		}
		details := detailsIface.(media.Details)

		insightKey := fmt.Sprintf("insight:%v:%v", kind, id)
		insightIface, err := store.GetOrFetchUser(insightKey, cacheAge, func() (interface{}, error) {
			return insight.Summarize(rCtx, details.Title, details.Overview)
		})
		if err != nil {
			return sendUpstreamError(c, err, logger)
		}
		store.SetSelection(sessionstate.FieldLastAIResult, insightKey)
		return c.JSON(fiber.Map{"insight": insightIface.(string)})
	}
}

func createWatchlistHandler(db watchlistClient, cacheAge time.Duration, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		store := sessionFromCtx(c)
		identity := store.Identity()
		rCtx := c.Context()
		entriesIface, err := store.GetOrFetchUser("watchlist", cacheAge, func() (interface{}, error) {
			return db.ListEntries(rCtx, *identity)
		})
		if err != nil {
			return sendUpstreamError(c, err, logger)
		}
		return c.JSON(entriesIface.([]media.WatchlistEntry))
	}
}

type watchlistAddRequest struct {
	Kind   string `json:"kind"`
	Title  string `json:"title"`
	Poster string `json:"poster"`
}

func createWatchlistAddHandler(db watchlistClient, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req watchlistAddRequest
		if err := c.BodyParser(&req); err != nil || req.Title == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Title is required"})
		}
		kind, ok := media.ParseKind(req.Kind)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid media kind"})
		}
		store := sessionFromCtx(c)
		entry := media.WatchlistEntry{
			ID:     c.Params("id"),
			Kind:   kind,
			Title:  req.Title,
			Poster: req.Poster,
		}
		if err := db.AddEntry(c.Context(), *store.Identity(), entry); err != nil {
			return sendUpstreamError(c, err, logger)
		}
		// The cached list is stale now.
		store.InvalidateUser("watchlist")
		return c.SendStatus(fiber.StatusNoContent)
	}
}

func createWatchlistRemoveHandler(db watchlistClient, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		store := sessionFromCtx(c)
		if err := db.RemoveEntry(c.Context(), *store.Identity(), c.Params("id")); err != nil {
			return sendUpstreamError(c, err, logger)
		}
		store.InvalidateUser("watchlist")
		return c.SendStatus(fiber.StatusNoContent)
	}
}

func createWatchlistClearHandler(db watchlistClient, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		store := sessionFromCtx(c)
		if err := db.ClearEntries(c.Context(), *store.Identity()); err != nil {
			return sendUpstreamError(c, err, logger)
		}
		store.InvalidateUser("watchlist")
		return c.SendStatus(fiber.StatusNoContent)
	}
}

func createAccountHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(toProfileResponse(*sessionFromCtx(c).Identity()))
	}
}

func createAccountUpdateHandler(auth authClient, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req credentialsRequest
		if err := c.BodyParser(&req); err != nil || (req.Email == "" && req.Password == "") {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Nothing to update"})
		}
		store := sessionFromCtx(c)
		updated, err := auth.UpdateAccount(c.Context(), *store.Identity(), req.Email, req.Password)
		if err != nil {
			return sendUpstreamError(c, err, logger)
		}
		store.SetIdentity(&updated)
		return c.JSON(toProfileResponse(updated))
	}
}

type profileUpdateRequest struct {
	Name string `json:"name"`
}

func createProfileUpdateHandler(db watchlistClient, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req profileUpdateRequest
		if err := c.BodyParser(&req); err != nil || req.Name == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Name is required"})
		}
		store := sessionFromCtx(c)
		identity := *store.Identity()
		if err := db.UpdateProfile(c.Context(), identity, req.Name); err != nil {
			return sendUpstreamError(c, err, logger)
		}
		identity.DisplayName = req.Name
		store.SetIdentity(&identity)
		return c.JSON(toProfileResponse(identity))
	}
}

type selectionRequest struct {
	Value string `json:"value"`
}

func createSelectionGetHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		store := sessionFromCtx(c)
		value, found, err := store.Selection(sessionstate.Field(c.Params("field")))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"value": value, "set": found})
	}
}

func createSelectionSetHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req selectionRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid body"})
		}
		store := sessionFromCtx(c)
		if err := store.SetSelection(sessionstate.Field(c.Params("field")), req.Value); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

func createHealthHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendString("OK")
	}
}

func createStatusHandler(goCaches map[string]*gocache.Cache, manager *sessionstate.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		caches := fiber.Map{}
		for name, cache := range goCaches {
			caches[name] = fiber.Map{"items": cache.ItemCount()}
		}
		return c.JSON(fiber.Map{
			"sessions": manager.Count(),
			"caches":   caches,
		})
	}
}

func parseMediaParams(c *fiber.Ctx) (media.Kind, int, bool) {
	kind, ok := media.ParseKind(c.Params("kind"))
	if !ok {
		return "", 0, false
	}
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil || id < 1 {
		return "", 0, false
	}
	return kind, id, true
}

// sendUpstreamError maps errors from the external services to the right
// status code. Auth failures are the caller's problem, a missing record is an
// empty state, everything else is a retryable upstream failure.
func sendUpstreamError(c *fiber.Ctx, err error, logger *zap.Logger) error {
	if media.IsAuthError(err) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}
	if errors.Is(err, media.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Not found"})
	}
	logger.Error("Upstream request failed", zap.Error(err), zap.String("path", c.Path()))
	return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
		"error":     "Upstream service unavailable",
		"retryable": true,
	})
}
