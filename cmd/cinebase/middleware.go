package main

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/cinebase/cinebase/pkg/sessionstate"
)

const sessionCookieName = "cb_session"

// createSessionMiddleware looks up the browser session for the request's
// session cookie and puts its state store into the request locals. If the
// cookie is missing, or the session it names has expired, a fresh session is
// created and a new cookie is set.
func createSessionMiddleware(manager *sessionstate.Manager, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sessionID := c.Cookies(sessionCookieName)
		var store *sessionstate.Store
		if sessionID != "" {
			store, _ = manager.Session(sessionID)
		}
		if store == nil {
			sessionID, store = manager.Create()
			c.Cookie(&fiber.Cookie{
				Name:     sessionCookieName,
				Value:    sessionID,
				HTTPOnly: true,
				SameSite: "Lax",
			})
		}
		c.Locals("sessionID", sessionID)
		c.Locals("session", store)
		return c.Next()
	}
}

// createRequireSignInMiddleware rejects requests whose session carries no
// signed-in identity. Used for the watchlist and account endpoints, which are
// meaningless without one.
func createRequireSignInMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		store := sessionFromCtx(c)
		if store.Identity() == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Not signed in",
			})
		}
		return c.Next()
	}
}

func createLoggingMiddleware(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		duration := time.Since(start).Milliseconds()
		logger.Info("Handled request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Int64("durationMs", duration))
		return err
	}
}

// sessionFromCtx returns the session state store that the session middleware
// put into the request locals.
func sessionFromCtx(c *fiber.Ctx) *sessionstate.Store {
	return c.Locals("session").(*sessionstate.Store)
}
