package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CachingMiddleware sets Cache-Control headers on GET responses based on endpoint.
// Handlers that set their own header win.
func CachingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		if c.Method() != fiber.MethodGet {
			return err
		}
		if existing := c.GetRespHeader(fiber.HeaderCacheControl); existing != "" {
			return err
		}
		if c.Response().StatusCode() >= 400 {
			return err
		}

		path := c.Path()
		var ttl string

		switch {
		case path == "/v1/health" || path == "/v1/ready":
			ttl = "public, max-age=10"

		case path == "/metrics", path == "/graphql":
			ttl = "no-cache"

		case strings.HasPrefix(path, "/docs"):
			ttl = "public, max-age=3600"

		// Paths grow while an entity moves; only closed days are stable.
		case strings.HasSuffix(path, "/path"), strings.HasSuffix(path, "/status"),
			strings.HasSuffix(path, "/fixes/latest"):
			ttl = "no-store"

		case strings.HasSuffix(path, "/dates"):
			ttl = "private, max-age=60"

		case strings.HasPrefix(path, "/v1/entities/"):
			ttl = "private, max-age=15"
		}

		if ttl != "" {
			c.Set(fiber.HeaderCacheControl, ttl)
		}

		return err
	}
}
