package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/landrop/server/pkg/logger"
)

// RequestLogger emits one structured line per request. WebSocket upgrades are
// skipped; their lifetime is logged by the sync layer.
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Path() == "/ws" {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()

		fields := map[string]interface{}{
			"method":   c.Method(),
			"path":     c.Path(),
			"status":   c.Response().StatusCode(),
			"duration": time.Since(start).String(),
			"ip":       c.IP(),
		}
		if err != nil {
			fields["error"] = err
		}

		if c.Response().StatusCode() >= fiber.StatusInternalServerError {
			logger.Error("http_request", fields)
		} else {
			logger.Info("http_request", fields)
		}
		return err
	}
}
