package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/nile-pay/nile_pay/internal/metrics"
)

// Metrics records request counts and latency labelled by matched route.
func Metrics(m *metrics.HTTP) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
		m.Observe(c.Method(), c.Route().Path, strconv.Itoa(status), time.Since(start))
		return err
	}
}
