package httpapi

import (
	"errors"
	"strconv"
	"time"

	"github.com/pvzzle/walletfeed/internal/metrics"

	"github.com/gofiber/fiber/v2"
)

// instrument records request count and latency per matched route.
func (s *Server) instrument(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	status := c.Response().StatusCode()
	if err != nil {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		} else {
			status = fiber.StatusInternalServerError
		}
	}

	route := c.Route().Path
	method := c.Method()
	metrics.HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	metrics.HTTPRequestDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	return err
}
