package telemetry

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-armctl/pkg/hub"
)

// handleStatus returns the run status
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.Status())
}

// handleRecords returns recent records, optionally limited by ?limit=N
func (s *Server) handleRecords(c *fiber.Ctx) error {
	limit := 0
	if q := c.Query("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be a non-negative integer",
			})
		}
		limit = n
	}

	records := s.Records(limit)
	return c.JSON(fiber.Map{
		"count":   len(records),
		"records": records,
	})
}

// handleTicksWS streams tick records until the client goes away
func (s *Server) handleTicksWS(c *websocket.Conn) {
	client, ok := hub.NewClient(s.ticks, c)
	if !ok {
		c.Close()
		return
	}
	client.Run()
}
