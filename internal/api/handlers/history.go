package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
)

// callHistory is the admin/observability surface for the best-effort Scylla
// archive: it reads back up to limit rows of a single day's bucket. It
// is unavailable when Scylla is disabled, matching the ambient-service-
// degradation policy.
func (h *HandlerSet) callHistory(ctx *fiber.Ctx) error {
	if h.archive == nil {
		return ctx.Status(http.StatusServiceUnavailable).JSON(fiber.Map{
			"success": false, "error": "call history archive is disabled",
		})
	}

	day := time.Now().UTC()
	if raw := ctx.Query("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
				"success": false, "error": "date must be YYYY-MM-DD",
			})
		}
		day = parsed
	}

	limit := 200
	if raw := ctx.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	rows, err := h.archive.ListByBucket(ctx.Context(), day, limit)
	if err != nil {
		h.logger.Error("call history lookup failed")
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{"success": true, "calls": rows})
}
