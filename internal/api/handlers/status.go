package handlers

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/acme/outbound-voice-orchestrator/internal/domain"
	"github.com/acme/outbound-voice-orchestrator/internal/statusingress"
)

// callStatus handles the carrier's status callback. It always acknowledges
// with 200 once the callback is well-formed; classification and retry
// scheduling run to completion before the response is sent.
func (h *HandlerSet) callStatus(ctx *fiber.Ctx) error {
	callSid := ctx.FormValue("CallSid")
	callStatus := ctx.FormValue("CallStatus")
	if callSid == "" || callStatus == "" {
		return ctx.Status(http.StatusBadRequest).SendString("missing CallSid or CallStatus")
	}

	ev := statusingress.StatusEvent{
		CallID:     callSid,
		Status:     domain.CallStatus(strings.ToLower(callStatus)),
		AnsweredBy: domain.AnsweredBy(strings.ToLower(ctx.FormValue("AnsweredBy"))),
		Phone:      ctx.FormValue("To"),
	}

	if err := h.ingress.Process(ctx.Context(), ev); err != nil {
		h.logger.Warn("call-status processing failed")
	}

	return ctx.Status(http.StatusOK).SendString("OK")
}
