package handlers

import (
	"crypto/rand"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/oklog/ulid/v2"

	"github.com/acme/outbound-voice-orchestrator/internal/domain"
)

// enqueueOutboundCallRequest is the canonical, normalized shape of an enqueue
// request. Its UnmarshalJSON accepts the several synonyms callers send per
// field instead of forcing every caller onto one exact casing/name.
type enqueueOutboundCallRequest struct {
	Phone       string
	ContactID   string
	FirstName   string
	FullName    string
	Email       string
	FullAddress string
	CustomData  map[string]any
}

// enqueueOutboundCallRequestAliases is the wire shape: every accepted
// synonym for each canonical field, all optional.
type enqueueOutboundCallRequestAliases struct {
	Phone       string `json:"phone"`
	PhoneNumber string `json:"phoneNumber"`
	PhoneCap    string `json:"Phone"`
	To          string `json:"to"`

	ContactID   string `json:"contact_id"`
	ContactIDC  string `json:"contactId"`
	ID          string `json:"Id"`

	FirstName  string `json:"first_name"`
	FirstNameC string `json:"firstName"`

	FullName  string `json:"full_name"`
	FullNameC string `json:"fullName"`

	Email  string `json:"email"`
	EmailC string `json:"Email"`

	FullAddress  string `json:"full_address"`
	FullAddressC string `json:"fullAddress"`

	CustomData  map[string]any `json:"customData"`
	CustomDataC map[string]any `json:"custom_data"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// UnmarshalJSON normalizes the documented synonym set down to the canonical
// field names; callers never need per-field fallbacks at the call site.
func (r *enqueueOutboundCallRequest) UnmarshalJSON(data []byte) error {
	var a enqueueOutboundCallRequestAliases
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	r.Phone = firstNonEmpty(a.Phone, a.PhoneNumber, a.PhoneCap, a.To)
	r.ContactID = firstNonEmpty(a.ContactID, a.ContactIDC, a.ID)
	r.FirstName = firstNonEmpty(a.FirstName, a.FirstNameC)
	r.FullName = firstNonEmpty(a.FullName, a.FullNameC)
	r.Email = firstNonEmpty(a.Email, a.EmailC)
	r.FullAddress = firstNonEmpty(a.FullAddress, a.FullAddressC)
	if a.CustomData != nil {
		r.CustomData = a.CustomData
	} else {
		r.CustomData = a.CustomDataC
	}
	return nil
}

var entropySource = ulid.Monotonic(rand.Reader, 0)

func newQueueID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropySource).String()
}

func (h *HandlerSet) enqueueOutboundCall(ctx *fiber.Ctx) error {
	var req enqueueOutboundCallRequest
	if err := ctx.BodyParser(&req); err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "invalid request body"})
	}

	if req.Phone == "" || req.ContactID == "" {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "phone and contact_id are required"})
	}

	now := time.Now().UTC()
	entry := &domain.QueueEntry{
		ID:             newQueueID(),
		ContactID:      req.ContactID,
		Phone:          req.Phone,
		FirstName:      req.FirstName,
		FullName:       req.FullName,
		Email:          req.Email,
		FullAddress:    req.FullAddress,
		AttemptIndex:   0,
		Status:         domain.QueueEntryPending,
		ScheduledAt:    now,
		CreatedAt:      now,
		FirstAttemptAt: now,
	}

	if err := h.queue.Insert(ctx.Context(), entry); err != nil {
		h.logger.Error("enqueue outbound call failed")
		return translateError(err)
	}

	return ctx.Status(http.StatusAccepted).JSON(fiber.Map{"success": true, "queueId": entry.ID})
}
