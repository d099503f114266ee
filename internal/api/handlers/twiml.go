package handlers

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

type twimlParameter struct {
	XMLName xml.Name `xml:"Parameter"`
	Name    string   `xml:"name,attr"`
	Value   string   `xml:"value,attr"`
}

type twimlStream struct {
	XMLName    xml.Name         `xml:"Stream"`
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlConnect struct {
	XMLName xml.Name    `xml:"Connect"`
	Stream  twimlStream `xml:"Stream"`
}

type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Connect twimlConnect `xml:"Connect"`
}

// outboundCallTwiML instructs the carrier to open a media stream back to
// this service, carrying the per-call context parameters the bridge reads
// out of the stream's start event.
func (h *HandlerSet) outboundCallTwiML(ctx *fiber.Ctx) error {
	params := []twimlParameter{
		{Name: "firstName", Value: ctx.Query("firstName")},
		{Name: "fullName", Value: ctx.Query("fullName")},
		{Name: "email", Value: ctx.Query("email")},
		{Name: "phone", Value: ctx.Query("phone")},
		{Name: "contactId", Value: ctx.Query("contactId")},
		{Name: "fullAddress", Value: ctx.Query("fullAddress")},
		{Name: "callId", Value: ctx.FormValue("CallSid")},
	}

	if ctx.Query("isAbruptRetry") == "true" {
		params = append(params,
			twimlParameter{Name: "isAbruptRetry", Value: "true"},
			twimlParameter{Name: "pastCallSummary", Value: ctx.Query("pastCallSummary")},
			twimlParameter{Name: "originalConvId", Value: ctx.Query("originalConvId")},
		)
	}

	host := strings.TrimSuffix(h.cfg.App.PublicURL, "/")
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	streamURL := fmt.Sprintf("wss://%s%s/outgoing/outbound-media-stream", host, h.cfg.App.RoutePrefix)

	doc := twimlResponse{
		Connect: twimlConnect{
			Stream: twimlStream{
				URL:        streamURL,
				Parameters: params,
			},
		},
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return ctx.Status(http.StatusInternalServerError).SendString("failed to build stream-connect document")
	}

	ctx.Set(fiber.HeaderContentType, fiber.MIMETextXMLCharsetUTF8)
	return ctx.Status(http.StatusOK).SendString(xml.Header + string(body))
}
