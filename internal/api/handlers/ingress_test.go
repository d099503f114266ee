package handlers

import (
	"encoding/json"
	"testing"
)

func TestEnqueueOutboundCallRequestNormalizesCanonicalNames(t *testing.T) {
	var req enqueueOutboundCallRequest
	body := []byte(`{"phone":"+15551230000","contact_id":"contact-1","first_name":"Ada"}`)
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.Phone != "+15551230000" || req.ContactID != "contact-1" || req.FirstName != "Ada" {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestEnqueueOutboundCallRequestNormalizesCamelCaseAliases(t *testing.T) {
	var req enqueueOutboundCallRequest
	body := []byte(`{"phoneNumber":"+15551230000","contactId":"contact-2","firstName":"Ada","fullName":"Ada Lovelace","fullAddress":"221B Baker St"}`)
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.Phone != "+15551230000" {
		t.Fatalf("expected phoneNumber alias to normalize to Phone, got %q", req.Phone)
	}
	if req.ContactID != "contact-2" {
		t.Fatalf("expected contactId alias to normalize to ContactID, got %q", req.ContactID)
	}
	if req.FullName != "Ada Lovelace" || req.FullAddress != "221B Baker St" {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestEnqueueOutboundCallRequestNormalizesIdAndToAliases(t *testing.T) {
	var req enqueueOutboundCallRequest
	body := []byte(`{"to":"+15559876543","Id":"contact-3"}`)
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.Phone != "+15559876543" {
		t.Fatalf("expected to alias to normalize to Phone, got %q", req.Phone)
	}
	if req.ContactID != "contact-3" {
		t.Fatalf("expected Id alias to normalize to ContactID, got %q", req.ContactID)
	}
}

func TestEnqueueOutboundCallRequestCanonicalTakesPrecedenceOverAlias(t *testing.T) {
	var req enqueueOutboundCallRequest
	body := []byte(`{"phone":"+15550000000","phoneNumber":"+19999999999","contact_id":"contact-4","contactId":"other"}`)
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.Phone != "+15550000000" || req.ContactID != "contact-4" {
		t.Fatalf("expected canonical field names to win over aliases, got %+v", req)
	}
}
