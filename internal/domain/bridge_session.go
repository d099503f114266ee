package domain

// BridgeContext is the per-call context handed to the AI agent at stream
// open, and echoed into the TwiML stream-connect document.
type BridgeContext struct {
	CallID          string
	ContactID       string
	FirstName       string
	FullName        string
	Email           string
	Phone           string
	FullAddress     string
	Availability    string
	IsAbruptRetry   bool
	PastCallSummary string
	OriginalConvID  string
}

// DynamicVariables flattens the context into the map shape the agent
// initiation frame expects.
func (c BridgeContext) DynamicVariables() map[string]any {
	vars := map[string]any{
		"firstName":   c.FirstName,
		"fullName":    c.FullName,
		"email":       c.Email,
		"phone":       c.Phone,
		"contactId":   c.ContactID,
		"fullAddress": c.FullAddress,
	}
	if c.Availability != "" {
		vars["availability"] = c.Availability
	}
	return vars
}

// BridgeSession is the transient, in-memory pairing of a carrier media
// stream with an AI agent stream, bounded by the shorter-lived of the two.
type BridgeSession struct {
	StreamSID string
	CallID    string
	Context   BridgeContext
}
