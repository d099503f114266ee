package domain

import "time"

// QueueEntryStatus is the lifecycle state of a QueueEntry.
type QueueEntryStatus string

const (
	QueueEntryPending  QueueEntryStatus = "pending"
	QueueEntryInFlight QueueEntryStatus = "in-flight"
	QueueEntryFailed   QueueEntryStatus = "failed"
)

// QueueEntry is a unit of pending outbound-call work.
type QueueEntry struct {
	ID                  string
	ContactID           string
	Phone               string
	FirstName           string
	FullName            string
	Email               string
	FullAddress         string
	AttemptIndex        int
	Status              QueueEntryStatus
	ScheduledAt         time.Time
	CreatedAt           time.Time
	FirstAttemptAt      time.Time
	LastAttemptAt       *time.Time
	LastError           string
	CallOptionsBlob     []byte
	InitialSignedURL    string
	PastCallSummary     string
	OriginalConvID      string
	IsAbruptRetry       bool
}

// CustomData returns the free-form fields carried to the agent initiation
// frame, beyond the fixed set of named fields.
type CustomData map[string]any
