package model

import (
	"encoding/json"
	"time"
)

// DeliveryLogEntry is the immutable record written once per successful send.
// Weather holds the enrichment payload exactly as it was rendered into the
// message, so a log row reconstructs the delivery without refetching anything.
type DeliveryLogEntry struct {
	ID         string          `json:"id"          db:"id"`
	ScheduleID string          `json:"schedule_id" db:"schedule_id"`
	Recipient  string          `json:"recipient"   db:"recipient"`
	Subject    string          `json:"subject"     db:"subject"`
	Body       string          `json:"body"        db:"body"`
	Weather    json.RawMessage `json:"weather"     db:"weather"`
	SentAt     time.Time       `json:"sent_at"     db:"sent_at"`
}
