// Package model defines the core data types used throughout the skycourier
// scheduling system.
package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/skycourier/skycourier/internal/domain/duetime"
)

// ScheduleStatus represents the current status of a schedule.
type ScheduleStatus string

const (
	// ScheduleStatusPending indicates a schedule is waiting for its due time.
	ScheduleStatusPending ScheduleStatus = "pending"
	// ScheduleStatusSent indicates the message was delivered. Terminal.
	ScheduleStatusSent ScheduleStatus = "sent"
	// ScheduleStatusCancelled indicates the schedule was cancelled before delivery. Terminal.
	ScheduleStatusCancelled ScheduleStatus = "cancelled"
	// ScheduleStatusFailed indicates delivery failed past the attempt cap. Terminal.
	ScheduleStatusFailed ScheduleStatus = "failed"
)

// Valid returns true if the ScheduleStatus is valid.
func (s ScheduleStatus) Valid() bool {
	return s == ScheduleStatusPending || s == ScheduleStatusSent ||
		s == ScheduleStatusCancelled || s == ScheduleStatusFailed
}

// Terminal returns true for statuses that never transition again.
func (s ScheduleStatus) Terminal() bool {
	return s.Valid() && s != ScheduleStatusPending
}

// ErrScheduleNotFound is returned when a schedule is not found.
var ErrScheduleNotFound = errors.New("schedule not found")

// Schedule represents one registered future delivery. DueAt is kept exactly
// as submitted (absolute instant or zone-naive civil time); resolution against
// the declared zone happens in the duetime package at evaluation time.
type Schedule struct {
	ID           string         `json:"id"                   db:"id"`
	Recipient    string         `json:"recipient"            db:"recipient"`
	Subject      string         `json:"subject"              db:"subject"`
	DueAt        string         `json:"due_at"               db:"due_at"`
	Timezone     string         `json:"timezone"             db:"timezone"`
	Latitude     float64        `json:"latitude"             db:"latitude"`
	Longitude    float64        `json:"longitude"            db:"longitude"`
	Status       ScheduleStatus `json:"status"               db:"status"`
	AttemptCount int            `json:"attempt_count"        db:"attempt_count"`
	LastError    *string        `json:"last_error,omitempty" db:"last_error"`
	CreatedAt    time.Time      `json:"created_at"           db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"           db:"updated_at"`
}

// Default coordinates used when a request omits a location.
const (
	DefaultLatitude  = 25.276987
	DefaultLongitude = 55.296249
)

// CreateScheduleRequest represents a request to register a new delivery.
// Latitude and longitude accept both JSON numbers and decimal strings, since
// bulk imports carry coordinates as text. Coordinates left absent (or null)
// pick up the default location in Normalize; the zero value is never treated
// as a submitted position.
type CreateScheduleRequest struct {
	Recipient string      `json:"recipient"`
	Subject   string      `json:"subject"`
	DueAt     string      `json:"due_at"`
	Timezone  string      `json:"timezone,omitempty"`
	Latitude  *Coordinate `json:"latitude,omitempty"`
	Longitude *Coordinate `json:"longitude,omitempty"`
}

// Coordinate is a float64 that also unmarshals from a quoted decimal string.
type Coordinate float64

// NewCoordinate returns a Coordinate pointer, for building requests in code.
func NewCoordinate(v float64) *Coordinate {
	c := Coordinate(v)
	return &c
}

// UnmarshalJSON implements json.Unmarshaler for Coordinate.
func (c *Coordinate) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	s = strings.Trim(s, `"`)
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("invalid coordinate %q", s)
	}
	*c = Coordinate(v)
	return nil
}

// Normalize fills defaults the way the creation interface documents them:
// a missing zone means UTC, missing coordinates mean the default location.
func (r *CreateScheduleRequest) Normalize() {
	r.Recipient = strings.TrimSpace(r.Recipient)
	r.Subject = strings.TrimSpace(r.Subject)
	r.DueAt = strings.TrimSpace(r.DueAt)
	r.Timezone = strings.TrimSpace(r.Timezone)
	if r.Timezone == "" {
		r.Timezone = "UTC"
	}
	if r.Latitude == nil {
		r.Latitude = NewCoordinate(DefaultLatitude)
	}
	if r.Longitude == nil {
		r.Longitude = NewCoordinate(DefaultLongitude)
	}
}

// Coords returns the effective coordinates, falling back to the default
// location for any field the caller never supplied.
func (r *CreateScheduleRequest) Coords() (lat, lon float64) {
	lat, lon = DefaultLatitude, DefaultLongitude
	if r.Latitude != nil {
		lat = float64(*r.Latitude)
	}
	if r.Longitude != nil {
		lon = float64(*r.Longitude)
	}
	return lat, lon
}

// Validate rejects malformed schedules at creation time so the dispatcher
// never has to deal with an unparseable due time or zone.
func (r *CreateScheduleRequest) Validate() error {
	if r.Recipient == "" {
		return errors.New("recipient is required")
	}
	if !strings.Contains(r.Recipient, "@") {
		return fmt.Errorf("recipient %q is not a mail address", r.Recipient)
	}
	if r.Subject == "" {
		return errors.New("subject is required")
	}
	if r.DueAt == "" {
		return errors.New("due time is required")
	}
	if _, err := duetime.Resolve(r.DueAt, r.Timezone); err != nil {
		return fmt.Errorf("invalid due time: %w", err)
	}
	lat, lon := r.Coords()
	if lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %v out of range", lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("longitude %v out of range", lon)
	}
	return nil
}

// PendingCursor marks a position in the pending scan, keyed on insertion
// order. The zero value starts from the beginning; a dispatch pass advances
// it page by page until the pending set is exhausted, so a backlog larger
// than one page can never hide a due schedule.
type PendingCursor struct {
	CreatedAt time.Time
	ID        string
}

// ScheduleListOptions controls pagination for schedule listings.
type ScheduleListOptions struct {
	Status ScheduleStatus
	Limit  int
	Offset int
}

// RecordFailureParams groups parameters for recording a failed delivery
// attempt against a pending schedule.
type RecordFailureParams struct {
	ID          string
	Reason      string
	MaxAttempts int
}
