package models

import (
	"strings"
	"time"
)

// Lifecycle statuses an event can hold. Only published events are schedulable.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusTrashed   = "trashed"

	// StatusDeleted is never stored; it is the transition target reported to
	// lifecycle listeners when a row is about to be permanently removed.
	StatusDeleted = "deleted"
)

// KindEvent is the only kind the expiry machinery operates on. Rows of any
// other kind are ignored during revalidation and removed from the tracked set
// by the sweep.
const KindEvent = "event"

// EndTimeLayout is the storage format of the raw end datetime attribute.
const EndTimeLayout = "2006-01-02 15:04:05"

// Event is a schedulable item with a lifecycle status and an optional end
// datetime. The end datetime is stored as the raw string supplied by the
// caller; a missing or malformed value is an expected condition, not an error.
type Event struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Kind      string    `gorm:"size:32;index;default:event" json:"kind"`
	Title     string    `gorm:"size:256" json:"title"`
	Status    string    `gorm:"size:32;index;default:draft" json:"status"`
	EndTime   string    `gorm:"column:end_datetime;size:64" json:"end_datetime"`
	Timezone  string    `gorm:"size:64" json:"timezone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Location resolves the event's timezone, defaulting to UTC when the value is
// missing or not a valid IANA name.
func (e *Event) Location() *time.Location {
	name := strings.TrimSpace(e.Timezone)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParseEndTime parses the raw end datetime in the event's timezone. The error
// is only meaningful as a signal that no valid end time exists.
func (e *Event) ParseEndTime() (time.Time, error) {
	raw := strings.TrimSpace(e.EndTime)
	return time.ParseInLocation(EndTimeLayout, raw, e.Location())
}

// HasEnded is the authoritative predicate for "this event's end time has
// passed". It owns the timezone handling so callers never compare the raw
// string against a clock themselves. Events without a parseable end time have
// not ended.
func (e *Event) HasEnded(now time.Time) bool {
	end, err := e.ParseEndTime()
	if err != nil {
		return false
	}
	return !end.After(now)
}

// IsSchedulable reports whether the event qualifies for expiry scheduling at
// all: right kind and currently published.
func (e *Event) IsSchedulable() bool {
	return e.Kind == KindEvent && e.Status == StatusPublished
}
