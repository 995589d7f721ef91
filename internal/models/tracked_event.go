package models

import "time"

// TrackedEvent is one entry of the durable tracked set: the ids of events that
// are published and not yet confirmed expired. The primary key gives the set
// native deduplication; inserts and deletes are idempotent by construction.
type TrackedEvent struct {
	EventID   uint      `gorm:"primaryKey" json:"event_id"`
	CreatedAt time.Time `json:"created_at"`
}
