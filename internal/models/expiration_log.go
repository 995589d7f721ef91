package models

import "gorm.io/datatypes"

// ExpirationLog records one canonical expired event for auditing. A row is
// written per emission, so duplicate-safe paths (sweep re-detection, manual
// triggers) remain visible after the fact.
type ExpirationLog struct {
	BaseModel

	EventID  uint           `gorm:"index" json:"event_id"`
	Title    string         `gorm:"size:256" json:"title"`
	EndTime  string         `gorm:"column:end_datetime;size:64" json:"end_datetime"`
	Via      string         `gorm:"size:16" json:"via"`
	Snapshot datatypes.JSON `json:"snapshot,omitempty"`
}
