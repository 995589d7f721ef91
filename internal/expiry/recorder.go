package expiry

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/internal/models"
	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/pkg/logger"
)

// Recorder persists one audit row per canonical expired event, keeping
// duplicate-safe paths (sweep re-detection, manual triggers) visible after the
// fact.
type Recorder struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewRecorder constructs the recorder and subscribes it to the canonical
// expired event.
func NewRecorder(db *gorm.DB, bus *Bus) *Recorder {
	r := &Recorder{
		db:  db,
		log: logger.WithModule("expiry.recorder"),
	}

	bus.SubscribeExpired(r.handleExpired)

	return r
}

func (r *Recorder) handleExpired(ctx context.Context, ev Expired) {
	row := models.ExpirationLog{
		EventID: ev.EventID,
		Via:     ev.Via,
	}

	if ev.Event != nil {
		row.Title = ev.Event.Title
		row.EndTime = ev.Event.EndTime
		if data, err := json.Marshal(ev.Event); err == nil {
			row.Snapshot = datatypes.JSON(data)
		}
	}

	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		r.log.Warn("failed to record expiration", zap.Uint("event_id", ev.EventID), zap.Error(err))
	}
}
