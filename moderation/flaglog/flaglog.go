// Audit log of flag dispatch outcomes, kept in a SQL database.
package flaglog

import (
	"context"
	"time"

	"gorm.io/gorm"
)

const (
	OutcomeFlagged        = "flagged"
	OutcomeAlreadyFlagged = "already_flagged"
	OutcomeFailed         = "failed"
)

type FlagRecord struct {
	ID        uint   `gorm:"primaryKey"`
	PostID    uint64 `gorm:"index"`
	Score     int
	Backend   string
	TxHash    string
	Outcome   string `gorm:"index"`
	Error     string
	CreatedAt time.Time
}

type Recorder interface {
	Record(ctx context.Context, rec *FlagRecord) error
	// most recent first
	Recent(ctx context.Context, limit int) ([]FlagRecord, error)
}

type SQLRecorder struct {
	db *gorm.DB
}

var _ Recorder = (*SQLRecorder)(nil)

func NewSQLRecorder(db *gorm.DB) (*SQLRecorder, error) {
	if err := db.AutoMigrate(&FlagRecord{}); err != nil {
		return nil, err
	}
	return &SQLRecorder{db: db}, nil
}

func (r *SQLRecorder) Record(ctx context.Context, rec *FlagRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *SQLRecorder) Recent(ctx context.Context, limit int) ([]FlagRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var out []FlagRecord
	err := r.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&out).Error
	return out, err
}
