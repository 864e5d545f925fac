package cursorstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AgentCursor struct {
	Name      string `gorm:"primaryKey"`
	Cursor    uint64
	UpdatedAt time.Time
}

// One row per agent name in the agent_cursors table.
type SQLCursorStore struct {
	db   *gorm.DB
	name string
}

var _ CursorStore = (*SQLCursorStore)(nil)

func NewSQLCursorStore(db *gorm.DB, name string) (*SQLCursorStore, error) {
	if err := db.AutoMigrate(&AgentCursor{}); err != nil {
		return nil, err
	}
	return &SQLCursorStore{db: db, name: name}, nil
}

func (s *SQLCursorStore) ReadCursor(ctx context.Context) (uint64, bool, error) {
	var row AgentCursor
	err := s.db.WithContext(ctx).Where("name = ?", s.name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return row.Cursor, true, nil
}

func (s *SQLCursorStore) WriteCursor(ctx context.Context, cursor uint64) error {
	row := AgentCursor{Name: s.name, Cursor: cursor, UpdatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"cursor", "updated_at"}),
	}).Create(&row).Error
}
