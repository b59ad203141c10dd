// Package gormstore persists rooms through GORM. Open uses the sqlite driver.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

var _ core.Store = (*Store)(nil)

// Open opens a sqlite database at dsn and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite allows one writer, and every ":memory:" connection is its own database.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	s, err := New(db)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	log.Info().Str("module", "store").Str("driver", "sqlite").Msg("store ready")
	return s, nil
}

// New wraps an already opened database and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&roomRow{}, &participantRow{}, &messageRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) LoadRoom(ctx context.Context, id domain.RoomID) (core.RoomState, error) {
	var row roomRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", string(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return core.RoomState{}, core.ErrRoomNotFound
		}
		return core.RoomState{}, fmt.Errorf("load room: %w", err)
	}
	var parts []participantRow
	if err := s.db.WithContext(ctx).Where("room_id = ?", row.ID).Order("joined_at").Find(&parts).Error; err != nil {
		return core.RoomState{}, fmt.Errorf("load participants: %w", err)
	}
	return row.state(parts), nil
}

// SaveRoom upserts the room row and replaces its participant set.
func (s *Store) SaveRoom(ctx context.Context, st core.RoomState) error {
	row := toRoomRow(st)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("save room: %w", err)
		}
		if err := tx.Where("room_id = ?", row.ID).Delete(&participantRow{}).Error; err != nil {
			return fmt.Errorf("clear participants: %w", err)
		}
		if len(st.Participants) == 0 {
			return nil
		}
		parts := make([]participantRow, 0, len(st.Participants))
		for _, p := range st.Participants {
			parts = append(parts, toParticipantRow(st.Room.ID, p))
		}
		if err := tx.Create(&parts).Error; err != nil {
			return fmt.Errorf("save participants: %w", err)
		}
		return nil
	})
}

func (s *Store) DeleteRoom(ctx context.Context, id domain.RoomID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteRooms(tx, []string{string(id)})
	})
}

func deleteRooms(tx *gorm.DB, ids []string) error {
	if err := tx.Where("room_id IN ?", ids).Delete(&messageRow{}).Error; err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if err := tx.Where("room_id IN ?", ids).Delete(&participantRow{}).Error; err != nil {
		return fmt.Errorf("delete participants: %w", err)
	}
	if err := tx.Where("id IN ?", ids).Delete(&roomRow{}).Error; err != nil {
		return fmt.Errorf("delete rooms: %w", err)
	}
	return nil
}

func (s *Store) SaveParticipant(ctx context.Context, roomID domain.RoomID, p domain.Participant) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&roomRow{}).Where("id = ?", string(roomID)).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return core.ErrRoomNotFound
		}
		row := toParticipantRow(roomID, p)
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("save participant: %w", err)
		}
		return nil
	})
}

func (s *Store) RemoveParticipant(ctx context.Context, roomID domain.RoomID, id domain.ParticipantID) error {
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND id = ?", string(roomID), string(id)).
		Delete(&participantRow{}).Error
	if err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	return nil
}

func (s *Store) SaveMessage(ctx context.Context, roomID domain.RoomID, m domain.Message) error {
	row := messageRow{
		ID:         m.ID,
		RoomID:     string(roomID),
		AuthorID:   string(m.AuthorID),
		AuthorName: m.AuthorName,
		Content:    m.Content,
		SentAt:     m.SentAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

func (s *Store) LoadRecentMessages(ctx context.Context, roomID domain.RoomID, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	var rows []messageRow
	err := s.db.WithContext(ctx).
		Where("room_id = ?", string(roomID)).
		Order("seq DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	out := make([]domain.Message, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r.message()
	}
	return out, nil
}

func (s *Store) SweepInactive(ctx context.Context, idle time.Duration) (int, error) {
	// Stored as text by sqlite, so both sides must share an offset.
	cutoff := s.now().Add(-idle).UTC()
	var ids []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&roomRow{}).Where("last_activity < ?", cutoff).Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return deleteRooms(tx, ids)
	})
	if err != nil {
		return 0, fmt.Errorf("sweep inactive: %w", err)
	}
	return len(ids), nil
}
