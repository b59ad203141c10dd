// Package pgstore persists rooms in PostgreSQL through a pgx connection pool.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	content_title       TEXT NOT NULL,
	content_episode     TEXT NOT NULL,
	host_id             TEXT NOT NULL DEFAULT '',
	host_name           TEXT NOT NULL DEFAULT '',
	sync_playback       BOOLEAN NOT NULL,
	allow_chat          BOOLEAN NOT NULL,
	max_participants    INTEGER NOT NULL,
	playing             BOOLEAN NOT NULL DEFAULT FALSE,
	position            DOUBLE PRECISION NOT NULL DEFAULT 0,
	duration            DOUBLE PRECISION NOT NULL DEFAULT 0,
	playback_updated_at TIMESTAMPTZ NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL,
	last_activity       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS rooms_last_activity_idx ON rooms (last_activity);

CREATE TABLE IF NOT EXISTS participants (
	room_id   TEXT NOT NULL REFERENCES rooms (id) ON DELETE CASCADE,
	id        TEXT NOT NULL,
	name      TEXT NOT NULL,
	is_host   BOOLEAN NOT NULL DEFAULT FALSE,
	joined_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (room_id, id)
);

CREATE TABLE IF NOT EXISTS messages (
	seq         BIGSERIAL PRIMARY KEY,
	id          TEXT NOT NULL UNIQUE,
	room_id     TEXT NOT NULL REFERENCES rooms (id) ON DELETE CASCADE,
	author_id   TEXT NOT NULL,
	author_name TEXT NOT NULL,
	content     TEXT NOT NULL,
	sent_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_room_seq_idx ON messages (room_id, seq);
`

type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ core.Store = (*Store)(nil)

// Open connects to dsn, verifies the connection and creates the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info().Str("module", "store").Str("driver", "postgres").Msg("store ready")
	return s, nil
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) LoadRoom(ctx context.Context, id domain.RoomID) (core.RoomState, error) {
	var st core.RoomState
	r := &st.Room
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, content_title, content_episode, host_id, host_name,
		       sync_playback, allow_chat, max_participants,
		       playing, position, duration, playback_updated_at,
		       created_at, last_activity
		FROM rooms WHERE id = $1`, string(id)).Scan(
		&r.ID, &r.Name, &r.Content.Title, &r.Content.Episode, &r.Host.ID, &r.Host.Name,
		&r.Settings.SyncPlayback, &r.Settings.AllowChat, &r.Settings.MaxParticipants,
		&st.Playback.Playing, &st.Playback.Position, &st.Playback.Duration, &st.Playback.UpdatedAt,
		&r.CreatedAt, &r.LastActivity,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.RoomState{}, core.ErrRoomNotFound
		}
		return core.RoomState{}, fmt.Errorf("load room: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, name, is_host, joined_at FROM participants
		WHERE room_id = $1 ORDER BY joined_at`, string(id))
	if err != nil {
		return core.RoomState{}, fmt.Errorf("load participants: %w", err)
	}
	parts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Participant, error) {
		var p domain.Participant
		err := row.Scan(&p.ID, &p.Name, &p.IsHost, &p.JoinedAt)
		return p, err
	})
	if err != nil {
		return core.RoomState{}, fmt.Errorf("load participants: %w", err)
	}
	st.Participants = parts
	return st, nil
}

// SaveRoom upserts the room row and replaces its participant set.
func (s *Store) SaveRoom(ctx context.Context, st core.RoomState) error {
	r := st.Room
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO rooms (id, name, content_title, content_episode, host_id, host_name,
			                   sync_playback, allow_chat, max_participants,
			                   playing, position, duration, playback_updated_at,
			                   created_at, last_activity)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (id) DO UPDATE SET
				host_id = EXCLUDED.host_id,
				host_name = EXCLUDED.host_name,
				playing = EXCLUDED.playing,
				position = EXCLUDED.position,
				duration = EXCLUDED.duration,
				playback_updated_at = EXCLUDED.playback_updated_at,
				last_activity = EXCLUDED.last_activity`,
			string(r.ID), r.Name, r.Content.Title, r.Content.Episode, string(r.Host.ID), r.Host.Name,
			r.Settings.SyncPlayback, r.Settings.AllowChat, r.Settings.MaxParticipants,
			st.Playback.Playing, st.Playback.Position, st.Playback.Duration, st.Playback.UpdatedAt,
			r.CreatedAt, r.LastActivity,
		)
		if err != nil {
			return fmt.Errorf("save room: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM participants WHERE room_id = $1`, string(r.ID)); err != nil {
			return fmt.Errorf("clear participants: %w", err)
		}
		if len(st.Participants) == 0 {
			return nil
		}
		rows := make([][]any, 0, len(st.Participants))
		for _, p := range st.Participants {
			rows = append(rows, []any{string(r.ID), string(p.ID), p.Name, p.IsHost, p.JoinedAt})
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"participants"},
			[]string{"room_id", "id", "name", "is_host", "joined_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("save participants: %w", err)
		}
		return nil
	})
}

func (s *Store) DeleteRoom(ctx context.Context, id domain.RoomID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, string(id)); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return nil
}

func (s *Store) SaveParticipant(ctx context.Context, roomID domain.RoomID, p domain.Participant) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO participants (room_id, id, name, is_host, joined_at)
		SELECT $1, $2, $3, $4, $5 WHERE EXISTS (SELECT 1 FROM rooms WHERE id = $1)
		ON CONFLICT (room_id, id) DO UPDATE SET
			name = EXCLUDED.name,
			is_host = EXCLUDED.is_host`,
		string(roomID), string(p.ID), p.Name, p.IsHost, p.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("save participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrRoomNotFound
	}
	return nil
}

func (s *Store) RemoveParticipant(ctx context.Context, roomID domain.RoomID, id domain.ParticipantID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM participants WHERE room_id = $1 AND id = $2`, string(roomID), string(id))
	if err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	return nil
}

func (s *Store) SaveMessage(ctx context.Context, roomID domain.RoomID, m domain.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, room_id, author_id, author_name, content, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, string(roomID), string(m.AuthorID), m.AuthorName, m.Content, m.SentAt,
	)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

func (s *Store) LoadRecentMessages(ctx context.Context, roomID domain.RoomID, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, author_id, author_name, content, sent_at FROM (
			SELECT seq, id, author_id, author_name, content, sent_at FROM messages
			WHERE room_id = $1 ORDER BY seq DESC LIMIT $2
		) recent ORDER BY seq`, string(roomID), limit)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Message, error) {
		var m domain.Message
		err := row.Scan(&m.ID, &m.AuthorID, &m.AuthorName, &m.Content, &m.SentAt)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	return msgs, nil
}

func (s *Store) SweepInactive(ctx context.Context, idle time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rooms WHERE last_activity < $1`, s.now().Add(-idle))
	if err != nil {
		return 0, fmt.Errorf("sweep inactive: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
