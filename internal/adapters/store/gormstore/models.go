package gormstore

import (
	"time"

	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/domain"
)

type roomRow struct {
	ID             string `gorm:"primaryKey;size:64"`
	Name           string `gorm:"size:64;not null"`
	ContentTitle   string `gorm:"size:128;not null"`
	ContentEpisode string `gorm:"size:128;not null"`
	HostID         string `gorm:"size:64"`
	HostName       string `gorm:"size:36"`

	SyncPlayback    bool
	AllowChat       bool
	MaxParticipants int

	Playing           bool
	Position          float64
	Duration          float64
	PlaybackUpdatedAt time.Time

	CreatedAt    time.Time
	LastActivity time.Time `gorm:"index"`
}

func (roomRow) TableName() string { return "rooms" }

type participantRow struct {
	RoomID   string `gorm:"primaryKey;size:64"`
	ID       string `gorm:"primaryKey;size:64"`
	Name     string `gorm:"size:36;not null"`
	IsHost   bool
	JoinedAt time.Time
}

func (participantRow) TableName() string { return "participants" }

type messageRow struct {
	Seq        uint64 `gorm:"primaryKey;autoIncrement"`
	ID         string `gorm:"uniqueIndex;size:36"`
	RoomID     string `gorm:"index;size:64;not null"`
	AuthorID   string `gorm:"size:64"`
	AuthorName string `gorm:"size:36"`
	Content    string `gorm:"type:text;not null"`
	SentAt     time.Time
}

func (messageRow) TableName() string { return "messages" }

func toRoomRow(st core.RoomState) roomRow {
	r := st.Room
	return roomRow{
		ID:                string(r.ID),
		Name:              r.Name,
		ContentTitle:      r.Content.Title,
		ContentEpisode:    r.Content.Episode,
		HostID:            string(r.Host.ID),
		HostName:          r.Host.Name,
		SyncPlayback:      r.Settings.SyncPlayback,
		AllowChat:         r.Settings.AllowChat,
		MaxParticipants:   r.Settings.MaxParticipants,
		Playing:           st.Playback.Playing,
		Position:          st.Playback.Position,
		Duration:          st.Playback.Duration,
		PlaybackUpdatedAt: st.Playback.UpdatedAt,
		CreatedAt:         r.CreatedAt,
		LastActivity:      r.LastActivity.UTC(),
	}
}

func (r roomRow) state(parts []participantRow) core.RoomState {
	st := core.RoomState{
		Room: domain.Room{
			ID:      domain.RoomID(r.ID),
			Name:    r.Name,
			Content: domain.Content{Title: r.ContentTitle, Episode: r.ContentEpisode},
			Host:    domain.HostRef{ID: domain.ParticipantID(r.HostID), Name: r.HostName},
			Settings: domain.Settings{
				SyncPlayback:    r.SyncPlayback,
				AllowChat:       r.AllowChat,
				MaxParticipants: r.MaxParticipants,
			},
			CreatedAt:    r.CreatedAt,
			LastActivity: r.LastActivity,
		},
		Playback: domain.PlaybackState{
			Playing:   r.Playing,
			Position:  r.Position,
			Duration:  r.Duration,
			UpdatedAt: r.PlaybackUpdatedAt,
		},
	}
	for _, p := range parts {
		st.Participants = append(st.Participants, p.participant())
	}
	return st
}

func toParticipantRow(roomID domain.RoomID, p domain.Participant) participantRow {
	return participantRow{
		RoomID:   string(roomID),
		ID:       string(p.ID),
		Name:     p.Name,
		IsHost:   p.IsHost,
		JoinedAt: p.JoinedAt,
	}
}

func (p participantRow) participant() domain.Participant {
	return domain.Participant{
		ID:       domain.ParticipantID(p.ID),
		Name:     p.Name,
		IsHost:   p.IsHost,
		JoinedAt: p.JoinedAt,
	}
}

func (m messageRow) message() domain.Message {
	return domain.Message{
		ID:         m.ID,
		AuthorID:   domain.ParticipantID(m.AuthorID),
		AuthorName: m.AuthorName,
		Content:    m.Content,
		SentAt:     m.SentAt,
	}
}
