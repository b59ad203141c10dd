package domain

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParticipant(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		id      ParticipantID
		display string
		wantErr error
	}{
		{name: "valid", id: "p1", display: "Alice"},
		{name: "trimmed", id: "p1", display: "  Bob  "},
		{name: "generated id", display: "Carol"},
		{name: "empty name", id: "p1", display: "   ", wantErr: ErrUsernameEmpty},
		{name: "long name", id: "p1", display: strings.Repeat("x", MaxUsernameLen+1), wantErr: ErrUsernameTooLong},
		{name: "long id", id: ParticipantID(strings.Repeat("i", MaxUserIDLen+1)), display: "Dave", wantErr: ErrUserIDTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewParticipant(tt.id, tt.display, now)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, strings.TrimSpace(tt.display), p.Name)
			assert.NotEmpty(t, p.ID)
			assert.False(t, p.IsHost)
			assert.Equal(t, now, p.JoinedAt)
		})
	}
}

func TestSettingsNormalize(t *testing.T) {
	assert.Equal(t, DefaultMaxParticipants, Settings{}.Normalize().MaxParticipants)
	assert.Equal(t, MaxParticipantsCap, Settings{MaxParticipants: 10000}.Normalize().MaxParticipants)
	assert.Equal(t, 3, Settings{MaxParticipants: 3}.Normalize().MaxParticipants)
}

func TestSettingsPatchOver(t *testing.T) {
	defaults := DefaultSettings()
	var none *SettingsPatch
	assert.Equal(t, defaults, none.Over(defaults))
	assert.Equal(t, defaults, (&SettingsPatch{}).Over(defaults))

	five, off := 5, false
	got := (&SettingsPatch{MaxParticipants: &five}).Over(defaults)
	assert.Equal(t, Settings{SyncPlayback: true, AllowChat: true, MaxParticipants: 5}, got)

	got = (&SettingsPatch{AllowChat: &off}).Over(defaults)
	assert.True(t, got.SyncPlayback)
	assert.False(t, got.AllowChat)
	assert.Equal(t, defaults.MaxParticipants, got.MaxParticipants)

	big, zero := defaults.MaxParticipants+1, 0
	assert.Equal(t, defaults.MaxParticipants, (&SettingsPatch{MaxParticipants: &big}).Over(defaults).MaxParticipants)
	assert.Equal(t, defaults.MaxParticipants, (&SettingsPatch{MaxParticipants: &zero}).Over(defaults).MaxParticipants)
}

func TestNormalizeContent(t *testing.T) {
	c, err := NormalizeContent(Content{Title: " ShowX ", Episode: "Ep1"})
	require.NoError(t, err)
	assert.Equal(t, Content{Title: "ShowX", Episode: "Ep1"}, c)

	_, err = NormalizeContent(Content{Title: "ShowX"})
	assert.ErrorIs(t, err, ErrContentEmpty)
}

func TestPlaybackApply(t *testing.T) {
	t0 := time.Unix(100, 0)
	t1 := time.Unix(200, 0)
	playing := true
	pos := 42.5

	s := PlaybackState{Duration: 3600}.Apply(PlaybackPatch{Playing: &playing, Position: &pos}, t0)
	assert.True(t, s.Playing)
	assert.Equal(t, 42.5, s.Position)
	assert.Equal(t, 3600.0, s.Duration)
	assert.Equal(t, t0, s.UpdatedAt)

	again := s.Apply(PlaybackPatch{Playing: &playing, Position: &pos}, t1)
	s.UpdatedAt, again.UpdatedAt = time.Time{}, time.Time{}
	assert.Equal(t, s, again)
}

func TestPlaybackPatchValidate(t *testing.T) {
	neg := -1.0
	nan := math.NaN()
	ok := 12.0
	assert.ErrorIs(t, PlaybackPatch{Position: &neg}.Validate(), ErrInvalidPlayback)
	assert.ErrorIs(t, PlaybackPatch{Duration: &nan}.Validate(), ErrInvalidPlayback)
	assert.NoError(t, PlaybackPatch{Position: &ok}.Validate())
	assert.True(t, PlaybackPatch{}.Empty())
}

func TestNormalizeMessage(t *testing.T) {
	msg, err := NormalizeMessage("  hi  ")
	require.NoError(t, err)
	assert.Equal(t, "hi", msg)

	_, err = NormalizeMessage(" ")
	assert.ErrorIs(t, err, ErrMessageEmpty)

	_, err = NormalizeMessage(strings.Repeat("é", MaxMessageLen+1))
	assert.ErrorIs(t, err, ErrMessageTooLong)
}

func TestRoomIDs(t *testing.T) {
	id := NewRoomID()
	assert.Len(t, string(id), RoomIDLen)

	parsed, err := ParseRoomID(string(id))
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseRoomID("../etc")
	assert.ErrorIs(t, err, ErrInvalidRoomID)
	_, err = ParseRoomID("")
	assert.ErrorIs(t, err, ErrInvalidRoomID)
}
