package models

import (
	"time"

	"github.com/google/uuid"
)

// Playback outcomes recorded in history
const (
	OutcomeCompleted = "completed" // played to the end or skipped
	OutcomeFailed    = "failed"    // device reported an error
	OutcomeStopped   = "stopped"   // cut short by stop, clear or teardown
)

// PlaybackHistory records one finished playback attempt for a session
type PlaybackHistory struct {
	ID              uuid.UUID `json:"id" gorm:"type:text;primaryKey;column:id"`
	SessionID       string    `json:"session_id" gorm:"type:text;not null;index;column:session_id"`
	Title           string    `json:"title" gorm:"type:text;not null;column:title"`
	Uploader        string    `json:"uploader,omitempty" gorm:"type:text;column:uploader"`
	SourceLocator   string    `json:"source_locator" gorm:"type:text;not null;column:source_locator"`
	DurationSeconds int64     `json:"duration_seconds" gorm:"type:integer;not null;default:0;column:duration_seconds"`
	Outcome         string    `json:"outcome" gorm:"type:text;not null;column:outcome"`
	ErrorMessage    string    `json:"error_message,omitempty" gorm:"type:text;column:error_message"`
	StartedAt       time.Time `json:"started_at" gorm:"type:datetime;not null;column:started_at"`
	EndedAt         time.Time `json:"ended_at" gorm:"type:datetime;not null;column:ended_at"`
}

// TableName specifies the table name for GORM
func (PlaybackHistory) TableName() string {
	return "playback_history"
}

// NewPlaybackHistory builds a history row for a track that just finished
func NewPlaybackHistory(sessionID string, track *Track, outcome string, playErr error, endedAt time.Time) *PlaybackHistory {
	h := &PlaybackHistory{
		ID:              uuid.New(),
		SessionID:       sessionID,
		Title:           track.Title,
		Uploader:        track.Uploader,
		SourceLocator:   track.SourceLocator,
		DurationSeconds: int64(track.Duration / time.Second),
		Outcome:         outcome,
		StartedAt:       track.StartedAt().UTC(),
		EndedAt:         endedAt.UTC(),
	}
	if h.StartedAt.IsZero() {
		h.StartedAt = h.EndedAt
	}
	if playErr != nil {
		h.ErrorMessage = playErr.Error()
	}
	return h
}
