// Package playback owns per-session track queues and drives the output device
// through the play, advance and cleanup lifecycle.
package playback

import (
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stwalsh4118/cadence/internal/models"
)

// SessionID identifies one playback session (one output channel)
type SessionID = snowflake.ID

// ParseSessionID parses a session id from its decimal string form
func ParseSessionID(s string) (SessionID, error) {
	return snowflake.Parse(s)
}

// PlayerState represents the playback state of a session
type PlayerState string

// Player state constants
const (
	StateIdle      PlayerState = "idle"      // Nothing playing
	StatePlaying   PlayerState = "playing"   // Device is playing the current track
	StatePaused    PlayerState = "paused"    // Current track is paused
	StateAdvancing PlayerState = "advancing" // Handling a completion, moving to the next track
)

// String returns the string representation of the player state
func (s PlayerState) String() string {
	return string(s)
}

// IsValid checks if the player state is a known valid value
func (s PlayerState) IsValid() bool {
	switch s {
	case StateIdle, StatePlaying, StatePaused, StateAdvancing:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks if a transition from current state to newState is valid
func (s PlayerState) CanTransitionTo(newState PlayerState) bool {
	switch s {
	case StateIdle:
		// From idle, playback can only start
		return newState == StatePlaying
	case StatePlaying:
		return newState == StatePaused || newState == StateAdvancing || newState == StateIdle
	case StatePaused:
		return newState == StatePlaying || newState == StateAdvancing || newState == StateIdle
	case StateAdvancing:
		// Advancing either starts the next track or goes idle
		return newState == StatePlaying || newState == StateIdle
	default:
		return false
	}
}

// LoopMode controls what happens to a track when it finishes
type LoopMode string

// Loop modes
const (
	LoopOff   LoopMode = "off"   // finished tracks are disposed
	LoopSong  LoopMode = "song"  // the finished track replays in place
	LoopQueue LoopMode = "queue" // the finished track moves to the back of the queue
)

// IsValid checks if the loop mode is a known value
func (m LoopMode) IsValid() bool {
	switch m {
	case LoopOff, LoopSong, LoopQueue:
		return true
	default:
		return false
	}
}

// EnqueueResult reports where an enqueued track ended up
type EnqueueResult int

const (
	// Queued means the track was appended to the pending queue
	Queued EnqueueResult = iota
	// Activated means the session was idle and the track became current
	Activated
)

// String returns the string representation of EnqueueResult
func (r EnqueueResult) String() string {
	if r == Activated {
		return "activated"
	}
	return "queued"
}

// PlayResultKind describes the acknowledgment for a play request
type PlayResultKind string

// Play result kinds
const (
	PlayStarted     PlayResultKind = "playing"
	PlayQueued      PlayResultKind = "queued"
	PlaylistLoading PlayResultKind = "playlist_loading"
)

// TrackInfo is a read-only view of a track for the presentation layer
type TrackInfo struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Uploader        string `json:"uploader,omitempty"`
	SourceLocator   string `json:"source_locator"`
	DurationSeconds int64  `json:"duration_seconds"`
	Live            bool   `json:"live"`
	RequestedBy     string `json:"requested_by,omitempty"`
}

// NewTrackInfo builds a TrackInfo from a track
func NewTrackInfo(t *models.Track) TrackInfo {
	return TrackInfo{
		ID:              t.ID.String(),
		Title:           t.Title,
		Uploader:        t.Uploader,
		SourceLocator:   t.SourceLocator,
		DurationSeconds: int64(t.Duration / time.Second),
		Live:            t.IsLive(),
		RequestedBy:     t.RequestedBy,
	}
}

// PlayResult acknowledges a play request
type PlayResult struct {
	Kind     PlayResultKind `json:"kind"`
	Track    *TrackInfo     `json:"track,omitempty"`
	Position int            `json:"position,omitempty"` // 1-based queue position when queued
}

// QueueEntry is one pending track and its 1-based position
type QueueEntry struct {
	Position int       `json:"position"`
	Track    TrackInfo `json:"track"`
}

// QueueListing is a snapshot of a session's queue
type QueueListing struct {
	State         PlayerState  `json:"state"`
	Current       *TrackInfo   `json:"current,omitempty"`
	Pending       []QueueEntry `json:"pending"`
	Loop          LoopMode     `json:"loop"`
	VolumePercent int          `json:"volume_percent"`
}

// NowPlaying describes the current track and its progress
type NowPlaying struct {
	Track          TrackInfo   `json:"track"`
	State          PlayerState `json:"state"`
	ElapsedSeconds int64       `json:"elapsed_seconds"`
	Elapsed        string      `json:"elapsed"`
	Duration       string      `json:"duration"`
	Loop           LoopMode    `json:"loop"`
	VolumePercent  int         `json:"volume_percent"`
}

// BulkSummary is the outcome of a playlist load
type BulkSummary struct {
	PlaylistTitle string         `json:"playlist_title"`
	Added         int            `json:"added"`
	Skipped       int            `json:"skipped"`
	SkipReasons   map[string]int `json:"skip_reasons"`
	TotalEntries  int            `json:"total_entries"`
	Truncated     bool           `json:"truncated"` // playlist had more entries than the load cap
	Cancelled     bool           `json:"cancelled"` // stopped early by a clear, stop or teardown
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
}

// SessionInfo is a summary of a live session
type SessionInfo struct {
	ID            string      `json:"id"`
	OutputChannel string      `json:"output_channel,omitempty"`
	State         PlayerState `json:"state"`
	Listeners     int         `json:"listeners"`
	QueueLength   int         `json:"queue_length"`
	BulkLoading   bool        `json:"bulk_loading"`
	Clearing      bool        `json:"clearing"` // a clear happened within the grace period
	LastActive    time.Time   `json:"last_active"`
}
