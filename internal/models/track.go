package models

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Releaser frees a resource bound to a track, such as a running decode process
type Releaser func() error

// Track is a resolved, playable unit of media together with the resources it owns.
// A Track is owned by exactly one session at a time and must be disposed exactly once.
// This is NOT persisted to database, only kept in memory
type Track struct {
	ID            uuid.UUID     `json:"id"`
	Title         string        `json:"title"`
	Uploader      string        `json:"uploader,omitempty"`
	SourceLocator string        `json:"source_locator"`
	Duration      time.Duration `json:"duration"`     // zero means live or unbounded
	PlayableRef   string        `json:"-"`            // stream URL or local artifact path handed to the device
	ArtifactPath  string        `json:"-"`            // downloaded file removed on dispose, empty in stream mode
	RequestedBy   string        `json:"requested_by"` // channel the request came from

	mu        sync.Mutex
	startedAt time.Time
	releasers []Releaser
	playback  Releaser
	disposed  bool
	once      sync.Once
}

// NewTrack creates a track with a generated ID
func NewTrack(title, uploader, sourceLocator, playableRef string, duration time.Duration) *Track {
	return &Track{
		ID:            uuid.New(),
		Title:         title,
		Uploader:      uploader,
		SourceLocator: sourceLocator,
		Duration:      duration,
		PlayableRef:   playableRef,
	}
}

// IsLive reports whether the track has no known duration
func (t *Track) IsLive() bool {
	return t.Duration <= 0
}

// MarkStarted records the moment playback began
func (t *Track) MarkStarted(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startedAt = at
}

// StartedAt returns when playback began, or the zero time if it never did
func (t *Track) StartedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startedAt
}

// Elapsed returns how long the track has been playing as of now
func (t *Track) Elapsed(now time.Time) time.Duration {
	started := t.StartedAt()
	if started.IsZero() || now.Before(started) {
		return 0
	}
	elapsed := now.Sub(started)
	if !t.IsLive() && elapsed > t.Duration {
		return t.Duration
	}
	return elapsed
}

// AddReleaser registers a resource to free on dispose.
// If the track is already disposed the releaser runs immediately.
func (t *Track) AddReleaser(r Releaser) error {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return r()
	}
	t.releasers = append(t.releasers, r)
	t.mu.Unlock()
	return nil
}

// SetPlaybackReleaser binds the resources of the track's latest playback.
// A replay replaces the previous one without running it, since a track is
// only played again after its previous playback has ended.
func (t *Track) SetPlaybackReleaser(r Releaser) error {
	t.mu.Lock()
	if t.disposed {
		t.mu.Unlock()
		return r()
	}
	t.playback = r
	t.mu.Unlock()
	return nil
}

// IsDisposed reports whether Dispose has been called
func (t *Track) IsDisposed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disposed
}

// Dispose releases decode resources and then removes the local artifact.
// It is safe to call any number of times; only the first call does work
// and later calls return nil.
func (t *Track) Dispose() error {
	var err error
	t.once.Do(func() {
		t.mu.Lock()
		t.disposed = true
		releasers := t.releasers
		if t.playback != nil {
			releasers = append(releasers, t.playback)
		}
		t.releasers = nil
		t.playback = nil
		t.mu.Unlock()

		var errs []error
		for i := len(releasers) - 1; i >= 0; i-- {
			if relErr := releasers[i](); relErr != nil {
				errs = append(errs, relErr)
			}
		}

		if t.ArtifactPath != "" {
			if rmErr := os.Remove(t.ArtifactPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				errs = append(errs, fmt.Errorf("failed to remove artifact %s: %w", t.ArtifactPath, rmErr))
			}
		}

		err = errors.Join(errs...)
	})
	return err
}

// DurationString returns duration in HH:MM:SS or MM:SS format, or "live"
func (t *Track) DurationString() string {
	if t.IsLive() {
		return "live"
	}
	return FormatClock(t.Duration)
}

// FormatClock formats d as HH:MM:SS when it spans hours, MM:SS otherwise
func FormatClock(d time.Duration) string {
	total := int64(d / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	if hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}
