package models

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTrack(t *testing.T) {
	track := NewTrack("Song", "Artist", "https://example.com/watch?v=1", "https://cdn/1", 3*time.Minute)

	assert.NotEmpty(t, track.ID)
	assert.Equal(t, "Song", track.Title)
	assert.False(t, track.IsLive())
	assert.True(t, track.StartedAt().IsZero())
	assert.False(t, track.IsDisposed())
}

func TestTrackIsLive(t *testing.T) {
	assert.True(t, NewTrack("Radio", "", "loc", "ref", 0).IsLive())
	assert.False(t, NewTrack("Song", "", "loc", "ref", time.Second).IsLive())
}

func TestTrackElapsed(t *testing.T) {
	track := NewTrack("Song", "", "loc", "ref", time.Minute)
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Duration(0), track.Elapsed(start), "not started yet")

	track.MarkStarted(start)
	assert.Equal(t, 30*time.Second, track.Elapsed(start.Add(30*time.Second)))
	assert.Equal(t, time.Minute, track.Elapsed(start.Add(5*time.Minute)), "clamped to duration")

	live := NewTrack("Radio", "", "loc", "ref", 0)
	live.MarkStarted(start)
	assert.Equal(t, 2*time.Hour, live.Elapsed(start.Add(2*time.Hour)), "live streams are not clamped")
}

func TestTrackDisposeRemovesArtifactOnce(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "track.webm")
	require.NoError(t, os.WriteFile(artifact, []byte("audio"), 0o600))

	track := NewTrack("Song", "", "loc", artifact, time.Minute)
	track.ArtifactPath = artifact

	var released atomic.Int32
	require.NoError(t, track.AddReleaser(func() error {
		released.Add(1)
		return nil
	}))

	require.NoError(t, track.Dispose())
	require.NoError(t, track.Dispose())

	assert.True(t, track.IsDisposed())
	assert.Equal(t, int32(1), released.Load())
	_, err := os.Stat(artifact)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestTrackDisposeMissingArtifact(t *testing.T) {
	track := NewTrack("Song", "", "loc", "ref", time.Minute)
	track.ArtifactPath = filepath.Join(t.TempDir(), "gone.webm")

	assert.NoError(t, track.Dispose())
}

func TestTrackDisposeConcurrent(t *testing.T) {
	track := NewTrack("Song", "", "loc", "ref", time.Minute)
	var released atomic.Int32
	require.NoError(t, track.AddReleaser(func() error {
		released.Add(1)
		return nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = track.Dispose()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), released.Load())
}

func TestTrackDisposeReportsReleaserError(t *testing.T) {
	track := NewTrack("Song", "", "loc", "ref", time.Minute)
	boom := errors.New("kill failed")
	require.NoError(t, track.AddReleaser(func() error { return boom }))

	err := track.Dispose()
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, track.Dispose(), "second dispose is a no-op")
}

func TestTrackAddReleaserAfterDispose(t *testing.T) {
	track := NewTrack("Song", "", "loc", "ref", time.Minute)
	require.NoError(t, track.Dispose())

	ran := false
	require.NoError(t, track.AddReleaser(func() error {
		ran = true
		return nil
	}))
	assert.True(t, ran, "releaser added after dispose runs immediately")
}

func TestTrackPlaybackReleaserIsReplaced(t *testing.T) {
	track := NewTrack("Song", "", "loc", "ref", time.Minute)
	var ran []int
	for i := 1; i <= 3; i++ {
		require.NoError(t, track.SetPlaybackReleaser(func() error {
			ran = append(ran, i)
			return nil
		}))
	}
	require.NoError(t, track.AddReleaser(func() error {
		ran = append(ran, 0)
		return nil
	}))
	assert.Empty(t, ran, "replaced playbacks are not released again")

	require.NoError(t, track.Dispose())
	assert.Equal(t, []int{3, 0}, ran, "only the latest playback is released, before other resources")

	require.NoError(t, track.SetPlaybackReleaser(func() error {
		ran = append(ran, 4)
		return nil
	}))
	assert.Equal(t, []int{3, 0, 4}, ran, "a playback bound after dispose is released immediately")
}

func TestFormatClock(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00"},
		{65 * time.Second, "01:05"},
		{time.Hour + 2*time.Minute + 3*time.Second, "01:02:03"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatClock(tt.in))
	}
	assert.Equal(t, "live", NewTrack("Radio", "", "loc", "ref", 0).DurationString())
}

func TestNewPlaybackHistory(t *testing.T) {
	track := NewTrack("Song", "Artist", "loc", "ref", 90*time.Second)
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	track.MarkStarted(start)

	h := NewPlaybackHistory("42", track, OutcomeFailed, errors.New("device gone"), start.Add(time.Minute))

	assert.Equal(t, "42", h.SessionID)
	assert.Equal(t, int64(90), h.DurationSeconds)
	assert.Equal(t, OutcomeFailed, h.Outcome)
	assert.Equal(t, "device gone", h.ErrorMessage)
	assert.Equal(t, start, h.StartedAt)
	assert.Equal(t, "playback_history", h.TableName())
}
