package playback

import (
	"context"

	"github.com/stwalsh4118/cadence/internal/logger"
	"github.com/stwalsh4118/cadence/internal/models"
)

// HistoryRecorder persists finished playback attempts
type HistoryRecorder interface {
	Record(ctx context.Context, h *models.PlaybackHistory) error
}

// Notifier receives the outcome of background playlist loads so the
// presentation layer can report back to the requester
type Notifier interface {
	PlaylistLoaded(id SessionID, requester string, summary *BulkSummary)
	PlaylistFailed(id SessionID, requester, locator string, err error)
}

// LogNotifier reports playlist outcomes to the log
type LogNotifier struct{}

// PlaylistLoaded logs a finished playlist load
func (LogNotifier) PlaylistLoaded(id SessionID, requester string, summary *BulkSummary) {
	logger.Log.Info().
		Str("session_id", id.String()).
		Str("requester", requester).
		Str("playlist", summary.PlaylistTitle).
		Int("added", summary.Added).
		Int("skipped", summary.Skipped).
		Bool("cancelled", summary.Cancelled).
		Msg("Playlist queued")
}

// PlaylistFailed logs a playlist that could not be enumerated
func (LogNotifier) PlaylistFailed(id SessionID, requester, locator string, err error) {
	logger.Log.Warn().
		Err(err).
		Str("session_id", id.String()).
		Str("requester", requester).
		Str("locator", locator).
		Msg("Playlist could not be loaded")
}
