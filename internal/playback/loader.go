package playback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stwalsh4118/cadence/internal/logger"
	"github.com/stwalsh4118/cadence/internal/resolver"
)

// skip reason labels that are not resolver failure kinds
const (
	reasonPlaybackFailed = "playback_failed"
)

// BulkLoader resolves the entries of a playlist one by one and feeds them to a session
type BulkLoader struct {
	resolver   resolver.Resolver
	mode       resolver.Mode
	maxEntries int
	now        func() time.Time

	// progress, when set, is called after every added entry
	progress func(added, skipped int)
}

// NewBulkLoader creates a loader that resolves at most maxEntries entries per playlist
func NewBulkLoader(res resolver.Resolver, mode resolver.Mode, maxEntries int) *BulkLoader {
	return &BulkLoader{
		resolver:   res,
		mode:       mode,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Load enumerates locator and enqueues every entry that resolves.
//
// Per-entry failures are counted by reason and do not stop the load. A clear
// of the session's queue, or ctx ending, stops it early with partial results.
// Only failing to enumerate the playlist is returned as an error.
func (l *BulkLoader) Load(ctx context.Context, s *Session, locator, requester string) (*BulkSummary, error) {
	if !s.queue.TryBeginBulkLoad() {
		return nil, ErrBulkLoadInProgress
	}
	return l.run(ctx, s, s.queue.Epoch(), locator, requester)
}

// run does the work of Load for a caller that already holds the bulk load marker.
// epoch is the queue epoch read when the marker was taken; any clear after
// that point cancels the load. The marker is released on every path.
func (l *BulkLoader) run(ctx context.Context, s *Session, epoch uint64, locator, requester string) (*BulkSummary, error) {
	defer s.queue.EndBulkLoad()

	summary := BulkSummary{
		SkipReasons: make(map[string]int),
		StartedAt:   l.now(),
	}
	log := logger.Log.With().
		Str("session_id", s.id.String()).
		Str("locator", locator).
		Logger()

	playlist, err := l.resolver.ResolvePlaylist(ctx, locator, l.maxEntries)
	if err != nil {
		log.Warn().Err(err).Str("error_kind", resolver.KindOf(err).String()).Msg("Failed to enumerate playlist")
		return nil, fmt.Errorf("failed to enumerate playlist: %w", err)
	}

	entries := playlist.Entries
	if l.maxEntries > 0 && len(entries) > l.maxEntries {
		entries = entries[:l.maxEntries]
	}
	summary.PlaylistTitle = playlist.Title
	summary.TotalEntries = len(playlist.Entries)
	if playlist.Total > summary.TotalEntries {
		summary.TotalEntries = playlist.Total
	}
	summary.Truncated = summary.TotalEntries > len(entries)

	log.Info().
		Str("playlist", playlist.Title).
		Int("entries", len(entries)).
		Bool("truncated", summary.Truncated).
		Msg("Playlist load started")

	for i, entry := range entries {
		if ctx.Err() != nil || s.queue.LoadCancelled(epoch) {
			summary.Cancelled = true
			break
		}

		if kind, ok := resolver.PlaceholderKind(entry.Title); ok {
			l.skip(&summary, kind.String())
			continue
		}

		track, err := l.resolver.ResolveOne(ctx, entry.URL, l.mode)
		if err != nil {
			if ctx.Err() != nil {
				summary.Cancelled = true
				break
			}
			kind := resolver.KindOf(err)
			log.Warn().
				Err(err).
				Int("entry", i+1).
				Str("title", entry.Title).
				Str("error_kind", kind.String()).
				Msg("Skipping playlist entry")
			l.skip(&summary, kind.String())
			continue
		}

		track.RequestedBy = requester
		// an accepted insert runs even if ctx ends, so wait for its outcome
		// and leave cancellation to the next iteration
		if _, err := s.enqueue(context.WithoutCancel(ctx), track, epoch); err != nil {
			if errors.Is(err, ErrLoadCancelled) || errors.Is(err, ErrSessionClosed) {
				summary.Cancelled = true
				break
			}
			// the session already disposed the track
			l.skip(&summary, reasonPlaybackFailed)
			continue
		}

		summary.Added++
		if l.progress != nil {
			l.progress(summary.Added, summary.Skipped)
		}
	}

	summary.FinishedAt = l.now()
	s.setLastSummary(summary)

	log.Info().
		Str("playlist", summary.PlaylistTitle).
		Int("added", summary.Added).
		Int("skipped", summary.Skipped).
		Bool("cancelled", summary.Cancelled).
		Interface("skip_reasons", summary.SkipReasons).
		Msg("Playlist load finished")

	return &summary, nil
}

func (l *BulkLoader) skip(summary *BulkSummary, reason string) {
	summary.Skipped++
	summary.SkipReasons[reason]++
}
