package playback

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/stwalsh4118/cadence/internal/device"
	"github.com/stwalsh4118/cadence/internal/logger"
	"github.com/stwalsh4118/cadence/internal/models"
)

// anyEpoch skips the clear-epoch check on enqueue
const anyEpoch = math.MaxUint64

const historyWriteTimeout = 5 * time.Second

// sessionDeps are the collaborators a session shares with its manager
type sessionDeps struct {
	history    HistoryRecorder
	tasks      *taskGroup
	now        func() time.Time
	clearGrace time.Duration
}

// Session is one playback context bound to one output device.
//
// Every queue mutation and device command runs on the session's event loop.
// Device completions are posted back into the loop rather than handled on
// the device's goroutine.
type Session struct {
	id     SessionID
	device device.OutputDevice
	queue  *Queue
	mb     *mailbox
	deps   sessionDeps

	// owned by the event loop
	attempt  uint64
	volume   float64
	loop     LoopMode
	clearGen uint64
	pausedAt time.Time

	mu            sync.RWMutex
	state         PlayerState
	outputChannel string
	listeners     int
	lastActive    time.Time
	lastSummary   *BulkSummary
}

func newSession(id SessionID, outputChannel string, dev device.OutputDevice, volume float64, deps sessionDeps) *Session {
	s := &Session{
		id:            id,
		device:        dev,
		queue:         NewQueue(),
		mb:            newMailbox(),
		deps:          deps,
		volume:        volume,
		loop:          LoopOff,
		state:         StateIdle,
		outputChannel: outputChannel,
		lastActive:    deps.now(),
	}
	go s.mb.run()
	return s
}

// ID returns the session id
func (s *Session) ID() SessionID {
	return s.id
}

// State returns the current player state
func (s *Session) State() PlayerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(state PlayerState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != state && !s.state.CanTransitionTo(state) {
		logger.Log.Debug().
			Str("session_id", s.id.String()).
			Str("from", s.state.String()).
			Str("to", state.String()).
			Msg("Unexpected player state transition")
	}
	s.state = state
}

func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = s.deps.now()
}

// Listeners returns the number of participants in the output channel
func (s *Session) Listeners() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listeners
}

func (s *Session) addListeners(delta int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners += delta
	if s.listeners < 0 {
		s.listeners = 0
	}
	s.lastActive = s.deps.now()
	return s.listeners
}

func (s *Session) setOutputChannel(ch string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch != "" {
		s.outputChannel = ch
	}
	s.lastActive = s.deps.now()
}

// IdleFor returns how long the session has gone without activity
func (s *Session) IdleFor() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deps.now().Sub(s.lastActive)
}

// ShouldReap reports whether the session is unattended and idle past timeout
func (s *Session) ShouldReap(timeout time.Duration) bool {
	if s.queue.BulkLoadInProgress() {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listeners > 0 || s.state == StatePlaying || s.state == StateAdvancing {
		return false
	}
	return s.deps.now().Sub(s.lastActive) >= timeout
}

// LastSummary returns the most recent bulk load summary, if any
func (s *Session) LastSummary() (*BulkSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastSummary == nil {
		return nil, false
	}
	summary := *s.lastSummary
	return &summary, true
}

func (s *Session) setLastSummary(summary BulkSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSummary = &summary
	s.lastActive = s.deps.now()
}

// enqueue hands t to the session. With an epoch other than anyEpoch the insert
// is rejected, and t disposed, if the queue was cleared since that epoch.
// The session owns t from the moment the event is accepted.
func (s *Session) enqueue(ctx context.Context, t *models.Track, epoch uint64) (PlayResult, error) {
	res, err := call(ctx, s.mb, func() (PlayResult, error) {
		if epoch != anyEpoch && s.queue.LoadCancelled(epoch) {
			s.dispose(t)
			return PlayResult{}, ErrLoadCancelled
		}
		s.touch()

		deviceIdle := !s.device.IsPlaying() && !s.device.IsPaused()
		info := NewTrackInfo(t)
		if s.queue.EnqueueOrActivate(t, deviceIdle) == Queued {
			return PlayResult{Kind: PlayQueued, Track: &info, Position: s.queue.Len()}, nil
		}

		if err := s.play(t); err != nil {
			s.queue.SetCurrent(nil)
			s.record(t, models.OutcomeFailed, err)
			s.dispose(t)
			s.setState(StateIdle)
			return PlayResult{}, deviceCommandFailed("play", err)
		}
		return PlayResult{Kind: PlayStarted, Track: &info}, nil
	})
	if errors.Is(err, ErrSessionClosed) {
		s.dispose(t)
	}
	return res, err
}

// play starts t on the device and arms its completion. Runs on the event loop.
func (s *Session) play(t *models.Track) error {
	s.attempt++
	attempt := s.attempt

	release, err := s.device.Play(t.PlayableRef, s.volume, func(playErr error) {
		s.mb.post(func() { s.handleCompletion(attempt, playErr) })
	})
	if err != nil {
		return err
	}
	if release != nil {
		if err := t.SetPlaybackReleaser(models.Releaser(release)); err != nil {
			logger.Log.Warn().Err(err).Str("track_id", t.ID.String()).Msg("Failed to release playback of disposed track")
		}
	}

	t.MarkStarted(s.deps.now())
	s.pausedAt = time.Time{}
	s.setState(StatePlaying)

	logger.Log.Info().
		Str("session_id", s.id.String()).
		Str("track_id", t.ID.String()).
		Str("title", t.Title).
		Uint64("attempt", attempt).
		Msg("Playback started")
	return nil
}

// handleCompletion advances the queue after the attempt's playback ended.
// Completions for superseded attempts are ignored.
func (s *Session) handleCompletion(attempt uint64, playErr error) {
	finished := s.queue.Current()
	if attempt != s.attempt || finished == nil {
		return
	}
	s.setState(StateAdvancing)

	if playErr != nil {
		logger.Log.Warn().
			Err(playErr).
			Str("session_id", s.id.String()).
			Str("track_id", finished.ID.String()).
			Str("title", finished.Title).
			Msg("Playback ended with device error")
		s.record(finished, models.OutcomeFailed, playErr)
	} else {
		s.record(finished, models.OutcomeCompleted, nil)
	}

	var next *models.Track
	kept := false
	switch {
	case s.loop == LoopSong && playErr == nil:
		next = finished
		kept = true
	case s.loop == LoopQueue && playErr == nil:
		s.queue.SetCurrent(nil)
		s.queue.Append(finished)
		next = s.queue.PopNext()
		kept = true
	default:
		next = s.queue.PopNext()
	}

	if !kept {
		s.dispose(finished)
	}
	s.advance(next)
}

// advance plays next, falling through to later tracks when the device rejects one
func (s *Session) advance(next *models.Track) {
	for next != nil {
		s.queue.SetCurrent(next)
		err := s.play(next)
		if err == nil {
			return
		}

		logger.Log.Warn().
			Err(err).
			Str("session_id", s.id.String()).
			Str("track_id", next.ID.String()).
			Msg("Device rejected next track, skipping")
		s.record(next, models.OutcomeFailed, err)
		s.dispose(next)
		next = s.queue.PopNext()
	}

	s.queue.SetCurrent(nil)
	s.setState(StateIdle)
	s.touch()

	logger.Log.Debug().Str("session_id", s.id.String()).Msg("Queue drained, session idle")
}

// clearAll empties the queue and disposes everything in it. Runs on the event loop.
func (s *Session) clearAll() {
	current := s.queue.Current()
	if current != nil {
		s.record(current, models.OutcomeStopped, nil)
	}

	cleared := s.queue.ClearAll()
	for _, t := range cleared {
		s.dispose(t)
	}
	s.scheduleCancelReset()
	s.setState(StateIdle)
	s.touch()

	logger.Log.Debug().
		Str("session_id", s.id.String()).
		Int("disposed", len(cleared)).
		Msg("Queue cleared")
}

// scheduleCancelReset lowers the bulk-load cancel flag after the grace period
// unless another clear happened in the meantime
func (s *Session) scheduleCancelReset() {
	s.clearGen++
	gen := s.clearGen
	if s.deps.clearGrace <= 0 {
		s.queue.ResetCancel()
		return
	}
	time.AfterFunc(s.deps.clearGrace, func() {
		s.mb.post(func() {
			if s.clearGen == gen {
				s.queue.ResetCancel()
			}
		})
	})
}

// dispose releases t in the background
func (s *Session) dispose(t *models.Track) {
	s.deps.tasks.Go(func() {
		if err := t.Dispose(); err != nil {
			logger.Log.Warn().
				Err(err).
				Str("session_id", s.id.String()).
				Str("track_id", t.ID.String()).
				Msg("Failed to dispose track")
		}
	})
}

// record writes a history row in the background
func (s *Session) record(t *models.Track, outcome string, playErr error) {
	rec := s.deps.history
	if rec == nil {
		return
	}
	if outcome == models.OutcomeStopped && t.StartedAt().IsZero() {
		return
	}
	h := models.NewPlaybackHistory(s.id.String(), t, outcome, playErr, s.deps.now())
	s.deps.tasks.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
		defer cancel()
		if err := rec.Record(ctx, h); err != nil {
			logger.Log.Warn().
				Err(err).
				Str("session_id", h.SessionID).
				Str("outcome", outcome).
				Msg("Failed to record playback history")
		}
	})
}

func (s *Session) skip(ctx context.Context) (TrackInfo, error) {
	return call(ctx, s.mb, func() (TrackInfo, error) {
		cur := s.queue.Current()
		if cur == nil {
			return TrackInfo{}, ErrNotPlaying
		}
		s.touch()
		// the armed completion does the advancing
		if err := s.device.Stop(); err != nil {
			return TrackInfo{}, deviceCommandFailed("skip", err)
		}
		return NewTrackInfo(cur), nil
	})
}

func (s *Session) pause(ctx context.Context) error {
	return do(ctx, s.mb, func() error {
		if s.queue.Current() == nil || s.State() != StatePlaying {
			return ErrNotPlaying
		}
		if err := s.device.Pause(); err != nil {
			return deviceCommandFailed("pause", err)
		}
		s.pausedAt = s.deps.now()
		s.setState(StatePaused)
		s.touch()
		return nil
	})
}

func (s *Session) resume(ctx context.Context) error {
	return do(ctx, s.mb, func() error {
		cur := s.queue.Current()
		if cur == nil || s.State() != StatePaused {
			return ErrNotPaused
		}
		if err := s.device.Resume(); err != nil {
			return deviceCommandFailed("resume", err)
		}
		if !s.pausedAt.IsZero() {
			// exclude the paused interval from elapsed time
			cur.MarkStarted(cur.StartedAt().Add(s.deps.now().Sub(s.pausedAt)))
			s.pausedAt = time.Time{}
		}
		s.setState(StatePlaying)
		s.touch()
		return nil
	})
}

// stop halts playback and empties the queue without advancing
func (s *Session) stop(ctx context.Context) error {
	return do(ctx, s.mb, func() error {
		s.attempt++
		if err := s.device.Stop(); err != nil {
			logger.Log.Warn().Err(err).Str("session_id", s.id.String()).Msg("Device stop failed")
		}
		s.clearAll()
		return nil
	})
}

// clearPending drops every pending track and keeps the current one playing
func (s *Session) clearPending(ctx context.Context) (int, error) {
	return call(ctx, s.mb, func() (int, error) {
		cleared := s.queue.ClearPending()
		for _, t := range cleared {
			s.dispose(t)
		}
		s.scheduleCancelReset()
		s.touch()
		return len(cleared), nil
	})
}

func (s *Session) remove(ctx context.Context, pos int) (TrackInfo, error) {
	return call(ctx, s.mb, func() (TrackInfo, error) {
		t, err := s.queue.RemoveAt(pos)
		if err != nil {
			return TrackInfo{}, err
		}
		s.dispose(t)
		s.touch()
		return NewTrackInfo(t), nil
	})
}

// setVolume stores volume for the next playback and applies it live when the device supports it
func (s *Session) setVolume(ctx context.Context, volume float64) error {
	return do(ctx, s.mb, func() error {
		s.volume = volume
		s.touch()
		if s.queue.Current() == nil {
			return nil
		}
		if vs, ok := s.device.(device.VolumeSetter); ok {
			if err := vs.SetVolume(volume); err != nil {
				return deviceCommandFailed("volume", err)
			}
		}
		return nil
	})
}

func (s *Session) setLoop(ctx context.Context, mode LoopMode) error {
	return do(ctx, s.mb, func() error {
		s.loop = mode
		s.touch()
		return nil
	})
}

func (s *Session) listQueue(ctx context.Context) (QueueListing, error) {
	return call(ctx, s.mb, func() (QueueListing, error) {
		listing := QueueListing{
			State:         s.State(),
			Pending:       make([]QueueEntry, 0, s.queue.Len()),
			Loop:          s.loop,
			VolumePercent: volumeToPercent(s.volume),
		}
		if cur := s.queue.Current(); cur != nil {
			info := NewTrackInfo(cur)
			listing.Current = &info
		}
		for i, t := range s.queue.Pending() {
			listing.Pending = append(listing.Pending, QueueEntry{Position: i + 1, Track: NewTrackInfo(t)})
		}
		return listing, nil
	})
}

func (s *Session) nowPlaying(ctx context.Context) (NowPlaying, error) {
	return call(ctx, s.mb, func() (NowPlaying, error) {
		cur := s.queue.Current()
		if cur == nil {
			return NowPlaying{}, ErrNotPlaying
		}
		at := s.deps.now()
		if !s.pausedAt.IsZero() {
			at = s.pausedAt
		}
		elapsed := cur.Elapsed(at)
		return NowPlaying{
			Track:          NewTrackInfo(cur),
			State:          s.State(),
			ElapsedSeconds: int64(elapsed / time.Second),
			Elapsed:        models.FormatClock(elapsed),
			Duration:       cur.DurationString(),
			Loop:           s.loop,
			VolumePercent:  volumeToPercent(s.volume),
		}, nil
	})
}

func (s *Session) info(ctx context.Context) (SessionInfo, error) {
	return call(ctx, s.mb, func() (SessionInfo, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return SessionInfo{
			ID:            s.id.String(),
			OutputChannel: s.outputChannel,
			State:         s.state,
			Listeners:     s.listeners,
			QueueLength:   s.queue.Len(),
			BulkLoading:   s.queue.BulkLoadInProgress(),
			Clearing:      s.queue.CancelRequested(),
			LastActive:    s.lastActive,
		}, nil
	})
}

// teardown stops playback, disposes every track and closes the device.
// No event is accepted afterwards.
func (s *Session) teardown(ctx context.Context) error {
	s.mb.postFinal(s.shutdown)

	select {
	case <-s.mb.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reapIfIdle tears the session down if it is still unattended and idle past
// timeout once its event loop gets to the request, and nothing is queued
// behind it. unregister runs after the mailbox stops accepting events.
func (s *Session) reapIfIdle(ctx context.Context, timeout time.Duration, unregister func()) (bool, error) {
	reaped, err := call(ctx, s.mb, func() (bool, error) {
		if !s.ShouldReap(timeout) || !s.mb.closeIfEmpty() {
			return false, nil
		}
		unregister()
		s.shutdown()
		return true, nil
	})
	if errors.Is(err, ErrSessionClosed) {
		return false, nil
	}
	return reaped, err
}

// shutdown stops playback, disposes every track and closes the device.
// Runs on the event loop as its last event.
func (s *Session) shutdown() {
	s.attempt++
	if err := s.device.Stop(); err != nil {
		logger.Log.Warn().Err(err).Str("session_id", s.id.String()).Msg("Device stop failed during teardown")
	}
	s.clearAll()
	if err := s.device.Close(); err != nil {
		logger.Log.Warn().Err(err).Str("session_id", s.id.String()).Msg("Failed to close output device")
	}
}

func volumeToPercent(v float64) int {
	return int(math.Round(v * 100))
}
