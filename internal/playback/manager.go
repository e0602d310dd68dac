package playback

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/stwalsh4118/cadence/internal/config"
	"github.com/stwalsh4118/cadence/internal/device"
	"github.com/stwalsh4118/cadence/internal/logger"
	"github.com/stwalsh4118/cadence/internal/resolver"
)

const (
	teardownTimeout = 15 * time.Second
)

// Manager owns every live session and is the entry point for user intents
type Manager struct {
	config   *config.PlaybackConfig
	mode     resolver.Mode
	resolver resolver.Resolver
	factory  device.Factory
	history  HistoryRecorder
	notifier Notifier
	registry *Registry
	loader   *BulkLoader
	tasks    *taskGroup
	now      func() time.Time

	// loads started in the background run under baseCtx so Stop can cancel them
	baseCtx    context.Context
	cancelBase context.CancelFunc

	reaperTicker *time.Ticker
	stopChan     chan struct{}
	reaperDone   chan struct{}
	mu           sync.RWMutex
	started      bool
	stopped      bool
}

// NewManager creates a playback manager. history may be nil; a nil notifier logs outcomes.
func NewManager(
	cfg *config.PlaybackConfig,
	mode resolver.Mode,
	res resolver.Resolver,
	factory device.Factory,
	history HistoryRecorder,
	notifier Notifier,
) *Manager {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Manager{
		config:     cfg,
		mode:       mode,
		resolver:   res,
		factory:    factory,
		history:    history,
		notifier:   notifier,
		registry:   NewRegistry(),
		loader:     NewBulkLoader(res, mode, cfg.MaxPlaylistEntries),
		tasks:      &taskGroup{},
		now:        time.Now,
		baseCtx:    baseCtx,
		cancelBase: cancel,
		stopChan:   make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
}

// Start launches the idle-session reaper
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrManagerStopped
	}
	if m.started {
		return nil
	}
	m.started = true

	m.reaperTicker = time.NewTicker(m.config.ReaperInterval)
	go m.runReaperLoop()

	logger.Log.Info().
		Dur("reaper_interval", m.config.ReaperInterval).
		Dur("idle_timeout", m.config.IdleTimeout).
		Str("resolver_mode", m.mode.String()).
		Msg("Playback manager started")

	return nil
}

// Stop cancels background loads, tears down every session and waits for
// pending disposals to finish
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	started := m.started
	m.mu.Unlock()

	logger.Log.Info().Msg("Stopping playback manager...")

	close(m.stopChan)
	if started {
		<-m.reaperDone
		m.reaperTicker.Stop()
	}

	m.cancelBase()

	sessions := m.registry.List()
	for _, s := range sessions {
		if err := m.teardown(s); err != nil {
			logger.Log.Error().
				Err(err).
				Str("session_id", s.id.String()).
				Msg("Failed to tear down session during shutdown")
		}
	}

	m.tasks.Wait()

	logger.Log.Info().
		Int("stopped_sessions", len(sessions)).
		Msg("Playback manager stopped")
}

func (m *Manager) isStopped() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stopped
}

// session returns the live session for id
func (m *Manager) session(id SessionID) (*Session, error) {
	if m.isStopped() {
		return nil, ErrManagerStopped
	}
	s, ok := m.registry.Get(id)
	if !ok {
		return nil, ErrNotConnected
	}
	return s, nil
}

// sessionOrCreate returns the session for id, opening a device for it if needed
func (m *Manager) sessionOrCreate(id SessionID, outputChannel string) (*Session, error) {
	if m.isStopped() {
		return nil, ErrManagerStopped
	}
	s, created, err := m.registry.GetOrCreate(id, func() (*Session, error) {
		dev, err := m.factory(id.String())
		if err != nil {
			return nil, &PlaybackError{Kind: DeviceUnavailable, Op: "open", Cause: err}
		}
		return newSession(id, outputChannel, dev, float64(m.config.DefaultVolume)/100, sessionDeps{
			history:    m.history,
			tasks:      m.tasks,
			now:        m.now,
			clearGrace: m.config.ClearGracePeriod,
		}), nil
	})
	if err != nil {
		logger.Log.Error().Err(err).Str("session_id", id.String()).Msg("Failed to open output device")
		return nil, err
	}
	if created {
		logger.Log.Info().
			Str("session_id", id.String()).
			Str("output_channel", outputChannel).
			Msg("Session created")
	}
	return s, nil
}

// teardown removes s from the registry and shuts it down
func (m *Manager) teardown(s *Session) error {
	m.registry.Delete(s.id, s)

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := s.teardown(ctx); err != nil {
		return err
	}

	logger.Log.Info().Str("session_id", s.id.String()).Msg("Session torn down")
	return nil
}

// JoinSession connects a session to an output channel, creating it if needed
func (m *Manager) JoinSession(ctx context.Context, id SessionID, outputChannel string) (SessionInfo, error) {
	s, err := m.sessionOrCreate(id, outputChannel)
	if err != nil {
		return SessionInfo{}, err
	}
	s.setOutputChannel(outputChannel)
	return s.info(ctx)
}

// LeaveSession stops playback, disposes every track and forgets the session
func (m *Manager) LeaveSession(_ context.Context, id SessionID) error {
	s, err := m.session(id)
	if err != nil {
		return err
	}
	return m.teardown(s)
}

// RegisterListener counts a participant joining the session's output channel
func (m *Manager) RegisterListener(_ context.Context, id SessionID) (int, error) {
	s, err := m.session(id)
	if err != nil {
		return 0, err
	}
	count := s.addListeners(1)

	logger.Log.Debug().
		Str("session_id", id.String()).
		Int("listener_count", count).
		Msg("Listener registered")
	return count, nil
}

// UnregisterListener counts a participant leaving the output channel.
// The reaper handles sessions left without listeners.
func (m *Manager) UnregisterListener(_ context.Context, id SessionID) (int, error) {
	s, err := m.session(id)
	if err != nil {
		return 0, err
	}
	count := s.addListeners(-1)

	logger.Log.Debug().
		Str("session_id", id.String()).
		Int("listener_count", count).
		Msg("Listener unregistered")

	if count == 0 {
		logger.Log.Debug().
			Str("session_id", id.String()).
			Dur("idle_timeout", m.config.IdleTimeout).
			Msg("Last listener left, idle timeout started")
	}
	return count, nil
}

// PlayOrQueue resolves locator and plays or queues it. Playlist locators are
// loaded in the background and acknowledged with PlaylistLoading.
func (m *Manager) PlayOrQueue(ctx context.Context, id SessionID, locator, requester string) (PlayResult, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return PlayResult{}, resolver.ErrEmptyLocator
	}

	s, err := m.sessionOrCreate(id, "")
	if err != nil {
		return PlayResult{}, err
	}

	if resolver.IsURL(locator) && resolver.IsPlaylist(locator) {
		if err := m.startBackgroundLoad(s, locator, requester); err != nil {
			return PlayResult{}, err
		}
		return PlayResult{Kind: PlaylistLoading}, nil
	}

	track, err := m.resolver.ResolveOne(ctx, locator, m.mode)
	if err != nil {
		logger.Log.Warn().
			Err(err).
			Str("session_id", id.String()).
			Str("locator", locator).
			Str("error_kind", resolver.KindOf(err).String()).
			Msg("Could not resolve track")
		return PlayResult{}, err
	}
	if ctx.Err() != nil {
		// the caller gave up while the track resolved
		if err := track.Dispose(); err != nil {
			logger.Log.Warn().Err(err).Str("track_id", track.ID.String()).Msg("Failed to dispose abandoned track")
		}
		return PlayResult{}, ctx.Err()
	}

	track.RequestedBy = requester
	return s.enqueue(ctx, track, anyEpoch)
}

func (m *Manager) startBackgroundLoad(s *Session, locator, requester string) error {
	if !s.queue.TryBeginBulkLoad() {
		return ErrBulkLoadInProgress
	}
	// a clear that lands after the acknowledgement must cancel the load,
	// even when it runs before the task is scheduled
	epoch := s.queue.Epoch()
	m.tasks.Go(func() {
		summary, err := m.loader.run(m.baseCtx, s, epoch, locator, requester)
		if err != nil {
			m.notifier.PlaylistFailed(s.id, requester, locator, err)
			return
		}
		m.notifier.PlaylistLoaded(s.id, requester, summary)
	})
	return nil
}

// LoadPlaylist loads a playlist into the session and waits for the summary
func (m *Manager) LoadPlaylist(ctx context.Context, id SessionID, locator, requester string) (*BulkSummary, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return nil, resolver.ErrEmptyLocator
	}
	s, err := m.sessionOrCreate(id, "")
	if err != nil {
		return nil, err
	}
	return m.loader.Load(ctx, s, locator, requester)
}

// LastBulkSummary returns the most recent playlist load summary for the session
func (m *Manager) LastBulkSummary(_ context.Context, id SessionID) (*BulkSummary, bool, error) {
	s, err := m.session(id)
	if err != nil {
		return nil, false, err
	}
	summary, ok := s.LastSummary()
	return summary, ok, nil
}

// Skip ends the current track; the queue advances as if it finished
func (m *Manager) Skip(ctx context.Context, id SessionID) (TrackInfo, error) {
	s, err := m.session(id)
	if err != nil {
		return TrackInfo{}, err
	}
	return s.skip(ctx)
}

// Pause pauses the current track
func (m *Manager) Pause(ctx context.Context, id SessionID) error {
	s, err := m.session(id)
	if err != nil {
		return err
	}
	return s.pause(ctx)
}

// Resume resumes a paused track
func (m *Manager) Resume(ctx context.Context, id SessionID) error {
	s, err := m.session(id)
	if err != nil {
		return err
	}
	return s.resume(ctx)
}

// StopPlayback halts playback, empties the queue and cancels any playlist load
func (m *Manager) StopPlayback(ctx context.Context, id SessionID) error {
	s, err := m.session(id)
	if err != nil {
		return err
	}
	return s.stop(ctx)
}

// ClearQueue drops every pending track and cancels any playlist load.
// The current track keeps playing.
func (m *Manager) ClearQueue(ctx context.Context, id SessionID) (int, error) {
	s, err := m.session(id)
	if err != nil {
		return 0, err
	}
	return s.clearPending(ctx)
}

// Remove drops the pending track at 1-based position
func (m *Manager) Remove(ctx context.Context, id SessionID, position int) (TrackInfo, error) {
	s, err := m.session(id)
	if err != nil {
		return TrackInfo{}, err
	}
	return s.remove(ctx, position)
}

// ListQueue returns the current track and pending tracks in order
func (m *Manager) ListQueue(ctx context.Context, id SessionID) (QueueListing, error) {
	s, err := m.session(id)
	if err != nil {
		return QueueListing{}, err
	}
	return s.listQueue(ctx)
}

// SetVolume sets the session volume as a percentage from 0 to 100
func (m *Manager) SetVolume(ctx context.Context, id SessionID, percent int) error {
	if percent < 0 || percent > 100 {
		return ErrInvalidVolume
	}
	s, err := m.session(id)
	if err != nil {
		return err
	}
	return s.setVolume(ctx, float64(percent)/100)
}

// SetLoopMode sets what happens to tracks when they finish
func (m *Manager) SetLoopMode(ctx context.Context, id SessionID, mode LoopMode) error {
	if !mode.IsValid() {
		return ErrInvalidLoopMode
	}
	s, err := m.session(id)
	if err != nil {
		return err
	}
	return s.setLoop(ctx, mode)
}

// NowPlaying describes the current track
func (m *Manager) NowPlaying(ctx context.Context, id SessionID) (NowPlaying, error) {
	s, err := m.session(id)
	if err != nil {
		return NowPlaying{}, err
	}
	return s.nowPlaying(ctx)
}

// SessionInfo summarises one session
func (m *Manager) SessionInfo(ctx context.Context, id SessionID) (SessionInfo, error) {
	s, err := m.session(id)
	if err != nil {
		return SessionInfo{}, err
	}
	return s.info(ctx)
}

// ListSessions summarises every live session. Sessions closing mid-call are left out.
func (m *Manager) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	sessions := m.registry.List()
	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		info, err := s.info(ctx)
		if err != nil {
			if errors.Is(err, ErrSessionClosed) {
				continue
			}
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// runReaperLoop runs periodic teardown of idle sessions
func (m *Manager) runReaperLoop() {
	defer close(m.reaperDone)

	logger.Log.Debug().Msg("Reaper loop started")

	for {
		select {
		case <-m.stopChan:
			logger.Log.Debug().Msg("Reaper loop stopping")
			return
		case <-m.reaperTicker.C:
			m.performReap()
		}
	}
}

// reapIdle re-checks the reap condition on the session's event loop and tears
// the session down there, so a request queued in the meantime keeps it alive
func (m *Manager) reapIdle(s *Session) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	return s.reapIfIdle(ctx, m.config.IdleTimeout, func() {
		m.registry.Delete(s.id, s)
	})
}

// performReap tears down sessions with no listeners that have been idle past the timeout
func (m *Manager) performReap() int {
	idle := m.registry.GetAll(func(s *Session) bool {
		return s.ShouldReap(m.config.IdleTimeout)
	})

	reaped := 0
	for _, s := range idle {
		idleFor := s.IdleFor()
		ok, err := m.reapIdle(s)
		if err != nil {
			logger.Log.Error().
				Err(err).
				Str("session_id", s.id.String()).
				Msg("Failed to tear down idle session")
			continue
		}
		if !ok {
			logger.Log.Debug().Str("session_id", s.id.String()).Msg("Session became active before reaping")
			continue
		}
		logger.Log.Info().
			Str("session_id", s.id.String()).
			Dur("idle_duration", idleFor).
			Msg("Tore down idle session")
		reaped++
	}

	if reaped > 0 {
		logger.Log.Info().
			Int("reaped_count", reaped).
			Int("active_count", m.registry.Len()).
			Msg("Reaper cycle completed")
	}
	return reaped
}
