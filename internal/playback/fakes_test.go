package playback

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/cadence/internal/config"
	"github.com/stwalsh4118/cadence/internal/device"
	"github.com/stwalsh4118/cadence/internal/models"
	"github.com/stwalsh4118/cadence/internal/resolver"
)

const testSession SessionID = 1001

// fakePlayback is one armed playback on a fakeDevice
type fakePlayback struct {
	ref        string
	onComplete device.CompletionFunc
	ended      bool
}

// fakeDevice records commands and lets tests end playbacks by hand
type fakeDevice struct {
	mu       sync.Mutex
	plays    []string
	volumes  []float64
	current  *fakePlayback
	paused   bool
	closed   bool
	failRefs map[string]error

	// released counts calls of the release funcs handed out by Play
	released atomic.Int32
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{failRefs: make(map[string]error)}
}

func (d *fakeDevice) Play(ref string, volume float64, onComplete device.CompletionFunc) (device.ReleaseFunc, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, device.ErrClosed
	}
	if d.current != nil {
		return nil, device.ErrBusy
	}
	if err, ok := d.failRefs[ref]; ok {
		return nil, err
	}
	pb := &fakePlayback{ref: ref, onComplete: onComplete}
	d.current = pb
	d.paused = false
	d.plays = append(d.plays, ref)
	d.volumes = append(d.volumes, volume)
	return func() error {
		d.released.Add(1)
		d.end(pb, nil)
		return nil
	}, nil
}

// end finishes pb and fires its completion outside the lock
func (d *fakeDevice) end(pb *fakePlayback, err error) bool {
	d.mu.Lock()
	if pb.ended || d.current != pb {
		d.mu.Unlock()
		return false
	}
	pb.ended = true
	d.current = nil
	d.paused = false
	d.mu.Unlock()

	pb.onComplete(err)
	return true
}

// Finish simulates the current track reaching its end
func (d *fakeDevice) Finish(err error) bool {
	d.mu.Lock()
	pb := d.current
	d.mu.Unlock()
	if pb == nil {
		return false
	}
	return d.end(pb, err)
}

func (d *fakeDevice) Pause() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return device.ErrNotActive
	}
	d.paused = true
	return nil
}

func (d *fakeDevice) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return device.ErrNotActive
	}
	if !d.paused {
		return device.ErrNotPaused
	}
	d.paused = false
	return nil
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	pb := d.current
	d.mu.Unlock()
	if pb != nil {
		d.end(pb, nil)
	}
	return nil
}

func (d *fakeDevice) IsPlaying() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current != nil && !d.paused
}

func (d *fakeDevice) IsPaused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current != nil && d.paused
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return d.Stop()
}

func (d *fakeDevice) Plays() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.plays...)
}

func (d *fakeDevice) Volumes() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]float64(nil), d.volumes...)
}

func (d *fakeDevice) failOn(ref string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failRefs[ref] = err
}

// fakeResolver resolves any locator to a track whose ref is "ref:<locator>"
type fakeResolver struct {
	mu          sync.Mutex
	failures    map[string]error
	playlist    *resolver.Playlist
	playlistErr error
	resolved    []string
	tracks      []*models.Track
	releases    map[*models.Track]*atomic.Int32

	// playlistGate, when set, holds ResolvePlaylist until it is closed
	playlistGate chan struct{}
	// onResolve, when set, runs before each ResolveOne
	onResolve func(locator string)
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		failures: make(map[string]error),
		releases: make(map[*models.Track]*atomic.Int32),
	}
}

func (r *fakeResolver) ResolveOne(_ context.Context, locator string, _ resolver.Mode) (*models.Track, error) {
	if r.onResolve != nil {
		r.onResolve(locator)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resolved = append(r.resolved, locator)
	if err, ok := r.failures[locator]; ok {
		return nil, err
	}

	t := models.NewTrack(locator, "uploader", locator, "ref:"+locator, 3*time.Minute)
	count := &atomic.Int32{}
	_ = t.AddReleaser(func() error {
		count.Add(1)
		return nil
	})
	r.tracks = append(r.tracks, t)
	r.releases[t] = count
	return t, nil
}

func (r *fakeResolver) ResolvePlaylist(_ context.Context, _ string, limit int) (*resolver.Playlist, error) {
	if r.playlistGate != nil {
		<-r.playlistGate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.playlistErr != nil {
		return nil, r.playlistErr
	}
	pl := *r.playlist
	if limit > 0 && len(pl.Entries) > limit {
		pl.Total = len(pl.Entries)
		pl.Entries = pl.Entries[:limit]
	}
	return &pl, nil
}

func (r *fakeResolver) Resolved() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.resolved...)
}

func (r *fakeResolver) Tracks() []*models.Track {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.Track(nil), r.tracks...)
}

// disposeCount returns how many times t's resources were released
func (r *fakeResolver) disposeCount(t *models.Track) int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.releases[t].Load()
}

func (r *fakeResolver) fail(locator string, kind resolver.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[locator] = resolver.NewResolveError(kind, locator, kind.String(), nil)
}

func (r *fakeResolver) setPlaylist(title string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]resolver.Entry, n)
	for i := range entries {
		entries[i] = resolver.Entry{
			ID:    fmt.Sprintf("id%d", i+1),
			URL:   entryURL(i + 1),
			Title: fmt.Sprintf("Entry %d", i+1),
		}
	}
	r.playlist = &resolver.Playlist{Title: title, Entries: entries}
}

func entryURL(n int) string {
	return fmt.Sprintf("https://www.youtube.com/watch?v=entry%d", n)
}

// fakeHistory collects recorded history rows
type fakeHistory struct {
	mu   sync.Mutex
	rows []*models.PlaybackHistory
}

func (h *fakeHistory) Record(_ context.Context, row *models.PlaybackHistory) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rows = append(h.rows, row)
	return nil
}

func (h *fakeHistory) Outcomes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.rows))
	for i, row := range h.rows {
		out[i] = row.Title + ":" + row.Outcome
	}
	return out
}

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	m       *Manager
	dev     *fakeDevice
	res     *fakeResolver
	history *fakeHistory
	clock   *fakeClock
}

func testPlaybackConfig() *config.PlaybackConfig {
	return &config.PlaybackConfig{
		DefaultVolume:      50,
		MaxPlaylistEntries: 50,
		ClearGracePeriod:   0,
		IdleTimeout:        time.Minute,
		ReaperInterval:     time.Hour,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		dev:     newFakeDevice(),
		res:     newFakeResolver(),
		history: &fakeHistory{},
		clock:   &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)},
	}
	factory := func(string) (device.OutputDevice, error) { return env.dev, nil }
	env.m = NewManager(testPlaybackConfig(), resolver.ModeStream, env.res, factory, env.history, nil)
	env.m.now = env.clock.Now
	t.Cleanup(env.m.Stop)
	return env
}

// play queues each locator on the test session
func (e *testEnv) play(t *testing.T, locators ...string) []PlayResult {
	t.Helper()
	results := make([]PlayResult, 0, len(locators))
	for _, loc := range locators {
		res, err := e.m.PlayOrQueue(context.Background(), testSession, loc, "requests")
		require.NoError(t, err)
		results = append(results, res)
	}
	return results
}

// listing returns the queue after every previously posted event has run
func (e *testEnv) listing(t *testing.T) QueueListing {
	t.Helper()
	l, err := e.m.ListQueue(context.Background(), testSession)
	require.NoError(t, err)
	return l
}

func (e *testEnv) session(t *testing.T) *Session {
	t.Helper()
	s, ok := e.m.registry.Get(testSession)
	require.True(t, ok)
	return s
}
