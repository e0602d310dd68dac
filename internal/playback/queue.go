package playback

import (
	"sync/atomic"

	"github.com/stwalsh4118/cadence/internal/models"
)

// Queue holds a session's pending tracks and the one currently playing.
//
// pending and current are owned by the session's event loop and must only be
// touched from it. The bulk-load fields are atomics so loaders and the reaper
// can read them from other goroutines.
type Queue struct {
	pending []*models.Track
	current *models.Track

	bulkLoadInProgress atomic.Bool
	cancelBulkLoad     atomic.Bool
	// epoch increases on every clear; loaders compare it with the value they started under
	epoch atomic.Uint64
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{}
}

// EnqueueOrActivate makes t current when nothing is playing and the device is
// idle, otherwise appends it to pending
func (q *Queue) EnqueueOrActivate(t *models.Track, deviceIdle bool) EnqueueResult {
	if q.current == nil && deviceIdle {
		q.current = t
		return Activated
	}
	q.pending = append(q.pending, t)
	return Queued
}

// Append adds t to the tail of pending
func (q *Queue) Append(t *models.Track) {
	q.pending = append(q.pending, t)
}

// PopNext removes and returns the head of pending, or nil when empty
func (q *Queue) PopNext() *models.Track {
	if len(q.pending) == 0 {
		return nil
	}
	next := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return next
}

// ClearAll empties the queue and returns every pending track followed by the
// current one. It also flags any running bulk load for cancellation.
func (q *Queue) ClearAll() []*models.Track {
	cleared := q.ClearPending()
	if q.current != nil {
		cleared = append(cleared, q.current)
		q.current = nil
	}
	return cleared
}

// ClearPending empties pending, leaving current in place, and cancels any running bulk load
func (q *Queue) ClearPending() []*models.Track {
	q.cancelBulkLoad.Store(true)
	q.epoch.Add(1)

	cleared := q.pending
	q.pending = nil
	return cleared
}

// RemoveAt removes the pending track at 1-based position pos
func (q *Queue) RemoveAt(pos int) (*models.Track, error) {
	if pos < 1 || pos > len(q.pending) {
		return nil, ErrIndexOutOfRange
	}
	idx := pos - 1
	t := q.pending[idx]
	q.pending = append(q.pending[:idx], q.pending[idx+1:]...)
	return t, nil
}

// Current returns the playing track, or nil
func (q *Queue) Current() *models.Track {
	return q.current
}

// SetCurrent replaces the current track
func (q *Queue) SetCurrent(t *models.Track) {
	q.current = t
}

// Pending returns a copy of the pending tracks in play order
func (q *Queue) Pending() []*models.Track {
	out := make([]*models.Track, len(q.pending))
	copy(out, q.pending)
	return out
}

// Len returns the number of pending tracks
func (q *Queue) Len() int {
	return len(q.pending)
}

// Epoch returns the current clear epoch
func (q *Queue) Epoch() uint64 {
	return q.epoch.Load()
}

// LoadCancelled reports whether the queue has been cleared since epoch was read
func (q *Queue) LoadCancelled(epoch uint64) bool {
	return q.epoch.Load() != epoch
}

// CancelRequested reports whether a clear happened within the grace period
func (q *Queue) CancelRequested() bool {
	return q.cancelBulkLoad.Load()
}

// ResetCancel lowers the cancellation flag once the grace period has passed
func (q *Queue) ResetCancel() {
	q.cancelBulkLoad.Store(false)
}

// TryBeginBulkLoad marks a bulk load as running. It returns false if one already is.
func (q *Queue) TryBeginBulkLoad() bool {
	return q.bulkLoadInProgress.CompareAndSwap(false, true)
}

// EndBulkLoad clears the running bulk load marker
func (q *Queue) EndBulkLoad() {
	q.bulkLoadInProgress.Store(false)
}

// BulkLoadInProgress reports whether a bulk load is running
func (q *Queue) BulkLoadInProgress() bool {
	return q.bulkLoadInProgress.Load()
}
