// Package device provides audio output devices that play one track at a time.
package device

import "errors"

// Device errors
var (
	ErrBusy        = errors.New("device is already playing")
	ErrNotActive   = errors.New("device has nothing playing")
	ErrNotPaused   = errors.New("device is not paused")
	ErrClosed      = errors.New("device is closed")
	ErrUnsupported = errors.New("operation not supported on this platform")
)

// CompletionFunc is invoked exactly once when a playback ends, whether it ran
// to the end, was stopped, or failed. err is nil unless the device failed.
type CompletionFunc func(err error)

// ReleaseFunc terminates the resources of one specific playback.
// It is a no-op once that playback has ended.
type ReleaseFunc func() error

// OutputDevice plays a single media reference at a time for one session.
//
// Stop ends the current playback and, like a natural end, triggers its
// CompletionFunc before returning. Implementations must not call the
// CompletionFunc while holding locks the caller may need.
type OutputDevice interface {
	Play(ref string, volume float64, onComplete CompletionFunc) (ReleaseFunc, error)
	Pause() error
	Resume() error
	Stop() error
	IsPlaying() bool
	IsPaused() bool
	Close() error
}

// VolumeSetter is implemented by devices that can change volume mid-playback
type VolumeSetter interface {
	SetVolume(volume float64) error
}

// Factory opens the output device for a session
type Factory func(sessionID string) (OutputDevice, error)
