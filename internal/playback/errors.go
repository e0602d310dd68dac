package playback

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrSessionClosed      = errors.New("session has been torn down")
	ErrBulkLoadInProgress = errors.New("a playlist is already loading for this session")
	ErrLoadCancelled      = errors.New("playlist load was cancelled by a queue clear")
	ErrInvalidVolume      = errors.New("volume must be between 0 and 100")
	ErrInvalidLoopMode    = errors.New("loop mode must be off, song or queue")
	ErrManagerStopped     = errors.New("playback manager has been stopped")
)

// QueueErrorKind classifies a queue-state validation failure
type QueueErrorKind int

const (
	// QueueNotPlaying indicates the command needs a current track
	QueueNotPlaying QueueErrorKind = iota
	// QueueNotPaused indicates resume was issued while not paused
	QueueNotPaused
	// QueueIndexOutOfRange indicates a queue position that does not exist
	QueueIndexOutOfRange
	// QueueNotConnected indicates the session does not exist
	QueueNotConnected
)

// String returns the string representation of QueueErrorKind
func (k QueueErrorKind) String() string {
	switch k {
	case QueueNotPlaying:
		return "not_playing"
	case QueueNotPaused:
		return "not_paused"
	case QueueIndexOutOfRange:
		return "index_out_of_range"
	case QueueNotConnected:
		return "not_connected"
	default:
		return "unknown"
	}
}

// QueueError is a synchronous validation failure against the session's state
type QueueError struct {
	Kind    QueueErrorKind
	Message string
}

// Error implements the error interface
func (e *QueueError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind.String(), e.Message)
}

// Is matches any QueueError of the same kind
func (e *QueueError) Is(target error) bool {
	var t *QueueError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Queue errors usable with errors.Is
var (
	ErrNotPlaying      = &QueueError{Kind: QueueNotPlaying, Message: "nothing is playing"}
	ErrNotPaused       = &QueueError{Kind: QueueNotPaused, Message: "playback is not paused"}
	ErrIndexOutOfRange = &QueueError{Kind: QueueIndexOutOfRange, Message: "no track at that position"}
	ErrNotConnected    = &QueueError{Kind: QueueNotConnected, Message: "session is not connected"}
)

// IsNotPlaying checks if err is a not-playing queue error
func IsNotPlaying(err error) bool {
	return errors.Is(err, ErrNotPlaying)
}

// IsNotPaused checks if err is a not-paused queue error
func IsNotPaused(err error) bool {
	return errors.Is(err, ErrNotPaused)
}

// IsIndexOutOfRange checks if err is an out-of-range queue error
func IsIndexOutOfRange(err error) bool {
	return errors.Is(err, ErrIndexOutOfRange)
}

// IsNotConnected checks if err means the session does not exist
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected) || errors.Is(err, ErrSessionClosed)
}

// PlaybackErrorKind classifies an output device failure
type PlaybackErrorKind int

const (
	// DeviceUnavailable indicates the device could not be opened
	DeviceUnavailable PlaybackErrorKind = iota
	// DeviceCommandFailed indicates the device rejected a command
	DeviceCommandFailed
)

// String returns the string representation of PlaybackErrorKind
func (k PlaybackErrorKind) String() string {
	switch k {
	case DeviceUnavailable:
		return "device_unavailable"
	case DeviceCommandFailed:
		return "device_command_failed"
	default:
		return "unknown"
	}
}

// PlaybackError wraps an output device failure
type PlaybackError struct {
	Kind  PlaybackErrorKind
	Op    string
	Cause error
}

// Error implements the error interface
func (e *PlaybackError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind.String(), e.Op, e.Cause)
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *PlaybackError) Unwrap() error {
	return e.Cause
}

func deviceCommandFailed(op string, cause error) *PlaybackError {
	return &PlaybackError{Kind: DeviceCommandFailed, Op: op, Cause: cause}
}

// IsPlaybackError checks if err is an output device failure
func IsPlaybackError(err error) bool {
	var pe *PlaybackError
	return errors.As(err, &pe)
}
