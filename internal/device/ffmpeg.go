package device

import (
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/stwalsh4118/cadence/internal/logger"
)

// FFmpegConfig configures the ffmpeg output device
type FFmpegConfig struct {
	Path     string // ffmpeg binary
	Format   string // output muxer, e.g. "null", "s16le", "mp3"
	Target   string // output URL or path; "{session}" is replaced by the session id
	Realtime bool   // read input at native rate (-re) so playback takes real time
}

// FFmpegDevice decodes each track with an ffmpeg process and writes it to a sink.
// Pause and resume suspend the process in place.
type FFmpegDevice struct {
	cfg       FFmpegConfig
	sessionID string
	mu        sync.Mutex
	current   *process
	closed    bool
}

// NewFFmpegDevice creates an ffmpeg device for a session
func NewFFmpegDevice(sessionID string, cfg FFmpegConfig) *FFmpegDevice {
	if cfg.Path == "" {
		cfg.Path = "ffmpeg"
	}
	if cfg.Format == "" {
		cfg.Format = "null"
	}
	if cfg.Target == "" {
		cfg.Target = "-"
	}
	return &FFmpegDevice{cfg: cfg, sessionID: sessionID}
}

// NewFFmpegFactory returns a Factory that opens an FFmpegDevice per session
func NewFFmpegFactory(cfg FFmpegConfig) Factory {
	return func(sessionID string) (OutputDevice, error) {
		if _, err := exec.LookPath(cfg.Path); err != nil {
			return nil, fmt.Errorf("ffmpeg not available: %w", err)
		}
		return NewFFmpegDevice(sessionID, cfg), nil
	}
}

// Play starts decoding ref. onComplete fires once when the process exits.
func (d *FFmpegDevice) Play(ref string, volume float64, onComplete CompletionFunc) (ReleaseFunc, error) {
	if onComplete == nil {
		onComplete = func(error) {}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}
	if d.current != nil {
		return nil, ErrBusy
	}

	args := d.buildArgs(ref, volume)
	cmd := exec.Command(d.cfg.Path, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	p := &process{
		cmd:  cmd,
		done: make(chan struct{}),
		tail: newTailBuffer(stderrTailLines),
	}
	d.current = p

	captured := make(chan struct{})
	go captureOutput(p.pid(), stderr, p.tail, captured)
	go d.monitor(p, captured, onComplete)

	logger.Log.Debug().
		Str("session_id", d.sessionID).
		Int("pid", p.pid()).
		Float64("volume", volume).
		Msg("FFmpeg playback started")

	return p.stop, nil
}

// monitor reaps the process, reports completion, then marks it done
func (d *FFmpegDevice) monitor(p *process, captured <-chan struct{}, onComplete CompletionFunc) {
	// Wait closes the pipe, so drain it first
	<-captured
	waitErr := p.cmd.Wait()

	d.mu.Lock()
	if d.current == p {
		d.current = nil
	}
	d.mu.Unlock()

	var err error
	if waitErr != nil && !p.wasStopped() {
		err = fmt.Errorf("ffmpeg exited: %w: %s", waitErr, p.tail.String())
	}

	logger.Log.Debug().
		Str("session_id", d.sessionID).
		Int("pid", p.pid()).
		Bool("stopped", p.wasStopped()).
		Err(err).
		Msg("FFmpeg playback ended")

	onComplete(err)
	close(p.done)
}

// Pause suspends the running process
func (d *FFmpegDevice) Pause() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := d.current
	if p == nil {
		return ErrNotActive
	}
	if p.isPaused() {
		return nil
	}
	if err := suspendProcess(p.cmd.Process); err != nil {
		return fmt.Errorf("failed to pause: %w", err)
	}
	p.setPaused(true)
	return nil
}

// Resume continues a suspended process
func (d *FFmpegDevice) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := d.current
	if p == nil {
		return ErrNotActive
	}
	if !p.isPaused() {
		return ErrNotPaused
	}
	if err := resumeProcess(p.cmd.Process); err != nil {
		return fmt.Errorf("failed to resume: %w", err)
	}
	p.setPaused(false)
	return nil
}

// Stop terminates the current playback. Its completion callback has run by the time Stop returns.
func (d *FFmpegDevice) Stop() error {
	d.mu.Lock()
	p := d.current
	d.mu.Unlock()

	if p == nil {
		return nil
	}
	return p.stop()
}

// IsPlaying reports whether a track is playing and not paused
func (d *FFmpegDevice) IsPlaying() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current != nil && !d.current.isPaused()
}

// IsPaused reports whether the current track is paused
func (d *FFmpegDevice) IsPaused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current != nil && d.current.isPaused()
}

// Close stops any playback and rejects further Play calls
func (d *FFmpegDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return d.Stop()
}

// buildArgs builds the ffmpeg command line for one playback
func (d *FFmpegDevice) buildArgs(ref string, volume float64) []string {
	args := []string{"-nostdin", "-hide_banner", "-loglevel", "error"}

	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		args = append(args, "-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "5")
	}
	if d.cfg.Realtime {
		args = append(args, "-re")
	}

	args = append(args,
		"-i", ref,
		"-vn",
		"-af", fmt.Sprintf("volume=%.2f", volume),
		"-f", d.cfg.Format,
		strings.ReplaceAll(d.cfg.Target, "{session}", d.sessionID),
	)
	return args
}
