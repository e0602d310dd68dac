package device

import (
	"bufio"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/stwalsh4118/cadence/internal/logger"
)

const (
	// Process termination timeouts
	terminationTimeout = 5 * time.Second
	killTimeout        = 2 * time.Second

	stderrTailLines = 8
)

// ErrProcessTimeout indicates a decode process survived SIGKILL
var ErrProcessTimeout = errors.New("process termination timeout")

// process is one running decode pipeline
type process struct {
	cmd     *exec.Cmd
	done    chan struct{}
	tail    *tailBuffer
	mu      sync.Mutex
	paused  bool
	stopped bool // termination was requested, so a non-zero exit is not a failure
}

func (p *process) pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *process) setPaused(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = v
}

func (p *process) isPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// exited reports whether the process has been reaped
func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *process) wasStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// stop marks the process as deliberately ended and terminates it
func (p *process) stop() error {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	return p.terminate()
}

// terminate stops the process gracefully (SIGTERM) then forcefully (SIGKILL) if needed
func (p *process) terminate() error {
	if p.exited() {
		return nil
	}
	pid := p.pid()

	// a stopped process cannot handle SIGTERM
	if p.isPaused() {
		if err := resumeProcess(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
			logger.Log.Debug().Err(err).Int("pid", pid).Msg("Failed to continue paused process before termination")
		}
		p.setPaused(false)
	}

	if err := interruptProcess(p.cmd.Process); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			<-p.done
			return nil
		}
		logger.Log.Debug().Err(err).Int("pid", pid).Msg("Failed to send SIGTERM, killing")
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(terminationTimeout):
		logger.Log.Warn().
			Int("pid", pid).
			Dur("timeout", terminationTimeout).
			Msg("Decode process didn't exit gracefully, sending SIGKILL")
	}

	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(killTimeout):
		logger.Log.Error().
			Int("pid", pid).
			Dur("kill_timeout", killTimeout).
			Msg("Decode process did not die after SIGKILL")
		return ErrProcessTimeout
	}
}

// captureOutput logs process output line by line and keeps the last few lines.
// done is closed once the reader hits EOF.
func captureOutput(pid int, reader io.Reader, tail *tailBuffer, done chan<- struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := scanner.Text()
		tail.add(line)
		logger.Log.Debug().
			Int("ffmpeg_pid", pid).
			Str("output", line).
			Msg("FFmpeg output")
	}
}

// tailBuffer keeps the most recent lines written to it
type tailBuffer struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	if len(b.lines) > b.max {
		b.lines = b.lines[len(b.lines)-b.max:]
	}
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.lines, "; ")
}
