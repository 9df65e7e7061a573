// ABOUTME: Agent subprocess lifecycle: spawn in own process group, stream stdout events.
// ABOUTME: Provides group kill with join so a terminated agent is always reaped.

package agent

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
)

const (
	// eventBufferSize is the raw stdout event channel capacity. The session
	// pump is the only consumer and drains promptly; the buffer absorbs
	// bursts of tool-call events.
	eventBufferSize = 256

	// maxEventLineSize bounds one stdout line. Agent replies ride inside a
	// single agent_end event, so lines can be large.
	maxEventLineSize = 1024 * 1024

	// stderrTailSize is how many trailing stderr bytes are kept for
	// diagnostics when the agent dies badly.
	stderrTailSize = 4096
)

// processConfig describes how to spawn one agent subprocess.
type processConfig struct {
	command string
	args    []string
	dir     string
	logger  *slog.Logger
}

// process owns one running agent subprocess. The child is placed in its own
// process group so that signals delivered to the gateway never propagate to
// the agent, and so Kill can take down the agent and everything it spawned.
type process struct {
	cmd    *exec.Cmd
	logger *slog.Logger

	writeMu sync.Mutex
	stdin   io.WriteCloser
	enc     *json.Encoder

	events chan Event
	stderr tailBuffer

	killed  atomic.Bool
	done    chan struct{}
	waitErr error
}

// startProcess spawns the agent and begins pumping its stdout event stream.
func startProcess(cfg processConfig) (*process, error) {
	cmd := exec.Command(cfg.command, cfg.args...)
	cmd.Dir = cfg.dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("opening agent stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening agent stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("opening agent stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting agent %s: %w", cfg.command, err)
	}

	p := &process{
		cmd:    cmd,
		logger: cfg.logger,
		stdin:  stdin,
		enc:    json.NewEncoder(stdin),
		events: make(chan Event, eventBufferSize),
		done:   make(chan struct{}),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go p.pumpStdout(stdout, &readers)
	go p.collectStderr(stderr, &readers)
	go p.reap(&readers)

	p.logger.Debug("agent process started", "pid", cmd.Process.Pid, "command", cfg.command)
	return p, nil
}

// pumpStdout decodes stdout lines into the event channel. The channel is
// closed when the stream ends, which is how consumers learn the process's
// output is finished.
func (p *process) pumpStdout(stdout io.Reader, readers *sync.WaitGroup) {
	defer readers.Done()
	defer close(p.events)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxEventLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		ev, err := parseEvent(line)
		if err != nil {
			p.logger.Warn("unparseable agent output line", "error", err)
			continue
		}
		p.events <- ev
	}
	if err := scanner.Err(); err != nil {
		p.logger.Debug("agent stdout closed", "error", err)
	}
}

// collectStderr keeps a bounded tail of stderr for error reporting.
func (p *process) collectStderr(stderr io.Reader, readers *sync.WaitGroup) {
	defer readers.Done()

	buf := make([]byte, 4096)
	for {
		n, err := stderr.Read(buf)
		if n > 0 {
			p.stderr.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// reap waits for the pipe readers to finish, then reaps the child.
// cmd.Wait must not run while the pipes are still being read.
func (p *process) reap(readers *sync.WaitGroup) {
	readers.Wait()
	p.waitErr = p.cmd.Wait()
	close(p.done)
}

// send writes one JSON frame to the agent's stdin.
func (p *process) send(v any) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if err := p.enc.Encode(v); err != nil {
		return fmt.Errorf("writing to agent stdin: %w", err)
	}
	return nil
}

// Events returns the raw decoded event stream. Closed when stdout ends.
func (p *process) Events() <-chan Event {
	return p.events
}

// Kill force-terminates the agent's whole process group. Safe to call more
// than once, and tolerates a group that has already exited.
func (p *process) Kill() {
	if !p.killed.CompareAndSwap(false, true) {
		return
	}

	// The child is its own group leader, so the negative PID addresses the
	// entire group including anything the agent spawned.
	pid := p.cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		p.logger.Warn("killing agent process group", "pid", pid, "error", err)
	}
}

// Wait blocks until the subprocess has been reaped and returns its exit
// error, nil on clean exit.
func (p *process) Wait() error {
	<-p.done
	return p.waitErr
}

// Done is closed once the subprocess has exited and been reaped.
func (p *process) Done() <-chan struct{} {
	return p.done
}

// StderrTail returns the retained tail of the agent's stderr.
func (p *process) StderrTail() string {
	return p.stderr.String()
}

// tailBuffer keeps the most recent stderrTailSize bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (t *tailBuffer) Write(b []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, b...)
	if len(t.buf) > stderrTailSize {
		t.buf = t.buf[len(t.buf)-stderrTailSize:]
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
