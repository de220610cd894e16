package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"
)

type exitCause int

const (
	causeExited exitCause = iota
	causeTimeout
	causeKilled
)

func (c exitCause) String() string {
	switch c {
	case causeExited:
		return "exited"
	case causeTimeout:
		return "timeout"
	case causeKilled:
		return "killed"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

var errStdinClosed = errors.New("stdin pipe closed")

// stdinWriter wraps a pipe writer with mutex protection. Close does not
// wait for an in-flight Write; closing the file unblocks it instead.
type stdinWriter struct {
	mu     sync.Mutex
	writer *os.File
	closed atomic.Bool
}

func (sw *stdinWriter) Write(data []byte) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.closed.Load() {
		return errStdinClosed
	}
	_, err := sw.writer.Write(data)
	return err
}

func (sw *stdinWriter) Close() {
	if sw.closed.CompareAndSwap(false, true) {
		sw.writer.Close()
	}
}

// Session runs one child process, once. It frames the process's stdout and
// stderr into Messages, kills the process when it stays silent for longer
// than the inactivity timeout, and reports exactly one ExitOutcome however
// the process ends.
type Session struct {
	id  string
	cfg Config
	log *slog.Logger

	mu       sync.RWMutex
	state    State
	args     string
	cmd      *exec.Cmd
	stdin    *stdinWriter
	stdout   *os.File
	stderr   *os.File
	watchdog *Watchdog
	outcome  ExitOutcome

	// exiting is claimed by whichever of natural exit, timeout or Kill
	// happens first.
	exiting atomic.Bool

	// emitMu serializes listener calls against exit publication.
	emitMu sync.Mutex
	closed bool

	waited   chan struct{}
	exitCode int
	done     chan struct{}
}

// New creates an idle session.
func New(cfg Config) *Session {
	cfg = cfg.normalized()
	id := uuid.New().String()
	return &Session{
		id:     id,
		cfg:    cfg,
		log:    cfg.Logger.With("session_id", id),
		state:  StateIdle,
		waited: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Path returns the configured executable.
func (s *Session) Path() string { return s.cfg.Path }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Args returns the argument string the session was started with.
func (s *Session) Args() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.args
}

// PID returns the child's process ID, or -1 before Start.
func (s *Session) PID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return -1
	}
	return s.cmd.Process.Pid
}

// Done is closed after the ExitOutcome has been delivered.
func (s *Session) Done() <-chan struct{} { return s.done }

// Outcome returns the ExitOutcome once the session has exited.
func (s *Session) Outcome() (ExitOutcome, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outcome, s.state == StateExited
}

// Wait blocks until the session has exited or ctx is done.
func (s *Session) Wait(ctx context.Context) (ExitOutcome, error) {
	select {
	case <-s.done:
		o, _ := s.Outcome()
		return o, nil
	case <-ctx.Done():
		return ExitOutcome{}, ctx.Err()
	}
}

// Start launches the executable with args, which are split using POSIX
// shell quoting rules; no shell is involved. On failure the session stays
// idle.
func (s *Session) Start(args string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateRunning:
		return ErrAlreadyRunning
	case StateExited:
		return ErrSessionExited
	}
	if s.cfg.Path == "" {
		return ErrEmptyPath
	}

	argv, err := shellquote.Split(args)
	if err != nil {
		return fmt.Errorf("parse arguments: %w", err)
	}

	cmd := exec.Command(s.cfg.Path, argv...)
	cmd.Dir = s.cfg.Dir
	if len(s.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}
	configureCommand(cmd)

	// Set up pipes. The output pipes are plain os.Pipes rather than
	// cmd.StdoutPipe so that Wait never closes them under the framers.
	var opened []*os.File
	closeAll := func() {
		for _, f := range opened {
			f.Close()
		}
	}
	pipe := func() (*os.File, *os.File, error) {
		r, w, err := os.Pipe()
		if err != nil {
			return nil, nil, err
		}
		opened = append(opened, r, w)
		return r, w, nil
	}

	stdinR, stdinW, err := pipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := pipe()
	if err != nil {
		closeAll()
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	stderrR, stderrW, err := pipe()
	if err != nil {
		closeAll()
		return fmt.Errorf("create stderr pipe: %w", err)
	}
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		closeAll()
		return fmt.Errorf("start %s: %w", s.cfg.Path, err)
	}

	// The child holds its own copies of these now.
	stdinR.Close()
	stdoutW.Close()
	stderrW.Close()

	s.args = args
	s.cmd = cmd
	s.stdin = &stdinWriter{writer: stdinW}
	s.stdout = stdoutR
	s.stderr = stderrR
	s.watchdog = NewWatchdog(s.cfg.InactivityTimeout, func() { s.finish(causeTimeout) })
	s.state = StateRunning

	s.log.Info("process started", "path", s.cfg.Path, "pid", cmd.Process.Pid)

	s.watchdog.Start()
	go s.frame(StreamStdout, stdoutR)
	go s.frame(StreamStderr, stderrR)
	go s.waitForExit()

	return nil
}

// SendInput writes text and a line terminator to the child's stdin. Input
// sent after the session has begun shutting down is dropped silently.
func (s *Session) SendInput(text string) error {
	s.mu.RLock()
	state, stdin, wd := s.state, s.stdin, s.watchdog
	s.mu.RUnlock()

	if state == StateIdle {
		return ErrNotRunning
	}
	if state == StateExited || s.exiting.Load() {
		return nil
	}

	if err := stdin.Write([]byte(text + "\n")); err != nil {
		if s.exiting.Load() {
			return nil
		}
		return fmt.Errorf("write input: %w", err)
	}
	wd.Reset()
	return nil
}

// Kill forcibly terminates the process. It does nothing if the session
// never started or is already ending.
func (s *Session) Kill() {
	if s.State() != StateRunning {
		return
	}
	s.finish(causeKilled)
}

func (s *Session) frame(stream Stream, r *os.File) {
	f := NewFramer(s.cfg.OutputLatency, func(text string, complete bool) {
		s.emit(Message{
			SessionID: s.id,
			Stream:    stream,
			Text:      text,
			Complete:  complete,
			Timestamp: time.Now().UTC(),
		})
	})
	f.Run(r)
	s.log.Debug("stream closed", "stream", stream)
}

func (s *Session) emit(msg Message) {
	s.emitMu.Lock()
	if s.closed {
		s.emitMu.Unlock()
		return
	}
	s.cfg.Listener.OnMessage(msg)
	s.emitMu.Unlock()

	s.watchdog.Reset()
}

// waitForExit waits for the subprocess to exit and records its exit code.
func (s *Session) waitForExit() {
	err := s.cmd.Wait()

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = ExitCodeUnknown
		}
	}
	s.exitCode = exitCode
	close(s.waited)

	s.finish(causeExited)
}

// finish is the single exit path. Only the first caller proceeds.
func (s *Session) finish(cause exitCause) {
	if !s.exiting.CompareAndSwap(false, true) {
		return
	}

	s.mu.RLock()
	wd, cmd := s.watchdog, s.cmd
	s.mu.RUnlock()

	wd.Stop()

	if cause == causeTimeout {
		s.log.Warn("process inactive, terminating", "timeout", s.cfg.InactivityTimeout)
	}
	if cause != causeExited {
		s.terminate(cmd)
	}

	time.AfterFunc(s.cfg.GracePeriod, func() { s.publishExit(cause) })
}

func (s *Session) terminate(cmd *exec.Cmd) {
	select {
	case <-s.waited:
		return
	default:
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.log.Warn("kill failed", "pid", cmd.Process.Pid, "error", err)
	}
}

func (s *Session) publishExit(cause exitCause) {
	exitCode := ExitCodeUnknown
	select {
	case <-s.waited:
		exitCode = s.exitCode
	default:
	}

	outcome := ExitOutcome{
		SessionID: s.id,
		ExitCode:  exitCode,
		TimedOut:  cause == causeTimeout,
		Timestamp: time.Now().UTC(),
	}

	s.emitMu.Lock()
	s.closed = true
	s.mu.Lock()
	s.state = StateExited
	s.outcome = outcome
	s.mu.Unlock()
	s.log.Info("process exited", "cause", cause, "exit_code", exitCode)
	s.cfg.Listener.OnExited(outcome)
	s.emitMu.Unlock()

	s.release()
	close(s.done)
}

// release closes every pipe end still held by the parent. Closing the read
// ends also stops framers that are blocked on a descendant process that
// kept the pipes open.
func (s *Session) release() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.stdin.Close()
	s.stdout.Close()
	s.stderr.Close()
}
