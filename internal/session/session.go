package session

import (
	"log/slog"
	"time"
)

const (
	DefaultOutputLatency     = 500 * time.Millisecond
	MinOutputLatency         = 20 * time.Millisecond
	DefaultInactivityTimeout = 60 * time.Second
	MinInactivityTimeout     = 100 * time.Millisecond

	// DefaultExitGracePeriod is how long the exit notification is held back
	// so that output still buffered in the pipes can be framed first.
	DefaultExitGracePeriod = 100 * time.Millisecond

	// ExitCodeUnknown is reported when the process did not terminate
	// normally or its exit status could not be read.
	ExitCodeUnknown = -1
)

// State represents the lifecycle state of a session.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateExited  State = "exited"
)

// Stream identifies which output stream a message was read from.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Message is one framed unit of output from the child process.
type Message struct {
	SessionID string    `json:"sessionId"`
	Stream    Stream    `json:"stream"`
	Text      string    `json:"text"`
	Complete  bool      `json:"complete"`
	Timestamp time.Time `json:"timestamp"`
}

// ExitOutcome is published exactly once per session.
type ExitOutcome struct {
	SessionID string    `json:"sessionId"`
	ExitCode  int       `json:"exitCode"`
	TimedOut  bool      `json:"timedOut"`
	Timestamp time.Time `json:"timestamp"`
}

// Listener receives session notifications. OnMessage is never called after
// OnExited, and OnExited is called at most once.
type Listener interface {
	OnMessage(Message)
	OnExited(ExitOutcome)
}

// ListenerFuncs adapts plain functions to a Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Message func(Message)
	Exited  func(ExitOutcome)
}

func (l ListenerFuncs) OnMessage(m Message) {
	if l.Message != nil {
		l.Message(m)
	}
}

func (l ListenerFuncs) OnExited(o ExitOutcome) {
	if l.Exited != nil {
		l.Exited(o)
	}
}

// Config describes the program a Session launches.
type Config struct {
	// Path is the executable. It is resolved through PATH when it contains
	// no path separator.
	Path string

	// OutputLatency is the pause after a non-newline character before the
	// buffered output is flushed as an incomplete message.
	OutputLatency time.Duration

	// InactivityTimeout is the longest the session may go without input
	// sent or output framed before the process is killed.
	InactivityTimeout time.Duration

	// GracePeriod overrides DefaultExitGracePeriod when positive.
	GracePeriod time.Duration

	// Dir is the working directory; empty means the caller's.
	Dir string

	// Env is appended to the inherited environment.
	Env []string

	Listener Listener
	Logger   *slog.Logger
}

func (c Config) normalized() Config {
	switch {
	case c.OutputLatency <= 0:
		c.OutputLatency = DefaultOutputLatency
	case c.OutputLatency < MinOutputLatency:
		c.OutputLatency = MinOutputLatency
	}
	switch {
	case c.InactivityTimeout <= 0:
		c.InactivityTimeout = DefaultInactivityTimeout
	case c.InactivityTimeout < MinInactivityTimeout:
		c.InactivityTimeout = MinInactivityTimeout
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultExitGracePeriod
	}
	if c.Listener == nil {
		c.Listener = ListenerFuncs{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
