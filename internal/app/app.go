// Package app is the caller-facing wrapper around a session: it remembers
// which program to run and how, validates call order, and keeps one event
// stream that outlives individual executions.
package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/byronwjones/chrysolite/internal/session"
)

// Option configures an App.
type Option func(*App)

// WithOutputLatency sets the pause that ends an unterminated message.
func WithOutputLatency(d time.Duration) Option {
	return func(a *App) { a.outputLatency = d }
}

// WithInactivityTimeout sets how long the program may stay silent before
// it is killed.
func WithInactivityTimeout(d time.Duration) Option {
	return func(a *App) { a.inactivityTimeout = d }
}

// WithDir sets the program's working directory.
func WithDir(dir string) Option {
	return func(a *App) { a.dir = dir }
}

// WithEnv adds KEY=VALUE entries to the inherited environment.
func WithEnv(env []string) Option {
	return func(a *App) { a.env = env }
}

// WithLogger sets the logger handed to each session.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithHistory sets how many events late subscribers can replay.
func WithHistory(n int) Option {
	return func(a *App) { a.history = n }
}

// WithListener adds a listener called synchronously for every message and
// exit, after the event stream has been updated. Unlike subscriptions it
// never drops events.
func WithListener(l session.Listener) Option {
	return func(a *App) { a.listener = l }
}

// App drives one command-line program. Each Execute starts a fresh
// session; only one may run at a time.
type App struct {
	path        string
	description string
	dir         string
	env         []string
	logger      *slog.Logger
	history     int
	listener    session.Listener
	events      *session.Broadcaster

	mu                sync.RWMutex
	outputLatency     time.Duration
	inactivityTimeout time.Duration
	current           *session.Session
	running           bool
}

// New creates an App for the executable at path.
func New(path, description string, opts ...Option) *App {
	a := &App{
		path:              path,
		description:       description,
		outputLatency:     session.DefaultOutputLatency,
		inactivityTimeout: session.DefaultInactivityTimeout,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.events = session.NewBroadcaster(a.history)
	return a
}

// Path returns the executable path.
func (a *App) Path() string { return a.path }

// Description returns the human-readable description of the program.
func (a *App) Description() string { return a.description }

// Running reports whether a program is currently executing.
func (a *App) Running() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}

// SessionID returns the ID of the current or most recent session.
func (a *App) SessionID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.current == nil {
		return ""
	}
	return a.current.ID()
}

// Timings returns the thresholds the next execution will use.
func (a *App) Timings() (outputLatency, inactivityTimeout time.Duration) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.outputLatency, a.inactivityTimeout
}

// SetTimings changes the thresholds for subsequent executions. A running
// program keeps the values it was started with.
func (a *App) SetTimings(outputLatency, inactivityTimeout time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outputLatency = outputLatency
	a.inactivityTimeout = inactivityTimeout
}

// Execute starts the program with args. It fails with
// session.ErrAlreadyRunning while a previous execution is still running.
func (a *App) Execute(args string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return session.ErrAlreadyRunning
	}

	var s *session.Session
	s = session.New(session.Config{
		Path:              a.path,
		OutputLatency:     a.outputLatency,
		InactivityTimeout: a.inactivityTimeout,
		Dir:               a.dir,
		Env:               a.env,
		Logger:            a.logger,
		Listener: session.ListenerFuncs{
			Message: func(m session.Message) {
				a.events.OnMessage(m)
				if a.listener != nil {
					a.listener.OnMessage(m)
				}
			},
			Exited: func(o session.ExitOutcome) {
				a.mu.Lock()
				if a.current == s {
					a.running = false
				}
				a.mu.Unlock()
				a.events.OnExited(o)
				if a.listener != nil {
					a.listener.OnExited(o)
				}
			},
		},
	})
	if err := s.Start(args); err != nil {
		return err
	}

	a.current = s
	a.running = true
	return nil
}

// SendInput writes a line to the running program. It fails with
// session.ErrNotRunning when nothing is running.
func (a *App) SendInput(text string) error {
	s, err := a.active()
	if err != nil {
		return err
	}
	return s.SendInput(text)
}

// Kill stops the running program. It does nothing when nothing runs.
func (a *App) Kill() {
	if s, err := a.active(); err == nil {
		s.Kill()
	}
}

// Wait blocks until the current execution exits.
func (a *App) Wait(ctx context.Context) (session.ExitOutcome, error) {
	a.mu.RLock()
	s := a.current
	a.mu.RUnlock()
	if s == nil {
		return session.ExitOutcome{}, session.ErrNotRunning
	}
	return s.Wait(ctx)
}

// Subscribe returns a channel of events from every execution together with
// the recent history.
func (a *App) Subscribe() (string, <-chan session.Event, []session.Event) {
	return a.events.Subscribe()
}

// Unsubscribe closes a subscription.
func (a *App) Unsubscribe(subID string) {
	a.events.Unsubscribe(subID)
}

// Close kills any running program and closes all subscriptions once it has
// exited or ctx is done.
func (a *App) Close(ctx context.Context) {
	a.mu.RLock()
	s, running := a.current, a.running
	a.mu.RUnlock()

	if running {
		s.Kill()
		_, _ = s.Wait(ctx)
	}
	a.events.Close()
}

func (a *App) active() (*session.Session, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.running {
		return nil, session.ErrNotRunning
	}
	return a.current, nil
}
