// Package session tracks the signed-in user of an App Garden gateway and
// counts down to the end of their platform session.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"k8s.io/utils/clock"
)

const tickInterval = time.Second

const logoutFailedMessage = "Logout failed, but local session cleared"

// Fetcher is the network side of a Manager. *Client implements it.
type Fetcher interface {
	FetchSession(ctx context.Context) (*SessionData, error)
	Logout(ctx context.Context, redirectURI string) (*LogoutResponse, error)
	LoginURL(ctx context.Context, redirectURI string) (string, error)
}

// Option configures a Manager
type Option func(*Manager)

// WithClock replaces the wall clock, mainly for tests
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the manager's logger
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithTickHandler registers fn to receive the remaining seconds on every
// countdown tick. fn runs on the countdown goroutine and must not call back
// into Refresh, Logout or Close.
func WithTickHandler(fn func(remaining int64)) Option {
	return func(m *Manager) { m.onTick = fn }
}

// Manager owns the session state of one client. Construct it once, call Init,
// and Close it on teardown to stop the countdown. It is safe for concurrent
// use; when fetches overlap the most recently started one wins.
type Manager struct {
	fetcher Fetcher
	clock   clock.Clock
	logger  zerolog.Logger
	onTick  func(int64)

	mu           sync.RWMutex
	state        State
	remaining    int64
	hasRemaining bool
	gen          uint64
	closed       bool

	stop context.CancelFunc
	done chan struct{}
}

// NewManager creates a manager in StatusLoading
func NewManager(fetcher Fetcher, opts ...Option) *Manager {
	m := &Manager{
		fetcher: fetcher,
		clock:   clock.RealClock{},
		logger:  zerolog.Nop(),
		state:   State{Status: StatusLoading},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init performs the first session fetch
func (m *Manager) Init(ctx context.Context) State {
	return m.Refresh(ctx)
}

// Refresh reloads the session: the state passes through StatusLoading and
// settles on StatusReady or StatusError. A fetch overtaken by a later Refresh
// or Logout is discarded and the current state is returned.
func (m *Manager) Refresh(ctx context.Context) State {
	gen := m.transition(State{Status: StatusLoading})

	data, err := m.fetcher.FetchSession(ctx)
	if err != nil {
		m.logger.Debug().Err(err).Msg("Session fetch failed")
		return m.settle(gen, State{Status: StatusError, Err: err})
	}

	return m.settle(gen, State{Status: StatusReady, Session: data})
}

// Logout ends the session upstream and always clears it locally. When the
// upstream call fails a response with Success=false is returned so the caller
// can still navigate away.
func (m *Manager) Logout(ctx context.Context, redirectURI string) *LogoutResponse {
	resp, err := m.fetcher.Logout(ctx, redirectURI)

	m.transition(State{Status: StatusReady})

	if err != nil {
		m.logger.Warn().Err(err).Msg("Logout request failed")
		return &LogoutResponse{
			Success:     false,
			Message:     logoutFailedMessage,
			RedirectURL: redirectURI,
		}
	}
	return resp
}

// LoginURL returns the platform login URL for redirectURI
func (m *Manager) LoginURL(ctx context.Context, redirectURI string) (string, error) {
	return m.fetcher.LoginURL(ctx, redirectURI)
}

// State returns the current snapshot
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// SecondsRemaining returns the last computed countdown value. ok is false when
// auth is disabled or the session has no expiry.
func (m *Manager) SecondsRemaining() (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.remaining, m.hasRemaining
}

// Close stops the countdown and waits for it to exit. Later refreshes still
// update State but no longer start a countdown.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	stop, done := m.detachLocked()
	m.mu.Unlock()

	cancelAndWait(stop, done)
}

// transition stops the countdown, installs s and invalidates in-flight fetches
func (m *Manager) transition(s State) uint64 {
	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.setStateLocked(s)
	stop, done := m.detachLocked()
	m.mu.Unlock()

	cancelAndWait(stop, done)
	return gen
}

// settle installs the outcome of the fetch started at gen, unless a newer
// transition happened meanwhile
func (m *Manager) settle(gen uint64, s State) State {
	m.mu.Lock()
	if gen != m.gen {
		current := m.state
		m.mu.Unlock()
		return current
	}

	m.setStateLocked(s)
	stop, done := m.detachLocked()
	m.startCountdownLocked(s.Session)
	m.mu.Unlock()

	cancelAndWait(stop, done)
	return s
}

func (m *Manager) setStateLocked(s State) {
	m.state = s
	if s.Session == nil {
		m.remaining, m.hasRemaining = 0, false
	}
}

// detachLocked takes ownership of the running countdown, if any. The caller
// must cancel and wait on it after releasing m.mu, since the countdown itself
// takes the lock on every tick.
func (m *Manager) detachLocked() (context.CancelFunc, chan struct{}) {
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	return stop, done
}

func (m *Manager) startCountdownLocked(data *SessionData) {
	if data == nil || !data.AuthEnabled || data.SessionExpiresAt == nil {
		return
	}
	expiresAt := *data.SessionExpiresAt

	remaining, _ := CalculateTimeRemaining(&expiresAt, m.clock.Now())
	m.remaining, m.hasRemaining = remaining, true

	if remaining == 0 || m.closed {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.stop, m.done = cancel, done

	go m.countdown(ctx, expiresAt, done)
}

func (m *Manager) countdown(ctx context.Context, expiresAt int64, done chan struct{}) {
	defer close(done)

	for {
		timer := m.clock.NewTimer(tickInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C():
		}

		remaining, _ := CalculateTimeRemaining(&expiresAt, m.clock.Now())

		m.mu.Lock()
		if m.done != done {
			// Detached by a newer transition
			m.mu.Unlock()
			return
		}
		m.remaining, m.hasRemaining = remaining, true
		m.mu.Unlock()

		if m.onTick != nil {
			m.onTick(remaining)
		}

		if remaining == 0 {
			m.logger.Debug().Msg("Session countdown reached zero")
			return
		}
	}
}

func cancelAndWait(stop context.CancelFunc, done chan struct{}) {
	if stop == nil {
		return
	}
	stop()
	<-done
}
