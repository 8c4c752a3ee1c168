package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

type fakeFetcher struct {
	mu        sync.Mutex
	session   *SessionData
	err       error
	logout    *LogoutResponse
	logoutErr error
	fetches   int
}

func (f *fakeFetcher) FetchSession(context.Context) (*SessionData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.session, f.err
}

func (f *fakeFetcher) Logout(context.Context, string) (*LogoutResponse, error) {
	return f.logout, f.logoutErr
}

func (f *fakeFetcher) LoginURL(_ context.Context, redirectURI string) (string, error) {
	return "https://kamiwaza.example.com/api/auth/login?redirect_uri=" + redirectURI, nil
}

func int64Ptr(v int64) *int64 { return &v }

func waitForTimer(t *testing.T, fc *clocktesting.FakeClock) {
	t.Helper()
	require.Eventually(t, fc.HasWaiters, time.Second, time.Millisecond, "countdown did not schedule a tick")
}

func TestCalculateTimeRemaining(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	_, ok := CalculateTimeRemaining(nil, now)
	assert.False(t, ok)

	expires := now.Unix() + 5
	prev := int64(1 << 62)
	for i := 0; i < 10; i++ {
		remaining, ok := CalculateTimeRemaining(&expires, now.Add(time.Duration(i)*time.Second))
		require.True(t, ok)
		assert.LessOrEqual(t, remaining, prev)
		assert.GreaterOrEqual(t, remaining, int64(0))
		prev = remaining
	}
	assert.Zero(t, prev)
}

func TestManager_CountdownStopsAtZero(t *testing.T) {
	fc := clocktesting.NewFakeClock(time.Unix(1_700_000_000, 0))
	fetcher := &fakeFetcher{session: &SessionData{
		UserID:           "u-1",
		Email:            "jane@example.com",
		AuthEnabled:      true,
		SessionExpiresAt: int64Ptr(fc.Now().Unix() + 30),
	}}

	var ticks int32
	m := NewManager(fetcher, WithClock(fc), WithTickHandler(func(int64) { atomic.AddInt32(&ticks, 1) }))
	defer m.Close()

	state := m.Init(context.Background())
	require.Equal(t, StatusReady, state.Status)

	remaining, ok := m.SecondsRemaining()
	require.True(t, ok)
	assert.Equal(t, int64(30), remaining)

	for i := 1; i <= 30; i++ {
		waitForTimer(t, fc)
		fc.Step(time.Second)
		want := int64(30 - i)
		require.Eventually(t, func() bool {
			r, _ := m.SecondsRemaining()
			return r == want
		}, time.Second, time.Millisecond)
	}

	// 31st simulated second: nothing is scheduled any more
	require.Eventually(t, func() bool { return !fc.HasWaiters() }, time.Second, time.Millisecond)
	fc.Step(time.Second)

	remaining, ok = m.SecondsRemaining()
	assert.True(t, ok)
	assert.Zero(t, remaining)
	assert.False(t, fc.HasWaiters())
	assert.Equal(t, int32(30), atomic.LoadInt32(&ticks))
	assert.Equal(t, StatusReady, m.State().Status, "reaching zero does not log the user out")
}

func TestManager_NoCountdownWithoutExpiry(t *testing.T) {
	fc := clocktesting.NewFakeClock(time.Unix(1_700_000_000, 0))

	tests := []struct {
		name    string
		session *SessionData
	}{
		{"auth disabled", &SessionData{UserID: "anonymous", AuthEnabled: false}},
		{"no expiry", &SessionData{UserID: "u-1", AuthEnabled: true}},
		{"already expired", &SessionData{UserID: "u-1", AuthEnabled: true, SessionExpiresAt: int64Ptr(fc.Now().Unix() - 10)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(&fakeFetcher{session: tt.session}, WithClock(fc))
			defer m.Close()

			m.Init(context.Background())
			assert.False(t, fc.HasWaiters())
		})
	}
}

func TestManager_FetchErrors(t *testing.T) {
	t.Run("session expired", func(t *testing.T) {
		m := NewManager(&fakeFetcher{err: &ExpiredError{Message: "Your session has expired"}})
		state := m.Init(context.Background())

		assert.Equal(t, StatusError, state.Status)
		assert.True(t, state.SessionExpired())
		assert.Nil(t, state.Session)
	})

	t.Run("network failure", func(t *testing.T) {
		m := NewManager(&fakeFetcher{err: errors.New("connection refused")})
		state := m.Init(context.Background())

		assert.Equal(t, StatusError, state.Status)
		assert.False(t, state.SessionExpired())
	})
}

func TestManager_RefreshRestartsCountdown(t *testing.T) {
	fc := clocktesting.NewFakeClock(time.Unix(1_700_000_000, 0))
	fetcher := &fakeFetcher{session: &SessionData{
		UserID: "u-1", AuthEnabled: true, SessionExpiresAt: int64Ptr(fc.Now().Unix() + 100),
	}}
	m := NewManager(fetcher, WithClock(fc))
	defer m.Close()

	m.Init(context.Background())
	waitForTimer(t, fc)

	fetcher.mu.Lock()
	fetcher.session = &SessionData{UserID: "u-1", AuthEnabled: true, SessionExpiresAt: int64Ptr(fc.Now().Unix() + 500)}
	fetcher.mu.Unlock()

	state := m.Refresh(context.Background())
	require.Equal(t, StatusReady, state.Status)
	remaining, _ := m.SecondsRemaining()
	assert.Equal(t, int64(500), remaining)
	assert.Equal(t, 2, fetcher.fetches)

	fetcher.mu.Lock()
	fetcher.err = errors.New("boom")
	fetcher.mu.Unlock()

	state = m.Refresh(context.Background())
	assert.Equal(t, StatusError, state.Status)
	_, ok := m.SecondsRemaining()
	assert.False(t, ok)
	require.Eventually(t, func() bool { return !fc.HasWaiters() }, time.Second, time.Millisecond)
}

func TestManager_LogoutAlwaysClearsSession(t *testing.T) {
	newManager := func(f *fakeFetcher) (*Manager, *clocktesting.FakeClock) {
		fc := clocktesting.NewFakeClock(time.Unix(1_700_000_000, 0))
		f.session = &SessionData{UserID: "u-1", AuthEnabled: true, SessionExpiresAt: int64Ptr(fc.Now().Unix() + 60)}
		m := NewManager(f, WithClock(fc))
		m.Init(context.Background())
		waitForTimer(t, fc)
		return m, fc
	}

	t.Run("success", func(t *testing.T) {
		m, fc := newManager(&fakeFetcher{logout: &LogoutResponse{Success: true, Message: "Logged out", RedirectURL: "https://k/login"}})
		defer m.Close()

		resp := m.Logout(context.Background(), "https://app/")
		require.NotNil(t, resp)
		assert.True(t, resp.Success)
		assert.Equal(t, "https://k/login", resp.RedirectURL)

		assert.Equal(t, StatusReady, m.State().Status)
		assert.Nil(t, m.State().Session)
		assert.False(t, fc.HasWaiters())
	})

	t.Run("network failure", func(t *testing.T) {
		m, fc := newManager(&fakeFetcher{logoutErr: errors.New("connection reset")})
		defer m.Close()

		resp := m.Logout(context.Background(), "https://app/")
		require.NotNil(t, resp)
		assert.False(t, resp.Success)
		assert.NotEmpty(t, resp.Message)
		assert.Equal(t, "https://app/", resp.RedirectURL)

		assert.Nil(t, m.State().Session)
		_, ok := m.SecondsRemaining()
		assert.False(t, ok)
		assert.False(t, fc.HasWaiters())
	})
}

func TestManager_CloseIsIdempotent(t *testing.T) {
	fc := clocktesting.NewFakeClock(time.Unix(1_700_000_000, 0))
	m := NewManager(&fakeFetcher{session: &SessionData{
		UserID: "u-1", AuthEnabled: true, SessionExpiresAt: int64Ptr(fc.Now().Unix() + 60),
	}}, WithClock(fc))

	m.Init(context.Background())
	waitForTimer(t, fc)

	m.Close()
	m.Close()
	assert.False(t, fc.HasWaiters())
}

// gatedFetcher blocks every FetchSession until its gate is released
type gatedFetcher struct {
	fakeFetcher
	calls    int32
	entered  chan int
	release  []chan struct{}
	sessions []*SessionData
}

func newGatedFetcher(sessions ...*SessionData) *gatedFetcher {
	f := &gatedFetcher{entered: make(chan int, len(sessions)), sessions: sessions}
	for range sessions {
		f.release = append(f.release, make(chan struct{}))
	}
	return f
}

func (f *gatedFetcher) FetchSession(context.Context) (*SessionData, error) {
	i := int(atomic.AddInt32(&f.calls, 1)) - 1
	f.entered <- i
	<-f.release[i]
	return f.sessions[i], nil
}

func TestManager_OverlappingRefreshKeepsOneCountdown(t *testing.T) {
	tests := []struct {
		name  string
		order []int
	}{
		{"newer fetch finishes first", []int{1, 0}},
		{"older fetch finishes first", []int{0, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := clocktesting.NewFakeClock(time.Unix(1_700_000_000, 0))
			older := &SessionData{UserID: "u-old", AuthEnabled: true, SessionExpiresAt: int64Ptr(fc.Now().Unix() + 100)}
			newer := &SessionData{UserID: "u-new", AuthEnabled: true, SessionExpiresAt: int64Ptr(fc.Now().Unix() + 500)}
			fetcher := newGatedFetcher(older, newer)
			m := NewManager(fetcher, WithClock(fc))

			var wg sync.WaitGroup
			refresh := func() {
				wg.Add(1)
				go func() {
					defer wg.Done()
					m.Refresh(context.Background())
				}()
				<-fetcher.entered
			}
			refresh()
			refresh()

			for _, i := range tt.order {
				close(fetcher.release[i])
			}
			wg.Wait()

			state := m.State()
			require.Equal(t, StatusReady, state.Status)
			require.NotNil(t, state.Session)
			assert.Equal(t, "u-new", state.Session.UserID)
			remaining, ok := m.SecondsRemaining()
			assert.True(t, ok)
			assert.Equal(t, int64(500), remaining)

			m.Close()
			assert.False(t, fc.HasWaiters(), "countdown still scheduled after Close")
		})
	}
}

func TestManager_CloseDuringRefresh(t *testing.T) {
	fc := clocktesting.NewFakeClock(time.Unix(1_700_000_000, 0))
	fetcher := newGatedFetcher(&SessionData{UserID: "u-1", AuthEnabled: true, SessionExpiresAt: int64Ptr(fc.Now().Unix() + 60)})
	m := NewManager(fetcher, WithClock(fc))

	done := make(chan State, 1)
	go func() { done <- m.Refresh(context.Background()) }()
	<-fetcher.entered

	m.Close()
	close(fetcher.release[0])

	state := <-done
	assert.Equal(t, StatusReady, state.Status)
	assert.False(t, fc.HasWaiters(), "refresh after Close must not start a countdown")
}
