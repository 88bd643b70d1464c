package app

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kochabx/sessionkeeper/errors"
)

type fakeServer struct {
	once     sync.Once
	stopped  chan struct{}
	runErr   error
	shutdown int
	mu       sync.Mutex
}

func newFakeServer(runErr error) *fakeServer {
	return &fakeServer{stopped: make(chan struct{}), runErr: runErr}
}

func (s *fakeServer) Run() error {
	if s.runErr != nil {
		return s.runErr
	}
	<-s.stopped
	return http.ErrServerClosed
}

func (s *fakeServer) Shutdown(context.Context) error {
	s.mu.Lock()
	s.shutdown++
	s.mu.Unlock()
	s.once.Do(func() { close(s.stopped) })
	return nil
}

func (s *fakeServer) shutdowns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

func TestNew(t *testing.T) {
	app := New(
		WithServer(newFakeServer(nil), nil, newFakeServer(nil)),
		WithClose("a", func(context.Context) error { return nil }, 0),
		WithClose("nil", nil, 0),
	)

	info := app.Info()
	assert.False(t, info.Started)
	assert.Equal(t, 2, info.ServerCount)
	assert.Equal(t, 1, info.CloseCount)
	assert.Equal(t, 30*time.Second, app.closeFuncs[0].Timeout)
}

func TestStopRunsCloseFuncsInOrder(t *testing.T) {
	srv := newFakeServer(nil)

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}

	app := New(
		WithServer(srv),
		WithClose("engine", record("engine"), time.Second),
		WithClose("store", record("store"), time.Second),
	)
	require.NoError(t, app.RegisterClose("logger", record("logger"), 0))

	done := make(chan error, 1)
	go func() { done <- app.Start() }()

	assert.Eventually(t, func() bool { return app.Info().Started }, time.Second, 5*time.Millisecond)
	app.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("application did not stop")
	}

	assert.Equal(t, []string{"engine", "store", "logger"}, order)
	assert.Equal(t, 1, srv.shutdowns())
	assert.ErrorIs(t, app.Start(), ErrAlreadyStarted)
	assert.ErrorIs(t, app.RegisterClose("late", record("late"), 0), ErrAlreadyStarted)
}

func TestContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	app := New(WithContext(ctx), WithServer(newFakeServer(nil)))

	done := make(chan error, 1)
	go func() { done <- app.Start() }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("application did not stop")
	}
}

func TestServerFailure(t *testing.T) {
	boom := errors.ServiceUnavailable("listen failed")
	healthy := newFakeServer(nil)

	closed := make(chan struct{})
	app := New(
		WithServer(newFakeServer(boom), healthy),
		WithClose("engine", func(context.Context) error { close(closed); return nil }, time.Second),
	)

	err := app.Start()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, healthy.shutdowns())

	select {
	case <-closed:
	default:
		t.Fatal("close functions must run after a server failure")
	}
}

func TestCloseTaskFailures(t *testing.T) {
	app := New()

	err := app.runCloseTask(CloseFunc{Name: "panic", Timeout: time.Second, Fn: func(context.Context) error {
		panic("boom")
	}})
	assert.ErrorIs(t, err, ErrClosePanic)

	err = app.runCloseTask(CloseFunc{Name: "slow", Timeout: 10 * time.Millisecond, Fn: func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return nil
	}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Error(t, app.RegisterClose("nil", nil, 0))
}
