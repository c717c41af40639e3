// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package circuitbreaker

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(t *testing.T) (*Breaker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	cfg.SuccessThreshold = 2
	cfg.MaxRequests = 2
	cfg.Timeout = 10 * time.Second
	cfg.Interval = time.Minute
	b := New("pubmed", cfg, zaptest.NewLogger(t))
	b.now = clock.now
	b.toNewGeneration(clock.now())
	return b, clock
}

var errBoom = errors.New("boom")

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Execute(func() error { return nil }))
	}
	assert.Equal(t, StateClosed, b.State())

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Execute(func() error { return errBoom }), errBoom)
	}
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called, "open breaker must not invoke fn")
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b, clock := newTestBreaker(t)
	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return errBoom })
	}
	require.Equal(t, StateOpen, b.State())

	clock.advance(11 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Execute(func() error { return nil }))
	require.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(t)
	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return errBoom })
	}
	clock.advance(11 * time.Second)
	require.Equal(t, StateHalfOpen, b.State())

	_ = b.Execute(func() error { return errBoom })
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerHalfOpenLimitsProbes(t *testing.T) {
	b, clock := newTestBreaker(t)
	b.config.SuccessThreshold = 5
	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return errBoom })
	}
	clock.advance(11 * time.Second)

	require.NoError(t, b.Execute(func() error { return nil }))
	require.NoError(t, b.Execute(func() error { return nil }))
	assert.ErrorIs(t, b.Execute(func() error { return nil }), ErrTooManyRequests)
}

func TestBreakerIntervalResetsCounts(t *testing.T) {
	b, clock := newTestBreaker(t)
	_ = b.Execute(func() error { return errBoom })
	_ = b.Execute(func() error { return errBoom })
	clock.advance(2 * time.Minute)
	_ = b.Execute(func() error { return errBoom })

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, uint32(1), b.Counts().ConsecutiveFailures)
}

func TestHTTPClientCountsServerErrors(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	b, _ := newTestBreaker(t)
	c := NewHTTPClient(ts.Client(), b)

	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
		resp, err := c.Do(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		resp.Body.Close()
	}
	assert.Equal(t, StateOpen, b.State())

	req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
	_, err := c.Do(req)
	assert.ErrorIs(t, err, ErrOpen)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestHTTPClientIgnoresClientErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	b, _ := newTestBreaker(t)
	c := NewHTTPClient(ts.Client(), b)
	for i := 0; i < 5; i++ {
		req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
		resp, err := c.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.Equal(t, StateClosed, b.State())
}
