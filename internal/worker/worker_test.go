package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_PassesOnStartAndKick(t *testing.T) {
	passes := make(chan struct{}, 8)
	l := NewLoop("test-kick", time.Hour, zerolog.Nop(), func(context.Context) error {
		passes <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	waitPass(t, passes)
	l.Kick()
	waitPass(t, passes)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
	assert.GreaterOrEqual(t, testutil.ToFloat64(passTotal.WithLabelValues("test-kick", "ok")), 2.0)
}

func TestLoop_TicksAndSurvivesErrors(t *testing.T) {
	var n atomic.Int32
	l := NewLoop("test-tick", 5*time.Millisecond, zerolog.Nop(), func(context.Context) error {
		n.Add(1)
		return errors.New("boom")
	})
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	err := l.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, n.Load(), int32(3))
	assert.GreaterOrEqual(t, testutil.ToFloat64(passTotal.WithLabelValues("test-tick", "error")), 3.0)
}

func TestLoop_KickCoalescesAndNilSafe(t *testing.T) {
	l := NewLoop("test-coalesce", time.Hour, zerolog.Nop(), func(context.Context) error { return nil })
	l.Kick()
	l.Kick()
	assert.Len(t, l.kick, 1)

	var nilLoop *Loop
	assert.NotPanics(t, nilLoop.Kick)
	assert.NotPanics(t, (&Loop{}).Kick)
}

func TestLoop_QuietErrors(t *testing.T) {
	errOffline := errors.New("offline")
	l := NewLoop("test-quiet", time.Hour, zerolog.Nop(), func(context.Context) error { return errOffline })
	var asked atomic.Bool
	l.Quiet = func(err error) bool {
		asked.Store(true)
		return errors.Is(err, errOffline)
	}
	l.runPass(context.Background())
	assert.True(t, asked.Load())
}

type stubPinger struct {
	mu  sync.Mutex
	err error
}

func (p *stubPinger) set(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *stubPinger) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func TestConnectivity_RegainEdges(t *testing.T) {
	p := &stubPinger{}
	var regains int
	c := &Connectivity{Pinger: p, Timeout: time.Second, OnRegain: func() { regains++ }, Log: zerolog.Nop()}

	// first success counts as a regain
	require.NoError(t, c.Check(context.Background()))
	assert.True(t, c.Online())
	assert.Equal(t, 1, regains)
	assert.Equal(t, 1.0, testutil.ToFloat64(online))

	require.NoError(t, c.Check(context.Background()))
	assert.Equal(t, 1, regains)

	p.set(errors.New("dial tcp: refused"))
	assert.Error(t, c.Check(context.Background()))
	assert.False(t, c.Online())
	assert.Equal(t, 0.0, testutil.ToFloat64(online))

	p.set(nil)
	require.NoError(t, c.Check(context.Background()))
	assert.Equal(t, 2, regains)
}

func TestConnectivity_FirstCheckOffline(t *testing.T) {
	p := &stubPinger{}
	p.set(errors.New("timeout"))
	var regains int
	c := &Connectivity{Pinger: p, OnRegain: func() { regains++ }, Log: zerolog.Nop()}

	assert.Error(t, c.Check(context.Background()))
	assert.False(t, c.Online())
	assert.Zero(t, regains)

	p.set(nil)
	require.NoError(t, c.Check(context.Background()))
	assert.Equal(t, 1, regains)
}

func waitPass(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no pass")
	}
}
