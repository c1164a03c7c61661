package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Pinger checks whether the remote side is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Connectivity tracks reachability of the remote handler and calls
// OnRegain on every offline→online edge. The first successful check counts
// as a regain so a freshly started daemon flushes its queue.
type Connectivity struct {
	Pinger   Pinger
	Timeout  time.Duration
	OnRegain func()
	Log      zerolog.Logger

	mu     sync.Mutex
	online bool
	known  bool
}

// Online reports the result of the last check.
func (c *Connectivity) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// Check pings once and updates the state. It returns the ping error.
func (c *Connectivity) Check(ctx context.Context) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	err := c.Pinger.Ping(pctx)
	cancel()

	c.mu.Lock()
	was, known := c.online, c.known
	c.online, c.known = err == nil, true
	c.mu.Unlock()

	if err == nil {
		online.Set(1)
	} else {
		online.Set(0)
	}

	switch {
	case err == nil && (!was || !known):
		c.Log.Info().Msg("remote reachable")
		if c.OnRegain != nil {
			c.OnRegain()
		}
	case err != nil && (was || !known):
		c.Log.Warn().Err(err).Msg("remote unreachable")
	}
	return err
}
