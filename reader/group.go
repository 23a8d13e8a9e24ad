package reader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cryptofeeds/internal/marketdata"
	"cryptofeeds/internal/symbols"
	"cryptofeeds/logger"
)

// Target is one (exchange, instrument type) connection to run.
type Target struct {
	Name     string
	Exchange string
	Feed     Feed
	Symbols  []string
}

// Group supervises the connections started by Spawn.
type Group struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	errs   map[string]error
	states map[string]State
	names  []string
}

// Spawn starts one connection per target. Every connection stops when ctx is
// cancelled or Shutdown is called.
func Spawn(ctx context.Context, targets []Target, store *marketdata.AllMarketData, registry *symbols.Registry, cfg ConnectionConfig) (*Group, error) {
	g := &Group{errs: make(map[string]error), states: make(map[string]State)}
	conns := make([]*Connection, 0, len(targets))
	for _, t := range targets {
		coll, err := store.Collection(t.Exchange)
		if err != nil {
			return nil, fmt.Errorf("spawn %s: %w", t.Name, err)
		}
		conn := NewConnection(t.Name, t.Feed, t.Symbols, coll, registry, cfg)
		name := t.Name
		conn.OnStateChange(func(s State) {
			g.mu.Lock()
			g.states[name] = s
			g.mu.Unlock()
		})
		g.states[name] = StateConnecting
		conns = append(conns, conn)
	}

	ctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	log := logger.GetLogger().WithComponent("reader")
	for _, conn := range conns {
		g.names = append(g.names, conn.Name())
		g.wg.Add(1)
		go func(conn *Connection) {
			defer g.wg.Done()
			if err := conn.Run(ctx); err != nil {
				g.mu.Lock()
				g.errs[conn.Name()] = err
				g.mu.Unlock()
			}
		}(conn)
	}
	log.WithField("connections", len(conns)).Info("spawned feed connections")
	return g, nil
}

// Shutdown signals every connection to stop.
func (g *Group) Shutdown() {
	g.cancel()
}

// Wait blocks until all connections return or timeout elapses and reports
// whether they all returned.
func (g *Group) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		logger.GetLogger().WithComponent("reader").WithField("timeout", timeout.String()).Warn("abandoning connections still running after shutdown grace period")
		return false
	}
}

// Errors returns the configuration errors that stopped connections.
func (g *Group) Errors() map[string]error {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]error, len(g.errs))
	for k, v := range g.errs {
		out[k] = v
	}
	return out
}

// States reports the last lifecycle state of every connection.
func (g *Group) States() map[string]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]string, len(g.states))
	for k, v := range g.states {
		out[k] = v.String()
	}
	return out
}

// Names lists the spawned connection names.
func (g *Group) Names() []string {
	return append([]string(nil), g.names...)
}
