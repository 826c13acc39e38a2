// Package lifecycle orders the start of a session: durable hydration and peer
// readiness come before the view is loaded, and the view is loaded before the
// reconciliation loop is armed.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/zeusync/annosync/internal/core/observability/log"
)

var (
	ErrOutOfOrder = errors.New("lifecycle transition out of order")
	ErrClosed     = errors.New("gate is closed")
)

type State int32

const (
	Uninitialized State = iota
	DurableSynced
	PeerSynced
	ViewLoaded
	Armed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case DurableSynced:
		return "durable-synced"
	case PeerSynced:
		return "peer-synced"
	case ViewLoaded:
		return "view-loaded"
	case Armed:
		return "armed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type Config struct {
	// Settle is how long a peer status must hold before it is trusted.
	Settle time.Duration
	// PeerWait bounds how long Wait waits for peers before going on locally.
	PeerWait time.Duration
}

func DefaultConfig() Config {
	return Config{
		Settle:   500 * time.Millisecond,
		PeerWait: 5 * time.Second,
	}
}

// Transition is reported to OnTransition callbacks.
type Transition struct {
	From State
	To   State
}

type listener struct {
	id uint64
	fn func(Transition)
}

// Gate tracks the readiness of one session.
type Gate struct {
	config Config
	logger log.Log

	mu        sync.Mutex
	emitMu    sync.Mutex
	state     State
	durable   bool
	peer      bool
	connected bool
	local     bool
	closed    bool
	durableCh chan struct{}
	peerCh    chan struct{}
	settle    *time.Timer
	gen       uint64
	listeners []listener
	nextID    uint64
}

func New(config Config, logger log.Log) *Gate {
	return &Gate{
		config:    config,
		logger:    log.OrNop(logger).With(log.Component("lifecycle")),
		durableCh: make(chan struct{}),
		peerCh:    make(chan struct{}),
	}
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Connected reports the last settled peer status.
func (g *Gate) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

// Local reports whether peer readiness was assumed without a peer.
func (g *Gate) Local() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.local
}

// OnTransition registers fn for every state change. The returned function
// unregisters it.
func (g *Gate) OnTransition(fn func(Transition)) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	id := g.nextID
	g.listeners = append(g.listeners, listener{id: id, fn: fn})
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.listeners = slices.DeleteFunc(g.listeners, func(l listener) bool { return l.id == id })
	}
}

// DurableSynced marks the durable store as hydrated. Only the first call counts.
func (g *Gate) DurableSynced() {
	g.mu.Lock()
	if g.durable || g.closed {
		g.mu.Unlock()
		return
	}
	g.durable = true
	close(g.durableCh)
	g.logger.Debug("durable store hydrated")
	g.advance()
}

// PeerStatus reports the peer connection status. Reports may flap; a status is
// trusted once it held for the settle delay.
func (g *Gate) PeerStatus(connected bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.gen++
	gen := g.gen
	if g.settle != nil {
		g.settle.Stop()
	}
	g.settle = time.AfterFunc(g.config.Settle, func() { g.settled(gen, connected) })
}

func (g *Gate) settled(gen uint64, connected bool) {
	g.mu.Lock()
	if g.closed || gen != g.gen {
		g.mu.Unlock()
		return
	}
	g.connected = connected
	if !connected {
		g.logger.Info("peers disconnected", log.String("state", g.state.String()))
		g.mu.Unlock()
		return
	}
	g.logger.Info("peers connected")
	g.markPeer(false)
	g.advance()
}

// PeerAbsent marks peer readiness without a peer: no transport is configured
// or it could not be created.
func (g *Gate) PeerAbsent() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.markPeer(true)
	g.advance()
}

func (g *Gate) markPeer(local bool) {
	if g.peer {
		return
	}
	g.peer = true
	g.local = local
	close(g.peerCh)
}

// Wait blocks until durable and peer readiness both hold. Peers are waited
// for at most PeerWait; after that the gate goes on locally.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.durableCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	timer := time.NewTimer(g.config.PeerWait)
	defer timer.Stop()
	select {
	case <-g.peerCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	g.logger.Warn("no peer sync, continuing locally", log.Duration("waited", g.config.PeerWait))
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	g.markPeer(true)
	g.advance()
	return nil
}

// ViewLoaded marks the view as loaded from the replica snapshot.
func (g *Gate) ViewLoaded() error {
	return g.step(PeerSynced, ViewLoaded)
}

// Armed marks the reconciliation loop as running.
func (g *Gate) Armed() error {
	return g.step(ViewLoaded, Armed)
}

func (g *Gate) step(from, to State) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	if g.state != from {
		state := g.state
		g.mu.Unlock()
		return fmt.Errorf("%w: %s to %s", ErrOutOfOrder, state, to)
	}
	g.state = to
	g.emit([]Transition{{From: from, To: to}})
	return nil
}

// advance moves through the readiness states that now hold. It is called with
// mu held and releases it.
func (g *Gate) advance() {
	var changes []Transition
	if g.state == Uninitialized && g.durable {
		changes = append(changes, Transition{From: Uninitialized, To: DurableSynced})
		g.state = DurableSynced
	}
	if g.state == DurableSynced && g.peer {
		changes = append(changes, Transition{From: DurableSynced, To: PeerSynced})
		g.state = PeerSynced
	}
	g.emit(changes)
}

// emit delivers changes outside mu, in order. It is called with mu held and
// releases it.
func (g *Gate) emit(changes []Transition) {
	if len(changes) == 0 {
		g.mu.Unlock()
		return
	}
	listeners := slices.Clone(g.listeners)
	g.emitMu.Lock()
	g.mu.Unlock()
	defer g.emitMu.Unlock()

	for _, c := range changes {
		g.logger.Debug("transition", log.String("from", c.From.String()), log.String("to", c.To.String()))
		for _, l := range listeners {
			l.fn(c)
		}
	}
}

// Close stops the pending settle timer. Later reports are ignored.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	if g.settle != nil {
		g.settle.Stop()
	}
}
