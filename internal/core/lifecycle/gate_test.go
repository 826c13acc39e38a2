package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{Settle: 20 * time.Millisecond, PeerWait: 200 * time.Millisecond}
}

type recorder struct {
	mu  sync.Mutex
	got []Transition
}

func (r *recorder) add(t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, t)
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, 0, len(r.got))
	for _, t := range r.got {
		out = append(out, t.To)
	}
	return out
}

func TestFullSequence(t *testing.T) {
	g := New(fastConfig(), nil)
	defer g.Close()
	rec := &recorder{}
	g.OnTransition(rec.add)

	g.DurableSynced()
	g.DurableSynced()
	g.PeerStatus(true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, g.Wait(ctx))
	assert.Equal(t, PeerSynced, g.State())
	assert.True(t, g.Connected())
	assert.False(t, g.Local())

	require.NoError(t, g.ViewLoaded())
	require.NoError(t, g.Armed())
	assert.Equal(t, []State{DurableSynced, PeerSynced, ViewLoaded, Armed}, rec.states())
}

func TestPeerBeforeDurable(t *testing.T) {
	g := New(fastConfig(), nil)
	defer g.Close()
	rec := &recorder{}
	g.OnTransition(rec.add)

	g.PeerAbsent()
	assert.Equal(t, Uninitialized, g.State())
	g.DurableSynced()
	assert.Equal(t, PeerSynced, g.State())
	assert.True(t, g.Local())
	assert.Equal(t, []State{DurableSynced, PeerSynced}, rec.states())
}

func TestFlappingStatusSettles(t *testing.T) {
	g := New(Config{Settle: 50 * time.Millisecond, PeerWait: time.Second}, nil)
	defer g.Close()
	g.DurableSynced()

	for range 5 {
		g.PeerStatus(true)
		time.Sleep(5 * time.Millisecond)
		g.PeerStatus(false)
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, DurableSynced, g.State(), "last report was a disconnect")
	assert.False(t, g.Connected())

	g.PeerStatus(true)
	assert.Eventually(t, func() bool { return g.State() == PeerSynced }, time.Second, 5*time.Millisecond)
}

func TestWaitProceedsLocally(t *testing.T) {
	g := New(fastConfig(), nil)
	defer g.Close()
	g.DurableSynced()

	start := time.Now()
	require.NoError(t, g.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), fastConfig().PeerWait)
	assert.Equal(t, PeerSynced, g.State())
	assert.True(t, g.Local())
}

func TestWaitHonoursContext(t *testing.T) {
	g := New(fastConfig(), nil)
	defer g.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.Wait(ctx), context.DeadlineExceeded)
}

func TestDisconnectAfterLoadKeepsState(t *testing.T) {
	g := New(fastConfig(), nil)
	defer g.Close()
	g.DurableSynced()
	g.PeerStatus(true)
	require.NoError(t, g.Wait(context.Background()))
	require.NoError(t, g.ViewLoaded())

	g.PeerStatus(false)
	assert.Eventually(t, func() bool { return !g.Connected() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, ViewLoaded, g.State())
}

func TestOutOfOrder(t *testing.T) {
	tests := []struct {
		name string
		run  func(g *Gate) error
	}{
		{"view before peers", func(g *Gate) error { return g.ViewLoaded() }},
		{"armed before view", func(g *Gate) error { return g.Armed() }},
		{"view twice", func(g *Gate) error {
			g.DurableSynced()
			g.PeerAbsent()
			if err := g.ViewLoaded(); err != nil {
				return err
			}
			return g.ViewLoaded()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(fastConfig(), nil)
			defer g.Close()
			assert.ErrorIs(t, tt.run(g), ErrOutOfOrder)
		})
	}
}

func TestCloseIgnoresLaterReports(t *testing.T) {
	g := New(fastConfig(), nil)
	rec := &recorder{}
	cancel := g.OnTransition(rec.add)
	g.Close()

	g.DurableSynced()
	g.PeerStatus(true)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, Uninitialized, g.State())
	assert.ErrorIs(t, g.ViewLoaded(), ErrClosed)
	cancel()
	assert.Empty(t, rec.states())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "armed", Armed.String())
	assert.Equal(t, "state(9)", State(9).String())
}
