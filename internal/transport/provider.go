// Package transport keeps a replica in step with the other peers of a room.
//
// A Provider exchanges frames over a Relay link. On every (re)connect it
// announces its state vector (sync1); peers answer with what it misses (sync2)
// and ask back when the announcing side knows more than they do. Afterwards
// every local update is published as it commits.
package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeusync/annosync/internal/compress"
	"github.com/zeusync/annosync/internal/core/observability/log"
	"github.com/zeusync/annosync/internal/core/replica"
	"github.com/zeusync/annosync/pkg/encoding"
	"github.com/zeusync/annosync/pkg/sequence"
)

type Config struct {
	// Codec compresses update payloads, see compress.ByName.
	Codec      string
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

func DefaultConfig() Config {
	return Config{
		Codec:      "lz4",
		MinBackoff: 250 * time.Millisecond,
		MaxBackoff: 10 * time.Second,
	}
}

// Provider binds a document to a room of a relay.
type Provider struct {
	doc    *replica.Doc
	relay  Relay
	room   string
	id     string
	config Config
	codec  compress.Compress
	logger log.Log

	outbox *sequence.Queue[*replica.Update]

	mu       sync.Mutex
	link     Link
	onStatus []func(bool)

	connected atomic.Bool
	started   atomic.Bool
	closed    atomic.Bool
	sent      atomic.Uint64
	received  atomic.Uint64

	unsubscribe func()
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

func NewProvider(doc *replica.Doc, relay Relay, room string, config Config, logger log.Log) *Provider {
	def := DefaultConfig()
	if config.MinBackoff <= 0 {
		config.MinBackoff = def.MinBackoff
	}
	if config.MaxBackoff < config.MinBackoff {
		config.MaxBackoff = max(def.MaxBackoff, config.MinBackoff)
	}
	return &Provider{
		doc:    doc,
		relay:  relay,
		room:   room,
		id:     doc.ClientID(),
		config: config,
		codec:  compress.ByName(config.Codec),
		logger: log.OrNop(logger).With(log.Component("transport"), log.Room(room)),
		outbox: sequence.NewQueue[*replica.Update](),
	}
}

// OnStatus registers fn to receive connection changes. It runs on the
// provider's goroutine.
func (p *Provider) OnStatus(fn func(connected bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onStatus = append(p.onStatus, fn)
}

// Start connects in the background and keeps reconnecting until Close.
func (p *Provider) Start(ctx context.Context) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.unsubscribe = p.doc.OnUpdate(p.onUpdate)

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.connectLoop(ctx)
	}()
	go func() {
		defer p.wg.Done()
		p.writeLoop(ctx)
	}()
	return nil
}

func (p *Provider) Connected() bool { return p.connected.Load() }

// Sent and Received count update payloads exchanged with peers.
func (p *Provider) Sent() uint64     { return p.sent.Load() }
func (p *Provider) Received() uint64 { return p.received.Load() }

func (p *Provider) onUpdate(u *replica.Update, origin replica.Origin) {
	if origin == replica.Remote || origin == replica.Durable {
		return
	}
	_ = p.outbox.Push(u)
}

func (p *Provider) current() Link {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.link
}

func (p *Provider) setLink(l Link) {
	p.mu.Lock()
	p.link = l
	p.mu.Unlock()
}

func (p *Provider) setStatus(connected bool) {
	if p.connected.Swap(connected) == connected {
		return
	}
	p.mu.Lock()
	handlers := append([]func(bool){}, p.onStatus...)
	p.mu.Unlock()
	p.logger.Info("peer link", log.Bool("connected", connected))
	for _, fn := range handlers {
		fn(connected)
	}
}

func (p *Provider) connectLoop(ctx context.Context) {
	backoff := p.config.MinBackoff
	for {
		link, err := p.relay.Open(ctx, p.room)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.setStatus(false)
			p.logger.Debug("relay unavailable", log.Error(err), log.Duration("retry", backoff))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, p.config.MaxBackoff)
			continue
		}
		backoff = p.config.MinBackoff

		p.setLink(link)
		p.setStatus(true)
		if err := p.sendSync1(ctx, link, ""); err != nil {
			p.logger.Debug("sync1 failed", log.Error(err))
		}
		p.serve(ctx, link)
		p.setLink(nil)
		_ = link.Close()
		p.setStatus(false)
		if ctx.Err() != nil {
			return
		}
	}
}

func (p *Provider) serve(ctx context.Context, link Link) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-link.Messages():
			if !ok {
				return
			}
			p.handle(ctx, link, data)
		}
	}
}

func (p *Provider) writeLoop(ctx context.Context) {
	for {
		u, err := p.outbox.Pop(ctx)
		if err != nil {
			return
		}
		link := p.current()
		if link == nil {
			// the next sync1/sync2 exchange carries it
			continue
		}
		payload, err := packUpdate(p.codec, u)
		if err != nil {
			p.logger.Error("encode update", log.Error(err))
			continue
		}
		if err := p.send(ctx, link, &Frame{Type: FrameUpdate, From: p.id, Payload: payload}); err != nil {
			p.logger.Debug("publish failed", log.Error(err))
			continue
		}
		p.sent.Add(1)
	}
}

func (p *Provider) send(ctx context.Context, link Link, f *Frame) error {
	data, err := encoding.Marshal[*Frame](f)
	if err != nil {
		return err
	}
	return link.Send(ctx, data)
}

func (p *Provider) sendSync1(ctx context.Context, link Link, to string) error {
	return p.send(ctx, link, &Frame{Type: FrameSync1, From: p.id, To: to, State: p.doc.StateVector()})
}

func (p *Provider) handle(ctx context.Context, link Link, data []byte) {
	f, err := decodeFrame(data)
	if err != nil {
		p.logger.Debug("dropped frame", log.Error(err))
		return
	}
	if f.From == p.id || (f.To != "" && f.To != p.id) {
		return
	}
	switch f.Type {
	case FrameSync1:
		payload, err := packUpdate(p.codec, p.doc.Diff(f.State))
		if err != nil {
			p.logger.Error("encode diff", log.Error(err))
			return
		}
		if err := p.send(ctx, link, &Frame{Type: FrameSync2, From: p.id, To: f.From, Payload: payload}); err != nil {
			p.logger.Debug("sync2 failed", log.Error(err))
			return
		}
		if !p.doc.StateVector().Covers(f.State) {
			if err := p.sendSync1(ctx, link, f.From); err != nil {
				p.logger.Debug("sync1 failed", log.Error(err))
			}
		}
	case FrameSync2, FrameUpdate:
		u, err := unpackUpdate(p.codec, f.Payload)
		if err != nil {
			p.logger.Warn("undecodable update", log.String("from", f.From), log.Error(err))
			return
		}
		if u.Empty() {
			return
		}
		p.received.Add(1)
		if err := p.doc.ApplyUpdate(u, replica.Remote); err != nil && !errors.Is(err, replica.ErrDestroyed) {
			p.logger.Warn("update partially applied", log.String("from", f.From), log.Error(err))
		}
	}
}

// Close disconnects and stops publishing. It is safe to call more than once.
func (p *Provider) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.outbox.Close()
	if !p.started.Load() {
		return nil
	}
	p.unsubscribe()
	p.cancel()
	p.wg.Wait()
	return nil
}
