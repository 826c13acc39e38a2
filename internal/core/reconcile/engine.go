// Package reconcile keeps the replica and the editing surface consistent.
//
// One Engine serves every collection. Each collection has two one-directional
// channels, replica to surface (inbound) and surface to replica (outbound),
// guarded so that a change never travels back to the side it came from.
// Replica transactions written by the engine carry the engine's origin, and
// surface calls made by the engine carry it as their event source, so echoes
// are recognised by tag. The guards cover surfaces that cannot tag events.
//
// Every handler runs on the engine's mailbox goroutine, one at a time.
// Observers and listeners only classify and enqueue.
package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zeusync/annosync/internal/core/events/bus"
	"github.com/zeusync/annosync/internal/core/observability/log"
	"github.com/zeusync/annosync/internal/core/record"
	"github.com/zeusync/annosync/internal/core/replica"
	"github.com/zeusync/annosync/internal/core/shape"
	"github.com/zeusync/annosync/internal/core/view"
	"github.com/zeusync/annosync/pkg/sequence"
)

const originPrefix = "reconcile:"

type Config struct {
	// OutboundRelease delays the release of the outbound guard after the
	// replica transaction. Zero releases it immediately.
	OutboundRelease time.Duration
	// OnReport receives a report after every handled batch. It runs on the
	// mailbox goroutine.
	OnReport func(Report)
}

func DefaultConfig() Config {
	return Config{}
}

type channel struct {
	coll     record.Collection
	inbound  atomic.Bool
	outbound atomic.Int32
	stats    counters
}

type taskKind uint8

const (
	taskInbound taskKind = iota + 1
	taskOutbound
	taskResync
	taskBarrier
)

type task struct {
	kind   taskKind
	coll   record.Collection
	event  replica.Event
	change view.Change
	done   chan error
	ctx    context.Context
}

// Engine is the reconciliation loop of one session.
type Engine struct {
	doc     *replica.Doc
	surface view.Surface
	conv    *shape.Converter
	logger  log.Log
	config  Config
	origin  string

	channels map[record.Collection]*channel
	mailbox  *sequence.Queue[task]

	// inboundActive counts collections whose inbound guard is held.
	inboundActive atomic.Int32
	armed         atomic.Bool
	closed        atomic.Bool

	mu       sync.Mutex
	cancels  []func()
	subs     []bus.Subscription
	stop     context.CancelFunc
	finished chan struct{}
	timers   sync.WaitGroup
}

// New creates an engine for doc and surface. It does nothing until Arm.
func New(doc *replica.Doc, surface view.Surface, logger log.Log, config Config) *Engine {
	logger = log.OrNop(logger)
	origin := originPrefix + uuid.NewString()
	e := &Engine{
		doc:      doc,
		surface:  surface,
		conv:     shape.NewConverter(surface, logger),
		logger:   logger.With(log.Component("reconcile"), log.String("origin", origin)),
		config:   config,
		origin:   origin,
		channels: make(map[record.Collection]*channel, len(record.All)),
		mailbox:  sequence.NewQueue[task](),
	}
	for _, c := range record.All {
		e.channels[c] = &channel{coll: c}
	}
	return e
}

// Origin is the tag carried by every change the engine writes.
func (e *Engine) Origin() string { return e.origin }

func (e *Engine) Armed() bool { return e.armed.Load() }

// Arm registers the replica observers and the surface listeners and starts
// the mailbox. It must be called after the surface finished loading.
func (e *Engine) Arm(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if !e.armed.CompareAndSwap(false, true) {
		return ErrArmed
	}

	runCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	e.mu.Lock()
	e.stop = stop
	e.finished = make(chan struct{})
	for _, c := range record.All {
		ch := e.channels[c]
		if c.IsMap() {
			e.cancels = append(e.cancels, e.doc.Map(string(c)).Observe(e.observer(ch)))
		} else {
			e.cancels = append(e.cancels, e.doc.Array(string(c)).Observe(e.observer(ch)))
		}
	}
	e.mu.Unlock()
	go e.run(runCtx)

	for _, c := range record.Arrays {
		for _, action := range view.Actions {
			sub, err := e.surface.On(view.EventName(c, action), e.listener(e.channels[c]))
			if err != nil {
				_ = e.Close()
				return err
			}
			e.mu.Lock()
			e.subs = append(e.subs, sub)
			e.mu.Unlock()
		}
	}
	e.logger.Debug("armed")
	return nil
}

func (e *Engine) observer(ch *channel) func(replica.Event) {
	return func(ev replica.Event) {
		if string(ev.Origin) == e.origin {
			ch.stats.echoes.Add(uint64(len(ev.Added) + len(ev.Deleted)))
			return
		}
		_ = e.mailbox.Push(task{kind: taskInbound, coll: ch.coll, event: ev})
	}
}

func (e *Engine) listener(ch *channel) bus.EventHandler {
	return func(evt bus.Event) error {
		change, ok := view.ChangeFrom(evt)
		if !ok {
			return nil
		}
		source := evt.Source()
		if source == e.origin || (source == "" && e.inboundActive.Load() > 0) {
			ch.stats.echoes.Add(uint64(len(change.Objects)))
			return nil
		}
		_ = e.mailbox.Push(task{kind: taskOutbound, coll: ch.coll, change: change})
		return nil
	}
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.finished)
	for {
		t, err := e.mailbox.Pop(ctx)
		if err != nil {
			return
		}
		e.handle(ctx, t)
	}
}

func (e *Engine) handle(ctx context.Context, t task) {
	opCtx := view.WithOrigin(ctx, e.origin)
	switch t.kind {
	case taskInbound:
		ch := e.channels[t.coll]
		if ch.outbound.Load() > 0 {
			ch.stats.echoes.Add(uint64(len(t.event.Added) + len(t.event.Deleted)))
			return
		}
		e.report(e.inbound(opCtx, ch, t.event.Deleted, t.event.Added))
	case taskOutbound:
		if e.inboundActive.Load() > 0 {
			e.channels[t.coll].stats.echoes.Add(uint64(len(t.change.Objects)))
			return
		}
		e.report(e.outbound(opCtx, e.channels[t.coll], t.change))
	case taskResync:
		if t.ctx != nil {
			opCtx = view.WithOrigin(t.ctx, e.origin)
		}
		t.done <- e.resync(opCtx)
	case taskBarrier:
		t.done <- nil
	}
}

func (e *Engine) report(r Report) {
	if r.Err != nil {
		e.logger.Warn("batch applied partially",
			log.String("collection", string(r.Collection)),
			log.String("direction", string(r.Direction)),
			log.Int("applied", r.Applied),
			log.Int("failed", r.Failed),
			log.Error(r.Err))
	}
	if e.config.OnReport != nil {
		e.config.OnReport(r)
	}
}

// Flush waits until every handler queued before the call has run.
func (e *Engine) Flush(ctx context.Context) error {
	return e.await(ctx, task{kind: taskBarrier})
}

// Resync compares the replica with the surface and applies the difference to
// the surface, replica side winning. It covers changes committed between the
// snapshot export and Arm.
func (e *Engine) Resync(ctx context.Context) error {
	return e.await(ctx, task{kind: taskResync, ctx: ctx})
}

func (e *Engine) await(ctx context.Context, t task) error {
	if !e.armed.Load() {
		return ErrNotArmed
	}
	if e.closed.Load() {
		return ErrClosed
	}
	t.done = make(chan error, 1)
	if err := e.mailbox.Push(t); err != nil {
		return ErrClosed
	}
	e.mu.Lock()
	finished := e.finished
	e.mu.Unlock()
	select {
	case err := <-t.done:
		return err
	case <-finished:
		select {
		case err := <-t.done:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the counters of every collection.
func (e *Engine) Stats() Stats {
	out := make(Stats, len(e.channels))
	for c, ch := range e.channels {
		out[c] = ch.stats.snapshot()
	}
	return out
}

// Close unregisters every observer and listener and stops the mailbox.
// Pending handlers are dropped.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.mu.Lock()
	cancels, subs := e.cancels, e.subs
	e.cancels, e.subs = nil, nil
	stop, finished := e.stop, e.finished
	e.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for _, sub := range subs {
		_ = sub.Cancel()
	}
	e.mailbox.Close()
	if stop != nil {
		stop()
	}
	if finished != nil {
		<-finished
	}
	e.timers.Wait()
	e.logger.Debug("closed")
	return nil
}

// holdOutbound takes the outbound guard of ch and returns its release.
func (e *Engine) holdOutbound(ch *channel) func() {
	ch.outbound.Add(1)
	return func() {
		if d := e.config.OutboundRelease; d > 0 {
			e.timers.Add(1)
			time.AfterFunc(d, func() {
				defer e.timers.Done()
				ch.outbound.Add(-1)
			})
			return
		}
		ch.outbound.Add(-1)
	}
}

// holdInbound takes the inbound guard of ch and returns its release.
func (e *Engine) holdInbound(ch *channel) func() {
	ch.inbound.Store(true)
	e.inboundActive.Add(1)
	return func() {
		ch.inbound.Store(false)
		e.inboundActive.Add(-1)
	}
}
