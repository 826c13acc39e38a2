package storage

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/zeusync/annosync/internal/core/observability/log"
	"github.com/zeusync/annosync/internal/core/replica"
	"github.com/zeusync/annosync/pkg/sequence"
)

// Persistence binds a document to one room of a store: the stored history is
// replayed into the document, then every later update is appended.
type Persistence struct {
	store  Store
	doc    *replica.Doc
	room   string
	logger log.Log

	queue    *sequence.Queue[*replica.Update]
	cancel   func()
	synced   chan struct{}
	done     chan struct{}
	failures atomic.Uint64
	closed   atomic.Bool
}

// Bind replays room into doc with origin replica.Durable and starts appending.
// Replayed updates are not appended again.
func Bind(ctx context.Context, store Store, doc *replica.Doc, room string, logger log.Log) (*Persistence, error) {
	updates, err := store.Load(ctx, room)
	if err != nil && len(updates) == 0 {
		return nil, err
	}
	p := &Persistence{
		store:  store,
		doc:    doc,
		room:   room,
		logger: log.OrNop(logger).With(log.Component("persistence"), log.Room(room)),
		queue:  sequence.NewQueue[*replica.Update](),
		synced: make(chan struct{}),
		done:   make(chan struct{}),
	}
	if err != nil {
		p.logger.Warn("part of the stored history is unreadable", log.Error(err))
	}

	p.cancel = doc.OnUpdate(p.onUpdate)
	if len(updates) > 0 {
		if err := doc.ApplyUpdate(replica.Merge(updates...), replica.Durable); err != nil {
			p.logger.Warn("stored history partially applied", log.Error(err))
		}
	}
	p.logger.Debug("hydrated", log.Int("updates", len(updates)))
	close(p.synced)

	go p.run()
	return p, nil
}

func (p *Persistence) onUpdate(u *replica.Update, origin replica.Origin) {
	if origin == replica.Durable {
		return
	}
	_ = p.queue.Push(u)
}

func (p *Persistence) run() {
	defer close(p.done)
	ctx := context.Background()
	for {
		u, err := p.queue.Pop(ctx)
		if errors.Is(err, sequence.ErrQueueClosed) {
			return
		}
		if err != nil {
			continue
		}
		if err := p.store.Append(ctx, p.room, u); err != nil {
			p.failures.Add(1)
			p.logger.Error("append failed", log.Error(err))
		}
	}
}

// Synced is closed once the stored history has been replayed.
func (p *Persistence) Synced() <-chan struct{} { return p.synced }

func (p *Persistence) Room() string { return p.room }

// Failures counts updates that could not be appended.
func (p *Persistence) Failures() uint64 { return p.failures.Load() }

// Close stops listening and waits until queued updates are written.
func (p *Persistence) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()
	p.queue.Close()
	<-p.done
	return nil
}
