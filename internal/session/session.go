// Package session assembles one collaborative editing session: the replica,
// its durable log, the peer transport, the readiness gate and the
// reconciliation engine bound to an editing surface.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/zeusync/annosync/internal/config"
	"github.com/zeusync/annosync/internal/core/lifecycle"
	"github.com/zeusync/annosync/internal/core/observability/log"
	"github.com/zeusync/annosync/internal/core/reconcile"
	"github.com/zeusync/annosync/internal/core/replica"
	"github.com/zeusync/annosync/internal/core/view"
	"github.com/zeusync/annosync/internal/storage"
	"github.com/zeusync/annosync/internal/transport"
	"github.com/zeusync/annosync/pkg/concurrent"
)

var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrNotStarted     = errors.New("session not started")
	ErrClosed         = errors.New("session closed")
)

type Option func(*Session)

// WithRelay overrides the relay built from the transport configuration.
func WithRelay(relay transport.Relay) Option {
	return func(s *Session) { s.relay, s.relaySet = relay, true }
}

// WithStore uses store instead of opening the configured path. The caller
// keeps ownership of store.
func WithStore(store storage.Store) Option {
	return func(s *Session) { s.store = store }
}

// WithSeed writes snapshot into the replica when it is still empty once
// durable and peer state arrived.
func WithSeed(snapshot view.Snapshot) Option {
	return func(s *Session) { s.seed = &snapshot }
}

// WithReportHandler receives the reports of the reconciliation engine.
func WithReportHandler(fn func(reconcile.Report)) Option {
	return func(s *Session) { s.onReport = fn }
}

// WithDoc binds an existing document instead of a fresh one.
func WithDoc(doc *replica.Doc) Option {
	return func(s *Session) { s.doc = doc }
}

type Session struct {
	config  config.Config
	surface view.Surface
	logger  log.Log
	author  string

	doc      *replica.Doc
	gate     *lifecycle.Gate
	relay    transport.Relay
	relaySet bool
	store    storage.Store
	seed     *view.Snapshot
	onReport func(reconcile.Report)

	ownsStore   bool
	persistence *storage.Persistence
	compactor   *storage.Compactor
	provider    *transport.Provider
	engine      *reconcile.Engine

	mu      sync.Mutex
	started atomic.Bool
	closed  atomic.Bool
}

func New(cfg config.Config, surface view.Surface, logger log.Log, opts ...Option) *Session {
	logger = log.OrNop(logger)
	s := &Session{
		config:  cfg,
		surface: surface,
		logger:  logger.With(log.Component("session"), log.Room(cfg.Room)),
		author:  cfg.Author,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.author == "" {
		s.author = "Guest-" + uuid.NewString()[:8]
	}
	if s.doc == nil {
		s.doc = replica.New()
	}
	s.gate = lifecycle.New(lifecycle.Config{
		Settle:   cfg.Sync.Settle,
		PeerWait: cfg.Sync.PeerWait,
	}, logger)
	return s
}

func (s *Session) Doc() *replica.Doc       { return s.doc }
func (s *Session) Gate() *lifecycle.Gate   { return s.gate }
func (s *Session) Author() string          { return s.author }
func (s *Session) Surface() view.Surface   { return s.surface }
func (s *Session) Store() storage.Store    { return s.store }
func (s *Session) Snapshot() view.Snapshot { return reconcile.Export(s.doc) }

// Local reports whether the session runs without peers.
func (s *Session) Local() bool { return s.gate.Local() }

// Stats returns the engine counters, or nil before the engine is armed.
func (s *Session) Stats() reconcile.Stats {
	s.mu.Lock()
	engine := s.engine
	s.mu.Unlock()
	if engine == nil {
		return nil
	}
	return engine.Stats()
}

// Start brings the session up: durable history first, then peers, then the
// initial surface load, then live reconciliation. Setup failures of the store
// or the transport are logged and the session continues without them.
func (s *Session) Start(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	s.startDurable(ctx)
	s.gate.DurableSynced()
	s.startPeers(ctx)

	if err := s.gate.Wait(ctx); err != nil {
		return fmt.Errorf("wait for sync: %w", err)
	}

	if s.seed != nil && !s.seed.Empty() && reconcile.IsEmpty(s.doc) {
		if err := reconcile.Seed(s.doc, *s.seed, replica.Seed); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		s.logger.Info("seeded empty document")
	}

	s.surface.SetCreatorName(s.author)
	if err := s.surface.Load(ctx, reconcile.Export(s.doc)); err != nil {
		return fmt.Errorf("load surface: %w", err)
	}
	if err := s.gate.ViewLoaded(); err != nil {
		return err
	}

	engine := reconcile.New(s.doc, s.surface, s.logger, reconcile.Config{
		OutboundRelease: s.config.Sync.OutboundRelease,
		OnReport:        s.onReport,
	})
	s.mu.Lock()
	s.engine = engine
	s.mu.Unlock()
	if err := engine.Arm(ctx); err != nil {
		return fmt.Errorf("arm: %w", err)
	}
	// changes that landed between the export and arming
	if err := engine.Resync(ctx); err != nil {
		s.logger.Warn("resync incomplete", log.Error(err))
	}
	if err := s.gate.Armed(); err != nil {
		return err
	}
	s.logger.Info("session ready",
		log.String("author", s.author),
		log.Bool("local", s.gate.Local()),
		log.Bool("durable", s.persistence != nil))
	return nil
}

func (s *Session) startDurable(ctx context.Context) {
	if s.store == nil && s.config.Storage.Path != "" {
		store, err := storage.Open(s.config.Storage.Path, s.config.Storage.Codec, s.logger)
		if err != nil {
			s.logger.Warn("durable store unavailable, running in memory", log.Error(err))
			return
		}
		s.store, s.ownsStore = store, true
	}
	if s.store == nil {
		return
	}
	p, err := storage.Bind(ctx, s.store, s.doc, s.config.Room, s.logger)
	if err != nil {
		s.logger.Warn("durable history unavailable, running in memory", log.Error(err))
		return
	}
	s.persistence = p

	if s.ownsStore && s.config.Storage.CompactSchedule != "" {
		s.compactor = storage.NewCompactor(s.store, s.logger)
		s.compactor.Watch(s.config.Room)
		if err := s.compactor.Start(s.config.Storage.CompactSchedule); err != nil {
			s.logger.Warn("compaction disabled", log.Error(err))
			s.compactor = nil
		}
	}
}

func (s *Session) startPeers(ctx context.Context) {
	relay := s.relay
	if !s.relaySet {
		var err error
		relay, err = transport.NewRelay(transport.Options{
			Kind:      transport.Kind(s.config.Transport.Kind),
			URL:       s.config.Transport.URL,
			Token:     s.config.Transport.Token,
			RedisAddr: s.config.Transport.RedisAddr,
		})
		if err != nil {
			s.logger.Warn("transport unavailable, running locally", log.Error(err))
		}
		s.relay = relay
	}
	if relay == nil {
		s.gate.PeerAbsent()
		return
	}

	cfg := transport.DefaultConfig()
	cfg.Codec = s.config.Transport.Codec
	provider := transport.NewProvider(s.doc, relay, s.config.Room, cfg, s.logger)
	provider.OnStatus(s.gate.PeerStatus)
	if err := provider.Start(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("transport failed to start, running locally", log.Error(err))
		s.gate.PeerAbsent()
		return
	}
	s.provider = provider
}

// Reset empties every collection in one transaction. The surface is cleared
// through the engine and peers receive the reset as one update.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	engine := s.engine
	s.mu.Unlock()
	if engine == nil || !engine.Armed() {
		return ErrNotStarted
	}
	if err := reconcile.Clear(s.doc, replica.Reset); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return engine.Flush(ctx)
}

// Flush waits until the engine handled every queued change.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	engine := s.engine
	s.mu.Unlock()
	if engine == nil {
		return ErrNotStarted
	}
	return engine.Flush(ctx)
}

// Close releases the engine, the transport, the durable log and the document.
// The surface stays open.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	s.mu.Lock()
	engine := s.engine
	s.mu.Unlock()
	if engine != nil {
		errs = append(errs, engine.Close())
	}

	var closers []io.Closer
	if s.provider != nil {
		closers = append(closers, s.provider)
	}
	if s.persistence != nil {
		closers = append(closers, s.persistence)
	}
	errs = append(errs, concurrent.Close(closers...))

	if s.compactor != nil {
		s.compactor.Stop()
	}
	if s.ownsStore {
		errs = append(errs, s.store.Close())
	}
	if c, ok := s.relay.(io.Closer); ok && !s.relaySet {
		errs = append(errs, c.Close())
	}
	s.gate.Close()
	s.doc.Destroy()
	s.logger.Debug("session closed")
	return errors.Join(errs...)
}
