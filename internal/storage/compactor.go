package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/robfig/cron"

	"github.com/zeusync/annosync/internal/core/observability/log"
)

const DefaultCompactSchedule = "@every 1m"

// Compactor compacts watched rooms on a cron schedule.
type Compactor struct {
	store   Store
	cron    *cron.Cron
	logger  log.Log
	timeout time.Duration

	mu      sync.Mutex
	rooms   mapset.Set[string]
	running mapset.Set[string]
}

func NewCompactor(store Store, logger log.Log) *Compactor {
	return &Compactor{
		store:   store,
		cron:    cron.New(),
		logger:  log.OrNop(logger).With(log.Component("compactor")),
		timeout: 30 * time.Second,
		rooms:   mapset.NewSet[string](),
		running: mapset.NewSet[string](),
	}
}

// Watch adds room to the compacted rooms.
func (c *Compactor) Watch(room string) {
	c.rooms.Add(room)
}

// Start schedules compaction with a cron spec and starts the scheduler.
func (c *Compactor) Start(spec string) error {
	if spec == "" {
		spec = DefaultCompactSchedule
	}
	if err := c.cron.AddFunc(spec, c.tick); err != nil {
		return err
	}
	c.cron.Start()
	c.logger.Debug("scheduled", log.String("spec", spec))
	return nil
}

func (c *Compactor) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.CompactAll(ctx); err != nil {
		c.logger.Warn("compaction failed", log.Error(err))
	}
}

// CompactAll compacts every watched room. A room already being compacted is
// skipped.
func (c *Compactor) CompactAll(ctx context.Context) error {
	var errs []error
	for _, room := range c.rooms.ToSlice() {
		if !c.acquire(room) {
			c.logger.Debug("compaction already running", log.Room(room))
			continue
		}
		err := c.store.Compact(ctx, room)
		c.release(room)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Compactor) acquire(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running.Contains(room) {
		return false
	}
	c.running.Add(room)
	return true
}

func (c *Compactor) release(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running.Remove(room)
}

func (c *Compactor) Stop() {
	c.cron.Stop()
}
