// Package replica implements the replicated document: ordered arrays (RGA with
// Lamport timestamps) and last-writer-wins maps of records, exchanged as
// operation based updates.
//
// All mutations happen inside a transaction. Observers and update handlers run
// after the transaction commits, outside the document lock, in commit order.
// They may read the document but must not start a transaction synchronously;
// hand the work to another goroutine instead.
package replica

import (
	"fmt"
	"slices"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/zeusync/annosync/internal/core/record"
)

type kind uint8

const (
	kindArray kind = iota + 1
	kindMap
)

type item struct {
	id        ItemID
	clock     uint64
	value     record.Record
	deleted   bool
	container *container
}

type entry struct {
	id      ItemID
	clock   uint64
	value   record.Record
	deleted bool
}

type container struct {
	name      string
	kind      kind
	items     []*item
	entries   map[string]*entry
	observers []observer
}

type observer struct {
	id uint64
	fn func(Event)
}

type updateHandler struct {
	id uint64
	fn func(*Update, Origin)
}

// Doc is a replicated document. It is safe for concurrent use.
type Doc struct {
	mu     sync.Mutex
	emitMu sync.Mutex

	client string
	clock  uint64
	vector StateVector
	log    map[string][]Op

	containers map[string]*container
	items      map[ItemID]*item
	pending    map[ItemID]Op

	nextID    uint64
	onUpdate  []updateHandler
	destroyed bool
}

// New creates an empty document with a fresh client id.
func New() *Doc {
	return NewWithClient(ulid.Make().String())
}

// NewWithClient creates an empty document with the given client id. Two live
// documents must never share a client id.
func NewWithClient(client string) *Doc {
	return &Doc{
		client:     client,
		vector:     make(StateVector),
		log:        make(map[string][]Op),
		containers: make(map[string]*container),
		items:      make(map[ItemID]*item),
		pending:    make(map[ItemID]Op),
	}
}

func (d *Doc) ClientID() string { return d.client }

// Array returns the handle of the named array, creating it when missing.
func (d *Doc) Array(name string) *Array {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.containerLocked(name, kindArray)
	return &Array{doc: d, name: name}
}

// Map returns the handle of the named map, creating it when missing.
func (d *Doc) Map(name string) *Map {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.containerLocked(name, kindMap)
	return &Map{doc: d, name: name}
}

func (d *Doc) containerLocked(name string, k kind) *container {
	c, ok := d.containers[name]
	if !ok {
		c = &container{name: name, kind: k}
		if k == kindMap {
			c.entries = make(map[string]*entry)
		}
		d.containers[name] = c
	}
	return c
}

// Transact runs fn inside one transaction. If fn returns an error every
// mutation it made is rolled back and nothing is emitted. Nested work must
// use the given *Txn; calling Transact from inside fn deadlocks.
func (d *Doc) Transact(origin Origin, fn func(*Txn) error) error {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return ErrDestroyed
	}
	tx := newTxn(d, origin)
	if err := fn(tx); err != nil {
		tx.rollback()
		d.mu.Unlock()
		return err
	}
	d.commit(tx)
	return nil
}

// ApplyUpdate integrates remote operations. Operations whose causal
// dependencies are missing wait in a pending buffer; already known operations
// are ignored.
func (d *Doc) ApplyUpdate(u *Update, origin Origin) error {
	if u.Empty() {
		return nil
	}
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return ErrDestroyed
	}
	tx := newTxn(d, origin)
	var errs []error
	for _, op := range u.Ops {
		if err := op.validate(); err != nil {
			errs = append(errs, fmt.Errorf("op %s: %w", op.ID, err))
			continue
		}
		if op.ID.Seq <= d.vector[op.ID.Client] {
			continue
		}
		d.pending[op.ID] = op
	}
	errs = append(errs, tx.drainPending()...)
	d.commit(tx)
	return joinErrors(errs)
}

// commit releases the document lock and delivers the transaction's events. The
// emit lock is taken before the document lock is released so that deliveries
// keep commit order.
func (d *Doc) commit(tx *Txn) {
	tx.done = true
	if len(tx.ops) == 0 {
		d.mu.Unlock()
		return
	}
	events := tx.events()
	observers := make([][]observer, len(events))
	for i, ev := range events {
		observers[i] = slices.Clone(d.containers[ev.Container].observers)
	}
	handlers := slices.Clone(d.onUpdate)
	update := &Update{Ops: tx.ops}

	d.emitMu.Lock()
	d.mu.Unlock()
	defer d.emitMu.Unlock()

	for i, ev := range events {
		for _, o := range observers[i] {
			o.fn(ev)
		}
	}
	for _, h := range handlers {
		h.fn(update, tx.origin)
	}
}

// OnUpdate registers fn to receive every committed batch of operations with
// its origin. The returned function unregisters it.
func (d *Doc) OnUpdate(fn func(*Update, Origin)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.onUpdate = append(d.onUpdate, updateHandler{id: id, fn: fn})
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.onUpdate = slices.DeleteFunc(d.onUpdate, func(h updateHandler) bool { return h.id == id })
	}
}

func (d *Doc) observe(name string, k kind, fn func(Event)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.containerLocked(name, k)
	d.nextID++
	id := d.nextID
	c.observers = append(c.observers, observer{id: id, fn: fn})
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		c.observers = slices.DeleteFunc(c.observers, func(o observer) bool { return o.id == id })
	}
}

// StateVector returns the number of integrated operations per client.
func (d *Doc) StateVector() StateVector {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.vector.Clone()
}

// Diff returns every integrated operation the holder of sv is missing.
func (d *Doc) Diff(sv StateVector) *Update {
	d.mu.Lock()
	defer d.mu.Unlock()
	u := &Update{}
	clients := make([]string, 0, len(d.log))
	for client := range d.log {
		clients = append(clients, client)
	}
	slices.Sort(clients)
	for _, client := range clients {
		ops := d.log[client]
		have := sv[client]
		if have < uint64(len(ops)) {
			u.Ops = append(u.Ops, ops[have:]...)
		}
	}
	return u
}

// EncodeState returns the whole history as one update.
func (d *Doc) EncodeState() *Update {
	return d.Diff(nil)
}

// Pending reports how many received operations still wait for dependencies.
func (d *Doc) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// IsEmpty reports whether every container is empty.
func (d *Doc) IsEmpty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.containers {
		if c.visibleLen() > 0 {
			return false
		}
	}
	return true
}

// Destroy drops observers and handlers. Later calls fail with ErrDestroyed.
func (d *Doc) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyed = true
	d.onUpdate = nil
	for _, c := range d.containers {
		c.observers = nil
	}
}

func (c *container) visibleLen() int {
	n := 0
	if c.kind == kindMap {
		for _, e := range c.entries {
			if !e.deleted {
				n++
			}
		}
		return n
	}
	for _, it := range c.items {
		if !it.deleted {
			n++
		}
	}
	return n
}

func (c *container) visible() []*item {
	out := make([]*item, 0, len(c.items))
	for _, it := range c.items {
		if !it.deleted {
			out = append(out, it)
		}
	}
	return out
}

func (c *container) position(it *item) int {
	for i, x := range c.items {
		if x == it {
			return i
		}
	}
	return -1
}

// precedes reports whether a sorts before b among concurrent siblings:
// greater (clock, client) first.
func precedes(aClock uint64, aClient string, bClock uint64, bClient string) bool {
	if aClock != bClock {
		return aClock > bClock
	}
	return aClient > bClient
}
