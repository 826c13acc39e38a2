package replica

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/zeusync/annosync/internal/core/record"
)

// Entry is one value reported by an Event. For arrays Key is the item id, for
// maps it is the map key.
type Entry struct {
	Key   string
	Value record.Record
}

// Event describes what one transaction did to one container. Added holds the
// values inserted by the transaction that are still present after it, in
// document order. Deleted holds the values that existed before the
// transaction and were removed or overwritten by it.
type Event struct {
	Container string
	Origin    Origin
	Deleted   []Entry
	Added     []Entry
}

type change struct {
	newItems  map[*item]struct{}
	deleted   []Entry
	prior     map[string]*entry
	keyOrder  []string
	keyWrites map[string]struct{}
}

// Txn is an open transaction. It is only valid inside the Transact callback.
type Txn struct {
	doc    *Doc
	origin Origin
	done   bool

	ops     []Op
	undo    []func()
	touched []string
	changes map[string]*change
}

func newTxn(d *Doc, origin Origin) *Txn {
	return &Txn{
		doc:     d,
		origin:  origin,
		changes: make(map[string]*change),
	}
}

func (tx *Txn) Origin() Origin { return tx.origin }

func (tx *Txn) check(name string, k kind) (*container, error) {
	if tx.done {
		return nil, ErrTxnDone
	}
	c := tx.doc.containerLocked(name, k)
	if c.kind != k {
		return nil, fmt.Errorf("%s: %w", name, ErrKindMismatch)
	}
	return c, nil
}

// Len returns the number of visible elements of the named container.
func (tx *Txn) Len(name string) int {
	c, ok := tx.doc.containers[name]
	if !ok {
		return 0
	}
	return c.visibleLen()
}

// Records returns the visible values of the named array in order.
func (tx *Txn) Records(name string) []record.Record {
	c, ok := tx.doc.containers[name]
	if !ok || c.kind != kindArray {
		return nil
	}
	vis := c.visible()
	out := make([]record.Record, len(vis))
	for i, it := range vis {
		out[i] = it.value
	}
	return out
}

// IndexOf returns the position of the first visible element matching, or -1.
func (tx *Txn) IndexOf(name string, match func(record.Record) bool) int {
	for i, r := range tx.Records(name) {
		if match(r) {
			return i
		}
	}
	return -1
}

// Insert places values at index, shifting later elements right.
func (tx *Txn) Insert(name string, index int, values ...record.Record) error {
	c, err := tx.check(name, kindArray)
	if err != nil {
		return err
	}
	vis := c.visible()
	if index < 0 || index > len(vis) {
		return fmt.Errorf("insert %s[%d] of %d: %w", name, index, len(vis), ErrOutOfRange)
	}
	var left *ItemID
	if index > 0 {
		id := vis[index-1].id
		left = &id
	}
	for _, v := range values {
		op := Op{
			Kind:      OpInsert,
			Container: name,
			ID:        tx.nextID(),
			Clock:     tx.tick(),
			Left:      left,
			Value:     v.Clone(),
		}
		if err = tx.integrate(op); err != nil {
			return err
		}
		id := op.ID
		left = &id
	}
	return nil
}

// Push appends values to the named array.
func (tx *Txn) Push(name string, values ...record.Record) error {
	return tx.Insert(name, tx.Len(name), values...)
}

// Delete removes count elements starting at index.
func (tx *Txn) Delete(name string, index, count int) error {
	c, err := tx.check(name, kindArray)
	if err != nil {
		return err
	}
	vis := c.visible()
	if index < 0 || count < 0 || index+count > len(vis) {
		return fmt.Errorf("delete %s[%d:%d] of %d: %w", name, index, index+count, len(vis), ErrOutOfRange)
	}
	for _, it := range vis[index : index+count] {
		target := it.id
		op := Op{
			Kind:      OpDelete,
			Container: name,
			ID:        tx.nextID(),
			Clock:     tx.tick(),
			Target:    &target,
		}
		if err = tx.integrate(op); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the value stored under key in the named map.
func (tx *Txn) Get(name, key string) (record.Record, bool) {
	c, ok := tx.doc.containers[name]
	if !ok || c.kind != kindMap {
		return nil, false
	}
	e, ok := c.entries[key]
	if !ok || e.deleted {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key in the named map, replacing any previous value.
func (tx *Txn) Set(name, key string, value record.Record) error {
	if _, err := tx.check(name, kindMap); err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("set %s: empty key: %w", name, ErrMalformedOp)
	}
	return tx.integrate(Op{
		Kind:      OpSet,
		Container: name,
		ID:        tx.nextID(),
		Clock:     tx.tick(),
		Key:       key,
		Value:     value.Clone(),
	})
}

// Remove deletes key from the named map. Removing a missing key is a no-op.
func (tx *Txn) Remove(name, key string) error {
	if _, err := tx.check(name, kindMap); err != nil {
		return err
	}
	if _, ok := tx.Get(name, key); !ok {
		return nil
	}
	return tx.integrate(Op{
		Kind:      OpRemove,
		Container: name,
		ID:        tx.nextID(),
		Clock:     tx.tick(),
		Key:       key,
	})
}

// Clear empties the named container, whatever its kind.
func (tx *Txn) Clear(name string) error {
	c, ok := tx.doc.containers[name]
	if !ok {
		return nil
	}
	if c.kind == kindArray {
		return tx.Delete(name, 0, c.visibleLen())
	}
	for key, e := range c.entries {
		if e.deleted {
			continue
		}
		if err := tx.Remove(name, key); err != nil {
			return err
		}
	}
	return nil
}

func (tx *Txn) nextID() ItemID {
	return ItemID{Client: tx.doc.client, Seq: tx.doc.vector[tx.doc.client] + 1}
}

func (tx *Txn) tick() uint64 {
	return tx.doc.clock + 1
}

// ready reports whether every dependency of op is integrated.
func (tx *Txn) ready(op Op) bool {
	d := tx.doc
	if op.ID.Seq != d.vector[op.ID.Client]+1 {
		return false
	}
	switch op.Kind {
	case OpInsert:
		if op.Left != nil {
			if _, ok := d.items[*op.Left]; !ok {
				return false
			}
		}
	case OpDelete:
		if _, ok := d.items[*op.Target]; !ok {
			return false
		}
	}
	return true
}

func (tx *Txn) drainPending() []error {
	d := tx.doc
	var errs []error
	for progress := true; progress; {
		progress = false
		ids := make([]ItemID, 0, len(d.pending))
		for id := range d.pending {
			ids = append(ids, id)
		}
		slices.SortFunc(ids, func(a, b ItemID) int {
			if c := cmp.Compare(a.Client, b.Client); c != 0 {
				return c
			}
			return cmp.Compare(a.Seq, b.Seq)
		})
		for _, id := range ids {
			op := d.pending[id]
			if op.ID.Seq <= d.vector[op.ID.Client] {
				delete(d.pending, id)
				continue
			}
			if !tx.ready(op) {
				continue
			}
			delete(d.pending, id)
			if err := tx.integrate(op); err != nil {
				errs = append(errs, fmt.Errorf("op %s: %w", op.ID, err))
			}
			progress = true
		}
	}
	return errs
}

// integrate applies one causally ready operation and records it. An operation
// that cannot take effect still advances the state vector so later operations
// of the same client are not blocked.
func (tx *Txn) integrate(op Op) error {
	d := tx.doc
	prevClock, prevSeq := d.clock, d.vector[op.ID.Client]
	prevLog := len(d.log[op.ID.Client])
	d.clock = max(d.clock, op.Clock)
	d.vector[op.ID.Client] = op.ID.Seq
	d.log[op.ID.Client] = append(d.log[op.ID.Client], op)
	tx.ops = append(tx.ops, op)
	client := op.ID.Client
	tx.undo = append(tx.undo, func() {
		d.clock = prevClock
		d.vector[client] = prevSeq
		if prevSeq == 0 {
			delete(d.vector, client)
		}
		d.log[client] = d.log[client][:prevLog]
		if prevLog == 0 {
			delete(d.log, client)
		}
	})

	want := kindMap
	if op.isArray() {
		want = kindArray
	}
	c := d.containerLocked(op.Container, want)
	if c.kind != want {
		return fmt.Errorf("%s: %w", op.Container, ErrKindMismatch)
	}

	switch op.Kind {
	case OpInsert:
		tx.integrateInsert(c, op)
	case OpDelete:
		tx.integrateDelete(c, op)
	case OpSet, OpRemove:
		tx.integrateMapWrite(c, op)
	}
	return nil
}

func (tx *Txn) integrateInsert(c *container, op Op) {
	d := tx.doc
	if _, exists := d.items[op.ID]; exists {
		return
	}
	pos := 0
	if op.Left != nil {
		left := d.items[*op.Left]
		if left.container != c {
			return
		}
		pos = c.position(left) + 1
	}
	for pos < len(c.items) && precedes(c.items[pos].clock, c.items[pos].id.Client, op.Clock, op.ID.Client) {
		pos++
	}

	it := &item{id: op.ID, clock: op.Clock, value: op.Value, container: c}
	c.items = append(c.items, nil)
	copy(c.items[pos+1:], c.items[pos:])
	c.items[pos] = it
	d.items[op.ID] = it

	ch := tx.change(c.name)
	ch.newItems[it] = struct{}{}

	tx.undo = append(tx.undo, func() {
		if i := c.position(it); i >= 0 {
			c.items = append(c.items[:i], c.items[i+1:]...)
		}
		delete(d.items, it.id)
		delete(ch.newItems, it)
	})
}

func (tx *Txn) integrateDelete(c *container, op Op) {
	it := tx.doc.items[*op.Target]
	if it.deleted || it.container != c {
		return
	}
	it.deleted = true
	ch := tx.change(c.name)
	_, isNew := ch.newItems[it]
	if !isNew {
		ch.deleted = append(ch.deleted, Entry{Key: it.id.String(), Value: it.value})
	}
	tx.undo = append(tx.undo, func() {
		it.deleted = false
		if !isNew {
			ch.deleted = ch.deleted[:len(ch.deleted)-1]
		}
	})
}

func (tx *Txn) integrateMapWrite(c *container, op Op) {
	cur := c.entries[op.Key]
	if cur != nil && !precedes(op.Clock, op.ID.Client, cur.clock, cur.id.Client) {
		return
	}
	ch := tx.change(c.name)
	if _, seen := ch.prior[op.Key]; !seen {
		ch.prior[op.Key] = cur
		ch.keyOrder = append(ch.keyOrder, op.Key)
	}
	next := &entry{id: op.ID, clock: op.Clock, value: op.Value, deleted: op.Kind == OpRemove}
	c.entries[op.Key] = next
	_, wrote := ch.keyWrites[op.Key]
	if op.Kind == OpSet {
		ch.keyWrites[op.Key] = struct{}{}
	}
	key := op.Key
	tx.undo = append(tx.undo, func() {
		if cur == nil {
			delete(c.entries, key)
		} else {
			c.entries[key] = cur
		}
		if !wrote {
			delete(ch.keyWrites, key)
		}
	})
}

func (tx *Txn) change(name string) *change {
	ch, ok := tx.changes[name]
	if !ok {
		ch = &change{
			newItems:  make(map[*item]struct{}),
			prior:     make(map[string]*entry),
			keyWrites: make(map[string]struct{}),
		}
		tx.changes[name] = ch
		tx.touched = append(tx.touched, name)
	}
	return ch
}

func (tx *Txn) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	tx.ops = nil
	tx.done = true
}

func (tx *Txn) events() []Event {
	var out []Event
	for _, name := range tx.touched {
		c := tx.doc.containers[name]
		ch := tx.changes[name]
		ev := Event{Container: name, Origin: tx.origin}
		if c.kind == kindArray {
			ev.Deleted = ch.deleted
			for _, it := range c.items {
				if _, ok := ch.newItems[it]; ok && !it.deleted {
					ev.Added = append(ev.Added, Entry{Key: it.id.String(), Value: it.value})
				}
			}
		} else {
			for _, key := range ch.keyOrder {
				prior, now := ch.prior[key], c.entries[key]
				if now == prior {
					continue
				}
				_, wrote := ch.keyWrites[key]
				if prior != nil && !prior.deleted {
					ev.Deleted = append(ev.Deleted, Entry{Key: key, Value: prior.value})
				}
				if wrote && now != nil && !now.deleted {
					ev.Added = append(ev.Added, Entry{Key: key, Value: now.value})
				}
			}
		}
		if len(ev.Added) > 0 || len(ev.Deleted) > 0 {
			out = append(out, ev)
		}
	}
	return out
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
