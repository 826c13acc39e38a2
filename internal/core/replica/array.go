package replica

import (
	"maps"

	"github.com/zeusync/annosync/internal/core/record"
)

// Array is a handle on a named ordered container of records.
type Array struct {
	doc  *Doc
	name string
}

func (a *Array) Name() string { return a.name }

func (a *Array) Len() int {
	a.doc.mu.Lock()
	defer a.doc.mu.Unlock()
	return a.doc.containers[a.name].visibleLen()
}

// ToArray returns the visible records in order. The records are shared with
// the document and must not be modified.
func (a *Array) ToArray() []record.Record {
	a.doc.mu.Lock()
	defer a.doc.mu.Unlock()
	vis := a.doc.containers[a.name].visible()
	out := make([]record.Record, len(vis))
	for i, it := range vis {
		out[i] = it.value
	}
	return out
}

// Observe registers fn for every committed change of the array.
func (a *Array) Observe(fn func(Event)) func() {
	return a.doc.observe(a.name, kindArray, fn)
}

// Push appends values in a transaction of its own.
func (a *Array) Push(origin Origin, values ...record.Record) error {
	return a.doc.Transact(origin, func(tx *Txn) error {
		return tx.Push(a.name, values...)
	})
}

// Insert inserts values at index in a transaction of its own.
func (a *Array) Insert(origin Origin, index int, values ...record.Record) error {
	return a.doc.Transact(origin, func(tx *Txn) error {
		return tx.Insert(a.name, index, values...)
	})
}

// Delete removes count values at index in a transaction of its own.
func (a *Array) Delete(origin Origin, index, count int) error {
	return a.doc.Transact(origin, func(tx *Txn) error {
		return tx.Delete(a.name, index, count)
	})
}

// Map is a handle on a named keyed container of records.
type Map struct {
	doc  *Doc
	name string
}

func (m *Map) Name() string { return m.name }

func (m *Map) Len() int {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	return m.doc.containers[m.name].visibleLen()
}

// ToMap returns the visible entries. The records are shared with the document
// and must not be modified.
func (m *Map) ToMap() map[string]record.Record {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	out := make(map[string]record.Record)
	for k, e := range m.doc.containers[m.name].entries {
		if !e.deleted {
			out[k] = e.value
		}
	}
	return out
}

func (m *Map) Get(key string) (record.Record, bool) {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	e, ok := m.doc.containers[m.name].entries[key]
	if !ok || e.deleted {
		return nil, false
	}
	return e.value, true
}

// Keys returns the visible keys in no particular order.
func (m *Map) Keys() []string {
	return collectKeys(m.ToMap())
}

func (m *Map) Observe(fn func(Event)) func() {
	return m.doc.observe(m.name, kindMap, fn)
}

// Set stores value under key in a transaction of its own.
func (m *Map) Set(origin Origin, key string, value record.Record) error {
	return m.doc.Transact(origin, func(tx *Txn) error {
		return tx.Set(m.name, key, value)
	})
}

// Remove deletes key in a transaction of its own.
func (m *Map) Remove(origin Origin, key string) error {
	return m.doc.Transact(origin, func(tx *Txn) error {
		return tx.Remove(m.name, key)
	})
}

func collectKeys(m map[string]record.Record) []string {
	keys := make([]string, 0, len(m))
	for k := range maps.Keys(m) {
		keys = append(keys, k)
	}
	return keys
}
