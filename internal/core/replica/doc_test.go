package replica

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/annosync/internal/core/record"
)

func rec(id string, extra ...any) record.Record {
	r := record.Record{"id": id, "type": "pspdfkit/ink"}
	for i := 0; i+1 < len(extra); i += 2 {
		r[extra[i].(string)] = extra[i+1]
	}
	return r
}

func ids(records []record.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID()
	}
	return out
}

func entryIDs(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Value.ID()
	}
	return out
}

// syncDocs exchanges missing operations in both directions.
func syncDocs(t *testing.T, a, b *Doc) {
	t.Helper()
	require.NoError(t, b.ApplyUpdate(a.Diff(b.StateVector()), Remote))
	require.NoError(t, a.ApplyUpdate(b.Diff(a.StateVector()), Remote))
}

func TestTransactAndObserve(t *testing.T) {
	d := NewWithClient("a")
	arr := d.Array("annotations")

	var events []Event
	cancel := arr.Observe(func(ev Event) { events = append(events, ev) })
	defer cancel()

	require.NoError(t, d.Transact(Local, func(tx *Txn) error {
		return tx.Push("annotations", rec("a1"), rec("a2"))
	}))
	assert.Equal(t, []string{"a1", "a2"}, ids(arr.ToArray()))
	require.Len(t, events, 1)
	assert.Equal(t, []string{"a1", "a2"}, entryIDs(events[0].Added))
	assert.Empty(t, events[0].Deleted)
	assert.Equal(t, Local, events[0].Origin)

	require.NoError(t, d.Transact("engine", func(tx *Txn) error {
		i := tx.IndexOf("annotations", func(r record.Record) bool { return r.ID() == "a1" })
		require.Equal(t, 0, i)
		if err := tx.Delete("annotations", i, 1); err != nil {
			return err
		}
		return tx.Insert("annotations", i, rec("a1", "points", []any{1.0}))
	}))
	require.Len(t, events, 2)
	assert.Equal(t, Origin("engine"), events[1].Origin)
	assert.Equal(t, []string{"a1"}, entryIDs(events[1].Deleted))
	assert.Equal(t, []string{"a1"}, entryIDs(events[1].Added))
	assert.Equal(t, []string{"a1", "a2"}, ids(arr.ToArray()))
	assert.Equal(t, []any{1.0}, arr.ToArray()[0]["points"])
}

func TestInsertThenDeleteInOneTxnEmitsNothing(t *testing.T) {
	d := NewWithClient("a")
	count := 0
	d.Array("comments").Observe(func(Event) { count++ })

	require.NoError(t, d.Transact(Local, func(tx *Txn) error {
		if err := tx.Push("comments", rec("c1")); err != nil {
			return err
		}
		return tx.Delete("comments", 0, 1)
	}))
	assert.Zero(t, count)
	assert.Zero(t, d.Array("comments").Len())
}

func TestRollback(t *testing.T) {
	d := NewWithClient("a")
	require.NoError(t, d.Array("bookmarks").Push(Local, rec("b1")))
	sv := d.StateVector()

	fired := false
	d.Array("bookmarks").Observe(func(Event) { fired = true })
	d.OnUpdate(func(*Update, Origin) { fired = true })

	boom := errors.New("boom")
	err := d.Transact(Local, func(tx *Txn) error {
		require.NoError(t, tx.Push("bookmarks", rec("b2")))
		require.NoError(t, tx.Delete("bookmarks", 0, 1))
		require.NoError(t, tx.Set("attachments", "x", record.Record{"binary": "AA=="}))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, fired)
	assert.Equal(t, []string{"b1"}, ids(d.Array("bookmarks").ToArray()))
	assert.Zero(t, d.Map("attachments").Len())
	assert.Equal(t, sv, d.StateVector())
	assert.Len(t, d.EncodeState().Ops, 1)
}

func TestOutOfRangeAndKindMismatch(t *testing.T) {
	d := NewWithClient("a")
	d.Map("attachments")
	err := d.Transact(Local, func(tx *Txn) error { return tx.Insert("annotations", 2, rec("x")) })
	assert.ErrorIs(t, err, ErrOutOfRange)
	err = d.Transact(Local, func(tx *Txn) error { return tx.Delete("annotations", 0, 1) })
	assert.ErrorIs(t, err, ErrOutOfRange)
	err = d.Transact(Local, func(tx *Txn) error { return tx.Push("attachments", rec("x")) })
	assert.ErrorIs(t, err, ErrKindMismatch)
}

func TestMapEvents(t *testing.T) {
	d := NewWithClient("a")
	m := d.Map("attachments")
	var events []Event
	m.Observe(func(ev Event) { events = append(events, ev) })

	require.NoError(t, m.Set(Local, "img1", record.Record{"binary": "AA==", "contentType": "image/png"}))
	require.Len(t, events, 1)
	assert.Equal(t, "img1", events[0].Added[0].Key)

	require.NoError(t, m.Set(Local, "img1", record.Record{"binary": "AQ==", "contentType": "image/png"}))
	require.Len(t, events, 2)
	assert.Len(t, events[1].Deleted, 1)
	assert.Len(t, events[1].Added, 1)
	assert.Equal(t, "AQ==", events[1].Added[0].Value["binary"])

	require.NoError(t, m.Remove(Local, "img1"))
	require.Len(t, events, 3)
	assert.Len(t, events[2].Deleted, 1)
	assert.Empty(t, events[2].Added)

	require.NoError(t, m.Remove(Local, "missing"))
	assert.Len(t, events, 3)
}

func TestConvergenceConcurrentInserts(t *testing.T) {
	a, b := NewWithClient("a"), NewWithClient("b")
	require.NoError(t, a.Array("annotations").Push(Local, rec("base")))
	syncDocs(t, a, b)

	require.NoError(t, a.Array("annotations").Insert(Local, 1, rec("fromA1"), rec("fromA2")))
	require.NoError(t, b.Array("annotations").Insert(Local, 1, rec("fromB")))
	require.NoError(t, b.Array("annotations").Insert(Local, 0, rec("headB")))
	syncDocs(t, a, b)

	assert.Equal(t, ids(a.Array("annotations").ToArray()), ids(b.Array("annotations").ToArray()))
	assert.Len(t, a.Array("annotations").ToArray(), 5)
	got := ids(a.Array("annotations").ToArray())
	assert.Less(t, indexOf(got, "fromA1"), indexOf(got, "fromA2"))
}

func TestConvergenceConcurrentDeleteAndUpdate(t *testing.T) {
	a, b := NewWithClient("a"), NewWithClient("b")
	require.NoError(t, a.Array("formFields").Push(Local, rec("f1"), rec("f2")))
	syncDocs(t, a, b)

	require.NoError(t, a.Array("formFields").Delete(Local, 0, 1))
	require.NoError(t, b.Transact(Local, func(tx *Txn) error {
		if err := tx.Delete("formFields", 1, 1); err != nil {
			return err
		}
		return tx.Insert("formFields", 1, rec("f2", "label", "x"))
	}))
	syncDocs(t, a, b)

	assert.Equal(t, ids(a.Array("formFields").ToArray()), ids(b.Array("formFields").ToArray()))
	assert.Equal(t, []string{"f2"}, ids(a.Array("formFields").ToArray()))
}

func TestMapLastWriterWins(t *testing.T) {
	a, b := NewWithClient("a"), NewWithClient("b")
	require.NoError(t, a.Map("attachments").Set(Local, "k", record.Record{"binary": "a"}))
	require.NoError(t, b.Map("attachments").Set(Local, "k", record.Record{"binary": "b"}))
	syncDocs(t, a, b)

	va, _ := a.Map("attachments").Get("k")
	vb, _ := b.Map("attachments").Get("k")
	assert.Equal(t, va, vb)
	// equal clocks: greater client id wins
	assert.Equal(t, "b", va["binary"])
}

func TestOutOfOrderDeliveryWaitsInPending(t *testing.T) {
	a, b := NewWithClient("a"), NewWithClient("b")
	require.NoError(t, a.Array("comments").Push(Local, rec("c1")))
	first := a.EncodeState()
	require.NoError(t, a.Array("comments").Push(Local, rec("c2")))
	second := a.Diff(StateVector{"a": 1})

	var added []string
	b.Array("comments").Observe(func(ev Event) { added = append(added, entryIDs(ev.Added)...) })

	require.NoError(t, b.ApplyUpdate(second, Remote))
	assert.Equal(t, 1, b.Pending())
	assert.Zero(t, b.Array("comments").Len())

	require.NoError(t, b.ApplyUpdate(first, Remote))
	assert.Zero(t, b.Pending())
	assert.Equal(t, []string{"c1", "c2"}, ids(b.Array("comments").ToArray()))
	assert.Equal(t, []string{"c1", "c2"}, added)

	// duplicates are ignored
	require.NoError(t, b.ApplyUpdate(a.EncodeState(), Remote))
	assert.Len(t, b.Array("comments").ToArray(), 2)
}

func TestRandomizedConvergence(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	docs := []*Doc{NewWithClient("a"), NewWithClient("b"), NewWithClient("c")}
	n := 0
	for round := 0; round < 30; round++ {
		for _, d := range docs {
			require.NoError(t, d.Transact(Local, func(tx *Txn) error {
				for k := 0; k < 3; k++ {
					l := tx.Len("annotations")
					if l > 0 && rng.Intn(3) == 0 {
						if err := tx.Delete("annotations", rng.Intn(l), 1); err != nil {
							return err
						}
						continue
					}
					n++
					if err := tx.Insert("annotations", rng.Intn(l+1), rec(fmt.Sprintf("r%d", n))); err != nil {
						return err
					}
				}
				return nil
			}))
		}
		if rng.Intn(2) == 0 {
			i, j := rng.Intn(3), rng.Intn(3)
			if i != j {
				syncDocs(t, docs[i], docs[j])
			}
		}
	}
	for i := range docs {
		for j := range docs {
			if i != j {
				syncDocs(t, docs[i], docs[j])
			}
		}
	}
	want := ids(docs[0].Array("annotations").ToArray())
	for _, d := range docs[1:] {
		assert.Equal(t, want, ids(d.Array("annotations").ToArray()))
	}
}

func TestUpdateSerialization(t *testing.T) {
	d := NewWithClient("a")
	require.NoError(t, d.Array("annotations").Push(Local, rec("a1", "opacity", 0.5)))
	require.NoError(t, d.Map("attachments").Set(Local, "img", record.Record{"binary": "AA=="}))

	data, err := d.EncodeState().Serialize()
	require.NoError(t, err)
	u, err := DecodeUpdate(data)
	require.NoError(t, err)

	other := NewWithClient("b")
	require.NoError(t, other.ApplyUpdate(u, Durable))
	assert.True(t, record.Equal(d.Array("annotations").ToArray()[0], other.Array("annotations").ToArray()[0]))
	assert.Equal(t, 1, other.Map("attachments").Len())

	_, err = DecodeUpdate([]byte("{"))
	assert.Error(t, err)
}

func TestMalformedOpsAreReported(t *testing.T) {
	d := NewWithClient("a")
	err := d.ApplyUpdate(&Update{Ops: []Op{{Kind: "bogus", Container: "x", ID: ItemID{"z", 1}}}}, Remote)
	assert.ErrorIs(t, err, ErrMalformedOp)
}

func TestOnUpdateAndDestroy(t *testing.T) {
	d := NewWithClient("a")
	var origins []Origin
	cancel := d.OnUpdate(func(u *Update, o Origin) {
		assert.NotEmpty(t, u.Ops)
		origins = append(origins, o)
	})
	require.NoError(t, d.Array("annotations").Push(Seed, rec("a1")))
	cancel()
	require.NoError(t, d.Array("annotations").Push(Local, rec("a2")))
	assert.Equal(t, []Origin{Seed}, origins)

	assert.False(t, d.IsEmpty())
	d.Destroy()
	assert.ErrorIs(t, d.Array("annotations").Push(Local, rec("a3")), ErrDestroyed)
	assert.ErrorIs(t, d.ApplyUpdate(&Update{Ops: []Op{{}}}, Remote), ErrDestroyed)
}

func TestObserversMayReadDuringDelivery(t *testing.T) {
	d := NewWithClient("a")
	arr := d.Array("annotations")
	var seen int
	arr.Observe(func(Event) { seen = arr.Len() })
	require.NoError(t, arr.Push(Local, rec("a1")))
	assert.Equal(t, 1, seen)
}

func TestClear(t *testing.T) {
	d := NewWithClient("a")
	require.NoError(t, d.Transact(Local, func(tx *Txn) error {
		if err := tx.Push("annotations", rec("a1"), rec("a2")); err != nil {
			return err
		}
		return tx.Set("attachments", "k", record.Record{"binary": "AA=="})
	}))
	require.NoError(t, d.Transact(Reset, func(tx *Txn) error {
		if err := tx.Clear("annotations"); err != nil {
			return err
		}
		if err := tx.Clear("attachments"); err != nil {
			return err
		}
		return tx.Clear("unknown")
	}))
	assert.True(t, d.IsEmpty())
}

func TestItemIDParse(t *testing.T) {
	id := ItemID{Client: "01HX:weird", Seq: 42}
	got, err := ParseItemID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, got)
	_, err = ParseItemID("nocolon")
	assert.Error(t, err)
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
