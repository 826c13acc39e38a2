package reconcile

import (
	"context"
	"fmt"

	"github.com/zeusync/annosync/internal/core/observability/log"
	"github.com/zeusync/annosync/internal/core/record"
	"github.com/zeusync/annosync/internal/core/replica"
	"github.com/zeusync/annosync/internal/core/shape"
	"github.com/zeusync/annosync/internal/core/view"
)

// outbound writes one surface change into the replica, in one transaction
// tagged with the engine's origin.
func (e *Engine) outbound(ctx context.Context, ch *channel, change view.Change) Report {
	b := newBatch(ch, Outbound)
	if ch.inbound.Load() {
		ch.stats.echoes.Add(uint64(len(change.Objects)))
		return b.done()
	}
	release := e.holdOutbound(ch)
	defer release()

	e.logger.Debug("outbound",
		log.String("collection", string(ch.coll)),
		log.String("action", string(change.Action)),
		log.Int("objects", len(change.Objects)))

	var (
		prepared []shape.Embedded
		values   map[string]any
	)
	switch change.Action {
	case view.Create, view.Update:
		for _, obj := range change.Objects {
			if change.Action == view.Create {
				emb, err := e.conv.Embed(ctx, obj)
				if err != nil {
					b.skipped(1)
					continue
				}
				prepared = append(prepared, emb)
				continue
			}
			if _, ok := shape.Lookup(obj.Collection, obj.Type); !ok {
				b.skipped(1)
				continue
			}
			prepared = append(prepared, shape.Embedded{Record: shape.ToReplicated(obj)})
		}
		if change.Action == view.Create && ch.coll == record.FormFields {
			values = e.currentValues(ctx, prepared)
		}
	}

	applied := 0
	err := e.doc.Transact(replica.Origin(e.origin), func(tx *replica.Txn) error {
		applied = 0
		switch change.Action {
		case view.Create:
			n, err := e.writeCreates(tx, ch.coll, prepared, values)
			applied = n
			return err
		case view.Update:
			n, err := e.writeUpdates(tx, ch.coll, prepared)
			applied = n
			return err
		case view.Delete:
			n, err := e.writeDeletes(tx, ch.coll, change.Objects)
			applied = n
			return err
		}
		return nil
	})
	if err != nil {
		b.failed(len(change.Objects), fmt.Errorf("%s %s: %w", change.Action, ch.coll, err))
		return b.done()
	}
	b.applied(applied)
	if missing := len(prepared) - applied; change.Action == view.Update && missing > 0 {
		b.skipped(missing)
	}
	return b.done()
}

func (e *Engine) writeCreates(tx *replica.Txn, c record.Collection, prepared []shape.Embedded, values map[string]any) (int, error) {
	if c == record.FormFieldValues {
		return upsertValues(tx, prepared)
	}
	records := make([]record.Record, 0, len(prepared))
	for _, emb := range prepared {
		for id, att := range emb.Attachments {
			if err := tx.Set(string(record.Attachments), id, att.Record()); err != nil {
				return 0, err
			}
		}
		records = append(records, emb.Record)
	}
	if len(records) == 0 {
		return 0, nil
	}
	if err := tx.Push(string(c), records...); err != nil {
		return 0, err
	}
	if c == record.FormFields {
		// fields first, then the values that depend on them
		for _, r := range records {
			name := r.Name()
			v, ok := values[name]
			if !ok {
				continue
			}
			if err := upsertValue(tx, record.FormFieldValue(name, v)); err != nil {
				return 0, err
			}
		}
	}
	return len(records), nil
}

func (e *Engine) writeUpdates(tx *replica.Txn, c record.Collection, prepared []shape.Embedded) (int, error) {
	if c == record.FormFieldValues {
		return upsertValues(tx, prepared)
	}
	n := 0
	for _, emb := range prepared {
		key := emb.Record.Key(c)
		i := tx.IndexOf(string(c), func(r record.Record) bool { return r.Key(c) == key })
		if i < 0 {
			continue
		}
		next := emb.Record
		if prev := tx.Records(string(c))[i]; prev != nil {
			if custom, ok := prev[record.KeyCustomData]; ok {
				if _, has := next[record.KeyCustomData]; !has {
					next = next.With(record.KeyCustomData, custom)
				}
			}
		}
		if err := tx.Delete(string(c), i, 1); err != nil {
			return n, err
		}
		if err := tx.Insert(string(c), i, next); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (e *Engine) writeDeletes(tx *replica.Txn, c record.Collection, objects []view.Object) (int, error) {
	n := 0
	for _, obj := range objects {
		i := tx.IndexOf(string(c), func(r record.Record) bool { return r.Key(c) == obj.ID })
		if i < 0 {
			continue
		}
		name := tx.Records(string(c))[i].Name()
		if err := tx.Delete(string(c), i, 1); err != nil {
			return n, err
		}
		n++
		if c != record.FormFields || name == "" {
			continue
		}
		vi := tx.IndexOf(string(record.FormFieldValues), func(r record.Record) bool { return r.Name() == name })
		if vi >= 0 {
			if err := tx.Delete(string(record.FormFieldValues), vi, 1); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

func upsertValues(tx *replica.Txn, prepared []shape.Embedded) (int, error) {
	for i, emb := range prepared {
		if err := upsertValue(tx, emb.Record); err != nil {
			return i, err
		}
	}
	return len(prepared), nil
}

// upsertValue replaces the value record with the same name, or appends it.
func upsertValue(tx *replica.Txn, r record.Record) error {
	name := string(record.FormFieldValues)
	i := tx.IndexOf(name, func(x record.Record) bool { return x.Name() == r.Name() })
	if i < 0 {
		return tx.Push(name, r)
	}
	if err := tx.Delete(name, i, 1); err != nil {
		return err
	}
	return tx.Insert(name, i, r)
}

func (e *Engine) currentValues(ctx context.Context, prepared []shape.Embedded) map[string]any {
	if len(prepared) == 0 {
		return nil
	}
	values, err := e.surface.FormFieldValues(ctx)
	if err != nil {
		e.logger.Debug("form field values unavailable", log.Error(err))
		return nil
	}
	return values
}
