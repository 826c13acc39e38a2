package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/zeusync/annosync/internal/core/diff"
	"github.com/zeusync/annosync/internal/core/observability/log"
	"github.com/zeusync/annosync/internal/core/record"
	"github.com/zeusync/annosync/internal/core/replica"
	"github.com/zeusync/annosync/internal/core/view"
)

// batch accumulates the outcome of one handler.
type batch struct {
	report Report
	errs   []error
	ch     *channel
}

func newBatch(ch *channel, dir Direction) *batch {
	return &batch{ch: ch, report: Report{Collection: ch.coll, Direction: dir}}
}

func (b *batch) applied(n int) {
	if n <= 0 {
		return
	}
	b.report.Applied += n
	if b.report.Direction == Inbound {
		b.ch.stats.inbound.Add(uint64(n))
	} else {
		b.ch.stats.outbound.Add(uint64(n))
	}
}

func (b *batch) skipped(n int) {
	b.report.Skipped += n
	b.ch.stats.skipped.Add(uint64(n))
}

func (b *batch) failed(n int, err error) {
	b.report.Failed += n
	b.ch.stats.failures.Add(uint64(n))
	b.errs = append(b.errs, err)
}

func (b *batch) done() Report {
	b.report.Err = errors.Join(b.errs...)
	return b.report
}

func entryKey(c record.Collection) func(replica.Entry) string {
	if c.IsMap() {
		return func(e replica.Entry) string { return e.Key }
	}
	return func(e replica.Entry) string { return e.Value.Key(c) }
}

// inbound applies one replica change to the surface.
func (e *Engine) inbound(ctx context.Context, ch *channel, deleted, added []replica.Entry) Report {
	release := e.holdInbound(ch)
	defer release()

	b := newBatch(ch, Inbound)
	res := diff.Compute(deleted, added, entryKey(ch.coll))
	if res.Empty() {
		return b.done()
	}
	e.logger.Debug("inbound",
		log.String("collection", string(ch.coll)),
		log.Int("created", len(res.Created)),
		log.Int("updated", len(res.Updated)),
		log.Int("deleted", len(res.Deleted)))

	switch ch.coll {
	case record.Attachments:
		e.inboundAttachments(ctx, b, slices.Concat(res.Created, res.Updated))
		b.skipped(len(res.Deleted))
	case record.FormFieldValues:
		// values already gone with their field are ignored by the surface
		e.inboundDeletes(ctx, b, res.Deleted)
		e.inboundValues(ctx, b, slices.Concat(res.Created, res.Updated))
	default:
		e.inboundDeletes(ctx, b, res.Deleted)
		e.inboundUpdates(ctx, b, res.Updated)
		e.inboundCreates(ctx, b, res.Created)
	}
	return b.done()
}

func (e *Engine) inboundDeletes(ctx context.Context, b *batch, entries []replica.Entry) {
	if len(entries) == 0 {
		return
	}
	c := b.ch.coll
	ids := make([]string, 0, len(entries))
	for _, en := range entries {
		if id := en.Value.Key(c); id != "" {
			ids = append(ids, id)
		} else {
			b.skipped(1)
		}
	}
	if len(ids) == 0 {
		return
	}
	if err := e.surface.Delete(ctx, c, ids...); err != nil {
		b.failed(len(ids), fmt.Errorf("delete %s: %w", c, err))
		return
	}
	b.applied(len(ids))
}

func (e *Engine) inboundUpdates(ctx context.Context, b *batch, entries []replica.Entry) {
	c := b.ch.coll
	for _, en := range entries {
		objs, ok := e.conv.ToView(ctx, c, en.Value)
		if !ok {
			b.skipped(1)
			e.logger.Debug("unsupported record", log.String("collection", string(c)), log.String("type", en.Value.Type()))
			continue
		}
		// a widget may bring its paired field along
		for _, obj := range objs {
			err := e.surface.Update(ctx, obj)
			if errors.Is(err, view.ErrNotFound) {
				err = e.surface.Create(ctx, obj)
			}
			if err != nil {
				b.failed(1, fmt.Errorf("update %s %q: %w", obj.Collection, obj.ID, err))
				continue
			}
			b.applied(1)
		}
	}
}

func (e *Engine) inboundCreates(ctx context.Context, b *batch, entries []replica.Entry) {
	if len(entries) == 0 {
		return
	}
	c := b.ch.coll

	var known map[string]struct{}
	if c == record.FormFields {
		known = e.fieldNames(ctx)
	}

	var objs []view.Object
	for _, en := range entries {
		converted, ok := e.conv.ToView(ctx, c, en.Value)
		if !ok {
			b.skipped(1)
			e.logger.Debug("unsupported record", log.String("collection", string(c)), log.String("type", en.Value.Type()))
			continue
		}
		if known != nil {
			if _, exists := known[converted[0].Fields.Name()]; exists {
				// created together with its widget annotation
				b.skipped(1)
				continue
			}
		}
		objs = append(objs, converted...)
	}
	if len(objs) == 0 {
		return
	}
	if err := e.surface.Create(ctx, objs...); err == nil {
		b.applied(len(objs))
		return
	}

	for _, obj := range objs {
		err := e.surface.Create(ctx, obj)
		if errors.Is(err, view.ErrDuplicate) {
			err = e.surface.Update(ctx, obj)
		}
		if err != nil {
			b.failed(1, fmt.Errorf("create %s %q: %w", obj.Collection, obj.ID, err))
			continue
		}
		b.applied(1)
	}
}

func (e *Engine) inboundValues(ctx context.Context, b *batch, entries []replica.Entry) {
	if len(entries) == 0 {
		return
	}
	values := make(map[string]any, len(entries))
	for _, en := range entries {
		name := en.Value.Name()
		if name == "" {
			b.skipped(1)
			continue
		}
		values[name] = record.NormalizeValue(en.Value[record.KeyValue])
	}
	if len(values) == 0 {
		return
	}
	if err := e.surface.SetFormFieldValues(ctx, values); err != nil {
		b.failed(len(values), fmt.Errorf("set form field values: %w", err))
		return
	}
	b.applied(len(values))
}

func (e *Engine) inboundAttachments(ctx context.Context, b *batch, entries []replica.Entry) {
	for _, en := range entries {
		// ids are content addresses: a known id already holds these bytes
		if _, err := e.surface.Attachment(ctx, en.Key); err == nil {
			b.skipped(1)
			continue
		}
		att, err := record.AttachmentFrom(en.Value)
		if err != nil {
			b.failed(1, fmt.Errorf("attachment %q: %w", en.Key, err))
			continue
		}
		data, err := att.Bytes()
		if err != nil {
			b.failed(1, fmt.Errorf("attachment %q: %w", en.Key, err))
			continue
		}
		if _, err = e.surface.CreateAttachment(ctx, view.Blob{Data: data, ContentType: att.ContentType}); err != nil {
			b.failed(1, fmt.Errorf("attachment %q: %w", en.Key, err))
			continue
		}
		b.applied(1)
	}
}

func (e *Engine) fieldNames(ctx context.Context) map[string]struct{} {
	fields, err := e.surface.FormFields(ctx)
	if err != nil {
		return map[string]struct{}{}
	}
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f.Fields.Name()] = struct{}{}
	}
	return out
}
