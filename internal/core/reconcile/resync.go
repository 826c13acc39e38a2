package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/zeusync/annosync/internal/core/observability/log"
	"github.com/zeusync/annosync/internal/core/record"
	"github.com/zeusync/annosync/internal/core/replica"
)

// volatile fields are owned by the surface and never compared.
var volatile = []string{record.KeyCreatorName}

func (e *Engine) resync(ctx context.Context) error {
	snap, err := e.surface.Export(ctx)
	if err != nil {
		return fmt.Errorf("export surface: %w", err)
	}
	current := Export(e.doc)

	var errs []error
	total := 0
	for _, c := range record.All {
		var deleted, added []replica.Entry
		if c.IsMap() {
			for id, att := range current.Attachments {
				if _, ok := snap.Attachments[id]; !ok {
					added = append(added, replica.Entry{Key: id, Value: att.Record()})
				}
			}
		} else {
			deleted, added = compare(c, snap.Records(c), current.Records(c))
		}
		if len(deleted) == 0 && len(added) == 0 {
			continue
		}
		total += len(deleted) + len(added)
		r := e.inbound(ctx, e.channels[c], deleted, added)
		e.report(r)
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	if total > 0 {
		e.logger.Info("resynced surface", log.Int("changes", total))
	}
	return errors.Join(errs...)
}

// compare returns the entries turning have into want: records missing from
// want are deleted, records missing from have are added, differing records
// are both.
func compare(c record.Collection, have, want []record.Record) (deleted, added []replica.Entry) {
	wantByKey := make(map[string]record.Record, len(want))
	for _, r := range want {
		wantByKey[r.Key(c)] = r
	}
	haveByKey := make(map[string]record.Record, len(have))
	for _, r := range have {
		key := r.Key(c)
		haveByKey[key] = r
		w, ok := wantByKey[key]
		if !ok || !record.Equal(r, w, volatile...) {
			deleted = append(deleted, replica.Entry{Key: key, Value: r})
		}
	}
	for _, r := range want {
		key := r.Key(c)
		h, ok := haveByKey[key]
		if !ok || !record.Equal(h, r, volatile...) {
			added = append(added, replica.Entry{Key: key, Value: r})
		}
	}
	return deleted, added
}
