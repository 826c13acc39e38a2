package reconcile

import (
	"github.com/zeusync/annosync/internal/core/record"
	"github.com/zeusync/annosync/internal/core/replica"
	"github.com/zeusync/annosync/internal/core/view"
)

// Export builds the full snapshot of a replica, the input of the surface's
// initial load. Unreadable attachments are left out.
func Export(doc *replica.Doc) view.Snapshot {
	var snap view.Snapshot
	for _, c := range record.Arrays {
		src := doc.Array(string(c)).ToArray()
		records := make([]record.Record, len(src))
		for i, r := range src {
			records[i] = r.Clone()
		}
		snap.SetRecords(c, records)
	}
	entries := doc.Map(string(record.Attachments)).ToMap()
	snap.Attachments = make(map[string]record.Attachment, len(entries))
	for id, r := range entries {
		att, err := record.AttachmentFrom(r)
		if err != nil {
			continue
		}
		snap.Attachments[id] = att
	}
	return snap
}

// Seed writes a snapshot into an empty replica in one transaction.
func Seed(doc *replica.Doc, snap view.Snapshot, origin replica.Origin) error {
	return doc.Transact(origin, func(tx *replica.Txn) error {
		for id, att := range snap.Attachments {
			if err := tx.Set(string(record.Attachments), id, att.Record()); err != nil {
				return err
			}
		}
		for _, c := range record.Arrays {
			if records := snap.Records(c); len(records) > 0 {
				if err := tx.Push(string(c), records...); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// IsEmpty reports whether every collection of doc is empty.
func IsEmpty(doc *replica.Doc) bool {
	for _, c := range record.All {
		if c.IsMap() {
			if doc.Map(string(c)).Len() > 0 {
				return false
			}
			continue
		}
		if doc.Array(string(c)).Len() > 0 {
			return false
		}
	}
	return true
}

// Clear empties every collection in one transaction.
func Clear(doc *replica.Doc, origin replica.Origin) error {
	for _, c := range record.All {
		if c.IsMap() {
			doc.Map(string(c))
		} else {
			doc.Array(string(c))
		}
	}
	return doc.Transact(origin, func(tx *replica.Txn) error {
		for _, c := range record.All {
			if err := tx.Clear(string(c)); err != nil {
				return err
			}
		}
		return nil
	})
}
