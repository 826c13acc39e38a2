// Package memory is an in-process view.Surface. The headless peer uses it as
// its editing surface and tests use it to observe what the engine applied.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/zeusync/annosync/internal/core/events/bus"
	"github.com/zeusync/annosync/internal/core/record"
	"github.com/zeusync/annosync/internal/core/shape"
	"github.com/zeusync/annosync/internal/core/view"
)

var _ view.Surface = (*Surface)(nil)

// Calls counts the mutations issued against the surface.
type Calls struct {
	Create            int
	Update            int
	Delete            int
	SetValues         int
	CreateAttachment  int
	ObjectsCreated    int
	ObjectsUpdated    int
	ObjectsDeleted    int
	AttachmentLookups int
}

type collection struct {
	order   []string
	objects map[string]view.Object
}

func newCollection() *collection {
	return &collection{objects: make(map[string]view.Object)}
}

func (c *collection) put(obj view.Object) {
	if _, ok := c.objects[obj.ID]; !ok {
		c.order = append(c.order, obj.ID)
	}
	c.objects[obj.ID] = obj
}

func (c *collection) remove(id string) {
	delete(c.objects, id)
	c.order = slices.DeleteFunc(c.order, func(x string) bool { return x == id })
}

func (c *collection) list() []view.Object {
	out := make([]view.Object, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.objects[id])
	}
	return out
}

// Surface keeps objects per collection in insertion order and content
// addressed attachments. Events are published on its own bus.
type Surface struct {
	mu          sync.Mutex
	collections map[record.Collection]*collection
	values      *collection
	attachments map[string]view.Blob
	creator     string
	loaded      bool
	closed      bool
	calls       Calls

	events bus.EventBus
}

func New() *Surface {
	s := &Surface{events: bus.New()}
	s.reset()
	return s
}

func (s *Surface) reset() {
	s.collections = make(map[record.Collection]*collection)
	for _, c := range record.Arrays {
		if c != record.FormFieldValues {
			s.collections[c] = newCollection()
		}
	}
	s.values = newCollection()
	s.attachments = make(map[string]view.Blob)
}

// Load replaces the whole state with snapshot. It publishes no events.
func (s *Surface) Load(_ context.Context, snapshot view.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return view.ErrClosed
	}
	s.reset()
	for id, att := range snapshot.Attachments {
		data, err := att.Bytes()
		if err != nil {
			return fmt.Errorf("load attachment %s: %w", id, err)
		}
		s.attachments[id] = view.Blob{Data: data, ContentType: att.ContentType}
	}
	for _, c := range record.Arrays {
		for _, r := range snapshot.Records(c) {
			obj, ok := shape.ObjectFrom(c, r)
			if !ok {
				continue
			}
			s.bucket(c).put(obj)
		}
	}
	s.loaded = true
	return nil
}

func (s *Surface) bucket(c record.Collection) *collection {
	if c == record.FormFieldValues {
		return s.values
	}
	return s.collections[c]
}

func (s *Surface) stamp(obj view.Object) view.Object {
	if s.creator == "" || (obj.Collection != record.Annotations && obj.Collection != record.Comments) {
		return obj
	}
	if _, ok := obj.Fields[record.KeyCreatorName]; ok {
		return obj
	}
	obj.Fields = obj.Fields.With(record.KeyCreatorName, s.creator)
	return obj
}

// Create adds objects atomically: if any of them already exists nothing is
// added and ErrDuplicate is returned.
func (s *Surface) Create(ctx context.Context, objects ...view.Object) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return view.ErrClosed
	}
	s.calls.Create++
	seen := make(map[string]struct{}, len(objects))
	for _, obj := range objects {
		b := s.bucket(obj.Collection)
		if b == nil || obj.ID == "" {
			s.mu.Unlock()
			return fmt.Errorf("create %s %q: %w", obj.Collection, obj.ID, view.ErrNotFound)
		}
		key := string(obj.Collection) + "/" + obj.ID
		if _, dup := b.objects[obj.ID]; dup {
			s.mu.Unlock()
			return fmt.Errorf("create %s %q: %w", obj.Collection, obj.ID, view.ErrDuplicate)
		}
		if _, dup := seen[key]; dup {
			s.mu.Unlock()
			return fmt.Errorf("create %s %q: %w", obj.Collection, obj.ID, view.ErrDuplicate)
		}
		seen[key] = struct{}{}
	}
	created := make([]view.Object, 0, len(objects))
	for _, obj := range objects {
		obj = s.stamp(obj)
		s.bucket(obj.Collection).put(obj)
		created = append(created, obj)
	}
	s.calls.ObjectsCreated += len(created)
	s.mu.Unlock()

	return s.publish(ctx, view.Create, created)
}

// Update replaces existing objects. Unknown ids fail the call with ErrNotFound
// before anything changes.
func (s *Surface) Update(ctx context.Context, objects ...view.Object) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return view.ErrClosed
	}
	s.calls.Update++
	for _, obj := range objects {
		b := s.bucket(obj.Collection)
		if b == nil {
			s.mu.Unlock()
			return fmt.Errorf("update %s: %w", obj.Collection, view.ErrNotFound)
		}
		if _, ok := b.objects[obj.ID]; !ok {
			s.mu.Unlock()
			return fmt.Errorf("update %s %q: %w", obj.Collection, obj.ID, view.ErrNotFound)
		}
	}
	for _, obj := range objects {
		s.bucket(obj.Collection).put(obj)
	}
	s.calls.ObjectsUpdated += len(objects)
	s.mu.Unlock()

	return s.publish(ctx, view.Update, objects)
}

// Delete removes objects by id. Unknown ids are ignored. Deleting a form field
// also drops its value without an event of its own.
func (s *Surface) Delete(ctx context.Context, c record.Collection, ids ...string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return view.ErrClosed
	}
	s.calls.Delete++
	b := s.bucket(c)
	if b == nil {
		s.mu.Unlock()
		return fmt.Errorf("delete %s: %w", c, view.ErrNotFound)
	}
	var removed []view.Object
	for _, id := range ids {
		obj, ok := b.objects[id]
		if !ok {
			continue
		}
		b.remove(id)
		removed = append(removed, view.Object{Collection: c, Type: obj.Type, ID: id})
		if c == record.FormFields {
			if name := obj.Fields.Name(); name != "" {
				s.values.remove(name)
			}
		}
	}
	s.calls.ObjectsDeleted += len(removed)
	s.mu.Unlock()

	if len(removed) == 0 {
		return nil
	}
	return s.publish(ctx, view.Delete, removed)
}

// SetFormFieldValues writes values by field name. It publishes one update of
// the form-field-values collection; values not seen before are reported as
// created.
func (s *Surface) SetFormFieldValues(ctx context.Context, values map[string]any) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return view.ErrClosed
	}
	s.calls.SetValues++
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	slices.Sort(names)
	var created, updated []view.Object
	for _, name := range names {
		obj := view.Object{
			Collection: record.FormFieldValues,
			Type:       record.FormFieldValueType,
			ID:         name,
			Fields:     record.Record{record.KeyName: name, record.KeyValue: record.NormalizeValue(values[name])},
		}
		if _, ok := s.values.objects[name]; ok {
			updated = append(updated, obj)
		} else {
			created = append(created, obj)
		}
		s.values.put(obj)
	}
	s.mu.Unlock()

	var errs []error
	if len(created) > 0 {
		errs = append(errs, s.publish(ctx, view.Create, created))
	}
	if len(updated) > 0 {
		errs = append(errs, s.publish(ctx, view.Update, updated))
	}
	return errors.Join(errs...)
}

func (s *Surface) publish(ctx context.Context, action view.Action, objects []view.Object) error {
	var order []record.Collection
	groups := make(map[record.Collection][]view.Object)
	for _, obj := range objects {
		if _, ok := groups[obj.Collection]; !ok {
			order = append(order, obj.Collection)
		}
		groups[obj.Collection] = append(groups[obj.Collection], obj)
	}
	origin := view.OriginFrom(ctx)
	var errs []error
	for _, coll := range order {
		change := view.Change{Collection: coll, Action: action, Objects: groups[coll]}
		if err := s.events.Publish(bus.NewEvent(view.EventName(coll, action), origin, change)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Surface) FormFields(_ context.Context) ([]view.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, view.ErrClosed
	}
	return s.collections[record.FormFields].list(), nil
}

func (s *Surface) FormFieldValues(_ context.Context) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, view.ErrClosed
	}
	out := make(map[string]any, len(s.values.objects))
	for name, obj := range s.values.objects {
		out[name] = obj.Fields[record.KeyValue]
	}
	return out, nil
}

// Objects lists the objects of one collection in insertion order.
func (s *Surface) Objects(c record.Collection) []view.Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bucket(c)
	if b == nil {
		return nil
	}
	return b.list()
}

// Object returns one object by id.
func (s *Surface) Object(c record.Collection, id string) (view.Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bucket(c)
	if b == nil {
		return view.Object{}, false
	}
	obj, ok := b.objects[id]
	return obj, ok
}

// Export serializes the full state.
func (s *Surface) Export(_ context.Context) (view.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return view.Snapshot{}, view.ErrClosed
	}
	var snap view.Snapshot
	for _, c := range record.Arrays {
		objs := s.bucket(c).list()
		records := make([]record.Record, 0, len(objs))
		for _, obj := range objs {
			records = append(records, shape.ToReplicated(obj))
		}
		snap.SetRecords(c, records)
	}
	snap.Attachments = make(map[string]record.Attachment, len(s.attachments))
	for id, blob := range s.attachments {
		snap.Attachments[id] = record.NewAttachment(blob.Data, blob.ContentType)
	}
	return snap, nil
}

func (s *Surface) Attachment(_ context.Context, id string) (view.Blob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.AttachmentLookups++
	blob, ok := s.attachments[id]
	if !ok {
		return view.Blob{}, fmt.Errorf("attachment %q: %w", id, view.ErrNotFound)
	}
	return view.Blob{Data: slices.Clone(blob.Data), ContentType: blob.ContentType}, nil
}

// CreateAttachment stores blob under the hex xxhash of its content.
func (s *Surface) CreateAttachment(_ context.Context, blob view.Blob) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", view.ErrClosed
	}
	s.calls.CreateAttachment++
	id := AttachmentID(blob.Data)
	s.attachments[id] = view.Blob{Data: slices.Clone(blob.Data), ContentType: blob.ContentType}
	return id, nil
}

// PutAttachment stores blob under a caller chosen id without counting a call.
func (s *Surface) PutAttachment(id string, blob view.Blob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachments[id] = blob
}

// AttachmentID is the content address used by CreateAttachment.
func AttachmentID(data []byte) string {
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}

func (s *Surface) On(event string, handler bus.EventHandler) (bus.Subscription, error) {
	return s.events.Subscribe(event, handler)
}

func (s *Surface) SetCreatorName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creator = name
}

func (s *Surface) CreatorName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creator
}

func (s *Surface) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Calls returns the mutation counters.
func (s *Surface) Calls() Calls {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// ResetCalls zeroes the mutation counters.
func (s *Surface) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = Calls{}
}

func (s *Surface) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.events.Close()
}
