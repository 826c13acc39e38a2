// Package view defines the contract of the local editing surface: the
// disposable, human-facing copy of the document state.
package view

import (
	"context"
	"errors"
	"time"

	"github.com/zeusync/annosync/internal/core/events/bus"
	"github.com/zeusync/annosync/internal/core/record"
)

var (
	ErrNotFound  = errors.New("object not found")
	ErrDuplicate = errors.New("object already exists")
	ErrClosed    = errors.New("view closed")
	ErrNotLoaded = errors.New("view not loaded")
)

// Object is one editable object of the surface. Fields holds the serialized
// form; timestamps in Fields may be time.Time values. For form-field values ID
// is the field name.
type Object struct {
	Collection record.Collection
	Type       string
	ID         string
	Fields     record.Record
}

// Blob is attachment content as the surface stores it.
type Blob struct {
	Data        []byte
	ContentType string
}

// Action is the kind of change a surface event reports.
type Action string

const (
	Create Action = "create"
	Update Action = "update"
	Delete Action = "delete"
)

var Actions = []Action{Create, Update, Delete}

// EventName returns the bus event type for a change, "{collection}.{action}".
func EventName(c record.Collection, a Action) string {
	return string(c) + "." + string(a)
}

// Change is the payload of every surface event. Deleted objects only carry
// their identity.
type Change struct {
	Collection record.Collection
	Action     Action
	Objects    []Object
}

// Snapshot is the full state of a document.
type Snapshot struct {
	Annotations     []record.Record              `json:"annotations" yaml:"annotations"`
	Comments        []record.Record              `json:"comments" yaml:"comments"`
	Bookmarks       []record.Record              `json:"bookmarks" yaml:"bookmarks"`
	FormFields      []record.Record              `json:"formFields" yaml:"formFields"`
	FormFieldValues []record.Record              `json:"formFieldValues" yaml:"formFieldValues"`
	Attachments     map[string]record.Attachment `json:"attachments" yaml:"attachments"`
}

// Records returns the records of an array collection.
func (s *Snapshot) Records(c record.Collection) []record.Record {
	switch c {
	case record.Annotations:
		return s.Annotations
	case record.Comments:
		return s.Comments
	case record.Bookmarks:
		return s.Bookmarks
	case record.FormFields:
		return s.FormFields
	case record.FormFieldValues:
		return s.FormFieldValues
	}
	return nil
}

// SetRecords replaces the records of an array collection.
func (s *Snapshot) SetRecords(c record.Collection, records []record.Record) {
	switch c {
	case record.Annotations:
		s.Annotations = records
	case record.Comments:
		s.Comments = records
	case record.Bookmarks:
		s.Bookmarks = records
	case record.FormFields:
		s.FormFields = records
	case record.FormFieldValues:
		s.FormFieldValues = records
	}
}

func (s *Snapshot) Empty() bool {
	for _, c := range record.Arrays {
		if len(s.Records(c)) > 0 {
			return false
		}
	}
	return len(s.Attachments) == 0
}

// Surface is the editing surface. Mutations publish one event per call,
// synchronously and before returning, with the origin carried by ctx as the
// event source. Load publishes nothing.
//
// Deleting a form field removes its value as well. Form-field values are
// deleted by field name through Delete(FormFieldValues, names...).
// CreateAttachment returns an id derived from the content, so one id always
// names the same bytes.
type Surface interface {
	Load(ctx context.Context, snapshot Snapshot) error
	Create(ctx context.Context, objects ...Object) error
	Update(ctx context.Context, objects ...Object) error
	Delete(ctx context.Context, c record.Collection, ids ...string) error
	SetFormFieldValues(ctx context.Context, values map[string]any) error

	FormFields(ctx context.Context) ([]Object, error)
	FormFieldValues(ctx context.Context) (map[string]any, error)
	Export(ctx context.Context) (Snapshot, error)

	Attachment(ctx context.Context, id string) (Blob, error)
	CreateAttachment(ctx context.Context, blob Blob) (string, error)

	// On subscribes handler to the events named by EventName, or to all with bus.Wildcard.
	On(event string, handler bus.EventHandler) (bus.Subscription, error)
	SetCreatorName(name string)
	Close() error
}

type originKey struct{}

// WithOrigin tags ctx so that events caused by calls made with it carry origin
// as their source.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

func OriginFrom(ctx context.Context) string {
	origin, _ := ctx.Value(originKey{}).(string)
	return origin
}

// ChangeFrom extracts the change carried by a surface event.
func ChangeFrom(ev bus.Event) (Change, bool) {
	ch, ok := ev.Data().(Change)
	return ch, ok
}

// Timestamp reads a timestamp field that may be a time.Time or a string.
func (o Object) Timestamp(key string) (time.Time, bool) {
	switch v := o.Fields[key].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := record.ParseTime(v)
		return t, err == nil
	}
	return time.Time{}, false
}
