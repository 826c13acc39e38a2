// Package shape converts between replicated records and surface objects.
package shape

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/zeusync/annosync/internal/core/observability/log"
	"github.com/zeusync/annosync/internal/core/record"
	"github.com/zeusync/annosync/internal/core/view"
)

var ErrUnsupported = errors.New("unsupported record shape")

var timeKeys = []string{record.KeyCreatedAt, record.KeyUpdatedAt}

// ToReplicated serializes a surface object. Identity and discriminant are taken
// from the object, timestamps are written canonically and form-field values get
// their type tag and schema version.
func ToReplicated(obj view.Object) record.Record {
	fields := make(record.Record, len(obj.Fields)+2)
	for k, v := range obj.Fields {
		fields[k] = v
	}
	for _, key := range timeKeys {
		if v, ok := fields[key]; ok {
			if s, ok := record.CanonicalTime(v); ok {
				fields[key] = s
			}
		}
	}

	r := fields.Clone()
	if obj.Collection == record.FormFieldValues {
		name := obj.ID
		if name == "" {
			name = r.Name()
		}
		return record.FormFieldValue(name, r[record.KeyValue])
	}
	if obj.ID != "" {
		r[record.KeyID] = obj.ID
	}
	if obj.Type != "" {
		r[record.KeyType] = obj.Type
	}
	return r
}

// ObjectFrom rebuilds a surface object from a record with the record's
// identity. It reports false for records of unknown shape.
func ObjectFrom(c record.Collection, r record.Record) (view.Object, bool) {
	typ := r.Type()
	if c == record.FormFieldValues && typ == "" {
		typ = record.FormFieldValueType
	}
	v, ok := Lookup(c, typ)
	if !ok {
		return view.Object{}, false
	}
	id := r.Key(c)
	if id == "" {
		return view.Object{}, false
	}
	fields := r.Clone()
	for _, key := range timeKeys {
		if s, ok := fields[key].(string); ok {
			if t, err := record.ParseTime(s); err == nil {
				fields[key] = t.UTC()
			}
		}
	}
	if c == record.FormFieldValues {
		fields = record.Record{
			record.KeyName:  id,
			record.KeyValue: record.NormalizeValue(fields[record.KeyValue]),
		}
	}
	return view.Object{Collection: c, Type: v.Type, ID: id, Fields: fields}, true
}

// Converter resolves the parts of a conversion that need the surface:
// attachments of image annotations and the form fields paired with widgets.
type Converter struct {
	surface view.Surface
	logger  log.Log
}

func NewConverter(surface view.Surface, logger log.Log) *Converter {
	return &Converter{surface: surface, logger: log.OrNop(logger).With(log.Component("shape"))}
}

// ToView converts a record into the objects to apply to the surface: one
// object, or an annotation followed by its paired form field. It reports false
// when the record's shape is not supported.
func (c *Converter) ToView(ctx context.Context, coll record.Collection, r record.Record) ([]view.Object, bool) {
	obj, ok := ObjectFrom(coll, r)
	if !ok {
		return nil, false
	}
	v, _ := Lookup(coll, obj.Type)
	switch v.hook {
	case hookImage:
		c.resolveImage(ctx, &obj)
	case hookWidget:
		if field, ok := c.pairedField(ctx, obj); ok {
			return []view.Object{obj, field}, true
		}
	}
	return []view.Object{obj}, true
}

func (c *Converter) resolveImage(ctx context.Context, obj *view.Object) {
	current := obj.Fields.String(record.KeyImageAttachmentID)
	if current != "" {
		if _, err := c.surface.Attachment(ctx, current); err == nil {
			return
		}
	}
	custom, ok := obj.Fields.Map(record.KeyCustomData)
	if !ok || len(custom) == 0 {
		return
	}
	keys := make([]string, 0, len(custom))
	for k := range custom {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	// the current id, when embedded, is the natural first choice
	if slices.Contains(keys, current) {
		keys = append([]string{current}, slices.DeleteFunc(keys, func(k string) bool { return k == current })...)
	}

	att, err := record.AttachmentFrom(custom[keys[0]])
	if err != nil {
		c.logger.Debug("embedded attachment unreadable", log.String("id", obj.ID), log.Error(err))
		return
	}
	data, err := att.Bytes()
	if err != nil {
		c.logger.Debug("embedded attachment undecodable", log.String("id", obj.ID), log.Error(err))
		return
	}
	newID, err := c.surface.CreateAttachment(ctx, view.Blob{Data: data, ContentType: att.ContentType})
	if err != nil {
		c.logger.Warn("register attachment failed", log.String("id", obj.ID), log.Error(err))
		return
	}
	obj.Fields[record.KeyImageAttachmentID] = newID
}

func (c *Converter) pairedField(ctx context.Context, obj view.Object) (view.Object, bool) {
	custom, ok := obj.Fields.Map(record.KeyCustomData)
	if !ok {
		return view.Object{}, false
	}
	raw, ok := custom.Map(record.KeyFormField)
	if !ok {
		return view.Object{}, false
	}
	field, ok := ObjectFrom(record.FormFields, raw)
	if !ok {
		return view.Object{}, false
	}
	name := field.Fields.Name()
	existing, err := c.surface.FormFields(ctx)
	if err == nil && slices.ContainsFunc(existing, func(o view.Object) bool { return o.Fields.Name() == name }) {
		return view.Object{}, false
	}
	return field, true
}

// Embedded is the outbound form of a newly created object: its record with
// side channels filled in, plus attachments to stage in the same transaction.
type Embedded struct {
	Record      record.Record
	Attachments map[string]record.Attachment
}

// Embed serializes a newly created object. Image annotations carry their
// attachment in customData and stage it; widget annotations carry their paired
// form field in customData.formField.
func (c *Converter) Embed(ctx context.Context, obj view.Object) (Embedded, error) {
	if _, ok := Lookup(obj.Collection, obj.Type); !ok {
		return Embedded{}, fmt.Errorf("%s %q: %w", obj.Collection, obj.Type, ErrUnsupported)
	}
	out := Embedded{Record: ToReplicated(obj)}
	if obj.Collection != record.Annotations {
		return out, nil
	}
	switch obj.Type {
	case TypeImage:
		id := out.Record.String(record.KeyImageAttachmentID)
		if id == "" {
			return out, nil
		}
		blob, err := c.surface.Attachment(ctx, id)
		if err != nil {
			c.logger.Debug("image attachment missing", log.String("id", obj.ID), log.Error(err))
			return out, nil
		}
		att := record.NewAttachment(blob.Data, blob.ContentType)
		out.Record[record.KeyCustomData] = map[string]any{id: att.Record()}
		out.Attachments = map[string]record.Attachment{id: att}
	case TypeWidget:
		name := out.Record.String(record.KeyFormFieldName)
		if name == "" {
			return out, nil
		}
		fields, err := c.surface.FormFields(ctx)
		if err != nil {
			return out, nil
		}
		i := slices.IndexFunc(fields, func(o view.Object) bool { return o.Fields.Name() == name })
		if i < 0 {
			return out, nil
		}
		custom, _ := out.Record.Map(record.KeyCustomData)
		merged := record.Record{}
		for k, v := range custom {
			merged[k] = v
		}
		merged[record.KeyFormField] = map[string]any(ToReplicated(fields[i]))
		out.Record[record.KeyCustomData] = map[string]any(merged)
	}
	return out, nil
}

// Now returns the current time truncated to the canonical precision.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
