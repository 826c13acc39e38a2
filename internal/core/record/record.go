// Package record holds the wire shape shared by the replica and the view.
//
// A Record is the view's own JSON serialization of an object, reused verbatim
// as the replicated format. Records are treated as immutable once handed to
// another component; use Clone or With to derive a modified copy.
package record

import (
	"encoding/json"
	"maps"
	"reflect"
)

// Record is one serialized annotation, comment, bookmark, form field or
// form-field value.
type Record map[string]any

// Common keys.
const (
	KeyID                = "id"
	KeyType              = "type"
	KeyName              = "name"
	KeyValue             = "value"
	KeyVersion           = "v"
	KeyCreatedAt         = "createdAt"
	KeyUpdatedAt         = "updatedAt"
	KeyCreatorName       = "creatorName"
	KeyCustomData        = "customData"
	KeyImageAttachmentID = "imageAttachmentId"
	KeyFormFieldName     = "formFieldName"
	KeyFormField         = "formField"
)

func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

func (r Record) ID() string   { return r.String(KeyID) }
func (r Record) Type() string { return r.String(KeyType) }
func (r Record) Name() string { return r.String(KeyName) }

// Key returns the identity of r within collection c.
func (r Record) Key(c Collection) string {
	if c.KeyedByName() {
		return r.Name()
	}
	return r.ID()
}

// Map returns the nested object stored under key, if any.
func (r Record) Map(key string) (Record, bool) {
	switch v := r[key].(type) {
	case Record:
		return v, true
	case map[string]any:
		return Record(v), true
	}
	return nil, false
}

// Clone returns a deep copy. Values are normalized through JSON, so numbers
// become float64 and nested maps become map[string]any.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out, err := Normalize(r)
	if err != nil {
		// non JSON values: fall back to a shallow copy
		return maps.Clone(r)
	}
	return out
}

// With returns a shallow copy of r with key set to value.
func (r Record) With(key string, value any) Record {
	out := make(Record, len(r)+1)
	maps.Copy(out, r)
	out[key] = value
	return out
}

// Without returns a shallow copy of r without the given keys.
func (r Record) Without(keys ...string) Record {
	out := maps.Clone(r)
	if out == nil {
		out = Record{}
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// Normalize converts any JSON-encodable value into a Record.
func Normalize(v any) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out Record
	if err = json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Equal reports whether a and b hold the same JSON value once the ignored keys
// are removed at the top level. Timestamps are compared in canonical form.
func Equal(a, b Record, ignore ...string) bool {
	na, err := Normalize(canonical(a.Without(ignore...)))
	if err != nil {
		return false
	}
	nb, err := Normalize(canonical(b.Without(ignore...)))
	if err != nil {
		return false
	}
	return reflect.DeepEqual(na, nb)
}

func canonical(r Record) Record {
	for _, key := range []string{KeyCreatedAt, KeyUpdatedAt} {
		if v, ok := r[key]; ok {
			if s, ok := CanonicalTime(v); ok {
				r[key] = s
			}
		}
	}
	return r
}
