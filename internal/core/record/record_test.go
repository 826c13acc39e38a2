package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordKey(t *testing.T) {
	r := Record{KeyID: "a1", KeyName: "Signature1"}
	assert.Equal(t, "a1", r.Key(Annotations))
	assert.Equal(t, "a1", r.Key(FormFields))
	assert.Equal(t, "Signature1", r.Key(FormFieldValues))
}

func TestCloneIsDeep(t *testing.T) {
	r := Record{KeyID: "a1", "points": []any{[]any{1, 2}}, KeyCustomData: map[string]any{"k": "v"}}
	c := r.Clone()
	nested, ok := c.Map(KeyCustomData)
	require.True(t, ok)
	nested["k"] = "changed"

	orig, _ := r.Map(KeyCustomData)
	assert.Equal(t, "v", orig["k"])
}

func TestWithWithout(t *testing.T) {
	r := Record{KeyID: "a1", KeyType: "pspdfkit/ink"}
	w := r.With(KeyID, "b2")
	assert.Equal(t, "a1", r.ID())
	assert.Equal(t, "b2", w.ID())

	wo := r.Without(KeyType)
	assert.Equal(t, "pspdfkit/ink", r.Type())
	assert.Empty(t, wo.Type())
}

func TestEqual(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 20, 30, 123456789, time.FixedZone("x", 3600))
	cases := []struct {
		name   string
		a, b   Record
		ignore []string
		want   bool
	}{
		{"identical", Record{KeyID: "a"}, Record{KeyID: "a"}, nil, true},
		{"number kinds", Record{"n": 1}, Record{"n": 1.0}, nil, true},
		{"different", Record{KeyID: "a"}, Record{KeyID: "b"}, nil, false},
		{"ignored creator", Record{KeyID: "a", KeyCreatorName: "x"}, Record{KeyID: "a", KeyCreatorName: "y"}, []string{KeyCreatorName}, true},
		{"canonical time", Record{KeyCreatedAt: ts}, Record{KeyCreatedAt: "2024-03-01T09:20:30.123Z"}, nil, true},
		{"nested", Record{"m": map[string]any{"a": []string{"x"}}}, Record{"m": map[string]any{"a": []any{"x"}}}, nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Equal(tc.a, tc.b, tc.ignore...))
		})
	}
}

func TestCollections(t *testing.T) {
	assert.Less(t, Attachments.Rank(), Annotations.Rank())
	assert.Less(t, FormFields.Rank(), FormFieldValues.Rank())
	assert.True(t, Attachments.IsMap())
	assert.True(t, FormFieldValues.KeyedByName())

	c, err := ParseCollection("comments")
	require.NoError(t, err)
	assert.Equal(t, Comments, c)
	_, err = ParseCollection("pages")
	assert.Error(t, err)
}

func TestFormFieldValue(t *testing.T) {
	r := FormFieldValue("Choice", []any{"a", 3, "b"})
	assert.Equal(t, []string{"a", "b"}, r[KeyValue])
	assert.Equal(t, FormFieldValueType, r.Type())
	assert.Equal(t, FormFieldValueVersion, r[KeyVersion])
	assert.Nil(t, FormFieldValue("Empty", nil)[KeyValue])
}
