package shape_test

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/annosync/internal/core/record"
	"github.com/zeusync/annosync/internal/core/shape"
	"github.com/zeusync/annosync/internal/core/view"
	"github.com/zeusync/annosync/internal/core/view/memory"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		coll record.Collection
		typ  string
		ok   bool
		name string
	}{
		{record.Annotations, shape.TypeInk, true, "ink"},
		{record.Annotations, shape.TypeWidget, true, "widget"},
		{record.Annotations, "pspdfkit/markup/brand-new", true, "markup"},
		{record.Annotations, "pspdfkit/shape/star", true, "annotation"},
		{record.Annotations, "pspdfkit/sound", false, ""},
		{record.Comments, shape.TypeComment, true, "comment"},
		{record.Comments, "pspdfkit/markup/x", false, ""},
		{record.FormFields, shape.TypeSignatureField, true, "signature"},
		{record.FormFieldValues, record.FormFieldValueType, true, "form-field-value"},
		{record.Bookmarks, shape.TypeInk, false, ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.coll)+"/"+tt.typ, func(t *testing.T) {
			v, ok := shape.Lookup(tt.coll, tt.typ)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.name, v.Name)
				assert.Equal(t, tt.typ, v.Type)
			}
		})
	}
}

func TestRoundTripEveryVariant(t *testing.T) {
	for _, c := range record.Arrays {
		types := shape.Types(c)
		slices.Sort(types)
		for _, typ := range types {
			t.Run(string(c)+"/"+typ, func(t *testing.T) {
				r := record.Record{
					"type":      typ,
					"createdAt": "2024-01-02T03:04:05.678Z",
					"updatedAt": "2024-01-02T03:04:06.000Z",
					"pageIndex": 3.0,
				}
				if c.KeyedByName() {
					r = record.FormFieldValue("field", []string{"a", "b"})
				} else {
					r["id"] = "obj-1"
				}

				obj, ok := shape.ObjectFrom(c, r)
				require.True(t, ok)
				assert.Equal(t, r.Key(c), obj.ID)
				assert.Equal(t, typ, obj.Type)
				if !c.KeyedByName() {
					ts, ok := obj.Timestamp(record.KeyCreatedAt)
					require.True(t, ok)
					assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 678e6, time.UTC), ts)
				}

				back := shape.ToReplicated(obj)
				assert.True(t, record.Equal(r, back), "%v != %v", r, back)
			})
		}
	}
}

func TestObjectFromRejects(t *testing.T) {
	_, ok := shape.ObjectFrom(record.Annotations, record.Record{"id": "x", "type": "pspdfkit/sound"})
	assert.False(t, ok)
	_, ok = shape.ObjectFrom(record.Annotations, record.Record{"type": shape.TypeInk})
	assert.False(t, ok, "missing id")
	_, ok = shape.ObjectFrom(record.FormFieldValues, record.Record{"value": "x"})
	assert.False(t, ok, "missing name")
}

func TestToReplicatedFormFieldValue(t *testing.T) {
	obj := view.Object{
		Collection: record.FormFieldValues,
		ID:         "Name",
		Fields:     record.Record{"value": []any{"x", "y"}},
	}
	r := shape.ToReplicated(obj)
	assert.Equal(t, record.FormFieldValue("Name", []string{"x", "y"}), r)
}

func TestImageResolution(t *testing.T) {
	ctx := context.Background()
	data := []byte("image-bytes")
	att := record.NewAttachment(data, "image/png")

	tests := []struct {
		name    string
		prepare func(s *memory.Surface)
		record  record.Record
		created int
		wantID  string
	}{
		{
			name: "known attachment kept",
			prepare: func(s *memory.Surface) {
				s.PutAttachment("known", view.Blob{Data: data, ContentType: "image/png"})
			},
			record:  record.Record{"id": "i", "type": shape.TypeImage, "imageAttachmentId": "known"},
			created: 0,
			wantID:  "known",
		},
		{
			name:    "embedded attachment registered",
			record:  record.Record{"id": "i", "type": shape.TypeImage, "imageAttachmentId": "foreign", "customData": map[string]any{"foreign": map[string]any(att.Record())}},
			created: 1,
			wantID:  memory.AttachmentID(data),
		},
		{
			name: "current id preferred among several",
			record: record.Record{"id": "i", "type": shape.TypeImage, "imageAttachmentId": "zz", "customData": map[string]any{
				"aa": map[string]any(record.NewAttachment([]byte("other"), "image/png").Record()),
				"zz": map[string]any(att.Record()),
			}},
			created: 1,
			wantID:  memory.AttachmentID(data),
		},
		{
			name:    "nothing embedded",
			record:  record.Record{"id": "i", "type": shape.TypeImage, "imageAttachmentId": "gone"},
			created: 0,
			wantID:  "gone",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := memory.New()
			if tt.prepare != nil {
				tt.prepare(s)
			}
			conv := shape.NewConverter(s, nil)
			objs, ok := conv.ToView(ctx, record.Annotations, tt.record)
			require.True(t, ok)
			require.Len(t, objs, 1)
			assert.Equal(t, tt.created, s.Calls().CreateAttachment)
			assert.Equal(t, tt.wantID, objs[0].Fields[record.KeyImageAttachmentID])
		})
	}
}

func TestWidgetPairing(t *testing.T) {
	ctx := context.Background()
	widget := record.Record{
		"id":            "w1",
		"type":          shape.TypeWidget,
		"formFieldName": "Sig",
		"customData": map[string]any{
			"formField": map[string]any{"id": "f1", "type": shape.TypeSignatureField, "name": "Sig"},
		},
	}

	s := memory.New()
	conv := shape.NewConverter(s, nil)
	objs, ok := conv.ToView(ctx, record.Annotations, widget)
	require.True(t, ok)
	require.Len(t, objs, 2)
	assert.Equal(t, record.Annotations, objs[0].Collection)
	assert.Equal(t, record.FormFields, objs[1].Collection)
	assert.Equal(t, "f1", objs[1].ID)

	require.NoError(t, s.Create(ctx, objs...))
	objs, ok = conv.ToView(ctx, record.Annotations, widget.With("id", "w2"))
	require.True(t, ok)
	assert.Len(t, objs, 1, "field already present")
}

func TestEmbed(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	conv := shape.NewConverter(s, nil)

	t.Run("image", func(t *testing.T) {
		id, err := s.CreateAttachment(ctx, view.Blob{Data: []byte("png"), ContentType: "image/png"})
		require.NoError(t, err)
		emb, err := conv.Embed(ctx, view.Object{
			Collection: record.Annotations, Type: shape.TypeImage, ID: "i1",
			Fields: record.Record{record.KeyImageAttachmentID: id},
		})
		require.NoError(t, err)
		require.Contains(t, emb.Attachments, id)
		custom, ok := emb.Record.Map(record.KeyCustomData)
		require.True(t, ok)
		got, err := record.AttachmentFrom(custom[id])
		require.NoError(t, err)
		data, err := got.Bytes()
		require.NoError(t, err)
		assert.Equal(t, []byte("png"), data)
	})

	t.Run("widget", func(t *testing.T) {
		require.NoError(t, s.Create(ctx, view.Object{
			Collection: record.FormFields, Type: shape.TypeTextField, ID: "f9",
			Fields: record.Record{record.KeyName: "Email"},
		}))
		emb, err := conv.Embed(ctx, view.Object{
			Collection: record.Annotations, Type: shape.TypeWidget, ID: "w9",
			Fields: record.Record{record.KeyFormFieldName: "Email", "customData": map[string]any{"keep": true}},
		})
		require.NoError(t, err)
		custom, ok := emb.Record.Map(record.KeyCustomData)
		require.True(t, ok)
		assert.Equal(t, true, custom["keep"])
		field, ok := custom.Map(record.KeyFormField)
		require.True(t, ok)
		assert.Equal(t, "f9", field.ID())
		assert.Empty(t, emb.Attachments)
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := conv.Embed(ctx, view.Object{Collection: record.Annotations, Type: "pspdfkit/sound", ID: "s"})
		assert.ErrorIs(t, err, shape.ErrUnsupported)
	})
}

func TestNowPrecision(t *testing.T) {
	now := shape.Now()
	assert.Equal(t, time.UTC, now.Location())
	assert.Zero(t, now.Nanosecond()%int(time.Millisecond))
}
