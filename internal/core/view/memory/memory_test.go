package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/annosync/internal/core/events/bus"
	"github.com/zeusync/annosync/internal/core/record"
	"github.com/zeusync/annosync/internal/core/view"
)

func snapshot() view.Snapshot {
	return view.Snapshot{
		Annotations: []record.Record{
			{"id": "a1", "type": "pspdfkit/ink", "pageIndex": 0.0, "lines": []any{[]any{1.0, 2.0}}, "createdAt": "2024-05-01T10:00:00.000Z"},
			{"id": "a2", "type": "pspdfkit/image", "imageAttachmentId": "img", "creatorName": "someone"},
		},
		Comments: []record.Record{
			{"id": "c1", "type": "pspdfkit/comment", "text": map[string]any{"format": "plain", "value": "hi"}, "createdAt": "2024-05-01T10:00:01.000Z"},
		},
		Bookmarks: []record.Record{
			{"id": "b1", "type": "pspdfkit/bookmark", "action": map[string]any{"type": "goTo", "pageIndex": 2.0}},
		},
		FormFields: []record.Record{
			{"id": "f1", "type": "pspdfkit/form-field/text", "name": "Name", "annotationIds": []any{"w1"}},
		},
		FormFieldValues: []record.Record{
			record.FormFieldValue("Name", "Ada"),
		},
		Attachments: map[string]record.Attachment{
			"img": record.NewAttachment([]byte("png"), "image/png"),
		},
	}
}

func TestSnapshotIdempotence(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.SetCreatorName("tester")
	in := snapshot()
	require.NoError(t, s.Load(ctx, in))

	out, err := s.Export(ctx)
	require.NoError(t, err)
	for _, c := range record.Arrays {
		want, got := in.Records(c), out.Records(c)
		require.Len(t, got, len(want), c)
		for i := range want {
			assert.True(t, record.Equal(want[i], got[i], record.KeyCreatorName), "%s[%d]: %v != %v", c, i, want[i], got[i])
		}
	}
	assert.Equal(t, in.Attachments, out.Attachments)
}

func TestLoadPublishesNothing(t *testing.T) {
	s := New()
	count := 0
	_, err := s.On(bus.Wildcard, func(bus.Event) error { count++; return nil })
	require.NoError(t, err)
	require.NoError(t, s.Load(context.Background(), snapshot()))
	assert.Zero(t, count)
	assert.True(t, s.Loaded())
}

func TestCreateEventsCarryOrigin(t *testing.T) {
	s := New()
	s.SetCreatorName("ada")
	var events []bus.Event
	_, err := s.On(bus.Wildcard, func(e bus.Event) error { events = append(events, e); return nil })
	require.NoError(t, err)

	ctx := view.WithOrigin(context.Background(), "engine-1")
	err = s.Create(ctx,
		view.Object{Collection: record.Annotations, Type: "pspdfkit/widget", ID: "w1", Fields: record.Record{"formFieldName": "Sig"}},
		view.Object{Collection: record.FormFields, Type: "pspdfkit/form-field/signature", ID: "f1", Fields: record.Record{"name": "Sig"}},
	)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "annotations.create", events[0].Type())
	assert.Equal(t, "formFields.create", events[1].Type())
	assert.Equal(t, "engine-1", events[0].Source())

	ch, ok := view.ChangeFrom(events[0])
	require.True(t, ok)
	assert.Equal(t, "ada", ch.Objects[0].Fields[record.KeyCreatorName])
}

func TestCreateIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Create(ctx, view.Object{Collection: record.Bookmarks, Type: "pspdfkit/bookmark", ID: "b1", Fields: record.Record{}}))

	err := s.Create(ctx,
		view.Object{Collection: record.Bookmarks, Type: "pspdfkit/bookmark", ID: "b2", Fields: record.Record{}},
		view.Object{Collection: record.Bookmarks, Type: "pspdfkit/bookmark", ID: "b1", Fields: record.Record{}},
	)
	assert.ErrorIs(t, err, view.ErrDuplicate)
	assert.Len(t, s.Objects(record.Bookmarks), 1)
}

func TestUpdateDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Load(ctx, snapshot()))

	err := s.Update(ctx, view.Object{Collection: record.Annotations, Type: "pspdfkit/ink", ID: "zz", Fields: record.Record{}})
	assert.ErrorIs(t, err, view.ErrNotFound)

	require.NoError(t, s.Update(ctx, view.Object{Collection: record.Annotations, Type: "pspdfkit/ink", ID: "a1", Fields: record.Record{"opacity": 0.3}}))
	obj, ok := s.Object(record.Annotations, "a1")
	require.True(t, ok)
	assert.Equal(t, 0.3, obj.Fields["opacity"])

	require.NoError(t, s.Delete(ctx, record.Annotations, "a1", "missing"))
	_, ok = s.Object(record.Annotations, "a1")
	assert.False(t, ok)

	calls := s.Calls()
	assert.Equal(t, 2, calls.Update)
	assert.Equal(t, 1, calls.ObjectsUpdated)
	assert.Equal(t, 1, calls.ObjectsDeleted)
	s.ResetCalls()
	assert.Zero(t, s.Calls().Update)
}

func TestDeleteFormFieldDropsValue(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Load(ctx, snapshot()))

	require.NoError(t, s.Delete(ctx, record.FormFields, "f1"))
	assert.Empty(t, s.Objects(record.FormFieldValues))
	values, err := s.FormFieldValues(ctx)
	require.NoError(t, err)
	assert.Empty(t, values)

	require.NoError(t, s.Load(ctx, snapshot()))
	require.NoError(t, s.Delete(ctx, record.FormFieldValues, "Name"))
	assert.Empty(t, s.Objects(record.FormFieldValues))
	assert.Len(t, s.Objects(record.FormFields), 1)
}

func TestSetFormFieldValues(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Load(ctx, snapshot()))
	var types []string
	_, _ = s.On(bus.Wildcard, func(e bus.Event) error { types = append(types, e.Type()); return nil })

	require.NoError(t, s.SetFormFieldValues(ctx, map[string]any{"Name": "Grace", "Choice": []string{"a"}}))
	assert.Equal(t, []string{"formFieldValues.create", "formFieldValues.update"}, types)

	values, err := s.FormFieldValues(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Grace", values["Name"])
	assert.Equal(t, []string{"a"}, values["Choice"])
}

func TestAttachmentsAreContentAddressed(t *testing.T) {
	ctx := context.Background()
	s := New()
	id1, err := s.CreateAttachment(ctx, view.Blob{Data: []byte("abc"), ContentType: "image/png"})
	require.NoError(t, err)
	id2, err := s.CreateAttachment(ctx, view.Blob{Data: []byte("abc"), ContentType: "image/png"})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Equal(t, AttachmentID([]byte("abc")), id1)

	blob, err := s.Attachment(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), blob.Data)

	_, err = s.Attachment(ctx, "nope")
	assert.ErrorIs(t, err, view.ErrNotFound)
}

func TestTimestampsBecomeTimes(t *testing.T) {
	s := New()
	require.NoError(t, s.Load(context.Background(), snapshot()))
	obj, ok := s.Object(record.Comments, "c1")
	require.True(t, ok)
	ts, ok := obj.Timestamp(record.KeyCreatedAt)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 1, 0, time.UTC), ts)
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Load(ctx, view.Snapshot{}), view.ErrClosed)
	assert.ErrorIs(t, s.Create(ctx), view.ErrClosed)
	_, err := s.Export(ctx)
	assert.ErrorIs(t, err, view.ErrClosed)
}
