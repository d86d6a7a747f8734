package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorsync/reconciler/pkg/document"
	"github.com/mirrorsync/reconciler/pkg/ident"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New()
	require.NoError(t, err)
	return s
}

func TestCreateAndLookupInternalKey(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	ik, err := s.CreateInternalKey(ctx, "service")
	require.NoError(t, err)
	assert.Equal(t, ident.EntityTag("service"), ik.Entity)

	fk := ident.ForeignKey{Entity: "service", Source: "dir", ID: "svc-1"}
	require.NoError(t, s.RecordForeignKey(ctx, ik, fk))

	got, ok, err := s.LookupInternalKey(ctx, fk)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ik, got)
}

func TestLookupInternalKeyUnknownForeignKeyIsNotFound(t *testing.T) {
	s := newStore(t)
	_, ok, err := s.LookupInternalKey(context.Background(), ident.ForeignKey{Entity: "service", Source: "dir", ID: "nope"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordForeignKeyRejectsEntityMismatch(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	ik, err := s.CreateInternalKey(ctx, "service")
	require.NoError(t, err)

	err = s.RecordForeignKey(ctx, ik, ident.ForeignKey{Entity: "route", Source: "dir", ID: "x"})
	require.Error(t, err)
}

func TestRecordForeignKeyEnforcesOneSourcePerInternalKey(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	ik, err := s.CreateInternalKey(ctx, "service")
	require.NoError(t, err)

	require.NoError(t, s.RecordForeignKey(ctx, ik, ident.ForeignKey{Entity: "service", Source: "dir", ID: "a"}))
	require.NoError(t, s.RecordForeignKey(ctx, ik, ident.ForeignKey{Entity: "service", Source: "dir", ID: "b"}))

	fk, ok, err := s.LookupForeignKey(ctx, ik, "dir")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", fk.ID)

	_, ok, err = s.LookupInternalKey(ctx, ident.ForeignKey{Entity: "service", Source: "dir", ID: "a"})
	require.NoError(t, err)
	assert.False(t, ok, "stale foreign key must no longer resolve")
}

func TestRecordBaselineRoundTrips(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	ik, err := s.CreateInternalKey(ctx, "service")
	require.NoError(t, err)

	doc := document.Document{"name": "Hubert"}
	require.NoError(t, s.RecordBaseline(ctx, ik, doc))

	got, ok, err := s.LookupBaseline(ctx, ik)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Hubert", got["name"])
}

func TestRecordBaselineReplacesAtomically(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	ik, err := s.CreateInternalKey(ctx, "service")
	require.NoError(t, err)

	require.NoError(t, s.RecordBaseline(ctx, ik, document.Document{"v": 1.0}))
	require.NoError(t, s.RecordBaseline(ctx, ik, document.Document{"v": 2.0}))

	got, ok, err := s.LookupBaseline(ctx, ik)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2.0, got["v"])
}

func TestRecordDiffsWithoutFragmentsRecordsNoNotification(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	ik, err := s.CreateInternalKey(ctx, "service")
	require.NoError(t, err)

	merged := document.Diff{{Kind: document.Insert, Path: document.Path{"name"}, Value: "X", Label: -1}}
	diffID, err := s.RecordDiffs(ctx, ik, merged, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, diffID)

	notifications, err := s.Notifications(ctx, ik)
	require.NoError(t, err)
	assert.Empty(t, notifications)
}

func TestRecordDiffsWithFragmentsRecordsNotification(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	ik, err := s.CreateInternalKey(ctx, "service")
	require.NoError(t, err)

	merged := document.Diff{}
	fragments := []document.Diff{
		{{Kind: document.Insert, Path: document.Path{"name"}, Value: "X", Label: 0}},
		{{Kind: document.Insert, Path: document.Path{"name"}, Value: "Y", Label: 1}},
	}
	diffID, err := s.RecordDiffs(ctx, ik, merged, fragments)
	require.NoError(t, err)

	notifications, err := s.Notifications(ctx, ik)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, diffID, notifications[0].DiffID)
}

func TestDeleteInternalKeyCascades(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	ik, err := s.CreateInternalKey(ctx, "service")
	require.NoError(t, err)

	fk := ident.ForeignKey{Entity: "service", Source: "dir", ID: "svc-1"}
	require.NoError(t, s.RecordForeignKey(ctx, ik, fk))
	require.NoError(t, s.RecordBaseline(ctx, ik, document.Document{"name": "Hubert"}))
	_, err = s.RecordDiffs(ctx, ik, document.Diff{}, []document.Diff{
		{{Kind: document.Insert, Path: document.Path{"x"}, Value: 1.0, Label: 0}},
	})
	require.NoError(t, err)

	removed, err := s.DeleteInternalKey(ctx, ik)
	require.NoError(t, err)
	assert.Greater(t, removed, 0)

	_, ok, err := s.LookupInternalKey(ctx, fk)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.LookupBaseline(ctx, ik)
	require.NoError(t, err)
	assert.False(t, ok)

	notifications, err := s.Notifications(ctx, ik)
	require.NoError(t, err)
	assert.Empty(t, notifications)
}

func TestDeleteInternalKeyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	ik, err := s.CreateInternalKey(ctx, "service")
	require.NoError(t, err)

	_, err = s.DeleteInternalKey(ctx, ik)
	require.NoError(t, err)
	removed, err := s.DeleteInternalKey(ctx, ik)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}
