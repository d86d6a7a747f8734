package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorsync/reconciler/pkg/crud"
	"github.com/mirrorsync/reconciler/pkg/document"
	"github.com/mirrorsync/reconciler/pkg/engine"
	"github.com/mirrorsync/reconciler/pkg/gateway"
	"github.com/mirrorsync/reconciler/pkg/ident"
	"github.com/mirrorsync/reconciler/pkg/store/memstore"
)

type fakeAdapter struct {
	mu   sync.Mutex
	docs map[string]document.Document
	seq  int
}

func newFakeAdapter() *fakeAdapter { return &fakeAdapter{docs: map[string]document.Document{}} }

func (a *fakeAdapter) Initialise(context.Context) (any, error) { return nil, nil }
func (a *fakeAdapter) Finalise(context.Context, any) error     { return nil }

func (a *fakeAdapter) Get(_ context.Context, _ any, fk ident.ForeignKey) (document.Document, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	doc, ok := a.docs[fk.ID]
	if !ok {
		return nil, fmt.Errorf("fake: no document for %s", fk.ID)
	}
	return doc.Clone(), nil
}

func (a *fakeAdapter) Set(_ context.Context, _ any, doc document.Document, fk *ident.ForeignKey) (ident.ForeignKey, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if fk != nil {
		a.docs[fk.ID] = doc.Clone()
		return *fk, nil
	}
	a.seq++
	id := fmt.Sprintf("auto-%d", a.seq)
	a.docs[id] = doc.Clone()
	return ident.ForeignKey{ID: id}, nil
}

func (a *fakeAdapter) Delete(_ context.Context, _ any, fk ident.ForeignKey) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.docs, fk.ID)
	return nil
}

func newDispatcher(t *testing.T) (*Dispatcher, *fakeAdapter) {
	t.Helper()
	catalog, err := ident.NewCatalog(ident.EntitySpec{Entity: "service", Sources: []ident.SourceTag{"dir"}})
	require.NoError(t, err)

	st, err := memstore.New()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	gw := gateway.New(catalog, st, nil)
	dir := newFakeAdapter()
	require.NoError(t, gw.Register(context.Background(), ident.SourceHandle{Entity: "service", Source: "dir"}, dir))

	eng := engine.New(catalog, st, gw, nil)
	return New(catalog, eng, nil), dir
}

func TestDispatchUnknownEntityIsDroppedWithoutError(t *testing.T) {
	d, _ := newDispatcher(t)
	status, err := d.Dispatch(context.Background(), "route", "dir", "x")
	require.NoError(t, err)
	assert.False(t, status.Resolved)
}

func TestDispatchUnknownSourceIsDroppedWithoutError(t *testing.T) {
	d, _ := newDispatcher(t)
	status, err := d.Dispatch(context.Background(), "service", "ftp", "x")
	require.NoError(t, err)
	assert.False(t, status.Resolved)
}

func TestDispatchResolvedTripleInvokesEngine(t *testing.T) {
	d, dir := newDispatcher(t)
	dir.docs["svc-1"] = document.Document{"name": "Hubert"}

	status, err := d.Dispatch(context.Background(), "service", "dir", "svc-1")
	require.NoError(t, err)
	require.True(t, status.Resolved)
	assert.Equal(t, crud.Create, status.Result.Op)
}
