package httpsource

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorsync/reconciler/pkg/document"
	"github.com/mirrorsync/reconciler/pkg/ident"
)

func newFakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	docs := map[string]document.Document{}
	mux := http.NewServeMux()

	mux.HandleFunc("/records/", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/records/"):]
		switch r.Method {
		case http.MethodGet:
			doc, ok := docs[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(doc)
		case http.MethodPut:
			raw, _ := io.ReadAll(r.Body)
			var doc document.Document
			_ = json.Unmarshal(raw, &doc)
			docs[id] = doc
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			delete(docs, id)
			w.WriteHeader(http.StatusOK)
		}
	})

	mux.HandleFunc("/records", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`[]`))
		case http.MethodPost:
			raw, _ := io.ReadAll(r.Body)
			var doc document.Document
			_ = json.Unmarshal(raw, &doc)
			id := "created-1"
			docs[id] = doc
			doc["id"] = id
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(doc)
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestGetSetDeleteRoundTrip(t *testing.T) {
	srv := newFakeServer(t)
	a := New(srv.URL+"/records", nil)
	ctx := t.Context()

	fk := ident.ForeignKey{ID: "svc-1"}
	got, err := a.Set(ctx, nil, document.Document{"name": "Hubert"}, &fk)
	require.NoError(t, err)
	assert.Equal(t, fk, got)

	doc, err := a.Get(ctx, nil, fk)
	require.NoError(t, err)
	assert.Equal(t, "Hubert", doc["name"])

	require.NoError(t, a.Delete(ctx, nil, fk))

	_, err = a.Get(ctx, nil, fk)
	assert.Error(t, err)
}

func TestSetWithNilForeignKeyCreatesAndReturnsAssignedID(t *testing.T) {
	srv := newFakeServer(t)
	a := New(srv.URL+"/records", nil)
	ctx := t.Context()

	fk, err := a.Set(ctx, nil, document.Document{"name": "Hubert"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "created-1", fk.ID)
}

func TestGetMissingResourceReturnsSourceError(t *testing.T) {
	srv := newFakeServer(t)
	a := New(srv.URL+"/records", nil)
	ctx := t.Context()

	_, err := a.Get(ctx, nil, ident.ForeignKey{ID: "missing"})
	assert.Error(t, err)
}

func TestInitialiseHitsCollectionEndpoint(t *testing.T) {
	srv := newFakeServer(t)
	a := New(srv.URL+"/records", nil)
	_, err := a.Initialise(t.Context())
	require.NoError(t, err)
}
