package cmdsource

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorsync/reconciler/pkg/document"
	"github.com/mirrorsync/reconciler/pkg/ident"
)

func TestSubstituteReplacesPlaceholder(t *testing.T) {
	out := substitute([]string{"get", "{{fk}}", "--raw"}, ident.ForeignKey{ID: "svc-1"})
	assert.Equal(t, []string{"get", "svc-1", "--raw"}, out)
}

func TestGetParsesCommandStdout(t *testing.T) {
	a := New([]string{"sh", "-c", `echo -n '{"name":"Hubert"}'`}, nil, nil)
	_, err := a.Initialise(context.Background())
	require.NoError(t, err)

	doc, err := a.Get(context.Background(), nil, ident.ForeignKey{ID: "svc-1"})
	require.NoError(t, err)
	assert.Equal(t, "Hubert", doc["name"])
}

func TestGetCommandExitCode2IsNotRetried(t *testing.T) {
	calls := filepath.Join(t.TempDir(), "calls")
	a := New([]string{"sh", "-c", "echo run >> '" + calls + "'; exit 2"}, nil, nil)
	_, err := a.Initialise(context.Background())
	require.NoError(t, err)

	_, err = a.Get(context.Background(), nil, ident.ForeignKey{ID: "svc-1"})
	assert.Error(t, err)

	raw, err := os.ReadFile(calls)
	require.NoError(t, err)
	assert.Equal(t, "run\n", string(raw), "exit status 2 must run the command exactly once")
}

func TestSetInvokesConfiguredCommand(t *testing.T) {
	a := New(nil, []string{"sh", "-c", "true"}, nil)
	_, err := a.Initialise(context.Background())
	require.NoError(t, err)

	fk := ident.ForeignKey{ID: "svc-1"}
	got, err := a.Set(context.Background(), nil, document.Document{"name": "Hubert"}, &fk)
	require.NoError(t, err)
	assert.Equal(t, fk, got)
}

func TestSetWithNilForeignKeyAllocatesOne(t *testing.T) {
	a := New(nil, []string{"sh", "-c", "true"}, nil)
	_, err := a.Initialise(context.Background())
	require.NoError(t, err)

	fk, err := a.Set(context.Background(), nil, document.Document{"name": "Hubert"}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, fk.ID)
}

func TestDeleteReportsCommandFailure(t *testing.T) {
	a := New(nil, nil, []string{"sh", "-c", "exit 3"})
	_, err := a.Initialise(context.Background())
	require.NoError(t, err)

	err = a.Delete(context.Background(), nil, ident.ForeignKey{ID: "svc-1"})
	assert.Error(t, err)
}

func TestRunRejectsUnconfiguredCommand(t *testing.T) {
	a := New(nil, nil, nil)
	_, err := a.Initialise(context.Background())
	require.NoError(t, err)

	err = a.Delete(context.Background(), nil, ident.ForeignKey{ID: "svc-1"})
	assert.Error(t, err)
}
