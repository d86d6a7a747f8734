// Package dirsource is a reference Gateway adapter that stores documents as
// JSON files in a directory, one file per foreign key, grounded on the
// teacher's file-based source (pkg/file's read/write split: reading merges
// many files, writing is always one file at a time).
package dirsource

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mirrorsync/reconciler/pkg/document"
	"github.com/mirrorsync/reconciler/pkg/gateway"
	"github.com/mirrorsync/reconciler/pkg/ident"
)

// Adapter implements gateway.Adapter over a directory of "<fk>.json" files.
type Adapter struct {
	Dir string
}

var _ gateway.Adapter = (*Adapter)(nil)

// New builds a directory-backed adapter rooted at dir. It does not touch the
// filesystem; Initialise creates the directory if it does not already exist.
func New(dir string) *Adapter {
	return &Adapter{Dir: dir}
}

func (a *Adapter) path(fk ident.ForeignKey) string {
	return filepath.Join(a.Dir, fk.ID+".json")
}

// Initialise ensures Dir exists. The state handle is unused; every call
// carries enough information in its arguments.
func (a *Adapter) Initialise(context.Context) (any, error) {
	if err := os.MkdirAll(a.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("dirsource: creating %s: %w", a.Dir, err)
	}
	return nil, nil
}

// Finalise is a no-op; the adapter holds no open handles between calls.
func (a *Adapter) Finalise(context.Context, any) error {
	return nil
}

// Get reads and parses the file named by fk.
func (a *Adapter) Get(_ context.Context, _ any, fk ident.ForeignKey) (document.Document, error) {
	raw, err := os.ReadFile(a.path(fk))
	if err != nil {
		return nil, fmt.Errorf("dirsource: reading %s: %w", fk.ID, err)
	}
	return document.ParseJSON(raw)
}

// Set writes doc to the file named by fk, or a freshly allocated name if fk
// is absent (create).
func (a *Adapter) Set(_ context.Context, _ any, doc document.Document, fk *ident.ForeignKey) (ident.ForeignKey, error) {
	var out ident.ForeignKey
	if fk != nil {
		out = *fk
	} else {
		entries, err := os.ReadDir(a.Dir)
		if err != nil {
			return ident.ForeignKey{}, fmt.Errorf("dirsource: listing %s: %w", a.Dir, err)
		}
		out = ident.ForeignKey{ID: fmt.Sprintf("record-%d", len(entries)+1)}
	}

	raw, err := json.MarshalIndent(map[string]any(doc), "", "  ")
	if err != nil {
		return ident.ForeignKey{}, fmt.Errorf("dirsource: encoding %s: %w", out.ID, err)
	}
	if err := os.WriteFile(a.path(out), raw, 0o644); err != nil {
		return ident.ForeignKey{}, fmt.Errorf("dirsource: writing %s: %w", out.ID, err)
	}
	return out, nil
}

// Delete removes the file named by fk. A missing file is not an error,
// since the engine must tolerate deletes of already-absent documents.
func (a *Adapter) Delete(_ context.Context, _ any, fk ident.ForeignKey) error {
	if err := os.Remove(a.path(fk)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("dirsource: removing %s: %w", fk.ID, err)
	}
	return nil
}
