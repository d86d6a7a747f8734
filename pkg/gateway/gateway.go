// Package gateway implements the Data-source Gateway (§4.4): the single
// point through which the engine reaches adapters, normalising adapter
// faults to SourceError and tag mismatches to Incompatible so the engine
// never observes ambient exceptions.
package gateway

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mirrorsync/reconciler/pkg/document"
	"github.com/mirrorsync/reconciler/pkg/ident"
	"github.com/mirrorsync/reconciler/pkg/reconcilerrors"
	"github.com/mirrorsync/reconciler/pkg/rlog"
	"github.com/mirrorsync/reconciler/pkg/store"
)

// Adapter is the §6 data-source adapter contract: initialise/finalise a
// per-(entity, source) handle, and get/set/delete a document through it.
// fk is nil to Set when the record has no foreign key yet (create); Set
// returns the definitive foreign key to persist.
type Adapter interface {
	Initialise(ctx context.Context) (any, error)
	Finalise(ctx context.Context, state any) error
	Get(ctx context.Context, state any, fk ident.ForeignKey) (document.Document, error)
	Set(ctx context.Context, state any, doc document.Document, fk *ident.ForeignKey) (ident.ForeignKey, error)
	Delete(ctx context.Context, state any, fk ident.ForeignKey) error
}

// SourceResult is one source's outcome from a fan-out call (GetAll/SetAll/
// DeleteAll). Partial failure is reported, never swallowed (spec.md §4.4).
type SourceResult struct {
	Source ident.SourceTag
	Doc    document.Document
	FK     ident.ForeignKey
	Err    error
}

type handle struct {
	adapter Adapter
	state   any
}

// Gateway is the Data-source Gateway.
type Gateway struct {
	catalog *ident.Catalog
	store   store.Store
	log     rlog.Logger

	mu      sync.RWMutex
	handles map[ident.SourceHandle]*handle
}

// New builds a Gateway over catalog, backed by st for foreign-key
// bookkeeping.
func New(catalog *ident.Catalog, st store.Store, log rlog.Logger) *Gateway {
	if log == nil {
		log = rlog.Discard
	}
	return &Gateway{
		catalog: catalog,
		store:   st,
		log:     log,
		handles: make(map[ident.SourceHandle]*handle),
	}
}

// Register initialises a and associates it with (entity, source). It must
// be called once per source before Get/Set/Delete/GetAll/SetAll/DeleteAll
// reach that source.
func (g *Gateway) Register(ctx context.Context, sh ident.SourceHandle, a Adapter) error {
	if !g.catalog.Has(sh.Entity, sh.Source) {
		return reconcilerrors.Unknown("gateway: %s is not in the catalog", sh)
	}
	state, err := a.Initialise(ctx)
	if err != nil {
		return reconcilerrors.WrapSourceErr("initialise", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handles[sh] = &handle{adapter: a, state: state}
	return nil
}

// Close finalises every registered adapter, collecting but not stopping on
// individual failures.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var first error
	for sh, h := range g.handles {
		if err := h.adapter.Finalise(ctx, h.state); err != nil {
			g.log.Errorf("gateway: finalising %s: %v", sh, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (g *Gateway) lookup(sh ident.SourceHandle) (*handle, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	h, ok := g.handles[sh]
	if !ok {
		return nil, reconcilerrors.Unknown("gateway: no adapter registered for %s", sh)
	}
	return h, nil
}

// Get fetches the document identified by fk from its source.
func (g *Gateway) Get(ctx context.Context, fk ident.ForeignKey) (document.Document, error) {
	h, err := g.lookup(ident.SourceHandle{Entity: fk.Entity, Source: fk.Source})
	if err != nil {
		return nil, err
	}
	doc, err := h.adapter.Get(ctx, h.state, fk)
	if err != nil {
		return nil, reconcilerrors.WrapSourceErr("get", err)
	}
	return doc, nil
}

// Set writes doc to the (entity, source) identified by sh, creating when fk
// is nil. It returns the definitive foreign key to record — the adapter is
// only trusted for the ID it assigns; Entity/Source are always stamped from
// sh, since an adapter's create branch has no sh to echo back.
func (g *Gateway) Set(ctx context.Context, sh ident.SourceHandle, doc document.Document, fk *ident.ForeignKey) (ident.ForeignKey, error) {
	if fk != nil && (fk.Entity != sh.Entity || fk.Source != sh.Source) {
		return ident.ForeignKey{}, reconcilerrors.Incompatible("gateway: foreign key %s does not match %s", *fk, sh)
	}
	h, err := g.lookup(sh)
	if err != nil {
		return ident.ForeignKey{}, err
	}
	out, err := h.adapter.Set(ctx, h.state, doc, fk)
	if err != nil {
		return ident.ForeignKey{}, reconcilerrors.WrapSourceErr("set", err)
	}
	out.Entity, out.Source = sh.Entity, sh.Source
	return out, nil
}

// Delete removes the document identified by fk from its source.
func (g *Gateway) Delete(ctx context.Context, fk ident.ForeignKey) error {
	h, err := g.lookup(ident.SourceHandle{Entity: fk.Entity, Source: fk.Source})
	if err != nil {
		return err
	}
	if err := h.adapter.Delete(ctx, h.state, fk); err != nil {
		return reconcilerrors.WrapSourceErr("delete", err)
	}
	return nil
}

// GetAll fetches ik's document from every source of its entity, in the
// catalog's declared source order. A source with no recorded foreign key
// yields an Unknown SourceResult rather than aborting the fan-out.
func (g *Gateway) GetAll(ctx context.Context, ik ident.InternalKey) ([]SourceResult, error) {
	sources, err := g.catalog.Sources(ik.Entity)
	if err != nil {
		return nil, err
	}
	results := make([]SourceResult, len(sources))
	grp, gctx := errgroup.WithContext(ctx)
	for i, source := range sources {
		i, source := i, source
		grp.Go(func() error {
			fk, ok, err := g.store.LookupForeignKey(gctx, ik, source)
			if err != nil {
				return err
			}
			if !ok {
				results[i] = SourceResult{Source: source, Err: reconcilerrors.Unknown("gateway: no foreign key for %s/%s", ik, source)}
				return nil
			}
			doc, err := g.Get(gctx, fk)
			results[i] = SourceResult{Source: source, Doc: doc, FK: fk, Err: err}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// SetAll pairs docs with ik's entity's sources in order and writes each.
// When a source reports a new foreign key, it is persisted via the store.
// Every source is attempted; per-source failure is reported in the
// returned slice, never fatal to the call.
func (g *Gateway) SetAll(ctx context.Context, ik ident.InternalKey, docs []document.Document) ([]SourceResult, error) {
	sources, err := g.catalog.Sources(ik.Entity)
	if err != nil {
		return nil, err
	}
	if len(docs) != len(sources) {
		return nil, reconcilerrors.Internal("gateway: %d documents for %d sources of %s", len(docs), len(sources), ik.Entity)
	}
	results := make([]SourceResult, len(sources))
	var wg sync.WaitGroup
	for i, source := range sources {
		i, source, doc := i, source, docs[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			sh := ident.SourceHandle{Entity: ik.Entity, Source: source}
			existingFK, ok, err := g.store.LookupForeignKey(ctx, ik, source)
			if err != nil {
				results[i] = SourceResult{Source: source, Err: err}
				return
			}
			var fkArg *ident.ForeignKey
			if ok {
				fkArg = &existingFK
			}
			newFK, err := g.Set(ctx, sh, doc, fkArg)
			if err != nil {
				g.log.Warnf("gateway: set %s/%s failed: %v", ik, source, err)
				results[i] = SourceResult{Source: source, Doc: doc, Err: err}
				return
			}
			if recErr := g.store.RecordForeignKey(ctx, ik, newFK); recErr != nil {
				results[i] = SourceResult{Source: source, Doc: doc, FK: newFK, Err: recErr}
				return
			}
			results[i] = SourceResult{Source: source, Doc: doc, FK: newFK}
		}()
	}
	wg.Wait()
	return results, nil
}

// DeleteAll deletes ik's document from every source that has a recorded
// foreign key; sources without one are skipped and counted as success.
func (g *Gateway) DeleteAll(ctx context.Context, ik ident.InternalKey) ([]SourceResult, error) {
	sources, err := g.catalog.Sources(ik.Entity)
	if err != nil {
		return nil, err
	}
	results := make([]SourceResult, len(sources))
	var wg sync.WaitGroup
	for i, source := range sources {
		i, source := i, source
		wg.Add(1)
		go func() {
			defer wg.Done()
			fk, ok, err := g.store.LookupForeignKey(ctx, ik, source)
			if err != nil {
				results[i] = SourceResult{Source: source, Err: err}
				return
			}
			if !ok {
				results[i] = SourceResult{Source: source}
				return
			}
			if err := g.Delete(ctx, fk); err != nil {
				g.log.Warnf("gateway: delete %s/%s failed: %v", ik, source, err)
				results[i] = SourceResult{Source: source, FK: fk, Err: err}
				return
			}
			results[i] = SourceResult{Source: source, FK: fk}
		}()
	}
	wg.Wait()
	return results, nil
}
