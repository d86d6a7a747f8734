// Package engine implements the Reconciliation Engine (§4.5): the state
// machine that, given one changed (source, foreign key) pair, determines
// whether the record should be created, updated, deleted, or flagged as a
// problem, and executes that decision against the Operational Store and
// the Data-source Gateway.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/samber/lo"

	"github.com/mirrorsync/reconciler/pkg/cprint"
	"github.com/mirrorsync/reconciler/pkg/crud"
	"github.com/mirrorsync/reconciler/pkg/document"
	"github.com/mirrorsync/reconciler/pkg/gateway"
	"github.com/mirrorsync/reconciler/pkg/ident"
	"github.com/mirrorsync/reconciler/pkg/reconcilerrors"
	"github.com/mirrorsync/reconciler/pkg/rlog"
	"github.com/mirrorsync/reconciler/pkg/store"
)

// Engine is the Reconciliation Engine.
type Engine struct {
	catalog *ident.Catalog
	store   store.Store
	gateway *gateway.Gateway
	log     rlog.Logger

	locks sync.Map // string -> *sync.Mutex
}

// New builds an Engine over catalog, backed by st and gw.
func New(catalog *ident.Catalog, st store.Store, gw *gateway.Gateway, log rlog.Logger) *Engine {
	if log == nil {
		log = rlog.Discard
	}
	return &Engine{catalog: catalog, store: st, gateway: gw, log: log}
}

func (e *Engine) lock(key string) func() {
	mu, _ := e.locks.LoadOrStore(key, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// Result reports what Process did: the operation it ran, the internal key
// involved (zero for Problem), and any non-fatal per-source failures
// gathered along the way.
type Result struct {
	Op       crud.Op
	IK       ident.InternalKey
	Failures []error
}

// Process is the single entry point: given the source the change came
// from and the foreign key that changed, it determines and executes the
// corresponding operation (§4.5).
func (e *Engine) Process(ctx context.Context, sh ident.SourceHandle, fk ident.ForeignKey) (Result, error) {
	if sh.Entity != fk.Entity || sh.Source != fk.Source {
		return e.problem(fk, reconcilerrors.Incompatible("engine: %s does not match foreign key %s", sh, fk)), nil
	}

	ik, found, err := e.store.LookupInternalKey(ctx, fk)
	if err != nil {
		return Result{}, err
	}

	if !found {
		unlock := e.lock(fk.String())
		defer unlock()
		doc, getErr := e.gateway.Get(ctx, fk)
		if getErr != nil {
			return e.problem(fk, getErr), nil
		}
		return e.create(ctx, fk, doc)
	}

	unlock := e.lock(ik.String())
	defer unlock()
	doc, getErr := e.gateway.Get(ctx, fk)
	if getErr != nil {
		return e.delete(ctx, ik)
	}
	_ = doc
	return e.update(ctx, ik)
}

func (e *Engine) problem(fk ident.ForeignKey, cause error) Result {
	e.log.Warnf("problem: %s: %v", fk, cause)
	cprint.ProblemPrintln(fmt.Sprintf("problem %s: %v", fk, cause))
	return Result{Op: crud.Problem, Failures: []error{cause}}
}

// create implements §4.5's Create(fk, doc) algorithm.
func (e *Engine) create(ctx context.Context, fk ident.ForeignKey, doc document.Document) (Result, error) {
	ik, err := e.store.CreateInternalKey(ctx, fk.Entity)
	if err != nil {
		return Result{}, err
	}
	if err := e.store.RecordForeignKey(ctx, ik, fk); err != nil {
		return Result{}, err
	}
	if err := e.store.RecordBaseline(ctx, ik, doc); err != nil {
		return Result{}, err
	}

	sources, err := e.catalog.Sources(fk.Entity)
	if err != nil {
		return Result{}, err
	}
	docs := make([]document.Document, len(sources))
	for i := range sources {
		docs[i] = doc
	}
	results, err := e.gateway.SetAll(ctx, ik, docs)
	if err != nil {
		return Result{}, err
	}

	failures := failuresOf(results)
	cprint.CreatePrintln(fmt.Sprintf("creating %s", ik))
	return Result{Op: crud.Create, IK: ik, Failures: failures}, nil
}

// delete implements §4.5's Delete(ik) algorithm.
func (e *Engine) delete(ctx context.Context, ik ident.InternalKey) (Result, error) {
	results, err := e.gateway.DeleteAll(ctx, ik)
	if err != nil {
		return Result{}, err
	}
	failures := failuresOf(results)

	if _, err := e.store.DeleteInternalKey(ctx, ik); err != nil {
		return Result{}, err
	}
	cprint.DeletePrintln(fmt.Sprintf("deleting %s", ik))
	return Result{Op: crud.Delete, IK: ik, Failures: failures}, nil
}

// update implements §4.5's nine-step Update(ik) algorithm.
func (e *Engine) update(ctx context.Context, ik ident.InternalKey) (Result, error) {
	// Step 1: fetch from every source, partition into valid/failed.
	fetched, err := e.gateway.GetAll(ctx, ik)
	if err != nil {
		return Result{}, err
	}
	valid := lo.FilterMap(fetched, func(r gateway.SourceResult, _ int) (document.Document, bool) {
		return r.Doc, r.Err == nil
	})
	failed := lo.Filter(fetched, func(r gateway.SourceResult, _ int) bool {
		return r.Err != nil
	})

	// Step 2: baseline, or synthesise one on a pre-baseline record.
	base, hasBaseline, err := e.store.LookupBaseline(ctx, ik)
	if err != nil {
		return Result{}, err
	}
	if !hasBaseline {
		base = synthesise(valid)
		e.log.Warnf("update %s: no baseline, synthesising one from %d source(s)", ik, len(valid))
	}

	// Step 3: per-source diffs against base.
	diffs := make([]document.Diff, len(fetched))
	for i, r := range fetched {
		if r.Err != nil {
			continue
		}
		diffs[i] = document.Compute(base, r.Doc)
	}
	validDiffs := lo.Filter(diffs, func(d document.Diff, i int) bool {
		return fetched[i].Err == nil
	})

	// Step 4: merge with the ignore-conflicts policy.
	merged, fragments := document.Merge(document.IgnoreConflicts, validDiffs)

	// Step 5/6: replace missing docs with base, apply merged to each.
	outputs := make([]document.Document, len(fetched))
	for i, r := range fetched {
		input := base
		if r.Err == nil {
			input = r.Doc
		}
		outputs[i] = document.Apply(merged, input)
	}

	// Step 7: write outputs back out; per-source failures are non-fatal.
	setResults, err := e.gateway.SetAll(ctx, ik, outputs)
	if err != nil {
		return Result{}, err
	}

	// Step 8: persist merged diff plus conflict fragments.
	if _, err := e.store.RecordDiffs(ctx, ik, merged, fragments); err != nil {
		return Result{}, err
	}

	// Step 9: the baseline advances only by the unanimous part.
	if err := e.store.RecordBaseline(ctx, ik, document.Apply(merged, base)); err != nil {
		return Result{}, err
	}

	failures := failuresOf(setResults)
	for _, r := range failed {
		failures = append(failures, r.Err)
	}
	cprint.UpdatePrintln(fmt.Sprintf("updating %s", ik))
	return Result{Op: crud.Update, IK: ik, Failures: failures}, nil
}

// synthesise folds valid into a nominal starting document: a pairwise union
// where the first source to declare a field wins any tie (§4.5, §9 Open
// Question).
func synthesise(valid []document.Document) document.Document {
	out := document.New()
	for _, doc := range valid {
		for k, v := range doc {
			if _, exists := out[k]; !exists {
				out[k] = v
			}
		}
	}
	return out
}

func failuresOf(results []gateway.SourceResult) []error {
	return lo.FilterMap(results, func(r gateway.SourceResult, _ int) (error, bool) {
		return r.Err, r.Err != nil
	})
}
