// Package dispatch implements the Dispatcher (§4.5 "Dispatch"): it resolves
// a raw (entity, source, foreign key) change-notification triple against
// the initialised catalog and, if known, hands it to the Reconciliation
// Engine as a strongly-typed pair.
package dispatch

import (
	"context"

	"github.com/mirrorsync/reconciler/pkg/engine"
	"github.com/mirrorsync/reconciler/pkg/ident"
	"github.com/mirrorsync/reconciler/pkg/rlog"
)

// Dispatcher is the entry point for change-notification input (§6).
type Dispatcher struct {
	catalog *ident.Catalog
	engine  *engine.Engine
	log     rlog.Logger
}

// New builds a Dispatcher over catalog, forwarding resolved triples to eng.
func New(catalog *ident.Catalog, eng *engine.Engine, log rlog.Logger) *Dispatcher {
	if log == nil {
		log = rlog.Discard
	}
	return &Dispatcher{catalog: catalog, engine: eng, log: log}
}

// Status reports the outcome of Dispatch: whether the triple resolved
// against the catalog and, if so, the Engine's result.
type Status struct {
	Resolved bool
	Result   engine.Result
}

// Dispatch handles one raw (entity, source, key) triple. An entity or
// source absent from the catalog is logged and reported as resolved=false
// without error — at-least-once delivery means the same unknown triple may
// arrive again once the catalog is updated, and the caller must not treat
// this as a fatal failure (§7).
func (d *Dispatcher) Dispatch(ctx context.Context, entity, source, key string) (Status, error) {
	et := ident.EntityTag(entity)
	st := ident.SourceTag(source)

	if !d.catalog.Has(et, st) {
		d.log.Warnf("dispatch: unknown (entity=%s, source=%s), dropping", entity, source)
		return Status{Resolved: false}, nil
	}

	sh := ident.SourceHandle{Entity: et, Source: st}
	fk := ident.ForeignKey{Entity: et, Source: st, ID: key}

	result, err := d.engine.Process(ctx, sh, fk)
	if err != nil {
		return Status{}, err
	}
	return Status{Resolved: true, Result: result}, nil
}
