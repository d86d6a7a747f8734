// Package store defines the Operational Store contract (§4.3): the
// persistent mapping between internal and foreign keys, baseline documents,
// diffs (merged plus conflict fragments), and pending-conflict
// notifications. Every write operation is all-or-nothing per record;
// readers never observe a half-applied update.
package store

import (
	"context"

	"github.com/mirrorsync/reconciler/pkg/document"
	"github.com/mirrorsync/reconciler/pkg/ident"
)

// Notification is a persisted flag that a record has unresolved conflict
// fragments: "this record has unresolved conflicts", referencing the
// authoritative diff.
type Notification struct {
	Entity ident.EntityTag
	ID     int64
	DiffID string
}

// Store is the operational store's full contract. Implementations must
// satisfy §3's invariants transactionally per operation; see
// pkg/store/memstore and pkg/store/sqlstore for the two backends the
// Design Notes allow ("either is a valid implementation of §4.3").
type Store interface {
	// CreateInternalKey allocates and persists a fresh InternalKey for
	// entity.
	CreateInternalKey(ctx context.Context, entity ident.EntityTag) (ident.InternalKey, error)
	// LookupInternalKey is a pure read; ok is false for an unknown foreign
	// key.
	LookupInternalKey(ctx context.Context, fk ident.ForeignKey) (ik ident.InternalKey, ok bool, err error)
	// DeleteInternalKey cascades: it deletes the baseline, diffs, conflict
	// fragments, notifications, and foreign keys for ik, then the ik row
	// itself. It is idempotent and returns the number of rows removed.
	DeleteInternalKey(ctx context.Context, ik ident.InternalKey) (int, error)

	// RecordForeignKey inserts the (ik, fk) mapping. It fails if fk already
	// maps to a different internal key (invariant 1). It does not fail when
	// ik already has a different foreign key for fk's source: that mapping
	// is replaced, so at most one foreign key per (ik, source) remains
	// (invariant 2). Recording an identical mapping again is a no-op.
	RecordForeignKey(ctx context.Context, ik ident.InternalKey, fk ident.ForeignKey) error
	// LookupForeignKey is a pure read.
	LookupForeignKey(ctx context.Context, ik ident.InternalKey, source ident.SourceTag) (fk ident.ForeignKey, ok bool, err error)
	// DeleteForeignKey removes one mapping; idempotent.
	DeleteForeignKey(ctx context.Context, fk ident.ForeignKey) error
	// DeleteForeignKeys removes every mapping for ik; idempotent.
	DeleteForeignKeys(ctx context.Context, ik ident.InternalKey) error

	// RecordBaseline atomically replaces the baseline document for ik
	// (invariant 5: delete-then-insert in one transaction).
	RecordBaseline(ctx context.Context, ik ident.InternalKey, doc document.Document) error
	// LookupBaseline is a pure read.
	LookupBaseline(ctx context.Context, ik ident.InternalKey) (doc document.Document, ok bool, err error)
	// DeleteBaseline removes the baseline; idempotent.
	DeleteBaseline(ctx context.Context, ik ident.InternalKey) error

	// RecordDiffs persists merged as the authoritative diff and each
	// fragment with is_conflict=true under ik. If fragments is non-empty it
	// also records a notification referencing the merged diff's id. It
	// returns the merged diff's id.
	RecordDiffs(ctx context.Context, ik ident.InternalKey, merged document.Diff, fragments []document.Diff) (diffID string, err error)
	// DeleteDiffs removes diffs, fragments, and notifications for ik.
	DeleteDiffs(ctx context.Context, ik ident.InternalKey) error

	// Notifications lists the pending-conflict notifications for ik.
	Notifications(ctx context.Context, ik ident.InternalKey) ([]Notification, error)

	// Close releases any resources (connections, handles) the store holds.
	Close() error
}
