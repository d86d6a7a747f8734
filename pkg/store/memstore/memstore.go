// Package memstore is an in-memory Operational Store backed by
// hashicorp/go-memdb, grounded directly on the teacher's pkg/state package:
// one memdb.DB with the five tables from §6's persisted-state layout, one
// memdb.Txn per operation (write txns commit only after every invariant
// check succeeds, exactly the "txn := db.Txn(true); defer txn.Abort();
// ...; txn.Commit()" shape pkg/state/service.go uses).
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/mirrorsync/reconciler/pkg/document"
	"github.com/mirrorsync/reconciler/pkg/ident"
	"github.com/mirrorsync/reconciler/pkg/reconcilerrors"
	"github.com/mirrorsync/reconciler/pkg/store"
	"github.com/mirrorsync/reconciler/pkg/utils"
)

const (
	recordsTable       = "records"
	foreignKeysTable   = "foreign_keys"
	baselinesTable     = "baselines"
	diffsTable         = "diffs"
	notificationsTable = "notifications"
)

type recordRow struct {
	Entity string
	ID     int64
}

type foreignKeyRow struct {
	Entity string
	ID     int64
	Source string
	FK     string
}

type baselineRow struct {
	Entity   string
	ID       int64
	Document []byte
}

type diffRow struct {
	Entity     string
	ID         int64
	DiffID     string
	Content    []byte
	IsConflict bool
}

type notificationRow struct {
	Entity string
	ID     int64
	DiffID string
}

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		recordsTable: {
			Name: recordsTable,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:   "id",
					Unique: true,
					Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
						&memdb.StringFieldIndex{Field: "Entity"},
						&memdb.IntFieldIndex{Field: "ID"},
					}},
				},
			},
		},
		foreignKeysTable: {
			Name: foreignKeysTable,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:   "id",
					Unique: true,
					Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
						&memdb.StringFieldIndex{Field: "Entity"},
						&memdb.StringFieldIndex{Field: "Source"},
						&memdb.StringFieldIndex{Field: "FK"},
					}},
				},
				"by_ik_source": {
					Name:   "by_ik_source",
					Unique: true,
					Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
						&memdb.StringFieldIndex{Field: "Entity"},
						&memdb.IntFieldIndex{Field: "ID"},
						&memdb.StringFieldIndex{Field: "Source"},
					}},
				},
				"by_ik": {
					Name:   "by_ik",
					Unique: false,
					Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
						&memdb.StringFieldIndex{Field: "Entity"},
						&memdb.IntFieldIndex{Field: "ID"},
					}},
				},
			},
		},
		baselinesTable: {
			Name: baselinesTable,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:   "id",
					Unique: true,
					Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
						&memdb.StringFieldIndex{Field: "Entity"},
						&memdb.IntFieldIndex{Field: "ID"},
					}},
				},
			},
		},
		diffsTable: {
			Name: diffsTable,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "DiffID"},
				},
				"by_ik": {
					Name:   "by_ik",
					Unique: false,
					Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
						&memdb.StringFieldIndex{Field: "Entity"},
						&memdb.IntFieldIndex{Field: "ID"},
					}},
				},
			},
		},
		notificationsTable: {
			Name: notificationsTable,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:   "id",
					Unique: true,
					Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
						&memdb.StringFieldIndex{Field: "Entity"},
						&memdb.IntFieldIndex{Field: "ID"},
						&memdb.StringFieldIndex{Field: "DiffID"},
					}},
				},
				"by_ik": {
					Name:   "by_ik",
					Unique: false,
					Indexer: &memdb.CompoundIndex{Indexes: []memdb.Indexer{
						&memdb.StringFieldIndex{Field: "Entity"},
						&memdb.IntFieldIndex{Field: "ID"},
					}},
				},
			},
		},
	},
}

// Store is an in-memory Operational Store.
type Store struct {
	db *memdb.MemDB

	seqMu sync.Mutex
	seq   map[ident.EntityTag]*int64
}

// New builds an empty in-memory Store.
func New() (*Store, error) {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, reconcilerrors.StoreErr("memstore: creating memdb", err)
	}
	return &Store{db: db, seq: map[ident.EntityTag]*int64{}}, nil
}

func (s *Store) nextID(entity ident.EntityTag) int64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	counter, ok := s.seq[entity]
	if !ok {
		var zero int64
		counter = &zero
		s.seq[entity] = counter
	}
	return atomic.AddInt64(counter, 1)
}

// CreateInternalKey implements store.Store.
func (s *Store) CreateInternalKey(_ context.Context, entity ident.EntityTag) (ident.InternalKey, error) {
	if entity == "" {
		return ident.InternalKey{}, reconcilerrors.Internal("memstore: entity tag required")
	}
	id := s.nextID(entity)
	ik := ident.InternalKey{Entity: entity, ID: id}

	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(recordsTable, &recordRow{Entity: string(entity), ID: id}); err != nil {
		return ident.InternalKey{}, reconcilerrors.StoreErr("memstore: inserting record", err)
	}
	txn.Commit()
	return ik, nil
}

// LookupInternalKey implements store.Store.
func (s *Store) LookupInternalKey(_ context.Context, fk ident.ForeignKey) (ident.InternalKey, bool, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(foreignKeysTable, "id", string(fk.Entity), string(fk.Source), fk.ID)
	if err != nil {
		return ident.InternalKey{}, false, reconcilerrors.StoreErr("memstore: looking up foreign key", err)
	}
	if raw == nil {
		return ident.InternalKey{}, false, nil
	}
	row := raw.(*foreignKeyRow)
	return ident.InternalKey{Entity: ident.EntityTag(row.Entity), ID: row.ID}, true, nil
}

// DeleteInternalKey implements store.Store.
func (s *Store) DeleteInternalKey(_ context.Context, ik ident.InternalKey) (int, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	removed := 0
	for _, spec := range []struct {
		table string
		index string
	}{
		{foreignKeysTable, "by_ik"},
		{baselinesTable, "id"},
		{diffsTable, "by_ik"},
		{notificationsTable, "by_ik"},
	} {
		n, err := txn.DeleteAll(spec.table, spec.index, string(ik.Entity), ik.ID)
		if err != nil {
			return 0, reconcilerrors.StoreErr(fmt.Sprintf("memstore: cascading delete from %s", spec.table), err)
		}
		removed += n
	}
	n, err := txn.DeleteAll(recordsTable, "id", string(ik.Entity), ik.ID)
	if err != nil {
		return 0, reconcilerrors.StoreErr("memstore: deleting record", err)
	}
	removed += n
	txn.Commit()
	return removed, nil
}

// RecordForeignKey implements store.Store.
func (s *Store) RecordForeignKey(_ context.Context, ik ident.InternalKey, fk ident.ForeignKey) error {
	if fk.Entity != ik.Entity {
		return reconcilerrors.Incompatible("memstore: foreign key entity %q does not match internal key entity %q", fk.Entity, ik.Entity)
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	if raw, err := txn.First(foreignKeysTable, "id", string(fk.Entity), string(fk.Source), fk.ID); err != nil {
		return reconcilerrors.StoreErr("memstore: checking foreign key uniqueness", err)
	} else if raw != nil {
		existing := raw.(*foreignKeyRow)
		if existing.ID != ik.ID {
			return reconcilerrors.Internal("memstore: foreign key %s already maps to a different internal key", fk)
		}
	}
	if raw, err := txn.First(foreignKeysTable, "by_ik_source", string(ik.Entity), ik.ID, string(fk.Source)); err != nil {
		return reconcilerrors.StoreErr("memstore: checking source uniqueness", err)
	} else if raw != nil {
		existing := raw.(*foreignKeyRow)
		if existing.FK != fk.ID {
			if err := txn.Delete(foreignKeysTable, existing); err != nil {
				return reconcilerrors.StoreErr("memstore: replacing foreign key", err)
			}
		} else {
			txn.Commit()
			return nil
		}
	}

	if err := txn.Insert(foreignKeysTable, &foreignKeyRow{
		Entity: string(fk.Entity), ID: ik.ID, Source: string(fk.Source), FK: fk.ID,
	}); err != nil {
		return reconcilerrors.StoreErr("memstore: inserting foreign key", err)
	}
	txn.Commit()
	return nil
}

// LookupForeignKey implements store.Store.
func (s *Store) LookupForeignKey(_ context.Context, ik ident.InternalKey, source ident.SourceTag) (ident.ForeignKey, bool, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(foreignKeysTable, "by_ik_source", string(ik.Entity), ik.ID, string(source))
	if err != nil {
		return ident.ForeignKey{}, false, reconcilerrors.StoreErr("memstore: looking up foreign key", err)
	}
	if raw == nil {
		return ident.ForeignKey{}, false, nil
	}
	row := raw.(*foreignKeyRow)
	return ident.ForeignKey{Entity: ik.Entity, Source: source, ID: row.FK}, true, nil
}

// DeleteForeignKey implements store.Store.
func (s *Store) DeleteForeignKey(_ context.Context, fk ident.ForeignKey) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(foreignKeysTable, "id", string(fk.Entity), string(fk.Source), fk.ID); err != nil {
		return reconcilerrors.StoreErr("memstore: deleting foreign key", err)
	}
	txn.Commit()
	return nil
}

// DeleteForeignKeys implements store.Store.
func (s *Store) DeleteForeignKeys(_ context.Context, ik ident.InternalKey) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(foreignKeysTable, "by_ik", string(ik.Entity), ik.ID); err != nil {
		return reconcilerrors.StoreErr("memstore: deleting foreign keys", err)
	}
	txn.Commit()
	return nil
}

// RecordBaseline implements store.Store.
func (s *Store) RecordBaseline(_ context.Context, ik ident.InternalKey, doc document.Document) error {
	raw, err := json.Marshal(map[string]any(doc))
	if err != nil {
		return reconcilerrors.DecodeErr("memstore: encoding baseline", err)
	}
	txn := s.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(baselinesTable, "id", string(ik.Entity), ik.ID); err != nil {
		return reconcilerrors.StoreErr("memstore: replacing baseline", err)
	}
	if err := txn.Insert(baselinesTable, &baselineRow{Entity: string(ik.Entity), ID: ik.ID, Document: raw}); err != nil {
		return reconcilerrors.StoreErr("memstore: inserting baseline", err)
	}
	txn.Commit()
	return nil
}

// LookupBaseline implements store.Store.
func (s *Store) LookupBaseline(_ context.Context, ik ident.InternalKey) (document.Document, bool, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(baselinesTable, "id", string(ik.Entity), ik.ID)
	if err != nil {
		return nil, false, reconcilerrors.StoreErr("memstore: looking up baseline", err)
	}
	if raw == nil {
		return nil, false, nil
	}
	row := raw.(*baselineRow)
	doc, err := document.ParseJSON(row.Document)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// DeleteBaseline implements store.Store.
func (s *Store) DeleteBaseline(_ context.Context, ik ident.InternalKey) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(baselinesTable, "id", string(ik.Entity), ik.ID); err != nil {
		return reconcilerrors.StoreErr("memstore: deleting baseline", err)
	}
	txn.Commit()
	return nil
}

// RecordDiffs implements store.Store.
func (s *Store) RecordDiffs(_ context.Context, ik ident.InternalKey, merged document.Diff, fragments []document.Diff) (string, error) {
	mergedRaw, err := json.Marshal(merged)
	if err != nil {
		return "", reconcilerrors.DecodeErr("memstore: encoding merged diff", err)
	}
	diffID := utils.UUID()

	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(diffsTable, &diffRow{
		Entity: string(ik.Entity), ID: ik.ID, DiffID: diffID, Content: mergedRaw, IsConflict: false,
	}); err != nil {
		return "", reconcilerrors.StoreErr("memstore: inserting merged diff", err)
	}

	for _, fragment := range fragments {
		fragRaw, err := json.Marshal(fragment)
		if err != nil {
			return "", reconcilerrors.DecodeErr("memstore: encoding conflict fragment", err)
		}
		if err := txn.Insert(diffsTable, &diffRow{
			Entity: string(ik.Entity), ID: ik.ID, DiffID: utils.UUID(), Content: fragRaw, IsConflict: true,
		}); err != nil {
			return "", reconcilerrors.StoreErr("memstore: inserting conflict fragment", err)
		}
	}

	if len(fragments) > 0 {
		if err := txn.Insert(notificationsTable, &notificationRow{
			Entity: string(ik.Entity), ID: ik.ID, DiffID: diffID,
		}); err != nil {
			return "", reconcilerrors.StoreErr("memstore: inserting notification", err)
		}
	}

	txn.Commit()
	return diffID, nil
}

// DeleteDiffs implements store.Store.
func (s *Store) DeleteDiffs(_ context.Context, ik ident.InternalKey) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(diffsTable, "by_ik", string(ik.Entity), ik.ID); err != nil {
		return reconcilerrors.StoreErr("memstore: deleting diffs", err)
	}
	if _, err := txn.DeleteAll(notificationsTable, "by_ik", string(ik.Entity), ik.ID); err != nil {
		return reconcilerrors.StoreErr("memstore: deleting notifications", err)
	}
	txn.Commit()
	return nil
}

// Notifications implements store.Store.
func (s *Store) Notifications(_ context.Context, ik ident.InternalKey) ([]store.Notification, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	iter, err := txn.Get(notificationsTable, "by_ik", string(ik.Entity), ik.ID)
	if err != nil {
		return nil, reconcilerrors.StoreErr("memstore: listing notifications", err)
	}
	var out []store.Notification
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		row := raw.(*notificationRow)
		out = append(out, store.Notification{Entity: ik.Entity, ID: ik.ID, DiffID: row.DiffID})
	}
	return out, nil
}

// Close implements store.Store. memstore holds no external resources.
func (s *Store) Close() error {
	return nil
}

var _ store.Store = (*Store)(nil)
