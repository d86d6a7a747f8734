// Package sqlstore is a database/sql-backed Operational Store, grounded on
// the pack's sqlite usage pattern (github.com/ncruces/go-sqlite3's pure-Go
// driver, opened with blank driver/embed imports exactly as the retrieved
// storage examples do it). Schema mirrors memstore's five tables one for
// one; this backend is for a process that wants the store to survive a
// restart without an external database server.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/mirrorsync/reconciler/pkg/document"
	"github.com/mirrorsync/reconciler/pkg/ident"
	"github.com/mirrorsync/reconciler/pkg/reconcilerrors"
	"github.com/mirrorsync/reconciler/pkg/store"
	"github.com/mirrorsync/reconciler/pkg/utils"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS internal_key_seq (
	entity TEXT PRIMARY KEY,
	next_id INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS records (
	entity TEXT NOT NULL,
	id INTEGER NOT NULL,
	PRIMARY KEY (entity, id)
);
CREATE TABLE IF NOT EXISTS foreign_keys (
	entity TEXT NOT NULL,
	id INTEGER NOT NULL,
	source TEXT NOT NULL,
	fk TEXT NOT NULL,
	UNIQUE (entity, source, fk),
	UNIQUE (entity, id, source)
);
CREATE TABLE IF NOT EXISTS baselines (
	entity TEXT NOT NULL,
	id INTEGER NOT NULL,
	document BLOB NOT NULL,
	PRIMARY KEY (entity, id)
);
CREATE TABLE IF NOT EXISTS diffs (
	diff_id TEXT PRIMARY KEY,
	entity TEXT NOT NULL,
	id INTEGER NOT NULL,
	content BLOB NOT NULL,
	is_conflict INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS diffs_by_ik ON diffs (entity, id);
CREATE TABLE IF NOT EXISTS notifications (
	entity TEXT NOT NULL,
	id INTEGER NOT NULL,
	diff_id TEXT NOT NULL,
	PRIMARY KEY (entity, id, diff_id)
);
`

// Store is a sqlite-backed Operational Store.
type Store struct {
	db *sql.DB
}

// Open creates or reuses the sqlite database at path and ensures its schema
// exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, reconcilerrors.StoreErr("sqlstore: opening database", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, reconcilerrors.StoreErr("sqlstore: creating schema", err)
	}
	return &Store{db: db}, nil
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return reconcilerrors.StoreErr("sqlstore: beginning transaction", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return reconcilerrors.StoreErr("sqlstore: committing transaction", err)
	}
	return nil
}

// CreateInternalKey implements store.Store.
func (s *Store) CreateInternalKey(ctx context.Context, entity ident.EntityTag) (ident.InternalKey, error) {
	if entity == "" {
		return ident.InternalKey{}, reconcilerrors.Internal("sqlstore: entity tag required")
	}
	var id int64
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO internal_key_seq (entity, next_id) VALUES (?, 2)
			ON CONFLICT(entity) DO UPDATE SET next_id = next_id + 1`, string(entity)); err != nil {
			return reconcilerrors.StoreErr("sqlstore: allocating id", err)
		}
		row := tx.QueryRowContext(ctx, `SELECT next_id - 1 FROM internal_key_seq WHERE entity = ?`, string(entity))
		if err := row.Scan(&id); err != nil {
			return reconcilerrors.StoreErr("sqlstore: reading allocated id", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO records (entity, id) VALUES (?, ?)`, string(entity), id); err != nil {
			return reconcilerrors.StoreErr("sqlstore: inserting record", err)
		}
		return nil
	})
	if err != nil {
		return ident.InternalKey{}, err
	}
	return ident.InternalKey{Entity: entity, ID: id}, nil
}

// LookupInternalKey implements store.Store.
func (s *Store) LookupInternalKey(ctx context.Context, fk ident.ForeignKey) (ident.InternalKey, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT entity, id FROM foreign_keys WHERE entity = ? AND source = ? AND fk = ?`,
		string(fk.Entity), string(fk.Source), fk.ID)
	var entity string
	var id int64
	switch err := row.Scan(&entity, &id); err {
	case nil:
		return ident.InternalKey{Entity: ident.EntityTag(entity), ID: id}, true, nil
	case sql.ErrNoRows:
		return ident.InternalKey{}, false, nil
	default:
		return ident.InternalKey{}, false, reconcilerrors.StoreErr("sqlstore: looking up foreign key", err)
	}
}

// DeleteInternalKey implements store.Store.
func (s *Store) DeleteInternalKey(ctx context.Context, ik ident.InternalKey) (int, error) {
	var removed int64
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, table := range []string{"foreign_keys", "baselines", "diffs", "notifications", "records"} {
			res, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE entity = ? AND id = ?`, table), string(ik.Entity), ik.ID)
			if err != nil {
				return reconcilerrors.StoreErr(fmt.Sprintf("sqlstore: cascading delete from %s", table), err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return reconcilerrors.StoreErr("sqlstore: counting deleted rows", err)
			}
			removed += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(removed), nil
}

// RecordForeignKey implements store.Store.
func (s *Store) RecordForeignKey(ctx context.Context, ik ident.InternalKey, fk ident.ForeignKey) error {
	if fk.Entity != ik.Entity {
		return reconcilerrors.Incompatible("sqlstore: foreign key entity %q does not match internal key entity %q", fk.Entity, ik.Entity)
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		var otherID int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM foreign_keys WHERE entity = ? AND source = ? AND fk = ?`,
			string(fk.Entity), string(fk.Source), fk.ID).Scan(&otherID)
		switch {
		case err == nil && otherID != ik.ID:
			return reconcilerrors.Internal("sqlstore: foreign key %s already maps to a different internal key", fk)
		case err != nil && err != sql.ErrNoRows:
			return reconcilerrors.StoreErr("sqlstore: checking foreign key uniqueness", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM foreign_keys WHERE entity = ? AND id = ? AND source = ?`,
			string(ik.Entity), ik.ID, string(fk.Source)); err != nil {
			return reconcilerrors.StoreErr("sqlstore: replacing foreign key", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO foreign_keys (entity, id, source, fk) VALUES (?, ?, ?, ?)`,
			string(fk.Entity), ik.ID, string(fk.Source), fk.ID); err != nil {
			return reconcilerrors.StoreErr("sqlstore: inserting foreign key", err)
		}
		return nil
	})
}

// LookupForeignKey implements store.Store.
func (s *Store) LookupForeignKey(ctx context.Context, ik ident.InternalKey, source ident.SourceTag) (ident.ForeignKey, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT fk FROM foreign_keys WHERE entity = ? AND id = ? AND source = ?`,
		string(ik.Entity), ik.ID, string(source))
	var fkID string
	switch err := row.Scan(&fkID); err {
	case nil:
		return ident.ForeignKey{Entity: ik.Entity, Source: source, ID: fkID}, true, nil
	case sql.ErrNoRows:
		return ident.ForeignKey{}, false, nil
	default:
		return ident.ForeignKey{}, false, reconcilerrors.StoreErr("sqlstore: looking up foreign key", err)
	}
}

// DeleteForeignKey implements store.Store.
func (s *Store) DeleteForeignKey(ctx context.Context, fk ident.ForeignKey) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM foreign_keys WHERE entity = ? AND source = ? AND fk = ?`,
		string(fk.Entity), string(fk.Source), fk.ID)
	if err != nil {
		return reconcilerrors.StoreErr("sqlstore: deleting foreign key", err)
	}
	return nil
}

// DeleteForeignKeys implements store.Store.
func (s *Store) DeleteForeignKeys(ctx context.Context, ik ident.InternalKey) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM foreign_keys WHERE entity = ? AND id = ?`, string(ik.Entity), ik.ID)
	if err != nil {
		return reconcilerrors.StoreErr("sqlstore: deleting foreign keys", err)
	}
	return nil
}

// RecordBaseline implements store.Store.
func (s *Store) RecordBaseline(ctx context.Context, ik ident.InternalKey, doc document.Document) error {
	raw, err := json.Marshal(map[string]any(doc))
	if err != nil {
		return reconcilerrors.DecodeErr("sqlstore: encoding baseline", err)
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM baselines WHERE entity = ? AND id = ?`, string(ik.Entity), ik.ID); err != nil {
			return reconcilerrors.StoreErr("sqlstore: replacing baseline", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO baselines (entity, id, document) VALUES (?, ?, ?)`,
			string(ik.Entity), ik.ID, raw); err != nil {
			return reconcilerrors.StoreErr("sqlstore: inserting baseline", err)
		}
		return nil
	})
}

// LookupBaseline implements store.Store.
func (s *Store) LookupBaseline(ctx context.Context, ik ident.InternalKey) (document.Document, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT document FROM baselines WHERE entity = ? AND id = ?`, string(ik.Entity), ik.ID)
	var raw []byte
	switch err := row.Scan(&raw); err {
	case nil:
		doc, err := document.ParseJSON(raw)
		if err != nil {
			return nil, false, err
		}
		return doc, true, nil
	case sql.ErrNoRows:
		return nil, false, nil
	default:
		return nil, false, reconcilerrors.StoreErr("sqlstore: looking up baseline", err)
	}
}

// DeleteBaseline implements store.Store.
func (s *Store) DeleteBaseline(ctx context.Context, ik ident.InternalKey) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM baselines WHERE entity = ? AND id = ?`, string(ik.Entity), ik.ID)
	if err != nil {
		return reconcilerrors.StoreErr("sqlstore: deleting baseline", err)
	}
	return nil
}

// RecordDiffs implements store.Store.
func (s *Store) RecordDiffs(ctx context.Context, ik ident.InternalKey, merged document.Diff, fragments []document.Diff) (string, error) {
	mergedRaw, err := json.Marshal(merged)
	if err != nil {
		return "", reconcilerrors.DecodeErr("sqlstore: encoding merged diff", err)
	}
	diffID := utils.UUID()

	err = withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO diffs (diff_id, entity, id, content, is_conflict) VALUES (?, ?, ?, ?, 0)`,
			diffID, string(ik.Entity), ik.ID, mergedRaw); err != nil {
			return reconcilerrors.StoreErr("sqlstore: inserting merged diff", err)
		}
		for _, fragment := range fragments {
			fragRaw, err := json.Marshal(fragment)
			if err != nil {
				return reconcilerrors.DecodeErr("sqlstore: encoding conflict fragment", err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO diffs (diff_id, entity, id, content, is_conflict) VALUES (?, ?, ?, ?, 1)`,
				utils.UUID(), string(ik.Entity), ik.ID, fragRaw); err != nil {
				return reconcilerrors.StoreErr("sqlstore: inserting conflict fragment", err)
			}
		}
		if len(fragments) > 0 {
			if _, err := tx.ExecContext(ctx, `INSERT INTO notifications (entity, id, diff_id) VALUES (?, ?, ?)`,
				string(ik.Entity), ik.ID, diffID); err != nil {
				return reconcilerrors.StoreErr("sqlstore: inserting notification", err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return diffID, nil
}

// DeleteDiffs implements store.Store.
func (s *Store) DeleteDiffs(ctx context.Context, ik ident.InternalKey) error {
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM diffs WHERE entity = ? AND id = ?`, string(ik.Entity), ik.ID); err != nil {
			return reconcilerrors.StoreErr("sqlstore: deleting diffs", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM notifications WHERE entity = ? AND id = ?`, string(ik.Entity), ik.ID); err != nil {
			return reconcilerrors.StoreErr("sqlstore: deleting notifications", err)
		}
		return nil
	})
}

// Notifications implements store.Store.
func (s *Store) Notifications(ctx context.Context, ik ident.InternalKey) ([]store.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT diff_id FROM notifications WHERE entity = ? AND id = ?`, string(ik.Entity), ik.ID)
	if err != nil {
		return nil, reconcilerrors.StoreErr("sqlstore: listing notifications", err)
	}
	defer rows.Close()
	var out []store.Notification
	for rows.Next() {
		var diffID string
		if err := rows.Scan(&diffID); err != nil {
			return nil, reconcilerrors.StoreErr("sqlstore: scanning notification", err)
		}
		out = append(out, store.Notification{Entity: ik.Entity, ID: ik.ID, DiffID: diffID})
	}
	if err := rows.Err(); err != nil {
		return nil, reconcilerrors.StoreErr("sqlstore: iterating notifications", err)
	}
	return out, nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return reconcilerrors.StoreErr("sqlstore: closing database", err)
	}
	return nil
}

var _ store.Store = (*Store)(nil)
