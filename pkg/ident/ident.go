// Package ident implements the Reconciler's identifier model: entity and
// source tags, the InternalKey/ForeignKey identifiers derived from them, and
// the compatibility predicate used throughout the pipeline.
package ident

import "fmt"

// EntityTag names a record kind, e.g. "user".
type EntityTag string

// SourceTag names a location an entity lives in, e.g. "upstream".
type SourceTag string

// InternalKey is the Reconciler's own identity for one logical record within
// an entity. It is allocated exactly once per logical record and never
// reused after deletion.
type InternalKey struct {
	Entity EntityTag
	ID     int64
}

// Value returns the entity tag and opaque id, the shape used by storage.
func (k InternalKey) Value() (EntityTag, int64) {
	return k.Entity, k.ID
}

func (k InternalKey) String() string {
	return fmt.Sprintf("%s/%d", k.Entity, k.ID)
}

// IsZero reports whether k is the zero value, which never identifies a real
// record (internal keys start at 1).
func (k InternalKey) IsZero() bool {
	return k.Entity == "" && k.ID == 0
}

// ForeignKey is the key identifying a logical record inside one specific
// source. At most one ForeignKey exists per (InternalKey, source) pair.
type ForeignKey struct {
	Entity EntityTag
	Source SourceTag
	ID     string
}

// Value returns the entity, source and opaque id, the shape used by storage.
func (k ForeignKey) Value() (EntityTag, SourceTag, string) {
	return k.Entity, k.Source, k.ID
}

func (k ForeignKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Entity, k.Source, k.ID)
}

// Tagged is implemented by anything carrying an entity/source pair, so that
// Compatible can be used uniformly across ForeignKeys, adapter handles, and
// documents in flight.
type Tagged interface {
	Tags() (EntityTag, SourceTag)
}

// Tags implements Tagged for ForeignKey.
func (k ForeignKey) Tags() (EntityTag, SourceTag) {
	return k.Entity, k.Source
}

// EntityOnly wraps an entity tag (e.g. an InternalKey's) so it can be
// compared against a Tagged value whose source is irrelevant (source is left
// empty and ignored by Compatible's entity-only callers).
type EntityOnly EntityTag

// Tags implements Tagged, returning an empty source tag.
func (e EntityOnly) Tags() (EntityTag, SourceTag) {
	return EntityTag(e), ""
}

// SourceHandle identifies one (entity, source) adapter registration.
type SourceHandle struct {
	Entity EntityTag
	Source SourceTag
}

// Tags implements Tagged for SourceHandle.
func (h SourceHandle) Tags() (EntityTag, SourceTag) {
	return h.Entity, h.Source
}

func (h SourceHandle) String() string {
	return fmt.Sprintf("%s/%s", h.Entity, h.Source)
}

// Compatible reports whether a and b agree on entity and, when both specify
// one, source. It is invariant 7's runtime check: an operation referencing a
// DataSource and a Document/ForeignKey is accepted only if all tags agree.
func Compatible(a, b Tagged) bool {
	ae, as := a.Tags()
	be, bs := b.Tags()
	if ae != be {
		return false
	}
	if as == "" || bs == "" {
		return true
	}
	return as == bs
}
