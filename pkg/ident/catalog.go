package ident

import (
	"fmt"
	"sort"

	"github.com/ettle/strcase"

	"github.com/mirrorsync/reconciler/pkg/reconcilerrors"
)

// EntitySpec declares one entity and the ordered list of sources it lives
// in. Source order is significant: it is the order Gateway.GetAll/SetAll
// walk, and the tiebreak order for the engine's baseline synthesis.
type EntitySpec struct {
	Entity  EntityTag
	Sources []SourceTag
}

// Catalog is the runtime registry that replaces compile-time entity/source
// tagging (see Design Notes, "type-level entity/source tagging"): a
// map[entity-tag]EntitySpec plus an O(1) membership check, normalising tags
// with strcase so that two spellings of the same tag never silently
// diverge.
type Catalog struct {
	entities map[EntityTag]EntitySpec
}

// NewCatalog builds a Catalog from entity specs, validating that tags are
// non-empty, unique, and that each entity declares at least one source.
func NewCatalog(specs ...EntitySpec) (*Catalog, error) {
	c := &Catalog{entities: make(map[EntityTag]EntitySpec, len(specs))}
	for _, spec := range specs {
		if spec.Entity == "" {
			return nil, fmt.Errorf("ident: entity tag must not be empty")
		}
		entity := canonicalEntity(spec.Entity)
		if _, exists := c.entities[entity]; exists {
			return nil, fmt.Errorf("ident: duplicate entity tag %q", entity)
		}
		if len(spec.Sources) == 0 {
			return nil, fmt.Errorf("ident: entity %q declares no sources", entity)
		}
		seen := make(map[SourceTag]struct{}, len(spec.Sources))
		sources := make([]SourceTag, 0, len(spec.Sources))
		for _, s := range spec.Sources {
			if s == "" {
				return nil, fmt.Errorf("ident: entity %q: source tag must not be empty", entity)
			}
			source := canonicalSource(s)
			if _, dup := seen[source]; dup {
				return nil, fmt.Errorf("ident: entity %q: duplicate source tag %q", entity, source)
			}
			seen[source] = struct{}{}
			sources = append(sources, source)
		}
		c.entities[entity] = EntitySpec{Entity: entity, Sources: sources}
	}
	return c, nil
}

func canonicalEntity(e EntityTag) EntityTag {
	return EntityTag(strcase.ToSnake(string(e)))
}

func canonicalSource(s SourceTag) SourceTag {
	return SourceTag(strcase.ToSnake(string(s)))
}

// Sources returns the ordered sources declared for entity, or UnknownEntity
// if the tag isn't registered.
func (c *Catalog) Sources(entity EntityTag) ([]SourceTag, error) {
	spec, ok := c.entities[canonicalEntity(entity)]
	if !ok {
		return nil, reconcilerrors.Unknown("ident: unknown entity %q", entity)
	}
	out := make([]SourceTag, len(spec.Sources))
	copy(out, spec.Sources)
	return out, nil
}

// Has reports whether (entity, source) is registered.
func (c *Catalog) Has(entity EntityTag, source SourceTag) bool {
	spec, ok := c.entities[canonicalEntity(entity)]
	if !ok {
		return false
	}
	for _, s := range spec.Sources {
		if s == canonicalSource(source) {
			return true
		}
	}
	return false
}

// HasEntity reports whether entity is registered, regardless of source.
func (c *Catalog) HasEntity(entity EntityTag) bool {
	_, ok := c.entities[canonicalEntity(entity)]
	return ok
}

// Entities returns the registered entity tags in lexicographic order.
func (c *Catalog) Entities() []EntityTag {
	out := make([]EntityTag, 0, len(c.entities))
	for e := range c.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
