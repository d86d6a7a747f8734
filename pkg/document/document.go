// Package document implements opaque JSON documents and the structured
// diff/apply/merge cycle the engine runs them through (§4.2). A Document is
// treated as a labelled tree: paths are finite sequences of field names,
// leaves are JSON scalars, JSON arrays and empty objects. Paths only name
// object fields, so an array is diffed atomically as one leaf rather than
// element-wise.
package document

import (
	"encoding/json"
	"sort"

	"github.com/mirrorsync/reconciler/pkg/reconcilerrors"
	"github.com/tidwall/gjson"
)

// Document is an opaque JSON object.
type Document map[string]any

// Path is an ordered sequence of field names locating a leaf in a Document.
type Path []string

// Clone returns a deep copy of p.
func (p Path) Clone() Path {
	out := make(Path, len(p))
	copy(out, p)
	return out
}

// Equal reports whether p and other name the same path.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

const pathSep = "\x1f"

func (p Path) key() string {
	out := ""
	for i, seg := range p {
		if i > 0 {
			out += pathSep
		}
		out += seg
	}
	return out
}

// New returns an empty Document, the nominal starting point for records that
// predate baselining (§4.5 "synthesise").
func New() Document {
	return Document{}
}

// ParseJSON decodes raw bytes into a Document. gjson validates the bytes
// cheaply before the full structural unmarshal, so adapter-supplied garbage
// is rejected as a DecodeError rather than surfacing a generic json error.
func ParseJSON(raw []byte) (Document, error) {
	if !gjson.ValidBytes(raw) {
		return nil, reconcilerrors.DecodeErr("invalid JSON document", nil)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, reconcilerrors.DecodeErr("decoding JSON document", err)
	}
	return doc, nil
}

// MarshalJSONCanonical renders doc as JSON with map keys in Go's default
// (sorted) order.
func (d Document) MarshalJSONCanonical() ([]byte, error) {
	return json.Marshal(map[string]any(d))
}

// Clone deep-copies doc via a JSON round trip, mirroring the DeepCopy
// pattern the teacher's generated entity types use pervasively (e.g.
// Service.DeepCopy in pkg/state). Numbers normalise to float64 on the way
// back, matching how adapters will have decoded the document in the first
// place.
func (d Document) Clone() Document {
	if d == nil {
		return Document{}
	}
	raw, err := json.Marshal(map[string]any(d))
	if err != nil {
		// Document only ever holds values that came from json.Unmarshal or
		// from this package's own setters, so it is always marshalable.
		panic(reconcilerrors.Internal("document: unmarshalable value in tree: %v", err))
	}
	var out Document
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(reconcilerrors.Internal("document: clone round trip failed: %v", err))
	}
	return out
}

type leaf struct {
	path  Path
	value any
}

func flatten(v any, prefix Path, out map[string]leaf, order *[]string) {
	if m, ok := v.(map[string]any); ok {
		if len(m) == 0 {
			key := prefix.key()
			if _, exists := out[key]; !exists {
				*order = append(*order, key)
			}
			out[key] = leaf{path: prefix.Clone(), value: map[string]any{}}
			return
		}
		for k, child := range m {
			flatten(child, append(prefix.Clone(), k), out, order)
		}
		return
	}
	key := prefix.key()
	if _, exists := out[key]; !exists {
		*order = append(*order, key)
	}
	out[key] = leaf{path: prefix.Clone(), value: v}
}

func flattenDoc(d Document) (map[string]leaf, []string) {
	out := map[string]leaf{}
	var order []string
	for k, v := range map[string]any(d) {
		flatten(v, Path{k}, out, &order)
	}
	sort.Strings(order)
	return out, order
}

// setPath inserts value at path, creating intermediate objects as needed,
// overwriting any non-object value found along the way.
func setPath(doc Document, path Path, value any) {
	if len(path) == 0 {
		return
	}
	cur := map[string]any(doc)
	for _, seg := range path[:len(path)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	cur[path[len(path)-1]] = value
}

// deletePath removes path if present; it is a no-op if any segment is
// missing, making Apply idempotent on repeated deletes.
func deletePath(doc Document, path Path) {
	if len(path) == 0 {
		return
	}
	cur := map[string]any(doc)
	for _, seg := range path[:len(path)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, path[len(path)-1])
}
