package crud

// Kind identifies the entity type a Registry entry handles, e.g. "service"
// or "route". It is the registry's lookup key; ident.EntityTag values
// convert to it directly since both are named string types over the same
// catalog vocabulary.
type Kind string
