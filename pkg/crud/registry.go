package crud

import (
	"context"
	"fmt"
	"sync"
)

// Registry is a concurrency-safe lookup table from Kind to its Actions
// implementation. The zero value is ready to use.
type Registry struct {
	once sync.Once
	mu   sync.RWMutex
	reg  map[Kind]Actions
}

func (r *Registry) init() {
	r.once.Do(func() {
		r.reg = make(map[Kind]Actions)
	})
}

// Register associates kind with a. It errors if kind is empty or already
// registered.
func (r *Registry) Register(kind Kind, a Actions) error {
	if kind == "" {
		return fmt.Errorf("crud: empty kind")
	}
	r.init()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reg[kind]; ok {
		return fmt.Errorf("crud: %s already registered", kind)
	}
	r.reg[kind] = a
	return nil
}

// MustRegister is Register, panicking on error.
func (r *Registry) MustRegister(kind Kind, a Actions) {
	if err := r.Register(kind, a); err != nil {
		panic(err)
	}
}

// Get returns the Actions registered for kind.
func (r *Registry) Get(kind Kind) (Actions, error) {
	if kind == "" {
		return nil, fmt.Errorf("crud: empty kind")
	}
	r.init()
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.reg[kind]
	if !ok {
		return nil, fmt.Errorf("crud: no actions registered for %s", kind)
	}
	return a, nil
}

// Create looks up kind and invokes its Create action.
func (r *Registry) Create(ctx context.Context, kind Kind, args ...Arg) (Arg, error) {
	a, err := r.Get(kind)
	if err != nil {
		return nil, err
	}
	return a.Create(ctx, args...)
}

// Update looks up kind and invokes its Update action.
func (r *Registry) Update(ctx context.Context, kind Kind, args ...Arg) (Arg, error) {
	a, err := r.Get(kind)
	if err != nil {
		return nil, err
	}
	return a.Update(ctx, args...)
}

// Delete looks up kind and invokes its Delete action.
func (r *Registry) Delete(ctx context.Context, kind Kind, args ...Arg) (Arg, error) {
	a, err := r.Get(kind)
	if err != nil {
		return nil, err
	}
	return a.Delete(ctx, args...)
}

// Do looks up kind and invokes the action named by op.
func (r *Registry) Do(ctx context.Context, kind Kind, op Op, args ...Arg) (Arg, error) {
	a, err := r.Get(kind)
	if err != nil {
		return nil, err
	}
	switch op {
	case Create:
		return a.Create(ctx, args...)
	case Update:
		return a.Update(ctx, args...)
	case Delete:
		return a.Delete(ctx, args...)
	default:
		return nil, fmt.Errorf("crud: unknown op %s", op.String())
	}
}
