package identity

import "sync"

// MemoryFlags is an in-process FlagStore.
type MemoryFlags struct {
	mu    sync.Mutex
	flags map[string]struct{}
}

// NewMemoryFlags returns an empty in-memory flag store.
func NewMemoryFlags() *MemoryFlags {
	return &MemoryFlags{flags: make(map[string]struct{})}
}

// Available always reports true for a constructed store.
func (store *MemoryFlags) Available() bool {
	return store != nil
}

func (store *MemoryFlags) Has(key string) bool {
	if store == nil {
		return false
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	_, ok := store.flags[key]
	return ok
}

func (store *MemoryFlags) Set(key string) {
	if store == nil {
		return
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.flags == nil {
		store.flags = make(map[string]struct{})
	}
	store.flags[key] = struct{}{}
}
