package registry

import "sync/atomic"

// Store holds a *Registry behind an atomic.Pointer so that an optional,
// non-production hot reload (registry.hotReload config key, spec §6) can
// swap in a freshly loaded snapshot without ever taking a lock around live
// reads, per design note 9 ("registries as immutable snapshots... if
// reload is desired, swap the pointer atomically").
type Store struct {
	ptr atomic.Pointer[Registry]
}

// NewStore wraps an already-loaded Registry.
func NewStore(r *Registry) *Store {
	s := &Store{}
	s.ptr.Store(r)
	return s
}

// Current returns the active Registry snapshot.
func (s *Store) Current() *Registry {
	return s.ptr.Load()
}

// Reload loads a fresh Registry from the same basePath and config and
// swaps it in atomically. Callers (a devmode file watcher, an admin
// endpoint) decide when to invoke it; Store itself has no schedule.
func (s *Store) Reload(cfg Config) error {
	current := s.Current()
	r, err := Load(current.basePath, cfg)
	if err != nil {
		return err
	}
	s.ptr.Store(r)
	return nil
}
