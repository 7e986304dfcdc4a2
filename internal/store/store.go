// Package store implements the Crate Store: a dense arena of loaded crate
// metadata plus a side index from content identity to arena slot, shared by
// every reader during resolution and frozen read-only once resolution
// completes.
package store

import (
	"fmt"
	"sync"

	"github.com/crateload/crateload/internal/crate"
)

// Store is the arena of every crate loaded during one compilation session.
// crate.LocalCrate (Num 0) always refers to the crate being compiled and is
// never present in the arena; external crates occupy Num 1..N in load
// order.
//
// Many readers may consult a Store concurrently while it is being built
// (the resolver recurses into dependencies, and proc-macro loading may run
// on its own goroutine); Freeze ends that phase, after which Set panics.
// Reads take the read lock before and after Freeze alike.
type Store struct {
	mu      sync.RWMutex
	metas   []*crate.Metadata
	byStable map[crate.StableID]crate.Num
	frozen  bool

	localStableID    crate.StableID
	hasLocalStableID bool

	allocatorKind         crate.AllocatorKind
	allocErrorHandlerKind crate.AllocatorKind
	injectedPanicRuntime  *crate.Num
	unusedExternRecord    []string
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		byStable: make(map[crate.StableID]crate.Num),
	}
}

// Has reports whether num has metadata recorded.
func (s *Store) Has(num crate.Num) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.has(num)
}

func (s *Store) has(num crate.Num) bool {
	idx := int(num) - 1
	return idx >= 0 && idx < len(s.metas) && s.metas[idx] != nil
}

// Get returns the metadata for num, or nil if none has been set.
func (s *Store) Get(num crate.Num) *crate.Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := int(num) - 1
	if idx < 0 || idx >= len(s.metas) {
		return nil
	}
	return s.metas[idx]
}

// Lookup returns the Num previously interned for id, if any.
func (s *Store) Lookup(id crate.StableID) (crate.Num, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	num, ok := s.byStable[id]
	return num, ok
}

// SetLocalStableID records the StableID of the crate currently being
// compiled, so Intern can recognize a dependency whose identity collides
// with the local unit's own rather than with another loaded crate.
func (s *Store) SetLocalStableID(id crate.StableID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localStableID = id
	s.hasLocalStableID = true
}

// Intern returns the Num for id, allocating a fresh arena slot (with no
// metadata yet) on first sight. This mirrors intern_stable_crate_id: the
// side-map assignment is separate from, and always precedes, metadata
// assignment, since a crate's Num must be knowable to build its own
// dependents' NumMaps before its own metadata has finished loading.
//
// Two collisions are reported rather than silently resolved: id matching
// the local crate's own identity is ErrSymbolConflictsCurrent, and id
// already interned under a different crate name is ErrStableIDCollision.
// A repeated Intern for an id still awaiting its Set call (in-flight
// recursive resolution of the same crate) is assumed to be that same
// crate reappearing and is reused, not flagged.
func (s *Store) Intern(id crate.StableID, name string) (crate.Num, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasLocalStableID && id == s.localStableID {
		return 0, crate.NewError(crate.ErrSymbolConflictsCurrent, name, "stable_crate_id collides with the crate currently being compiled")
	}

	if num, ok := s.byStable[id]; ok {
		if existing := s.nameForLocked(num); existing != "" && existing != name {
			return 0, crate.NewError(crate.ErrStableIDCollision, name, fmt.Sprintf("stable_crate_id collides with already-loaded crate %q", existing))
		}
		return num, nil
	}
	s.metas = append(s.metas, nil)
	num := crate.Num(len(s.metas))
	s.byStable[id] = num
	return num, nil
}

func (s *Store) nameForLocked(num crate.Num) string {
	idx := int(num) - 1
	if idx < 0 || idx >= len(s.metas) || s.metas[idx] == nil {
		return ""
	}
	return s.metas[idx].Name
}

// Set records metadata for num. It panics if num already has metadata
// recorded: overwriting an already-registered crate's metadata is a bug in
// the caller, not a recoverable condition, matching the original
// CStore::set_crate_data assertion.
func (s *Store) Set(num crate.Num, meta *crate.Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		panic("store: Set called after Freeze")
	}
	if s.has(num) {
		panic("store: overwriting crate metadata entry for " + num.String())
	}
	idx := int(num) - 1
	if idx < 0 {
		panic("store: cannot set metadata for the local crate")
	}
	for idx >= len(s.metas) {
		s.metas = append(s.metas, nil)
	}
	s.metas[idx] = meta
}

// Freeze ends the write phase. After Freeze, Set panics; Get/Has/Lookup/All
// remain valid and still take the read lock, matching the "frozen read-only
// after construction" design of the store.
func (s *Store) Freeze() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = true
}

// Frozen reports whether Freeze has been called.
func (s *Store) Frozen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frozen
}

// All calls fn for every Num with metadata recorded, in ascending Num
// order. fn must not call Set.
func (s *Store) All(fn func(crate.Num, *crate.Metadata)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i, m := range s.metas {
		if m != nil {
			fn(crate.Num(i+1), m)
		}
	}
}

// Find returns the first crate matching pred, in ascending Num order.
func (s *Store) Find(pred func(crate.Num, *crate.Metadata) bool) (crate.Num, *crate.Metadata, bool) {
	var (
		found crate.Num
		meta  *crate.Metadata
		ok    bool
	)
	s.All(func(n crate.Num, m *crate.Metadata) {
		if ok {
			return
		}
		if pred(n, m) {
			found, meta, ok = n, m, true
		}
	})
	return found, meta, ok
}

// DependenciesPostorder returns the transitive dependency set of num, each
// crate appearing exactly once, ordered so that every crate appears before
// any crate that depends on it (postorder over the dependency DAG: leaves
// first). This is the order the linker needs things in, and the order the
// Runtime Injector walks the graph in when looking for role-bearing crates.
//
// Called with crate.LocalCrate, whose own Metadata row never exists, it
// walks every crate loaded into the Store instead: the local unit is
// conceptually the root of the whole graph, so "its" transitive
// dependencies are simply everything loaded.
func (s *Store) DependenciesPostorder(num crate.Num) []crate.Num {
	var (
		order   []crate.Num
		visited = map[crate.Num]bool{}
	)
	var visit func(crate.Num)
	visit = func(n crate.Num) {
		if visited[n] {
			return
		}
		visited[n] = true
		meta := s.Get(n)
		if meta == nil {
			return
		}
		for _, dep := range meta.Deps {
			if depNum, ok := s.Lookup(dep.StableID); ok {
				visit(depNum)
			}
		}
		order = append(order, n)
	}
	if num == crate.LocalCrate {
		s.All(func(n crate.Num, _ *crate.Metadata) {
			visit(n)
		})
		return order
	}
	visit(num)
	return order
}

// AllocatorKind returns the allocator kind recorded by the Runtime Injector,
// or AllocatorNone if injection has not run or nothing needed an allocator.
func (s *Store) AllocatorKind() crate.AllocatorKind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allocatorKind
}

// SetAllocatorKind records which kind of allocator was selected.
func (s *Store) SetAllocatorKind(k crate.AllocatorKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allocatorKind = k
}

// AllocErrorHandlerKind returns the allocator kind that supplied the
// alloc-error handler, or AllocatorNone if none was selected.
func (s *Store) AllocErrorHandlerKind() crate.AllocatorKind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allocErrorHandlerKind
}

// SetAllocErrorHandlerKind records which kind of crate supplied the
// alloc-error handler.
func (s *Store) SetAllocErrorHandlerKind(k crate.AllocatorKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allocErrorHandlerKind = k
}

// InjectedPanicRuntime returns the Num the Runtime Injector chose as the
// panic runtime, if injection selected one.
func (s *Store) InjectedPanicRuntime() (crate.Num, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.injectedPanicRuntime == nil {
		return 0, false
	}
	return *s.injectedPanicRuntime, true
}

// SetInjectedPanicRuntime records which crate was selected as the panic
// runtime.
func (s *Store) SetInjectedPanicRuntime(num crate.Num) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := num
	s.injectedPanicRuntime = &n
}

// UnusedExternRecord returns the names reported unused by the
// Unused-Dependency Reporter's last run, if any.
func (s *Store) UnusedExternRecord() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unusedExternRecord
}

// SetUnusedExternRecord records the names reported unused.
func (s *Store) SetUnusedExternRecord(names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unusedExternRecord = names
}
