// Package registry implements the Inode Registry: the in-memory
// bidirectional mapping between kernel inode numbers and absolute paths,
// plus each inode's cached attribute snapshot.
//
// Every mutating operation, and every operation that touches more than one
// field, executes under a single jacobsa/syncutil.InvariantMutex, the way
// the teacher's fileSystem.mu guards its own inode maps. That gives the
// two directions (ino->record and path->ino) lockstep consistency without
// a reader needing to reason about partial updates.
package registry

import (
	"fmt"

	"github.com/jacobsa/syncutil"

	"github.com/objectfs/objectfs/internal/attr"
)

// RootInodeID is reserved for the mount root; it always names path "/"
// and is present from construction.
const RootInodeID uint64 = 1

// Record is one entry of the Registry: an inode, the path it currently
// names, and its cached attributes.
type Record struct {
	Ino   uint64
	Path  string
	Attrs attr.Attrs
}

// Registry is the Inode Registry component.
type Registry struct {
	mu syncutil.InvariantMutex

	// GUARDED_BY(mu)
	nextIno uint64
	// GUARDED_BY(mu)
	byIno map[uint64]*Record
	// GUARDED_BY(mu)
	byPath map[string]uint64
}

// New builds a Registry with only the root inode present, per (I2).
func New(rootAttrs attr.Attrs) *Registry {
	r := &Registry{
		nextIno: RootInodeID + 1,
		byIno:   make(map[uint64]*Record),
		byPath:  make(map[string]uint64),
	}
	r.mu = syncutil.NewInvariantMutex(r.checkInvariants)
	r.byIno[RootInodeID] = &Record{Ino: RootInodeID, Path: "/", Attrs: rootAttrs}
	r.byPath["/"] = RootInodeID

	r.mu.Lock()
	r.mu.Unlock()
	return r
}

// checkInvariants panics if (I1)-(I4) are violated. Called with mu held.
func (r *Registry) checkInvariants() {
	if len(r.byIno) != len(r.byPath) {
		panic(fmt.Sprintf("registry: map size mismatch: %d inodes, %d paths", len(r.byIno), len(r.byPath)))
	}
	for path, ino := range r.byPath {
		rec, ok := r.byIno[ino]
		if !ok {
			panic(fmt.Sprintf("registry: path %q maps to unknown inode %d", path, ino))
		}
		if rec.Path != path {
			panic(fmt.Sprintf("registry: inode %d record path %q disagrees with path map key %q", ino, rec.Path, path))
		}
	}
	root, ok := r.byIno[RootInodeID]
	if !ok || root.Path != "/" {
		panic("registry: root inode missing or renamed")
	}
	if r.nextIno <= RootInodeID {
		panic("registry: nextIno has not advanced past the root")
	}
	for ino := range r.byIno {
		if ino >= r.nextIno {
			panic(fmt.Sprintf("registry: inode %d is not below nextIno %d", ino, r.nextIno))
		}
	}
}

// Intern returns the inode for path, allocating a new one and recording
// attrs if path is not yet known, or overwriting the cached attrs of the
// existing inode otherwise.
func (r *Registry) Intern(path string, attrs attr.Attrs) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ino, ok := r.byPath[path]; ok {
		r.byIno[ino].Attrs = attrs
		return ino
	}

	ino := r.nextIno
	r.nextIno++
	r.byIno[ino] = &Record{Ino: ino, Path: path, Attrs: attrs}
	r.byPath[path] = ino
	return ino
}

// LookupByIno returns a snapshot copy of the record for ino, if known.
func (r *Registry) LookupByIno(ino uint64) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byIno[ino]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// LookupByPath returns the inode currently naming path, if any.
func (r *Registry) LookupByPath(path string) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ino, ok := r.byPath[path]
	return ino, ok
}

// UpdateAttrs atomically mutates the cached attribute record for ino by
// calling mutator with the current attrs and storing what it returns. It
// is a no-op if ino is unknown.
func (r *Registry) UpdateAttrs(ino uint64, mutator func(attr.Attrs) attr.Attrs) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byIno[ino]
	if !ok {
		return
	}
	rec.Attrs = mutator(rec.Attrs)
}

// Rekey updates both directions atomically when oldPath is renamed to
// newPath. It is a no-op returning (0, false) if oldPath is unknown.
// Any existing record at newPath is dropped from both directions (the
// remote side has already performed the equivalent replace-on-rename at
// the point this is called).
func (r *Registry) Rekey(oldPath, newPath string) (ino uint64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ino, ok = r.byPath[oldPath]
	if !ok {
		return 0, false
	}

	if displacedIno, displaced := r.byPath[newPath]; displaced && displacedIno != ino {
		delete(r.byIno, displacedIno)
	}

	delete(r.byPath, oldPath)
	r.byPath[newPath] = ino
	r.byIno[ino].Path = newPath
	return ino, true
}

// Forget removes both directions for path, if present.
func (r *Registry) Forget(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ino, ok := r.byPath[path]
	if !ok {
		return
	}
	delete(r.byPath, path)
	delete(r.byIno, ino)
}

// ForgetInode drops the record for ino outright, the way the kernel's
// FORGET callback instructs: the kernel will never reference this inode
// number again regardless of what path it last named.
func (r *Registry) ForgetInode(ino uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byIno[ino]
	if !ok {
		return
	}
	delete(r.byIno, ino)
	if r.byPath[rec.Path] == ino {
		delete(r.byPath, rec.Path)
	}
}

// RekeyDescendants rewrites the cached path of every record whose path
// lies under oldPrefix (a directory being renamed) to the same relative
// path under newPrefix. This implements design-note strategy (a): walk
// and rewrite every descendant under the same critical section, chosen
// over accepting TTL-bounded staleness because the Registry already pays
// for a full-map scan on every rename of a directory with any cached
// children, and doing so here keeps the tree correct immediately instead
// of relying on kernel re-lookup.
func (r *Registry) RekeyDescendants(oldPrefix, newPrefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := oldPrefix + "/"
	type move struct {
		ino     uint64
		oldPath string
		newPath string
	}
	var moves []move
	for path, ino := range r.byPath {
		if len(path) > len(prefix) && path[:len(prefix)] == prefix {
			moves = append(moves, move{ino: ino, oldPath: path, newPath: newPrefix + path[len(oldPrefix):]})
		}
	}
	for _, m := range moves {
		delete(r.byPath, m.oldPath)
		r.byPath[m.newPath] = m.ino
		r.byIno[m.ino].Path = m.newPath
	}
}
