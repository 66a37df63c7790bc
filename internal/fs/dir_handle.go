// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fs

import (
	"context"
	"sync"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/objectfs/objectfs/internal/attr"
)

// dirHandle backs one OpenDir/ReadDir/ReleaseDirHandle lifecycle. It
// holds the listing fetched once at the first ReadDir call, treating the
// virtual entry sequence [".", "..", e0, e1, ...] as the resumption
// cursor's address space: entry k's Offset field (the "next offset" the
// kernel will pass back in) is k+1, so a request at offset o resumes at
// virtual index o.
type dirHandle struct {
	path string

	// Mu serializes access to this handle's own state. Distinct from the
	// fileSystem-wide handle-table lock: once a caller holds a specific
	// dirHandle (looked up from the table under that lock, then
	// released), only this handle's own entries/loaded fields need
	// protecting against concurrent ReadDir calls on the same handle.
	Mu sync.Mutex

	// GUARDED_BY(Mu)
	loaded bool
	// GUARDED_BY(Mu)
	entries []fuseops.Dirent
}

func newDirHandle(path string) *dirHandle {
	return &dirHandle{path: path}
}

// lastSlash returns the index of the final "/" in a non-root path, used
// to find the parent path for the synthetic ".." entry.
func lastSlash(path string) int {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return i
		}
	}
	return -1
}

// ensureLoaded fetches and interns the remote listing exactly once per
// handle lifetime: readdir's contract is a single consistent snapshot of
// the directory for the duration of one listing pass.
func (dh *dirHandle) ensureLoaded(ctx context.Context, fs *fileSystem) error {
	if dh.loaded {
		return nil
	}

	remoteEntries, err := fs.remote.List(ctx, dh.path)
	if err != nil {
		return err
	}

	selfIno, _ := fs.reg.LookupByPath(dh.path)
	parentIno := selfIno
	if dh.path != "/" {
		if i := lastSlash(dh.path); i > 0 {
			if pIno, ok := fs.reg.LookupByPath(dh.path[:i]); ok {
				parentIno = pIno
			}
		} else if pIno, ok := fs.reg.LookupByPath("/"); ok {
			parentIno = pIno
		}
	}

	entries := make([]fuseops.Dirent, 0, len(remoteEntries)+2)
	entries = append(entries,
		fuseops.Dirent{Offset: 1, Inode: fuseops.InodeID(selfIno), Type: fuseutil.DT_Directory, Name: "."},
		fuseops.Dirent{Offset: 2, Inode: fuseops.InodeID(parentIno), Type: fuseutil.DT_Directory, Name: ".."},
	)

	for i, e := range remoteEntries {
		childP := childPath(dh.path, e.Name)
		a := attr.FromEntry(e, fs.owner, fs.modes)
		ino := fs.reg.Intern(childP, a)

		dtype := fuseutil.DT_File
		if e.IsDir {
			dtype = fuseutil.DT_Directory
		}

		entries = append(entries, fuseops.Dirent{
			Offset: fuseops.DirOffset(i + 3),
			Inode:  fuseops.InodeID(ino),
			Name:   e.Name,
			Type:   dtype,
		})
	}

	dh.entries = entries
	dh.loaded = true
	return nil
}

// writeEntries serializes entries starting at virtual index offset into
// dst using fuseutil.WriteDirent, stopping (without error) when an entry
// would not fit, per the "stop on buffer-full, not an error" contract.
func (dh *dirHandle) writeEntries(dst []byte, offset fuseops.DirOffset) (int, error) {
	start := int(offset)
	if start > len(dh.entries) {
		start = len(dh.entries)
	}

	n := 0
	for _, e := range dh.entries[start:] {
		written := fuseutil.WriteDirent(dst[n:], e)
		if written == 0 {
			break
		}
		n += written
	}
	return n, nil
}
