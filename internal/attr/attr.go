// Package attr builds kernel-shaped attribute records from remote
// metadata. Every function here is pure: no I/O, no locking, no global
// state, so the Operation Dispatcher and Inode Registry can call them
// freely from inside their own critical sections.
package attr

import (
	"math"
	"os"
	"time"

	"github.com/jacobsa/timeutil"

	"github.com/objectfs/objectfs/internal/remoteclient"
)

// Kind distinguishes the two filetypes objectfs reports. Symlinks,
// hardlinks and other kinds are out of scope.
type Kind int

const (
	KindRegular Kind = iota
	KindDirectory
)

const blockSize = 512

// DefaultFileMode and DefaultDirMode are the permission bits DefaultModes
// returns, i.e. the fallback when a mount configures no --file-mode or
// --dir-mode of its own.
const (
	DefaultFileMode os.FileMode = 0o644
	DefaultDirMode  os.FileMode = 0o755
)

// Modes carries the mount-wide default permission bits projected onto
// every inode whose remote entry supplies no mode of its own, configured
// at mount time via --file-mode/--dir-mode.
type Modes struct {
	File os.FileMode
	Dir  os.FileMode
}

// DefaultModes returns the 0644/0755 fallback used when a mount specifies
// no override.
func DefaultModes() Modes {
	return Modes{File: DefaultFileMode, Dir: DefaultDirMode}
}

// Attrs is the cached attribute snapshot carried by every Registry record.
type Attrs struct {
	Size      uint64
	Mtime     time.Time
	Ctime     time.Time
	Atime     time.Time
	Kind      Kind
	Perm      os.FileMode
	Nlink     uint32
	Uid       uint32
	Gid       uint32
	BlockSize uint32
	Blocks    uint64
}

// Owner carries the uid/gid objectfs projects onto every inode; it is a
// mount-wide constant, not a per-object one (spec: "configured constants").
type Owner struct {
	Uid uint32
	Gid uint32
}

// secondsToTime converts a possibly-fractional epoch timestamp. Malformed
// values (NaN, negative, infinite) fall back to the epoch rather than
// producing a nonsensical time.Time.
func secondsToTime(seconds float64) time.Time {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return time.Unix(0, 0).UTC()
	}
	whole := math.Trunc(seconds)
	frac := seconds - whole
	return time.Unix(int64(whole), int64(frac*float64(time.Second))).UTC()
}

func blocksFor(size uint64) uint64 {
	return (size + blockSize - 1) / blockSize
}

// FromEntry projects a remote directory-listing entry into an Attrs
// record, per the rules: kind from is_dir, perm from the low 9 bits of
// mode (or modes.File/modes.Dir when the remote supplies no mode), nlink 2
// for directories and 1 for files, atime mirrors mtime, blocks derived
// from size.
func FromEntry(e remoteclient.Entry, owner Owner, modes Modes) Attrs {
	kind := KindRegular
	if e.IsDir {
		kind = KindDirectory
	}

	perm := os.FileMode(e.Mode) & 0o777
	if e.Mode == 0 {
		if kind == KindDirectory {
			perm = modes.Dir
		} else {
			perm = modes.File
		}
	}

	nlink := uint32(1)
	if kind == KindDirectory {
		nlink = 2
	}

	mtime := secondsToTime(e.Mtime)

	return Attrs{
		Size:      e.Size,
		Mtime:     mtime,
		Ctime:     secondsToTime(e.Ctime),
		Atime:     mtime,
		Kind:      kind,
		Perm:      perm,
		Nlink:     nlink,
		Uid:       owner.Uid,
		Gid:       owner.Gid,
		BlockSize: blockSize,
		Blocks:    blocksFor(e.Size),
	}
}

// NewFile builds the synthetic Attrs for an object this adapter just
// created via create(parent, name, mode): zero size, the mount's
// configured file mode, timestamps from clock.
func NewFile(clock timeutil.Clock, owner Owner, modes Modes) Attrs {
	now := clock.Now()
	return Attrs{
		Size:      0,
		Mtime:     now,
		Ctime:     now,
		Atime:     now,
		Kind:      KindRegular,
		Perm:      modes.File,
		Nlink:     1,
		Uid:       owner.Uid,
		Gid:       owner.Gid,
		BlockSize: blockSize,
		Blocks:    0,
	}
}

// NewDir builds the synthetic Attrs for a directory this adapter just
// created via mkdir(parent, name, mode).
func NewDir(clock timeutil.Clock, owner Owner, modes Modes) Attrs {
	now := clock.Now()
	return Attrs{
		Size:      0,
		Mtime:     now,
		Ctime:     now,
		Atime:     now,
		Kind:      KindDirectory,
		Perm:      modes.Dir,
		Nlink:     2,
		Uid:       owner.Uid,
		Gid:       owner.Gid,
		BlockSize: blockSize,
		Blocks:    0,
	}
}

// Root builds the synthetic attribute record for inode 1, the mount root,
// which never comes from a remote listing.
func Root(clock timeutil.Clock, owner Owner, modes Modes) Attrs {
	d := NewDir(clock, owner, modes)
	d.Nlink = 2
	return d
}

// WithWrite returns a copy of a updated the way a successful write
// updates the cache: size reflects the new buffer length, mtime advances,
// atime follows mtime (the adapter never tracks access time separately).
func WithWrite(a Attrs, newSize uint64, clock timeutil.Clock) Attrs {
	now := clock.Now()
	a.Size = newSize
	a.Mtime = now
	a.Atime = now
	a.Blocks = blocksFor(newSize)
	return a
}
