package fs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/objectfs/objectfs/internal/attr"
	"github.com/objectfs/objectfs/internal/registry"
	"github.com/objectfs/objectfs/internal/remoteclient"
)

// fsFixture wires a fileSystem directly against an httptest server
// standing in for the remote storage service, bypassing the kernel
// bridge entirely so Dispatcher methods can be called and asserted on
// directly, the way gcsfuse's own fs_test.go drives fileSystem methods
// against a fake bucket.
type fsFixture struct {
	suite.Suite
	server *httptest.Server
	mux    *http.ServeMux
	fsys   *fileSystem
	clock  timeutil.SimulatedClock
	ctx    context.Context
}

func TestFsSuite(t *testing.T) {
	suite.Run(t, new(fsFixture))
}

// newTestFileSystem builds a bare *fileSystem, bypassing NewServer's
// fuseutil.NewFileSystemServer wrapping so tests can call Dispatcher
// methods directly and inspect fsys.reg, the way gcsfuse's own
// fs_test.go reaches into fileSystem internals rather than going through
// the fuse.Server interface.
func newTestFileSystem(clock timeutil.Clock, remote *remoteclient.Client, owner attr.Owner) *fileSystem {
	modes := attr.DefaultModes()
	fsys := &fileSystem{
		clock:      clock,
		remote:     remote,
		owner:      owner,
		modes:      modes,
		ttl:        time.Second,
		reg:        registry.New(attr.Root(clock, owner, modes)),
		dirHandles: make(map[fuseops.HandleID]*dirHandle),
	}
	fsys.mu = syncutil.NewInvariantMutex(fsys.checkInvariants)
	return fsys
}

func (t *fsFixture) SetupTest() {
	t.mux = http.NewServeMux()
	t.server = httptest.NewServer(t.mux)
	t.clock.SetTime(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	t.ctx = context.Background()

	remote := remoteclient.New(remoteclient.Config{BaseURL: t.server.URL})
	t.fsys = newTestFileSystem(&t.clock, remote, attr.Owner{Uid: 1000, Gid: 1000})
}

func (t *fsFixture) TearDownTest() {
	t.server.Close()
}

func (t *fsFixture) jsonList(pattern string, entries []remoteclient.Entry) {
	t.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"entries": entries})
	})
}

func (t *fsFixture) TestScenario1FreshFileRoundTrip() {
	var stored []byte
	t.mux.HandleFunc("/files/a.txt", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			buf := make([]byte, r.ContentLength)
			r.Body.Read(buf)
			stored = buf
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			w.Write(stored)
		}
	})

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "a.txt"}
	require.NoError(t.T(), t.fsys.CreateFile(t.ctx, createOp))
	ino := createOp.Entry.Child

	writeOp := &fuseops.WriteFileOp{Inode: ino, Offset: 0, Data: []byte("hello")}
	require.NoError(t.T(), t.fsys.WriteFile(t.ctx, writeOp))

	readOp := &fuseops.ReadFileOp{Inode: ino, Offset: 0, Dst: make([]byte, 5)}
	require.NoError(t.T(), t.fsys.ReadFile(t.ctx, readOp))
	require.Equal(t.T(), "hello", string(readOp.Dst[:readOp.BytesRead]))

	attrOp := &fuseops.GetInodeAttributesOp{Inode: ino}
	require.NoError(t.T(), t.fsys.GetInodeAttributes(t.ctx, attrOp))
	require.Equal(t.T(), uint64(5), attrOp.Attributes.Size)
}

func (t *fsFixture) TestScenario2SparseWriteExtension() {
	var stored []byte
	t.mux.HandleFunc("/files/a.txt", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			buf := make([]byte, r.ContentLength)
			r.Body.Read(buf)
			stored = buf
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			w.Write(stored)
		}
	})

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "a.txt"}
	require.NoError(t.T(), t.fsys.CreateFile(t.ctx, createOp))
	ino := createOp.Entry.Child

	require.NoError(t.T(), t.fsys.WriteFile(t.ctx, &fuseops.WriteFileOp{Inode: ino, Offset: 0, Data: []byte("hello")}))
	require.NoError(t.T(), t.fsys.WriteFile(t.ctx, &fuseops.WriteFileOp{Inode: ino, Offset: 10, Data: []byte("!")}))

	readOp := &fuseops.ReadFileOp{Inode: ino, Offset: 0, Dst: make([]byte, 11)}
	require.NoError(t.T(), t.fsys.ReadFile(t.ctx, readOp))
	want := "hello\x00\x00\x00\x00\x00!"
	require.Equal(t.T(), want, string(readOp.Dst[:readOp.BytesRead]))
}

func (t *fsFixture) TestScenario4LookupMiss() {
	t.jsonList("/list/", nil)

	op := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "missing"}
	err := t.fsys.LookUpInode(t.ctx, op)
	require.Equal(t.T(), fuse.ENOENT, err)
}

func (t *fsFixture) TestScenario5RenameSuccess() {
	t.mux.HandleFunc("/files/a.txt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	t.mux.HandleFunc("/rename", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "a.txt"}
	require.NoError(t.T(), t.fsys.CreateFile(t.ctx, createOp))

	renameOp := &fuseops.RenameOp{
		OldParent: fuseops.RootInodeID, OldName: "a.txt",
		NewParent: fuseops.RootInodeID, NewName: "b.txt",
	}
	require.NoError(t.T(), t.fsys.Rename(t.ctx, renameOp))

	_, stillThere := t.fsys.reg.LookupByPath("/a.txt")
	require.False(t.T(), stillThere)

	movedIno, ok := t.fsys.reg.LookupByPath("/b.txt")
	require.True(t.T(), ok)
	require.Equal(t.T(), uint64(createOp.Entry.Child), movedIno)
}

func (t *fsFixture) TestScenario6RemoteOutageSurfacesIOError() {
	t.server.Close() // now unreachable

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "a.txt"}
	err := t.fsys.CreateFile(t.ctx, createOp)
	require.Equal(t.T(), fuse.EIO, err)
}

// TestCreateFileOn404SurfacesIOErrorNotNotFound exercises §7's override for
// create: a remote-side 404 on the creating write still reports EIO, not
// ENOENT, unlike the generic Kind table MkDir/Unlink/RmDir/Rename/ReadDir
// use.
func (t *fsFixture) TestCreateFileOn404SurfacesIOErrorNotNotFound() {
	t.mux.HandleFunc("/files/a.txt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "a.txt"}
	err := t.fsys.CreateFile(t.ctx, createOp)
	require.Equal(t.T(), fuse.EIO, err)
}

// TestReadFileOn404SurfacesIOErrorNotNotFound covers the same override for
// read: an inode that is cached but whose backing object was deleted out
// from under the mount reports EIO on read, never ENOENT.
func (t *fsFixture) TestReadFileOn404SurfacesIOErrorNotNotFound() {
	t.mux.HandleFunc("/files/a.txt", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "a.txt"}
	require.NoError(t.T(), t.fsys.CreateFile(t.ctx, createOp))

	readOp := &fuseops.ReadFileOp{Inode: createOp.Entry.Child, Offset: 0, Dst: make([]byte, 5)}
	err := t.fsys.ReadFile(t.ctx, readOp)
	require.Equal(t.T(), fuse.EIO, err)
}

// TestWriteFileOn404SurfacesIOErrorNotNotFound covers the override for
// write's final PUT. The initial read also 404s (tolerated, per write's
// own read-failure-as-empty-file rule), so only the final write's failure
// is under test here.
func (t *fsFixture) TestWriteFileOn404SurfacesIOErrorNotNotFound() {
	var created bool
	t.mux.HandleFunc("/files/a.txt", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			if !created {
				created = true
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusNotFound)
		case http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "a.txt"}
	require.NoError(t.T(), t.fsys.CreateFile(t.ctx, createOp))

	writeOp := &fuseops.WriteFileOp{Inode: createOp.Entry.Child, Offset: 0, Data: []byte("x")}
	err := t.fsys.WriteFile(t.ctx, writeOp)
	require.Equal(t.T(), fuse.EIO, err)
}

// TestLookUpInodeRejectsNonUTF8Name exercises the invalid-name error kind
// (§7): a name that cannot be expressed as text on the wire resolves to
// ENOENT without ever reaching the Remote Client.
func (t *fsFixture) TestLookUpInodeRejectsNonUTF8Name() {
	op := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "bad-\xff-name"}
	err := t.fsys.LookUpInode(t.ctx, op)
	require.Equal(t.T(), fuse.ENOENT, err)
}

func (t *fsFixture) TestP7ReaddirEmitsDotDotDotThenEntries() {
	t.mux.HandleFunc("/mkdir/dir", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mkdirOp := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "dir"}
	require.NoError(t.T(), t.fsys.MkDir(t.ctx, mkdirOp))
	dirIno := mkdirOp.Entry.Child

	t.jsonList("/list/dir", []remoteclient.Entry{{Name: "x"}, {Name: "y"}})

	openOp := &fuseops.OpenDirOp{Inode: dirIno}
	require.NoError(t.T(), t.fsys.OpenDir(t.ctx, openOp))

	readOp := &fuseops.ReadDirOp{Inode: dirIno, Handle: openOp.Handle, Offset: 0, Dst: make([]byte, 4096)}
	require.NoError(t.T(), t.fsys.ReadDir(t.ctx, readOp))
	require.Greater(t.T(), readOp.BytesRead, 0)

	dh := t.fsys.dirHandles[openOp.Handle]
	require.Len(t.T(), dh.entries, 4)
	for i, want := range []string{".", "..", "x", "y"} {
		require.Equal(t.T(), want, dh.entries[i].Name)
		require.Equal(t.T(), fuseops.DirOffset(i+1), dh.entries[i].Offset)
	}
}

func (t *fsFixture) TestUnlinkRemovesFromRegistry() {
	t.mux.HandleFunc("/files/a.txt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	createOp := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "a.txt"}
	require.NoError(t.T(), t.fsys.CreateFile(t.ctx, createOp))

	require.NoError(t.T(), t.fsys.Unlink(t.ctx, &fuseops.UnlinkOp{Parent: fuseops.RootInodeID, Name: "a.txt"}))

	_, ok := t.fsys.reg.LookupByPath("/a.txt")
	require.False(t.T(), ok)
}
