package attr

import (
	"os"
	"testing"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/objectfs/objectfs/internal/remoteclient"
)

type AttrTest struct {
	suite.Suite
	owner Owner
	modes Modes
	clock timeutil.SimulatedClock
}

func TestAttrSuite(t *testing.T) {
	suite.Run(t, new(AttrTest))
}

func (t *AttrTest) SetupTest() {
	t.owner = Owner{Uid: 501, Gid: 20}
	t.modes = DefaultModes()
	t.clock.SetTime(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
}

func (t *AttrTest) TestFromEntryDirectoryDefaults() {
	a := FromEntry(remoteclient.Entry{Name: "d", IsDir: true, Size: 0, Mode: 0}, t.owner, t.modes)

	assert.Equal(t.T(), KindDirectory, a.Kind)
	assert.Equal(t.T(), DefaultDirMode, a.Perm)
	assert.Equal(t.T(), uint32(2), a.Nlink)
	assert.Equal(t.T(), uint32(501), a.Uid)
}

func (t *AttrTest) TestFromEntryFileDefaults() {
	a := FromEntry(remoteclient.Entry{Name: "f", IsDir: false, Size: 10, Mode: 0}, t.owner, t.modes)

	assert.Equal(t.T(), KindRegular, a.Kind)
	assert.Equal(t.T(), DefaultFileMode, a.Perm)
	assert.Equal(t.T(), uint32(1), a.Nlink)
}

func (t *AttrTest) TestFromEntryUsesConfiguredModesWhenRemoteSuppliesNone() {
	modes := Modes{File: 0o640, Dir: 0o750}

	f := FromEntry(remoteclient.Entry{Name: "f", IsDir: false, Mode: 0}, t.owner, modes)
	d := FromEntry(remoteclient.Entry{Name: "d", IsDir: true, Mode: 0}, t.owner, modes)

	assert.Equal(t.T(), os.FileMode(0o640), f.Perm)
	assert.Equal(t.T(), os.FileMode(0o750), d.Perm)
}

func (t *AttrTest) TestFromEntryUsesLow9BitsOfMode() {
	a := FromEntry(remoteclient.Entry{Name: "f", IsDir: false, Mode: 0o100644}, t.owner, t.modes)

	assert.Equal(t.T(), os.FileMode(0o644), a.Perm)
}

func (t *AttrTest) TestFromEntryAtimeMirrorsMtime() {
	a := FromEntry(remoteclient.Entry{Name: "f", Mtime: 1000}, t.owner, t.modes)

	assert.True(t.T(), a.Atime.Equal(a.Mtime))
}

func (t *AttrTest) TestFromEntryMalformedTimeFallsBackToEpoch() {
	a := FromEntry(remoteclient.Entry{Name: "f", Mtime: -5}, t.owner, t.modes)

	assert.Equal(t.T(), int64(0), a.Mtime.Unix())
}

func (t *AttrTest) TestBlocksRoundsUp() {
	a := FromEntry(remoteclient.Entry{Name: "f", Size: 513}, t.owner, t.modes)

	assert.Equal(t.T(), uint64(2), a.Blocks)
	assert.Equal(t.T(), uint32(512), a.BlockSize)
}

func (t *AttrTest) TestNewFileAndNewDirUseClock() {
	f := NewFile(&t.clock, t.owner, t.modes)
	d := NewDir(&t.clock, t.owner, t.modes)

	assert.Equal(t.T(), t.clock.Now(), f.Mtime)
	assert.Equal(t.T(), uint32(1), f.Nlink)
	assert.Equal(t.T(), uint32(2), d.Nlink)
	assert.Equal(t.T(), uint64(0), f.Size)
}

func (t *AttrTest) TestNewFileAndNewDirUseConfiguredModes() {
	modes := Modes{File: 0o600, Dir: 0o700}

	f := NewFile(&t.clock, t.owner, modes)
	d := NewDir(&t.clock, t.owner, modes)

	assert.Equal(t.T(), os.FileMode(0o600), f.Perm)
	assert.Equal(t.T(), os.FileMode(0o700), d.Perm)
}

func (t *AttrTest) TestWithWriteUpdatesSizeAndTimes() {
	before := NewFile(&t.clock, t.owner, t.modes)
	t.clock.AdvanceTime(time.Second)

	after := WithWrite(before, 11, &t.clock)

	assert.Equal(t.T(), uint64(11), after.Size)
	assert.True(t.T(), after.Mtime.After(before.Mtime))
	assert.Equal(t.T(), uint64(1), after.Blocks)
}
