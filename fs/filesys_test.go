package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesysCreateOpenWrite(t *testing.T) {
	fsys := testFs(t, 2048)
	cwd := fsys.MkRootCwd()
	defer fsys.CloseCwd(cwd)

	require.Zero(t, fsys.Create(cwd, "/note.txt", 0))
	f, err := fsys.OpenPath(cwd, "/note.txt")
	require.Zero(t, err)

	n, werr := f.Write([]byte("hello"))
	require.Zero(t, werr)
	assert.Equal(t, 5, n)
	f.Close()

	f2, err := fsys.OpenPath(cwd, "/note.txt")
	require.Zero(t, err)
	buf := make([]byte, 5)
	n, rerr := f2.Read(buf)
	require.Zero(t, rerr)
	assert.Equal(t, "hello", string(buf[:n]))
	f2.Close()
}

func TestFilesysMkdirAndNestedPaths(t *testing.T) {
	fsys := testFs(t, 2048)
	cwd := fsys.MkRootCwd()
	defer fsys.CloseCwd(cwd)

	require.Zero(t, fsys.Mkdir(cwd, "/a"))
	require.Zero(t, fsys.Mkdir(cwd, "/a/b"))
	require.Zero(t, fsys.Create(cwd, "/a/b/leaf.txt", 0))

	f, err := fsys.OpenPath(cwd, "/a/b/leaf.txt")
	require.Zero(t, err)
	f.Close()
}

func TestFilesysChdirRelativePaths(t *testing.T) {
	fsys := testFs(t, 2048)
	cwd := fsys.MkRootCwd()
	defer fsys.CloseCwd(cwd)

	require.Zero(t, fsys.Mkdir(cwd, "/a"))
	require.Zero(t, fsys.Chdir(cwd, "/a"))
	require.Zero(t, fsys.Create(cwd, "rel.txt", 0))

	_, err := fsys.OpenPath(cwd, "/a/rel.txt")
	require.Zero(t, err)
}

func TestFilesysRemoveMissingFails(t *testing.T) {
	fsys := testFs(t, 2048)
	cwd := fsys.MkRootCwd()
	defer fsys.CloseCwd(cwd)

	err := fsys.Remove(cwd, "/nope")
	assert.NotZero(t, err)
}
