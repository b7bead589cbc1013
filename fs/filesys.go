package fs

import (
	"strings"
	"sync"

	"github.com/hwang-pku/pintos/defs"
	"github.com/hwang-pku/pintos/disk"
)

// Cwd_t tracks a process's current working directory, mirroring the
// teacher's fd.Cwd_t (spec §4.5 "per-process current directory").
type Cwd_t struct {
	mu  sync.Mutex
	dir *Dir_t
}

// MkRootCwd returns a Cwd_t rooted at fs's root directory.
func (fs *Fs_t) MkRootCwd() *Cwd_t {
	root, err := fs.OpenDir(RootDirSector)
	if err != 0 {
		panic(err)
	}
	return &Cwd_t{dir: root}
}

// CloneCwd duplicates a Cwd_t for a forked process, bumping the backing
// directory inode's reference count.
func (fs *Fs_t) CloneCwd(cwd *Cwd_t) *Cwd_t {
	cwd.mu.Lock()
	defer cwd.mu.Unlock()
	return &Cwd_t{dir: fs.ReopenDir(cwd.dir)}
}

// Chdir replaces cwd's directory with the one named by path.
func (fs *Fs_t) Chdir(cwd *Cwd_t, path string) defs.Err_t {
	sector, isDir, err := fs.walk(cwd, path)
	if err != 0 {
		return err
	}
	if !isDir {
		return defs.ENOTDIR
	}
	nd, err := fs.OpenDir(sector)
	if err != 0 {
		return err
	}
	cwd.mu.Lock()
	old := cwd.dir
	cwd.dir = nd
	cwd.mu.Unlock()
	fs.CloseDir(old)
	return 0
}

// CloseCwd releases cwd's directory handle.
func (fs *Fs_t) CloseCwd(cwd *Cwd_t) {
	cwd.mu.Lock()
	defer cwd.mu.Unlock()
	fs.CloseDir(cwd.dir)
}

func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// walk resolves path (absolute or relative to cwd) to the sector and
// directory-ness of the named inode.
func (fs *Fs_t) walk(cwd *Cwd_t, path string) (disk.Sector, bool, defs.Err_t) {
	dir, rest, err := fs.walkToParent(cwd, path, false)
	if err != 0 {
		return 0, false, err
	}
	defer fs.CloseDir(dir)

	if len(rest) == 0 {
		return dir.ino.sector, true, 0
	}
	sector, ok := fs.Lookup(dir, rest[len(rest)-1])
	if !ok {
		return 0, false, defs.ENOENT
	}
	ino, err := fs.Open(sector)
	if err != 0 {
		return 0, false, err
	}
	isDir := ino.IsDir()
	fs.Close(ino)
	return sector, isDir, 0
}

// walkToParent opens the directory containing path's final component
// and returns it along with the full split path; the caller is
// responsible for closing the returned handle. With wantParentOnly,
// an empty path (root) is rejected — used by Create/Remove, which
// always need a named final component.
func (fs *Fs_t) walkToParent(cwd *Cwd_t, path string, wantParentOnly bool) (*Dir_t, []string, defs.Err_t) {
	parts := splitPath(path)
	if wantParentOnly && len(parts) == 0 {
		return nil, nil, defs.EINVAL
	}

	var cur *Dir_t
	if strings.HasPrefix(path, "/") {
		root, err := fs.OpenDir(RootDirSector)
		if err != 0 {
			return nil, nil, err
		}
		cur = root
	} else {
		cwd.mu.Lock()
		cur = fs.ReopenDir(cwd.dir)
		cwd.mu.Unlock()
	}

	end := len(parts)
	if end > 0 {
		end--
	}
	for i := 0; i < end; i++ {
		sector, ok := fs.Lookup(cur, parts[i])
		if !ok {
			fs.CloseDir(cur)
			return nil, nil, defs.ENOENT
		}
		nd, err := fs.OpenDir(sector)
		fs.CloseDir(cur)
		if err != 0 {
			return nil, nil, err
		}
		cur = nd
	}
	return cur, parts, 0
}

// Create makes a new regular file of the given initial size at path.
// Any partially-applied allocation is rolled back on failure (spec
// §4.5 "filesys_create unwinds on partial failure").
func (fs *Fs_t) Create(cwd *Cwd_t, path string, initialSize int) defs.Err_t {
	dir, parts, err := fs.walkToParent(cwd, path, true)
	if err != 0 {
		return err
	}
	defer fs.CloseDir(dir)
	name := parts[len(parts)-1]

	sector, ok := fs.freemap.Allocate(1)
	if !ok {
		return defs.ENOSPC
	}
	if err := fs.CreateInode(sector, initialSize, false); err != 0 {
		fs.freemap.Release(sector, 1)
		return err
	}
	if err := fs.Add(dir, name, sector, false); err != 0 {
		ino, oerr := fs.Open(sector)
		if oerr == 0 {
			ino.MarkRemoved()
			fs.Close(ino)
		} else {
			fs.freemap.Release(sector, 1)
		}
		return err
	}
	return 0
}

// Mkdir creates a new, empty subdirectory at path.
func (fs *Fs_t) Mkdir(cwd *Cwd_t, path string) defs.Err_t {
	dir, parts, err := fs.walkToParent(cwd, path, true)
	if err != 0 {
		return err
	}
	defer fs.CloseDir(dir)
	name := parts[len(parts)-1]

	sector, ok := fs.freemap.Allocate(1)
	if !ok {
		return defs.ENOSPC
	}
	if err := fs.CreateDir(sector, 0); err != 0 {
		fs.freemap.Release(sector, 1)
		return err
	}
	if err := fs.Add(dir, name, sector, true); err != 0 {
		ino, oerr := fs.Open(sector)
		if oerr == 0 {
			ino.MarkRemoved()
			fs.Close(ino)
		} else {
			fs.freemap.Release(sector, 1)
		}
		return err
	}
	return 0
}

// OpenPath opens the file or directory named by path as a File_t.
func (fs *Fs_t) OpenPath(cwd *Cwd_t, path string) (*File_t, defs.Err_t) {
	sector, _, err := fs.walk(cwd, path)
	if err != 0 {
		return nil, err
	}
	ino, err := fs.Open(sector)
	if err != 0 {
		return nil, err
	}
	return &File_t{fs: fs, ino: ino}, 0
}

// Remove unlinks the file or empty directory named by path.
func (fs *Fs_t) Remove(cwd *Cwd_t, path string) defs.Err_t {
	dir, parts, err := fs.walkToParent(cwd, path, true)
	if err != 0 {
		return err
	}
	defer fs.CloseDir(dir)
	name := parts[len(parts)-1]
	return fs.RemoveEntry(dir, name)
}
