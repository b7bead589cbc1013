// Command mkpfs formats a disk image with a fresh filesystem and
// optionally copies a host directory tree into it, mirroring the
// teacher's mkfs utility (src/mkfs/mkfs.go) adapted to this package's
// Format/Create/Mkdir operations.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hwang-pku/pintos/disk"
	"github.com/hwang-pku/pintos/fs"
)

// defaultDiskSectors sizes a fresh image at 8 MiB, matching the
// filesystem's own max file size (spec §6 config).
const defaultDiskSectors = disk.Sector(16384)

func copydata(path string, cwd *fs.Cwd_t, pfs *fs.Fs_t, dst string) {
	srcFile, err := os.Open(path)
	if err != nil {
		panic(err)
	}
	defer srcFile.Close()

	if err := pfs.Create(cwd, dst, 0); err != 0 {
		fmt.Printf("mkpfs: failed to create %v: %v\n", dst, err)
		return
	}
	f, err2 := pfs.OpenPath(cwd, dst)
	if err2 != 0 {
		fmt.Printf("mkpfs: failed to open %v: %v\n", dst, err2)
		return
	}
	defer f.Close()

	buf := make([]byte, 4096)
	for {
		n, rerr := srcFile.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != 0 {
				fmt.Printf("mkpfs: write failed for %v: %v\n", dst, werr)
				return
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			panic(rerr)
		}
	}
}

func addtree(pfs *fs.Fs_t, cwd *fs.Cwd_t, skeldir string) {
	err := filepath.WalkDir(skeldir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			fmt.Printf("mkpfs: failed to access %q: %v\n", path, err)
			return err
		}
		rel := strings.TrimPrefix(path, skeldir)
		if rel == "" {
			return nil
		}
		rel = "/" + strings.TrimPrefix(rel, "/")

		if d.IsDir() {
			if e := pfs.Mkdir(cwd, rel); e != 0 {
				fmt.Printf("mkpfs: failed to create dir %v: %v\n", rel, e)
			}
			return nil
		}
		copydata(path, cwd, pfs, rel)
		return nil
	})
	if err != nil {
		fmt.Printf("mkpfs: error walking %q: %v\n", skeldir, err)
		os.Exit(1)
	}
}

func main() {
	if len(os.Args) < 2 {
		fmt.Printf("Usage: mkpfs <output image> [skel dir]\n")
		os.Exit(1)
	}
	image := os.Args[1]

	d, err := disk.CreateFileDisk(image, defaultDiskSectors)
	if err != nil {
		fmt.Printf("mkpfs: %v\n", err)
		os.Exit(1)
	}

	pfs := fs.Format(d)
	if len(os.Args) >= 3 {
		cwd := pfs.MkRootCwd()
		addtree(pfs, cwd, os.Args[2])
		pfs.CloseCwd(cwd)
	}
	pfs.Shutdown()

	if err := d.Close(); err != nil {
		fmt.Printf("mkpfs: %v\n", err)
		os.Exit(1)
	}
}
