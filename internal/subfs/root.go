//go:build linux
// +build linux

package subfs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// virtual extensions offered per source clip.
var virtualExts = []string{"stl", "t42"}

// Root is the filesystem root over one source directory.
type Root struct {
	fs.Inode
	SrcDir           string
	CacheDir         string
	ClearDelayFrames int
}

var _ fs.NodeReaddirer = (*Root)(nil)
var _ fs.NodeLookuper = (*Root)(nil)

// clips returns the base names (without extension) of the source MXF
// files, re-read per call so new captures appear without a remount.
func (r *Root) clips() []string {
	entries, err := os.ReadDir(r.SrcDir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".mxf") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
	}
	return names
}

func (r *Root) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	var entries []fuse.DirEntry
	for _, base := range r.clips() {
		for _, ext := range virtualExts {
			name := base + "." + ext
			entries = append(entries, fuse.DirEntry{
				Name: name,
				Ino:  r.ino("file:" + name),
				Mode: fuse.S_IFREG | 0444,
			})
		}
	}
	return fs.NewListDirStream(entries), 0
}

func (r *Root) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	if _, ok := outputFormat(ext); !ok {
		return nil, syscall.ENOENT
	}
	base := strings.TrimSuffix(name, filepath.Ext(name))
	srcPath := filepath.Join(r.SrcDir, base+".mxf")
	if _, err := os.Stat(srcPath); err != nil {
		return nil, syscall.ENOENT
	}
	child := &SubtitleFileNode{Root: r, SrcPath: srcPath, Ext: ext}
	ch := r.NewInode(ctx, child, fs.StableAttr{
		Mode: fuse.S_IFREG,
		Ino:  r.ino("file:" + name),
	})
	out.Mode = fuse.S_IFREG | 0444
	out.SetEntryTimeout(1 * time.Second)
	out.SetAttrTimeout(1 * time.Second)
	return ch, 0
}

func (r *Root) ino(key string) uint64 {
	return inoFromString("subfs:" + key)
}

// SubtitleFileNode is one virtual extraction output.
type SubtitleFileNode struct {
	fs.Inode
	Root    *Root
	SrcPath string
	Ext     string
}

var _ fs.NodeGetattrer = (*SubtitleFileNode)(nil)
var _ fs.NodeOpener = (*SubtitleFileNode)(nil)
var _ fs.NodeReader = (*SubtitleFileNode)(nil)

// Getattr reports the cached size when the extraction already ran; a
// small placeholder otherwise. Extraction is deferred to Open so
// directory scans stay cheap.
func (n *SubtitleFileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = fuse.S_IFREG | 0444
	out.Size = 1
	if fi, err := os.Stat(CachePath(n.Root.CacheDir, n.SrcPath, n.Ext)); err == nil {
		out.Size = uint64(fi.Size())
	}
	out.SetTimes(nil, &time.Time{}, nil)
	return 0
}

func (n *SubtitleFileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if _, err := Extract(ctx, n.Root.CacheDir, n.SrcPath, n.Ext, n.Root.ClearDelayFrames); err != nil {
		return nil, 0, syscall.EIO
	}
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (n *SubtitleFileNode) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	path, err := Extract(ctx, n.Root.CacheDir, n.SrcPath, n.Ext, n.Root.ClearDelayFrames)
	if err != nil {
		return nil, syscall.EIO
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, syscall.EIO
	}
	defer f.Close()
	nread, err := f.ReadAt(dest, off)
	if err != nil && nread == 0 {
		return fuse.ReadResultData(dest[:0]), 0
	}
	return fuse.ReadResultData(dest[:nread]), 0
}
