//go:build linux
// +build linux

package subfs

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Mount mounts the subtitle view of srcDir at mountPoint and blocks until
// SIGINT/SIGTERM or the server exits.
func Mount(mountPoint, srcDir, cacheDir string, clearDelayFrames int) error {
	root := &Root{SrcDir: srcDir, CacheDir: cacheDir, ClearDelayFrames: clearDelayFrames}
	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			Debug:  false,
			FsName: "ttx-subfs",
		},
	}
	server, err := fs.Mount(mountPoint, root, opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		_ = server.Unmount()
	}()

	server.Wait()
	stop()
	return nil
}

// MountBackground mounts without blocking and returns an unmount func.
// ctx cancellation also unmounts.
func MountBackground(ctx context.Context, mountPoint, srcDir, cacheDir string, clearDelayFrames int) (func(), error) {
	root := &Root{SrcDir: srcDir, CacheDir: cacheDir, ClearDelayFrames: clearDelayFrames}
	server, err := fs.Mount(mountPoint, root, &fs.Options{})
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		_ = server.Unmount()
	}()
	return func() { _ = server.Unmount() }, nil
}
