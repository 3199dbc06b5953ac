//go:build !linux
// +build !linux

package subfs

import (
	"context"
	"fmt"
)

// Mount is unavailable on non-Linux builds because subfs depends on
// go-fuse.
func Mount(mountPoint, srcDir, cacheDir string, clearDelayFrames int) error {
	return fmt.Errorf("subfs mount is only supported on linux builds")
}

// MountBackground is unavailable on non-Linux builds because subfs
// depends on go-fuse.
func MountBackground(_ context.Context, mountPoint, srcDir, cacheDir string, clearDelayFrames int) (func(), error) {
	return nil, fmt.Errorf("subfs mount is only supported on linux builds")
}
