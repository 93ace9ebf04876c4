package logprovider

import (
	"os"
	"syscall"
)

// fileInode returns the inode number of path on platforms that expose one
// via syscall.Stat_t, mirroring the original's #[cfg(unix)] get_inode.
func fileInode(path string) (uint64, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}
	return uint64(stat.Ino), true
}
