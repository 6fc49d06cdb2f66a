package utils

import (
	"os"
	"syscall"
)

// IsDirectory returns nil if path is an existing directory. A path which
// exists but is not a directory yields syscall.ENOTDIR, a missing one the
// error of os.Stat.
func IsDirectory(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return syscall.ENOTDIR
	}
	return nil
}
