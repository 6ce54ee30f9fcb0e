//go:build !windows

package partition

import "golang.org/x/sys/unix"

// renameAtomic renames oldpath to newpath, replacing newpath if it exists,
// in one filesystem operation.
func renameAtomic(oldpath, newpath string) error {
	return unix.Rename(oldpath, newpath)
}
