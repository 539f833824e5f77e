//go:build linux

package extract

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// renameNoReplace moves src to dst and fails if dst exists, atomically.
func renameNoReplace(src, dst string) error {
	err := unix.Renameat2(unix.AT_FDCWD, src, unix.AT_FDCWD, dst, unix.RENAME_NOREPLACE)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EEXIST):
		return fmt.Errorf("%s: %w", dst, ErrDestinationExists)
	case errors.Is(err, unix.ENOSYS), errors.Is(err, unix.EINVAL):
		// old kernel or a filesystem without RENAME_NOREPLACE
		return renameChecked(src, dst)
	default:
		return err
	}
}
