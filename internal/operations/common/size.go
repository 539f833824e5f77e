package common

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DirectorySize returns the summed size of all regular files under dir.
// Symlinks are counted by their own size and not followed. A missing dir
// has size zero.
func DirectorySize(dir string) (int64, error) {
	var total int64

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to size %s: %w", dir, err)
	}

	return total, nil
}

// IsNonEmptyDir reports whether path exists and holds at least one byte of
// file content. Directories holding only empty files or empty subdirectories
// count as empty.
func IsNonEmptyDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if !info.IsDir() {
		// a plain file in the way is still a conflict
		return true, nil
	}

	size, err := DirectorySize(path)
	if err != nil {
		return false, err
	}
	return size > 0, nil
}
