package extract

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// renameChecked is the portable fallback: a stat, then a plain rename.
func renameChecked(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("%s: %w", dst, ErrDestinationExists)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.Rename(src, dst)
}
