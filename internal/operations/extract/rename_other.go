//go:build !linux

package extract

func renameNoReplace(src, dst string) error {
	return renameChecked(src, dst)
}
