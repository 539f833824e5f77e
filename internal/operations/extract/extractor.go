package extract

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/CloudNativeWorks/relfetch/internal/operations/common"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus"
)

// Archive formats understood by the extractor.
const (
	FormatZip   = "zip"
	FormatTarGz = "tar.gz"
)

// ErrDestinationExists is wrapped when the final rename would replace something.
var ErrDestinationExists = errors.New("destination already exists")

// Outcome describes a finished extraction.
type Outcome struct {
	Bytes       int64  // sum of uncompressed entry sizes
	Root        string // the single top-level entry that was relocated
	Destination string
}

// Extractor expands a release archive into staging and relocates its root.
type Extractor struct {
	format string
	logger *logrus.Entry
}

func NewExtractor(format string, logger *logrus.Entry) *Extractor {
	if format == "" {
		format = FormatZip
	}
	return &Extractor{format: format, logger: logger}
}

// Format returns the archive format this extractor reads.
func (e *Extractor) Format() string {
	return e.format
}

// Extract expands archivePath into stagingDir, requires exactly one
// top-level entry and renames it to destPath. Removing archivePath and
// stagingDir is left to the caller.
func (e *Extractor) Extract(ctx context.Context, archivePath, stagingDir, destPath string) (*Outcome, error) {
	log := e.logger.WithFields(logrus.Fields{
		"archive": archivePath,
		"staging": stagingDir,
		"dest":    destPath,
		"format":  e.format,
	})
	log.Info("Extracting archive")

	st, err := expand(ctx, e.format, archivePath, stagingDir)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &common.ExtractionError{Op: "staging", Err: err}
	}

	root, err := st.singleRoot()
	if err != nil {
		return nil, &common.ExtractionError{Op: "validation", Err: err}
	}

	if err := relocate(filepath.Join(stagingDir, root), destPath); err != nil {
		log.WithError(err).Error("Failed to relocate extracted root")
		return nil, &common.ExtractionError{Op: "relocation", Err: err}
	}

	log.WithFields(logrus.Fields{
		"root":  root,
		"bytes": st.bytes,
	}).Info("Archive extracted")

	return &Outcome{Bytes: st.bytes, Root: root, Destination: destPath}, nil
}

// relocate moves src to dst in one rename. An existing empty dst directory
// is cleared first; anything else in the way is an error.
func relocate(src, dst string) error {
	if err := clearEmptyDir(dst); err != nil {
		return err
	}
	if err := renameNoReplace(src, dst); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", src, dst, err)
	}
	return nil
}

// clearEmptyDir removes dir only when it has no entries at all.
func clearEmptyDir(dir string) error {
	info, err := os.Lstat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w", dir, ErrDestinationExists)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return fmt.Errorf("%s: %w", dir, ErrDestinationExists)
	}
	if err := os.Remove(dir); err != nil {
		return fmt.Errorf("%s: %w", dir, ErrDestinationExists)
	}
	return nil
}

// stage tracks what has been written into the staging directory. Every
// file and directory is created through root, so no entry can land outside
// the staging directory even when earlier entries planted symlinks.
type stage struct {
	dir   string // staging directory with symlinks resolved
	root  *os.Root
	roots map[string]struct{}
	bytes int64
}

func expand(ctx context.Context, format, archivePath, stagingDir string) (*stage, error) {
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, err
	}
	dir, err := filepath.EvalSymlinks(stagingDir)
	if err != nil {
		return nil, err
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	st := &stage{dir: dir, root: root, roots: map[string]struct{}{}}
	switch format {
	case FormatZip:
		err = st.expandZip(ctx, archivePath)
	case FormatTarGz:
		err = st.expandTarGz(ctx, archivePath)
	default:
		err = fmt.Errorf("unsupported archive format %q", format)
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *stage) singleRoot() (string, error) {
	switch len(s.roots) {
	case 0:
		return "", errors.New("archive is empty")
	case 1:
		for r := range s.roots {
			return r, nil
		}
	}
	names := make([]string, 0, len(s.roots))
	for r := range s.roots {
		names = append(names, r)
	}
	sort.Strings(names)
	return "", fmt.Errorf("archive must contain exactly one top-level entry, found %d: %s",
		len(names), strings.Join(names, ", "))
}

// target validates an archive entry name and returns its path relative to
// the staging directory, or "" for the archive root itself.
func (s *stage) target(name string) (string, error) {
	clean := path.Clean(strings.TrimPrefix(name, "./"))
	if clean == "." || clean == "" {
		return "", nil
	}
	if !filepath.IsLocal(filepath.FromSlash(clean)) {
		return "", fmt.Errorf("invalid path in archive: %s", name)
	}
	top, _, _ := strings.Cut(clean, "/")
	s.roots[top] = struct{}{}
	return filepath.FromSlash(clean), nil
}

// contains reports whether p, an absolute path without symlinks, is strictly
// below the staging directory.
func (s *stage) contains(p string) bool {
	rel, err := filepath.Rel(s.dir, p)
	return err == nil && rel != "." && filepath.IsLocal(rel)
}

func (s *stage) mkdirAll(rel string) error {
	if rel == "." || rel == "" {
		return nil
	}
	var prefix string
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		prefix = filepath.Join(prefix, part)
		err := s.root.Mkdir(prefix, 0o755)
		if err == nil {
			continue
		}
		if !errors.Is(err, fs.ErrExist) {
			return err
		}
		info, err := s.root.Stat(prefix)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s: not a directory", prefix)
		}
	}
	return nil
}

func (s *stage) writeFile(rel string, mode fs.FileMode, src io.Reader) (err error) {
	if err := s.mkdirAll(filepath.Dir(rel)); err != nil {
		return err
	}
	f, err := s.root.OpenFile(rel, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm()|0o200)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	//nolint:gosec // release archives from the configured API; size is reported, not limited
	_, err = io.Copy(f, src)
	return err
}

// symlink creates rel -> linkTarget. Both the directory holding the link and
// whatever the link resolves to must stay inside staging.
func (s *stage) symlink(rel, linkTarget string) error {
	if filepath.IsAbs(linkTarget) {
		return fmt.Errorf("refusing absolute symlink %s -> %s", rel, linkTarget)
	}
	parent := filepath.Dir(rel)
	if err := s.mkdirAll(parent); err != nil {
		return err
	}
	realParent, err := filepath.EvalSymlinks(filepath.Join(s.dir, parent))
	if err != nil {
		return err
	}
	if (realParent != s.dir && !s.contains(realParent)) || !s.contains(filepath.Join(realParent, linkTarget)) {
		return fmt.Errorf("refusing symlink escaping archive %s -> %s", rel, linkTarget)
	}

	link := filepath.Join(realParent, filepath.Base(rel))
	if err := os.Symlink(linkTarget, link); err != nil {
		return err
	}

	resolved, err := filepath.EvalSymlinks(link)
	switch {
	case err == nil && !s.contains(resolved):
		_ = os.Remove(link)
		return fmt.Errorf("refusing symlink escaping archive %s -> %s", rel, linkTarget)
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		_ = os.Remove(link)
		return err
	}
	return nil
}

func (s *stage) expandZip(ctx context.Context, archivePath string) (err error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open zip archive: %w", err)
	}
	defer func() {
		if closeErr := zr.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.bytes += int64(f.UncompressedSize64)

		dest, err := s.target(f.Name)
		if err != nil {
			return err
		}
		if dest == "" {
			continue
		}

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := s.mkdirAll(dest); err != nil {
				return err
			}
		case mode&fs.ModeSymlink != 0:
			linkTarget, err := readZipEntry(f)
			if err != nil {
				return fmt.Errorf("failed to read symlink %s: %w", f.Name, err)
			}
			if err := s.symlink(dest, linkTarget); err != nil {
				return err
			}
		default:
			if err := s.extractZipFile(f, dest); err != nil {
				return fmt.Errorf("failed to extract %s: %w", f.Name, err)
			}
		}
	}
	return nil
}

func (s *stage) extractZipFile(f *zip.File, dest string) (err error) {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rc.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return s.writeFile(dest, f.Mode(), rc)
}

func readZipEntry(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	b, err := io.ReadAll(io.LimitReader(rc, 4096))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *stage) expandTarGz(ctx context.Context, archivePath string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar entry: %w", err)
		}

		switch hdr.Typeflag {
		case tar.TypeXGlobalHeader, tar.TypeXHeader:
			// GitHub tarballs carry a pax_global_header with the commit id
			continue
		}

		if hdr.Typeflag == tar.TypeReg {
			s.bytes += hdr.Size
		}

		dest, err := s.target(hdr.Name)
		if err != nil {
			return err
		}
		if dest == "" {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := s.mkdirAll(dest); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := s.writeFile(dest, hdr.FileInfo().Mode(), tr); err != nil {
				return fmt.Errorf("failed to extract %s: %w", hdr.Name, err)
			}
		case tar.TypeSymlink:
			if err := s.symlink(dest, hdr.Linkname); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported tar entry type %q for %s", hdr.Typeflag, hdr.Name)
		}
	}
}
