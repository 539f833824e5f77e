package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const scratchPrefix = ".relfetch"

// scratch is the on-disk space owned by one run: the downloaded archive and
// the staging directory it is expanded into.
type scratch struct {
	ArchivePath string
	StagingDir  string

	once   sync.Once
	logger *logrus.Entry
}

// newScratch names per-run paths: the archive under workDir and the staging
// directory beside dest, so relocating the extracted root is a rename on one
// filesystem. Nothing is created yet; the downloader creates the archive and
// the extractor the staging directory.
func newScratch(workDir, dest, archiveExt string, logger *logrus.Entry) *scratch {
	id := fmt.Sprintf("%s-%d-%s", scratchPrefix, os.Getpid(), uuid.NewString())
	return &scratch{
		ArchivePath: filepath.Join(workDir, id+"."+archiveExt),
		StagingDir:  filepath.Join(filepath.Dir(dest), id+"-staging"),
		logger:      logger,
	}
}

// Release removes both paths. It is safe to call more than once; failures
// are logged as warnings and returned joined for callers that care.
func (s *scratch) Release() error {
	var err error
	s.once.Do(func() {
		var errs []error
		if rmErr := os.Remove(s.ArchivePath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			s.logger.WithError(rmErr).WithField("path", s.ArchivePath).Warn("Failed to remove downloaded archive")
			errs = append(errs, rmErr)
		}
		if rmErr := os.RemoveAll(s.StagingDir); rmErr != nil {
			s.logger.WithError(rmErr).WithField("path", s.StagingDir).Warn("Failed to remove staging directory")
			errs = append(errs, rmErr)
		}
		err = errors.Join(errs...)
	})
	return err
}
