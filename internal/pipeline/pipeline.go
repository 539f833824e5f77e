package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/CloudNativeWorks/relfetch/internal/operations/common"
	"github.com/CloudNativeWorks/relfetch/internal/operations/download"
	"github.com/CloudNativeWorks/relfetch/internal/operations/extract"
	"github.com/CloudNativeWorks/relfetch/internal/operations/release"
	"github.com/sirupsen/logrus"
)

// Stage collaborators. The concrete types live under internal/operations.
type (
	Resolver interface {
		Resolve(ctx context.Context, repository, version string) (*release.Descriptor, error)
	}

	Downloader interface {
		Download(ctx context.Context, url, destPath string) (*download.Outcome, error)
	}

	Extractor interface {
		Format() string
		Extract(ctx context.Context, archivePath, stagingDir, destPath string) (*extract.Outcome, error)
	}

	Installer interface {
		Install(ctx context.Context, dir string, skip bool) (bool, error)
		CacheDir(dir string) string
	}
)

// Request is one invocation of the pipeline.
type Request struct {
	Repository  string
	Destination string // relative to the work dir unless absolute
	Version     string // empty or "latest" for the most recent release
	SkipInstall bool
}

// Report is the result of a successful run. Durations come from the
// monotonic clock; sizes are bytes.
type Report struct {
	Repository       string        `json:"repository" yaml:"repository"`
	Version          string        `json:"version" yaml:"version"`
	Destination      string        `json:"destination" yaml:"destination"`
	ResolutionTime   time.Duration `json:"resolution_time" yaml:"resolution_time"`
	DownloadTime     time.Duration `json:"download_time" yaml:"download_time"`
	ExtractionTime   time.Duration `json:"extraction_time" yaml:"extraction_time"`
	InstallationTime time.Duration `json:"installation_time" yaml:"installation_time"`
	TotalTime        time.Duration `json:"total_time" yaml:"total_time"`
	ArchiveSize      int64         `json:"archive_size" yaml:"archive_size"`
	ExtractedSize    int64         `json:"extracted_size" yaml:"extracted_size"`
	InstalledSize    int64         `json:"installed_size" yaml:"installed_size"`
	InstallSkipped   bool          `json:"install_skipped" yaml:"install_skipped"`
	InstallRan       bool          `json:"install_ran" yaml:"install_ran"`
	InstallErr       string        `json:"install_error,omitempty" yaml:"install_error,omitempty"`
}

// Pipeline runs resolve, download, extract and install in strict sequence.
type Pipeline struct {
	resolver           Resolver
	downloader         Downloader
	extractor          Extractor
	installer          Installer
	workDir            string
	failOnInstallError bool
	logger             *logrus.Entry
}

// Options holds the non-stage knobs of a Pipeline.
type Options struct {
	// WorkDir roots the destination and scratch paths. Empty means the
	// process working directory at Run time.
	WorkDir string
	// FailOnInstallError turns an installer failure into a failed run
	// instead of a report with InstallErr set.
	FailOnInstallError bool
	Logger             *logrus.Entry
}

func New(r Resolver, d Downloader, e Extractor, i Installer, opts Options) *Pipeline {
	log := opts.Logger
	if log == nil {
		log = logrus.WithField("component", "pipeline")
	}
	return &Pipeline{
		resolver:           r,
		downloader:         d,
		extractor:          e,
		installer:          i,
		workDir:            opts.WorkDir,
		failOnInstallError: opts.FailOnInstallError,
		logger:             log,
	}
}

func (p *Pipeline) resolveWorkDir() (string, error) {
	if p.workDir != "" {
		return filepath.Abs(p.workDir)
	}
	return os.Getwd()
}

// Destination returns the absolute path a request extracts into.
func (p *Pipeline) Destination(destination string) (string, error) {
	if destination == "" {
		return "", &common.InputError{Field: "destination", Value: destination, Reason: "must not be empty"}
	}
	if filepath.IsAbs(destination) {
		return filepath.Clean(destination), nil
	}
	workDir, err := p.resolveWorkDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(workDir, destination), nil
}

// checkPreconditions runs every check that must pass before any network
// activity and returns the absolute destination path.
func (p *Pipeline) checkPreconditions(req Request) (string, error) {
	if _, _, err := release.SplitRepository(req.Repository); err != nil {
		return "", err
	}

	dest, err := p.Destination(req.Destination)
	if err != nil {
		return "", err
	}

	conflict, err := common.IsNonEmptyDir(dest)
	if err != nil {
		return "", &common.InputError{Field: "destination", Value: req.Destination, Reason: err.Error()}
	}
	if conflict {
		return "", &common.DestinationConflictError{Path: req.Destination}
	}
	return dest, nil
}

func (p *Pipeline) archiveURL(desc *release.Descriptor) (string, error) {
	if p.extractor.Format() != extract.FormatTarGz {
		return desc.ArchiveURL, nil
	}
	if desc.TarballURL == "" {
		return "", &common.DownloadError{Err: errors.New("release has no tarball URL")}
	}
	return desc.TarballURL, nil
}

// Run executes the pipeline. Resolution, download and extraction failures
// abort with that stage's error; an installer failure aborts only when the
// pipeline was built with FailOnInstallError.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Report, error) {
	start := time.Now()

	dest, err := p.checkPreconditions(req)
	if err != nil {
		return nil, err
	}

	log := p.logger.WithFields(logrus.Fields{
		"repository":  req.Repository,
		"version":     req.Version,
		"destination": dest,
	})

	report := &Report{
		Repository:     req.Repository,
		Destination:    dest,
		InstallSkipped: req.SkipInstall,
	}

	stageStart := time.Now()
	desc, err := p.resolver.Resolve(ctx, req.Repository, req.Version)
	if err != nil {
		return nil, err
	}
	report.ResolutionTime = time.Since(stageStart)
	report.Version = desc.Version

	url, err := p.archiveURL(desc)
	if err != nil {
		return nil, err
	}

	workDir, err := p.resolveWorkDir()
	if err != nil {
		return nil, err
	}
	scr := newScratch(workDir, dest, p.extractor.Format(), log)
	defer scr.Release()

	stageStart = time.Now()
	dl, err := p.downloader.Download(ctx, url, scr.ArchivePath)
	if err != nil {
		return nil, err
	}
	report.DownloadTime = time.Since(stageStart)
	report.ArchiveSize = dl.Bytes

	stageStart = time.Now()
	ex, err := p.extractor.Extract(ctx, scr.ArchivePath, scr.StagingDir, dest)
	// scratch is released before install on both paths out of extraction
	_ = scr.Release()
	if err != nil {
		return nil, err
	}
	report.ExtractionTime = time.Since(stageStart)
	report.ExtractedSize = ex.Bytes

	stageStart = time.Now()
	ran, err := p.installer.Install(ctx, dest, req.SkipInstall)
	report.InstallationTime = time.Since(stageStart)
	report.InstallRan = ran
	if err != nil {
		if ctx.Err() != nil || p.failOnInstallError {
			return nil, err
		}
		log.WithError(err).Warn("Dependency installation failed, continuing")
		report.InstallErr = err.Error()
	}

	report.InstalledSize = report.ExtractedSize
	if !req.SkipInstall {
		cacheSize, err := common.DirectorySize(p.installer.CacheDir(dest))
		if err != nil {
			log.WithError(err).Warn("Failed to size dependency cache")
		}
		report.InstalledSize += cacheSize
	}

	report.TotalTime = time.Since(start)

	log.WithFields(logrus.Fields{
		"tag":            report.Version,
		"archive_size":   report.ArchiveSize,
		"extracted_size": report.ExtractedSize,
		"installed_size": report.InstalledSize,
		"total_time":     report.TotalTime.String(),
	}).Info("Release fetched")

	return report, nil
}
