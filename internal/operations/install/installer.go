package install

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/CloudNativeWorks/relfetch/internal/cmdrunner"
	"github.com/CloudNativeWorks/relfetch/internal/operations/common"
	"github.com/sirupsen/logrus"
)

// Settings describes the dependency installer.
type Settings struct {
	Command  []string // program and arguments, e.g. npm install
	Manifest string   // file whose presence triggers installation
	CacheDir string   // directory the installer populates, relative to the project
}

// DefaultSettings installs node dependencies.
func DefaultSettings() Settings {
	return Settings{
		Command:  []string{"npm", "install"},
		Manifest: "package.json",
		CacheDir: "node_modules",
	}
}

// Installer runs the dependency installer inside an extracted project.
type Installer struct {
	settings Settings
	runner   cmdrunner.CommandRunner
	stdio    cmdrunner.Stdio
	logger   *logrus.Entry
}

func NewInstaller(settings Settings, runner cmdrunner.CommandRunner, stdio cmdrunner.Stdio, logger *logrus.Entry) *Installer {
	return &Installer{
		settings: settings,
		runner:   runner,
		stdio:    stdio,
		logger:   logger,
	}
}

// CacheDir returns the dependency cache directory for a project at dir.
func (i *Installer) CacheDir(dir string) string {
	return filepath.Join(dir, i.settings.CacheDir)
}

// ShouldRun reports whether dir carries the installer manifest.
func (i *Installer) ShouldRun(dir string) (bool, error) {
	info, err := os.Stat(filepath.Join(dir, i.settings.Manifest))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !info.IsDir(), nil
}

// Install runs the installer in dir unless skip is set or the manifest is
// missing. ran reports whether the subprocess was started.
func (i *Installer) Install(ctx context.Context, dir string, skip bool) (ran bool, err error) {
	log := i.logger.WithFields(logrus.Fields{
		"dir":     dir,
		"command": i.settings.Command,
	})

	if skip {
		log.Info("Dependency installation skipped by request")
		return false, nil
	}
	if len(i.settings.Command) == 0 {
		return false, &common.InstallationError{ExitCode: -1, Err: errors.New("no install command configured")}
	}

	should, err := i.ShouldRun(dir)
	if err != nil {
		return false, &common.InstallationError{Command: i.settings.Command, ExitCode: -1, Err: err}
	}
	if !should {
		log.WithField("manifest", i.settings.Manifest).Info("No manifest found, skipping dependency installation")
		return false, nil
	}

	log.Info("Installing dependencies")
	code, err := i.runner.RunAttached(ctx, dir, i.stdio, i.settings.Command[0], i.settings.Command[1:]...)
	if err != nil {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		return true, &common.InstallationError{Command: i.settings.Command, ExitCode: -1, Err: err}
	}
	if code != 0 {
		return true, &common.InstallationError{
			Command:  i.settings.Command,
			ExitCode: code,
			Err:      fmt.Errorf("exit status %d", code),
		}
	}

	log.Info("Dependencies installed")
	return true, nil
}
