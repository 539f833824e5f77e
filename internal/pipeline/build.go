package pipeline

import (
	"fmt"
	"io"
	"net/http"

	"github.com/CloudNativeWorks/relfetch/internal/cmdrunner"
	"github.com/CloudNativeWorks/relfetch/internal/config"
	"github.com/CloudNativeWorks/relfetch/internal/operations/download"
	"github.com/CloudNativeWorks/relfetch/internal/operations/extract"
	"github.com/CloudNativeWorks/relfetch/internal/operations/install"
	"github.com/CloudNativeWorks/relfetch/internal/operations/release"
	"github.com/CloudNativeWorks/relfetch/internal/transport"
	"github.com/CloudNativeWorks/relfetch/pkg/logger"
)

// Deps lets callers swap process-level resources, mostly in tests.
type Deps struct {
	Transport http.RoundTripper
	Stdio     cmdrunner.Stdio
	Progress  io.Writer // progress bar sink, used when download.progress is on
}

// UserAgent is the client-identifying header sent with every request.
func UserAgent(cfg *config.Config, version string) string {
	if cfg.GitHub.UserAgent != "" {
		return cfg.GitHub.UserAgent
	}
	return fmt.Sprintf("relfetch (v%s)", version)
}

// NewHTTPClient builds the shared, non-redirecting client.
func NewHTTPClient(cfg *config.Config, rt http.RoundTripper, log *logger.Logger) *http.Client {
	guarded := transport.New(rt, transport.Settings{
		Name:              "release-api",
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		Burst:             cfg.HTTP.Burst,
		BreakerFailures:   cfg.HTTP.BreakerFailures,
	}, log.Component("transport"))
	return transport.NewClient(guarded, cfg.HTTP.Timeout)
}

// NewResolver builds a release resolver from configuration.
func NewResolver(cfg *config.Config, client *http.Client, version string, log *logger.Logger) *release.Resolver {
	return release.NewResolver(
		release.WithHTTPClient(client),
		release.WithBaseURL(cfg.GitHub.APIURL),
		release.WithToken(cfg.GitHub.Token),
		release.WithUserAgent(UserAgent(cfg, version)),
		release.WithLogger(log.Component("release-resolver")),
	)
}

// FromConfig wires every stage from configuration.
func FromConfig(cfg *config.Config, version string, deps Deps, log *logger.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := NewHTTPClient(cfg, deps.Transport, log)

	dlOpts := []download.Option{
		download.WithHTTPClient(client),
		download.WithUserAgent(UserAgent(cfg, version)),
		download.WithMaxRedirects(cfg.Download.MaxRedirects),
		download.WithLogger(log.Component("release-downloader")),
	}
	if cfg.Download.Progress && deps.Progress != nil {
		dlOpts = append(dlOpts, download.WithProgress(deps.Progress))
	}

	installer := install.NewInstaller(
		install.Settings{
			Command:  cfg.Install.Command,
			Manifest: cfg.Install.Manifest,
			CacheDir: cfg.Install.CacheDir,
		},
		cmdrunner.NewCommandsRunner(log.Component("command-runner")),
		deps.Stdio,
		log.Component("dependency-installer"),
	)

	return New(
		NewResolver(cfg, client, version, log),
		download.NewDownloader(dlOpts...),
		extract.NewExtractor(cfg.Download.Format, log.Component("archive-extractor")),
		installer,
		Options{
			WorkDir:            cfg.WorkDir,
			FailOnInstallError: cfg.Install.FailOnError,
			Logger:             log.Component("pipeline"),
		},
	), nil
}
