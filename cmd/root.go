package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/CloudNativeWorks/relfetch/internal/config"
	"github.com/CloudNativeWorks/relfetch/internal/operations/common"
	"github.com/CloudNativeWorks/relfetch/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Exit codes returned by the binary.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitInput    = 2
	ExitConflict = 3
	ExitNotFound = 4
)

var (
	cfgFile string
	Cfg     *config.Config
	Version string
	v       *viper.Viper
)

var RootCmd = &cobra.Command{
	Use:   "relfetch <owner/repo> [destination] [version] [no-npm]",
	Short: "Download a GitHub release, extract it and install its dependencies",
	Long: `relfetch resolves a tagged (or the latest) GitHub release, downloads its
archive, extracts the single project directory inside it to the destination
folder and runs the project's dependency installer, then reports how long
each stage took and how much data it moved.

The destination defaults to the repository name. The literal "no-npm" in any
optional position skips dependency installation.`,
	Args:              cobra.RangeArgs(1, 4),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
	RunE:              runGet,
}

func Execute(version string) error {
	Version = version

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return RootCmd.ExecuteContext(ctx)
}

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	var (
		inputErr    *common.InputError
		conflictErr *common.DestinationConflictError
		notFoundErr *common.ReleaseNotFoundError
	)
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &inputErr):
		return ExitInput
	case errors.As(err, &conflictErr):
		return ExitConflict
	case errors.As(err, &notFoundErr):
		return ExitNotFound
	default:
		return ExitFailure
	}
}

func init() {
	pf := RootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./relfetch.yaml or $HOME/.relfetch/relfetch.yaml)")
	pf.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	pf.String("log-format", "text", "log format (text or json)")
	pf.String("log-file", "", "also write logs to this file, rotated")
	pf.String("api-url", config.DefaultAPIURL, "GitHub API base URL")
	pf.String("token", "", "GitHub token (default: $GITHUB_TOKEN)")
	pf.String("workdir", "", "directory the destination and scratch files live in (default: current directory)")

	addGetFlags(RootCmd)
}

var persistentBindings = map[string]string{
	"logging.level":  "log-level",
	"logging.format": "log-format",
	"logging.file":   "log-file",
	"github.api_url": "api-url",
	"github.token":   "token",
	"workdir":        "workdir",
}

func initConfig(cmd *cobra.Command, _ []string) error {
	v = config.New(cfgFile)

	for key, flag := range persistentBindings {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}
	if err := bindLocalFlags(cmd, v); err != nil {
		return err
	}

	var err error
	Cfg, err = config.Load(v)
	if err != nil {
		return &common.InputError{Field: "config", Value: cfgFile, Reason: err.Error()}
	}

	if err := logger.Init(Cfg.LoggerConfig("relfetch")); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Logger could not be initialized: %v\n", err)
		return err
	}

	return nil
}
