package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/CloudNativeWorks/relfetch/internal/cmdrunner"
	"github.com/CloudNativeWorks/relfetch/internal/operations/release"
	"github.com/CloudNativeWorks/relfetch/internal/pipeline"
	"github.com/CloudNativeWorks/relfetch/pkg/helper"
	"github.com/CloudNativeWorks/relfetch/pkg/logger"
	"github.com/CloudNativeWorks/relfetch/pkg/tools"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// skipInstallToken in any optional position disables dependency installation.
const skipInstallToken = "no-npm"

var getCmd = &cobra.Command{
	Use:   "get <owner/repo> [destination] [version] [no-npm]",
	Short: "Download, extract and install a release (same as the root command)",
	Args:  cobra.RangeArgs(1, 4),
	RunE:  runGet,
}

func addGetFlags(c *cobra.Command) {
	f := c.Flags()
	f.Bool("skip-install", false, "do not run the dependency installer")
	f.StringP("output", "o", "table", "report format (table, json or yaml)")
	f.String("format", "zip", "release archive format (zip or tar.gz)")
	f.Int("max-redirects", 10, "maximum redirects followed while downloading")
	f.Bool("progress", false, "show a download progress bar on stderr")
	f.StringSlice("install-cmd", []string{"npm", "install"}, "dependency installer command")
	f.Bool("fail-on-install-error", false, "fail the run when the dependency installer fails")
}

var localBindings = map[string]string{
	"download.format":       "format",
	"download.max_redirects": "max-redirects",
	"download.progress":     "progress",
	"install.command":       "install-cmd",
	"install.fail_on_error": "fail-on-install-error",
}

func bindLocalFlags(cmd *cobra.Command, v *viper.Viper) error {
	for key, name := range localBindings {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

func init() {
	addGetFlags(getCmd)
	RootCmd.AddCommand(getCmd)
}

// parseGetArgs applies the positional grammar: destination defaults to the
// repository name and "no-npm" may appear in any optional slot.
func parseGetArgs(args []string, skipFlag bool) pipeline.Request {
	req := pipeline.Request{Repository: args[0], SkipInstall: skipFlag}

	optional := make([]string, 3)
	copy(optional, args[1:])
	for i, a := range optional {
		if a == skipInstallToken {
			req.SkipInstall = true
			optional[i] = ""
		}
	}

	req.Destination = optional[0]
	req.Version = optional[1]

	if req.Destination == "" {
		if _, name, found := strings.Cut(req.Repository, "/"); found {
			req.Destination = name
		}
	}
	if release.IsLatest(req.Version) {
		req.Version = release.LatestSelector
	}
	return req
}

func runGet(cmd *cobra.Command, args []string) (err error) {
	started := time.Now()
	log := logger.NewLogger("get")
	defer helper.RecoverPanic(log, "get", &err)

	skip, err := cmd.Flags().GetBool("skip-install")
	if err != nil {
		return err
	}
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	if !tools.ValidFormat(output) {
		return fmt.Errorf("unknown output format %q", output)
	}

	req := parseGetArgs(args, skip)
	log.Debugf("Fetching %s@%s into %q (skip install: %t)", req.Repository, req.Version, req.Destination, req.SkipInstall)

	p, err := pipeline.FromConfig(Cfg, Version, pipeline.Deps{
		Stdio:    cmdrunner.InheritStdio(),
		Progress: os.Stderr,
	}, log)
	if err != nil {
		return err
	}

	report, err := p.Run(cmd.Context(), req)
	if err != nil {
		log.WithError(err).Error("Release fetch failed")
		return err
	}
	if report.InstallErr != "" {
		log.Warnf("%s@%s extracted but dependencies are not installed: %s", report.Repository, report.Version, report.InstallErr)
	}
	log.Infof("Fetched %s@%s in %s", report.Repository, report.Version, report.TotalTime.Round(time.Millisecond))

	return renderReport(cmd.OutOrStdout(), output, report, time.Since(started))
}
