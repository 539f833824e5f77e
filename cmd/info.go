package cmd

import (
	"fmt"

	"github.com/CloudNativeWorks/relfetch/internal/operations/release"
	"github.com/CloudNativeWorks/relfetch/internal/pipeline"
	"github.com/CloudNativeWorks/relfetch/pkg/helper"
	"github.com/CloudNativeWorks/relfetch/pkg/logger"
	"github.com/CloudNativeWorks/relfetch/pkg/tools"
	"github.com/spf13/cobra"
)

var infoOutput string

// Info command
var infoCmd = &cobra.Command{
	Use:   "info <owner/repo> [version]",
	Short: "Show release metadata without downloading anything",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runInfo,
}

func init() {
	infoCmd.Flags().StringVarP(&infoOutput, "output", "o", "table", "output format (table, json or yaml)")
	RootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) (err error) {
	log := logger.NewLogger("info")
	defer helper.RecoverPanic(log, "info", &err)

	if !tools.ValidFormat(infoOutput) {
		return fmt.Errorf("unknown output format %q", infoOutput)
	}

	version := release.LatestSelector
	if len(args) == 2 && !release.IsLatest(args[1]) {
		version = args[1]
	}

	log.Debugf("Resolving %s@%s", args[0], version)
	client := pipeline.NewHTTPClient(Cfg, nil, log)
	resolver := pipeline.NewResolver(Cfg, client, Version, log)

	d, err := resolver.Resolve(cmd.Context(), args[0], version)
	if err != nil {
		return err
	}
	return renderDescriptor(cmd.OutOrStdout(), infoOutput, d)
}
