package cmdrunner

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/sirupsen/logrus"
)

func (r *CommandsRunner) RunAttached(ctx context.Context, dir string, stdio Stdio, name string, args ...string) (int, error) {
	c := exec.CommandContext(ctx, name, args...)
	c.Dir = dir
	c.Stdin = stdio.In
	c.Stdout = stdio.Out
	c.Stderr = stdio.Err

	log := r.logger.WithFields(logrus.Fields{
		"cmd":  name,
		"args": args,
		"dir":  dir,
	})
	log.Debug("Running command")

	err := c.Run()
	if err == nil {
		return 0, nil
	}
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		log.WithField("exit_code", exitErr.ExitCode()).Warn("Command exited with non-zero status")
		return exitErr.ExitCode(), nil
	}

	log.WithError(err).Error("Command could not be started")
	return -1, fmt.Errorf("command error: %w", err)
}
