package cmdrunner

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// CommandRunner runs external programs on behalf of the pipeline.
type CommandRunner interface {
	// RunAttached runs name in dir with the given stdio and returns the
	// exit code. err is non-nil only when the process could not run at all.
	RunAttached(ctx context.Context, dir string, stdio Stdio, name string, args ...string) (int, error)
}

// Stdio is the set of streams handed to a child process.
type Stdio struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// InheritStdio passes the current process streams through unchanged.
func InheritStdio() Stdio {
	return Stdio{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}
}

type CommandsRunner struct {
	logger *logrus.Entry
}

func NewCommandsRunner(logger *logrus.Entry) *CommandsRunner {
	return &CommandsRunner{logger: logger}
}
