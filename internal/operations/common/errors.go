package common

import (
	"fmt"
	"strings"
)

// InputError reports a malformed repository identifier or option.
type InputError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// DestinationConflictError reports a destination that already exists and is not empty.
type DestinationConflictError struct {
	Path string
}

func (e *DestinationConflictError) Error() string {
	return fmt.Sprintf("the folder %q already exists and is not empty", e.Path)
}

// ResolutionError covers transport failures and unparseable metadata responses.
type ResolutionError struct {
	URL string
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve release metadata from %s: %v", e.URL, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// ReleaseNotFoundError means the metadata API had no usable release for the request.
type ReleaseNotFoundError struct {
	Repository string
	Version    string
	URL        string
	StatusCode int
}

func (e *ReleaseNotFoundError) Error() string {
	return fmt.Sprintf("version %q of the repo %q does not seem to exist, make sure the repo is using GitHub Releases (request made to: %s)",
		e.Version, e.Repository, e.URL)
}

// DownloadError reports a failed archive download. StatusCode is zero when
// the failure happened below HTTP.
type DownloadError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	var b strings.Builder
	b.WriteString("failed to download archive")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": bad status code %d", e.StatusCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.URL != "" {
		fmt.Fprintf(&b, " (%s)", e.URL)
	}
	return b.String()
}

func (e *DownloadError) Unwrap() error { return e.Err }

// ExtractionError reports a staging or relocation failure.
type ExtractionError struct {
	Op  string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed during %s: %v", e.Op, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// InstallationError reports a dependency installer that failed to start
// (ExitCode -1) or exited non-zero.
type InstallationError struct {
	Command  []string
	ExitCode int
	Err      error
}

func (e *InstallationError) Error() string {
	cmd := strings.Join(e.Command, " ")
	if e.ExitCode < 0 {
		return fmt.Sprintf("%s could not be started: %v", cmd, e.Err)
	}
	return fmt.Sprintf("%s failed with code: %d", cmd, e.ExitCode)
}

func (e *InstallationError) Unwrap() error { return e.Err }
