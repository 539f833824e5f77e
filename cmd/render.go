package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/CloudNativeWorks/relfetch/internal/operations/release"
	"github.com/CloudNativeWorks/relfetch/internal/pipeline"
	"github.com/CloudNativeWorks/relfetch/pkg/tools"
	units "github.com/docker/go-units"
)

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.3fs", d.Seconds())
}

func size(n int64) string {
	return fmt.Sprintf("%s (%d bytes)", units.BytesSize(float64(n)), n)
}

func installState(r *pipeline.Report) string {
	switch {
	case r.InstallSkipped:
		return "skipped"
	case r.InstallErr != "":
		return "failed: " + r.InstallErr
	case r.InstallRan:
		return "done"
	default:
		return "nothing to install"
	}
}

// renderReport prints the run report. elapsed covers the whole command
// including configuration and is only shown in table output.
func renderReport(w io.Writer, format string, r *pipeline.Report, elapsed time.Duration) error {
	if format != tools.FormatTable {
		return tools.Encode(w, format, r)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Repository:\t%s@%s\n", r.Repository, r.Version)
	fmt.Fprintf(tw, "Destination:\t%s\n", r.Destination)
	fmt.Fprintf(tw, "Resolution time:\t%s\n", seconds(r.ResolutionTime))
	fmt.Fprintf(tw, "Download time:\t%s\n", seconds(r.DownloadTime))
	fmt.Fprintf(tw, "Downloaded size:\t%s\n", size(r.ArchiveSize))
	fmt.Fprintf(tw, "Extraction time:\t%s\n", seconds(r.ExtractionTime))
	fmt.Fprintf(tw, "Extracted size:\t%s\n", size(r.ExtractedSize))
	fmt.Fprintf(tw, "Installation:\t%s\n", installState(r))
	fmt.Fprintf(tw, "Installation time:\t%s\n", seconds(r.InstallationTime))
	fmt.Fprintf(tw, "Installed size:\t%s\n", size(r.InstalledSize))
	fmt.Fprintf(tw, "Total time:\t%s\n", seconds(r.TotalTime))
	fmt.Fprintf(tw, "Elapsed:\t%s\n", elapsed.Round(time.Millisecond))
	return tw.Flush()
}

func renderDescriptor(w io.Writer, format string, d *release.Descriptor) error {
	if format != tools.FormatTable {
		return tools.Encode(w, format, d)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Name:\t%s\n", d.Name)
	fmt.Fprintf(tw, "Version:\t%s\n", d.Version)
	fmt.Fprintf(tw, "Draft:\t%t\n", d.Draft)
	fmt.Fprintf(tw, "Prerelease:\t%t\n", d.Prerelease)
	fmt.Fprintf(tw, "Created:\t%s\n", d.CreatedAt)
	fmt.Fprintf(tw, "Published:\t%s\n", d.PublishedAt)
	fmt.Fprintf(tw, "Page:\t%s\n", d.HTMLURL)
	fmt.Fprintf(tw, "Zip archive:\t%s\n", d.ArchiveURL)
	if d.TarballURL != "" {
		fmt.Fprintf(tw, "Tarball:\t%s\n", d.TarballURL)
	}
	if d.Description != "" {
		fmt.Fprintf(tw, "Description:\t%s\n", d.Description)
	}
	return tw.Flush()
}
