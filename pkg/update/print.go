package update

import (
	"fmt"
	"io"
	"text/tabwriter"
)

const tableHeading = "IMAGE\tSTATUS\tCURRENT\tLATEST"

// PrintResults outputs a result set to the `io.Writer` provided, at
// the given level of verbosity:
//  - 1 = include everything
//  - 0 = exclude images that are up to date
// Skipped and failed entries are always shown, with the reason in
// place of the latest tag.
func PrintResults(out io.Writer, results Result, verbosity int) error {
	tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, tableHeading)
	for _, e := range results {
		if e.Status == StatusUpToDate && verbosity < 1 {
			continue
		}
		image := e.Image
		if image == "" {
			image = e.Path
		}
		latest := e.Latest
		if e.Error != "" {
			latest = e.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", image, e.Status, e.Current, latest)
	}
	return tw.Flush()
}
