package main

import (
	"io/ioutil"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/fluxcd/tagbot/pkg/document"
	"github.com/fluxcd/tagbot/pkg/update"
)

type checkOpts struct {
	*rootOpts
	file        string
	write       bool
	failOnStale bool
	progress    bool
	verbosity   int
}

func newCheck(parent *rootOpts) *checkOpts {
	return &checkOpts{rootOpts: parent}
}

func (opts *checkOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report which images in a local config file have newer tags",
		Example: makeExample(
			"tagbot check --file config.yaml --images-info '[{\"values_path\": \".singleuser.image\"}]'",
			"tagbot check --file config.yaml --images-info ... --write",
			"tagbot check --file config.yaml --images-info ... --fail-on-stale",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "the config file to check")
	cmd.Flags().BoolVar(&opts.write, "write", false, "write the latest tags back into the file")
	cmd.Flags().BoolVar(&opts.failOnStale, "fail-on-stale", false, "exit with an error if any image is out of date, and the file was not written")
	cmd.Flags().BoolVar(&opts.progress, "progress", false, "show a progress bar while looking up tags")
	cmd.Flags().CountVarP(&opts.verbosity, "verbose", "v", "include up-to-date images in the output")
	return cmd
}

func (opts *checkOpts) RunE(cmd *cobra.Command, args []string) (err error) {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	if opts.file == "" {
		return newUsageError("-f, --file is required")
	}
	cfg := opts.Config
	if err := cfg.ValidateLocal(); err != nil {
		return err
	}
	tracked, err := cfg.TrackedPaths()
	if err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		update.ObserveRun(start, err == nil, "check")
		if perr := pushMetrics(cfg.MetricsPushURL, opts.Logger); perr != nil {
			opts.Logger.Log("warning", "could not push metrics", "err", perr)
		}
	}()

	info, err := os.Stat(opts.file)
	if err != nil {
		return err
	}
	text, err := ioutil.ReadFile(opts.file)
	if err != nil {
		return err
	}
	doc, err := document.Parse(opts.file, text)
	if err != nil {
		return err
	}

	records, failures := update.Scan(doc, tracked)
	for _, f := range failures {
		opts.Logger.Log("warning", "skipping tracked path", "path", f.Path, "image", f.Image, "err", f.Err)
	}

	reg, stop, err := opts.registryClient()
	if err != nil {
		return err
	}
	defer stop()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	resolveOpts := cfg.ResolveOptions()
	var bar *pb.ProgressBar
	if opts.progress && len(records) > 0 {
		bar = pb.New(len(records))
		bar.SetWriter(opts.stderr)
		bar.SetTemplateString(`Looking up tags {{counters . }} {{bar . }} {{percent . }} {{etime . "%s"}}`)
		bar.Start()
		resolveOpts.Progress = func(string, error) { bar.Increment() }
	}
	update.Resolve(ctx, records, reg, resolveOpts)
	if bar != nil {
		bar.Finish()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	stale, warnings := update.Diff(records)
	for _, w := range warnings {
		opts.Logger.Log("warning", "could not find latest tag", "image", w.Image, "path", w.Path, "err", w.Err)
	}

	applied := false
	if opts.write && len(stale) > 0 {
		if err := writeBack(doc, records, stale, opts.file, info.Mode()); err != nil {
			return err
		}
		if doc.Reencoded() {
			opts.Logger.Log("warning", "document re-encoded; formatting and comments may not be preserved", "file", opts.file)
		}
		applied = true
	}

	result := update.NewResult(records, failures, applied)
	update.ObserveResult(result)
	if err := update.PrintResults(cmd.OutOrStdout(), result, opts.verbosity); err != nil {
		return err
	}

	if !cfg.AllowPartial {
		if msg := result.Error(); msg != "" {
			return errors.New(msg)
		}
	}
	if opts.failOnStale && !applied && len(stale) > 0 {
		return errors.Errorf("%d image(s) out of date", len(stale))
	}
	return nil
}

func writeBack(doc *document.Document, records update.Records, stale []string, path string, mode os.FileMode) error {
	if err := update.Apply(doc, records, stale); err != nil {
		return err
	}
	if err := doc.Verify(); err != nil {
		return err
	}
	b, err := doc.Bytes()
	if err != nil {
		return err
	}
	return errors.Wrapf(ioutil.WriteFile(path, b, mode.Perm()), "writing %s", path)
}
