package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/kit/log"
	"github.com/spf13/cobra"

	"github.com/fluxcd/tagbot/pkg/bot"
	"github.com/fluxcd/tagbot/pkg/config"
	"github.com/fluxcd/tagbot/pkg/github"
	"github.com/fluxcd/tagbot/pkg/registry"
	"github.com/fluxcd/tagbot/pkg/update"
)

type updateOpts struct {
	*rootOpts
	verbosity int
}

func newUpdate(parent *rootOpts) *updateOpts {
	return &updateOpts{rootOpts: parent}
}

func (opts *updateOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Open a pull request bumping any out-of-date image tags, or update the one already open",
		Example: makeExample(
			"tagbot update --repository org/deploy --config-path config/prod.yaml --github-token $TOKEN --images-info '[{\"values_path\": \".singleuser.image\"}]'",
			"tagbot update --dry-run -v ...",
			"INPUT_REPOSITORY=org/deploy INPUT_CONFIG_PATH=config/prod.yaml ... tagbot update",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().CountVarP(&opts.verbosity, "verbose", "v", "include up-to-date images in the summary")
	return cmd
}

func (opts *updateOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return err
	}
	botOpts, err := cfg.BotOptions()
	if err != nil {
		return err
	}
	logger := log.With(opts.Logger, "repository", botOpts.Repository, "path", botOpts.ConfigPath)

	reg, stop, err := opts.registryClient()
	if err != nil {
		return err
	}
	defer stop()
	scm, err := opts.scmClient(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	b := &bot.Bot{
		SCM:      scm,
		Registry: reg,
		Logger:   logger,
		Options:  botOpts,
	}
	outcome, runErr := b.Run(ctx)

	out := cmd.OutOrStdout()
	if outcome.Result != nil {
		if err := update.PrintResults(out, outcome.Result, opts.verbosity); err != nil {
			return err
		}
	}
	if pr := outcome.PullRequest; pr != nil {
		verb := "Updated"
		if outcome.Created {
			verb = "Opened"
		}
		fmt.Fprintf(out, "%s pull request #%d: %s\n", verb, pr.Number, pr.URL)
	}
	if err := pushMetrics(cfg.MetricsPushURL, opts.Logger); err != nil {
		opts.Logger.Log("warning", "could not push metrics", "err", err)
	}
	return runErr
}

// scmClient returns the client for the GitHub API. It goes through the
// same transport as registry requests, so it is traced with them.
func (opts *rootOpts) scmClient(cfg config.Config) (bot.SCM, error) {
	if opts.scm != nil {
		return opts.scm, nil
	}
	factory := &registry.RemoteClientFactory{
		Logger:      log.With(opts.Logger, "component", "github"),
		Trace:       cfg.RegistryTrace,
		GitHubToken: cfg.GitHubToken,
		GitHubAPI:   cfg.GitHubAPI,
	}
	client, err := factory.GitHubClient()
	if err != nil {
		return nil, err
	}
	return github.New(client, log.With(opts.Logger, "component", "github")), nil
}
