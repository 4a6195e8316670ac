package main

import (
	"io"
	"os"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fluxcd/tagbot/pkg/bot"
	"github.com/fluxcd/tagbot/pkg/config"
	"github.com/fluxcd/tagbot/pkg/registry"
)

type rootOpts struct {
	viper      *viper.Viper
	configFile string

	Config config.Config
	Logger log.Logger

	// for tests; if set, these are used instead of the real thing
	registry registry.Client
	scm      bot.SCM
	stderr   io.Writer
}

func newRoot() *rootOpts {
	return &rootOpts{
		viper:  viper.New(),
		stderr: os.Stderr,
	}
}

var rootLongHelp = strings.TrimSpace(`
tagbot keeps the image tags in a JupyterHub (or any YAML) config file
up to date, by opening pull requests that bump them.

Every setting can also be given as an environment variable named after
the flag, e.g., INPUT_CONFIG_PATH for --config-path, so that tagbot can
run as a GitHub Action.

Workflow:
  tagbot check --file config.yaml --images-info '[{"values_path": ".singleuser.image"}]'  # What's out of date?
  tagbot update --repository org/deploy --config-path config.yaml --images-info ...        # Open a pull request.
`)

func (opts *rootOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "tagbot",
		Long:              rootLongHelp,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: opts.PersistentPreRunE,
	}
	fs := cmd.PersistentFlags()
	fs.StringVar(&opts.configFile, "config-file", "", "read settings from this YAML file; flags and environment variables take precedence")
	defineConfigFlags(opts.viper, fs, func(err error) {
		panic(err)
	})

	cmd.AddCommand(
		newUpdate(opts).Command(),
		newCheck(opts).Command(),
		newVersionCommand(),
	)
	return cmd
}

func (opts *rootOpts) PersistentPreRunE(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(opts.viper, opts.configFile)
	if err != nil {
		return err
	}
	opts.Config = cfg
	opts.Logger = newLogger(cfg.LogFormat, opts.stderr)
	return nil
}

func newLogger(format string, out io.Writer) log.Logger {
	var logger log.Logger
	switch format {
	case "json":
		logger = log.NewJSONLogger(log.NewSyncWriter(out))
	default:
		logger = log.NewLogfmtLogger(log.NewSyncWriter(out))
	}
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	logger = log.With(logger, "caller", log.DefaultCaller)
	return logger
}
