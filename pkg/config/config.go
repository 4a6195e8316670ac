// Package config holds the configuration of a tagbot run, shared by
// the commands that need it. Values come from flags, INPUT_*
// environment variables (as set for a GitHub Action) and, optionally,
// a config file.
package config

import (
	"strings"
	"time"

	"github.com/imdario/mergo"
	"github.com/pkg/errors"

	"github.com/fluxcd/tagbot/pkg/bot"
	fluxerr "github.com/fluxcd/tagbot/pkg/errors"
	"github.com/fluxcd/tagbot/pkg/github"
	"github.com/fluxcd/tagbot/pkg/update"
)

const (
	ConfigType = "yaml"
	// EnvPrefix is prepended to the upper-cased, underscored flag name
	// to get the environment variable for a setting, e.g.,
	// --config-path is INPUT_CONFIG_PATH.
	EnvPrefix = "INPUT"
)

type Config struct {
	ConfigPath string `mapstructure:"configPath"`
	// ImagesInfo is the list of tracked paths, as JSON or YAML.
	ImagesInfo      string   `mapstructure:"imagesInfo"`
	GitHubToken     string   `mapstructure:"githubToken"`
	GitHubAPI       string   `mapstructure:"githubApi"`
	Repository      string   `mapstructure:"repository"`
	BaseBranch      string   `mapstructure:"baseBranch"`
	HeadBranch      string   `mapstructure:"headBranch"`
	Labels          []string `mapstructure:"labels"`
	Reviewers       []string `mapstructure:"reviewers"`
	TeamReviewers   []string `mapstructure:"teamReviewers"`
	PushToUsersFork string   `mapstructure:"pushToUsersFork"`
	DryRun          bool     `mapstructure:"dryRun"`
	AllowPartial    bool     `mapstructure:"allowPartial"`

	LogFormat      string `mapstructure:"logFormat"`
	MetricsPushURL string `mapstructure:"metricsPushUrl"`

	RegistryRPS          float64       `mapstructure:"registryRps"`
	RegistryBurst        int           `mapstructure:"registryBurst"`
	RegistryTrace        bool          `mapstructure:"registryTrace"`
	RegistryTimeout      time.Duration `mapstructure:"registryTimeout"`
	RegistryConcurrency  int           `mapstructure:"registryConcurrency"`
	RegistryInsecureHost []string      `mapstructure:"registryInsecureHost"`
	RegistryOCIHost      []string      `mapstructure:"registryOciHost"`
	RegistryHubPages     int           `mapstructure:"registryHubPages"`
	RegistryOCIMaxTags   int           `mapstructure:"registryOciMaxTags"`
	DockerConfig         string        `mapstructure:"dockerConfig"`

	MemcachedHostname string        `mapstructure:"memcachedHostname"`
	MemcachedPort     int           `mapstructure:"memcachedPort"`
	MemcachedService  string        `mapstructure:"memcachedService"`
	MemcachedTimeout  time.Duration `mapstructure:"memcachedTimeout"`
	MemcachedTTL      time.Duration `mapstructure:"memcachedTtl"`
}

// Defaults fill in whatever is left unset.
var Defaults = Config{
	BaseBranch:          "main",
	HeadBranch:          bot.DefaultHeadBranch,
	LogFormat:           "fmt",
	RegistryRPS:         50,
	RegistryBurst:       10,
	RegistryTimeout:     update.DefaultTimeout,
	RegistryConcurrency: update.DefaultConcurrency,
	RegistryHubPages:    5,
	RegistryOCIMaxTags:  50,
	MemcachedPort:       11211,
	MemcachedTimeout:    time.Second,
	MemcachedTTL:        time.Hour,
}

// WithDefaults returns the config with any zero values replaced by
// those in Defaults. Lists given as a single comma-separated string
// are split, and their elements trimmed.
func (c Config) WithDefaults() (Config, error) {
	if err := mergo.Merge(&c, Defaults); err != nil {
		return c, errors.Wrap(err, "applying defaults")
	}
	c.Labels = splitList(c.Labels)
	c.Reviewers = splitList(c.Reviewers)
	c.TeamReviewers = splitList(c.TeamReviewers)
	c.RegistryInsecureHost = splitList(c.RegistryInsecureHost)
	c.RegistryOCIHost = splitList(c.RegistryOCIHost)
	return c, nil
}

func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, item := range strings.Split(s, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}

// Validate checks everything needed for a run against a repository,
// and reports all the problems found at once.
func (c Config) Validate() error {
	var problems []string
	require := func(value, flag string) {
		if value == "" {
			problems = append(problems, "--"+flag+" must be set")
		}
	}
	require(c.ConfigPath, "config-path")
	require(c.GitHubToken, "github-token")
	require(c.BaseBranch, "base-branch")
	if c.Repository == "" {
		problems = append(problems, "--repository must be set")
	} else if _, err := github.ParseRepository(c.Repository); err != nil {
		problems = append(problems, err.Error())
	}
	problems = append(problems, c.commonProblems()...)
	return invalid(problems)
}

// ValidateLocal checks what's needed to look at a local file.
func (c Config) ValidateLocal() error {
	return invalid(c.commonProblems())
}

func (c Config) commonProblems() []string {
	var problems []string
	if c.ImagesInfo == "" {
		problems = append(problems, "--images-info must be set")
	} else if _, err := update.ParseTrackedPaths([]byte(c.ImagesInfo)); err != nil {
		problems = append(problems, errors.Cause(err).Error())
	}
	switch c.LogFormat {
	case "", "fmt", "json":
	default:
		problems = append(problems, "--log-format must be one of fmt, json")
	}
	if c.RegistryRPS < 0 {
		problems = append(problems, "--registry-rps must not be negative")
	}
	if c.RegistryConcurrency < 0 {
		problems = append(problems, "--registry-concurrency must not be negative")
	}
	return problems
}

func invalid(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return &fluxerr.Error{
		Type: fluxerr.User,
		Err:  errors.Errorf("invalid configuration: %s", strings.Join(problems, "; ")),
		Help: `Invalid configuration

Each setting can be given as a flag, or an environment variable named
after the flag, e.g., INPUT_CONFIG_PATH for --config-path. The problems
found were:

    ` + strings.Join(problems, "\n    ") + `
`,
	}
}

// TrackedPaths parses ImagesInfo.
func (c Config) TrackedPaths() ([]update.TrackedPath, error) {
	return update.ParseTrackedPaths([]byte(c.ImagesInfo))
}

// BotOptions translates the config into options for a run.
func (c Config) BotOptions() (bot.Options, error) {
	repo, err := github.ParseRepository(c.Repository)
	if err != nil {
		return bot.Options{}, err
	}
	tracked, err := c.TrackedPaths()
	if err != nil {
		return bot.Options{}, err
	}
	return bot.Options{
		Repository:      repo,
		ConfigPath:      c.ConfigPath,
		Tracked:         tracked,
		BaseBranch:      c.BaseBranch,
		HeadBranch:      c.HeadBranch,
		Labels:          c.Labels,
		Reviewers:       c.Reviewers,
		TeamReviewers:   c.TeamReviewers,
		PushToUsersFork: c.PushToUsersFork,
		DryRun:          c.DryRun,
		AllowPartial:    c.AllowPartial,
		Resolve:         c.ResolveOptions(),
	}, nil
}

func (c Config) ResolveOptions() update.ResolveOptions {
	return update.ResolveOptions{
		Concurrency: c.RegistryConcurrency,
		Timeout:     c.RegistryTimeout,
	}
}
