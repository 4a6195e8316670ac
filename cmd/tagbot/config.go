package main

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fluxcd/tagbot/pkg/config"
)

// envName gives the environment variable for a flag, following the
// convention for GitHub Action inputs.
func envName(flagName string) string {
	return config.EnvPrefix + "_" + strings.ToUpper(strings.Replace(flagName, "-", "_", -1))
}

// defineConfigFlags defines the flags that can also be set in a config
// file or in the environment. These need special treatment, because
// some care must be taken to match them ("bind") with config file
// field names.
func defineConfigFlags(v *viper.Viper, fs *pflag.FlagSet, bail func(error)) {

	bind := func(fieldName, flagName string) error {
		configStruct := reflect.TypeOf(config.Config{})
		field, ok := configStruct.FieldByName(fieldName)
		if !ok {
			return fmt.Errorf("attempt to bind a flag to a field not present in config.Config, %q", fieldName)
		}
		tag := field.Tag
		// this parallels the logic in
		// github.com/mitchellh/mapstructure, except that we want to
		// bail if a field is mentioned that is marked ignore, like
		// this: `mapstructure:"-"`
		mappedName := field.Name
		mapstructureTagParts := strings.Split(tag.Get("mapstructure"), ",")
		if namePart := mapstructureTagParts[0]; namePart != "" {
			if namePart == "-" { // means ignore this field
				return fmt.Errorf(`attempt to bind a flag to a config field tagged as ignored, %q`, field.Name)
			}
			mappedName = namePart
		}
		if err := v.BindPFlag(mappedName, fs.Lookup(flagName)); err != nil {
			return err
		}
		return v.BindEnv(mappedName, envName(flagName))
	}

	bindOrBail := func(fieldName, flagName string) {
		if err := bind(fieldName, flagName); err != nil {
			bail(err)
		}
	}

	defineString := func(fieldName, flagName, def, desc string) {
		fs.String(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineStringSlice := func(fieldName, flagName string, def []string, desc string) {
		fs.StringSlice(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineBool := func(fieldName, flagName string, def bool, desc string) {
		fs.Bool(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineDuration := func(fieldName, flagName string, def time.Duration, desc string) {
		fs.Duration(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineInt := func(fieldName, flagName string, def int, desc string) {
		fs.Int(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	defineFloat64 := func(fieldName, flagName string, def float64, desc string) {
		fs.Float64(flagName, def, desc)
		bindOrBail(fieldName, flagName)
	}

	d := config.Defaults

	// what to update
	defineString("ConfigPath", "config-path", "", "path of the config file to update, relative to the root of the repository")
	defineString("ImagesInfo", "images-info", "", `tracked paths, as a JSON or YAML list; e.g., [{"values_path": ".singleuser.image", "regexpr": "\\d+\\.\\d+"}]`)

	// GitHub
	defineString("GitHubToken", "github-token", "", "token for the GitHub API; also used for ghcr.io package versions")
	defineString("GitHubAPI", "github-api", "", "base URL of the GitHub API, for GitHub Enterprise")
	defineString("Repository", "repository", "", "repository holding the config file, as owner/name or a git URL")
	defineString("BaseBranch", "base-branch", d.BaseBranch, "branch to read the config file from, and to open pull requests against")
	defineString("HeadBranch", "head-branch", d.HeadBranch, "prefix of the branch to push changes to; the config path is appended")
	defineStringSlice("Labels", "labels", nil, "labels to add to a new pull request; they must already exist")
	defineStringSlice("Reviewers", "reviewers", nil, "users to request reviews of a new pull request from")
	defineStringSlice("TeamReviewers", "team-reviewers", nil, "teams to request reviews of a new pull request from")
	defineString("PushToUsersFork", "push-to-users-fork", "", "push changes to this user's fork of the repository, creating it if necessary")
	defineBool("DryRun", "dry-run", false, "report what would be updated, but don't commit anything or open a pull request")
	defineBool("AllowPartial", "allow-partial", false, "succeed even if some registries could not be queried")

	defineString("LogFormat", "log-format", d.LogFormat, "change the log format (fmt or json)")
	defineString("MetricsPushURL", "metrics-push-url", "", "push metrics to the Prometheus Pushgateway at this URL when done")

	// registry
	defineFloat64("RegistryRPS", "registry-rps", d.RegistryRPS, "maximum registry requests per second per host")
	defineInt("RegistryBurst", "registry-burst", d.RegistryBurst, "maximum burst of registry requests per host")
	defineBool("RegistryTrace", "registry-trace", false, "output trace of image registry requests to log")
	defineDuration("RegistryTimeout", "registry-timeout", d.RegistryTimeout, "maximum time to spend looking up the tags of each image, including retries")
	defineInt("RegistryConcurrency", "registry-concurrency", d.RegistryConcurrency, "maximum number of images looked up at once")
	defineStringSlice("RegistryInsecureHost", "registry-insecure-host", nil, "let these registry hosts skip TLS host verification; this allows man-in-the-middle attacks, so use with extreme caution")
	defineStringSlice("RegistryOCIHost", "registry-oci-host", nil, "registry hosts to query with the Docker registry API, e.g., a private registry")
	defineInt("RegistryHubPages", "registry-hub-pages", d.RegistryHubPages, "maximum number of pages of tags to fetch from Docker Hub, newest first")
	defineInt("RegistryOCIMaxTags", "registry-oci-max-tags", d.RegistryOCIMaxTags, "maximum number of tags to look at the creation time of, for registries without tag timestamps")
	defineString("DockerConfig", "docker-config", "", "path to a docker config to use for image registry credentials")

	defineString("MemcachedHostname", "memcached-hostname", "", "hostname for memcached service; if empty, tags are not cached")
	defineInt("MemcachedPort", "memcached-port", d.MemcachedPort, "memcached service port")
	defineDuration("MemcachedTimeout", "memcached-timeout", d.MemcachedTimeout, "maximum time to wait before giving up on memcached requests")
	defineString("MemcachedService", "memcached-service", "", "SRV service used to discover memcache servers; if empty, --memcached-hostname and --memcached-port are used directly")
	defineDuration("MemcachedTTL", "memcached-ttl", d.MemcachedTTL, "how long to trust cached tag lists")
}

// loadConfig reads the config file, if any, then unmarshals the
// settings from all sources.
func loadConfig(v *viper.Viper, configFile string) (config.Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType(config.ConfigType)
		if err := v.ReadInConfig(); err != nil {
			return config.Config{}, errors.Wrapf(err, "reading config file %s", configFile)
		}
	}
	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return config.Config{}, errors.Wrap(err, "decoding config")
	}
	return cfg.WithDefaults()
}
