// Package config loads the CLI's settings from ~/.wavectl.yaml, an optional
// .env file, and the environment, in increasing order of precedence.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/ghodss/yaml"
	"github.com/joho/godotenv"
	homedir "github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/kelda/wavectl/pkg/errors"
)

const (
	// SourceDashboard reads jobs through the dashboard's API.
	SourceDashboard = "dashboard"
	// SourceKube reads jobs directly from the cluster.
	SourceKube = "kube"

	DefaultNamespace    = "kube-system"
	DefaultPollInterval = 2 * time.Second

	configPath = "~/.wavectl.yaml"
	envPath    = ".env"
)

// Environment variables that override the config file.
const (
	EnvDashboardURL = "WAVECTL_DASHBOARD_URL"
	EnvToken        = "WAVECTL_TOKEN"
	EnvNamespace    = "WAVECTL_NAMESPACE"
	EnvSource       = "WAVECTL_SOURCE"
	EnvKubeContext  = "WAVECTL_KUBE_CONTEXT"
	EnvPollInterval = "WAVECTL_POLL_INTERVAL"
)

// Config is the CLI configuration.
type Config struct {
	DashboardURL string `json:"dashboardURL,omitempty"`
	Token        string `json:"token,omitempty"`
	Namespace    string `json:"namespace,omitempty"`
	Source       string `json:"source,omitempty"`
	KubeContext  string `json:"kubeContext,omitempty"`
	PollInterval string `json:"pollInterval,omitempty"`

	pollInterval time.Duration
}

// GetConfig loads the configuration of the current user.
func GetConfig() (Config, error) {
	path, err := homedir.Expand(configPath)
	if err != nil {
		return Config{}, errors.WithContext("expand config path", err)
	}
	return Load(afero.NewOsFs(), path, envPath, os.LookupEnv)
}

// Load reads the config file at path and the dotenv file at envFile, both of
// which are optional, and applies overrides from lookupEnv.
func Load(fs afero.Fs, path, envFile string,
	lookupEnv func(string) (string, bool)) (Config, error) {

	var config Config
	configBytes, err := afero.ReadFile(fs, path)
	switch {
	case os.IsNotExist(err):
		log.WithField("path", path).Debug("No config file")
	case err != nil:
		return Config{}, errors.WithContext("read config", err)
	default:
		if err := yaml.Unmarshal(configBytes, &config); err != nil {
			return Config{}, errors.NewFriendlyError("Failed to parse %s: %s", path, err)
		}
	}

	dotenv, err := readDotenv(fs, envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if val, ok := lookupEnv(key); ok {
			return val, true
		}
		val, ok := dotenv[key]
		return val, ok
	}
	overrides := map[string]*string{
		EnvDashboardURL: &config.DashboardURL,
		EnvToken:        &config.Token,
		EnvNamespace:    &config.Namespace,
		EnvSource:       &config.Source,
		EnvKubeContext:  &config.KubeContext,
		EnvPollInterval: &config.PollInterval,
	}
	for key, field := range overrides {
		if val, ok := lookup(key); ok {
			*field = val
		}
	}

	if err := config.applyDefaults(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func readDotenv(fs afero.Fs, path string) (map[string]string, error) {
	f, err := fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WithContext("open dotenv", err)
	}
	defer f.Close()

	env, err := godotenv.Parse(f)
	if err != nil {
		return nil, errors.NewFriendlyError("Failed to parse %s: %s", path, err)
	}
	return env, nil
}

func (config *Config) applyDefaults() error {
	config.DashboardURL = strings.TrimSpace(config.DashboardURL)
	if config.Namespace == "" {
		config.Namespace = DefaultNamespace
	}

	switch config.Source {
	case "":
		config.Source = SourceDashboard
	case SourceDashboard, SourceKube:
	default:
		return errors.NewFriendlyError("Unknown source %q. It must be either %q or %q.",
			config.Source, SourceDashboard, SourceKube)
	}

	config.pollInterval = DefaultPollInterval
	if config.PollInterval != "" {
		interval, err := time.ParseDuration(config.PollInterval)
		if err != nil || interval <= 0 {
			return errors.NewFriendlyError("Invalid poll interval %q. It must be a positive duration such as 2s.",
				config.PollInterval)
		}
		config.pollInterval = interval
	}
	return nil
}

// Poll returns how often jobs should be polled.
func (config Config) Poll() time.Duration {
	if config.pollInterval == 0 {
		return DefaultPollInterval
	}
	return config.pollInterval
}
