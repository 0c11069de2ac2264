package config

import (
	"testing"
	"time"

	"github.com/lithammer/dedent"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testConfigPath = "/home/user/.wavectl.yaml"
	testEnvPath    = "/work/.env"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name       string
		configFile string
		envFile    string
		env        map[string]string
		exp        Config
		expPoll    time.Duration
		expErr     bool
	}{
		{
			name: "Defaults",
			exp: Config{
				Namespace: DefaultNamespace,
				Source:    SourceDashboard,
			},
			expPoll: DefaultPollInterval,
		},
		{
			name: "ConfigFile",
			configFile: dedent.Dedent(`
				dashboardURL: http://dashboard:8088
				token: file-token
				namespace: juicefs
				source: kube
				pollInterval: 500ms
				`),
			exp: Config{
				DashboardURL: "http://dashboard:8088",
				Token:        "file-token",
				Namespace:    "juicefs",
				Source:       SourceKube,
				PollInterval: "500ms",
			},
			expPoll: 500 * time.Millisecond,
		},
		{
			name: "EnvOverridesDotenvOverridesFile",
			configFile: dedent.Dedent(`
				dashboardURL: http://from-file
				token: file-token
				`),
			envFile: dedent.Dedent(`
				WAVECTL_DASHBOARD_URL=http://from-dotenv
				WAVECTL_TOKEN=dotenv-token
				`),
			env: map[string]string{
				EnvToken: "env-token",
			},
			exp: Config{
				DashboardURL: "http://from-dotenv",
				Token:        "env-token",
				Namespace:    DefaultNamespace,
				Source:       SourceDashboard,
			},
			expPoll: DefaultPollInterval,
		},
		{
			name:   "UnknownSource",
			env:    map[string]string{EnvSource: "grpc"},
			expErr: true,
		},
		{
			name:   "BadPollInterval",
			env:    map[string]string{EnvPollInterval: "often"},
			expErr: true,
		},
		{
			name:       "BadYAML",
			configFile: "dashboardURL: [",
			expErr:     true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			if test.configFile != "" {
				require.NoError(t, afero.WriteFile(fs, testConfigPath, []byte(test.configFile), 0600))
			}
			if test.envFile != "" {
				require.NoError(t, afero.WriteFile(fs, testEnvPath, []byte(test.envFile), 0600))
			}
			lookupEnv := func(key string) (string, bool) {
				val, ok := test.env[key]
				return val, ok
			}

			config, err := Load(fs, testConfigPath, testEnvPath, lookupEnv)
			if test.expErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expPoll, config.Poll())

			config.pollInterval = 0
			assert.Equal(t, test.exp, config)
		})
	}
}

func TestDashboardRequiresURL(t *testing.T) {
	_, err := Config{}.Dashboard()
	assert.Error(t, err)

	client, err := Config{DashboardURL: "http://dashboard:8088", Token: "t"}.Dashboard()
	require.NoError(t, err)
	assert.NotNil(t, client)

	backend, err := Config{DashboardURL: "http://dashboard:8088", Source: SourceDashboard}.Backend()
	require.NoError(t, err)
	assert.NotNil(t, backend)
}
