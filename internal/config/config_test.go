package config

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_FullFile(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  port: 9000
  read_timeout: 45s
model:
  provider: anthropic
  name: claude-haiku-4-5
  max_tokens: 1024
  timeout: 2m
  retries: 2
  reasoning:
    enabled: true
    token_threshold: 300
security:
  rate_per_minute: 30
  rate_burst: 10
  injection_scan: true
budget:
  enabled: true
  session_cap: 2.5
store:
  driver: sqlite
  path: /tmp/sessions.db
inventory:
  endpoint: https://inventory.internal
  api_key: inv-key
features:
  weather_tool: true
pricing:
  custom-model:
    input_per_mtok: 1.5
    output_per_mtok: 7.5
`))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout.D())
	assert.Equal(t, "claude-haiku-4-5", cfg.Model.Name)
	assert.Equal(t, 2*time.Minute, cfg.Model.Timeout.D())
	assert.Equal(t, 2, cfg.Model.Retries)
	assert.True(t, cfg.Model.Reasoning.Enabled)
	assert.Equal(t, 300, cfg.Model.Reasoning.TokenThreshold)
	assert.Equal(t, 30, cfg.Security.RatePerMinute)
	assert.True(t, cfg.Budget.Enabled)
	assert.Equal(t, 2.5, cfg.Budget.SessionCap)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "https://inventory.internal", cfg.Inventory.Endpoint)
	assert.True(t, cfg.FeatureEnabled("weather_tool"))
	assert.False(t, cfg.FeatureEnabled("unknown_flag"))
	assert.Equal(t, 1.5, cfg.Pricing["custom-model"].InputPerMTok)
}

func TestParse_PartialFileGetsDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
model:
  name: claude-sonnet-4-5
`))
	require.NoError(t, err)

	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, DefaultModelTimeout, cfg.Model.Timeout.D())
	assert.Equal(t, DefaultMaxToolLoops, cfg.Loop.MaxToolLoops)
	assert.Equal(t, DefaultRatePerMinute, cfg.Security.RatePerMinute)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, DefaultAnalyticsInterval, cfg.Analytics.Interval.D())
	assert.NotNil(t, cfg.Features)
}

func TestParse_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-from-env")
	t.Setenv("TEST_ENDPOINT", "https://risk.example.com")

	cfg, err := Parse([]byte(`
model:
  api_key: ${TEST_API_KEY}
risk:
  endpoint: ${TEST_ENDPOINT}
`))
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.Model.APIKey)
	assert.Equal(t, "https://risk.example.com", cfg.Risk.Endpoint)
}

func TestParse_UnsetEnvVarExpandsEmpty(t *testing.T) {
	os.Unsetenv("DEFINITELY_NOT_SET_ANYWHERE")
	cfg, err := Parse([]byte(`
model:
  api_key: "${DEFINITELY_NOT_SET_ANYWHERE}"
`))
	require.NoError(t, err)
	assert.Empty(t, cfg.Model.APIKey)
}

func TestDuration_Forms(t *testing.T) {
	cfg, err := Parse([]byte(`
model:
  timeout: 90s
  backoff: 250ms
loop:
  tool_timeout: 20
`))
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Model.Timeout.D())
	assert.Equal(t, 250*time.Millisecond, cfg.Model.Backoff.D())
	assert.Equal(t, 20*time.Second, cfg.Loop.ToolTimeout.D(), "bare numbers are seconds")
}

func TestDuration_Invalid(t *testing.T) {
	_, err := Parse([]byte(`
model:
  timeout: ninety seconds
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestValidate_Rejections(t *testing.T) {
	cases := map[string]struct {
		yaml string
		want string
	}{
		"bad provider": {
			yaml: "model:\n  provider: openai\n  name: gpt",
			want: "model.provider",
		},
		"missing model name": {
			yaml: "model:\n  provider: anthropic\n  name: \"\"",
			want: "model.name",
		},
		"negative retries": {
			yaml: "model:\n  retries: -1",
			want: "model.retries",
		},
		"bad port": {
			yaml: "server:\n  port: 70000",
			want: "server.port",
		},
		"negative session cap": {
			yaml: "budget:\n  session_cap: -1",
			want: "budget.session_cap",
		},
		"unknown store driver": {
			yaml: "store:\n  driver: postgres",
			want: "store.driver",
		},
		"sqlite without path": {
			yaml: "store:\n  driver: sqlite",
			want: "store.path",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestProvider_RefreshAfterTTL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concierge.yaml")
	write := func(port int) {
		require.NoError(t, os.WriteFile(path, []byte("server:\n  port: "+strconv.Itoa(port)+"\n"), 0o600))
	}
	write(9100)

	p, err := NewProvider(path, 30*time.Second)
	require.NoError(t, err)

	clock := time.Now()
	p.now = func() time.Time { return clock }
	p.refreshed = clock

	assert.Equal(t, 9100, p.Snapshot().Server.Port)

	// Changing the file inside the TTL is not observed.
	write(9200)
	assert.Equal(t, 9100, p.Snapshot().Server.Port)

	clock = clock.Add(31 * time.Second)
	assert.Equal(t, 9200, p.Snapshot().Server.Port)
}

func TestProvider_FailedRefreshKeepsLastGood(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concierge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9100\n"), 0o600))

	p, err := NewProvider(path, 30*time.Second)
	require.NoError(t, err)

	clock := time.Now()
	p.now = func() time.Time { return clock }
	p.refreshed = clock

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 70000\n"), 0o600))
	clock = clock.Add(31 * time.Second)
	assert.Equal(t, 9100, p.Snapshot().Server.Port, "invalid file keeps the previous snapshot")
}

func TestStaticProvider_NeverReloads(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 9999
	p := NewStaticProvider(cfg)
	assert.Same(t, cfg, p.Snapshot())
}
