package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))
	return configPath
}

func TestNewBootstrap_Defaults(t *testing.T) {
	configPath := writeConfig(t, `server:
  http:
    addr: :8080
data:
  redis:
    addr: 127.0.0.1:6379
`)

	bc, err := NewBootstrap(configPath)
	require.NoError(t, err)
	require.NotNil(t, bc)

	// Server defaults
	assert.Equal(t, ":8080", bc.Server.Http.Addr)
	assert.Equal(t, "tcp", bc.Server.Http.Network)
	assert.Equal(t, 30*time.Second, bc.Server.Http.Timeout.AsDuration())

	// Data defaults: database source is optional (archive disabled)
	assert.Equal(t, "mysql", bc.Data.Database.Driver)
	assert.Equal(t, "127.0.0.1:6379", bc.Data.Redis.Addr)
	assert.Equal(t, 200*time.Millisecond, bc.Data.Redis.ReadTimeout.AsDuration())
	assert.Equal(t, 10*time.Second, bc.Data.Downstream.Timeout.AsDuration())

	// Breaker defaults
	b := bc.Resilience.Breaker
	assert.Equal(t, 3, b.FailureThreshold)
	assert.Equal(t, 60*time.Second, b.FailureWindow.AsDuration())
	assert.Equal(t, 5*time.Minute, b.OpenDuration.AsDuration())
	assert.Equal(t, 30*time.Second, b.ProbeInterval.AsDuration())
	assert.Equal(t, 2, b.CloseThreshold)
	assert.Equal(t, 10*time.Second, b.CallTimeout.AsDuration())
	assert.Equal(t, 1000, b.MetricsWindowSize)

	// Backlog defaults
	bl := bc.Resilience.Backlog
	assert.Equal(t, 10, bl.MaxAttempts)
	assert.Equal(t, 2*time.Second, bl.BackoffBase.AsDuration())
	assert.Equal(t, 120*time.Second, bl.BackoffCap.AsDuration())
	assert.Equal(t, 5, bl.DrainBatch)
	assert.Equal(t, 1250.0, bl.LatencyCeilingMs)
	assert.Equal(t, 4096, bl.CompletedKeyCache)

	// Rollout defaults
	assert.Equal(t, 1250.0, bc.Rollout.Green.ThresholdP95Ms)
	assert.Equal(t, 0.005, bc.Rollout.Green.ThresholdErr)
	assert.Equal(t, 30*time.Minute, bc.Rollout.Green.Target.AsDuration())
	assert.Equal(t, 10*time.Minute, bc.Rollout.Gate.Dwell.AsDuration())
	assert.Equal(t, 10, bc.Rollout.Gate.BacklogCeiling)
	assert.Equal(t, 3, bc.Rollout.Gate.MaxHourlyOpens)
	assert.Equal(t, 0, bc.Rollout.Gate.MaxDLQDepth)
	assert.Equal(t, []int{1, 5, 25, 100}, bc.Rollout.Gate.Stages)

	// Log defaults
	assert.Equal(t, "info", bc.Log.Level)
	assert.Equal(t, "json", bc.Log.Format)
}

func TestNewBootstrap_FileOverrides(t *testing.T) {
	configPath := writeConfig(t, `resilience:
  breaker:
    failure_threshold: 5
    open_duration: 2m
  backlog:
    max_attempts: 4
rollout:
  green:
    target: 15m
  gate:
    stages: [10, 50, 100]
`)

	bc, err := NewBootstrap(configPath)
	require.NoError(t, err)

	assert.Equal(t, 5, bc.Resilience.Breaker.FailureThreshold)
	assert.Equal(t, 2*time.Minute, bc.Resilience.Breaker.OpenDuration.AsDuration())
	assert.Equal(t, 4, bc.Resilience.Backlog.MaxAttempts)
	assert.Equal(t, 15*time.Minute, bc.Rollout.Green.Target.AsDuration())
	assert.Equal(t, []int{10, 50, 100}, bc.Rollout.Gate.Stages)

	// Untouched keys keep their defaults.
	assert.Equal(t, 30*time.Second, bc.Resilience.Breaker.ProbeInterval.AsDuration())
}

func TestNewBootstrap_EnvOverrides(t *testing.T) {
	configPath := writeConfig(t, `server:
  http:
    addr: :8080
`)

	t.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/soakgate")
	t.Setenv("REDIS_ADDR", "redis.internal:6379")
	t.Setenv("DOWNSTREAM_ADDR", "http://provider.internal/invoke")
	t.Setenv("SOAKGATE_LOG_LEVEL", "debug")

	bc, err := NewBootstrap(configPath)
	require.NoError(t, err)

	assert.Equal(t, "user:pass@tcp(localhost:3306)/soakgate", bc.Data.Database.Source)
	assert.Equal(t, "redis.internal:6379", bc.Data.Redis.Addr)
	assert.Equal(t, "http://provider.internal/invoke", bc.Data.Downstream.Addr)
	assert.Equal(t, "debug", bc.Log.Level)
}

func TestNewBootstrap_MissingFile(t *testing.T) {
	_, err := NewBootstrap("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Bootstrap)
	}{
		{
			name:   "zero failure threshold",
			mutate: func(bc *Bootstrap) { bc.Resilience.Breaker.FailureThreshold = 0 },
		},
		{
			name:   "zero close threshold",
			mutate: func(bc *Bootstrap) { bc.Resilience.Breaker.CloseThreshold = 0 },
		},
		{
			name:   "zero max attempts",
			mutate: func(bc *Bootstrap) { bc.Resilience.Backlog.MaxAttempts = 0 },
		},
		{
			name: "backoff cap below base",
			mutate: func(bc *Bootstrap) {
				bc.Resilience.Backlog.BackoffBase = bc.Resilience.Backlog.BackoffCap
				bc.Resilience.Backlog.BackoffCap = nil
			},
		},
		{
			name:   "non-increasing stages",
			mutate: func(bc *Bootstrap) { bc.Rollout.Gate.Stages = []int{5, 5, 100} },
		},
		{
			name:   "stage above 100",
			mutate: func(bc *Bootstrap) { bc.Rollout.Gate.Stages = []int{1, 150} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bc, err := NewBootstrap(writeConfig(t, "server:\n  http:\n    addr: :8080\n"))
			require.NoError(t, err)

			tt.mutate(bc)
			assert.Error(t, Validate(bc))
		})
	}
}
