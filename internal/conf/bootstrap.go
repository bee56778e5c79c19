package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies
// defaults, and allows overrides from environment variables prefixed with
// SOAKGATE_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
//
// The database source is optional: without it the ledger/DLQ archive is
// disabled and the core runs fully in memory.
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	setDefaults(v)

	// Enable environment variable support with SOAKGATE_ prefix
	v.SetEnvPrefix("SOAKGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow direct environment variable names for deployment compatibility
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "SOAKGATE_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "REDIS_ADDR", "SOAKGATE_DATA_REDIS_ADDR")
	_ = v.BindEnv("data.downstream.addr", "DOWNSTREAM_ADDR", "SOAKGATE_DATA_DOWNSTREAM_ADDR")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
			Downstream: &Data_Downstream{
				Addr:    v.GetString("data.downstream.addr"),
				Timeout: durationpb.New(v.GetDuration("data.downstream.timeout")),
			},
		},
		Resilience: &Resilience{
			Breaker: &Resilience_Breaker{
				FailureThreshold:  v.GetInt("resilience.breaker.failure_threshold"),
				FailureWindow:     durationpb.New(v.GetDuration("resilience.breaker.failure_window")),
				OpenDuration:      durationpb.New(v.GetDuration("resilience.breaker.open_duration")),
				ProbeInterval:     durationpb.New(v.GetDuration("resilience.breaker.probe_interval")),
				CloseThreshold:    v.GetInt("resilience.breaker.close_threshold"),
				CallTimeout:       durationpb.New(v.GetDuration("resilience.breaker.call_timeout")),
				MetricsWindowSize: v.GetInt("resilience.breaker.metrics_window_size"),
			},
			Backlog: &Resilience_Backlog{
				MaxAttempts:       v.GetInt("resilience.backlog.max_attempts"),
				BackoffBase:       durationpb.New(v.GetDuration("resilience.backlog.backoff_base")),
				BackoffCap:        durationpb.New(v.GetDuration("resilience.backlog.backoff_cap")),
				DrainBatch:        v.GetInt("resilience.backlog.drain_batch"),
				LatencyCeilingMs:  v.GetFloat64("resilience.backlog.latency_ceiling_ms"),
				CompletedKeyCache: v.GetInt("resilience.backlog.completed_key_cache"),
			},
		},
		Rollout: &Rollout{
			Green: &Rollout_Green{
				ThresholdP95Ms: v.GetFloat64("rollout.green.threshold_p95_ms"),
				ThresholdErr:   v.GetFloat64("rollout.green.threshold_err"),
				Target:         durationpb.New(v.GetDuration("rollout.green.target")),
			},
			Gate: &Rollout_Gate{
				Dwell:          durationpb.New(v.GetDuration("rollout.gate.dwell")),
				BacklogCeiling: v.GetInt("rollout.gate.backlog_ceiling"),
				MaxHourlyOpens: v.GetInt("rollout.gate.max_hourly_opens"),
				MaxDLQDepth:    v.GetInt("rollout.gate.max_dlq_depth"),
				Stages:         v.GetIntSlice("rollout.gate.stages"),
			},
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
	}

	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values. The resilience and rollout
// defaults mirror the documented operating points; all of them are expected
// to be tuned per deployment.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 30*time.Second)

	// Data defaults
	v.SetDefault("data.database.driver", "mysql")
	// Note: data.database.source (MYSQL_DSN) is optional; empty disables the archive

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	// Note: data.downstream.addr is optional; empty means the host process
	// supplies its own downstream function
	v.SetDefault("data.downstream.timeout", 10*time.Second)

	// Breaker defaults
	v.SetDefault("resilience.breaker.failure_threshold", 3)
	v.SetDefault("resilience.breaker.failure_window", 60*time.Second)
	v.SetDefault("resilience.breaker.open_duration", 5*time.Minute)
	v.SetDefault("resilience.breaker.probe_interval", 30*time.Second)
	v.SetDefault("resilience.breaker.close_threshold", 2)
	v.SetDefault("resilience.breaker.call_timeout", 10*time.Second)
	v.SetDefault("resilience.breaker.metrics_window_size", 1000)

	// Backlog defaults
	v.SetDefault("resilience.backlog.max_attempts", 10)
	v.SetDefault("resilience.backlog.backoff_base", 2*time.Second)
	v.SetDefault("resilience.backlog.backoff_cap", 120*time.Second)
	v.SetDefault("resilience.backlog.drain_batch", 5)
	v.SetDefault("resilience.backlog.latency_ceiling_ms", 1250.0)
	v.SetDefault("resilience.backlog.completed_key_cache", 4096)

	// Rollout defaults
	v.SetDefault("rollout.green.threshold_p95_ms", 1250.0)
	v.SetDefault("rollout.green.threshold_err", 0.005)
	v.SetDefault("rollout.green.target", 30*time.Minute)

	v.SetDefault("rollout.gate.dwell", 10*time.Minute)
	v.SetDefault("rollout.gate.backlog_ceiling", 10)
	v.SetDefault("rollout.gate.max_hourly_opens", 3)
	v.SetDefault("rollout.gate.max_dlq_depth", 0)
	v.SetDefault("rollout.gate.stages", []int{1, 5, 25, 100})

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that all required configuration fields are present and
// internally consistent. It returns an error listing every violation.
func Validate(bc *Bootstrap) error {
	var problems []string

	if bc.Resilience == nil || bc.Resilience.Breaker == nil {
		problems = append(problems, "resilience.breaker section missing")
	} else {
		b := bc.Resilience.Breaker
		if b.FailureThreshold <= 0 {
			problems = append(problems, "resilience.breaker.failure_threshold must be positive")
		}
		if b.CloseThreshold <= 0 {
			problems = append(problems, "resilience.breaker.close_threshold must be positive")
		}
		if b.CallTimeout.AsDuration() <= 0 {
			problems = append(problems, "resilience.breaker.call_timeout must be positive")
		}
	}

	if bc.Resilience == nil || bc.Resilience.Backlog == nil {
		problems = append(problems, "resilience.backlog section missing")
	} else {
		b := bc.Resilience.Backlog
		if b.MaxAttempts <= 0 {
			problems = append(problems, "resilience.backlog.max_attempts must be positive")
		}
		if b.BackoffCap.AsDuration() < b.BackoffBase.AsDuration() {
			problems = append(problems, "resilience.backlog.backoff_cap must be >= backoff_base")
		}
	}

	if bc.Rollout == nil || bc.Rollout.Green == nil || bc.Rollout.Green.Target.AsDuration() <= 0 {
		problems = append(problems, "rollout.green.target must be positive")
	}

	if bc.Rollout != nil && bc.Rollout.Gate != nil {
		prev := 0
		for _, s := range bc.Rollout.Gate.Stages {
			if s <= prev || s > 100 {
				problems = append(problems, "rollout.gate.stages must be strictly increasing percentages up to 100")
				break
			}
			prev = s
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, ", "))
	}

	return nil
}
