// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import "google.golang.org/protobuf/types/known/durationpb"

// Bootstrap is the root configuration structure.
type Bootstrap struct {
	Server     *Server
	Data       *Data
	Resilience *Resilience
	Rollout    *Rollout
	Log        *Log
}

// Server holds transport server configuration.
type Server struct {
	Http *Server_HTTP
}

// Server_HTTP holds the HTTP server configuration.
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Data holds data layer configuration.
type Data struct {
	Database   *Data_Database
	Redis      *Data_Redis
	Downstream *Data_Downstream
}

// Data_Database holds the archive database configuration. The database is an
// optional durability extension: when Source is empty the archive is disabled
// and the ledger/DLQ stay in memory only.
type Data_Database struct {
	Driver string
	Source string
}

// Data_Downstream holds the endpoint of the wrapped downstream dependency.
// Addr may be empty in library-style deployments where the host process
// supplies its own downstream function.
type Data_Downstream struct {
	Addr    string
	Timeout *durationpb.Duration
}

// Data_Redis holds the Redis configuration for the telemetry snapshot
// publisher, the event notifier channel and the change-freeze flag.
type Data_Redis struct {
	Network      string
	Addr         string
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Resilience holds circuit breaker and backlog tuning. All values here are
// operational thresholds, not algorithmic constants.
type Resilience struct {
	Breaker *Resilience_Breaker
	Backlog *Resilience_Backlog
}

// Resilience_Breaker tunes the circuit breaker state machine.
type Resilience_Breaker struct {
	// FailureThreshold failures within FailureWindow trip the breaker.
	FailureThreshold int
	FailureWindow    *durationpb.Duration
	// OpenDuration is how long the breaker stays open before the next call
	// lazily moves it to half-open.
	OpenDuration *durationpb.Duration
	// ProbeInterval limits half-open probes to one per interval.
	ProbeInterval *durationpb.Duration
	// CloseThreshold consecutive probe successes close the breaker.
	CloseThreshold int
	// CallTimeout bounds every downstream attempt.
	CallTimeout *durationpb.Duration
	// MetricsWindowSize is the ring buffer capacity for latency samples.
	MetricsWindowSize int
}

// Resilience_Backlog tunes the backlog queue and drainer.
type Resilience_Backlog struct {
	MaxAttempts int
	BackoffBase *durationpb.Duration
	BackoffCap  *durationpb.Duration
	// DrainBatch is the maximum entries retried per drain tick.
	DrainBatch int
	// LatencyCeilingMs skips the whole drain batch while live P95 exceeds it.
	LatencyCeilingMs float64
	// CompletedKeyCache is the LRU capacity for recently completed keys.
	CompletedKeyCache int
}

// Rollout tunes the green window tracker and the rollout gate.
type Rollout struct {
	Green *Rollout_Green
	Gate  *Rollout_Gate
}

// Rollout_Green holds the green predicate thresholds and the soak target.
type Rollout_Green struct {
	ThresholdP95Ms float64
	ThresholdErr   float64
	Target         *durationpb.Duration
}

// Rollout_Gate holds the conjunctive gate criteria ceilings.
type Rollout_Gate struct {
	// Dwell is the minimum continuous time the breaker must be closed and the
	// backlog under its ceiling before the gate can pass.
	Dwell          *durationpb.Duration
	BacklogCeiling int
	// MaxHourlyOpens and MaxDLQDepth are the budget criteria.
	MaxHourlyOpens int
	MaxDLQDepth    int
	// Stages is the staged ramp plan in traffic percentages.
	Stages []int
}

// Log holds logging configuration.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}
