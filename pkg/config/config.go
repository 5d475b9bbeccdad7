package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/errs"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/types"
)

// SymbolConfig is the YAML shape for one desired subscription.
type SymbolConfig struct {
	Symbol          string `yaml:"symbol"`
	SecurityType    string `yaml:"securityType"`
	Venue           string `yaml:"venue"`
	PrimaryExchange string `yaml:"primaryExchange"`
	LocalSymbol     string `yaml:"localSymbol"`
	SubscribeTrades bool   `yaml:"subscribeTrades"`
	SubscribeDepth  bool   `yaml:"subscribeDepth"`
	DepthLevels     int    `yaml:"depthLevels"`
	Strike          string `yaml:"strike"` // decimal string, e.g. "185.00"
	Right           string `yaml:"right"`
	Expiry          string `yaml:"expiry"` // RFC3339 date
}

// ScheduleConfig is the YAML shape for one cron schedule definition.
type ScheduleConfig struct {
	ID             string            `yaml:"id"`
	Name           string            `yaml:"name"`
	CronExpression string            `yaml:"cronExpression"`
	TimeZone       string            `yaml:"timeZone"`
	TaskType       string            `yaml:"taskType"`
	Priority       string            `yaml:"priority"`
	Enabled        bool              `yaml:"enabled"`
	MaxDurationSec int               `yaml:"maxDurationSeconds"`
	MaxRetries     int               `yaml:"maxRetries"`
	Options        map[string]string `yaml:"options"`
}

// Tunables holds every numeric/bool/string knob that has a documented
// UPPER_SNAKE environment override, per spec.md §6.
type Tunables struct {
	PipelineCapacity      int           `yaml:"pipelineCapacity"`
	DrainTimeout          time.Duration `yaml:"drainTimeout"`
	HeartbeatInterval     time.Duration `yaml:"heartbeatInterval"`
	HeartbeatTimeout      time.Duration `yaml:"heartbeatTimeout"`
	MaxMissedHeartbeats   int           `yaml:"maxMissedHeartbeats"`
	EvaluationInterval    time.Duration `yaml:"evaluationInterval"`
	LatencyThresholdMs    int           `yaml:"latencyThresholdMs"`
	LatencyMaxMs          int           `yaml:"latencyMaxMs"`
	ErrorRateWindow       time.Duration `yaml:"errorRateWindow"`
	ErrorRateThreshold    float64       `yaml:"errorRateThreshold"`
	MaxReconnectsPerHour  int           `yaml:"maxReconnectsPerHour"`
	DegradationThreshold  float64       `yaml:"degradationThreshold"`
	FailoverThreshold     float64       `yaml:"failoverThreshold"`
	AlertDedupCooldown    time.Duration `yaml:"alertDedupCooldown"`
	AlertFlushWindow      time.Duration `yaml:"alertFlushWindow"`
	AlertMaxBatchSize     int           `yaml:"alertMaxBatchSize"`
	ValidatorCooldown     time.Duration `yaml:"validatorCooldown"`
	DivergenceWindow      time.Duration `yaml:"divergenceWindow"`
	DivergenceThresholdBp float64       `yaml:"divergenceThresholdBp"`
	CoordinatorHeartbeat  time.Duration `yaml:"coordinatorHeartbeat"`
	CoordinatorTTLFactor  int           `yaml:"coordinatorTtlFactor"`
	JobWorkerCount        int           `yaml:"jobWorkerCount"`
	JobRetryBase          time.Duration `yaml:"jobRetryBase"`
	JobRetryCap           time.Duration `yaml:"jobRetryCap"`
	MaxJobDuration        time.Duration `yaml:"maxJobDuration"`
}

// DefaultTunables returns the spec.md default values for every tunable.
func DefaultTunables() Tunables {
	return Tunables{
		PipelineCapacity:      100_000,
		DrainTimeout:          30 * time.Second,
		HeartbeatInterval:     30 * time.Second,
		HeartbeatTimeout:      60 * time.Second,
		MaxMissedHeartbeats:   3,
		EvaluationInterval:    30 * time.Second,
		LatencyThresholdMs:    200,
		LatencyMaxMs:          2000,
		ErrorRateWindow:       300 * time.Second,
		ErrorRateThreshold:    0.05,
		MaxReconnectsPerHour:  10,
		DegradationThreshold:  0.6,
		FailoverThreshold:     40,
		AlertDedupCooldown:    300 * time.Second,
		AlertFlushWindow:      30 * time.Second,
		AlertMaxBatchSize:     50,
		ValidatorCooldown:     10 * time.Second,
		DivergenceWindow:      5 * time.Second,
		DivergenceThresholdBp: 10,
		CoordinatorHeartbeat:  10 * time.Second,
		CoordinatorTTLFactor:  3,
		JobWorkerCount:        8,
		JobRetryBase:          30 * time.Second,
		JobRetryCap:           10 * time.Minute,
		MaxJobDuration:        2 * time.Hour,
	}
}

// Config is the full parsed configuration document.
type Config struct {
	DataRoot  string           `yaml:"dataRoot"`
	Symbols   []SymbolConfig   `yaml:"symbols"`
	Schedules []ScheduleConfig `yaml:"schedules"`
	Tunables  Tunables         `yaml:"tunables"`
}

// Load reads and parses a YAML config file at path, applies UPPER_SNAKE
// environment overrides on top, then validates the result. A malformed document
// or an invalid value is a Validation error per spec.md §7, surfaced
// immediately rather than defaulted away.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New(errs.KindValidation, fmt.Errorf("read config %q: %w", path, err))
	}

	cfg := &Config{Tunables: DefaultTunables()}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errs.New(errs.KindValidation, fmt.Errorf("parse config %q: %w", path, err))
	}

	applyEnvOverrides(&cfg.Tunables)

	if err := cfg.Validate(); err != nil {
		return nil, errs.New(errs.KindValidation, err)
	}
	return cfg, nil
}

// Validate checks structural invariants that must hold before the engine
// starts: every option symbol carries all four option fields together
// (spec.md §3), and depth-subscribed equities declare a positive level
// count.
func (c *Config) Validate() error {
	if c.DataRoot == "" {
		return fmt.Errorf("dataRoot is required")
	}
	for _, s := range c.Symbols {
		spec, err := s.ToSymbolSpec()
		if err != nil {
			return fmt.Errorf("symbol %q: %w", s.Symbol, err)
		}
		if !spec.HasCompleteOptionFields() {
			return fmt.Errorf("symbol %q: option fields (strike, right, expiry, localSymbol) must all be set together", s.Symbol)
		}
		if spec.SubscribeDepth && spec.DepthLevels <= 0 {
			return fmt.Errorf("symbol %q: subscribeDepth requires depthLevels > 0", s.Symbol)
		}
	}
	for _, sch := range c.Schedules {
		if sch.CronExpression == "" {
			return fmt.Errorf("schedule %q: cronExpression is required", sch.ID)
		}
		if sch.TimeZone == "" {
			return fmt.Errorf("schedule %q: timeZone is required", sch.ID)
		}
	}
	return nil
}

// ToSymbolSpec converts the YAML shape into the domain type, parsing the
// decimal strike into the fixed-point representation (strike * 10000).
func (s *SymbolConfig) ToSymbolSpec() (*types.SymbolSpec, error) {
	spec := &types.SymbolSpec{
		Symbol:          types.NormalizeSymbol(s.Symbol),
		SecurityType:    types.SecurityType(s.SecurityType),
		Venue:           s.Venue,
		PrimaryExchange: s.PrimaryExchange,
		LocalSymbol:     s.LocalSymbol,
		SubscribeTrades: s.SubscribeTrades,
		SubscribeDepth:  s.SubscribeDepth,
		DepthLevels:     s.DepthLevels,
		Right:           types.OptionRight(s.Right),
	}
	if s.Strike != "" {
		fp, err := parseFixedPoint(s.Strike, 10000)
		if err != nil {
			return nil, fmt.Errorf("strike: %w", err)
		}
		spec.Strike = fp
	}
	if s.Expiry != "" {
		t, err := time.Parse("2006-01-02", s.Expiry)
		if err != nil {
			t, err = time.Parse(time.RFC3339, s.Expiry)
			if err != nil {
				return nil, fmt.Errorf("expiry: %w", err)
			}
		}
		spec.Expiry = t
	}
	return spec, nil
}

func parseFixedPoint(s string, scale int64) (int64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int64(f*float64(scale) + 0.5), nil
}

// applyEnvOverrides walks every Tunables field and, if an UPPER_SNAKE
// environment variable named COLLECTOR_<FIELD> is set, overrides the
// YAML-loaded value. This mirrors the teacher's preference for explicit
// code over reflection-based binding, at the cost of one branch per field.
func applyEnvOverrides(t *Tunables) {
	if v, ok := envInt("COLLECTOR_PIPELINE_CAPACITY"); ok {
		t.PipelineCapacity = v
	}
	if v, ok := envDuration("COLLECTOR_DRAIN_TIMEOUT_SECONDS"); ok {
		t.DrainTimeout = v
	}
	if v, ok := envDuration("COLLECTOR_HEARTBEAT_INTERVAL_SECONDS"); ok {
		t.HeartbeatInterval = v
	}
	if v, ok := envDuration("COLLECTOR_HEARTBEAT_TIMEOUT_SECONDS"); ok {
		t.HeartbeatTimeout = v
	}
	if v, ok := envInt("COLLECTOR_MAX_MISSED_HEARTBEATS"); ok {
		t.MaxMissedHeartbeats = v
	}
	if v, ok := envDuration("COLLECTOR_EVALUATION_INTERVAL_SECONDS"); ok {
		t.EvaluationInterval = v
	}
	if v, ok := envInt("COLLECTOR_LATENCY_THRESHOLD_MS"); ok {
		t.LatencyThresholdMs = v
	}
	if v, ok := envInt("COLLECTOR_LATENCY_MAX_MS"); ok {
		t.LatencyMaxMs = v
	}
	if v, ok := envDuration("COLLECTOR_ERROR_RATE_WINDOW_SECONDS"); ok {
		t.ErrorRateWindow = v
	}
	if v, ok := envFloat("COLLECTOR_ERROR_RATE_THRESHOLD"); ok {
		t.ErrorRateThreshold = v
	}
	if v, ok := envInt("COLLECTOR_MAX_RECONNECTS_PER_HOUR"); ok {
		t.MaxReconnectsPerHour = v
	}
	if v, ok := envFloat("COLLECTOR_DEGRADATION_THRESHOLD"); ok {
		t.DegradationThreshold = v
	}
	if v, ok := envFloat("COLLECTOR_FAILOVER_THRESHOLD"); ok {
		t.FailoverThreshold = v
	}
	if v, ok := envDuration("COLLECTOR_ALERT_DEDUP_COOLDOWN_SECONDS"); ok {
		t.AlertDedupCooldown = v
	}
	if v, ok := envDuration("COLLECTOR_ALERT_FLUSH_WINDOW_SECONDS"); ok {
		t.AlertFlushWindow = v
	}
	if v, ok := envInt("COLLECTOR_ALERT_MAX_BATCH_SIZE"); ok {
		t.AlertMaxBatchSize = v
	}
	if v, ok := envDuration("COLLECTOR_VALIDATOR_COOLDOWN_SECONDS"); ok {
		t.ValidatorCooldown = v
	}
	if v, ok := envDuration("COLLECTOR_DIVERGENCE_WINDOW_SECONDS"); ok {
		t.DivergenceWindow = v
	}
	if v, ok := envFloat("COLLECTOR_DIVERGENCE_THRESHOLD_BP"); ok {
		t.DivergenceThresholdBp = v
	}
	if v, ok := envDuration("COLLECTOR_COORDINATOR_HEARTBEAT_SECONDS"); ok {
		t.CoordinatorHeartbeat = v
	}
	if v, ok := envInt("COLLECTOR_COORDINATOR_TTL_FACTOR"); ok {
		t.CoordinatorTTLFactor = v
	}
	if v, ok := envInt("COLLECTOR_JOB_WORKER_COUNT"); ok {
		t.JobWorkerCount = v
	}
	if v, ok := envDuration("COLLECTOR_JOB_RETRY_BASE_SECONDS"); ok {
		t.JobRetryBase = v
	}
	if v, ok := envDuration("COLLECTOR_JOB_RETRY_CAP_SECONDS"); ok {
		t.JobRetryCap = v
	}
	if v, ok := envDuration("COLLECTOR_MAX_JOB_DURATION_SECONDS"); ok {
		t.MaxJobDuration = v
	}
}

func envInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(key string) (float64, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func envDuration(key string) (time.Duration, bool) {
	n, ok := envInt(key)
	if !ok {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}
