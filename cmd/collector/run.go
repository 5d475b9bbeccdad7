package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/alerts"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/config"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/coordinator"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/degradation"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/errs"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/health"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/jobs"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/log"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/metrics"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/orchestrator"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/pipeline"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/provider"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/scheduler"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/status"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/storage"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/types"
	"github.com/rodoHasArrived/Market-Data-Collector-sub010/pkg/validators"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the collector engine",
	Long: `run loads the collector's configuration, opens its durable
state, wires the pipeline/orchestrator/scheduler/job-engine/degradation/
alerting/validation components together, and serves HTTP status and
metrics endpoints until interrupted.`,
	RunE: runEngine,
}

func init() {
	runCmd.Flags().String("config", "", "Path to the YAML config file (required)")
	runCmd.Flags().String("data-root", "", "Override dataRoot from the config file")
	runCmd.Flags().Int("drain-timeout", 0, "Override drainTimeout (seconds) from the config file")
	runCmd.Flags().Int("pipeline-capacity", 0, "Override pipelineCapacity from the config file")
	runCmd.Flags().String("listen-addr", ":9090", "Address for the HTTP status/metrics server")
	_ = runCmd.MarkFlagRequired("config")
}

func runEngine(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	dataRootOverride, _ := cmd.Flags().GetString("data-root")
	drainTimeoutOverride, _ := cmd.Flags().GetInt("drain-timeout")
	pipelineCapOverride, _ := cmd.Flags().GetInt("pipeline-capacity")
	listenAddr, _ := cmd.Flags().GetString("listen-addr")

	cfg, err := config.Load(configPath)
	if err != nil {
		return &runError{code: 1, err: err}
	}
	if dataRootOverride != "" {
		cfg.DataRoot = dataRootOverride
	}
	if drainTimeoutOverride > 0 {
		cfg.Tunables.DrainTimeout = time.Duration(drainTimeoutOverride) * time.Second
	}
	if pipelineCapOverride > 0 {
		cfg.Tunables.PipelineCapacity = pipelineCapOverride
	}
	if err := cfg.Validate(); err != nil {
		return &runError{code: 1, err: fmt.Errorf("config validation: %w", err)}
	}

	logger := log.WithComponent("collector")
	logger.Info().Str("dataRoot", cfg.DataRoot).Msg("starting collector")

	if err := os.MkdirAll(cfg.DataRoot, 0o755); err != nil {
		return &runError{code: 2, err: errs.New(errs.KindFatal, fmt.Errorf("create data root: %w", err))}
	}

	store, err := storage.NewBoltStore(cfg.DataRoot)
	if err != nil {
		return &runError{code: 2, err: errs.New(errs.KindFatal, fmt.Errorf("open storage: %w", err))}
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	counters := metrics.NewCounters()

	alertAggregator := alerts.New(
		alerts.WithDedupCooldown(cfg.Tunables.AlertDedupCooldown),
		alerts.WithWindow(cfg.Tunables.AlertFlushWindow),
		alerts.WithMaxBatchSize(cfg.Tunables.AlertMaxBatchSize),
	)
	alertAggregator.Start()
	defer alertAggregator.Stop()

	tickValidator := validators.NewTickSizeValidator(alertAggregator,
		validators.WithTickCooldown(cfg.Tunables.ValidatorCooldown))
	divergenceValidator := validators.NewQuoteDivergenceValidator(alertAggregator,
		validators.WithDivergenceWindow(cfg.Tunables.DivergenceWindow),
		validators.WithDivergenceThresholdBps(cfg.Tunables.DivergenceThresholdBp),
		validators.WithDivergenceCooldown(cfg.Tunables.ValidatorCooldown))

	healthCfg := health.Config{
		HeartbeatInterval:   cfg.Tunables.HeartbeatInterval,
		HeartbeatTimeout:    cfg.Tunables.HeartbeatTimeout,
		MaxMissedHeartbeats: cfg.Tunables.MaxMissedHeartbeats,
	}
	healthMonitor := health.NewMonitor(healthCfg, func(evt health.Event) {
		logger.Warn().Str("connection", evt.ConnectionID).Str("kind", string(evt.Kind)).Msg("connection health event")
	})
	go healthMonitor.Run(ctx)

	degradationThresholds := degradation.DefaultThresholds()
	degradationThresholds.LatencyThresholdMs = float64(cfg.Tunables.LatencyThresholdMs)
	degradationThresholds.LatencyMaxMs = float64(cfg.Tunables.LatencyMaxMs)
	degradationThresholds.ErrorRateWindow = cfg.Tunables.ErrorRateWindow
	degradationThresholds.ErrorRateThreshold = cfg.Tunables.ErrorRateThreshold
	degradationThresholds.MaxReconnectsPerHour = float64(cfg.Tunables.MaxReconnectsPerHour)
	degradationThresholds.DegradationThreshold = cfg.Tunables.DegradationThreshold
	degradationThresholds.FailoverThreshold = cfg.Tunables.FailoverThreshold
	degradationThresholds.EvaluationInterval = cfg.Tunables.EvaluationInterval

	scorer, err := degradation.New(degradation.DefaultWeights(), degradationThresholds, func(evt degradation.TransitionEvent) {
		severity := types.SeverityWarning
		title := "provider degraded"
		if !evt.Degraded {
			severity = types.SeverityInfo
			title = "provider recovered"
		}
		alertAggregator.Submit("degradation", severity, title,
			fmt.Sprintf("%s composite=%.2f", evt.Provider, evt.Score.Composite), evt.Provider, "")
	})
	if err != nil {
		return &runError{code: 2, err: errs.New(errs.KindFatal, fmt.Errorf("build degradation scorer: %w", err))}
	}
	go scorer.Run(ctx, healthMonitor.SnapshotAll, nil)

	coord, err := buildCoordinator(cfg)
	if err != nil {
		return &runError{code: 2, err: errs.New(errs.KindFatal, fmt.Errorf("build coordinator: %w", err))}
	}

	savedSpecs, err := store.LoadSubscriptionState()
	if err != nil {
		logger.Warn().Err(err).Msg("could not load last-known subscription state")
	}
	desired := desiredSpecs(cfg, savedSpecs)

	client := newLoggingOnlyClient(logger, counters)
	orch := orchestrator.New(client, orchestrator.WithOutcomeObserver(func(success bool) {
		scorer.RecordOutcome("default", success)
	}))
	orch.Apply(desired)
	if err := store.SaveSubscriptionState(desired); err != nil {
		logger.Warn().Err(err).Msg("could not persist subscription state")
	}
	if err := config.Watch(ctx, configPath, func(reloaded *config.Config) {
		specs := desiredSpecs(reloaded, nil)
		orch.Apply(specs)
		if err := store.SaveSubscriptionState(specs); err != nil {
			logger.Warn().Err(err).Msg("could not persist subscription state")
		}
	}); err != nil {
		logger.Warn().Err(err).Msg("config hot-reload disabled")
	}

	sched := scheduler.New()
	for _, sc := range cfg.Schedules {
		cronSched := scheduleFromConfig(sc)
		if err := sched.Add(cronSched); err != nil {
			return &runError{code: 1, err: fmt.Errorf("schedule %q: %w", sc.ID, err)}
		}
		if err := store.SaveSchedule(cronSched); err != nil {
			logger.Warn().Err(err).Str("schedule", sc.ID).Msg("could not persist schedule")
		}
	}

	jobRegistry := defaultTaskRegistry(coord, store, alertAggregator)
	engine := jobs.New(cfg.Tunables.JobWorkerCount, jobRegistry, store, jobs.WithOnTerminal(func(exec *types.Execution) {
		logger.Info().Str("execution", exec.ID).Str("status", string(exec.Status)).Msg("execution terminal")
	}))
	go func() {
		if err := engine.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("job engine stopped")
		}
	}()
	go sched.Run(ctx, engine)

	archive := newDiscardSink()
	sink := newValidatingSink(tickValidator, divergenceValidator, archive)
	pipe := pipeline.New(cfg.Tunables.PipelineCapacity, counters, sink, cfg.Tunables.DrainTimeout)
	pipeDone := make(chan struct{})
	go func() {
		pipe.Run(ctx)
		close(pipeDone)
	}()

	snapshotter := status.New(counters, counters.PipelineSnapshot, healthMonitor, scorer)
	snapshotter.SetVersion(Version)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/status", snapshotter.StatusHandler())
	mux.Handle("/ready", snapshotter.ReadyHandler())
	mux.Handle("/live", snapshotter.LiveHandler())

	httpServer := &http.Server{Addr: listenAddr, Handler: mux}
	serverErrCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("received shutdown signal, draining")
		cancel()
		pipe.Shutdown()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
		return &runError{code: 130, err: fmt.Errorf("interrupted")}
	case err := <-serverErrCh:
		cancel()
		return &runError{code: 2, err: errs.New(errs.KindFatal, fmt.Errorf("status server: %w", err))}
	}
}

// buildCoordinator returns the Instance Coordinator implementation. A
// single-process deployment needs no arbitration at all, so it always
// returns the no-op coordinator; no config key selects another mode.
// Multi-instance symbol ownership arbitration means swapping this
// constructor for FileLockCoordinator/RaftCoordinator when wiring a
// specific deployment topology.
func buildCoordinator(cfg *config.Config) (coordinator.Coordinator, error) {
	return coordinator.NewNoopCoordinator(instanceID()), nil
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "collector"
	}
	return host
}

func desiredSpecs(cfg *config.Config, fallback []*types.SymbolSpec) []*types.SymbolSpec {
	if len(cfg.Symbols) == 0 {
		return fallback
	}
	specs := make([]*types.SymbolSpec, 0, len(cfg.Symbols))
	for _, sc := range cfg.Symbols {
		spec, err := sc.ToSymbolSpec()
		if err != nil {
			continue
		}
		specs = append(specs, spec)
	}
	return specs
}

func scheduleFromConfig(sc config.ScheduleConfig) *types.CronSchedule {
	return &types.CronSchedule{
		ID:             sc.ID,
		Name:           sc.Name,
		CronExpression: sc.CronExpression,
		TimeZone:       sc.TimeZone,
		TaskType:       types.TaskType(sc.TaskType),
		Priority:       priorityFromString(sc.Priority),
		Options:        sc.Options,
		Enabled:        sc.Enabled,
		MaxDuration:    time.Duration(sc.MaxDurationSec) * time.Second,
		MaxRetries:     sc.MaxRetries,
	}
}

func priorityFromString(s string) types.Priority {
	switch s {
	case "critical":
		return types.PriorityCritical
	case "high":
		return types.PriorityHigh
	case "low":
		return types.PriorityLow
	case "background":
		return types.PriorityBackground
	default:
		return types.PriorityNormal
	}
}

// loggingOnlyClient is a placeholder provider.Client used when no
// vendor adapter is wired in: it logs subscription requests instead of
// opening a real feed. Operators deploying against a live venue supply
// a real provider.Client implementation here; the core engine depends
// only on the interface (spec.md §6), never a concrete vendor SDK.
type loggingOnlyClient struct {
	logger   zerolog.Logger
	counters *metrics.Counters
	handler  provider.EventHandler
	nextID   int64
}

func newLoggingOnlyClient(logger zerolog.Logger, counters *metrics.Counters) *loggingOnlyClient {
	return &loggingOnlyClient{logger: logger, counters: counters}
}

func (c *loggingOnlyClient) SubscribeTrades(spec *types.SymbolSpec) (provider.SubscriptionID, error) {
	c.nextID++
	c.logger.Info().Str("symbol", spec.Symbol).Msg("subscribe trades (no vendor adapter configured)")
	return c.nextID, nil
}

func (c *loggingOnlyClient) SubscribeMarketDepth(spec *types.SymbolSpec) (provider.SubscriptionID, error) {
	c.nextID++
	c.logger.Info().Str("symbol", spec.Symbol).Msg("subscribe depth (no vendor adapter configured)")
	return c.nextID, nil
}

func (c *loggingOnlyClient) UnsubscribeTrades(id provider.SubscriptionID) error      { return nil }
func (c *loggingOnlyClient) UnsubscribeMarketDepth(id provider.SubscriptionID) error { return nil }
func (c *loggingOnlyClient) OnEvent(handler provider.EventHandler)                   { c.handler = handler }
func (c *loggingOnlyClient) IsEnabled() bool                                        { return true }

// discardSink is a Sink that acknowledges every write without
// persisting it, used until a real archive writer is configured.
type discardSink struct{}

func newDiscardSink() *discardSink { return &discardSink{} }

func (discardSink) Write(*types.MarketEvent) error { return nil }
func (discardSink) Flush() error                   { return nil }
func (discardSink) Close() error                   { return nil }
