package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
dataRoot: /var/lib/collector
symbols:
  - symbol: aapl
    securityType: equity
    venue: NASDAQ
    primaryExchange: NASDAQ
    subscribeTrades: true
    subscribeDepth: true
    depthLevels: 5
  - symbol: AAPL240119C00185000
    securityType: equity-option
    localSymbol: AAPL240119C00185000
    strike: "185.00"
    right: call
    expiry: "2024-01-19"
    subscribeTrades: true
schedules:
  - id: nightly-archival
    name: Nightly archival
    cronExpression: "0 3 * * *"
    timeZone: America/New_York
    taskType: archival
    priority: normal
    enabled: true
tunables:
  pipelineCapacity: 500
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadParsesSymbolsAndSchedules(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(cfg.Symbols) != 2 {
		t.Fatalf("expected 2 symbols, got %d", len(cfg.Symbols))
	}
	if len(cfg.Schedules) != 1 {
		t.Fatalf("expected 1 schedule, got %d", len(cfg.Schedules))
	}
	if cfg.Tunables.PipelineCapacity != 500 {
		t.Fatalf("expected pipelineCapacity override 500, got %d", cfg.Tunables.PipelineCapacity)
	}
	// unspecified tunable keeps its default
	if cfg.Tunables.DegradationThreshold != 0.6 {
		t.Fatalf("expected default degradationThreshold 0.6, got %f", cfg.Tunables.DegradationThreshold)
	}
}

func TestLoadRejectsIncompleteOptionFields(t *testing.T) {
	path := writeTempConfig(t, `
dataRoot: /tmp/x
symbols:
  - symbol: AAPL240119C00185000
    securityType: equity-option
    strike: "185.00"
    subscribeTrades: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for incomplete option fields")
	}
}

func TestEnvOverrideWinsOverYAML(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	t.Setenv("COLLECTOR_PIPELINE_CAPACITY", "9000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tunables.PipelineCapacity != 9000 {
		t.Fatalf("expected env override 9000, got %d", cfg.Tunables.PipelineCapacity)
	}
}

func TestToSymbolSpecParsesFixedPointStrike(t *testing.T) {
	sc := SymbolConfig{
		Symbol:       "AAPL240119C00185000",
		SecurityType: "equity-option",
		LocalSymbol:  "AAPL240119C00185000",
		Strike:       "185.25",
		Right:        "call",
		Expiry:       "2024-01-19",
	}
	spec, err := sc.ToSymbolSpec()
	if err != nil {
		t.Fatalf("ToSymbolSpec: %v", err)
	}
	if spec.Strike != 1852500 {
		t.Fatalf("expected strike=1852500, got %d", spec.Strike)
	}
}
