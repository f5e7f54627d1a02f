// Package cmd provides command-line interface commands for warden.
package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	neturl "net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"warden/containment"
	"warden/core"
	"warden/detect"
	"warden/notify"
	"warden/respond"
	"warden/storage"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Global flags for simulate commands
var (
	outputJSON bool
	noColor    bool
	quiet      bool
)

// Security constants
const (
	maxScenarioFileSize = 1 * 1024 * 1024 // 1MB - protection against memory exhaustion
	defaultTimeout      = 5 * time.Minute // Default context timeout for CLI operations
)

// Scenario is a named sequence of threat events used for containment drills.
type Scenario struct {
	Name        string          `yaml:"name" json:"name"`
	Description string          `yaml:"description" json:"description"`
	Events      []ScenarioEvent `yaml:"events" json:"events"`
}

// ScenarioEvent describes one event template within a scenario. Count > 1
// replays the same template that many times.
type ScenarioEvent struct {
	Type        string   `yaml:"type" json:"type"`
	Source      string   `yaml:"source" json:"source"`
	Severity    string   `yaml:"severity" json:"severity"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Confidence  *int     `yaml:"confidence,omitempty" json:"confidence,omitempty"`
	Indicators  []string `yaml:"indicators,omitempty" json:"indicators,omitempty"`
	UserID      string   `yaml:"user_id,omitempty" json:"user_id,omitempty"`
	Count       int      `yaml:"count,omitempty" json:"count,omitempty"`
}

// builtinScenarios are the drills shipped with the binary. Sources use
// TEST-NET ranges so a drill never names real infrastructure.
func builtinScenarios() []Scenario {
	conf := func(v int) *int { return &v }
	return []Scenario{
		{
			Name:        "ddos-burst",
			Description: "Critical volumetric attack from a single source; expects an immediate block",
			Events: []ScenarioEvent{
				{Type: "ddos_attack", Source: "203.0.113.50", Severity: "critical",
					Description: "synthetic volumetric flood", Count: 3},
			},
		},
		{
			Name:        "credential-stuffing",
			Description: "Repeated brute-force attempts that escalate the source's score until quarantine",
			Events: []ScenarioEvent{
				{Type: "brute_force_attack", Source: "198.51.100.23", Severity: "medium",
					Description: "synthetic login failures", UserID: "drill-user", Confidence: conf(85), Count: 6},
			},
		},
		{
			Name:        "mixed-probe",
			Description: "Low-grade injection and XSS probing from several sources; expects monitoring only",
			Events: []ScenarioEvent{
				{Type: "sql_injection", Source: "192.0.2.10", Severity: "medium", Confidence: conf(50),
					Indicators: []string{"' OR 1=1 --"}},
				{Type: "xss_attempt", Source: "192.0.2.11", Severity: "low", Confidence: conf(40),
					Indicators: []string{"<script>alert(1)</script>"}},
				{Type: "malware_detected", Source: "192.0.2.12", Severity: "high",
					Description: "synthetic dropper signature"},
			},
		},
	}
}

// validateFilePath validates a file path to prevent path traversal attacks.
// URL decoding first prevents encoded bypasses like %2e%2e%2f; the absolute
// path must stay inside the current working directory.
func validateFilePath(filename string) error {
	decoded, err := neturl.QueryUnescape(filename)
	if err != nil {
		// If decoding fails, use original filename for safety
		decoded = filename
	}

	if strings.Contains(decoded, "..") || strings.Contains(filename, "..") {
		return fmt.Errorf("path traversal detected: '..' not allowed in file path")
	}

	cleanPath := filepath.Clean(decoded)

	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	if !strings.HasPrefix(absPath, workDir) {
		return fmt.Errorf("path escapes current directory")
	}

	return nil
}

// NewSimulateCmd creates the root simulate command with all subcommands.
func NewSimulateCmd() *cobra.Command {
	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run containment drills with synthetic threat events",
		Long: `Run containment drills with synthetic threat events.

Drills exercise the full response pipeline (scoring, containment tiers, DDoS
detection, type-specific mitigation) either against an in-process engine or a
running warden instance, and report the actions and latency observed.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	// Add persistent flags
	simulateCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	simulateCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	simulateCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress non-essential output")

	// Add subcommands
	simulateCmd.AddCommand(newDrillCmd())
	simulateCmd.AddCommand(newSendCmd())
	simulateCmd.AddCommand(newScenariosCmd())

	return simulateCmd
}

// newDrillCmd creates the 'drill' subcommand: an offline run against an
// in-process engine with in-memory stores.
func newDrillCmd() *cobra.Command {
	var (
		scenarioName string
		scenarioFile string
		showProgress bool
	)

	cmd := &cobra.Command{
		Use:   "drill",
		Short: "Run a scenario against an in-process engine",
		Long: `Run a scenario against a throwaway in-process engine with in-memory
stores. Nothing is persisted and no network calls are made; the drill reports
scores, containment decisions, and response latency.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			scenario, err := resolveScenario(scenarioName, scenarioFile)
			if err != nil {
				return err
			}

			engine, cleanup, err := buildDrillEngine(ctx)
			if err != nil {
				return fmt.Errorf("failed to build drill engine: %w", err)
			}
			defer cleanup()

			if !quiet {
				infoColor.Printf("Running drill: %s\n", scenario.Name)
			}

			var s *spinner.Spinner
			if showProgress && !outputJSON && !quiet {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				s.Suffix = " Replaying events..."
				s.Start()
			}

			result := runScenario(ctx, engine, scenario)

			if s != nil {
				s.Stop()
			}

			if outputJSON {
				return outputAsJSON(result)
			}

			renderDrillResult(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&scenarioName, "scenario", "mixed-probe", "Built-in scenario name")
	cmd.Flags().StringVar(&scenarioFile, "file", "", "YAML scenario file (overrides --scenario)")
	cmd.Flags().BoolVar(&showProgress, "progress", true, "Show progress indicator")

	return cmd
}

// newSendCmd creates the 'send' subcommand: replay a scenario against a
// running warden instance over HTTP.
func newSendCmd() *cobra.Command {
	var (
		scenarioName string
		scenarioFile string
		addr         string
		token        string
		showProgress bool
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Replay a scenario against a running warden instance",
		Long: `Replay a scenario against a running warden instance by POSTing each
event to /api/v1/threats. The target instance applies real containment, so
only point this at an instance you intend to exercise.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			scenario, err := resolveScenario(scenarioName, scenarioFile)
			if err != nil {
				return err
			}

			if !quiet {
				infoColor.Printf("Sending drill %s to %s\n", scenario.Name, addr)
			}

			var s *spinner.Spinner
			if showProgress && !outputJSON && !quiet {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				s.Suffix = " Sending events..."
				s.Start()
			}

			result, err := sendScenario(ctx, addr, token, scenario)

			if s != nil {
				s.Stop()
			}

			if err != nil {
				return err
			}

			if outputJSON {
				return outputAsJSON(result)
			}

			renderDrillResult(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&scenarioName, "scenario", "mixed-probe", "Built-in scenario name")
	cmd.Flags().StringVar(&scenarioFile, "file", "", "YAML scenario file (overrides --scenario)")
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "Base URL of the warden instance")
	cmd.Flags().StringVar(&token, "token", "", "Bearer token for authenticated instances")
	cmd.Flags().BoolVar(&showProgress, "progress", true, "Show progress indicator")

	return cmd
}

// newScenariosCmd creates the 'scenarios' subcommand.
func newScenariosCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "scenarios",
		Aliases: []string{"ls"},
		Short:   "List built-in scenarios",
		Long:    "Display a table of the built-in drill scenarios and their event counts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			scenarios := builtinScenarios()
			if outputJSON {
				return outputAsJSON(scenarios)
			}
			renderScenariosTable(scenarios)
			return nil
		},
	}
}

// resolveScenario picks the scenario: a YAML file when given, a built-in
// otherwise.
func resolveScenario(name, file string) (Scenario, error) {
	if file != "" {
		return loadScenarioFile(file)
	}
	for _, scenario := range builtinScenarios() {
		if scenario.Name == name {
			return scenario, nil
		}
	}
	return Scenario{}, fmt.Errorf("unknown scenario %q (see 'simulate scenarios')", name)
}

// loadScenarioFile reads and validates a YAML scenario document.
func loadScenarioFile(path string) (Scenario, error) {
	var scenario Scenario

	if err := validateFilePath(path); err != nil {
		return scenario, fmt.Errorf("invalid scenario file: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return scenario, fmt.Errorf("failed to stat scenario file: %w", err)
	}
	if info.Size() > maxScenarioFileSize {
		return scenario, fmt.Errorf("scenario file %s exceeds %d bytes", path, maxScenarioFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return scenario, fmt.Errorf("failed to read scenario file: %w", err)
	}
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return scenario, fmt.Errorf("failed to parse scenario file: %w", err)
	}

	if scenario.Name == "" {
		scenario.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if len(scenario.Events) == 0 {
		return scenario, fmt.Errorf("scenario %s defines no events", scenario.Name)
	}
	for i, event := range scenario.Events {
		if event.Type == "" || event.Source == "" || event.Severity == "" {
			return scenario, fmt.Errorf("scenario event %d: type, source, and severity are required", i)
		}
	}

	return scenario, nil
}

// expand converts the scenario's templates into concrete threat events.
func (s Scenario) expand() []*core.ThreatEvent {
	var events []*core.ThreatEvent
	for _, template := range s.Events {
		count := template.Count
		if count < 1 {
			count = 1
		}
		for i := 0; i < count; i++ {
			events = append(events, &core.ThreatEvent{
				Type:        core.ThreatType(template.Type),
				Source:      template.Source,
				Severity:    core.Severity(template.Severity),
				Description: template.Description,
				Confidence:  template.Confidence,
				Indicators:  template.Indicators,
				UserID:      template.UserID,
			})
		}
	}
	return events
}

// DrillOutcome is one handled event within a drill result.
type DrillOutcome struct {
	Type             string  `json:"type"`
	Source           string  `json:"source"`
	Severity         string  `json:"severity"`
	Score            int     `json:"score"`
	Action           string  `json:"action"`
	Success          bool    `json:"success"`
	BlockingActive   bool    `json:"blocking_active"`
	QuarantineActive bool    `json:"quarantine_active"`
	ResponseTimeMs   float64 `json:"response_time_ms"`
}

// DrillResult summarizes a completed drill.
type DrillResult struct {
	Scenario     string           `json:"scenario"`
	Events       int              `json:"events"`
	Failures     int              `json:"failures"`
	Outcomes     []DrillOutcome   `json:"outcomes"`
	ActionCounts map[string]int   `json:"action_counts"`
	Stats        *core.EngineStats `json:"stats,omitempty"`
	MaxLatencyMs float64          `json:"max_latency_ms"`
	AvgLatencyMs float64          `json:"avg_latency_ms"`
}

// runScenario replays every event through the in-process engine.
func runScenario(ctx context.Context, engine *respond.Engine, scenario Scenario) *DrillResult {
	result := &DrillResult{
		Scenario:     scenario.Name,
		ActionCounts: make(map[string]int),
	}

	var totalLatency float64
	for _, event := range scenario.expand() {
		resp := engine.HandleThreat(ctx, event)
		result.Events++
		if !resp.Success {
			result.Failures++
		}
		result.ActionCounts[string(resp.Action)]++
		totalLatency += resp.ResponseTimeMs
		if resp.ResponseTimeMs > result.MaxLatencyMs {
			result.MaxLatencyMs = resp.ResponseTimeMs
		}
		result.Outcomes = append(result.Outcomes, DrillOutcome{
			Type:             string(event.Type),
			Source:           event.Source,
			Severity:         string(event.Severity),
			Score:            resp.Score,
			Action:           string(resp.Action),
			Success:          resp.Success,
			BlockingActive:   resp.BlockingActive,
			QuarantineActive: resp.QuarantineActive,
			ResponseTimeMs:   resp.ResponseTimeMs,
		})
	}

	if result.Events > 0 {
		result.AvgLatencyMs = totalLatency / float64(result.Events)
	}
	stats := engine.GetStats()
	result.Stats = &stats
	return result
}

// sendScenario replays every event against a remote instance over HTTP.
func sendScenario(ctx context.Context, addr, token string, scenario Scenario) (*DrillResult, error) {
	base, err := neturl.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	endpoint := base.JoinPath("/api/v1/threats").String()
	client := &http.Client{Timeout: 10 * time.Second}

	result := &DrillResult{
		Scenario:     scenario.Name,
		ActionCounts: make(map[string]int),
	}

	var totalLatency float64
	for _, event := range scenario.expand() {
		body, err := json.Marshal(event)
		if err != nil {
			return nil, fmt.Errorf("failed to encode event: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		httpResp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}

		var resp core.SecurityResponse
		decodeErr := json.NewDecoder(httpResp.Body).Decode(&resp)
		httpResp.Body.Close()

		result.Events++
		if decodeErr != nil || httpResp.StatusCode >= 500 || !resp.Success {
			result.Failures++
		}
		if decodeErr == nil {
			result.ActionCounts[string(resp.Action)]++
			totalLatency += resp.ResponseTimeMs
			if resp.ResponseTimeMs > result.MaxLatencyMs {
				result.MaxLatencyMs = resp.ResponseTimeMs
			}
			result.Outcomes = append(result.Outcomes, DrillOutcome{
				Type:             string(event.Type),
				Source:           event.Source,
				Severity:         string(event.Severity),
				Score:            resp.Score,
				Action:           string(resp.Action),
				Success:          resp.Success,
				BlockingActive:   resp.BlockingActive,
				QuarantineActive: resp.QuarantineActive,
				ResponseTimeMs:   resp.ResponseTimeMs,
			})
		}
	}

	if result.Events > 0 {
		result.AvgLatencyMs = totalLatency / float64(result.Events)
	}
	return result, nil
}

// buildDrillEngine assembles a throwaway engine: in-memory stores, no-op
// mirror, default policy. The cleanup function tears the engine down.
func buildDrillEngine(ctx context.Context) (*respond.Engine, func(), error) {
	sugar := zap.NewNop().Sugar()

	mirrorPool := core.NewWorkerPool(ctx, 1, 64, "drill_mirror", sugar)
	persistPool := core.NewWorkerPool(ctx, 1, 64, "drill_persist", sugar)
	mirrorPool.Start()
	persistPool.Start()

	store := containment.NewStore(containment.NoopMirror{}, mirrorPool, sugar)

	scorer, err := detect.NewScorer(detect.DefaultPolicy(), sugar)
	if err != nil {
		return nil, nil, err
	}
	signatures, err := detect.NewSignatureSet(sugar)
	if err != nil {
		return nil, nil, err
	}
	ddos := detect.NewDDoSDetector(100, time.Minute, sugar)
	limiter := detect.NewRateLimiter(60, time.Minute, sugar)

	recorder, err := storage.NewRecorder(
		storage.NewMemoryIncidentStore(0),
		storage.NewMemoryAuditStore(0),
		persistPool, sugar)
	if err != nil {
		return nil, nil, err
	}

	hub := notify.NewHub(16, sugar)

	engine := respond.NewEngine(respond.DefaultConfig(),
		scorer, ddos, limiter, signatures, store, recorder, hub, sugar)

	cleanup := func() {
		hub.Close()
		store.Stop()
		persistPool.Stop()
		mirrorPool.Stop()
	}
	return engine, cleanup, nil
}

// outputAsJSON writes v to stdout as indented JSON.
func outputAsJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
