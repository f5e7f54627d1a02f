package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// renderScenariosTable displays the built-in scenarios in a formatted table.
func renderScenariosTable(scenarios []Scenario) {
	if len(scenarios) == 0 {
		warningColor.Println("No scenarios available")
		return
	}

	headerColor.Println("SCENARIOS")
	headerColor.Println(strings.Repeat("=", 100))
	fmt.Printf("%-22s %-8s %s\n", "Name", "Events", "Description")
	fmt.Println(strings.Repeat("-", 100))

	for _, scenario := range scenarios {
		fmt.Printf("%-22s %-8d %s\n",
			scenario.Name, len(scenario.expand()), scenario.Description)
	}

	fmt.Println(strings.Repeat("=", 100))
}

// renderDrillResult displays a drill summary and the per-event outcomes.
func renderDrillResult(result *DrillResult) {
	if result.Failures == 0 {
		successColor.Printf("✓ %s - %d event(s) handled\n", result.Scenario, result.Events)
	} else {
		errorColor.Printf("✗ %s - %d of %d event(s) failed\n", result.Scenario, result.Failures, result.Events)
	}

	fmt.Printf("  Latency: avg %.2fms, max %.2fms\n", result.AvgLatencyMs, result.MaxLatencyMs)

	if len(result.ActionCounts) > 0 {
		printSection("Actions")
		actions := make([]string, 0, len(result.ActionCounts))
		for action := range result.ActionCounts {
			actions = append(actions, action)
		}
		sort.Strings(actions)
		for _, action := range actions {
			printField(action, fmt.Sprintf("%d", result.ActionCounts[action]))
		}
		fmt.Println()
	}

	if len(result.Outcomes) > 0 {
		headerColor.Println("OUTCOMES")
		headerColor.Println(strings.Repeat("=", 110))
		fmt.Printf("%-20s %-16s %-10s %-6s %-22s %-8s %-8s %-10s\n",
			"Type", "Source", "Severity", "Score", "Action", "Blocked", "Quar.", "Time (ms)")
		fmt.Println(strings.Repeat("-", 110))

		for _, outcome := range result.Outcomes {
			fmt.Printf("%-20s %-16s %-10s %-6d %-22s %-8s %-8s %-10.2f\n",
				truncate(outcome.Type, 19),
				truncate(outcome.Source, 15),
				outcome.Severity,
				outcome.Score,
				truncate(outcome.Action, 21),
				formatBoolPlain(outcome.BlockingActive),
				formatBoolPlain(outcome.QuarantineActive),
				outcome.ResponseTimeMs)
		}

		fmt.Println(strings.Repeat("=", 110))
	}

	if result.Stats != nil {
		printSection("Engine State After Drill")
		printField("Blocked sources", fmt.Sprintf("%d", result.Stats.BlockedCount))
		printField("Quarantined sources", fmt.Sprintf("%d", result.Stats.QuarantinedCount))
		printField("Suspicious sources", fmt.Sprintf("%d", result.Stats.SuspiciousCount))
		printField("Active rate limits", fmt.Sprintf("%d", result.Stats.ActiveRateLimits))
		printField("DDoS detections", fmt.Sprintf("%d", result.Stats.DDoSDetections))
		fmt.Println()
	}
}

// printSection prints a section header
func printSection(title string) {
	headerColor.Printf("  %s\n", title)
	headerColor.Println("  " + strings.Repeat("─", len(title)))
}

// printField prints a key-value field
func printField(key, value string) {
	if value == "" {
		value = "(not set)"
	}
	fmt.Printf("  %-25s %s\n", key+":", value)
}

// formatBool returns a colored boolean string
func formatBool(b bool) string {
	if b {
		return color.New(color.FgGreen).Sprint("Yes")
	}
	return color.New(color.FgRed).Sprint("No")
}

// formatBoolPlain returns a plain boolean string (no color codes)
func formatBoolPlain(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// truncate shortens s to max characters, marking the cut with an ellipsis.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
