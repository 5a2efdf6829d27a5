package cli

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/devicelab-dev/screencast-runner/pkg/core"
	"github.com/devicelab-dev/screencast-runner/pkg/executor"
	"github.com/devicelab-dev/screencast-runner/pkg/flow"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// Slow step threshold in milliseconds (5 seconds)
const slowThresholdMs = 5000

// colorsEnabled determines if ANSI colors should be used
var colorsEnabled = true

// printMu keeps lines from parallel workers whole.
var printMu sync.Mutex

func init() {
	// Respect NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
		return
	}
	// Check if stdout is a terminal
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			colorsEnabled = false
		}
	}
}

// color returns the color code if colors are enabled, empty string otherwise
func color(c string) string {
	if colorsEnabled {
		return c
	}
	return ""
}

func printBanner() {
	fmt.Println()
	fmt.Printf("  %sscreencast-runner%s %s\n", color(colorBold), color(colorReset), Version)
	fmt.Println()
}

// Live progress callbacks

func onFlowStart(flowIdx, totalFlows int, f *flow.Flow) {
	printMu.Lock()
	defer printMu.Unlock()

	source := f.SourcePath
	if source == "" {
		source = f.ID
	}
	fmt.Printf("\n  %s[%d/%d]%s %s%s%s (%s)\n",
		color(colorCyan), flowIdx+1, totalFlows, color(colorReset),
		color(colorBold), f.DisplayName(), color(colorReset), source)
	fmt.Println(strings.Repeat("─", 60))
}

func onStepComplete(r core.StepResult) {
	printMu.Lock()
	defer printMu.Unlock()

	desc := r.Description
	if desc == "" {
		desc = string(r.Action)
	}
	durationMs := r.Duration.Milliseconds()
	// Waits are slow on purpose.
	isSlow := durationMs >= slowThresholdMs && r.Action != flow.ActionWait
	durStr := formatDuration(durationMs)

	switch r.Status {
	case core.StatusPassed:
		symbol := "✓"
		symbolColor := color(colorGreen)
		durColor := ""
		if isSlow {
			durColor = color(colorYellow)
			symbol = "⚠"
			symbolColor = color(colorYellow)
		}
		fmt.Printf("    %s%s%s %s %s(%s)%s\n",
			symbolColor, symbol, color(colorReset), desc, durColor, durStr, color(colorReset))
	case core.StatusSkipped:
		fmt.Printf("    %s-%s %s %s(skipped)%s\n", color(colorCyan), color(colorReset), desc, color(colorGray), color(colorReset))
	default:
		fmt.Printf("    %s✗%s %s (%s)\n", color(colorRed), color(colorReset), desc, durStr)
		if r.Error != "" {
			fmt.Printf("      %s╰─%s %s\n", color(colorGray), color(colorReset), r.Error)
		}
	}
}

func onFlowEnd(f *flow.Flow, result *core.RecordingResult, err error) {
	printMu.Lock()
	defer printMu.Unlock()

	var durationMs int64
	if result != nil {
		durationMs = recordingDuration(result).Milliseconds()
	}

	if err == nil && result != nil {
		fmt.Printf("%s✓ %s%s %s%s%s\n",
			color(colorGreen), color(colorReset), f.DisplayName(), color(colorGray), formatDuration(durationMs), color(colorReset))
		fmt.Printf("  %s╰─%s %s (%s)\n", color(colorGray), color(colorReset), result.GifPath, formatBytes(result.GifSize))
		return
	}
	fmt.Printf("%s✗ %s%s %s%s%s\n",
		color(colorRed), color(colorReset), f.DisplayName(), color(colorGray), formatDuration(durationMs), color(colorReset))
	if err != nil {
		fmt.Printf("  %s╰─%s %v\n", color(colorGray), color(colorReset), err)
	}
}

func printSummary(result *executor.BatchResult) {
	executed, skipped := 0, 0
	var gifBytes int64
	for _, o := range result.Outcomes {
		if o.Result == nil {
			continue
		}
		executed += o.Result.StepsExecuted
		skipped += o.Result.StepsSkipped
		gifBytes += o.Result.GifSize
	}

	fmt.Println()
	if result.Completed > 0 {
		fmt.Printf("  %s%d recordings completed%s (%s, %s of gifs)\n",
			color(colorGreen), result.Completed, color(colorReset), formatDuration(result.Duration.Milliseconds()), formatBytes(gifBytes))
	}
	if result.Failed > 0 {
		fmt.Printf("  %s%d recordings failed%s\n", color(colorRed), result.Failed, color(colorReset))
	}
	if result.Skipped > 0 {
		fmt.Printf("  %s%d recordings not started%s\n", color(colorCyan), result.Skipped, color(colorReset))
	}
	fmt.Println()

	tableWidth := 92
	fmt.Println(strings.Repeat("═", tableWidth))
	fmt.Printf("  %-40s %6s %6s %6s %10s %10s\n", "Flow", "Status", "Steps", "Skip", "GIF", "Duration")
	fmt.Println(strings.Repeat("─", tableWidth))

	for _, o := range result.Outcomes {
		var status, statusColor string
		var steps, skip int
		size, dur := "-", "-"

		switch {
		case o.Result == nil && o.Err == nil:
			status = "- SKIP"
			statusColor = color(colorCyan)
		case o.Err != nil:
			status = "✗ FAIL"
			statusColor = color(colorRed)
		default:
			status = "✓ DONE"
			statusColor = color(colorGreen)
		}
		if o.Result != nil {
			steps, skip = o.Result.StepsExecuted, o.Result.StepsSkipped
			dur = formatDuration(recordingDuration(o.Result).Milliseconds())
			if o.Result.GifSize > 0 {
				size = formatBytes(o.Result.GifSize)
			}
		}

		name := "-"
		if o.Flow != nil {
			name = o.Flow.DisplayName()
		}
		if len(name) > 40 {
			name = name[:37] + "..."
		}

		fmt.Printf("  %-40s %s%6s%s %6d %6d %10s %10s\n",
			name, statusColor, status, color(colorReset), steps, skip, size, dur)
	}

	fmt.Println(strings.Repeat("─", tableWidth))
	statusStr := fmt.Sprintf("%d/%d", result.Completed, result.Total)
	statusColor := color(colorGreen)
	if result.Failed > 0 {
		statusColor = color(colorRed)
	}
	fmt.Printf("  %s%-40s%s %s%6s%s %6d %6d %10s %10s\n",
		color(colorBold), "TOTAL", color(colorReset),
		statusColor, statusStr, color(colorReset),
		executed, skipped, formatBytes(gifBytes),
		formatDuration(result.Duration.Milliseconds()))
	fmt.Println(strings.Repeat("═", tableWidth))
}

func recordingDuration(r *core.RecordingResult) time.Duration {
	if r.EndTime == nil {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// formatDuration formats milliseconds to a human-readable string.
// Shows milliseconds for values < 1s, seconds otherwise.
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm %ds", mins, secs)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGT"[exp])
}

func parseEnvVars(envs []string) map[string]string {
	result := make(map[string]string)
	for _, e := range envs {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) == 2 {
			result[parts[0]] = parts[1]
		}
	}
	return result
}
