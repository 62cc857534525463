// Package output renders load test progress and results.
package output

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/wesleyorama2/storeload/internal/loadtest/engine"
	"github.com/wesleyorama2/storeload/internal/loadtest/metrics"
)

// ANSI escape codes for cursor control
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"
)

const (
	boxHorizontal  = "━"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"

	progressFilled = "█"
	progressEmpty  = "░"
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress  float64
	Elapsed   time.Duration
	Remaining time.Duration

	ActiveVUs int
	TargetVUs int

	CurrentRPS    float64
	TotalRequests int64
	Errors        int64
	ErrorRate     float64

	Iterations       int64
	FailedIterations int64

	LatencyP95 time.Duration
	LatencyAvg time.Duration

	CurrentPhase string
	CurrentStage int // 1-indexed
	TotalStages  int
}

// palette holds the colors used by the console.
type palette struct {
	title   *color.Color
	accent  *color.Color
	good    *color.Color
	warn    *color.Color
	bad     *color.Color
	dim     *color.Color
	info    *color.Color
	phase   *color.Color
	heading *color.Color
}

func newPalette(enabled bool) *palette {
	p := &palette{
		title:   color.New(color.Bold),
		accent:  color.New(color.FgCyan),
		good:    color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		bad:     color.New(color.FgRed),
		dim:     color.New(color.Faint),
		info:    color.New(color.FgBlue),
		phase:   color.New(color.FgMagenta),
		heading: color.New(color.Bold, color.Underline),
	}
	for _, c := range []*color.Color{p.title, p.accent, p.good, p.warn, p.bad, p.dim, p.info, p.phase, p.heading} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// rateColor picks green, yellow or red for a failure rate.
func (p *palette) rateColor(rate float64) *color.Color {
	switch {
	case rate > 0.05:
		return p.bad
	case rate > 0.01:
		return p.warn
	default:
		return p.good
	}
}

// ConsoleOutput manages live console output during test execution.
type ConsoleOutput struct {
	testName       string
	executorType   string
	totalDuration  time.Duration
	updateInterval time.Duration
	writer         io.Writer
	isTTY          bool
	colors         *palette
	quiet          bool

	mu          sync.Mutex
	lastStats   *LiveStats
	linesOutput int // Number of lines in the live display
}

// ConsoleOutputConfig contains configuration for ConsoleOutput.
type ConsoleOutputConfig struct {
	TestName       string
	ExecutorType   string
	TotalDuration  time.Duration
	UpdateInterval time.Duration
	Writer         io.Writer
	Quiet          bool
	NoColor        bool
	ForceColors    bool
	ForceTTY       bool
}

// NewConsoleOutput creates a new console output handler.
func NewConsoleOutput(config ConsoleOutputConfig) *ConsoleOutput {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}
	if config.UpdateInterval == 0 {
		config.UpdateInterval = time.Second
	}

	isTTY := config.ForceTTY || isTerminal(config.Writer)
	useColors := !config.NoColor && (config.ForceColors || (isTTY && supportsColors()))

	return &ConsoleOutput{
		testName:       config.TestName,
		executorType:   config.ExecutorType,
		totalDuration:  config.TotalDuration,
		updateInterval: config.UpdateInterval,
		writer:         config.Writer,
		isTTY:          isTTY,
		colors:         newPalette(useColors),
		quiet:          config.Quiet,
	}
}

// isTerminal checks if the writer is stdout or stderr attached to a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if f != os.Stdout && f != os.Stderr {
		return false
	}
	return checkIsTerminal(f)
}

// supportsColors checks if the terminal supports colors.
func supportsColors() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}

	// Windows 10 and later terminals understand ANSI sequences
	if runtime.GOOS == "windows" {
		return true
	}

	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}

// UpdateInterval returns how often the live display should refresh.
func (c *ConsoleOutput) UpdateInterval() time.Duration {
	return c.updateInterval
}

// TotalDuration returns the planned test duration used for estimates.
func (c *ConsoleOutput) TotalDuration() time.Duration {
	return c.totalDuration
}

// PrintHeader prints the test header.
func (c *ConsoleOutput) PrintHeader() {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := strings.Repeat(boxHorizontal, 56)
	executorInfo := ""
	if c.executorType != "" {
		executorInfo = fmt.Sprintf(" [%s]", c.executorType)
	}

	c.writeln(c.colors.accent.Sprint(line))
	c.writeln(c.colors.title.Sprintf("%s - Running%s", c.testName, executorInfo))
	c.writeln(c.colors.accent.Sprint(line))
	c.writeln("")
}

// Update redraws the live display. It is a no-op unless writing to a TTY.
func (c *ConsoleOutput) Update(stats *LiveStats) {
	if c.quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastStats = stats
	c.clearLive()

	lines := c.renderLiveStats(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

// clearLive erases the previous live display. Caller holds c.mu.
func (c *ConsoleOutput) clearLive() {
	if c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine)
		if i < c.linesOutput-1 {
			c.write("\n")
		}
	}
	if c.linesOutput > 1 {
		c.write(fmt.Sprintf(cursorUp, c.linesOutput-1))
	}
	c.write("\r")
	c.linesOutput = 0
}

// renderLiveStats renders the live statistics display.
func (c *ConsoleOutput) renderLiveStats(stats *LiveStats) []string {
	var lines []string

	progressBar := c.renderProgressBar(stats.Progress, 40)
	timeInfo := fmt.Sprintf("%s / %s", formatDuration(stats.Elapsed), formatDuration(stats.Elapsed+stats.Remaining))
	lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
		c.colors.good.Sprint(progressBar),
		c.colors.title.Sprintf("%.0f%%", stats.Progress*100),
		c.colors.dim.Sprint(timeInfo)))

	phaseInfo := stats.CurrentPhase
	if stats.TotalStages > 0 {
		phaseInfo = fmt.Sprintf("%s (%d/%d)", stats.CurrentPhase, stats.CurrentStage, stats.TotalStages)
	}
	lines = append(lines, fmt.Sprintf("Stage:    %s", c.colors.phase.Sprint(phaseInfo)))
	lines = append(lines, "")

	boxWidth := 61
	lines = append(lines, c.colors.dim.Sprint(boxTopLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxTopRight))

	vusStr := fmt.Sprintf("Users:   %s / %d", c.colors.accent.Sprint(stats.ActiveVUs), stats.TargetVUs)
	reqsStr := fmt.Sprintf("Requests:   %s", c.colors.accent.Sprint(formatNumber(stats.TotalRequests)))
	lines = append(lines, c.formatBoxRow(vusStr, reqsStr, boxWidth))

	rpsStr := fmt.Sprintf("RPS:     %s", c.colors.good.Sprintf("%.1f", stats.CurrentRPS))
	errColor := c.colors.rateColor(stats.ErrorRate)
	errStr := fmt.Sprintf("Failures:   %s (%s)",
		errColor.Sprint(stats.Errors),
		errColor.Sprintf("%.1f%%", stats.ErrorRate*100))
	lines = append(lines, c.formatBoxRow(rpsStr, errStr, boxWidth))

	iterRate := 0.0
	if stats.Iterations > 0 {
		iterRate = float64(stats.FailedIterations) / float64(stats.Iterations)
	}
	itersStr := fmt.Sprintf("Tasks:   %s", c.colors.accent.Sprint(formatNumber(stats.Iterations)))
	failedStr := fmt.Sprintf("Failed:     %s", c.colors.rateColor(iterRate).Sprint(formatNumber(stats.FailedIterations)))
	lines = append(lines, c.formatBoxRow(itersStr, failedStr, boxWidth))

	p95Str := fmt.Sprintf("P95:     %s", c.colors.info.Sprint(formatDurationShort(stats.LatencyP95)))
	avgStr := fmt.Sprintf("Avg:        %s", c.colors.info.Sprint(formatDurationShort(stats.LatencyAvg)))
	lines = append(lines, c.formatBoxRow(p95Str, avgStr, boxWidth))

	lines = append(lines, c.colors.dim.Sprint(boxBottomLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxBottomRight))

	return lines
}

// formatBoxRow formats a row inside the stats box with two columns.
func (c *ConsoleOutput) formatBoxRow(left, right string, boxWidth int) string {
	colWidth := (boxWidth - 4) / 2 // 2 borders + 2 padding

	leftPadding := colWidth - len([]rune(stripANSI(left)))
	if leftPadding < 0 {
		leftPadding = 0
	}
	rightPadding := colWidth - len([]rune(stripANSI(right)))
	if rightPadding < 0 {
		rightPadding = 0
	}

	border := c.colors.dim.Sprint(boxVertical)
	return fmt.Sprintf("%s %s%s%s %s%s %s",
		border,
		left, strings.Repeat(" ", leftPadding),
		border,
		right, strings.Repeat(" ", rightPadding),
		border)
}

// renderProgressBar renders a progress bar of width cells.
func (c *ConsoleOutput) renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// PrintSummary prints the final test summary followed by the breakdown tables.
func (c *ConsoleOutput) PrintSummary(result *engine.TestResult) {
	if result == nil {
		return
	}
	if c.quiet {
		if result.Passed {
			c.writeln(c.colors.good.Sprint("PASSED"))
		} else {
			c.writeln(c.colors.bad.Sprint("FAILED"))
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isTTY {
		c.clearLive()
	}

	line := strings.Repeat(boxHorizontal, 56)
	status := c.colors.good.Sprint("Completed ✓")
	if !result.Passed {
		status = c.colors.bad.Sprint("Failed ✗")
	}

	c.writeln("")
	c.writeln(c.colors.accent.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", c.colors.title.Sprint(result.Name), status))
	c.writeln(c.colors.accent.Sprint(line))
	c.writeln("")

	c.writeln(fmt.Sprintf("Script:        %s", c.colors.accent.Sprint(result.Script)))
	c.writeln(fmt.Sprintf("Host:          %s", c.colors.accent.Sprint(result.Host)))
	c.writeln(fmt.Sprintf("Duration:      %s", c.colors.accent.Sprint(formatDuration(result.Duration))))
	if m := result.Metrics; m != nil {
		c.writeln(fmt.Sprintf("Total Reqs:    %s", c.colors.accent.Sprint(formatNumber(m.TotalRequests))))

		successRate := 1.0 - m.ErrorRate
		c.writeln(fmt.Sprintf("Success Rate:  %s", c.colors.rateColor(m.ErrorRate).Sprintf("%.1f%%", successRate*100)))
		c.writeln(fmt.Sprintf("Throughput:    %s", c.colors.accent.Sprintf("%.2f req/s", m.RPS)))
		c.writeln(fmt.Sprintf("Transferred:   %s", formatBytes(m.TotalBytes)))
		c.writeln(fmt.Sprintf("Tasks:         %s (%s failed)",
			c.colors.accent.Sprint(formatNumber(m.TotalIterations)),
			c.colors.rateColor(m.IterationErrRate).Sprint(formatNumber(m.FailedIterations))))
		if m.SetupFailures > 0 {
			c.writeln(fmt.Sprintf("Setup Fails:   %s", c.colors.bad.Sprint(formatNumber(m.SetupFailures))))
		}
		c.writeln("")

		c.writeln(c.colors.title.Sprint("Latency Distribution:"))
		c.writeln(fmt.Sprintf("  Min:       %s", formatDurationShort(m.Latency.Min)))
		c.writeln(fmt.Sprintf("  P50:       %s", formatDurationShort(m.Latency.P50)))
		c.writeln(fmt.Sprintf("  P90:       %s", formatDurationShort(m.Latency.P90)))
		c.writeln(fmt.Sprintf("  P95:       %s", formatDurationShort(m.Latency.P95)))
		c.writeln(fmt.Sprintf("  P99:       %s", formatDurationShort(m.Latency.P99)))
		c.writeln(fmt.Sprintf("  Max:       %s", formatDurationShort(m.Latency.Max)))
		c.writeln("")
	}

	WriteTables(c.writer, result)

	if len(result.Thresholds) > 0 {
		c.writeln(c.colors.title.Sprint("Thresholds:"))
		for _, t := range result.Thresholds {
			mark := c.colors.good.Sprint("✓")
			if !t.Passed {
				mark = c.colors.bad.Sprint("✗")
			}
			c.writeln(fmt.Sprintf("  %s %s %s (actual: %s)", mark, t.Metric, t.Expression, t.Value))
			if !t.Passed && t.Message != "" {
				c.writeln("      " + c.colors.dim.Sprint(t.Message))
			}
		}
		c.writeln("")
	}

	if result.Error != "" {
		c.writeln(c.colors.bad.Sprintf("Error: %s", result.Error))
	}
}

// PrintNonInteractiveUpdate prints a one-line status update for non-TTY
// output such as CI logs.
func (c *ConsoleOutput) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] Progress: %.0f%% | Users: %d | Reqs: %d | RPS: %.1f | Failures: %d (%.1f%%) | Tasks: %d (%d failed) | P95: %s",
		formatDuration(stats.Elapsed),
		stats.Progress*100,
		stats.ActiveVUs,
		stats.TotalRequests,
		stats.CurrentRPS,
		stats.Errors,
		stats.ErrorRate*100,
		stats.Iterations,
		stats.FailedIterations,
		formatDurationShort(stats.LatencyP95)))
}

// IsTTY returns whether the output is a terminal.
func (c *ConsoleOutput) IsTTY() bool {
	return c.isTTY
}

func (c *ConsoleOutput) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *ConsoleOutput) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatDurationShort formats a latency.
func formatDurationShort(d time.Duration) string {
	if d < time.Microsecond {
		return "0ms"
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}

// formatBytes formats bytes to a human-readable string.
func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// stripANSI removes ANSI escape codes from a string.
func stripANSI(s string) string {
	var result strings.Builder
	inEscape := false

	for i := 0; i < len(s); i++ {
		if s[i] == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if (s[i] >= 'a' && s[i] <= 'z') || (s[i] >= 'A' && s[i] <= 'Z') {
				inEscape = false
			}
			continue
		}
		result.WriteByte(s[i])
	}

	return result.String()
}

// StatsFromMetrics creates LiveStats from engine metrics.
func StatsFromMetrics(
	snapshot *metrics.Snapshot,
	progress float64,
	totalDuration time.Duration,
	targetVUs int,
	currentStage, totalStages int,
) *LiveStats {
	if snapshot == nil {
		return &LiveStats{
			Progress:     progress,
			TargetVUs:    targetVUs,
			CurrentStage: currentStage,
			TotalStages:  totalStages,
			CurrentPhase: "initializing",
		}
	}

	elapsed := snapshot.Elapsed
	remaining := time.Duration(0)
	if progress > 0 && progress < 1 {
		remaining = time.Duration(float64(elapsed) * (1 - progress) / progress)
	} else if totalDuration > 0 {
		remaining = totalDuration - elapsed
		if remaining < 0 {
			remaining = 0
		}
	}

	return &LiveStats{
		Progress:         progress,
		Elapsed:          elapsed,
		Remaining:        remaining,
		ActiveVUs:        snapshot.ActiveVUs,
		TargetVUs:        targetVUs,
		CurrentRPS:       snapshot.RPS,
		TotalRequests:    snapshot.TotalRequests,
		Errors:           snapshot.FailedRequests,
		ErrorRate:        snapshot.ErrorRate,
		Iterations:       snapshot.TotalIterations,
		FailedIterations: snapshot.FailedIterations,
		LatencyP95:       snapshot.Latency.P95,
		LatencyAvg:       snapshot.Latency.Mean,
		CurrentPhase:     string(snapshot.CurrentPhase),
		CurrentStage:     currentStage,
		TotalStages:      totalStages,
	}
}
