package output

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/wesleyorama2/storeload/internal/loadtest/engine"
	"github.com/wesleyorama2/storeload/internal/loadtest/metrics"
)

// WriteTables writes the per-user-type, per-request, per-task and error
// breakdowns of result. Empty sections are skipped.
func WriteTables(w io.Writer, result *engine.TestResult) {
	if len(result.SpawnedUsers) > 0 {
		fmt.Fprintln(w, "Users:")
		WriteUserTable(w, result.SpawnedUsers)
		fmt.Fprintln(w)
	}
	if len(result.Requests) > 0 {
		fmt.Fprintln(w, "Requests:")
		WriteRequestTable(w, result.Requests, result.Metrics)
		fmt.Fprintln(w)
	}
	if len(result.Tasks) > 0 {
		fmt.Fprintln(w, "Tasks:")
		WriteTaskTable(w, result.Tasks)
		fmt.Fprintln(w)
	}
	if len(result.Errors) > 0 {
		fmt.Fprintln(w, "Failures:")
		WriteErrorTable(w, result.Errors)
		fmt.Fprintln(w)
	}
}

// WriteUserTable lists how many users of each type were spawned.
func WriteUserTable(w io.Writer, spawned map[string]int64) {
	names := make([]string, 0, len(spawned))
	var total int64
	for name, n := range spawned {
		names = append(names, name)
		total += n
	}
	sort.Strings(names)

	table := tablewriter.NewWriter(w)
	table.Header("User Type", "Spawned", "Share")
	for _, name := range names {
		n := spawned[name]
		_ = table.Append(name, formatNumber(n), percent(n, total))
	}
	_ = table.Render()
}

// WriteRequestTable lists latency and failures per request name, followed
// by an aggregated row when overall is given.
func WriteRequestTable(w io.Writer, requests map[string]metrics.RequestStats, overall *metrics.Snapshot) {
	names := make([]string, 0, len(requests))
	for name := range requests {
		names = append(names, name)
	}
	sort.Strings(names)

	table := tablewriter.NewWriter(w)
	table.Header("Name", "Reqs", "Fails", "Fail %", "Avg", "P50", "P95", "P99", "Max", "Avg Size")
	for _, name := range names {
		s := requests[name]
		_ = table.Append(
			name,
			formatNumber(s.Requests),
			formatNumber(s.Failures),
			percent(s.Failures, s.Requests),
			formatDurationShort(s.Latency.Mean),
			formatDurationShort(s.Latency.P50),
			formatDurationShort(s.Latency.P95),
			formatDurationShort(s.Latency.P99),
			formatDurationShort(s.Latency.Max),
			avgSize(s.Bytes, s.Requests),
		)
	}
	if overall != nil && len(names) > 1 {
		_ = table.Append(
			"Aggregated",
			formatNumber(overall.TotalRequests),
			formatNumber(overall.FailedRequests),
			percent(overall.FailedRequests, overall.TotalRequests),
			formatDurationShort(overall.Latency.Mean),
			formatDurationShort(overall.Latency.P50),
			formatDurationShort(overall.Latency.P95),
			formatDurationShort(overall.Latency.P99),
			formatDurationShort(overall.Latency.Max),
			avgSize(overall.TotalBytes, overall.TotalRequests),
		)
	}
	_ = table.Render()
}

// WriteTaskTable lists iterations and durations per "UserType.task".
func WriteTaskTable(w io.Writer, tasks map[string]metrics.TaskStats) {
	names := make([]string, 0, len(tasks))
	for name := range tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	table := tablewriter.NewWriter(w)
	table.Header("User Type", "Task", "Iterations", "Fails", "Fail %", "Avg", "P95", "Max")
	for _, name := range names {
		s := tasks[name]
		_ = table.Append(
			s.UserType,
			s.Task,
			formatNumber(s.Iterations),
			formatNumber(s.Failures),
			percent(s.Failures, s.Iterations),
			formatDurationShort(s.Duration.Mean),
			formatDurationShort(s.Duration.P95),
			formatDurationShort(s.Duration.Max),
		)
	}
	_ = table.Render()
}

// WriteErrorTable lists distinct failures, most frequent first.
func WriteErrorTable(w io.Writer, errs []metrics.ErrorStats) {
	sorted := append([]metrics.ErrorStats(nil), errs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Occurrences != sorted[j].Occurrences {
			return sorted[i].Occurrences > sorted[j].Occurrences
		}
		return sorted[i].Name < sorted[j].Name
	})

	table := tablewriter.NewWriter(w)
	table.Header("Occurrences", "Name", "Error")
	for _, e := range sorted {
		_ = table.Append(strconv.FormatInt(e.Occurrences, 10), e.Name, e.Message)
	}
	_ = table.Render()
}

func percent(part, total int64) string {
	if total == 0 {
		return "0.00%"
	}
	return fmt.Sprintf("%.2f%%", float64(part)*100/float64(total))
}

func avgSize(bytes, requests int64) string {
	if requests == 0 {
		return "0 B"
	}
	return formatBytes(bytes / requests)
}
