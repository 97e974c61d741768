// Package digest aggregates recent workflow run outcomes into a short
// human-readable summary, served on demand by the status-digest command and
// posted on a cron schedule to the alert channel.
package digest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gcolon75/Project-Valine-sub002/internal/workflow"
)

// Window lengths for the two supported periods.
const (
	PeriodDaily  = "daily"
	PeriodWeekly = "weekly"

	dailyWindow  = 24 * time.Hour
	weeklyWindow = 7 * 24 * time.Hour

	// listLimit caps how many recent runs we inspect per workflow.
	listLimit = 30
)

// WindowFor maps a period name to its lookback window. Unknown periods
// return false.
func WindowFor(period string) (time.Duration, bool) {
	switch period {
	case PeriodDaily:
		return dailyWindow, true
	case PeriodWeekly:
		return weeklyWindow, true
	default:
		return 0, false
	}
}

type tally struct {
	total     int
	success   int
	failure   int
	cancelled int
	pending   int
}

// Build renders the digest for all given workflows over the window ending at
// now. Workflows whose listing fails are reported as unavailable in the
// digest rather than failing the whole aggregation.
func Build(ctx context.Context, client *workflow.Client, workflows []string, window time.Duration, now time.Time) string {
	cutoff := now.Add(-window)

	var b strings.Builder
	fmt.Fprintf(&b, "📊 Workflow digest — last %s\n", describeWindow(window))

	for _, wf := range workflows {
		runs, err := client.ListRuns(ctx, wf, listLimit)
		if err != nil {
			fmt.Fprintf(&b, "• %s: unavailable (%v)\n", wf, err)
			continue
		}

		var t tally
		for _, run := range runs {
			if !run.CreatedAt.IsZero() && run.CreatedAt.Before(cutoff) {
				continue
			}
			t.total++
			switch run.Conclusion {
			case workflow.ConclusionSuccess:
				t.success++
			case workflow.ConclusionFailure, workflow.ConclusionTimedOut:
				t.failure++
			case workflow.ConclusionCancelled:
				t.cancelled++
			default:
				t.pending++
			}
		}

		if t.total == 0 {
			fmt.Fprintf(&b, "• %s: no runs\n", wf)
			continue
		}
		fmt.Fprintf(&b, "• %s: %d runs — ✅ %d, ❌ %d, 🚫 %d, 🏃 %d\n",
			wf, t.total, t.success, t.failure, t.cancelled, t.pending)
	}

	return strings.TrimRight(b.String(), "\n")
}

func describeWindow(window time.Duration) string {
	if window >= weeklyWindow {
		return "7 days"
	}
	return "24 hours"
}
