// Package taskstats derives labeled count series from a task collection
// for chart consumption. All functions are pure and integer-exact.
package taskstats

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/taskdeck/go-realtime-core/models"
)

// Bucket is the time-window granularity of the x-axis.
type Bucket string

const (
	BucketWeekly  Bucket = "weekly"
	BucketMonthly Bucket = "monthly"
	BucketYearly  Bucket = "yearly"
)

// GroupBy selects the series breakdown. GroupAssignee is the "all
// entities" axis mode: the x-axis becomes the set of assignees instead of
// time buckets.
type GroupBy string

const (
	GroupNone     GroupBy = "none"
	GroupStatus   GroupBy = "status"
	GroupCompany  GroupBy = "company"
	GroupBrand    GroupBy = "brand"
	GroupAssignee GroupBy = "assignee"
)

// Derived statuses for the grouped-by-status view. Cancelled tasks are
// excluded from these buckets entirely; RawStatusCounts preserves a
// cancelled bucket instead. Both behaviors are intentional and must not be
// reconciled: the status chart collapses cancelled into exclusion while
// the per-company/brand performance stacking keeps it.
const (
	StatusCompleted = "completed"
	StatusOverdue   = "overdue"
	StatusPending   = "pending"
)

// Options configures one aggregation pass.
type Options struct {
	Bucket  Bucket
	GroupBy GroupBy

	// Now anchors the overdue derivation; zero means time.Now.
	Now time.Time
}

// Series is one named line/bar of counts aligned with Result.Labels.
type Series struct {
	Name   string `json:"name"`
	Counts []int  `json:"counts"`
}

// Result is a chart-ready label axis with one or more count series.
type Result struct {
	Labels []string `json:"labels"`
	Series []Series `json:"series"`
}

// Aggregate buckets the tasks by creation time (or by assignee in the
// all-entities mode) and splits counts per group. Output order is
// deterministic: labels ascending, series names ascending except the fixed
// status order.
func Aggregate(tasks []models.Task, opts Options) Result {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	if opts.GroupBy == GroupAssignee {
		return aggregateByAssignee(tasks)
	}

	// counts[group][label]
	counts := make(map[string]map[string]int)
	labelSet := make(map[string]bool)

	for _, t := range tasks {
		group, ok := groupKey(t, opts.GroupBy, now)
		if !ok {
			continue
		}
		label := BucketLabel(t.CreatedAt, opts.Bucket)
		labelSet[label] = true
		if counts[group] == nil {
			counts[group] = make(map[string]int)
		}
		counts[group][label]++
	}

	labels := make([]string, 0, len(labelSet))
	for l := range labelSet {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	return Result{Labels: labels, Series: seriesFor(counts, labels, opts.GroupBy)}
}

func aggregateByAssignee(tasks []models.Task) Result {
	counts := make(map[string]int)
	for _, t := range tasks {
		counts[assigneeLabel(t)]++
	}

	labels := make([]string, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	series := Series{Name: "tasks", Counts: make([]int, len(labels))}
	for i, l := range labels {
		series.Counts[i] = counts[l]
	}
	return Result{Labels: labels, Series: []Series{series}}
}

func assigneeLabel(t models.Task) string {
	if t.AssigneeName != "" {
		return t.AssigneeName
	}
	if t.AssigneeEmail != "" {
		return t.AssigneeEmail
	}
	return "unassigned"
}

// groupKey returns the series a task counts under, or false to exclude it.
func groupKey(t models.Task, g GroupBy, now time.Time) (string, bool) {
	switch g {
	case GroupStatus:
		status := DerivedStatus(t, now)
		return status, status != ""
	case GroupCompany:
		if t.Company == "" {
			return "unknown", true
		}
		return t.Company, true
	case GroupBrand:
		if t.Brand == "" {
			return "unknown", true
		}
		return t.Brand, true
	default:
		return "tasks", true
	}
}

func seriesFor(counts map[string]map[string]int, labels []string, g GroupBy) []Series {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	if g == GroupStatus {
		// Fixed stacking order for the status chart.
		ordered := []string{StatusCompleted, StatusOverdue, StatusPending}
		names = names[:0]
		for _, n := range ordered {
			if counts[n] != nil {
				names = append(names, n)
			}
		}
	} else {
		sort.Strings(names)
	}

	series := make([]Series, 0, len(names))
	for _, name := range names {
		s := Series{Name: name, Counts: make([]int, len(labels))}
		for i, l := range labels {
			s.Counts[i] = counts[name][l]
		}
		series = append(series, s)
	}
	return series
}

// DerivedStatus maps a task onto the three-way chart status: completed,
// overdue (not completed, not cancelled, due strictly in the past) or
// pending. Cancelled tasks return "" and are excluded from the derived
// buckets.
func DerivedStatus(t models.Task, now time.Time) string {
	status := strings.ToLower(strings.TrimSpace(t.Status))
	switch status {
	case "completed", "done":
		return StatusCompleted
	case "cancelled", "canceled":
		return ""
	}
	if !t.DueDate.IsZero() && t.DueDate.Before(now) {
		return StatusOverdue
	}
	return StatusPending
}

// RawStatusCounts tallies tasks by their literal (lower-cased) status,
// keeping cancelled as its own bucket.
func RawStatusCounts(tasks []models.Task) map[string]int {
	counts := make(map[string]int)
	for _, t := range tasks {
		status := strings.ToLower(strings.TrimSpace(t.Status))
		if status == "" {
			status = "unknown"
		}
		counts[status]++
	}
	return counts
}

// BucketLabel renders the time-bucket key for a timestamp: ISO week
// (Thursday-anchored) as 2024-W11, month as 2024-03, year as 2024.
func BucketLabel(t time.Time, b Bucket) string {
	switch b {
	case BucketWeekly:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case BucketYearly:
		return t.Format("2006")
	default:
		return t.Format("2006-01")
	}
}

// CompletionRate is achieved/assigned as a percentage, clamped to >= 0 and
// rounded to one decimal. Zero assigned yields 0, never NaN or Inf.
func CompletionRate(achieved, assigned int) float64 {
	if assigned == 0 {
		return 0
	}
	rate := float64(achieved) / float64(assigned) * 100
	if rate < 0 {
		return 0
	}
	return math.Round(rate*10) / 10
}

// FormatRate renders a rate with one decimal place, e.g. "83.3".
func FormatRate(rate float64) string {
	return strconv.FormatFloat(rate, 'f', 1, 64)
}
