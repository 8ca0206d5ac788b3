package taskstats_test

import (
	"testing"
	"time"

	"github.com/taskdeck/go-realtime-core/models"
	"github.com/taskdeck/go-realtime-core/taskstats"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestMonthlyBucketSingleTask(t *testing.T) {
	tasks := []models.Task{{ID: "a", CreatedAt: day(2024, time.March, 15)}}

	got := taskstats.Aggregate(tasks, taskstats.Options{
		Bucket:  taskstats.BucketMonthly,
		GroupBy: taskstats.GroupNone,
	})

	if len(got.Labels) != 1 || got.Labels[0] != "2024-03" {
		t.Fatalf("expected one 2024-03 bucket, got %v", got.Labels)
	}
	if len(got.Series) != 1 || got.Series[0].Counts[0] != 1 {
		t.Fatalf("expected count 1, got %+v", got.Series)
	}
}

func TestStatusDerivationReclassifiesPastDuePending(t *testing.T) {
	now := day(2024, time.June, 1)
	tasks := []models.Task{
		{Status: "completed", DueDate: day(2024, time.January, 1), CreatedAt: day(2024, time.March, 1)},
		{Status: "pending", DueDate: day(2030, time.January, 1), CreatedAt: day(2024, time.March, 2)},
		{Status: "pending", DueDate: day(2020, time.January, 1), CreatedAt: day(2024, time.March, 3)},
	}

	got := taskstats.Aggregate(tasks, taskstats.Options{
		Bucket:  taskstats.BucketMonthly,
		GroupBy: taskstats.GroupStatus,
		Now:     now,
	})

	counts := map[string]int{}
	for _, s := range got.Series {
		for _, c := range s.Counts {
			counts[s.Name] += c
		}
	}
	want := map[string]int{
		taskstats.StatusCompleted: 1,
		taskstats.StatusOverdue:   1,
		taskstats.StatusPending:   1,
	}
	for name, n := range want {
		if counts[name] != n {
			t.Fatalf("status %s: expected %d, got %d (%v)", name, n, counts[name], counts)
		}
	}

	// Fixed stacking order for the status chart.
	order := []string{taskstats.StatusCompleted, taskstats.StatusOverdue, taskstats.StatusPending}
	for i, s := range got.Series {
		if s.Name != order[i] {
			t.Fatalf("expected series order %v, got %+v", order, got.Series)
		}
	}
}

func TestCancelledExcludedFromDerivedButKeptInRawCounts(t *testing.T) {
	now := day(2024, time.June, 1)
	tasks := []models.Task{
		{Status: "cancelled", DueDate: day(2020, time.January, 1), CreatedAt: day(2024, time.March, 1)},
		{Status: "pending", CreatedAt: day(2024, time.March, 2)},
	}

	derived := taskstats.Aggregate(tasks, taskstats.Options{
		Bucket:  taskstats.BucketMonthly,
		GroupBy: taskstats.GroupStatus,
		Now:     now,
	})
	for _, s := range derived.Series {
		if s.Name == "cancelled" {
			t.Fatal("cancelled must not appear in the derived status view")
		}
		if s.Name == taskstats.StatusOverdue {
			t.Fatal("a cancelled task must not reclassify to overdue")
		}
	}

	raw := taskstats.RawStatusCounts(tasks)
	if raw["cancelled"] != 1 {
		t.Fatalf("raw breakdown must keep the cancelled bucket, got %v", raw)
	}
	if raw["pending"] != 1 {
		t.Fatalf("raw breakdown lost pending, got %v", raw)
	}
}

func TestDerivedStatus(t *testing.T) {
	now := day(2024, time.June, 1)
	cases := []struct {
		task models.Task
		want string
	}{
		{models.Task{Status: "Completed"}, taskstats.StatusCompleted},
		{models.Task{Status: "done", DueDate: day(2020, time.January, 1)}, taskstats.StatusCompleted},
		{models.Task{Status: "pending", DueDate: day(2020, time.January, 1)}, taskstats.StatusOverdue},
		{models.Task{Status: "pending", DueDate: day(2030, time.January, 1)}, taskstats.StatusPending},
		{models.Task{Status: "reassigned"}, taskstats.StatusPending},
		{models.Task{Status: "cancelled", DueDate: day(2020, time.January, 1)}, ""},
	}
	for _, c := range cases {
		if got := taskstats.DerivedStatus(c.task, now); got != c.want {
			t.Fatalf("DerivedStatus(%+v) = %q, expected %q", c.task, got, c.want)
		}
	}
}

func TestWeeklyBucketUsesISOWeek(t *testing.T) {
	cases := []struct {
		date time.Time
		want string
	}{
		{day(2024, time.March, 15), "2024-W11"},
		{day(2024, time.January, 4), "2024-W01"},
		// Jan 1 2023 is a Sunday; Thursday-anchored ISO weeks put it in
		// the last week of 2022.
		{day(2023, time.January, 1), "2022-W52"},
	}
	for _, c := range cases {
		if got := taskstats.BucketLabel(c.date, taskstats.BucketWeekly); got != c.want {
			t.Fatalf("BucketLabel(%s) = %q, expected %q", c.date, got, c.want)
		}
	}
}

func TestAggregateByAssigneeAxis(t *testing.T) {
	tasks := []models.Task{
		{AssigneeName: "Noor"},
		{AssigneeName: "Noor"},
		{AssigneeName: "Mika"},
		{AssigneeEmail: "lee@taskdeck.io"},
		{},
	}

	got := taskstats.Aggregate(tasks, taskstats.Options{GroupBy: taskstats.GroupAssignee})

	wantLabels := []string{"Mika", "Noor", "lee@taskdeck.io", "unassigned"}
	if len(got.Labels) != len(wantLabels) {
		t.Fatalf("expected %v, got %v", wantLabels, got.Labels)
	}
	for i, l := range wantLabels {
		if got.Labels[i] != l {
			t.Fatalf("expected labels %v, got %v", wantLabels, got.Labels)
		}
	}
	wantCounts := []int{1, 2, 1, 1}
	for i, n := range wantCounts {
		if got.Series[0].Counts[i] != n {
			t.Fatalf("expected counts %v, got %v", wantCounts, got.Series[0].Counts)
		}
	}
}

func TestCompletionRate(t *testing.T) {
	cases := []struct {
		achieved, assigned int
		want               float64
	}{
		{5, 6, 83.3},
		{1, 3, 33.3},
		{3, 3, 100},
		{0, 0, 0},  // division by zero yields 0, never NaN
		{-2, 4, 0}, // clamped to >= 0
	}
	for _, c := range cases {
		if got := taskstats.CompletionRate(c.achieved, c.assigned); got != c.want {
			t.Fatalf("CompletionRate(%d, %d) = %v, expected %v", c.achieved, c.assigned, got, c.want)
		}
	}

	if got := taskstats.FormatRate(83.3); got != "83.3" {
		t.Fatalf("FormatRate = %q, expected 83.3", got)
	}
	if got := taskstats.FormatRate(100); got != "100.0" {
		t.Fatalf("FormatRate = %q, expected 100.0", got)
	}
}
