// Package taskfilter narrows a task collection by visibility, assignment,
// status, type, company, brand, free-text search and date windows. The
// engine is a pure function set: it never mutates a task, never panics on
// missing fields, and identical inputs always produce identical output
// order.
package taskfilter

import (
	"sort"
	"strings"
	"time"

	"github.com/taskdeck/go-realtime-core/models"
)

// Assignment selects the relation between the viewer and a task.
type Assignment string

const (
	AssignAll  Assignment = "all"
	AssignedTo Assignment = "assigned-to-me"
	AssignedBy Assignment = "assigned-by-me"
)

// Window selects the due-date filter.
type Window string

const (
	WindowAll     Window = "all"
	WindowToday   Window = "today"
	WindowWeek    Window = "week"
	WindowOverdue Window = "overdue"
)

// restrictedRole is the role whose visibility is gated when the criteria
// enables role restriction.
const restrictedRole = "employee"

// assistantRoleKeys are matched as substrings against the assignee's
// normalized role tokens; tasks assigned to such roles stay visible to
// restricted viewers.
var assistantRoleKeys = []string{"assistant", "asst"}

// Criteria is a value object describing one filter pass. Empty or "all"
// string fields mean "no constraint".
type Criteria struct {
	Assigned Assignment
	Status   string
	Priority string
	Type     string
	Company  string
	Brand    string
	Search   string
	Window   Window

	// RestrictRoleVisibility enables the role gate for restricted viewers.
	RestrictRoleVisibility bool

	// Now anchors the today/week windows; zero means time.Now.
	Now time.Time

	// IsOverdue decides the overdue window. When absent, the overdue
	// window excludes every task rather than guessing.
	IsOverdue func(models.Task) bool
}

// Filter returns the tasks matching the criteria, ordered by descending
// creation timestamp (missing timestamps sort last). Predicates run in a
// fixed order and short-circuit on the first failure per task.
func Filter(tasks []models.Task, c Criteria, viewer models.User) []models.Task {
	now := c.Now
	if now.IsZero() {
		now = time.Now()
	}

	out := make([]models.Task, 0, len(tasks))
	for _, t := range tasks {
		if matches(t, c, viewer, now) {
			out = append(out, t)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func matches(t models.Task, c Criteria, viewer models.User, now time.Time) bool {
	// 1. Role-visibility gate.
	if c.RestrictRoleVisibility && normalize(viewer.Role) == restrictedRole {
		if !equalEmail(t.AssigneeEmail, viewer.Email) && !assistantLike(t.AssigneeRole) {
			return false
		}
	}

	// 2. Assignment relation.
	switch c.Assigned {
	case AssignedTo:
		if !equalEmail(t.AssigneeEmail, viewer.Email) {
			return false
		}
	case AssignedBy:
		if !equalEmail(t.AssignerEmail, viewer.Email) {
			return false
		}
	}

	// 3. Status equality.
	if constrained(c.Status) && !strings.EqualFold(t.Status, c.Status) {
		return false
	}

	// 4. Priority equality.
	if constrained(c.Priority) && !strings.EqualFold(t.Priority, c.Priority) {
		return false
	}

	// 5. Task-type canonicalization.
	if constrained(c.Type) {
		want := CanonicalType(c.Type)
		got := CanonicalType(t.Type)
		if want == "" || got == "" || want != got {
			return false
		}
	}

	// 6. Company equality, whitespace-insensitive.
	if constrained(c.Company) && stripSpace(t.Company) != stripSpace(c.Company) {
		return false
	}

	// 7. Brand equality.
	if constrained(c.Brand) && !strings.EqualFold(t.Brand, c.Brand) {
		return false
	}

	// 8. Free-text search over title, type and brand.
	if s := normalize(c.Search); s != "" {
		if !strings.Contains(strings.ToLower(t.Title), s) &&
			!strings.Contains(strings.ToLower(t.Type), s) &&
			!strings.Contains(strings.ToLower(t.Brand), s) {
			return false
		}
	}

	// 9. Date window.
	switch c.Window {
	case WindowToday:
		if t.DueDate.IsZero() || !day(t.DueDate).Equal(day(now)) {
			return false
		}
	case WindowWeek:
		if t.DueDate.IsZero() {
			return false
		}
		due, today := day(t.DueDate), day(now)
		if due.Before(today) || due.After(today.AddDate(0, 0, 7)) {
			return false
		}
	case WindowOverdue:
		if c.IsOverdue == nil || !c.IsOverdue(t) {
			return false
		}
	}

	return true
}

// CanonicalType normalizes a task type for comparison: whitespace, hyphens
// and underscores are stripped, case is folded, and the known misspelling
// family of "troubleshoot" collapses to the one canonical label.
func CanonicalType(s string) string {
	collapsed := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '-', '_':
			return -1
		}
		return r
	}, strings.ToLower(s))

	switch collapsed {
	case "troubleshoot", "troubleshot", "trubbleshoot", "trubbleshot",
		"trubleshoot", "trubleshot", "troubelshoot":
		return "troubleshoot"
	}
	return collapsed
}

// constrained reports whether a criteria string actually narrows anything.
func constrained(s string) bool {
	n := normalize(s)
	return n != "" && n != "all"
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func equalEmail(a, b string) bool {
	return normalize(a) != "" && normalize(a) == normalize(b)
}

func stripSpace(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "")
}

// assistantLike reports whether a role's normalized tokens contain one of
// the assistant allow-list keys.
func assistantLike(role string) bool {
	tokens := strings.FieldsFunc(strings.ToLower(role), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	for _, tok := range tokens {
		for _, key := range assistantRoleKeys {
			if strings.Contains(tok, key) {
				return true
			}
		}
	}
	return false
}

// day truncates a timestamp to local midnight.
func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
