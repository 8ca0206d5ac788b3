package models

import (
	"time"
)

// Task is the dashboard's task record as consumed by the filter and
// aggregation engines. Both engines treat it as immutable; they never
// write back into a Task.
type Task struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Priority string `json:"priority"`

	AssigneeID    string `json:"assigneeId"`
	AssigneeName  string `json:"assigneeName"`
	AssigneeEmail string `json:"assigneeEmail"`
	AssigneeRole  string `json:"assigneeRole,omitempty"`

	AssignerID    string `json:"assignerId"`
	AssignerName  string `json:"assignerName"`
	AssignerEmail string `json:"assignerEmail"`

	DueDate   time.Time `json:"dueDate,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`

	Company string `json:"company,omitempty"`
	Brand   string `json:"brand,omitempty"`
	Type    string `json:"type,omitempty"`
}
