package models

// User identifies a dashboard account. The realtime layer only needs the
// identity fields; Role is consumed by the task filter's visibility gate.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar,omitempty"`
	Role   string `json:"role,omitempty"`
}
