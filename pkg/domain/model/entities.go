package model

import (
	"strings"

	"github.com/sprintview/sprintview/pkg/domain/types"
)

// Entity DTOs mirror the GitLab REST API response shapes. They are value
// objects fetched fresh per request and never mutated or cached.

// Group represents a GitLab group
type Group struct {
	ID       types.GroupID `json:"id"`
	FullPath string        `json:"full_path"`
	Name     string        `json:"name"`
	WebURL   string        `json:"web_url,omitempty"`
}

// Project represents a GitLab project
type Project struct {
	ID                types.ProjectID `json:"id"`
	Name              string          `json:"name"`
	PathWithNamespace string          `json:"path_with_namespace"`
	WebURL            string          `json:"web_url,omitempty"`
}

// Iteration represents a GitLab iteration (sprint-like time box)
type Iteration struct {
	ID        types.IterationID `json:"id"`
	IID       int64             `json:"iid,omitempty"`
	Title     string            `json:"title,omitempty"`
	State     string            `json:"state,omitempty"` // upcoming, started, closed
	StartDate string            `json:"start_date,omitempty"`
	DueDate   string            `json:"due_date,omitempty"`
}

// UserRef is a lightweight reference to a GitLab user
type UserRef struct {
	ID        types.ActorID `json:"id"`
	Username  string        `json:"username,omitempty"`
	Name      string        `json:"name,omitempty"`
	WebURL    string        `json:"web_url,omitempty"`
	AvatarURL string        `json:"avatar_url,omitempty"`
}

// TimeStats is the issue's self-reported time tracking block. It is the
// degraded fallback when the per-entry time-log fetch is unavailable.
type TimeStats struct {
	TotalTimeSpent *int64 `json:"total_time_spent,omitempty"`
}

// Issue represents a GitLab issue
type Issue struct {
	ID          types.IssueID   `json:"id"`
	IID         types.IssueIID  `json:"iid,omitempty"`
	Title       string          `json:"title,omitempty"`
	WebURL      string          `json:"web_url,omitempty"`
	State       string          `json:"state"` // opened, closed
	Weight      *int64          `json:"weight,omitempty"`
	TimeStats   *TimeStats      `json:"time_stats,omitempty"`
	ProjectID   types.ProjectID `json:"project_id,omitempty"`
	ProjectPath string          `json:"project_path_with_namespace,omitempty"`
	Assignees   []UserRef       `json:"assignees,omitempty"`
	Author      *UserRef        `json:"author,omitempty"`
	Labels      []string        `json:"labels,omitempty"`
}

// WeightOrZero returns the issue weight, defaulting absent weight to 0
func (i *Issue) WeightOrZero() int64 {
	if i.Weight == nil {
		return 0
	}
	return *i.Weight
}

// SelfReportedSeconds returns the issue's own time_stats total, or 0
func (i *Issue) SelfReportedSeconds() int64 {
	if i.TimeStats == nil || i.TimeStats.TotalTimeSpent == nil {
		return 0
	}
	return *i.TimeStats.TotalTimeSpent
}

// IsClosed compares the issue state case-insensitively to "closed"
func (i *Issue) IsClosed() bool {
	return strings.EqualFold(i.State, "closed")
}

// User represents the authenticated GitLab user (the login probe response)
type User struct {
	ID        types.ActorID `json:"id"`
	Username  string        `json:"username"`
	Name      string        `json:"name,omitempty"`
	AvatarURL string        `json:"avatar_url,omitempty"`
	WebURL    string        `json:"web_url,omitempty"`
}
