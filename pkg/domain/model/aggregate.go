package model

import (
	"github.com/sprintview/sprintview/pkg/domain/types"
)

// Derived aggregates. All of these are computed fresh from the current
// entity set on every call and never cached or incrementally updated.

// IterationSummary holds the rolled-up numbers for one set of issues
type IterationSummary struct {
	IssuesTotal  int   `json:"issuesTotal"`
	IssuesClosed int   `json:"issuesClosed"`
	WeightTotal  int64 `json:"weightTotal"`
	WeightClosed int64 `json:"weightClosed"`
	TimeTotalSec int64 `json:"timeTotalSec"`
}

// IterationMetrics pairs an iteration with its summary
type IterationMetrics struct {
	Iteration Iteration `json:"iteration"`
	IterationSummary
}

// TimeLogContribution is one aggregated (issue, actor) row, accumulated from
// possibly many raw time-log entries
type TimeLogContribution struct {
	ActorID types.ActorID `json:"actorId"`
	Seconds int64         `json:"seconds"`
	Actor   *UserRef      `json:"actor"`
}

// TimeLogReport holds the per-issue and per-actor folds of the time-log
// fetch across a set of issues
type TimeLogReport struct {
	PerIssueSeconds      map[types.IssueID]int64                 `json:"perIssueSeconds"`
	PerIssueContributors map[types.IssueID][]TimeLogContribution `json:"perIssueContributors"`
	PerActor             []TimeLogContribution                   `json:"perActor"`
}

// IssueSeconds returns the aggregated seconds for an issue, or 0
func (r *TimeLogReport) IssueSeconds(id types.IssueID) int64 {
	if r == nil {
		return 0
	}
	return r.PerIssueSeconds[id]
}

// ActorSeconds returns the seconds an actor logged on an issue, or 0
func (r *TimeLogReport) ActorSeconds(id types.IssueID, actor types.ActorID) int64 {
	if r == nil {
		return 0
	}
	for _, c := range r.PerIssueContributors[id] {
		if c.ActorID == actor {
			return c.Seconds
		}
	}
	return 0
}

// ActorMetrics is the per-actor variant of IterationSummary, limited to
// issues where the actor has a non-zero time contribution
type ActorMetrics struct {
	Actor *UserRef `json:"actor"`
	IterationSummary
}

// AssigneeAggregation groups issue counts and weights by first assignee
type AssigneeAggregation struct {
	Assignee     *UserRef `json:"assignee"`
	Issues       int      `json:"issues"`
	IssuesClosed int      `json:"issuesClosed"`
	WeightTotal  int64    `json:"weightTotal"`
	WeightClosed int64    `json:"weightClosed"`
	TimeTotalSec int64    `json:"timeTotalSec"`
}

// RateLimitInfo carries the advisory rate-limit headers of one upstream
// response. It is consumed immediately by the caller and never stored.
type RateLimitInfo struct {
	Limit     int64 `json:"limit,omitempty"`
	Remaining int64 `json:"remaining,omitempty"`
	Reset     int64 `json:"reset,omitempty"`
}
