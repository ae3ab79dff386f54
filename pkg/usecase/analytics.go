package usecase

import (
	"context"
	"net/url"
	"sort"
	"strconv"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"

	"github.com/sprintview/sprintview/pkg/domain/interfaces"
	"github.com/sprintview/sprintview/pkg/domain/model"
	"github.com/sprintview/sprintview/pkg/domain/types"
	"github.com/sprintview/sprintview/pkg/service/gitlab"
	"github.com/sprintview/sprintview/pkg/utils/apperr"
)

const (
	// iterationLookback is how many recent iterations a detail lookup scans;
	// upstream has no single-iteration endpoint in the group context
	iterationLookback = 50

	// metricsConcurrency bounds the parallel per-iteration issue walks
	metricsConcurrency = 4
)

// AnalyticsUseCase computes iteration and per-person aggregates
type AnalyticsUseCase struct {
	client *gitlab.Client
}

var _ interfaces.Analytics = (*AnalyticsUseCase)(nil)

// NewAnalytics creates the analytics use case
func NewAnalytics(client *gitlab.Client) *AnalyticsUseCase {
	return &AnalyticsUseCase{client: client}
}

// ResolveGroup looks a group up by full path. Failure here is page-level.
func (u *AnalyticsUseCase) ResolveGroup(ctx context.Context, cred types.Credential, fullPath string) (*model.Group, error) {
	group, _, err := gitlab.GetDecoded[model.Group](ctx, u.client, cred,
		"/api/v4/groups/"+url.PathEscape(fullPath), nil)
	if err != nil {
		return nil, goerr.Wrap(model.ErrGroupNotFound, "failed to resolve group",
			goerr.V("fullPath", fullPath), goerr.V("cause", err.Error()))
	}
	return &group, nil
}

// LoadIterations returns the group's recent iterations by start date,
// newest first. An upstream failure yields an empty list, not an error.
func (u *AnalyticsUseCase) LoadIterations(ctx context.Context, cred types.Credential, groupID types.GroupID, limit int) ([]model.Iteration, error) {
	query := url.Values{}
	query.Set("state", "all")
	query.Set("order_by", "start_date")
	query.Set("sort", "desc")
	query.Set("per_page", strconv.Itoa(limit))

	iterations, _, err := gitlab.GetDecoded[[]model.Iteration](ctx, u.client, cred,
		"/api/v4/groups/"+groupID.String()+"/iterations", query)
	if err != nil {
		apperr.Handle(ctx, err)
		return nil, nil
	}
	return iterations, nil
}

// FindIteration picks one iteration out of the group's recent set
func (u *AnalyticsUseCase) FindIteration(ctx context.Context, cred types.Credential, groupID types.GroupID, iterationID types.IterationID) (*model.Iteration, error) {
	iterations, err := u.LoadIterations(ctx, cred, groupID, iterationLookback)
	if err != nil {
		return nil, err
	}
	for i := range iterations {
		if iterations[i].ID == iterationID {
			return &iterations[i], nil
		}
	}
	return nil, goerr.Wrap(model.ErrIterationNotFound, "not among recent iterations",
		goerr.V("groupID", groupID), goerr.V("iterationID", iterationID))
}

// FetchIterationIssues walks every issue of one iteration across the group
// and its subgroups, all states, with time stats. Partial results on
// mid-walk failure.
func (u *AnalyticsUseCase) FetchIterationIssues(ctx context.Context, cred types.Credential, groupID types.GroupID, iterationID types.IterationID) ([]model.Issue, error) {
	query := url.Values{}
	query.Set("include_subgroups", "true")
	query.Set("iteration_id", iterationID.String())
	query.Set("with_time_stats", "true")
	query.Set("scope", "all")
	query.Set("state", "all")

	return gitlab.CollectPages[model.Issue](ctx, u.client, cred,
		"/api/v4/groups/"+groupID.String()+"/issues", query)
}

// IterationMetrics computes per-iteration summaries, walking each
// iteration's issues with bounded concurrency
func (u *AnalyticsUseCase) IterationMetrics(ctx context.Context, cred types.Credential, groupID types.GroupID, iterations []model.Iteration) ([]model.IterationMetrics, error) {
	metrics := make([]model.IterationMetrics, len(iterations))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(metricsConcurrency)
	for i, it := range iterations {
		eg.Go(func() error {
			issues, err := u.FetchIterationIssues(egCtx, cred, groupID, it.ID)
			if err != nil {
				return err
			}
			metrics[i] = model.IterationMetrics{
				Iteration:        it,
				IterationSummary: ComputeIterationSummary(issues),
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return metrics, nil
}

// ComputeIterationSummary folds a set of issues into totals. Absent weight
// or time counts as zero; closedness compares state case-insensitively.
func ComputeIterationSummary(issues []model.Issue) model.IterationSummary {
	var s model.IterationSummary
	s.IssuesTotal = len(issues)
	for i := range issues {
		is := &issues[i]
		w := is.WeightOrZero()
		s.WeightTotal += w
		s.TimeTotalSec += is.SelfReportedSeconds()
		if is.IsClosed() {
			s.IssuesClosed++
			s.WeightClosed += w
		}
	}
	return s
}

// ComputeActorMetrics folds per-actor totals over the issues where the
// actor has a non-zero time contribution, sorted by seconds descending.
// Ties keep the report's first-seen actor order (stable sort).
func ComputeActorMetrics(issues []model.Issue, report *model.TimeLogReport) []model.ActorMetrics {
	if report == nil {
		return nil
	}

	type acc struct {
		metrics model.ActorMetrics
	}
	byActor := map[types.ActorID]*acc{}
	var order []types.ActorID

	for _, row := range report.PerActor {
		byActor[row.ActorID] = &acc{metrics: model.ActorMetrics{Actor: row.Actor}}
		order = append(order, row.ActorID)
	}

	for i := range issues {
		is := &issues[i]
		for _, c := range report.PerIssueContributors[is.ID] {
			if c.Seconds == 0 {
				continue
			}
			a, ok := byActor[c.ActorID]
			if !ok {
				continue
			}
			a.metrics.IssuesTotal++
			w := is.WeightOrZero()
			a.metrics.WeightTotal += w
			a.metrics.TimeTotalSec += c.Seconds
			if is.IsClosed() {
				a.metrics.IssuesClosed++
				a.metrics.WeightClosed += w
			}
		}
	}

	out := make([]model.ActorMetrics, 0, len(order))
	for _, id := range order {
		a := byActor[id]
		if a.metrics.TimeTotalSec == 0 {
			continue
		}
		out = append(out, a.metrics)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TimeTotalSec > out[j].TimeTotalSec
	})
	return out
}

// AggregateByAssignee groups issues by their first assignee; unassigned
// issues fall into the nil-assignee bucket. Sorted by logged time
// descending, ties in first-seen order.
func AggregateByAssignee(issues []model.Issue) []model.AssigneeAggregation {
	byAssignee := map[types.ActorID]*model.AssigneeAggregation{}
	var order []types.ActorID

	for i := range issues {
		is := &issues[i]
		key := types.ActorNone
		var assignee *model.UserRef
		if len(is.Assignees) > 0 {
			assignee = &is.Assignees[0]
			key = assignee.ID
		}

		entry, ok := byAssignee[key]
		if !ok {
			entry = &model.AssigneeAggregation{Assignee: assignee}
			byAssignee[key] = entry
			order = append(order, key)
		}

		entry.Issues++
		w := is.WeightOrZero()
		entry.WeightTotal += w
		entry.TimeTotalSec += is.SelfReportedSeconds()
		if is.IsClosed() {
			entry.IssuesClosed++
			entry.WeightClosed += w
		}
	}

	out := make([]model.AssigneeAggregation, 0, len(order))
	for _, key := range order {
		out = append(out, *byAssignee[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TimeTotalSec > out[j].TimeTotalSec
	})
	return out
}
