package usecase

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"

	"github.com/sprintview/sprintview/pkg/domain/model"
	"github.com/sprintview/sprintview/pkg/domain/types"
)

// maxTimelogPages bounds one issue's connection walk
const maxTimelogPages = 50

const issueTimelogsQuery = `
query IssueTimelogs($fullPath: ID!, $iid: String!, $after: String) {
  project(fullPath: $fullPath) {
    issue(iid: $iid) {
      iid
      id
      timelogs(first: 100, after: $after) {
        nodes {
          timeSpent
          spentAt
          user { id username name webUrl avatarUrl }
        }
        pageInfo { hasNextPage endCursor }
      }
    }
  }
}`

type timelogUser struct {
	ID        string `json:"id"` // global id, e.g. gid://gitlab/User/123
	Username  string `json:"username"`
	Name      string `json:"name"`
	WebURL    string `json:"webUrl"`
	AvatarURL string `json:"avatarUrl"`
}

type timelogNode struct {
	TimeSpent int64        `json:"timeSpent"` // seconds
	SpentAt   string       `json:"spentAt"`
	User      *timelogUser `json:"user"`
}

type timelogsResponse struct {
	Project *struct {
		Issue *struct {
			Timelogs struct {
				Nodes    []timelogNode `json:"nodes"`
				PageInfo struct {
					HasNextPage bool   `json:"hasNextPage"`
					EndCursor   string `json:"endCursor"`
				} `json:"pageInfo"`
			} `json:"timelogs"`
		} `json:"issue"`
	} `json:"project"`
}

// fetchIssueTimelogs walks one issue's timelog connection to completion,
// following the cursor until the server reports no next page or the safety
// bound is hit
func (u *AnalyticsUseCase) fetchIssueTimelogs(ctx context.Context, cred types.Credential, projectPath string, iid types.IssueIID) ([]timelogNode, error) {
	var all []timelogNode
	var after string

	for i := 0; i < maxTimelogPages; i++ {
		variables := map[string]any{
			"fullPath": projectPath,
			"iid":      iid.String(),
		}
		if after != "" {
			variables["after"] = after
		}

		var resp timelogsResponse
		if err := u.client.QueryGraphQL(ctx, cred, issueTimelogsQuery, variables, &resp); err != nil {
			return nil, goerr.Wrap(err, "timelog query failed",
				goerr.V("project", projectPath), goerr.V("iid", iid))
		}

		if resp.Project == nil || resp.Project.Issue == nil {
			break
		}
		conn := resp.Project.Issue.Timelogs
		all = append(all, conn.Nodes...)
		if !conn.PageInfo.HasNextPage {
			break
		}
		after = conn.PageInfo.EndCursor
	}
	return all, nil
}

// FetchTimeLogs aggregates the time-log entries of a set of issues per
// issue and per actor. Issues are fetched sequentially, one at a time, to
// stay within upstream rate limits; a single issue's failure contributes
// zero seconds and never aborts the rest.
func (u *AnalyticsUseCase) FetchTimeLogs(ctx context.Context, cred types.Credential, issues []model.Issue) (*model.TimeLogReport, error) {
	report := &model.TimeLogReport{
		PerIssueSeconds:      map[types.IssueID]int64{},
		PerIssueContributors: map[types.IssueID][]model.TimeLogContribution{},
	}

	type actorAcc struct {
		actor   *model.UserRef
		seconds int64
	}
	global := map[types.ActorID]*actorAcc{}
	var globalOrder []types.ActorID

	for i := range issues {
		issue := &issues[i]
		projectPath, iid := issueTimelogTarget(issue)
		if projectPath == "" || iid == 0 {
			continue
		}

		nodes, err := u.fetchIssueTimelogs(ctx, cred, projectPath, iid)
		if err != nil {
			ctxlog.From(ctx).Warn("timelog fetch failed, issue contributes zero",
				"issueID", issue.ID,
				"project", projectPath,
				"error", err,
			)
			nodes = nil
		}

		perIssue := map[types.ActorID]*actorAcc{}
		var perIssueOrder []types.ActorID
		var issueTotal int64

		for _, n := range nodes {
			actorID := types.ActorNone
			var actor *model.UserRef
			if n.User != nil {
				actorID = types.ActorIDFromGlobalID(n.User.ID)
				actor = &model.UserRef{
					ID:        actorID,
					Username:  n.User.Username,
					Name:      n.User.Name,
					WebURL:    n.User.WebURL,
					AvatarURL: n.User.AvatarURL,
				}
			}

			entry, ok := perIssue[actorID]
			if !ok {
				entry = &actorAcc{actor: actor}
				perIssue[actorID] = entry
				perIssueOrder = append(perIssueOrder, actorID)
			}
			entry.seconds += n.TimeSpent

			g, ok := global[actorID]
			if !ok {
				g = &actorAcc{actor: actor}
				global[actorID] = g
				globalOrder = append(globalOrder, actorID)
			}
			g.seconds += n.TimeSpent

			issueTotal += n.TimeSpent
		}

		report.PerIssueSeconds[issue.ID] = issueTotal
		contributors := make([]model.TimeLogContribution, 0, len(perIssueOrder))
		for _, id := range perIssueOrder {
			contributors = append(contributors, model.TimeLogContribution{
				ActorID: id,
				Seconds: perIssue[id].seconds,
				Actor:   perIssue[id].actor,
			})
		}
		report.PerIssueContributors[issue.ID] = contributors
	}

	report.PerActor = make([]model.TimeLogContribution, 0, len(globalOrder))
	for _, id := range globalOrder {
		report.PerActor = append(report.PerActor, model.TimeLogContribution{
			ActorID: id,
			Seconds: global[id].seconds,
			Actor:   global[id].actor,
		})
	}
	// Stable sort: equal seconds keep first-seen order
	sort.SliceStable(report.PerActor, func(i, j int) bool {
		return report.PerActor[i].Seconds > report.PerActor[j].Seconds
	})

	return report, nil
}

// issueTimelogTarget resolves the project path and iid needed for the
// GraphQL lookup, falling back to parsing the issue's web URL
// (".../<project>/-/issues/<iid>") when the REST payload lacks them
func issueTimelogTarget(issue *model.Issue) (string, types.IssueIID) {
	projectPath := issue.ProjectPath
	iid := issue.IID
	if projectPath != "" && iid != 0 {
		return projectPath, iid
	}

	u, err := url.Parse(issue.WebURL)
	if err != nil || u.Path == "" {
		return "", 0
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	issuesIdx := -1
	for k := len(parts) - 1; k >= 0; k-- {
		if parts[k] == "issues" {
			issuesIdx = k
			break
		}
	}
	if issuesIdx <= 0 || issuesIdx+1 >= len(parts) {
		return "", 0
	}

	n, err := strconv.ParseInt(parts[issuesIdx+1], 10, 64)
	if err != nil || n <= 0 {
		return "", 0
	}

	cut := issuesIdx
	if issuesIdx > 0 && parts[issuesIdx-1] == "-" {
		cut = issuesIdx - 1
	}
	parsedPath := strings.Join(parts[:cut], "/")

	if projectPath == "" {
		projectPath = parsedPath
	}
	if iid == 0 {
		iid = types.IssueIID(n)
	}
	if projectPath == "" || iid == 0 {
		return "", 0
	}
	return projectPath, iid
}
