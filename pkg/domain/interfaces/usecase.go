package interfaces

import (
	"context"

	"github.com/sprintview/sprintview/pkg/domain/model"
	"github.com/sprintview/sprintview/pkg/domain/types"
)

// Auth validates credentials against the upstream platform and seals them
// for cookie storage
type Auth interface {
	// Login validates the token with a current-user probe and returns the
	// sealed cookie value plus the authenticated user
	Login(ctx context.Context, token string) (sealed string, user *model.User, err error)

	// Unseal recovers the credential from a sealed cookie value
	Unseal(sealed string) (types.Credential, error)

	// CurrentUser fetches the authenticated user for a credential
	CurrentUser(ctx context.Context, cred types.Credential) (*model.User, error)
}

// Analytics computes iteration and per-person aggregates from upstream data
type Analytics interface {
	// ResolveGroup looks a group up by its URL-encoded full path. This is a
	// primary fetch: failure is surfaced, not degraded.
	ResolveGroup(ctx context.Context, cred types.Credential, fullPath string) (*model.Group, error)

	// LoadIterations returns the group's recent iterations, newest first
	LoadIterations(ctx context.Context, cred types.Credential, groupID types.GroupID, limit int) ([]model.Iteration, error)

	// FindIteration picks one iteration from the group's recent set
	FindIteration(ctx context.Context, cred types.Credential, groupID types.GroupID, iterationID types.IterationID) (*model.Iteration, error)

	// FetchIterationIssues walks every issue of one iteration (bounded)
	FetchIterationIssues(ctx context.Context, cred types.Credential, groupID types.GroupID, iterationID types.IterationID) ([]model.Issue, error)

	// IterationMetrics computes per-iteration summaries for a set of
	// iterations
	IterationMetrics(ctx context.Context, cred types.Credential, groupID types.GroupID, iterations []model.Iteration) ([]model.IterationMetrics, error)

	// FetchTimeLogs walks the time-log connections of the given issues and
	// folds them per issue and per actor. Individual issue failures
	// contribute zero, they never abort the rest.
	FetchTimeLogs(ctx context.Context, cred types.Credential, issues []model.Issue) (*model.TimeLogReport, error)
}
