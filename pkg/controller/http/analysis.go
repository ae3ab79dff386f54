package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"

	"github.com/sprintview/sprintview/pkg/domain/interfaces"
	"github.com/sprintview/sprintview/pkg/domain/model"
	"github.com/sprintview/sprintview/pkg/domain/types"
	"github.com/sprintview/sprintview/pkg/service/gitlab"
	"github.com/sprintview/sprintview/pkg/usecase"
)

// targetCookie stores the selected analysis group path. It is read by the
// frontend, so it stays non-HttpOnly on purpose.
const targetCookie = "sv_analysis_target"

// iterationListSize is how many recent iterations the list endpoint covers
const iterationListSize = 8

// AnalysisHandler serves the iteration analytics endpoints
type AnalysisHandler struct {
	analyticsUC interfaces.Analytics
	client      *gitlab.Client
}

// NewAnalysisHandler creates a new analysis handler
func NewAnalysisHandler(analyticsUC interfaces.Analytics, client *gitlab.Client) *AnalysisHandler {
	return &AnalysisHandler{
		analyticsUC: analyticsUC,
		client:      client,
	}
}

// HandleOverview fetches the caller's groups and projects concurrently for
// the target-selection page
func (h *AnalysisHandler) HandleOverview(w http.ResponseWriter, r *http.Request) {
	cred, ok := CredentialFrom(r.Context())
	if !ok {
		writeError(w, goerr.New("credential not found"), http.StatusUnauthorized)
		return
	}

	var (
		groups   []model.Group
		projects []model.Project
	)

	eg, egCtx := errgroup.WithContext(r.Context())
	eg.Go(func() error {
		query := url.Values{}
		query.Set("min_access_level", "10")
		query.Set("per_page", "50")
		got, _, err := gitlab.GetDecoded[[]model.Group](egCtx, h.client, cred, "/api/v4/groups", query)
		if err != nil {
			return err
		}
		groups = got
		return nil
	})
	eg.Go(func() error {
		query := url.Values{}
		query.Set("membership", "true")
		query.Set("simple", "true")
		query.Set("per_page", "50")
		got, _, err := gitlab.GetDecoded[[]model.Project](egCtx, h.client, cred, "/api/v4/projects", query)
		if err != nil {
			return err
		}
		projects = got
		return nil
	})
	if err := eg.Wait(); err != nil {
		writeUpstreamError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"groups":   groups,
		"projects": projects,
	})
}

// HandleIterations resolves the group and returns its recent iterations with
// per-iteration metrics
func (h *AnalysisHandler) HandleIterations(w http.ResponseWriter, r *http.Request) {
	cred, ok := CredentialFrom(r.Context())
	if !ok {
		writeError(w, goerr.New("credential not found"), http.StatusUnauthorized)
		return
	}

	group, err := h.resolveGroup(w, r, cred)
	if err != nil {
		return
	}

	iterations, err := h.analyticsUC.LoadIterations(r.Context(), cred, group.ID, iterationListSize)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}

	metrics, err := h.analyticsUC.IterationMetrics(r.Context(), cred, group.ID, iterations)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"group":      group,
		"iterations": metrics,
	})
}

// HandleIterationDetail returns one iteration's summary, per-actor metrics
// and assignee breakdown. When the per-entry time-log fetch yields nothing
// the response falls back to issue time_stats and says so.
func (h *AnalysisHandler) HandleIterationDetail(w http.ResponseWriter, r *http.Request) {
	cred, ok := CredentialFrom(r.Context())
	if !ok {
		writeError(w, goerr.New("credential not found"), http.StatusUnauthorized)
		return
	}

	group, err := h.resolveGroup(w, r, cred)
	if err != nil {
		return
	}
	iterationID, ok := parseIterationID(w, r)
	if !ok {
		return
	}

	iteration, err := h.analyticsUC.FindIteration(r.Context(), cred, group.ID, iterationID)
	if err != nil {
		if errors.Is(err, model.ErrIterationNotFound) {
			writeError(w, err, http.StatusNotFound)
			return
		}
		writeUpstreamError(w, err)
		return
	}

	issues, err := h.analyticsUC.FetchIterationIssues(r.Context(), cred, group.ID, iterationID)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}

	report, tlErr := h.analyticsUC.FetchTimeLogs(r.Context(), cred, issues)
	usesFallback := tlErr != nil || report == nil || len(report.PerActor) == 0
	if tlErr != nil {
		ctxlog.From(r.Context()).Warn("Time-log fetch failed, using time_stats fallback",
			"groupID", group.ID,
			"iterationID", iterationID,
			"error", tlErr,
		)
	}

	var actors []model.ActorMetrics
	if !usesFallback {
		actors = usecase.ComputeActorMetrics(issues, report)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"group":        group,
		"iteration":    iteration,
		"summary":      usecase.ComputeIterationSummary(issues),
		"issues":       issues,
		"actors":       actors,
		"assignees":    usecase.AggregateByAssignee(issues),
		"usesFallback": usesFallback,
	})
}

// HandleIterationActor returns one actor's contributions within an iteration
func (h *AnalysisHandler) HandleIterationActor(w http.ResponseWriter, r *http.Request) {
	cred, ok := CredentialFrom(r.Context())
	if !ok {
		writeError(w, goerr.New("credential not found"), http.StatusUnauthorized)
		return
	}

	group, err := h.resolveGroup(w, r, cred)
	if err != nil {
		return
	}
	iterationID, ok := parseIterationID(w, r)
	if !ok {
		return
	}
	actorID, err := types.ParseActorID(chi.URLParam(r, "actorID"))
	if err != nil {
		writeError(w, goerr.Wrap(err, "invalid actor id"), http.StatusBadRequest)
		return
	}

	issues, err := h.analyticsUC.FetchIterationIssues(r.Context(), cred, group.ID, iterationID)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}

	report, err := h.analyticsUC.FetchTimeLogs(r.Context(), cred, issues)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}

	type issueRow struct {
		Issue   model.Issue `json:"issue"`
		Seconds int64       `json:"seconds"`
	}

	var actor *model.UserRef
	for _, row := range report.PerActor {
		if row.ActorID == actorID {
			actor = row.Actor
			break
		}
	}

	var rows []issueRow
	var totalSeconds int64
	for i := range issues {
		seconds := report.ActorSeconds(issues[i].ID, actorID)
		if seconds == 0 {
			continue
		}
		rows = append(rows, issueRow{Issue: issues[i], Seconds: seconds})
		totalSeconds += seconds
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"actor":        actor,
		"actorId":      actorID,
		"totalSeconds": totalSeconds,
		"issues":       rows,
	})
}

// HandleGetTarget returns the stored analysis target path, if any
func (h *AnalysisHandler) HandleGetTarget(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(targetCookie)
	if err != nil || cookie.Value == "" {
		writeJSON(w, http.StatusOK, map[string]any{"target": nil})
		return
	}
	target, err := url.QueryUnescape(cookie.Value)
	if err != nil {
		target = cookie.Value
	}
	writeJSON(w, http.StatusOK, map[string]any{"target": target})
}

type targetRequest struct {
	Target string `json:"target"`
}

// HandlePutTarget stores the selected group path in the target cookie
func (h *AnalysisHandler) HandlePutTarget(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, goerr.Wrap(err, "invalid request body"), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Target) == "" {
		writeError(w, goerr.New("target is required"), http.StatusBadRequest)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     targetCookie,
		Value:    url.QueryEscape(req.Target),
		Path:     "/",
		Secure:   !isLocalhost(r),
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]any{"target": req.Target})
}

// HandleDeleteTarget clears the target cookie
func (h *AnalysisHandler) HandleDeleteTarget(w http.ResponseWriter, r *http.Request) {
	clearCookie(w, targetCookie, false)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "target cleared",
	})
}

// resolveGroup decodes the path parameter and resolves the group upstream.
// On failure it writes the error response and returns a non-nil error so the
// caller just returns.
func (h *AnalysisHandler) resolveGroup(w http.ResponseWriter, r *http.Request, cred types.Credential) (*model.Group, error) {
	raw := chi.URLParam(r, "group")
	fullPath, err := url.PathUnescape(raw)
	if err != nil {
		fullPath = raw
	}
	if fullPath == "" {
		err := goerr.New("group path is required")
		writeError(w, err, http.StatusBadRequest)
		return nil, err
	}

	group, err := h.analyticsUC.ResolveGroup(r.Context(), cred, fullPath)
	if err != nil {
		writeError(w, err, http.StatusNotFound)
		return nil, err
	}
	return group, nil
}

func parseIterationID(w http.ResponseWriter, r *http.Request) (types.IterationID, bool) {
	raw := chi.URLParam(r, "iterationID")
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		writeError(w, goerr.New("invalid iteration id: "+raw), http.StatusBadRequest)
		return 0, false
	}
	return types.IterationID(n), true
}
