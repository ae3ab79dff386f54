package http_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	controller "github.com/sprintview/sprintview/pkg/controller/http"
	"github.com/sprintview/sprintview/pkg/domain/model"
	"github.com/sprintview/sprintview/pkg/service/gitlab"
	"github.com/sprintview/sprintview/pkg/service/seal"
	"github.com/sprintview/sprintview/pkg/usecase"
)

const validToken = "glpat-test-valid-token"

// upstream is a fake GitLab serving just enough of the REST and GraphQL
// surface for the HTTP layer tests
type upstream struct {
	srv             *httptest.Server
	lastGroupsQuery url.Values
	graphqlFails    bool
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	up := &upstream{}
	up.srv = httptest.NewServer(http.HandlerFunc(up.handle))
	t.Cleanup(up.srv.Close)
	return up
}

func (u *upstream) handle(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Private-Token") != validToken {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"401 Unauthorized"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/api/v4/user":
		_, _ = w.Write([]byte(`{"id":501,"username":"alice","name":"Alice"}`))

	case "/api/v4/groups":
		u.lastGroupsQuery = r.URL.Query()
		_, _ = w.Write([]byte(`[{"id":10,"full_path":"eng","name":"Engineering"}]`))

	case "/api/v4/projects":
		_, _ = w.Write([]byte(`[{"id":20,"name":"app","path_with_namespace":"eng/app"}]`))

	case "/api/v4/groups/eng/platform":
		_, _ = w.Write([]byte(`{"id":42,"full_path":"eng/platform","name":"Platform"}`))

	case "/api/v4/groups/42/iterations":
		_, _ = w.Write([]byte(`[
			{"id":7,"iid":2,"title":"Sprint 2","state":"started","start_date":"2025-06-09"},
			{"id":6,"iid":1,"title":"Sprint 1","state":"closed","start_date":"2025-05-26"}
		]`))

	case "/api/v4/groups/42/issues":
		if r.URL.Query().Get("page") != "1" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(`[
			{"id":100,"iid":1,"title":"Build the thing","state":"closed","weight":3,
			 "time_stats":{"total_time_spent":600},
			 "project_path_with_namespace":"eng/platform/app",
			 "assignees":[{"id":501,"username":"alice"}]},
			{"id":101,"iid":2,"title":"Ship the thing","state":"opened","weight":5,
			 "time_stats":{"total_time_spent":0},
			 "project_path_with_namespace":"eng/platform/app"}
		]`))

	case "/api/graphql":
		if u.graphqlFails {
			_, _ = w.Write([]byte(`{"errors":[{"message":"timelogs unavailable"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{"project":{"issue":{"timelogs":{
			"nodes":[{"timeSpent":600,"spentAt":"2025-06-10T09:00:00Z",
				"user":{"id":"gid://gitlab/User/501","username":"alice","name":"Alice"}}],
			"pageInfo":{"hasNextPage":false,"endCursor":""}
		}}}}}`))

	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"404 Not Found"}`))
	}
}

func newTestServer(t *testing.T, up *upstream) *controller.Server {
	t.Helper()

	client, err := gitlab.New(up.srv.URL, gitlab.WithBackoffBase(time.Millisecond))
	gt.NoError(t, err).Required()
	sealer, err := seal.New("0123456789abcdef0123456789abcdef")
	gt.NoError(t, err).Required()

	authUC := usecase.NewAuth(client, sealer)
	analyticsUC := usecase.NewAnalytics(client)

	return controller.NewServer("localhost:0", authUC, analyticsUC, client)
}

// login performs the login flow and returns the credential cookie
func login(t *testing.T, s *controller.Server) *http.Cookie {
	t.Helper()

	body := bytes.NewBufferString(`{"token":"` + validToken + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", body)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	gt.Equal(t, http.StatusOK, w.Code)
	for _, c := range w.Result().Cookies() {
		if c.Name == "sv_credential" && c.Value != "" {
			return c
		}
	}
	t.Fatal("credential cookie not set")
	return nil
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, newUpstream(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	gt.Equal(t, http.StatusOK, w.Code)
	gt.S(t, w.Body.String()).Contains("healthy")
}

func TestLoginSetsSealedCookie(t *testing.T) {
	up := newUpstream(t)
	s := newTestServer(t, up)

	cookie := login(t, s)
	gt.True(t, cookie.HttpOnly)
	gt.S(t, cookie.Value).Contains("v1.")
	// Sealed value must not contain the plaintext token
	gt.False(t, strings.Contains(cookie.Value, validToken))

	// The cookie round-trips through the guard
	req := httptest.NewRequest(http.MethodGet, "/api/user/me", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	gt.Equal(t, http.StatusOK, w.Code)
	gt.S(t, w.Body.String()).Contains("alice")
}

func TestLoginRejectsBadToken(t *testing.T) {
	s := newTestServer(t, newUpstream(t))

	body := bytes.NewBufferString(`{"token":"glpat-wrong"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", body)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	gt.Equal(t, http.StatusUnauthorized, w.Code)
	gt.S(t, w.Body.String()).Contains("invalid token or insufficient permission")
}

func TestLoginRejectsEmptyToken(t *testing.T) {
	s := newTestServer(t, newUpstream(t))

	body := bytes.NewBufferString(`{"token":""}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", body)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	gt.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGuardMissingCookie(t *testing.T) {
	s := newTestServer(t, newUpstream(t))

	req := httptest.NewRequest(http.MethodGet, "/api/user/me", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	gt.Equal(t, http.StatusUnauthorized, w.Code)
	gt.S(t, w.Body.String()).Contains("credential cookie missing")
}

func TestGuardInvalidCookie(t *testing.T) {
	s := newTestServer(t, newUpstream(t))

	req := httptest.NewRequest(http.MethodGet, "/api/user/me", nil)
	req.AddCookie(&http.Cookie{Name: "sv_credential", Value: "v1.garbage.garbage.garbage"})
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	gt.Equal(t, http.StatusUnauthorized, w.Code)
	gt.S(t, w.Body.String()).Contains("credential cookie rejected")

	// The broken cookie is cleared
	cleared := false
	for _, c := range w.Result().Cookies() {
		if c.Name == "sv_credential" && c.Value == "" {
			cleared = true
		}
	}
	gt.True(t, cleared)
}

func TestLogoutClearsCookies(t *testing.T) {
	s := newTestServer(t, newUpstream(t))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	gt.Equal(t, http.StatusOK, w.Code)

	names := map[string]bool{}
	for _, c := range w.Result().Cookies() {
		if c.Value == "" && c.MaxAge < 0 {
			names[c.Name] = true
		}
	}
	gt.True(t, names["sv_credential"])
	gt.True(t, names["sv_analysis_target"])
}

func TestProxyGroupsFiltersQuery(t *testing.T) {
	up := newUpstream(t)
	s := newTestServer(t, up)
	cookie := login(t, s)

	req := httptest.NewRequest(http.MethodGet,
		"/api/gitlab/groups?search=plat&per_page=5&private_token=sneaky&sudo=1", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	gt.Equal(t, http.StatusOK, w.Code)
	gt.Equal(t, "plat", up.lastGroupsQuery.Get("search"))
	gt.Equal(t, "5", up.lastGroupsQuery.Get("per_page"))
	gt.Equal(t, "", up.lastGroupsQuery.Get("private_token"))
	gt.Equal(t, "", up.lastGroupsQuery.Get("sudo"))
}

func TestProxyGroupsDefaultPerPage(t *testing.T) {
	up := newUpstream(t)
	s := newTestServer(t, up)
	cookie := login(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/gitlab/groups", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	gt.Equal(t, http.StatusOK, w.Code)
	gt.Equal(t, "50", up.lastGroupsQuery.Get("per_page"))
}

func TestProxyHostGuardMapsTo502(t *testing.T) {
	up := newUpstream(t)

	// The allow-list excludes the upstream host, so the guard trips before
	// any network I/O
	client, err := gitlab.New(up.srv.URL,
		gitlab.WithBackoffBase(time.Millisecond),
		gitlab.WithAllowedHosts([]string{"gitlab.example.com"}))
	gt.NoError(t, err).Required()
	sealer, err := seal.New("0123456789abcdef0123456789abcdef")
	gt.NoError(t, err).Required()

	s := controller.NewServer("localhost:0",
		usecase.NewAuth(client, sealer), usecase.NewAnalytics(client), client)

	sealed, err := sealer.Seal(validToken)
	gt.NoError(t, err).Required()

	req := httptest.NewRequest(http.MethodGet, "/api/gitlab/groups", nil)
	req.AddCookie(&http.Cookie{Name: "sv_credential", Value: sealed})
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	gt.Equal(t, http.StatusBadGateway, w.Code)
	gt.S(t, w.Body.String()).Contains("not allow")
}

func TestOverview(t *testing.T) {
	up := newUpstream(t)
	s := newTestServer(t, up)
	cookie := login(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/analysis/overview", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	gt.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Groups   []model.Group   `json:"groups"`
		Projects []model.Project `json:"projects"`
	}
	gt.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	gt.A(t, resp.Groups).Length(1).Required()
	gt.Equal(t, "eng", resp.Groups[0].FullPath)
	gt.Equal(t, 1, len(resp.Projects))
}

func TestIterationList(t *testing.T) {
	up := newUpstream(t)
	s := newTestServer(t, up)
	cookie := login(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/analysis/groups/eng%2Fplatform/iterations", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	gt.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Group      model.Group              `json:"group"`
		Iterations []model.IterationMetrics `json:"iterations"`
	}
	gt.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	gt.Equal(t, "eng/platform", resp.Group.FullPath)
	gt.A(t, resp.Iterations).Length(2).Required()

	first := resp.Iterations[0]
	gt.Equal(t, "Sprint 2", first.Iteration.Title)
	gt.Equal(t, 2, first.IssuesTotal)
	gt.Equal(t, 1, first.IssuesClosed)
	gt.Equal(t, int64(8), first.WeightTotal)
	gt.Equal(t, int64(3), first.WeightClosed)
	gt.Equal(t, int64(600), first.TimeTotalSec)
}

func TestIterationListUnknownGroup(t *testing.T) {
	up := newUpstream(t)
	s := newTestServer(t, up)
	cookie := login(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/analysis/groups/nope/iterations", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	gt.Equal(t, http.StatusNotFound, w.Code)
	gt.S(t, w.Body.String()).Contains("group not found")
}

type iterationDetailResponse struct {
	Iteration    model.Iteration             `json:"iteration"`
	Summary      model.IterationSummary      `json:"summary"`
	Actors       []model.ActorMetrics        `json:"actors"`
	Assignees    []model.AssigneeAggregation `json:"assignees"`
	UsesFallback bool                        `json:"usesFallback"`
}

func TestIterationDetail(t *testing.T) {
	up := newUpstream(t)
	s := newTestServer(t, up)
	cookie := login(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/analysis/groups/eng%2Fplatform/iterations/7", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	gt.Equal(t, http.StatusOK, w.Code)

	var resp iterationDetailResponse
	gt.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	gt.Equal(t, "Sprint 2", resp.Iteration.Title)
	gt.Equal(t, 2, resp.Summary.IssuesTotal)
	gt.False(t, resp.UsesFallback)

	// Both issues logged 600s by alice through the fake GraphQL endpoint
	gt.A(t, resp.Actors).Length(1).Required()
	gt.Equal(t, "alice", resp.Actors[0].Actor.Username)
	gt.Equal(t, int64(1200), resp.Actors[0].TimeTotalSec)

	// Assignee breakdown is always present
	gt.Equal(t, 2, len(resp.Assignees))
}

func TestIterationDetailFallback(t *testing.T) {
	up := newUpstream(t)
	up.graphqlFails = true
	s := newTestServer(t, up)
	cookie := login(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/analysis/groups/eng%2Fplatform/iterations/7", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	gt.Equal(t, http.StatusOK, w.Code)

	var resp iterationDetailResponse
	gt.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	gt.True(t, resp.UsesFallback)
	gt.Equal(t, 0, len(resp.Actors))
	// The summary still carries the issues' own time_stats totals
	gt.Equal(t, int64(600), resp.Summary.TimeTotalSec)
	gt.Equal(t, 2, len(resp.Assignees))
}

func TestIterationDetailUnknownIteration(t *testing.T) {
	up := newUpstream(t)
	s := newTestServer(t, up)
	cookie := login(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/analysis/groups/eng%2Fplatform/iterations/999", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	gt.Equal(t, http.StatusNotFound, w.Code)
	gt.S(t, w.Body.String()).Contains("iteration not found")
}

func TestIterationActor(t *testing.T) {
	up := newUpstream(t)
	s := newTestServer(t, up)
	cookie := login(t, s)

	req := httptest.NewRequest(http.MethodGet,
		"/api/analysis/groups/eng%2Fplatform/iterations/7/actors/501", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	gt.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Actor        *model.UserRef `json:"actor"`
		TotalSeconds int64          `json:"totalSeconds"`
		Issues       []struct {
			Issue   model.Issue `json:"issue"`
			Seconds int64       `json:"seconds"`
		} `json:"issues"`
	}
	gt.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	gt.Equal(t, "alice", resp.Actor.Username)
	gt.Equal(t, int64(1200), resp.TotalSeconds)
	gt.A(t, resp.Issues).Length(2).Required()
	gt.Equal(t, int64(600), resp.Issues[0].Seconds)
}

func TestIterationActorBadID(t *testing.T) {
	up := newUpstream(t)
	s := newTestServer(t, up)
	cookie := login(t, s)

	req := httptest.NewRequest(http.MethodGet,
		"/api/analysis/groups/eng%2Fplatform/iterations/7/actors/abc", nil)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	gt.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalysisTargetLifecycle(t *testing.T) {
	s := newTestServer(t, newUpstream(t))

	// No cookie yet
	req := httptest.NewRequest(http.MethodGet, "/api/analysis/target", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	gt.Equal(t, http.StatusOK, w.Code)
	gt.S(t, w.Body.String()).Contains(`"target":null`)

	// Store a target
	req = httptest.NewRequest(http.MethodPut, "/api/analysis/target",
		bytes.NewBufferString(`{"target":"eng/platform"}`))
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	gt.Equal(t, http.StatusOK, w.Code)

	var target *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "sv_analysis_target" {
			target = c
		}
	}
	gt.NotNil(t, target)
	gt.False(t, target.HttpOnly)

	// Read it back
	req = httptest.NewRequest(http.MethodGet, "/api/analysis/target", nil)
	req.AddCookie(target)
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	gt.Equal(t, http.StatusOK, w.Code)
	gt.S(t, w.Body.String()).Contains("eng/platform")

	// Clear it
	req = httptest.NewRequest(http.MethodDelete, "/api/analysis/target", nil)
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	gt.Equal(t, http.StatusOK, w.Code)

	cleared := false
	for _, c := range w.Result().Cookies() {
		if c.Name == "sv_analysis_target" && c.Value == "" {
			cleared = true
		}
	}
	gt.True(t, cleared)
}

func TestPutTargetRejectsEmpty(t *testing.T) {
	s := newTestServer(t, newUpstream(t))

	req := httptest.NewRequest(http.MethodPut, "/api/analysis/target",
		bytes.NewBufferString(`{"target":"  "}`))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	gt.Equal(t, http.StatusBadRequest, w.Code)
}
