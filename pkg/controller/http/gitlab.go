package http

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/m-mizutani/goerr/v2"

	"github.com/sprintview/sprintview/pkg/domain/model"
	"github.com/sprintview/sprintview/pkg/service/gitlab"
)

// GitLabHandler forwards a small read-only slice of the upstream REST API.
// Query parameters pass an allow-list; everything else is dropped silently.
type GitLabHandler struct {
	client *gitlab.Client
}

// NewGitLabHandler creates a new passthrough handler
func NewGitLabHandler(client *gitlab.Client) *GitLabHandler {
	return &GitLabHandler{
		client: client,
	}
}

var groupsParams = map[string]bool{
	"page":             true,
	"per_page":         true,
	"all_available":    true,
	"owned":            true,
	"min_access_level": true,
	"search":           true,
	"order_by":         true,
	"sort":             true,
	"top_level_only":   true,
}

var projectsParams = map[string]bool{
	"page":       true,
	"per_page":   true,
	"membership": true,
	"owned":      true,
	"starred":    true,
	"simple":     true,
	"search":     true,
	"order_by":   true,
	"sort":       true,
}

// HandleGroups proxies GET /api/v4/groups
func (h *GitLabHandler) HandleGroups(w http.ResponseWriter, r *http.Request) {
	h.proxy(w, r, "/api/v4/groups", groupsParams)
}

// HandleProjects proxies GET /api/v4/projects
func (h *GitLabHandler) HandleProjects(w http.ResponseWriter, r *http.Request) {
	h.proxy(w, r, "/api/v4/projects", projectsParams)
}

func (h *GitLabHandler) proxy(w http.ResponseWriter, r *http.Request, path string, allowed map[string]bool) {
	cred, ok := CredentialFrom(r.Context())
	if !ok {
		writeError(w, goerr.New("credential not found"), http.StatusUnauthorized)
		return
	}

	query := filterQuery(r.URL.Query(), allowed)
	if query.Get("per_page") == "" {
		query.Set("per_page", "50")
	}

	resp, err := h.client.Get(r.Context(), cred, path, query)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}

	setRateLimitHeaders(w, resp.RateLimit)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	if _, err := w.Write(resp.Body); err != nil {
		return
	}
}

func filterQuery(in url.Values, allowed map[string]bool) url.Values {
	out := url.Values{}
	for key, values := range in {
		if !allowed[key] {
			continue
		}
		for _, v := range values {
			out.Add(key, v)
		}
	}
	return out
}

func setRateLimitHeaders(w http.ResponseWriter, rl model.RateLimitInfo) {
	if rl.Limit > 0 {
		w.Header().Set("RateLimit-Limit", strconv.FormatInt(rl.Limit, 10))
	}
	if rl.Remaining > 0 {
		w.Header().Set("RateLimit-Remaining", strconv.FormatInt(rl.Remaining, 10))
	}
	if rl.Reset > 0 {
		w.Header().Set("RateLimit-Reset", strconv.FormatInt(rl.Reset, 10))
	}
}

// writeUpstreamError maps a client error to a response: upstream statuses
// pass through; host-guard rejections and transport failures both mean the
// proxy could not reach a usable upstream, so they become 502.
func writeUpstreamError(w http.ResponseWriter, err error) {
	var statusErr *gitlab.StatusError
	if errors.As(err, &statusErr) {
		writeError(w, err, statusErr.Status)
		return
	}
	writeError(w, err, http.StatusBadGateway)
}
