package gitlab_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/sprintview/sprintview/pkg/domain/model"
	"github.com/sprintview/sprintview/pkg/service/gitlab"
)

func TestQueryGraphQL(t *testing.T) {
	var gotPath, gotToken string
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("Private-Token")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"project":{"name":"platform"}}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	var out struct {
		Project struct {
			Name string `json:"name"`
		} `json:"project"`
	}
	err := c.QueryGraphQL(context.Background(), testCred,
		"query($fullPath: ID!){ project(fullPath: $fullPath){ name } }",
		map[string]any{"fullPath": "acme/platform"}, &out)
	gt.NoError(t, err).Required()

	gt.Equal(t, "/api/graphql", gotPath)
	gt.Equal(t, "glpat-test-token", gotToken)
	gt.Equal(t, "platform", out.Project.Name)

	vars, ok := gotReq["variables"].(map[string]any)
	gt.True(t, ok)
	gt.Equal(t, "acme/platform", vars["fullPath"])
}

func TestQueryGraphQLErrorsArrayIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// HTTP 200 with application-level errors
		_, _ = w.Write([]byte(`{"data":null,"errors":[{"message":"Field 'bogus' doesn't exist"},{"message":"second"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	err := c.QueryGraphQL(context.Background(), testCred, "query{bogus}", nil, nil)
	gt.Error(t, err).Required()
	gt.True(t, errors.Is(err, model.ErrGraphQL))
	gt.S(t, err.Error()).Contains("Field 'bogus' doesn't exist")
}

func TestQueryGraphQLHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	err := c.QueryGraphQL(context.Background(), testCred, "query{currentUser{id}}", nil, nil)
	gt.Error(t, err).Required()

	var statusErr *gitlab.StatusError
	gt.True(t, errors.As(err, &statusErr))
	gt.Equal(t, http.StatusUnauthorized, statusErr.Status)
}

func TestQueryGraphQLHostGuard(t *testing.T) {
	c, err := gitlab.New("https://evil.com",
		gitlab.WithAllowedHosts([]string{"gitlab.example.com"}))
	gt.NoError(t, err).Required()

	err = c.QueryGraphQL(context.Background(), testCred, "query{currentUser{id}}", nil, nil)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrHostNotAllowed))
}

func TestQueryGraphQLNoRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, gitlab.WithRetries(2))
	err := c.QueryGraphQL(context.Background(), testCred, "query{currentUser{id}}", nil, nil)
	gt.Error(t, err)
	gt.Equal(t, int32(1), calls.Load())
}
