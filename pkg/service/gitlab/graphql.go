package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/sprintview/sprintview/pkg/domain/model"
	"github.com/sprintview/sprintview/pkg/domain/types"
)

// graphQLPath is the fixed endpoint under the same base URL as REST
const graphQLPath = "/api/graphql"

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLErrorEntry struct {
	Message string `json:"message"`
}

type graphQLEnvelope struct {
	Data   json.RawMessage     `json:"data"`
	Errors []graphQLErrorEntry `json:"errors"`
}

// QueryGraphQL executes one GraphQL document with variables and decodes the
// data payload into out. An errors array in an HTTP-200 response is a
// failure, not a success with warnings. There is no built-in retry: callers
// use it inside already-bounded pagination loops.
func (c *Client) QueryGraphQL(ctx context.Context, cred types.Credential, document string, variables map[string]any, out any) error {
	target, err := c.buildURL(graphQLPath, nil)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(graphQLRequest{Query: document, Variables: variables})
	if err != nil {
		return goerr.Wrap(err, "failed to encode GraphQL request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return goerr.Wrap(err, "failed to build GraphQL request")
	}
	req.Header.Set("Private-Token", cred.Raw())
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return goerr.Wrap(model.ErrNetwork, "GraphQL request failed",
			goerr.V("cause", err.Error()))
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return goerr.Wrap(model.ErrNetwork, "failed to read GraphQL response")
	}

	var envelope graphQLEnvelope
	// Best effort decode; a non-JSON body still reports via status below
	_ = json.Unmarshal(raw, &envelope)

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		msg := "GitLab GraphQL error"
		if len(envelope.Errors) > 0 {
			msg = envelope.Errors[0].Message
		}
		return &StatusError{Status: httpResp.StatusCode, Message: msg, Body: raw}
	}

	if len(envelope.Errors) > 0 {
		msgs := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			msgs = append(msgs, e.Message)
		}
		return goerr.Wrap(model.ErrGraphQL, msgs[0],
			goerr.V("errors", strings.Join(msgs, "; ")))
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return goerr.Wrap(err, "failed to decode GraphQL data")
		}
	}
	return nil
}
