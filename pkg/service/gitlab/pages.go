package gitlab

import (
	"context"
	"net/url"
	"strconv"

	"github.com/m-mizutani/ctxlog"

	"github.com/sprintview/sprintview/pkg/domain/types"
)

const (
	// DefaultPerPage is the fixed collection page size
	DefaultPerPage = 100

	// DefaultMaxPages bounds a page walk against pathologically large or
	// adversarial result sets. Callers needing completeness raise it.
	DefaultMaxPages = 20
)

// PageOption configures a page walk
type PageOption func(*pageConfig)

type pageConfig struct {
	perPage  int
	maxPages int
	failFast bool
}

// WithPerPage overrides the page size
func WithPerPage(n int) PageOption {
	return func(pc *pageConfig) {
		pc.perPage = n
	}
}

// WithMaxPages overrides the page-count ceiling
func WithMaxPages(n int) PageOption {
	return func(pc *pageConfig) {
		pc.maxPages = n
	}
}

// WithFailFast propagates a mid-walk fetch error instead of keeping the
// partial result. Default behavior trades completeness for availability.
func WithFailFast() PageOption {
	return func(pc *pageConfig) {
		pc.failFast = true
	}
}

// CollectPages walks a paged REST collection to completion. Pages are
// 1-indexed; the walk stops on a short page, on the page ceiling, or on a
// fetch error. Without WithFailFast an error keeps whatever accumulated so
// far and reports success.
func CollectPages[T any](ctx context.Context, c *Client, cred types.Credential, path string, query url.Values, opts ...PageOption) ([]T, error) {
	cfg := pageConfig{perPage: DefaultPerPage, maxPages: DefaultMaxPages}
	for _, opt := range opts {
		opt(&cfg)
	}

	var out []T
	for page := 1; page <= cfg.maxPages; page++ {
		q := url.Values{}
		for k, vs := range query {
			q[k] = vs
		}
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(cfg.perPage))

		batch, _, err := GetDecoded[[]T](ctx, c, cred, path, q)
		if err != nil {
			if cfg.failFast {
				return out, err
			}
			ctxlog.From(ctx).Warn("page walk aborted, keeping partial result",
				"path", path,
				"page", page,
				"collected", len(out),
				"error", err,
			)
			return out, nil
		}

		out = append(out, batch...)
		if len(batch) < cfg.perPage {
			break
		}
	}
	return out, nil
}
