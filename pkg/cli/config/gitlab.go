package config

import (
	"log/slog"
	"net/url"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/sprintview/sprintview/pkg/service/gitlab"
)

// GitLab holds the upstream platform configuration
type GitLab struct {
	BaseURL      string
	AllowedHosts string
}

// Flags returns CLI flags for GitLab configuration
func (g *GitLab) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gitlab-base-url",
			Usage:       "GitLab instance base URL (e.g. https://gitlab.example.com)",
			Category:    "GitLab",
			Required:    true,
			Sources:     cli.EnvVars("SPRINTVIEW_GITLAB_BASE_URL"),
			Destination: &g.BaseURL,
		},
		&cli.StringFlag{
			Name:        "gitlab-allowed-hosts",
			Usage:       "Comma-separated host allow-list for outbound GitLab calls (empty disables the guard)",
			Category:    "GitLab",
			Sources:     cli.EnvVars("SPRINTVIEW_ALLOWED_GITLAB_HOSTS"),
			Destination: &g.AllowedHosts,
		},
	}
}

// Hosts returns the parsed allow-list
func (g *GitLab) Hosts() []string {
	var hosts []string
	for _, h := range strings.Split(g.AllowedHosts, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// Validate checks the configuration
func (g *GitLab) Validate() error {
	u, err := url.Parse(g.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return goerr.New("invalid GitLab base URL", goerr.V("url", g.BaseURL))
	}
	return nil
}

// Configure creates the GitLab API client
func (g *GitLab) Configure() (*gitlab.Client, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return gitlab.New(g.BaseURL, gitlab.WithAllowedHosts(g.Hosts()))
}

// LogValue returns structured log value
func (g GitLab) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("base_url", g.BaseURL),
		slog.String("allowed_hosts", g.AllowedHosts),
	)
}
