// Package githost abstracts the source-code host the ingestion pipeline
// reads repositories from. The GitHub implementation talks to the REST API;
// the local implementation walks a checkout on disk.
package githost

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/seanblong/repochat/pkg/models"
)

// Repository is the host's metadata for a repository.
type Repository struct {
	Owner         string
	Name          string
	Description   string
	Language      string
	DefaultBranch string
	URL           string
}

// FullName returns the owner/name form.
func (r Repository) FullName() string { return r.Owner + "/" + r.Name }

// TreeEntry is one node of a repository's file tree.
type TreeEntry struct {
	Path string
	Type string // "blob" or "tree"
	Size int64
}

// Client is the narrow contract the pipeline depends on.
type Client interface {
	// GetRepository fetches repository metadata.
	GetRepository(ctx context.Context, owner, name string) (Repository, error)
	// GetTree fetches the full recursive file tree at ref. An empty ref
	// means the default branch.
	GetTree(ctx context.Context, owner, name, ref string) ([]TreeEntry, error)
	// GetFileContent fetches one file's text at ref.
	GetFileContent(ctx context.Context, owner, name, ref, path string) (string, error)
}

// ParseRepoURL extracts owner and name from a GitHub repository URL. A
// trailing .git suffix and any extra path segments are discarded.
func ParseRepoURL(raw string) (owner, name string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", fmt.Errorf("empty repository URL: %w", models.ErrValidation)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || !isGitHubHost(u.Host) {
		return "", "", fmt.Errorf("not a GitHub repository URL: %q: %w", raw, models.ErrValidation)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("URL missing owner/name: %q: %w", raw, models.ErrValidation)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}

// isGitHubHost matches github.com and its subdomains only; a bare suffix
// check would also admit lookalike hosts such as evilgithub.com.
func isGitHubHost(host string) bool {
	host = strings.ToLower(host)
	return host == "github.com" || strings.HasSuffix(host, ".github.com")
}
