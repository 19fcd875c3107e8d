package githost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/seanblong/repochat/pkg/models"
)

// proactiveRate throttles below GitHub's authenticated quota so a single
// ingestion run cannot exhaust it.
const proactiveRate = 1.2 // requests per second

// GitHub implements Client against the GitHub REST API.
type GitHub struct {
	gh      *gh.Client
	limiter *rate.Limiter
}

// NewGitHub creates a GitHub host client. An empty token means anonymous
// access, which is rate limited far more aggressively by the API.
func NewGitHub(ctx context.Context, token string) *GitHub {
	var hc *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		hc = oauth2.NewClient(ctx, ts)
	} else {
		hc = &http.Client{}
	}
	hc.Timeout = 30 * time.Second

	return &GitHub{
		gh:      gh.NewClient(hc),
		limiter: rate.NewLimiter(rate.Limit(proactiveRate), 3),
	}
}

// GetRepository fetches repository metadata.
func (g *GitHub) GetRepository(ctx context.Context, owner, name string) (Repository, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return Repository{}, err
	}
	repo, _, err := g.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		return Repository{}, wrapError(err, "get repository")
	}
	return Repository{
		Owner:         repo.GetOwner().GetLogin(),
		Name:          repo.GetName(),
		Description:   repo.GetDescription(),
		Language:      repo.GetLanguage(),
		DefaultBranch: repo.GetDefaultBranch(),
		URL:           repo.GetHTMLURL(),
	}, nil
}

// GetTree fetches the full recursive tree at ref, falling back to the
// repository's default branch when ref is empty.
func (g *GitHub) GetTree(ctx context.Context, owner, name, ref string) ([]TreeEntry, error) {
	if ref == "" {
		repo, err := g.GetRepository(ctx, owner, name)
		if err != nil {
			return nil, err
		}
		ref = repo.DefaultBranch
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	tree, _, err := g.gh.Git.GetTree(ctx, owner, name, ref, true)
	if err != nil {
		return nil, wrapError(err, "get tree")
	}

	entries := make([]TreeEntry, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		entries = append(entries, TreeEntry{
			Path: e.GetPath(),
			Type: e.GetType(),
			Size: int64(e.GetSize()),
		})
	}
	return entries, nil
}

// GetFileContent fetches one file's decoded text.
func (g *GitHub) GetFileContent(ctx context.Context, owner, name, ref, path string) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}
	opts := &gh.RepositoryContentGetOptions{Ref: ref}
	content, _, _, err := g.gh.Repositories.GetContents(ctx, owner, name, path, opts)
	if err != nil {
		return "", wrapError(err, "get contents")
	}
	if content == nil {
		return "", fmt.Errorf("%s is a directory: %w", path, models.ErrValidation)
	}
	decoded, err := content.GetContent()
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", path, err)
	}
	return decoded, nil
}

// wrapError maps go-github errors onto the service taxonomy.
func wrapError(err error, op string) error {
	var rateErr *gh.RateLimitError
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return fmt.Errorf("github %s: rate limited: %w: %w", op, models.ErrUpstream, err)
	}

	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("github %s: %w", op, models.ErrNotFound)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("github %s: %w", op, models.ErrUnauthorized)
		}
	}
	return fmt.Errorf("github %s: %w: %w", op, models.ErrUpstream, err)
}
