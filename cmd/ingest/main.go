package main

import (
	"context"
	"log"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/seanblong/repochat/internal/ai"
	"github.com/seanblong/repochat/internal/config"
	"github.com/seanblong/repochat/internal/githost"
	"github.com/seanblong/repochat/internal/ingest"
	"github.com/seanblong/repochat/internal/store"
	"github.com/seanblong/repochat/pkg/models"
)

// Ingests one repository synchronously and exits. Point it at a GitHub URL
// with --git-repo, or at a checked-out tree with --repo-root.
func main() {
	fs := pflag.NewFlagSet("repochat-ingest", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	provider := strings.ToLower(cfg.Provider)
	log.Printf("using provider: %s", provider)
	var clientConfig *ai.ClientConfig
	switch provider {
	case "openai":
		clientConfig = &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			ChatModel:  cfg.ChatModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			MaxTokens:  cfg.MaxTokens,
			Provider:   ai.ProviderOpenAI,
		}
	case "vertexai", "google":
		clientConfig = &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			ChatModel:  cfg.ChatModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Location:   cfg.Location,
			MaxTokens:  cfg.MaxTokens,
			Provider:   ai.ProviderVertexAI,
		}
	case "stub":
		clientConfig = &ai.ClientConfig{
			Dim:      cfg.Dim,
			Provider: ai.ProviderStub,
		}
	default:
		log.Fatalf("unsupported provider: %s", provider)
	}

	ctx := context.Background()

	pg, err := store.NewPostgres(ctx, cfg.Database)
	if err != nil {
		log.Fatal(err)
	}
	defer pg.Close()

	if err := pg.Migrate(ctx); err != nil {
		log.Fatal(err)
	}
	st := store.New(pg)

	c, err := ai.NewClient(clientConfig)
	if err != nil {
		log.Fatal(err)
	}
	if c.Dim() == 0 {
		log.Fatal("embedding dimension must be set")
	}

	var host githost.Client
	var repo models.Repository
	if cfg.RepoURL != "" {
		owner, name, err := githost.ParseRepoURL(cfg.RepoURL)
		if err != nil {
			log.Fatalf("invalid repository URL: %v", err)
		}
		host = githost.NewGitHub(ctx, cfg.GithubToken)
		meta, err := host.GetRepository(ctx, owner, name)
		if err != nil {
			log.Fatalf("fetch repository: %v", err)
		}
		repo = models.Repository{
			ID:          strings.ToLower("repo_" + owner + "_" + name),
			Owner:       owner,
			Name:        name,
			URL:         meta.URL,
			Description: meta.Description,
			Language:    meta.Language,
		}
	} else if cfg.RepoRoot != "" {
		root, err := filepath.Abs(cfg.RepoRoot)
		if err != nil {
			log.Fatal(err)
		}
		host = &githost.Local{Root: root}
		name := filepath.Base(root)
		repo = models.Repository{
			ID:    "repo_local_" + strings.ToLower(name),
			Owner: "local",
			Name:  name,
			URL:   "file://" + root,
		}
	} else {
		log.Fatal("either --git-repo or --repo-root is required")
	}

	pipeline := ingest.New(st, host, c)
	if cfg.StageTimeout > 0 {
		pipeline.StageTimeout = cfg.StageTimeout
	}

	if err := pipeline.Run(ctx, repo); err != nil {
		log.Fatal(err)
	}

	final, err := st.GetRepo(ctx, repo.ID)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("ingested %s: status=%s, %d files skipped", final.FullName(), final.Status, len(final.SkippedFiles))
}
