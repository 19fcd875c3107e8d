// Package ingest turns a repository into a persisted, embedded chunk set:
// fetch the file tree, filter it, chunk and embed each file, and track
// progress on the repository record throughout.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/repochat/internal/ai"
	"github.com/seanblong/repochat/internal/chunker"
	"github.com/seanblong/repochat/internal/githost"
	"github.com/seanblong/repochat/internal/store"
	"github.com/seanblong/repochat/pkg/models"
)

// MaxFiles caps how many files one run will embed, to bound cost.
const MaxFiles = 50

// DefaultStageTimeout bounds the tree fetch and each file's
// fetch-chunk-embed-persist pass so a hung upstream call cannot stall a
// repository forever.
const DefaultStageTimeout = 2 * time.Minute

// ErrAlreadyRunning is returned by Start when an ingestion run is already
// active for the repository.
var ErrAlreadyRunning = errors.New("ingestion already in progress")

// Pipeline orchestrates ingestion runs. At most one run per repository id is
// active at any time.
type Pipeline struct {
	Store        *store.Store
	Host         githost.Client
	AI           ai.Client
	StageTimeout time.Duration

	mu     sync.Mutex
	active map[string]struct{}
}

// New creates a pipeline with the default stage timeout.
func New(s *store.Store, host githost.Client, client ai.Client) *Pipeline {
	return &Pipeline{
		Store:        s,
		Host:         host,
		AI:           client,
		StageTimeout: DefaultStageTimeout,
		active:       make(map[string]struct{}),
	}
}

// Start accepts the job, persists the queued record, and runs ingestion in a
// detached goroutine. The caller observes progress by polling the record;
// run errors land on the record, never on this call.
func (p *Pipeline) Start(ctx context.Context, repo models.Repository) error {
	if err := p.acquire(ctx, repo.ID); err != nil {
		return err
	}

	repo.Status = models.StatusQueued
	repo.Progress = 0
	if repo.CreatedAt.IsZero() {
		repo.CreatedAt = time.Now().UTC()
	}
	if err := p.saveRepo(ctx, &repo); err != nil {
		p.release(repo.ID)
		return fmt.Errorf("save repo record: %w", err)
	}

	// Detached from the request context: the initiating call returns
	// immediately and must not cancel the run.
	go func() {
		defer p.release(repo.ID)
		p.execute(context.Background(), repo)
	}()
	return nil
}

// Run ingests synchronously. Used by the CLI; same guard and semantics as
// Start.
func (p *Pipeline) Run(ctx context.Context, repo models.Repository) error {
	if err := p.acquire(ctx, repo.ID); err != nil {
		return err
	}
	defer p.release(repo.ID)

	repo.Status = models.StatusQueued
	repo.Progress = 0
	if repo.CreatedAt.IsZero() {
		repo.CreatedAt = time.Now().UTC()
	}
	if err := p.saveRepo(ctx, &repo); err != nil {
		return fmt.Errorf("save repo record: %w", err)
	}

	p.execute(ctx, repo)

	final, err := p.Store.GetRepo(ctx, repo.ID)
	if err != nil {
		return err
	}
	if final.Status == models.StatusFailed {
		return fmt.Errorf("ingestion failed: %s", final.Error)
	}
	return nil
}

// acquire takes the per-repository single-flight slot. A stored record still
// in an in-progress state also counts as a running job, so a restarted
// process does not double-ingest a repository another instance owns — unless
// the record has gone stale, in which case its owner is dead and the slot is
// taken over.
func (p *Pipeline) acquire(ctx context.Context, id string) error {
	p.mu.Lock()
	if _, busy := p.active[id]; busy {
		p.mu.Unlock()
		return fmt.Errorf("repository %s: %w", id, ErrAlreadyRunning)
	}
	p.active[id] = struct{}{}
	p.mu.Unlock()

	// The store read happens outside the registry lock so a slow backend
	// cannot serialize Starts for unrelated repositories. The registry
	// entry above already fences concurrent acquires for this id.
	if rec, err := p.Store.GetRepo(ctx, id); err == nil && rec.Status.InProgress() && !p.stale(rec) {
		p.release(id)
		return fmt.Errorf("repository %s is %s: %w", id, rec.Status, ErrAlreadyRunning)
	}
	return nil
}

// stale reports whether an in-progress record was abandoned by a run that
// died without reaching a terminal status. A live run saves the record at
// least once per stage, so one untouched for two stage timeouts has no
// owner.
func (p *Pipeline) stale(rec models.Repository) bool {
	if rec.UpdatedAt.IsZero() {
		return true
	}
	return time.Since(rec.UpdatedAt) > 2*p.stageTimeout()
}

// saveRepo stamps UpdatedAt before persisting so staleness detection can
// tell a live run from one that died mid-flight.
func (p *Pipeline) saveRepo(ctx context.Context, repo *models.Repository) error {
	repo.UpdatedAt = time.Now().UTC()
	return p.Store.SaveRepo(ctx, *repo)
}

func (p *Pipeline) release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, id)
}

// execute drives the state machine. Any error it returns internally is
// terminal: the record flips to failed with the error text and the run
// halts. Per-file failures are skipped, not fatal.
func (p *Pipeline) execute(ctx context.Context, repo models.Repository) {
	logger := log.With().Str("repo_id", repo.ID).Str("repo", repo.FullName()).Logger()
	start := time.Now()

	if err := p.run(ctx, &repo); err != nil {
		logger.Error().Err(err).Msg("ingestion failed")
		repo.Status = models.StatusFailed
		repo.Error = err.Error()
		if saveErr := p.saveRepo(ctx, &repo); saveErr != nil {
			logger.Error().Err(saveErr).Msg("failed to persist failed status")
		}
		return
	}
	logger.Info().
		Dur("took", time.Since(start)).
		Int("skipped", len(repo.SkippedFiles)).
		Msg("ingestion complete")
}

func (p *Pipeline) run(ctx context.Context, repo *models.Repository) error {
	logger := log.With().Str("repo_id", repo.ID).Logger()

	repo.Status = models.StatusFetching
	repo.Progress = 0
	if err := p.saveRepo(ctx, repo); err != nil {
		return fmt.Errorf("save fetching status: %w", err)
	}

	treeCtx, cancel := context.WithTimeout(ctx, p.stageTimeout())
	entries, err := p.Host.GetTree(treeCtx, repo.Owner, repo.Name, "")
	cancel()
	if err != nil {
		return fmt.Errorf("fetch repository tree: %w", err)
	}

	repo.Progress = 10
	if err := p.saveRepo(ctx, repo); err != nil {
		return fmt.Errorf("save tree progress: %w", err)
	}

	files := filterTree(entries)
	logger.Info().Int("tree_entries", len(entries)).Int("files", len(files)).Msg("tree filtered")

	repo.Status = models.StatusEmbedding
	repo.Progress = 30
	if err := p.saveRepo(ctx, repo); err != nil {
		return fmt.Errorf("save embedding status: %w", err)
	}

	for i, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		fileCtx, cancel := context.WithTimeout(ctx, p.stageTimeout())
		err := p.ingestFile(fileCtx, *repo, file)
		cancel()
		if err != nil {
			// Skip the file, keep the job alive.
			logger.Warn().Err(err).Str("path", file).Msg("skipping file")
			repo.SkippedFiles = append(repo.SkippedFiles, file)
		}

		repo.Progress = 30 + (60*(i+1))/len(files)
		if err := p.saveRepo(ctx, repo); err != nil {
			return fmt.Errorf("save file progress: %w", err)
		}
	}

	repo.Status = models.StatusReady
	repo.Progress = 100
	if err := p.saveRepo(ctx, repo); err != nil {
		return fmt.Errorf("save ready status: %w", err)
	}
	return nil
}

// ingestFile fetches, chunks, embeds, and persists one file. Embeddings for
// every chunk are produced before anything is written so a mid-file failure
// leaves no partial chunk range behind.
func (p *Pipeline) ingestFile(ctx context.Context, repo models.Repository, path string) error {
	content, err := p.Host.GetFileContent(ctx, repo.Owner, repo.Name, "", path)
	if err != nil {
		return fmt.Errorf("fetch content: %w", err)
	}

	pieces := chunker.Chunk(content, path)
	chunks := make([]models.Chunk, 0, len(pieces))
	for _, piece := range pieces {
		vec, err := p.AI.Embed(ctx, piece.Text)
		if err != nil {
			return fmt.Errorf("embed chunk %d: %w", piece.Index, err)
		}
		chunks = append(chunks, models.Chunk{
			RepoID:    repo.ID,
			Path:      path,
			Index:     piece.Index,
			Text:      piece.Text,
			Embedding: vec,
		})
	}

	for _, c := range chunks {
		if err := p.Store.SaveChunk(ctx, c); err != nil {
			return fmt.Errorf("persist chunk %d: %w", c.Index, err)
		}
	}
	return nil
}

func (p *Pipeline) stageTimeout() time.Duration {
	if p.StageTimeout > 0 {
		return p.StageTimeout
	}
	return DefaultStageTimeout
}
