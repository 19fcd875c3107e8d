package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/seanblong/repochat/internal/githost"
	"github.com/seanblong/repochat/internal/store"
	"github.com/seanblong/repochat/pkg/models"
)

// MockHost implements the githost.Client interface for testing
type MockHost struct {
	GetRepositoryFunc  func(ctx context.Context, owner, name string) (githost.Repository, error)
	GetTreeFunc        func(ctx context.Context, owner, name, ref string) ([]githost.TreeEntry, error)
	GetFileContentFunc func(ctx context.Context, owner, name, ref, path string) (string, error)
}

func (m *MockHost) GetRepository(ctx context.Context, owner, name string) (githost.Repository, error) {
	if m.GetRepositoryFunc != nil {
		return m.GetRepositoryFunc(ctx, owner, name)
	}
	return githost.Repository{Owner: owner, Name: name}, nil
}

func (m *MockHost) GetTree(ctx context.Context, owner, name, ref string) ([]githost.TreeEntry, error) {
	if m.GetTreeFunc != nil {
		return m.GetTreeFunc(ctx, owner, name, ref)
	}
	return nil, nil
}

func (m *MockHost) GetFileContent(ctx context.Context, owner, name, ref, path string) (string, error) {
	if m.GetFileContentFunc != nil {
		return m.GetFileContentFunc(ctx, owner, name, ref, path)
	}
	return "", fmt.Errorf("no content for %s", path)
}

// MockAIClient implements the ai.Client interface for testing
type MockAIClient struct {
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)
}

func (m *MockAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (m *MockAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	return "unused", nil
}

func (m *MockAIClient) Dim() int { return 3 }

// recordingKV captures every repository record write so tests can assert on
// the observed progress sequence.
type recordingKV struct {
	store.KV
	progress []int
	statuses []models.RepoStatus
}

func (r *recordingKV) Set(ctx context.Context, key string, value []byte) error {
	if strings.HasPrefix(key, "repo:") {
		var rec models.Repository
		if err := json.Unmarshal(value, &rec); err == nil {
			r.progress = append(r.progress, rec.Progress)
			r.statuses = append(r.statuses, rec.Status)
		}
	}
	return r.KV.Set(ctx, key, value)
}

func fileOfLines(n int) string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i+1)
	}
	return strings.Join(lines, "\n")
}

func testTree() []githost.TreeEntry {
	return []githost.TreeEntry{
		{Path: "small.go", Type: "blob", Size: 100},
		{Path: "big.go", Type: "blob", Size: 100},
		{Path: "empty.go", Type: "blob", Size: 0},
	}
}

func testContents() map[string]string {
	return map[string]string{
		"small.go": fileOfLines(50),
		"big.go":   fileOfLines(150),
		"empty.go": "",
	}
}

func newTestPipeline(kv store.KV, host githost.Client) (*Pipeline, *store.Store) {
	st := store.New(kv)
	return New(st, host, &MockAIClient{}), st
}

func TestPipeline_Run_EndToEnd(t *testing.T) {
	ctx := context.Background()
	kv := &recordingKV{KV: store.NewMemory()}
	contents := testContents()

	host := &MockHost{
		GetTreeFunc: func(ctx context.Context, owner, name, ref string) ([]githost.TreeEntry, error) {
			return testTree(), nil
		},
		GetFileContentFunc: func(ctx context.Context, owner, name, ref, path string) (string, error) {
			return contents[path], nil
		},
	}
	p, st := newTestPipeline(kv, host)

	repo := models.Repository{ID: "repo_1", Owner: "octocat", Name: "hello"}
	if err := p.Run(ctx, repo); err != nil {
		t.Fatalf("Run: %v", err)
	}

	final, err := st.GetRepo(ctx, "repo_1")
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != models.StatusReady {
		t.Errorf("status = %s, want ready", final.Status)
	}
	if final.Progress != 100 {
		t.Errorf("progress = %d, want 100", final.Progress)
	}
	if len(final.SkippedFiles) != 0 {
		t.Errorf("unexpected skipped files: %v", final.SkippedFiles)
	}

	// 50 lines -> 1 chunk, 150 lines -> 2 chunks, empty -> 0.
	chunks, err := st.LoadChunks(ctx, "repo_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 3 {
		t.Fatalf("persisted %d chunks, want 3", len(chunks))
	}
	for _, c := range chunks {
		if len(c.Embedding) != 3 {
			t.Errorf("chunk %s#%d has %d-dim embedding", c.Path, c.Index, len(c.Embedding))
		}
		if !strings.HasPrefix(c.Text, "File: "+c.Path) {
			t.Errorf("chunk %s#%d missing path header", c.Path, c.Index)
		}
	}

	// Progress is monotonically non-decreasing and passes the milestones.
	last := -1
	for _, pr := range kv.progress {
		if pr < last {
			t.Fatalf("progress decreased: %v", kv.progress)
		}
		last = pr
	}
	for _, milestone := range []int{0, 10, 30, 100} {
		found := false
		for _, pr := range kv.progress {
			if pr == milestone {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("progress never hit %d: %v", milestone, kv.progress)
		}
	}
}

func TestPipeline_Run_TreeFetchFailure(t *testing.T) {
	ctx := context.Background()
	host := &MockHost{
		GetTreeFunc: func(ctx context.Context, owner, name, ref string) ([]githost.TreeEntry, error) {
			return nil, fmt.Errorf("tree: %w", models.ErrUpstream)
		},
	}
	p, st := newTestPipeline(store.NewMemory(), host)

	repo := models.Repository{ID: "repo_1", Owner: "o", Name: "n"}
	if err := p.Run(ctx, repo); err == nil {
		t.Fatal("Run succeeded despite tree fetch failure")
	}

	final, err := st.GetRepo(ctx, "repo_1")
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != models.StatusFailed {
		t.Errorf("status = %s, want failed", final.Status)
	}
	if final.Error == "" {
		t.Error("failed record carries no error text")
	}
}

func TestPipeline_Run_SkipsFailingFiles(t *testing.T) {
	ctx := context.Background()
	contents := testContents()
	host := &MockHost{
		GetTreeFunc: func(ctx context.Context, owner, name, ref string) ([]githost.TreeEntry, error) {
			return testTree(), nil
		},
		GetFileContentFunc: func(ctx context.Context, owner, name, ref, path string) (string, error) {
			if path == "big.go" {
				return "", fmt.Errorf("content: %w", models.ErrUpstream)
			}
			return contents[path], nil
		},
	}
	p, st := newTestPipeline(store.NewMemory(), host)

	repo := models.Repository{ID: "repo_1", Owner: "o", Name: "n"}
	if err := p.Run(ctx, repo); err != nil {
		t.Fatalf("Run: %v", err)
	}

	final, _ := st.GetRepo(ctx, "repo_1")
	if final.Status != models.StatusReady {
		t.Errorf("status = %s, want ready despite a skipped file", final.Status)
	}
	if len(final.SkippedFiles) != 1 || final.SkippedFiles[0] != "big.go" {
		t.Errorf("SkippedFiles = %v, want [big.go]", final.SkippedFiles)
	}

	chunks, _ := st.LoadChunks(ctx, "repo_1")
	if len(chunks) != 1 {
		t.Errorf("persisted %d chunks, want 1 (only small.go)", len(chunks))
	}
}

func TestPipeline_Run_EmbedFailureSkipsWholeFile(t *testing.T) {
	ctx := context.Background()
	contents := testContents()
	host := &MockHost{
		GetTreeFunc: func(ctx context.Context, owner, name, ref string) ([]githost.TreeEntry, error) {
			return testTree(), nil
		},
		GetFileContentFunc: func(ctx context.Context, owner, name, ref, path string) (string, error) {
			return contents[path], nil
		},
	}
	st := store.New(store.NewMemory())
	p := New(st, host, &MockAIClient{
		EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
			// Fail only on big.go's second chunk.
			if strings.HasPrefix(text, "File: big.go") && strings.Contains(text, "line 150") {
				return nil, fmt.Errorf("embed: %w", models.ErrUpstream)
			}
			return []float32{1}, nil
		},
	})

	repo := models.Repository{ID: "repo_1", Owner: "o", Name: "n"}
	if err := p.Run(ctx, repo); err != nil {
		t.Fatalf("Run: %v", err)
	}

	final, _ := st.GetRepo(ctx, "repo_1")
	if len(final.SkippedFiles) != 1 || final.SkippedFiles[0] != "big.go" {
		t.Fatalf("SkippedFiles = %v, want [big.go]", final.SkippedFiles)
	}

	// No partial chunk range for the skipped file.
	chunks, _ := st.LoadChunks(ctx, "repo_1")
	for _, c := range chunks {
		if c.Path == "big.go" {
			t.Errorf("partial chunk persisted for skipped file: %s#%d", c.Path, c.Index)
		}
	}
}

func TestPipeline_SingleFlight(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewMemory())
	p := New(st, &MockHost{}, &MockAIClient{})

	// A recently-touched record in an in-progress state blocks a new run.
	rec := models.Repository{
		ID:        "repo_1",
		Status:    models.StatusEmbedding,
		Progress:  42,
		UpdatedAt: time.Now().UTC(),
	}
	if err := st.SaveRepo(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := p.acquire(ctx, "repo_1"); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("acquire over in-progress record = %v, want ErrAlreadyRunning", err)
	}

	// The in-process registry blocks a second acquire for the same id.
	if err := p.acquire(ctx, "repo_2"); err != nil {
		t.Fatal(err)
	}
	if err := p.acquire(ctx, "repo_2"); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second acquire = %v, want ErrAlreadyRunning", err)
	}
	p.release("repo_2")
	if err := p.acquire(ctx, "repo_2"); err != nil {
		t.Errorf("acquire after release = %v", err)
	}
}

func TestPipeline_SingleFlight_StaleRecordTakeover(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewMemory())
	p := New(st, &MockHost{}, &MockAIClient{})

	// An in-progress record whose owner died mid-run stops being saved. Once
	// it has gone untouched past the staleness window, a new run may take the
	// repository over instead of being locked out forever.
	tests := []struct {
		name      string
		updatedAt time.Time
		wantBusy  bool
	}{
		{name: "fresh record blocks", updatedAt: time.Now().UTC(), wantBusy: true},
		{name: "stale record taken over", updatedAt: time.Now().UTC().Add(-3 * DefaultStageTimeout)},
		{name: "legacy record without timestamp taken over"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := models.Repository{
				ID:        "repo_1",
				Status:    models.StatusFetching,
				UpdatedAt: tt.updatedAt,
			}
			if err := st.SaveRepo(ctx, rec); err != nil {
				t.Fatal(err)
			}
			err := p.acquire(ctx, "repo_1")
			if tt.wantBusy {
				if !errors.Is(err, ErrAlreadyRunning) {
					t.Fatalf("acquire = %v, want ErrAlreadyRunning", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("acquire over stale record = %v, want takeover", err)
			}
			p.release("repo_1")
		})
	}
}

func TestFilterTree(t *testing.T) {
	tests := []struct {
		name    string
		entries []githost.TreeEntry
		want    []string
	}{
		{
			name: "extension allow-list",
			entries: []githost.TreeEntry{
				{Path: "main.go", Type: "blob"},
				{Path: "logo.png", Type: "blob"},
				{Path: "app.tsx", Type: "blob"},
				{Path: "binary.exe", Type: "blob"},
			},
			want: []string{"main.go", "app.tsx"},
		},
		{
			name: "excluded directories",
			entries: []githost.TreeEntry{
				{Path: "node_modules/lib/index.js", Type: "blob"},
				{Path: "src/index.js", Type: "blob"},
				{Path: "vendor/dep/dep.go", Type: "blob"},
				{Path: ".git/config.json", Type: "blob"},
			},
			want: []string{"src/index.js"},
		},
		{
			name: "non-blob and oversized entries dropped",
			entries: []githost.TreeEntry{
				{Path: "src", Type: "tree"},
				{Path: "src/huge.go", Type: "blob", Size: 2 << 20},
				{Path: "src/ok.go", Type: "blob", Size: 10},
			},
			want: []string{"src/ok.go"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := filterTree(tt.entries)
			if len(got) != len(tt.want) {
				t.Fatalf("filterTree = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("filterTree[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestFilterTree_Cap(t *testing.T) {
	entries := make([]githost.TreeEntry, 0, MaxFiles+20)
	for i := 0; i < MaxFiles+20; i++ {
		entries = append(entries, githost.TreeEntry{Path: fmt.Sprintf("f%03d.go", i), Type: "blob"})
	}
	got := filterTree(entries)
	if len(got) != MaxFiles {
		t.Fatalf("filterTree kept %d files, want cap %d", len(got), MaxFiles)
	}
	if got[0] != "f000.go" || got[MaxFiles-1] != fmt.Sprintf("f%03d.go", MaxFiles-1) {
		t.Error("cap did not preserve tree order")
	}
}
