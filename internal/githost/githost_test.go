package githost

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/seanblong/repochat/pkg/models"
)

func TestParseRepoURL(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		wantOwner string
		wantName  string
		wantErr   bool
	}{
		{name: "https url", url: "https://github.com/octocat/hello-world", wantOwner: "octocat", wantName: "hello-world"},
		{name: "trailing git suffix", url: "https://github.com/octocat/hello.git", wantOwner: "octocat", wantName: "hello"},
		{name: "trailing slash", url: "https://github.com/octocat/hello/", wantOwner: "octocat", wantName: "hello"},
		{name: "extra path segments", url: "https://github.com/octocat/hello/tree/main/src", wantOwner: "octocat", wantName: "hello"},
		{name: "no scheme", url: "github.com/octocat/hello", wantOwner: "octocat", wantName: "hello"},
		{name: "empty", url: "", wantErr: true},
		{name: "not github", url: "https://gitlab.com/octocat/hello", wantErr: true},
		{name: "lookalike host", url: "https://evilgithub.com/octocat/hello", wantErr: true},
		{name: "lookalike host no scheme", url: "notgithub.com/octocat/hello", wantErr: true},
		{name: "github subdomain", url: "https://www.github.com/octocat/hello", wantOwner: "octocat", wantName: "hello"},
		{name: "missing repo", url: "https://github.com/octocat", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, name, err := ParseRepoURL(tt.url)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseRepoURL(%q) succeeded, want error", tt.url)
				}
				if !models.IsValidation(err) {
					t.Errorf("error %v is not a validation error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRepoURL(%q): %v", tt.url, err)
			}
			if owner != tt.wantOwner || name != tt.wantName {
				t.Errorf("got %s/%s, want %s/%s", owner, name, tt.wantOwner, tt.wantName)
			}
		})
	}
}

func TestLocal_TreeAndContent(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	files := map[string]string{
		"main.go":          "package main\n",
		"internal/util.go": "package internal\n",
	}
	for p, body := range files {
		full := filepath.Join(root, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	host := NewLocal(root)

	repo, err := host.GetRepository(ctx, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if repo.Owner != "local" || repo.Name == "" {
		t.Errorf("unexpected repo metadata: %+v", repo)
	}

	entries, err := host.GetTree(ctx, "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("GetTree returned %d entries, want 2", len(entries))
	}
	for _, e := range entries {
		if e.Type != "blob" {
			t.Errorf("entry %s has type %q", e.Path, e.Type)
		}
		if _, ok := files[e.Path]; !ok {
			t.Errorf("unexpected tree entry %q", e.Path)
		}
	}

	body, err := host.GetFileContent(ctx, "", "", "", "internal/util.go")
	if err != nil {
		t.Fatal(err)
	}
	if body != "package internal\n" {
		t.Errorf("GetFileContent = %q", body)
	}

	if _, err := host.GetFileContent(ctx, "", "", "", "missing.go"); !models.IsNotFound(err) {
		t.Errorf("missing file error = %v, want ErrNotFound", err)
	}
	if _, err := host.GetFileContent(ctx, "", "", "", "../escape"); !models.IsValidation(err) {
		t.Errorf("escaping path error = %v, want ErrValidation", err)
	}
}
