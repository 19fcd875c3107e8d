package githost

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"

	"github.com/seanblong/repochat/pkg/models"
)

// Local implements Client over a repository checkout on disk. Owner and name
// arguments are ignored; the walked root is the repository.
type Local struct {
	Root string
}

// NewLocal creates a host client rooted at a local directory.
func NewLocal(root string) *Local {
	return &Local{Root: root}
}

// GetRepository synthesizes metadata from the directory name.
func (l *Local) GetRepository(ctx context.Context, owner, name string) (Repository, error) {
	fi, err := os.Stat(l.Root)
	if err != nil || !fi.IsDir() {
		return Repository{}, fmt.Errorf("local root %s: %w", l.Root, models.ErrNotFound)
	}
	if name == "" {
		name = filepath.Base(l.Root)
	}
	if owner == "" {
		owner = "local"
	}
	return Repository{Owner: owner, Name: name, URL: "file://" + l.Root}, nil
}

// GetTree walks the root and returns every regular file as a blob entry with
// a slash-separated path relative to the root.
func (l *Local) GetTree(ctx context.Context, owner, name, ref string) ([]TreeEntry, error) {
	var entries []TreeEntry
	err := godirwalk.Walk(l.Root, &godirwalk.Options{
		Unsorted: false,
		Callback: func(path string, de *godirwalk.Dirent) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if de.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(l.Root, path)
			if err != nil {
				return nil
			}
			fi, err := os.Stat(path)
			var size int64
			if err == nil {
				size = fi.Size()
			}
			entries = append(entries, TreeEntry{
				Path: filepath.ToSlash(rel),
				Type: "blob",
				Size: size,
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", l.Root, err)
	}
	return entries, nil
}

// GetFileContent reads one file relative to the root.
func (l *Local) GetFileContent(ctx context.Context, owner, name, ref, path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("path escapes root: %q: %w", path, models.ErrValidation)
	}
	b, err := os.ReadFile(filepath.Join(l.Root, clean))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s: %w", path, models.ErrNotFound)
		}
		return "", err
	}
	return string(b), nil
}
