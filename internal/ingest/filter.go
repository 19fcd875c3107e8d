package ingest

import (
	"path"
	"strings"

	"github.com/seanblong/repochat/internal/githost"
)

// maxFileSize skips blobs too large to be worth embedding.
const maxFileSize = 1 << 20 // 1 MiB

// allowedExtensions is the bounded allow-list of source/text files worth
// embedding.
var allowedExtensions = map[string]struct{}{
	".ts": {}, ".tsx": {}, ".js": {}, ".jsx": {},
	".py": {}, ".java": {}, ".cpp": {}, ".c": {},
	".go": {}, ".rs": {}, ".rb": {}, ".php": {},
	".cs": {}, ".swift": {}, ".kt": {},
	".md": {}, ".json": {}, ".yaml": {}, ".yml": {},
}

// excludedDirs are build, dependency, and VCS directories whose contents are
// never ingested.
var excludedDirs = map[string]struct{}{
	"node_modules": {}, ".git": {}, "dist": {}, "build": {},
	"vendor": {}, "target": {}, "out": {}, "bin": {}, "obj": {},
	".venv": {}, "venv": {}, "__pycache__": {}, ".terraform": {},
	".idea": {}, "coverage": {}, ".cache": {},
}

// filterTree reduces a raw tree to the file paths worth embedding, in tree
// order, capped at MaxFiles.
func filterTree(entries []githost.TreeEntry) []string {
	files := make([]string, 0, MaxFiles)
	for _, e := range entries {
		if e.Type != "blob" {
			continue
		}
		if e.Size > maxFileSize {
			continue
		}
		if !includePath(e.Path) {
			continue
		}
		files = append(files, e.Path)
		if len(files) == MaxFiles {
			break
		}
	}
	return files
}

// includePath applies the extension allow-list and directory exclusions.
func includePath(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	if _, ok := allowedExtensions[ext]; !ok {
		return false
	}
	for _, seg := range strings.Split(path.Dir(p), "/") {
		if _, ok := excludedDirs[strings.ToLower(seg)]; ok {
			return false
		}
	}
	return true
}
