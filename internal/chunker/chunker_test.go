package chunker

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
)

// fileOfLines builds a file body with n numbered lines and no trailing newline.
func fileOfLines(n int) string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i+1)
	}
	return strings.Join(lines, "\n")
}

func TestChunk_WindowCounts(t *testing.T) {
	tests := []struct {
		name  string
		lines int
		want  int
	}{
		{name: "empty file yields zero chunks", lines: 0, want: 0},
		{name: "single line", lines: 1, want: 1},
		{name: "under one window", lines: 50, want: 1},
		{name: "exactly one window", lines: 100, want: 1},
		{name: "one over a window", lines: 101, want: 2},
		{name: "250 lines yields three chunks", lines: 250, want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Chunk(fileOfLines(tt.lines), "src/main.go")
			if len(got) != tt.want {
				t.Fatalf("Chunk() returned %d pieces, want %d", len(got), tt.want)
			}
			for i, p := range got {
				if p.Index != i {
					t.Errorf("piece %d has index %d, want %d", i, p.Index, i)
				}
			}
		})
	}
}

func TestChunk_Deterministic(t *testing.T) {
	text := fileOfLines(250)
	a := Chunk(text, "pkg/auth/auth.go")
	b := Chunk(text, "pkg/auth/auth.go")
	if !reflect.DeepEqual(a, b) {
		t.Fatal("repeated Chunk calls on identical input differ")
	}
}

func TestChunk_PathHeader(t *testing.T) {
	pieces := Chunk(fileOfLines(150), "internal/server/handler.go")
	if len(pieces) != 2 {
		t.Fatalf("expected 2 pieces, got %d", len(pieces))
	}
	for _, p := range pieces {
		if !strings.HasPrefix(p.Text, "File: internal/server/handler.go\n\n") {
			t.Errorf("piece %d missing path header: %q", p.Index, p.Text[:40])
		}
	}
	// Window boundaries preserve original line order.
	if !strings.Contains(pieces[0].Text, "line 100") || strings.Contains(pieces[0].Text, "line 101") {
		t.Error("first window should end at line 100")
	}
	if !strings.HasSuffix(pieces[1].Text, "line 150") {
		t.Error("second window should end at line 150")
	}
}
