package store

import (
	"context"
	"testing"
	"time"

	"github.com/seanblong/repochat/pkg/models"
)

func TestMemoryKV(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()

	if _, ok, err := kv.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = ok=%v err=%v, want absent", ok, err)
	}

	pairs := map[string]string{
		"vector:r1:a.go:0": "a0",
		"vector:r1:a.go:1": "a1",
		"vector:r2:b.go:0": "b0",
		"repo:r1":          "repo",
	}
	for k, v := range pairs {
		if err := kv.Set(ctx, k, []byte(v)); err != nil {
			t.Fatalf("Set(%s): %v", k, err)
		}
	}

	kvs, err := kv.GetByPrefix(ctx, "vector:r1:")
	if err != nil {
		t.Fatal(err)
	}
	if len(kvs) != 2 {
		t.Fatalf("prefix scan returned %d entries, want 2", len(kvs))
	}
	if kvs[0].Key != "vector:r1:a.go:0" || kvs[1].Key != "vector:r1:a.go:1" {
		t.Errorf("prefix scan not ordered by key: %v, %v", kvs[0].Key, kvs[1].Key)
	}

	vals, err := kv.MGet(ctx, []string{"repo:r1", "nope", "vector:r2:b.go:0"})
	if err != nil {
		t.Fatal(err)
	}
	if string(vals[0]) != "repo" || vals[1] != nil || string(vals[2]) != "b0" {
		t.Errorf("MGet order/missing handling wrong: %q %q %q", vals[0], vals[1], vals[2])
	}

	if err := kv.MDel(ctx, []string{"vector:r1:a.go:0", "vector:r1:a.go:1"}); err != nil {
		t.Fatal(err)
	}
	kvs, _ = kv.GetByPrefix(ctx, "vector:r1:")
	if len(kvs) != 0 {
		t.Errorf("MDel left %d entries", len(kvs))
	}
}

func TestStore_LoadChunksOrder(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemory())

	// Write out of order, with a two-digit index that breaks lexicographic
	// key ordering.
	for _, c := range []models.Chunk{
		{RepoID: "r1", Path: "b.go", Index: 0, Text: "b0"},
		{RepoID: "r1", Path: "a.go", Index: 10, Text: "a10"},
		{RepoID: "r1", Path: "a.go", Index: 2, Text: "a2"},
		{RepoID: "r1", Path: "a.go", Index: 0, Text: "a0"},
		{RepoID: "r2", Path: "z.go", Index: 0, Text: "other repo"},
	} {
		if err := s.SaveChunk(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	chunks, err := s.LoadChunks(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a0", "a2", "a10", "b0"}
	if len(chunks) != len(want) {
		t.Fatalf("LoadChunks returned %d chunks, want %d", len(chunks), len(want))
	}
	for i, w := range want {
		if chunks[i].Text != w {
			t.Errorf("chunk %d = %q, want %q", i, chunks[i].Text, w)
		}
	}
}

func TestStore_RepoRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemory())

	if _, err := s.GetRepo(ctx, "nope"); !models.IsNotFound(err) {
		t.Fatalf("GetRepo(absent) = %v, want ErrNotFound", err)
	}

	r := models.Repository{
		ID: "repo_1", Owner: "octocat", Name: "hello", URL: "https://github.com/octocat/hello",
		Status: models.StatusQueued, CreatedAt: time.Now().UTC(),
	}
	if err := s.SaveRepo(ctx, r); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetRepo(ctx, "repo_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.FullName() != "octocat/hello" || got.Status != models.StatusQueued {
		t.Errorf("round-tripped repo mismatch: %+v", got)
	}

	repos, err := s.ListRepos(ctx)
	if err != nil || len(repos) != 1 {
		t.Fatalf("ListRepos = %v, %v", repos, err)
	}
}

func TestStore_ChatLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemory())

	first := models.Chat{ID: "chat_1", RepoID: "r1", Title: "First"}
	second := models.Chat{ID: "chat_2", RepoID: "r1", Title: "Second"}
	for _, c := range []models.Chat{first, second} {
		if err := s.SaveChat(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	chats, err := s.ListChats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 2 || chats[0].ID != "chat_2" || chats[1].ID != "chat_1" {
		t.Fatalf("ListChats order wrong: %+v", chats)
	}

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	userID := NewMessageID("chat_1", base, models.RoleUser)
	asstID := NewMessageID("chat_1", base.Add(time.Second), models.RoleAssistant)
	for _, m := range []models.Message{
		{ID: asstID, ChatID: "chat_1", Role: models.RoleAssistant, Content: "hi", Sources: []string{"a.go"}, CreatedAt: base.Add(time.Second)},
		{ID: userID, ChatID: "chat_1", Role: models.RoleUser, Content: "hello", CreatedAt: base},
	} {
		if err := s.SaveMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := s.ListMessages(ctx, "chat_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Role != models.RoleUser || msgs[1].Role != models.RoleAssistant {
		t.Fatalf("ListMessages order wrong: %+v", msgs)
	}

	if err := s.DeleteChat(ctx, "chat_1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetChat(ctx, "chat_1"); !models.IsNotFound(err) {
		t.Errorf("deleted chat still present: %v", err)
	}
	if msgs, _ := s.ListMessages(ctx, "chat_1"); len(msgs) != 0 {
		t.Errorf("deleted chat still has %d messages", len(msgs))
	}
	chats, _ = s.ListChats(ctx)
	if len(chats) != 1 || chats[0].ID != "chat_2" {
		t.Errorf("chat index not updated after delete: %+v", chats)
	}
}
