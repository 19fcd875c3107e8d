// Package store persists repository records, chunks, chats, and messages
// through a narrow key/value contract. The Postgres implementation is the
// durable substrate; the in-memory one serves tests.
package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/seanblong/repochat/pkg/models"
)

const (
	repoPrefix    = "repo:"
	vectorPrefix  = "vector:"
	chatPrefix    = "chat:"
	messagePrefix = "message:"
	chatIndexKey  = "chats"
)

// Store is the typed accessor the rest of the service uses. All entities
// share one KV namespace, distinguished by key prefix.
type Store struct {
	kv KV
}

// New wraps a KV implementation in the typed accessor.
func New(kv KV) *Store {
	return &Store{kv: kv}
}

// NewID returns a fresh identifier of the form kind_<millis>_<rand>.
func NewID(kind string) string {
	b := make([]byte, 5)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%s_%d", kind, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s_%d_%s", kind, time.Now().UnixMilli(), hex.EncodeToString(b))
}

func repoKey(id string) string { return repoPrefix + id }
func chatKey(id string) string { return chatPrefix + id }

func chunkPrefix(repoID string) string { return vectorPrefix + repoID + ":" }

func chunkKey(c models.Chunk) string {
	return fmt.Sprintf("%s%s:%s:%d", vectorPrefix, c.RepoID, c.Path, c.Index)
}

func messageKey(chatID string, ts time.Time, role models.Role) string {
	return fmt.Sprintf("%s%s:%d_%s", messagePrefix, chatID, ts.UnixNano(), role)
}

// SaveRepo writes a repository record.
func (s *Store) SaveRepo(ctx context.Context, r models.Repository) error {
	return s.put(ctx, repoKey(r.ID), r)
}

// GetRepo loads a repository record by id.
func (s *Store) GetRepo(ctx context.Context, id string) (models.Repository, error) {
	var r models.Repository
	if err := s.get(ctx, repoKey(id), &r); err != nil {
		return models.Repository{}, err
	}
	return r, nil
}

// ListRepos returns every repository record, ordered by id.
func (s *Store) ListRepos(ctx context.Context) ([]models.Repository, error) {
	kvs, err := s.kv.GetByPrefix(ctx, repoPrefix)
	if err != nil {
		return nil, err
	}
	repos := make([]models.Repository, 0, len(kvs))
	for _, kv := range kvs {
		var r models.Repository
		if err := json.Unmarshal(kv.Value, &r); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kv.Key, err)
		}
		repos = append(repos, r)
	}
	return repos, nil
}

// SaveChunk persists one chunk under its (repo, path, index) key.
func (s *Store) SaveChunk(ctx context.Context, c models.Chunk) error {
	return s.put(ctx, chunkKey(c), c)
}

// LoadChunks returns every chunk for a repository, ordered by file path then
// chunk index. This order is the retrieval tie-break order.
func (s *Store) LoadChunks(ctx context.Context, repoID string) ([]models.Chunk, error) {
	kvs, err := s.kv.GetByPrefix(ctx, chunkPrefix(repoID))
	if err != nil {
		return nil, err
	}
	chunks := make([]models.Chunk, 0, len(kvs))
	for _, kv := range kvs {
		var c models.Chunk
		if err := json.Unmarshal(kv.Value, &c); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kv.Key, err)
		}
		chunks = append(chunks, c)
	}
	// Key order is lexicographic, which misorders two-digit chunk indexes.
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].Path != chunks[j].Path {
			return chunks[i].Path < chunks[j].Path
		}
		return chunks[i].Index < chunks[j].Index
	})
	return chunks, nil
}

// SaveChat writes a chat record and ensures it is present in the chat index.
func (s *Store) SaveChat(ctx context.Context, c models.Chat) error {
	if err := s.put(ctx, chatKey(c.ID), c); err != nil {
		return err
	}
	ids, err := s.chatIndex(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == c.ID {
			return nil
		}
	}
	// Newest chat first, matching the listing order callers expect.
	return s.put(ctx, chatIndexKey, append([]string{c.ID}, ids...))
}

// GetChat loads a chat record by id.
func (s *Store) GetChat(ctx context.Context, id string) (models.Chat, error) {
	var c models.Chat
	if err := s.get(ctx, chatKey(id), &c); err != nil {
		return models.Chat{}, err
	}
	return c, nil
}

// ListChats returns chats in index order, most recently created first. The
// index holds ids; records are fetched in one batched read.
func (s *Store) ListChats(ctx context.Context) ([]models.Chat, error) {
	ids, err := s.chatIndex(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = chatKey(id)
	}
	vals, err := s.kv.MGet(ctx, keys)
	if err != nil {
		return nil, err
	}
	chats := make([]models.Chat, 0, len(vals))
	for i, v := range vals {
		if v == nil {
			continue // index can lag a deletion
		}
		var c models.Chat
		if err := json.Unmarshal(v, &c); err != nil {
			return nil, fmt.Errorf("decode %s: %w", keys[i], err)
		}
		chats = append(chats, c)
	}
	return chats, nil
}

// DeleteChat removes a chat, all of its messages, and its index entry.
func (s *Store) DeleteChat(ctx context.Context, chatID string) error {
	kvs, err := s.kv.GetByPrefix(ctx, messagePrefix+chatID+":")
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(kvs))
	for _, kv := range kvs {
		keys = append(keys, kv.Key)
	}
	if err := s.kv.MDel(ctx, keys); err != nil {
		return err
	}
	if err := s.kv.Del(ctx, chatKey(chatID)); err != nil {
		return err
	}

	ids, err := s.chatIndex(ctx)
	if err != nil {
		return err
	}
	kept := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != chatID {
			kept = append(kept, id)
		}
	}
	return s.put(ctx, chatIndexKey, kept)
}

// SaveMessage persists one chat message under its id.
func (s *Store) SaveMessage(ctx context.Context, m models.Message) error {
	return s.put(ctx, m.ID, m)
}

// NewMessageID builds the key a message is stored under; the key doubles as
// the message id.
func NewMessageID(chatID string, ts time.Time, role models.Role) string {
	return messageKey(chatID, ts, role)
}

// ListMessages returns a chat's messages in chronological order, the user
// turn before the assistant turn when timestamps collide.
func (s *Store) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	kvs, err := s.kv.GetByPrefix(ctx, messagePrefix+chatID+":")
	if err != nil {
		return nil, err
	}
	msgs := make([]models.Message, 0, len(kvs))
	for _, kv := range kvs {
		var m models.Message
		if err := json.Unmarshal(kv.Value, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kv.Key, err)
		}
		msgs = append(msgs, m)
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].Role == models.RoleUser && msgs[j].Role == models.RoleAssistant
	})
	return msgs, nil
}

func (s *Store) chatIndex(ctx context.Context) ([]string, error) {
	b, ok, err := s.kv.Get(ctx, chatIndexKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return nil, fmt.Errorf("decode chat index: %w", err)
	}
	return ids, nil
}

func (s *Store) put(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.kv.Set(ctx, key, b)
}

func (s *Store) get(ctx context.Context, key string, v any) error {
	b, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", key, models.ErrNotFound)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
