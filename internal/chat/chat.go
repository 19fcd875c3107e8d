// Package chat owns the conversation lifecycle: creating chats against an
// ingested repository, persisting the message history, and producing
// retrieval-grounded assistant replies.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/repochat/internal/answer"
	"github.com/seanblong/repochat/internal/search"
	"github.com/seanblong/repochat/internal/store"
	"github.com/seanblong/repochat/pkg/models"
)

const maxTitleLen = 80

// truncateTitle caps a title at maxTitleLen bytes, backing off to the nearest
// rune boundary so a multi-byte character is never cut in half.
func truncateTitle(title string) string {
	if len(title) <= maxTitleLen {
		return title
	}
	cut := maxTitleLen
	for cut > 0 && !utf8.RuneStart(title[cut]) {
		cut--
	}
	return title[:cut]
}

// Service coordinates the store, retrieval, and the answer composer.
type Service struct {
	Store    *store.Store
	Search   *search.Service
	Composer *answer.Composer
}

func New(s *store.Store, srch *search.Service, comp *answer.Composer) *Service {
	return &Service{Store: s, Search: srch, Composer: comp}
}

// Create opens a new chat bound to an already-registered repository. The
// repository does not have to be ready yet; Send enforces that.
func (s *Service) Create(ctx context.Context, repoID, title string) (models.Chat, error) {
	repo, err := s.Store.GetRepo(ctx, repoID)
	if err != nil {
		return models.Chat{}, err
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = "Chat about " + repo.FullName()
	}
	title = truncateTitle(title)

	now := time.Now().UTC()
	c := models.Chat{
		ID:        store.NewID("chat"),
		RepoID:    repo.ID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Store.SaveChat(ctx, c); err != nil {
		return models.Chat{}, err
	}
	return c, nil
}

func (s *Service) List(ctx context.Context) ([]models.Chat, error) {
	return s.Store.ListChats(ctx)
}

func (s *Service) Get(ctx context.Context, chatID string) (models.Chat, error) {
	return s.Store.GetChat(ctx, chatID)
}

func (s *Service) Messages(ctx context.Context, chatID string) ([]models.Message, error) {
	if _, err := s.Store.GetChat(ctx, chatID); err != nil {
		return nil, err
	}
	return s.Store.ListMessages(ctx, chatID)
}

func (s *Service) Delete(ctx context.Context, chatID string) error {
	if _, err := s.Store.GetChat(ctx, chatID); err != nil {
		return err
	}
	return s.Store.DeleteChat(ctx, chatID)
}

// Send persists the user's message, retrieves relevant chunks, generates an
// assistant reply, and persists that reply with its source attribution. The
// user message is stored even when generation later fails, so the history
// reflects what was asked.
func (s *Service) Send(ctx context.Context, chatID, content, codeSnippet string) (models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, fmt.Errorf("message content is empty: %w", models.ErrValidation)
	}

	chat, err := s.Store.GetChat(ctx, chatID)
	if err != nil {
		return models.Message{}, err
	}
	repo, err := s.Store.GetRepo(ctx, chat.RepoID)
	if err != nil {
		return models.Message{}, err
	}
	if repo.Status != models.StatusReady {
		return models.Message{}, fmt.Errorf("repository %s is %s: %w", repo.FullName(), repo.Status, models.ErrNotReady)
	}

	now := time.Now().UTC()
	userMsg := models.Message{
		ID:          store.NewMessageID(chatID, now, models.RoleUser),
		ChatID:      chatID,
		Role:        models.RoleUser,
		Content:     content,
		CodeSnippet: codeSnippet,
		CreatedAt:   now,
	}
	if err := s.Store.SaveMessage(ctx, userMsg); err != nil {
		return models.Message{}, err
	}

	retrieved, err := s.Search.Retrieve(ctx, repo.ID, content, search.DefaultTopK)
	if err != nil {
		return models.Message{}, err
	}
	ans, err := s.Composer.Compose(ctx, content, repo, retrieved, codeSnippet)
	if err != nil {
		return models.Message{}, err
	}

	replyAt := time.Now().UTC()
	if !replyAt.After(now) {
		replyAt = now.Add(time.Nanosecond)
	}
	reply := models.Message{
		ID:        store.NewMessageID(chatID, replyAt, models.RoleAssistant),
		ChatID:    chatID,
		Role:      models.RoleAssistant,
		Content:   ans.Content,
		Sources:   ans.Sources,
		CreatedAt: replyAt,
	}
	if err := s.Store.SaveMessage(ctx, reply); err != nil {
		return models.Message{}, err
	}

	chat.UpdatedAt = replyAt
	if err := s.Store.SaveChat(ctx, chat); err != nil {
		// The reply is already persisted; a stale UpdatedAt is tolerable.
		log.Warn().Err(err).Str("chat", chatID).Msg("failed to bump chat timestamp")
	}
	return reply, nil
}
