package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/pflag"

	"github.com/seanblong/repochat/internal/ai"
	"github.com/seanblong/repochat/internal/answer"
	"github.com/seanblong/repochat/internal/auth"
	"github.com/seanblong/repochat/internal/chat"
	"github.com/seanblong/repochat/internal/config"
	"github.com/seanblong/repochat/internal/githost"
	"github.com/seanblong/repochat/internal/ingest"
	"github.com/seanblong/repochat/internal/search"
	"github.com/seanblong/repochat/internal/store"
	"github.com/seanblong/repochat/pkg/models"
)

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps the error taxonomy onto HTTP statuses and emits a JSON
// body, so clients never have to parse free-form text.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case models.IsValidation(err):
		status = http.StatusBadRequest
	case models.IsUnauthorized(err):
		status = http.StatusUnauthorized
	case models.IsNotFound(err):
		status = http.StatusNotFound
	case models.IsNotReady(err), errors.Is(err, ingest.ErrAlreadyRunning):
		status = http.StatusConflict
	case models.IsUpstream(err):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", models.ErrValidation)
	}
	return nil
}

// repoID derives a stable record id from the repository coordinates, so
// re-submitting the same URL resumes the same record instead of forking a
// duplicate.
func repoID(owner, name string) string {
	return strings.ToLower("repo_" + owner + "_" + name)
}

func main() {
	// Create flagset for configuration
	fs := pflag.NewFlagSet("repochat-api", pflag.ExitOnError)

	// Load configuration
	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	// Set up logging
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Bool("auth_enabled", cfg.Auth.Enabled).Msg("starting repochat api")

	// Create AI client configuration
	var clientConfig *ai.ClientConfig
	switch strings.ToLower(cfg.Provider) {
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
		log.Fatalf("unsupported provider: %s", cfg.Provider)
	}

	authSvc := auth.NewService(auth.Config{
		JWTSecret:    cfg.Auth.JwtSecret,
		ClientID:     cfg.Auth.GithubClientID,
		ClientSecret: cfg.Auth.GithubClientSecret,
		RedirectURL:  cfg.Auth.GithubRedirectURL,
		AllowedOrg:   cfg.Auth.GithubAllowedOrg,
		Enabled:      cfg.Auth.Enabled,
	})

	ctx := context.Background()
	pg, err := store.NewPostgres(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pg.Close()

	if err := pg.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	st := store.New(pg)

	c, err := ai.NewClient(clientConfig)
	if err != nil {
		log.Fatalf("Failed to create AI client: %v", err)
	}
	logger.Info().Int("embedding_dim", c.Dim()).Str("embed_model", clientConfig.EmbedModel).Msg("AI client initialized")

	host := githost.NewGitHub(ctx, cfg.GithubToken)
	pipeline := ingest.New(st, host, c)
	if cfg.StageTimeout > 0 {
		pipeline.StageTimeout = cfg.StageTimeout
	}
	chatSvc := chat.New(st, search.NewService(c, st), answer.NewComposer(c))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	// Auth status endpoint (always available)
	mux.HandleFunc("GET /auth/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": authSvc.Enabled()})
	})

	// Authentication endpoints (only if auth is enabled)
	if authSvc.Enabled() {
		logger.Info().Msg("authentication is enabled")

		mux.HandleFunc("GET /auth/github", func(w http.ResponseWriter, r *http.Request) {
			state := authSvc.NewState()

			// Store state in cookie for validation
			http.SetCookie(w, &http.Cookie{
				Name:     "oauth_state",
				Value:    state,
				Path:     "/",
				MaxAge:   600, // 10 minutes
				HttpOnly: true,
				Secure:   strings.HasPrefix(r.Header.Get("X-Forwarded-Proto"), "https"),
				SameSite: http.SameSiteLaxMode,
			})

			http.Redirect(w, r, authSvc.LoginURL(state), http.StatusTemporaryRedirect)
		})

		mux.HandleFunc("GET /auth/callback", func(w http.ResponseWriter, r *http.Request) {
			code := r.URL.Query().Get("code")
			state := r.URL.Query().Get("state")

			// Validate state
			stateCookie, err := r.Cookie("oauth_state")
			if err != nil || stateCookie.Value != state {
				writeError(w, fmt.Errorf("invalid state parameter: %w", models.ErrValidation))
				return
			}

			// Clear state cookie
			http.SetCookie(w, &http.Cookie{
				Name:   "oauth_state",
				Value:  "",
				Path:   "/",
				MaxAge: -1,
			})

			if code == "" {
				writeError(w, fmt.Errorf("missing code parameter: %w", models.ErrValidation))
				return
			}

			accessToken, err := authSvc.Exchange(r.Context(), code)
			if err != nil {
				writeError(w, err)
				return
			}
			user, err := authSvc.FetchUser(r.Context(), accessToken)
			if err != nil {
				writeError(w, err)
				return
			}
			token, err := authSvc.IssueToken(user)
			if err != nil {
				writeError(w, err)
				return
			}

			http.SetCookie(w, &http.Cookie{
				Name:     "auth_token",
				Value:    token,
				Path:     "/",
				MaxAge:   86400, // 24 hours
				HttpOnly: true,
				Secure:   strings.HasPrefix(r.Header.Get("X-Forwarded-Proto"), "https"),
				SameSite: http.SameSiteLaxMode,
			})

			writeJSON(w, http.StatusOK, map[string]any{"user": user, "token": token})
		})

		mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
			var tokenString string
			authHeader := r.Header.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				tokenString = strings.TrimPrefix(authHeader, "Bearer ")
			} else if cookie, err := r.Cookie("auth_token"); err == nil {
				tokenString = cookie.Value
			}

			if tokenString == "" {
				writeError(w, fmt.Errorf("no authentication token: %w", models.ErrUnauthorized))
				return
			}
			user, err := authSvc.ParseToken(tokenString)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"user": user, "token": tokenString})
		})

		mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
			http.SetCookie(w, &http.Cookie{
				Name:   "auth_token",
				Value:  "",
				Path:   "/",
				MaxAge: -1,
			})
			w.WriteHeader(http.StatusOK)
		})
	} else {
		logger.Info().Msg("authentication is disabled - running in open mode")
	}

	// Validate a repository URL without starting ingestion: parses the URL
	// and confirms the repository exists on the host.
	mux.HandleFunc("POST /repos/validate", authSvc.Middleware(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL string `json:"repoUrl"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		owner, name, err := githost.ParseRepoURL(req.URL)
		if err != nil {
			writeError(w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		meta, err := host.GetRepository(ctx, owner, name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, meta)
	}))

	// Register a repository and start ingesting it in the background. The
	// 202 reply carries the queued record; progress is observed via the
	// status endpoint.
	mux.HandleFunc("POST /repos", authSvc.Middleware(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL string `json:"repoUrl"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		owner, name, err := githost.ParseRepoURL(req.URL)
		if err != nil {
			writeError(w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		meta, err := host.GetRepository(ctx, owner, name)
		if err != nil {
			writeError(w, err)
			return
		}

		repo := models.Repository{
			ID:          repoID(owner, name),
			Owner:       owner,
			Name:        name,
			URL:         meta.URL,
			Description: meta.Description,
			Language:    meta.Language,
		}
		if err := pipeline.Start(ctx, repo); err != nil {
			writeError(w, err)
			return
		}

		queued, err := st.GetRepo(ctx, repo.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		evt := hlog.FromRequest(r).Info().Str("repo", repo.ID)
		if user := auth.UserFrom(r); user != nil {
			evt = evt.Str("login", user.Login)
		}
		evt.Msg("repository registered")
		writeJSON(w, http.StatusAccepted, queued)
	}))

	mux.HandleFunc("GET /repos", authSvc.Middleware(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		repos, err := st.ListRepos(ctx)
		if err != nil {
			writeError(w, err)
			return
		}
		if repos == nil {
			repos = []models.Repository{}
		}
		writeJSON(w, http.StatusOK, repos)
	}))

	mux.HandleFunc("GET /repos/{id}/status", authSvc.Middleware(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		repo, err := st.GetRepo(ctx, r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, repo)
	}))

	mux.HandleFunc("POST /chats", authSvc.Middleware(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RepoID string `json:"repo_id"`
			Title  string `json:"title"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		c, err := chatSvc.Create(ctx, req.RepoID, req.Title)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, c)
	}))

	mux.HandleFunc("GET /chats", authSvc.Middleware(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		chats, err := chatSvc.List(ctx)
		if err != nil {
			writeError(w, err)
			return
		}
		if chats == nil {
			chats = []models.Chat{}
		}
		writeJSON(w, http.StatusOK, chats)
	}))

	mux.HandleFunc("GET /chats/{id}/messages", authSvc.Middleware(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		msgs, err := chatSvc.Messages(ctx, r.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		if msgs == nil {
			msgs = []models.Message{}
		}
		writeJSON(w, http.StatusOK, msgs)
	}))

	mux.HandleFunc("POST /chats/{id}/messages", authSvc.Middleware(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		var req struct {
			Content     string `json:"content"`
			CodeSnippet string `json:"code_snippet"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}

		// Retrieval plus generation; give it room.
		ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
		defer cancel()
		reply, err := chatSvc.Send(ctx, r.PathValue("id"), req.Content, req.CodeSnippet)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, reply)

		hlog.FromRequest(r).Info().Str("chat", r.PathValue("id")).Int("sources", len(reply.Sources)).Dur("dur", time.Since(start)).Msg("answered")
	}))

	mux.HandleFunc("DELETE /chats/{id}", authSvc.Middleware(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := chatSvc.Delete(ctx, r.PathValue("id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	log.Fatal(s.ListenAndServe())
}
