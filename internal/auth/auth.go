// Package auth implements optional GitHub OAuth login with JWT sessions.
// When disabled, every request passes through untouched.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/seanblong/repochat/pkg/models"
)

const tokenTTL = 24 * time.Hour

// contextKey is a private type so context values cannot collide with other
// packages.
type contextKey string

const userContextKey contextKey = "user"

// User is the identity carried through a session.
type User struct {
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type Claims struct {
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
	jwt.RegisteredClaims
}

type Config struct {
	JWTSecret    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AllowedOrg   string
	Enabled      bool
}

// Service performs the OAuth exchange against github.com and signs session
// tokens.
type Service struct {
	cfg    Config
	secret []byte
	http   *http.Client
}

func NewService(cfg Config) *Service {
	return &Service{
		cfg:    cfg,
		secret: []byte(cfg.JWTSecret),
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *Service) Enabled() bool {
	return s != nil && s.cfg.Enabled
}

// NewState creates a random state parameter for the OAuth round trip.
func (s *Service) NewState() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("fallback-state-%d", time.Now().Unix())
	}
	return base64.URLEncoding.EncodeToString(b)
}

// LoginURL returns the GitHub authorize URL for the given state.
func (s *Service) LoginURL(state string) string {
	scope := "read:user,user:email"
	if s.cfg.AllowedOrg != "" {
		scope += ",read:org"
	}
	q := url.Values{}
	q.Set("client_id", s.cfg.ClientID)
	q.Set("redirect_uri", s.cfg.RedirectURL)
	q.Set("scope", scope)
	q.Set("state", state)
	return "https://github.com/login/oauth/authorize?" + q.Encode()
}

// Exchange trades an OAuth code for a GitHub access token.
func (s *Service) Exchange(ctx context.Context, code string) (string, error) {
	form := url.Values{}
	form.Set("client_id", s.cfg.ClientID)
	form.Set("client_secret", s.cfg.ClientSecret)
	form.Set("code", code)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://github.com/login/oauth/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange: %w: %w", models.ErrUpstream, err)
	}
	defer closeBody(resp)

	var result struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if result.AccessToken == "" {
		return "", fmt.Errorf("oauth code rejected: %w", models.ErrUnauthorized)
	}
	return result.AccessToken, nil
}

// FetchUser loads the GitHub profile behind an access token and, when an
// organization is configured, verifies membership.
func (s *Service) FetchUser(ctx context.Context, accessToken string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.github.com/user", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch user: %w: %w", models.ErrUpstream, err)
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github user endpoint returned %d: %w", resp.StatusCode, models.ErrUnauthorized)
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, err
	}

	if s.cfg.AllowedOrg != "" && !s.isOrgMember(ctx, accessToken, user.Login) {
		return nil, fmt.Errorf("user %s is not a member of %s: %w", user.Login, s.cfg.AllowedOrg, models.ErrUnauthorized)
	}
	return &user, nil
}

func (s *Service) isOrgMember(ctx context.Context, accessToken, username string) bool {
	u := fmt.Sprintf("https://api.github.com/orgs/%s/members/%s", s.cfg.AllowedOrg, username)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := s.http.Do(req)
	if err != nil {
		return false
	}
	defer closeBody(resp)

	// 204 public member, 200 private member.
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent
}

// IssueToken signs a session JWT for the user.
func (s *Service) IssueToken(user *User) (string, error) {
	now := time.Now()
	claims := Claims{
		Login:     user.Login,
		Name:      user.Name,
		Email:     user.Email,
		AvatarURL: user.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   user.Login,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ParseToken validates a session JWT and returns the embedded user.
func (s *Service) ParseToken(tokenString string) (*User, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", token.Method.Alg())
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w: %w", models.ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", models.ErrUnauthorized)
	}
	return &User{
		Login:     claims.Login,
		Name:      claims.Name,
		Email:     claims.Email,
		AvatarURL: claims.AvatarURL,
	}, nil
}

// Middleware enforces a valid session on the wrapped handler. When auth is
// disabled it passes every request through.
func (s *Service) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		var tokenString string
		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
		} else if cookie, err := r.Cookie("auth_token"); err == nil {
			tokenString = cookie.Value
		}

		if tokenString == "" {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}
		user, err := s.ParseToken(tokenString)
		if err != nil {
			http.Error(w, "Invalid authentication token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// UserFrom extracts the session user from a request context, if present.
func UserFrom(r *http.Request) *User {
	if user, ok := r.Context().Value(userContextKey).(*User); ok {
		return user
	}
	return nil
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close response body")
	}
}
