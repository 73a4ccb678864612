package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kpessa/delphi-webapp/internal/apperrors"
	"github.com/kpessa/delphi-webapp/internal/auth"
	"github.com/kpessa/delphi-webapp/internal/models"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserEmailKey contextKey = "user_email"
)

// TokenValidator verifies bearer tokens and stream tickets
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
	ValidateStreamTicket(ticket string) (string, error)
}

// UserSyncer records the profile carried by a verified token
type UserSyncer interface {
	Upsert(ctx context.Context, user *models.User) error
}

// AuthMiddleware validates JWT tokens
type AuthMiddleware struct {
	tokens TokenValidator
	users  UserSyncer

	mu     sync.Mutex
	synced map[string]string
}

// NewAuthMiddleware creates a new auth middleware. users may be nil.
func NewAuthMiddleware(tokens TokenValidator, users UserSyncer) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
		users:  users,
		synced: make(map[string]string),
	}
}

// Authenticate validates the bearer token and adds user info to context
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			writeError(w, err)
			return
		}

		claims, err := m.tokens.ValidateToken(token)
		if err != nil {
			writeError(w, apperrors.Unauthenticated("Invalid or expired token"))
			return
		}

		m.syncUser(r.Context(), claims)

		ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID())
		ctx = context.WithValue(ctx, UserEmailKey, claims.Email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AuthenticateStream accepts a bearer token or a stream ticket in the
// "ticket" query parameter, since EventSource cannot send headers
func (m *AuthMiddleware) AuthenticateStream(next http.Handler) http.Handler {
	bearer := m.Authenticate(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ticket := r.URL.Query().Get("ticket")
		if ticket == "" {
			bearer.ServeHTTP(w, r)
			return
		}

		userID, err := m.tokens.ValidateStreamTicket(ticket)
		if err != nil {
			writeError(w, apperrors.Unauthenticated("Invalid or expired stream ticket"))
			return
		}

		ctx := context.WithValue(r.Context(), UserIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", apperrors.Unauthenticated("Missing authorization header")
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", apperrors.Unauthenticated("Invalid authorization header format")
	}
	return strings.TrimSpace(token), nil
}

// syncUser upserts the caller's profile when it changed since the last request
func (m *AuthMiddleware) syncUser(ctx context.Context, claims *auth.Claims) {
	if m.users == nil || claims.Email == "" {
		return
	}

	fingerprint := claims.Email + "\x00" + claims.Name
	m.mu.Lock()
	seen := m.synced[claims.UserID()] == fingerprint
	m.mu.Unlock()
	if seen {
		return
	}

	now := time.Now().UTC()
	err := m.users.Upsert(ctx, &models.User{
		ID:          claims.UserID(),
		Email:       strings.ToLower(claims.Email),
		DisplayName: claims.Name,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		slog.Warn("Failed to sync user profile", "user_id", claims.UserID(), "error", err)
		return
	}

	m.mu.Lock()
	m.synced[claims.UserID()] = fingerprint
	m.mu.Unlock()
}

// GetUserID retrieves the user ID from the request context
func GetUserID(r *http.Request) (string, bool) {
	userID, ok := r.Context().Value(UserIDKey).(string)
	return userID, ok && userID != ""
}

// GetUserEmail retrieves the user email from the request context
func GetUserEmail(r *http.Request) (string, bool) {
	email, ok := r.Context().Value(UserEmailKey).(string)
	return email, ok
}

// WithUserID returns a context carrying userID, as Authenticate would set it
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// writeError responds with the shared error body
func writeError(w http.ResponseWriter, err error) {
	kind := apperrors.KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperrors.HTTPStatus(kind))
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": apperrors.Message(err),
		"code":  apperrors.Code(kind),
	})
}
