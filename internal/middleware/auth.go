package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/set-night/modelarena/internal/domain"
	"github.com/set-night/modelarena/internal/respond"
)

type ctxKey string

const UserKey ctxKey = "user"

// Claims carried by bearer tokens. The subject is the user's UUID.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// UserProvisioner finds a user or creates it on first sight.
type UserProvisioner interface {
	FindOrCreate(ctx context.Context, id uuid.UUID, email string) (*domain.User, bool, error)
}

// GetUser extracts the authenticated user from context.
func GetUser(ctx context.Context) *domain.User {
	u, ok := ctx.Value(UserKey).(*domain.User)
	if !ok {
		return nil
	}
	return u
}

// WithUser stores the user in ctx.
func WithUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

// ParseToken validates an HS256 token and returns the subject and email.
func ParseToken(tokenString string, secret []byte) (uuid.UUID, string, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return uuid.Nil, "", err
	}
	if !token.Valid {
		return uuid.Nil, "", errors.New("invalid token")
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("invalid subject claim: %w", err)
	}
	return id, claims.Email, nil
}

// Auth returns middleware that authenticates bearer tokens and loads the
// user into context.
func Auth(secret []byte, users UserProvisioner) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(tokenString) == "" {
				respond.Error(w, http.StatusUnauthorized, domain.ErrUnauthorized.Error())
				return
			}

			id, email, err := ParseToken(strings.TrimSpace(tokenString), secret)
			if err != nil {
				slog.Debug("token rejected", "error", err)
				respond.Error(w, http.StatusUnauthorized, domain.ErrUnauthorized.Error())
				return
			}

			user, _, err := users.FindOrCreate(r.Context(), id, email)
			if err != nil {
				slog.Error("failed to load user", "error", err, "user_id", id)
				respond.Error(w, http.StatusInternalServerError, "internal server error")
				return
			}

			noteUser(r.Context(), user.ID.String())
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// RequireAdmin rejects users the predicate does not recognise as admins.
func RequireAdmin(isAdmin func(userID string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUser(r.Context())
			if user == nil {
				respond.Error(w, http.StatusUnauthorized, domain.ErrUnauthorized.Error())
				return
			}
			if !isAdmin(user.ID.String()) {
				respond.Error(w, http.StatusForbidden, domain.ErrForbidden.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
