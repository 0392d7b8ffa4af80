package api

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"wpdock/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const tokenTTL = 8 * time.Hour

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token   string `json:"token"`
	Message string `json:"message"`
}

type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// EnsureAdmin seeds the operator account on an empty user table. Without a
// configured password a random one is generated and logged once.
func EnsureAdmin(users domain.UserRepository, username, password string, l *slog.Logger) error {
	count, err := users.CountUsers()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if username == "" {
		username = "admin"
	}
	generated := password == ""
	if generated {
		b := make([]byte, 12)
		if _, err := rand.Read(b); err != nil {
			return err
		}
		password = hex.EncodeToString(b)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("error hashing password: %w", err)
	}
	user := &domain.User{
		ID:        uuid.NewString(),
		Username:  username,
		Password:  string(hashedPassword),
		CreatedAt: time.Now().UTC(),
	}
	if err := users.CreateUser(user); err != nil {
		return err
	}
	if generated {
		l.Warn("created operator account with a generated password; change it by setting admin_password", "username", username, "password", password)
	} else {
		l.Info("created operator account", "username", username)
	}
	return nil
}

func (api *Server) issueToken(user *domain.User) (string, error) {
	now := api.now()
	claims := Claims{
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(api.secret)
}

func (api *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}

	user, err := api.Store.GetUserByUsername(req.Username)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}

	tokenString, err := api.issueToken(user)
	if err != nil {
		api.writeError(w, r, fmt.Errorf("error signing token: %w", err))
		return
	}
	api.log.Info("operator logged in", "username", user.Username)
	writeJSON(w, http.StatusOK, LoginResponse{Token: tokenString, Message: "Login successful"})
}

func (api *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, ok := r.Context().Value(UserContextKey).(*Claims)
	if ok && claims.ID != "" {
		var exp time.Time
		if claims.ExpiresAt != nil {
			exp = claims.ExpiresAt.Time
		}
		api.revoked.Store(claims.ID, exp)
	}
	api.purgeRevoked()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (api *Server) isRevoked(jti string) bool {
	_, ok := api.revoked.Load(jti)
	return ok
}

// purgeRevoked forgets revocations of tokens that have expired anyway.
func (api *Server) purgeRevoked() {
	now := api.now()
	api.revoked.Range(func(k, v any) bool {
		if exp, ok := v.(time.Time); ok && !exp.IsZero() && exp.Before(now) {
			api.revoked.Delete(k)
		}
		return true
	})
}
