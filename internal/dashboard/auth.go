package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// authTokenTTL is how long an issued session token remains valid.
const authTokenTTL = 12 * time.Hour

// authenticator issues and validates HS256 JWTs against a bcrypt-hashed
// admin password, mirroring the teacher's single-secret Bearer validation
// in server/middleware.go without its multi-tenant UserContext machinery —
// the dashboard has exactly one operator role.
type authenticator struct {
	secret       []byte
	passwordHash []byte
}

func newAuthenticator(jwtSecret, adminPassword string) (*authenticator, error) {
	if jwtSecret == "" {
		return nil, fmt.Errorf("dashboard requires a non-empty JWT secret")
	}
	if adminPassword == "" {
		return nil, fmt.Errorf("dashboard requires a non-empty admin password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash admin password: %w", err)
	}
	return &authenticator{secret: []byte(jwtSecret), passwordHash: hash}, nil
}

func (a *authenticator) issueToken() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": "admin",
		"iat": now.Unix(),
		"exp": now.Add(authTokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *authenticator) validateToken(tokenString string) error {
	_, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	return err
}

func (a *authenticator) checkPassword(candidate string) bool {
	return bcrypt.CompareHashAndPassword(a.passwordHash, []byte(candidate)) == nil
}

// requireAuth rejects any request without a valid Bearer token.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if err := s.auth.validateToken(token); err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type loginRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed login request")
		return
	}
	if !s.auth.checkPassword(req.Password) {
		writeError(w, http.StatusUnauthorized, "invalid password")
		return
	}
	token, err := s.auth.issueToken()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}
