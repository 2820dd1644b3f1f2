package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/littleci/littleci/internal/config"
	"github.com/littleci/littleci/internal/crypto"
)

// Session tokens are short-lived on purpose: the UI refreshes them by
// logging in again.
const tokenLifetime = 60 * time.Second

type userCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Username string `json:"username"`
	Exp      int64  `json:"exp"`
	Token    string `json:"token"`
}

// signingKey derives the token key from the config signature, so
// rotating the secret invalidates every outstanding session.
func (s *Server) signingKey() []byte {
	return []byte(s.cfg.Signature)
}

func (s *Server) issueToken(username string) (loginResponse, error) {
	exp := time.Now().Add(tokenLifetime).Unix()
	claims := jwt.MapClaims{
		"username": username,
		"exp":      exp,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey())
	if err != nil {
		return loginResponse{}, fmt.Errorf("sign token: %w", err)
	}

	return loginResponse{Username: username, Exp: exp, Token: signed}, nil
}

func (s *Server) verifyToken(tokenString string) bool {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.signingKey(), nil
	})
	return err == nil && token.Valid
}

// requireAuth guards the admin surface. With authentication disabled
// every request passes; otherwise a valid bearer token is required.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthenticationType == config.NoAuthentication {
			next.ServeHTTP(w, r)
			return
		}

		parts := strings.Split(r.Header.Get("Authorization"), " ")
		if len(parts) == 2 && parts[0] == "Bearer" && s.verifyToken(parts[1]) {
			next.ServeHTTP(w, r)
			return
		}

		writeError(w, http.StatusUnauthorized, "Not Authorized")
	})
}

// handleLogin exchanges credentials for a bearer token. Every failure
// reads the same so callers cannot probe for usernames, and a server
// running without authentication rejects all logins.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	fail := func() {
		writeError(w, http.StatusUnauthorized, "Username or password incorrect")
	}

	if s.cfg.AuthenticationType == config.NoAuthentication {
		fail()
		return
	}

	var creds userCredentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		fail()
		return
	}

	user, err := s.store.FindUserByUsername(r.Context(), creds.Username)
	if err != nil || !crypto.VerifyPassword(creds.Password, user.Password) {
		fail()
		return
	}

	resp, err := s.issueToken(user.Username)
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	writeResponse(w, http.StatusOK, resp)
}
