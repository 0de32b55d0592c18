// Package auth guards the plan-authoring API behind a single operator
// credential. There are no end-user accounts; the content team shares one
// admin password and works with short-lived tokens.
package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/admin-masters/Ai-cme/internal/models"
)

const tokenTTL = 72 * time.Hour

type Handler struct {
	jwtSecret    []byte
	passwordHash []byte
}

// NewHandler wires the credential material explicitly so tests can construct
// handlers without touching the environment.
func NewHandler(jwtSecret, passwordHash []byte) *Handler {
	return &Handler{jwtSecret: jwtSecret, passwordHash: passwordHash}
}

// NewHandlerFromEnv reads JWT_SECRET and ADMIN_PASSWORD_HASH (a bcrypt hash;
// never store the plain password server-side).
func NewHandlerFromEnv() (*Handler, error) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	hash := os.Getenv("ADMIN_PASSWORD_HASH")
	if hash == "" {
		return nil, fmt.Errorf("ADMIN_PASSWORD_HASH is required")
	}
	return NewHandler([]byte(secret), []byte(hash)), nil
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if req.Password == "" {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Password is required"})
		return
	}

	if err := bcrypt.CompareHashAndPassword(h.passwordHash, []byte(req.Password)); err != nil {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid password"})
		return
	}

	token, err := h.generateToken()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to generate token"})
		return
	}
	writeJSON(w, http.StatusOK, models.AuthResponse{Token: token})
}

func (h *Handler) generateToken() (string, error) {
	claims := jwt.MapClaims{
		"role": "admin",
		"exp":  time.Now().Add(tokenTTL).Unix(),
		"iat":  time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.jwtSecret)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
