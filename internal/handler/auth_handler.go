package handler

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"io"
	"net/http"
	"time"

	"go-treewiki/internal/auth"
	"go-treewiki/internal/logger"
	"go-treewiki/internal/session"

	"github.com/casbin/casbin/v2"
	"golang.org/x/oauth2"
)

// Authenticator is the part of the OIDC client the handlers use.
type Authenticator interface {
	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string
	Exchange(ctx context.Context, code string) (*auth.Claims, error)
}

// AuthHandler holds the dependencies for the authentication handlers.
type AuthHandler struct {
	auth         Authenticator
	sm           session.Manager
	enforcer     casbin.IEnforcer
	editorEmails []string
	log          logger.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(a Authenticator, sm session.Manager, e casbin.IEnforcer, editorEmails []string, log logger.Logger) *AuthHandler {
	return &AuthHandler{auth: a, sm: sm, enforcer: e, editorEmails: editorEmails, log: log}
}

// handleLogin redirects the user to the OIDC provider to log in.
// It uses a random 'state' string for CSRF protection.
func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := randString(16)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	// Store the state in a short-lived cookie to verify on callback.
	http.SetCookie(w, &http.Cookie{
		Name:     "state",
		Value:    state,
		Path:     "/",
		MaxAge:   int(10 * time.Minute / time.Second),
		HttpOnly: true,
		Secure:   r.TLS != nil,
	})
	http.Redirect(w, r, h.auth.AuthCodeURL(state), http.StatusFound)
}

// handleCallback is the redirect URL for the OIDC provider.
// It exchanges the code, assigns the user's role and starts a session.
func (h *AuthHandler) handleCallback(w http.ResponseWriter, r *http.Request) {
	// Verify the state parameter to prevent CSRF attacks.
	stateCookie, err := r.Cookie("state")
	if err != nil {
		http.Error(w, "state cookie not found", http.StatusBadRequest)
		return
	}
	if r.URL.Query().Get("state") != stateCookie.Value {
		http.Error(w, "state did not match", http.StatusBadRequest)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "state", Path: "/", MaxAge: -1})

	claims, err := h.auth.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		h.log.Error(err, "login failed")
		http.Error(w, "Login failed", http.StatusUnauthorized)
		return
	}

	role, err := auth.AssignRole(h.enforcer, claims.Subject, claims.Email, h.editorEmails)
	if err != nil {
		h.log.Error(err, "failed to assign role")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	// Renew the session token to prevent session fixation.
	if err := h.sm.RenewToken(r.Context()); err != nil {
		h.log.Error(err, "failed to renew session token")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	h.sm.Put(r.Context(), session.KeySubject, claims.Subject)
	h.sm.Put(r.Context(), session.KeyEmail, claims.Email)
	h.sm.Put(r.Context(), session.KeyName, claims.Name)

	h.log.With(map[string]interface{}{"subject": claims.Subject, "role": role}).Info("user logged in")
	http.Redirect(w, r, "/pages/", http.StatusFound)
}

// handleLogout ends the session.
func (h *AuthHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.sm.Destroy(r.Context()); err != nil {
		h.log.Error(err, "failed to destroy session")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/pages/", http.StatusFound)
}

// randString is a helper function to generate a random string for the 'state' parameter.
func randString(nByte int) (string, error) {
	b := make([]byte, nByte)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
