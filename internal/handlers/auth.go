package handlers

import (
	"net/http"
	"strings"

	"github.com/pliu/pairchat/internal/apperr"
	"github.com/pliu/pairchat/internal/auth"
	"github.com/pliu/pairchat/internal/pair"
	"github.com/pliu/pairchat/internal/store"
)

const searchLimit = 10

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthHandler struct {
	Directory    store.Directory
	Signer       *auth.Signer
	SecureCookie bool
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if err := decode(r, &creds); err != nil {
		writeError(w, r, err)
		return
	}
	creds.Username = strings.TrimSpace(creds.Username)
	if !pair.ValidIdentity(creds.Username) {
		writeError(w, r, apperr.ErrInvalidUsername)
		return
	}
	if err := auth.CheckPasswordStrength(creds.Password); err != nil {
		writeError(w, r, err)
		return
	}

	hash, err := auth.HashPassword(creds.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	user, err := h.Directory.Register(r.Context(), creds.Username, hash)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "user": user})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if err := decode(r, &creds); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.Directory.GetUser(r.Context(), strings.TrimSpace(creds.Username))
	if apperr.IsNotFound(err) {
		writeError(w, r, apperr.ErrInvalidCredentials)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !auth.CheckPassword(user.Password, creds.Password) {
		writeError(w, r, apperr.ErrInvalidCredentials)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    h.Signer.Sign(user.Username),
		Path:     "/",
		HttpOnly: true,
		Secure:   h.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": user})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.SecureCookie,
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *AuthHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	users, err := h.Directory.ListAccounts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "users": nonNil(users)})
}

func (h *AuthHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "users": []string{}})
		return
	}

	users, err := h.Directory.SearchUsers(r.Context(), query, searchLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "users": nonNil(users)})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
