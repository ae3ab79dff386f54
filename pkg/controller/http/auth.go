package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"

	"github.com/sprintview/sprintview/pkg/domain/interfaces"
)

// AuthHandler handles token login, logout and the current-user endpoint
type AuthHandler struct {
	authUC interfaces.Auth
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authUC interfaces.Auth) *AuthHandler {
	return &AuthHandler{
		authUC: authUC,
	}
}

type loginRequest struct {
	Token string `json:"token"`
}

// HandleLogin validates a personal access token and seals it into the
// credential cookie. The plaintext token appears only in the request body;
// the response carries the upstream user, never the token.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, goerr.Wrap(err, "invalid request body"), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		writeError(w, goerr.New("token is required"), http.StatusBadRequest)
		return
	}

	sealed, user, err := h.authUC.Login(r.Context(), req.Token)
	if err != nil {
		ctxlog.From(r.Context()).Info("Login rejected", "error", err)
		writeError(w, err, http.StatusUnauthorized)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     credentialCookie,
		Value:    sealed,
		Path:     "/",
		HttpOnly: true,
		Secure:   !isLocalhost(r),
		SameSite: http.SameSiteLaxMode,
		// Session cookie: the sealed credential does not outlive the browser
	})

	writeJSON(w, http.StatusOK, user)
}

// HandleLogout clears the credential and analysis target cookies
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	clearCookie(w, credentialCookie, true)
	clearCookie(w, targetCookie, false)

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "logged out successfully",
	})
}

// HandleUserMe returns the authenticated upstream user
func (h *AuthHandler) HandleUserMe(w http.ResponseWriter, r *http.Request) {
	cred, ok := CredentialFrom(r.Context())
	if !ok {
		writeError(w, goerr.New("credential not found"), http.StatusUnauthorized)
		return
	}

	user, err := h.authUC.CurrentUser(r.Context(), cred)
	if err != nil {
		writeError(w, err, http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// isLocalhost checks if the request is from localhost
func isLocalhost(r *http.Request) bool {
	host := r.Host
	if i := strings.LastIndexByte(host, ':'); i >= 0 && !strings.Contains(host, "]") {
		host = host[:i]
	}
	return host == "localhost" || host == "127.0.0.1"
}
