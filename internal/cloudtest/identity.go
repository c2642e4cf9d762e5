package cloudtest

import (
	"encoding/json"
	"net/http"

	"github.com/oklog/ulid/v2"
)

const (
	loginPath   = "/identitytoolkit/v3/relyingparty/verifyPassword"
	refreshPath = "/v1/token"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("key") != s.APIKey {
		writeError(w, http.StatusBadRequest, "API_KEY_INVALID")
		return
	}

	var req struct {
		Email             string `json:"email"`
		Password          string `json:"password"`
		ReturnSecureToken bool   `json:"returnSecureToken"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON")
		return
	}

	s.mu.Lock()
	u, ok := s.users[req.Email]
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusBadRequest, "EMAIL_NOT_FOUND")
		return
	}

	if u.password != req.Password {
		writeError(w, http.StatusBadRequest, "INVALID_PASSWORD")
		return
	}

	access, refresh := s.issue(u.id)

	writeJSON(w, http.StatusOK, map[string]any{
		"kind":         "identitytoolkit#VerifyPasswordResponse",
		"localId":      u.id,
		"email":        req.Email,
		"idToken":      access,
		"refreshToken": refresh,
		"expiresIn":    "3600",
		"registered":   true,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("key") != s.APIKey {
		writeError(w, http.StatusBadRequest, "API_KEY_INVALID")
		return
	}

	var req struct {
		GrantType    string `json:"grant_type"`
		RefreshToken string `json:"refresh_token"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON")
		return
	}

	if req.GrantType != "refresh_token" {
		writeError(w, http.StatusBadRequest, "INVALID_GRANT_TYPE")
		return
	}

	s.mu.Lock()
	uid, ok := s.refresh[req.RefreshToken]
	if ok {
		delete(s.refresh, req.RefreshToken)
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_REFRESH_TOKEN")
		return
	}

	access, refresh := s.issue(uid)

	writeJSON(w, http.StatusOK, map[string]any{
		"expires_in":    "3600",
		"token_type":    "Bearer",
		"id_token":      access,
		"refresh_token": refresh,
		"user_id":       uid,
	})
}

// issue mints a fresh access and refresh token pair for uid.
func (s *Server) issue(uid string) (access, refresh string) {
	access = "at-" + ulid.Make().String()
	refresh = "rt-" + ulid.Make().String()

	s.mu.Lock()
	s.tokens[access] = uid
	s.refresh[refresh] = uid
	s.mu.Unlock()

	return access, refresh
}

// IssueToken mints an access token for a user without a login request.
func (s *Server) IssueToken(uid string) string {
	access, _ := s.issue(uid)

	return access
}
