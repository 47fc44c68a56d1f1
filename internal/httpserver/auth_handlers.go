package httpserver

import (
	"encoding/json"
	"net/http"
	"strings"

	"zchat_go/internal/security"
)

type tokenRequest struct {
	Identity string `json:"identity"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// handleIssueToken mints a bearer token for any identity. It is mounted only
// when the relay runs in debug mode.
func handleIssueToken(tokens *security.TokenService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		identity := strings.TrimSpace(req.Identity)
		if identity == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "identity is required"})
			return
		}
		token, err := tokens.Issue(identity)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
	}
}

func handleMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		writeJSON(w, http.StatusOK, currentUser)
	}
}
