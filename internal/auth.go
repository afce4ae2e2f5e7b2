package internal

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"tunelink/internal/storage"
)

// SessionCookieName is where browser clients carry the session token.
const SessionCookieName = "tunelink_session"

var errUnauthorized = errors.New("unauthorized")

// Verifier validates the credential presented at connection time and yields
// the user identity it belongs to. The hub treats this as a black box.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// SessionVerifier checks tokens against the persisted session table.
type SessionVerifier struct {
	store *storage.Store
}

func NewSessionVerifier(store *storage.Store) *SessionVerifier {
	return &SessionVerifier{store: store}
}

func (v *SessionVerifier) Verify(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", errUnauthorized
	}
	session, err := v.store.GetSession(ctx, token)
	if err != nil {
		return "", err
	}
	if session == nil || time.Now().After(session.ExpiresAt) {
		return "", errUnauthorized
	}
	return session.Username, nil
}

// credentialFromRequest pulls the session token out of the Authorization
// header, the token query parameter (websocket dialers), or the session
// cookie, in that order.
func credentialFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if strings.HasPrefix(header, "Bearer ") {
			return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		}
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}
