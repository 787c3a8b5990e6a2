package tokenstore

import (
	"errors"
	"time"
)

// Credential is the token grant for one Notion workspace.
type Credential struct {
	AccessToken   string    `json:"access_token"`
	RefreshToken  string    `json:"refresh_token,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
	WorkspaceID   string    `json:"workspace_id,omitempty"`
	WorkspaceName string    `json:"workspace_name,omitempty"`
	BotID         string    `json:"bot_id,omitempty"`
}

// Validate checks the invariants every stored credential must hold.
func (c *Credential) Validate() error {
	if c.AccessToken == "" {
		return errors.New("access token cannot be empty")
	}
	if c.ExpiresAt.IsZero() {
		return errors.New("expiry cannot be zero")
	}
	return nil
}

// ExpiresWithin reports whether the credential expires before now+margin.
func (c *Credential) ExpiresWithin(now time.Time, margin time.Duration) bool {
	return !now.Before(c.ExpiresAt.Add(-margin))
}

// PendingAuthorization holds the PKCE verifier between the authorization
// request and the redirect. It is consumed exactly once.
type PendingAuthorization struct {
	CodeVerifier string `json:"code_verifier"`
}

// Session is the unit persisted by a Backend.
type Session struct {
	Credential *Credential           `json:"credential,omitempty"`
	Pending    *PendingAuthorization `json:"pending,omitempty"`
}

// Empty reports whether the session holds nothing worth persisting.
func (s Session) Empty() bool {
	return s.Credential == nil && s.Pending == nil
}
