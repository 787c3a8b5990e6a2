package authflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// defaultExpiresIn applies when the token endpoint omits expires_in.
const defaultExpiresIn = 3600 * time.Second

// maxTokenResponseBytes bounds how much of a token response is read.
const maxTokenResponseBytes = 1 << 20

// tokenRequest is the JSON body of both grant types.
type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
	CodeVerifier string `json:"code_verifier,omitempty"`
}

// tokenResponse is Notion's grant response.
type tokenResponse struct {
	AccessToken   string `json:"access_token"`
	TokenType     string `json:"token_type"`
	RefreshToken  string `json:"refresh_token"`
	ExpiresIn     int64  `json:"expires_in"`
	WorkspaceID   string `json:"workspace_id"`
	WorkspaceName string `json:"workspace_name"`
	BotID         string `json:"bot_id"`
}

// lifetime converts ExpiresIn to a duration, falling back to one hour.
func (t *tokenResponse) lifetime() time.Duration {
	if t.ExpiresIn > 0 {
		return time.Duration(t.ExpiresIn) * time.Second
	}
	return defaultExpiresIn
}

// tokenEndpointError is a non-success answer from the token endpoint.
type tokenEndpointError struct {
	Status int
	Body   string
}

func (e *tokenEndpointError) Error() string {
	return fmt.Sprintf("token endpoint returned status %d", e.Status)
}

// requestToken posts a grant to the token endpoint, authenticated with the
// client credentials via HTTP Basic auth.
func (f *Flow) requestToken(ctx context.Context, body tokenRequest) (*tokenResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	requestBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.oauth.Endpoint.TokenURL, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(f.oauth.ClientID, f.oauth.ClientSecret)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &tokenEndpointError{Status: resp.StatusCode, Body: string(data)}
	}

	var token tokenResponse
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, errors.New("token response has no access_token")
	}

	return &token, nil
}

// endpointDetails extracts status and body from a requestToken error.
func endpointDetails(err error) (status int, body string) {
	var epErr *tokenEndpointError
	if errors.As(err, &epErr) {
		return epErr.Status, epErr.Body
	}
	return 0, ""
}
