// Package authflow drives Notion's OAuth2 authorization-code flow with PKCE
// and keeps the stored credential fresh.
//
// Notion's token endpoint deviates from a stock OAuth2 client in two ways:
//   - Requests are JSON-encoded (OAuth2 typically uses form-encoding)
//   - The grant response carries workspace identity (workspace_id,
//     workspace_name, bot_id) that must be persisted with the tokens
//
// so token requests are issued manually while golang.org/x/oauth2 builds the
// authorization URL.
//
// # States
//
//	SignedOut → AuthorizationRequested → AwaitingRedirect → ExchangingCode → SignedIn
//	SignedIn → RefreshingToken → SignedIn | SignedOut
//	SignedIn → SignedOut (Logout)
//
// Any failure before SignedIn returns the flow to the state the token store
// implies. A failed refresh logs the session out: a revoked or stale refresh
// token cannot recover on its own.
//
// # Usage
//
//	flow, err := authflow.New(ctx, cfg, store, authflow.WithTargetClearer(prefs))
//	cred, err := flow.BeginAuthorization(ctx, authflow.NewLoopbackConsent(cfg.RedirectURL))
//	// later, before API calls
//	err = flow.RefreshIfNeeded(ctx)
package authflow
