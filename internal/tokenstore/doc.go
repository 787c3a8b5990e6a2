// Package tokenstore persists the OAuth session of the clipper: the Notion
// credential and the single outstanding PKCE authorization, if any.
//
// Both records live in one Session document so that they are swapped
// atomically by the storage Backend. TokenStore serializes load/modify/save
// cycles within the process; cross-process locking is not provided.
//
// # Backends
//
//   - FileBackend writes JSON to a 0600 file via temp-file + rename.
//   - KeyringBackend stores the JSON document in the OS keyring
//     (macOS Keychain, Windows Credential Manager, Secret Service).
//   - EnvBackend exposes a static integration token from the environment and
//     is read-only.
//   - MemoryBackend keeps the session in process memory.
//
// Example:
//
//	store := tokenstore.New(tokenstore.NewFileBackend(path))
//	cred, err := store.Credential(ctx)
//	if cred == nil {
//	    // signed out
//	}
package tokenstore
