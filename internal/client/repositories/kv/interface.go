package kv

import "context"

// Repository is the user-scoped key/value collection. Values are opaque
// bytes; callers that need at-rest secrecy store a ciphertext plus the AEAD
// nonce it was sealed with.
type Repository interface {
	// Get returns the value and nonce for key. A missing key yields
	// (nil, nil, nil), not an error.
	Get(ctx context.Context, key string) (value, nonce []byte, err error)

	// Set upserts a value. Pass a nil nonce for plaintext values.
	Set(ctx context.Context, key string, value, nonce []byte) error

	// Delete removes a key; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes all keys.
	Clear(ctx context.Context) error

	// List returns every stored key with its raw value (nonces omitted).
	List(ctx context.Context) (map[string][]byte, error)
}
