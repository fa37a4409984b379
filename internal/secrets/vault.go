// Package secrets stores named values encrypted at rest. Workflows read
// them through the read-only refs namespace.
package secrets

import "context"

// Vault resolves secret values by name.
// Values are encrypted at rest (AES-256-GCM) and decrypted in-memory only.
type Vault interface {
	Resolve(ctx context.Context, name string) ([]byte, error)
	Store(ctx context.Context, name string, value []byte) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]string, error)
}
