package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/tideflow-io/tideflow/pkg/schema"
)

const pbkdf2Iterations = 100_000

// vaultFile is the on-disk layout: a random salt plus base64-encoded
// AES-256-GCM ciphertexts keyed by secret name.
type vaultFile struct {
	Salt    string            `json:"salt"`
	Secrets map[string]string `json:"secrets"`
}

// FileVault keeps encrypted secrets in a single JSON file. The key is
// derived from a passphrase via PBKDF2 with a per-file salt.
type FileVault struct {
	path string
	aead cipher.AEAD

	mu      sync.RWMutex
	salt    []byte
	secrets map[string]string
}

// OpenFileVault opens (or creates) the vault file at path and derives the
// encryption key from the passphrase.
func OpenFileVault(path, passphrase string) (*FileVault, error) {
	if passphrase == "" {
		return nil, schema.NewError(schema.ErrCodeVault, "vault passphrase is required")
	}

	v := &FileVault{path: path, secrets: make(map[string]string)}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var vf vaultFile
		if err := json.Unmarshal(data, &vf); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeVault, "malformed vault file %s", path).WithCause(err)
		}
		v.salt, err = base64.StdEncoding.DecodeString(vf.Salt)
		if err != nil || len(v.salt) == 0 {
			return nil, schema.NewErrorf(schema.ErrCodeVault, "malformed vault salt in %s", path)
		}
		if vf.Secrets != nil {
			v.secrets = vf.Secrets
		}
	case os.IsNotExist(err):
		v.salt = make([]byte, 16)
		if _, err := rand.Read(v.salt); err != nil {
			return nil, fmt.Errorf("generate salt: %w", err)
		}
	default:
		return nil, fmt.Errorf("read vault file: %w", err)
	}

	key, err := pbkdf2.Key(sha256.New, passphrase, v.salt, pbkdf2Iterations, 32)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	v.aead, err = cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return v, nil
}

func (v *FileVault) Store(_ context.Context, name string, value []byte) error {
	if name == "" {
		return schema.NewError(schema.ErrCodeVault, "secret name is empty")
	}
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	ct := v.aead.Seal(nonce, nonce, value, nil)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.secrets[name] = base64.StdEncoding.EncodeToString(ct)
	return v.flushLocked()
}

func (v *FileVault) Resolve(_ context.Context, name string) ([]byte, error) {
	v.mu.RLock()
	encoded, ok := v.secrets[name]
	v.mu.RUnlock()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "secret %q not found", name)
	}

	ct, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "secret %q is corrupted", name)
	}
	nonceSize := v.aead.NonceSize()
	if len(ct) < nonceSize {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "secret %q is corrupted", name)
	}
	plaintext, err := v.aead.Open(nil, ct[:nonceSize], ct[nonceSize:], nil)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "decrypt %q failed: wrong passphrase or corrupted data", name)
	}
	return plaintext, nil
}

func (v *FileVault) Delete(_ context.Context, name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.secrets[name]; !ok {
		return schema.NewErrorf(schema.ErrCodeVault, "secret %q not found", name)
	}
	delete(v.secrets, name)
	return v.flushLocked()
}

func (v *FileVault) List(_ context.Context) ([]string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	names := make([]string, 0, len(v.secrets))
	for name := range v.secrets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ResolveAll decrypts every secret into a map usable as workflow refs.
func (v *FileVault) ResolveAll(ctx context.Context) (map[string]any, error) {
	names, _ := v.List(ctx)
	out := make(map[string]any, len(names))
	for _, name := range names {
		value, err := v.Resolve(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = string(value)
	}
	return out, nil
}

func (v *FileVault) flushLocked() error {
	vf := vaultFile{
		Salt:    base64.StdEncoding.EncodeToString(v.salt),
		Secrets: v.secrets,
	}
	data, err := json.MarshalIndent(vf, "", "  ")
	if err != nil {
		return fmt.Errorf("encode vault: %w", err)
	}
	if err := os.WriteFile(v.path, data, 0o600); err != nil {
		return fmt.Errorf("write vault file: %w", err)
	}
	return nil
}

var _ Vault = (*FileVault)(nil)
