package vault

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"
)

const keyringService = "marketwatcher"

// KeyProvider supplies the passphrase that blob encryption keys are
// derived from. Tests inject a deterministic provider; production uses
// the file or OS-keychain backends. Losing the passphrase invalidates
// every persisted secret; rotation is out of scope.
type KeyProvider interface {
	Passphrase() (string, error)
}

// FileKeyProvider keeps the passphrase in a permission-protected file,
// generating a random one on first use.
type FileKeyProvider struct {
	path string
}

// NewFileKeyProvider creates a file-backed key provider rooted at dir.
func NewFileKeyProvider(dir string) (*FileKeyProvider, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}
	return &FileKeyProvider{path: filepath.Join(dir, ".passphrase")}, nil
}

// Passphrase reads the stored passphrase, generating and persisting a
// fresh one when absent.
func (p *FileKeyProvider) Passphrase() (string, error) {
	if content, err := os.ReadFile(p.path); err == nil && len(content) > 0 {
		return string(content), nil
	}

	passphrase, err := generatePassphrase()
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(p.path, []byte(passphrase), 0600); err != nil {
		return "", fmt.Errorf("failed to save passphrase: %w", err)
	}

	return passphrase, nil
}

// KeyringKeyProvider keeps the passphrase in the OS keychain.
type KeyringKeyProvider struct {
	account string
}

// NewKeyringKeyProvider creates a keychain-backed key provider for the
// given account label.
func NewKeyringKeyProvider(account string) *KeyringKeyProvider {
	if account == "" {
		account = "default"
	}
	return &KeyringKeyProvider{account: account}
}

// Passphrase reads the keychain entry, generating and storing a fresh
// passphrase when absent.
func (p *KeyringKeyProvider) Passphrase() (string, error) {
	secret, err := keyring.Get(keyringService, p.account)
	if err == nil && secret != "" {
		return secret, nil
	}

	passphrase, err := generatePassphrase()
	if err != nil {
		return "", err
	}

	if err := keyring.Set(keyringService, p.account, passphrase); err != nil {
		return "", fmt.Errorf("failed to store passphrase in keyring: %w", err)
	}

	return passphrase, nil
}

// StaticKeyProvider returns a fixed passphrase; used by tests to avoid
// touching the filesystem or keychain.
type StaticKeyProvider string

func (p StaticKeyProvider) Passphrase() (string, error) {
	return string(p), nil
}

func generatePassphrase() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("failed to generate passphrase: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
