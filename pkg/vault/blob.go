package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 32
	keySize    = 32
	iterations = 100000
)

// ErrNotFound is returned when a blob is absent or unreadable. Corrupt
// ciphertext deliberately maps here so callers treat it as "not found"
// and re-authenticate instead of crashing.
var ErrNotFound = errors.New("vault: blob not found")

// envelope is the on-disk representation of one encrypted blob. The
// plaintext never touches disk.
type envelope struct {
	Salt      string    `json:"salt"`
	Encrypted string    `json:"encrypted"`
	Version   int       `json:"version"`
	Modified  time.Time `json:"modified"`
}

// payload wraps the caller's secret with the metadata needed for TTL
// checks.
type payload struct {
	SavedAt time.Time       `json:"saved_at"`
	Data    json.RawMessage `json:"data"`
}

// BlobStore seals and opens named encrypted blobs under one directory.
// Keys are derived per-blob from the provider's passphrase with a random
// salt via PBKDF2, and sealed with AES-GCM.
type BlobStore struct {
	dir      string
	provider KeyProvider
}

// NewBlobStore creates a blob store rooted at dir.
func NewBlobStore(dir string, provider KeyProvider) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}
	return &BlobStore{dir: dir, provider: provider}, nil
}

// Seal encrypts value and writes it atomically under name.
func (s *BlobStore) Seal(name string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	plain, err := json.Marshal(payload{SavedAt: time.Now(), Data: raw})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope payload: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	key, err := s.deriveKey(salt)
	if err != nil {
		return err
	}

	sealed, err := encrypt(plain, key)
	if err != nil {
		return fmt.Errorf("failed to encrypt payload: %w", err)
	}

	env := envelope{
		Salt:      base64.StdEncoding.EncodeToString(salt),
		Encrypted: base64.StdEncoding.EncodeToString(sealed),
		Version:   1,
		Modified:  time.Now(),
	}

	content, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal blob file: %w", err)
	}

	path := s.path(name)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, content, 0600); err != nil {
		return fmt.Errorf("failed to write blob file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace blob file: %w", err)
	}

	return nil
}

// Open decrypts the blob under name into out and returns when it was
// saved. Missing or corrupt blobs return ErrNotFound.
func (s *BlobStore) Open(name string, out interface{}) (time.Time, error) {
	content, err := os.ReadFile(s.path(name))
	if err != nil {
		return time.Time{}, ErrNotFound
	}

	var env envelope
	if err := json.Unmarshal(content, &env); err != nil {
		return time.Time{}, ErrNotFound
	}

	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return time.Time{}, ErrNotFound
	}

	sealed, err := base64.StdEncoding.DecodeString(env.Encrypted)
	if err != nil {
		return time.Time{}, ErrNotFound
	}

	key, err := s.deriveKey(salt)
	if err != nil {
		return time.Time{}, err
	}

	plain, err := decrypt(sealed, key)
	if err != nil {
		return time.Time{}, ErrNotFound
	}

	var p payload
	if err := json.Unmarshal(plain, &p); err != nil {
		return time.Time{}, ErrNotFound
	}

	if err := json.Unmarshal(p.Data, out); err != nil {
		return time.Time{}, ErrNotFound
	}

	return p.SavedAt, nil
}

// Delete removes the blob under name. Missing blobs are not an error.
func (s *BlobStore) Delete(name string) error {
	if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// Exists reports whether a blob file is present (it may still be corrupt).
func (s *BlobStore) Exists(name string) bool {
	_, err := os.Stat(s.path(name))
	return err == nil
}

func (s *BlobStore) path(name string) string {
	return filepath.Join(s.dir, name+".enc")
}

func (s *BlobStore) deriveKey(salt []byte) ([]byte, error) {
	passphrase, err := s.provider.Passphrase()
	if err != nil {
		return nil, fmt.Errorf("failed to get passphrase: %w", err)
	}
	return pbkdf2.Key([]byte(passphrase), salt, iterations, keySize, sha256.New), nil
}

// IsValid reports whether a saved-at timestamp is still inside its TTL.
// The lower bound is inclusive, expiry is exclusive: valid iff
// now < savedAt + ttl.
func IsValid(savedAt time.Time, ttl time.Duration, now time.Time) bool {
	return now.Before(savedAt.Add(ttl))
}

func encrypt(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decrypt(ciphertext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
