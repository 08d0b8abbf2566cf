package auth

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// TokenKey is the fixed vault key holding the bearer token.
const TokenKey = "token"

const (
	saltSize   = 16
	keySize    = chacha20poly1305.KeySize
	scryptN    = 1 << 15
	scryptR    = 8
	scryptP    = 1
	vaultPerms = 0o600
)

// ErrVaultCorrupt is returned when the vault file cannot be decrypted.
var ErrVaultCorrupt = errors.New("auth: vault corrupt or wrong passphrase")

// Vault is an encrypted key/value file used as secure local storage.
// Layout: salt | nonce | XChaCha20-Poly1305(JSON map).
type Vault struct {
	mu         sync.Mutex
	path       string
	passphrase []byte
}

// NewVault returns vault stored at path. An empty passphrase derives one from the host and user,
// which only protects against casual reads of the file.
func NewVault(path, passphrase string) (*Vault, error) {
	if path == "" {
		return nil, errors.New("auth: vault path required")
	}
	if passphrase == "" {
		passphrase = devicePassphrase()
	}
	return &Vault{path: path, passphrase: []byte(passphrase)}, nil
}

// DefaultVaultPath returns the per-user vault location.
func DefaultVaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "smartparking", "vault.bin")
}

// Get returns the value stored under key.
func (v *Vault) Get(key string) (string, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := v.load()
	if err != nil {
		return "", false, err
	}
	value, ok := entries[key]
	return value, ok, nil
}

// Set stores value under key.
func (v *Vault) Set(key, value string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := v.load()
	if err != nil {
		return err
	}
	entries[key] = value
	return v.save(entries)
}

// Delete removes key. Deleting a missing key is not an error.
func (v *Vault) Delete(key string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := v.load()
	if err != nil {
		return err
	}
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	return v.save(entries)
}

func (v *Vault) load() (map[string]string, error) {
	data, err := os.ReadFile(v.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("auth: read vault: %w", err)
	}

	if len(data) < saltSize+chacha20poly1305.NonceSizeX {
		return nil, ErrVaultCorrupt
	}
	salt := data[:saltSize]
	nonce := data[saltSize : saltSize+chacha20poly1305.NonceSizeX]
	sealed := data[saltSize+chacha20poly1305.NonceSizeX:]

	aead, err := v.aead(salt)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrVaultCorrupt
	}

	entries := make(map[string]string)
	if err := json.Unmarshal(plain, &entries); err != nil {
		return nil, ErrVaultCorrupt
	}
	return entries, nil
}

func (v *Vault) save(entries map[string]string) error {
	plain, err := json.Marshal(entries)
	if err != nil {
		return err
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}
	aead, err := v.aead(salt)
	if err != nil {
		return err
	}

	out := make([]byte, 0, len(salt)+len(nonce)+len(plain)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plain, nil)

	if err := os.MkdirAll(filepath.Dir(v.path), 0o700); err != nil {
		return fmt.Errorf("auth: create vault dir: %w", err)
	}
	tmp := v.path + ".tmp"
	if err := os.WriteFile(tmp, out, vaultPerms); err != nil {
		return fmt.Errorf("auth: write vault: %w", err)
	}
	return os.Rename(tmp, v.path)
}

func (v *Vault) aead(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(v.passphrase, salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("auth: derive key: %w", err)
	}
	return chacha20poly1305.NewX(key)
}

func devicePassphrase() string {
	host, _ := os.Hostname()
	name := ""
	if u, err := user.Current(); err == nil {
		name = u.Uid + ":" + u.Username
	}
	return "smartparking:" + host + ":" + name
}
