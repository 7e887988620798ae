package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const nonceSizeGCM = 12

// Hooks for tests.
var (
	vaultWriteFile            = os.WriteFile
	vaultMarshal              = json.Marshal
	vaultRand       io.Reader = rand.Reader
	vaultKeySource            = KeyFromEnvironment
)

// ErrUndecryptable means the vault exists but the key does not open it.
var ErrUndecryptable = errors.New("secrets: vault cannot be decrypted with this key")

// Vault is a JSON map of secrets sealed with AES-GCM in a single file.
type Vault struct {
	path string
	aead cipher.AEAD
	mu   sync.Mutex
}

// OpenVault opens the vault at path with the key from KeyFromEnvironment.
// The file need not exist yet.
func OpenVault(path string) (*Vault, error) {
	key, err := vaultKeySource()
	if err != nil {
		return nil, err
	}
	return OpenVaultWithKey(path, key)
}

// OpenDefaultVault opens the vault at DefaultVaultPath.
func OpenDefaultVault() (*Vault, error) {
	path, err := DefaultVaultPath()
	if err != nil {
		return nil, err
	}
	return OpenVault(path)
}

func OpenVaultWithKey(path string, key []byte) (*Vault, error) {
	if len(key) != 32 {
		return nil, errors.New("secrets: key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Vault{path: path, aead: aead}, nil
}

func (v *Vault) Path() string { return v.path }

func (v *Vault) Get(name string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	m, err := v.load()
	if err != nil {
		return "", err
	}
	val, ok := m[name]
	if !ok || val == "" {
		return "", ErrNotFound
	}
	return val, nil
}

// Set stores value under name. An undecryptable vault is refused rather
// than overwritten.
func (v *Vault) Set(name, value string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	m, err := v.load()
	if err != nil {
		return err
	}
	m[name] = value
	return v.save(m)
}

// Delete removes name. Deleting a missing secret is not an error.
func (v *Vault) Delete(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	m, err := v.load()
	if err != nil {
		return err
	}
	if _, ok := m[name]; !ok {
		return nil
	}
	delete(m, name)
	return v.save(m)
}

// Names lists stored secret names, sorted.
func (v *Vault) Names() ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	m, err := v.load()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, nil
}

func (v *Vault) load() (map[string]string, error) {
	m := make(map[string]string)
	data, err := os.ReadFile(v.path)
	if errors.Is(err, fs.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("secrets read: %w", err)
	}
	if len(data) < nonceSizeGCM {
		return nil, fmt.Errorf("secrets: vault %s is truncated", v.path)
	}
	plain, err := v.aead.Open(nil, data[:nonceSizeGCM], data[nonceSizeGCM:], nil)
	if err != nil {
		return nil, ErrUndecryptable
	}
	if err := json.Unmarshal(plain, &m); err != nil {
		return nil, fmt.Errorf("secrets parse: %w", err)
	}
	return m, nil
}

func (v *Vault) save(m map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(v.path), 0o700); err != nil {
		return fmt.Errorf("secrets mkdir: %w", err)
	}
	plain, err := vaultMarshal(m)
	if err != nil {
		return err
	}
	nonce := make([]byte, nonceSizeGCM)
	if _, err := io.ReadFull(vaultRand, nonce); err != nil {
		return fmt.Errorf("secrets nonce: %w", err)
	}
	return vaultWriteFile(v.path, v.aead.Seal(nonce, nonce, plain, nil), 0o600)
}

var _ Store = (*Vault)(nil)
