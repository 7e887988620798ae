package secrets

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
)

// PassphraseEnv overrides the machine-derived vault key.
const PassphraseEnv = "QUARTERMASTER_SECRETS_PASSPHRASE"

const keySalt = "quartermaster-secrets-v1"

// Hooks for tests.
var (
	keySourceReadFile      = os.ReadFile
	keySourceUserConfigDir = os.UserConfigDir
	keySourceMkdirAll      = os.MkdirAll
	machineIDPath          = "/etc/machine-id"
)

// KeyFromEnvironment returns a 32-byte vault key from PassphraseEnv or,
// failing that, the first line of /etc/machine-id.
func KeyFromEnvironment() ([]byte, error) {
	if s := os.Getenv(PassphraseEnv); s != "" {
		return KeyFromPassphrase(s), nil
	}
	b, err := keySourceReadFile(machineIDPath)
	if err != nil {
		return nil, fmt.Errorf("secrets: set %s or ensure %s exists: %w", PassphraseEnv, machineIDPath, err)
	}
	if i := bytes.IndexAny(b, "\r\n"); i >= 0 {
		b = b[:i]
	}
	if len(b) == 0 {
		return nil, errors.New("secrets: machine-id is empty")
	}
	return KeyFromPassphrase(string(b)), nil
}

// KeyFromPassphrase derives a 32-byte vault key from a passphrase with Argon2id.
func KeyFromPassphrase(passphrase string) []byte {
	return argon2.IDKey([]byte(passphrase), []byte(keySalt), 1, 64*1024, 4, 32)
}

// DefaultVaultPath returns UserConfigDir/quartermaster/.secrets, creating the directory.
func DefaultVaultPath() (string, error) {
	base, err := keySourceUserConfigDir()
	if err != nil {
		return "", fmt.Errorf("secrets dir: %w", err)
	}
	dir := filepath.Join(base, "quartermaster")
	if err := keySourceMkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("secrets dir mkdir: %w", err)
	}
	return filepath.Join(dir, ".secrets"), nil
}
