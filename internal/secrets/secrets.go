// Package secrets keeps API keys and bot tokens out of config.yaml: an
// AES-GCM encrypted vault on disk, overridable per secret by environment.
package secrets

import (
	"errors"
	"os"
	"strings"
)

// Names of the secrets the daemon reads.
const (
	GeminiAPIKey    = "gemini_api_key"
	DiscordToken    = "discord_bot_token"
	TelegramToken   = "telegram_bot_token"
	DatabaseToken   = "database_token"
	GatewayToken    = "gateway_token"
)

// EnvPrefix is prepended to the upper-cased secret name when looking in the environment.
const EnvPrefix = "QUARTERMASTER_"

// Store reads and writes named secrets.
type Store interface {
	Get(name string) (string, error)
	Set(name, value string) error
	Delete(name string) error
	Names() ([]string, error)
}

// ErrNotFound is returned when a secret is not set anywhere.
var ErrNotFound = errors.New("secret not found")

var lookupEnv = os.LookupEnv

// EnvName returns the environment variable consulted for name,
// e.g. gemini_api_key -> QUARTERMASTER_GEMINI_API_KEY.
func EnvName(name string) string {
	return EnvPrefix + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}

// Resolver looks a secret up in the environment first, then in the vault.
// A nil vault means environment only.
type Resolver struct {
	vault Store
}

func NewResolver(vault Store) *Resolver {
	return &Resolver{vault: vault}
}

// Get returns the secret, or ErrNotFound when neither source has a
// non-empty value.
func (r *Resolver) Get(name string) (string, error) {
	if v, ok := lookupEnv(EnvName(name)); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), nil
	}
	if r.vault == nil {
		return "", ErrNotFound
	}
	return r.vault.Get(name)
}

// Optional returns the secret or "" when it is not set. Other errors are returned.
func (r *Resolver) Optional(name string) (string, error) {
	v, err := r.Get(name)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}
