package secrets

import (
	"errors"
	"testing"
)

type mapStore map[string]string

func (m mapStore) Get(name string) (string, error) {
	if v, ok := m[name]; ok {
		return v, nil
	}
	return "", ErrNotFound
}
func (m mapStore) Set(name, value string) error { m[name] = value; return nil }
func (m mapStore) Delete(name string) error     { delete(m, name); return nil }
func (m mapStore) Names() ([]string, error)     { return nil, nil }

func TestEnvName_ShouldUpperCaseAndPrefix(t *testing.T) {
	if got := EnvName("gemini_api_key"); got != "QUARTERMASTER_GEMINI_API_KEY" {
		t.Errorf("got %s", got)
	}
	if got := EnvName("scanner-token"); got != "QUARTERMASTER_SCANNER_TOKEN" {
		t.Errorf("got %s", got)
	}
}

func TestResolver_WhenEnvSet_ShouldPreferEnv(t *testing.T) {
	t.Setenv("QUARTERMASTER_DISCORD_BOT_TOKEN", "  from-env ")
	r := NewResolver(mapStore{DiscordToken: "from-vault"})

	got, err := r.Get(DiscordToken)

	if err != nil || got != "from-env" {
		t.Errorf("got %q, %v", got, err)
	}
}

func TestResolver_WhenEnvBlank_ShouldFallBackToVault(t *testing.T) {
	t.Setenv("QUARTERMASTER_DISCORD_BOT_TOKEN", " ")
	r := NewResolver(mapStore{DiscordToken: "from-vault"})

	if got, _ := r.Get(DiscordToken); got != "from-vault" {
		t.Errorf("got %q", got)
	}
}

func TestResolver_WhenNoVault_ShouldReturnErrNotFound(t *testing.T) {
	if _, err := NewResolver(nil).Get("unset_secret_for_test"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v", err)
	}
}

func TestResolver_Optional_ShouldSwallowOnlyNotFound(t *testing.T) {
	r := NewResolver(mapStore{})

	got, err := r.Optional("unset_secret_for_test")

	if err != nil || got != "" {
		t.Errorf("got %q, %v", got, err)
	}
}
