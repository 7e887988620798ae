package secrets

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := OpenVaultWithKey(filepath.Join(t.TempDir(), ".secrets"), KeyFromPassphrase("test-passphrase"))
	if err != nil {
		t.Fatalf("OpenVaultWithKey: %v", err)
	}
	return v
}

func TestVault_SetThenGet_ShouldReturnStoredValue(t *testing.T) {
	v := newTestVault(t)

	if err := v.Set(GeminiAPIKey, "AIza-one,AIza-two"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := v.Get(GeminiAPIKey)

	if err != nil || got != "AIza-one,AIza-two" {
		t.Errorf("Get: got %q, %v", got, err)
	}
}

func TestVault_WhenFileMissing_GetShouldReturnErrNotFound(t *testing.T) {
	v := newTestVault(t)

	if _, err := v.Get(DiscordToken); !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func TestVault_WhenValueEmpty_GetShouldReturnErrNotFound(t *testing.T) {
	v := newTestVault(t)
	_ = v.Set(DiscordToken, "")

	if _, err := v.Get(DiscordToken); !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func TestOpenVaultWithKey_WhenKeyWrongLength_ShouldFail(t *testing.T) {
	if _, err := OpenVaultWithKey("x", []byte("short")); err == nil {
		t.Error("expected error for key length != 32")
	}
}

func TestVault_AfterSet_FileShouldNotContainPlainText(t *testing.T) {
	v := newTestVault(t)
	secret := "discord-bot-token-value"

	if err := v.Set(DiscordToken, secret); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(v.Path())
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(data, []byte(secret)) || bytes.Contains(data, []byte(DiscordToken)) {
		t.Error("vault holds plain text")
	}
	if info, _ := os.Stat(v.Path()); info.Mode().Perm() != 0o600 {
		t.Errorf("mode: %v", info.Mode().Perm())
	}
}

func TestVault_WhenWrongKey_ShouldRefuseReadAndWrite(t *testing.T) {
	v := newTestVault(t)
	_ = v.Set(TelegramToken, "t")
	other, _ := OpenVaultWithKey(v.Path(), KeyFromPassphrase("another"))

	if _, err := other.Get(TelegramToken); !errors.Is(err, ErrUndecryptable) {
		t.Errorf("Get: got %v", err)
	}
	if err := other.Set(TelegramToken, "x"); !errors.Is(err, ErrUndecryptable) {
		t.Errorf("Set: got %v", err)
	}
	if got, _ := v.Get(TelegramToken); got != "t" {
		t.Errorf("original vault damaged: %q", got)
	}
}

func TestVault_WhenTruncated_ShouldFail(t *testing.T) {
	v := newTestVault(t)
	if err := os.WriteFile(v.Path(), []byte("short"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := v.Get(GeminiAPIKey); err == nil || !strings.Contains(err.Error(), "truncated") {
		t.Errorf("got %v", err)
	}
}

func TestVault_DeleteAndNames(t *testing.T) {
	v := newTestVault(t)
	_ = v.Set(TelegramToken, "t")
	_ = v.Set(DiscordToken, "d")

	if err := v.Delete(TelegramToken); err != nil {
		t.Fatal(err)
	}
	if err := v.Delete("never-set"); err != nil {
		t.Errorf("Delete missing: %v", err)
	}

	names, err := v.Names()
	if err != nil || len(names) != 1 || names[0] != DiscordToken {
		t.Errorf("Names: %v, %v", names, err)
	}
}

func TestVault_WhenMarshalFails_SetShouldReturnError(t *testing.T) {
	old := vaultMarshal
	vaultMarshal = func(any) ([]byte, error) { return nil, errors.New("marshal boom") }
	t.Cleanup(func() { vaultMarshal = old })

	if err := newTestVault(t).Set("k", "v"); err == nil {
		t.Error("expected error")
	}
}

func TestVault_WhenRandFails_SetShouldReturnError(t *testing.T) {
	old := vaultRand
	vaultRand = bytes.NewReader(nil)
	t.Cleanup(func() { vaultRand = old })

	if err := newTestVault(t).Set("k", "v"); err == nil || !strings.Contains(err.Error(), "nonce") {
		t.Errorf("got %v", err)
	}
}

func TestVault_WhenWriteFails_SetShouldReturnError(t *testing.T) {
	old := vaultWriteFile
	vaultWriteFile = func(string, []byte, os.FileMode) error { return errors.New("disk full") }
	t.Cleanup(func() { vaultWriteFile = old })

	if err := newTestVault(t).Set("k", "v"); err == nil {
		t.Error("expected error")
	}
}

func TestOpenVault_WhenKeySourceFails_ShouldReturnError(t *testing.T) {
	old := vaultKeySource
	vaultKeySource = func() ([]byte, error) { return nil, errors.New("no key") }
	t.Cleanup(func() { vaultKeySource = old })

	if _, err := OpenVault(filepath.Join(t.TempDir(), ".secrets")); err == nil {
		t.Error("expected error")
	}
}

func TestOpenDefaultVault_WhenPassphraseSet_ShouldUseConfigDir(t *testing.T) {
	dir := t.TempDir()
	old := keySourceUserConfigDir
	keySourceUserConfigDir = func() (string, error) { return dir, nil }
	t.Cleanup(func() { keySourceUserConfigDir = old })
	t.Setenv(PassphraseEnv, "pass")

	v, err := OpenDefaultVault()

	if err != nil {
		t.Fatal(err)
	}
	if v.Path() != filepath.Join(dir, "quartermaster", ".secrets") {
		t.Errorf("path: %s", v.Path())
	}
}
