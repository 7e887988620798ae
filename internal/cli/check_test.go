package cli

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"quartermaster/internal/secrets"
)

func writeConfig(t *testing.T, dir string, cfg map[string]any) string {
	t.Helper()
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "quartermaster.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func localConfig(dir string) map[string]any {
	return map[string]any{
		"agent":   map[string]any{"provider": "local"},
		"history": map[string]any{"dir": filepath.Join(dir, "history")},
		"discord": map[string]any{"enabled": false},
	}
}

func TestRunCheck_WhenConfigMissing_ShouldExplainAndFail(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "nonexistent.json")
	var out, errOut bytes.Buffer

	code := RunCheck(CheckOptions{ConfigPath: cfgPath, SkipDB: true}, &out, &errOut)

	if code != 1 {
		t.Errorf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(out.String(), "No config") || !strings.Contains(out.String(), "--fix") {
		t.Errorf("output: %s", out.String())
	}
}

func TestRunCheck_WhenConfigMissingAndFix_ShouldWriteDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	cfgPath := filepath.Join(dir, "quartermaster.json")
	var out, errOut bytes.Buffer

	code := RunCheck(CheckOptions{ConfigPath: cfgPath, Fix: true, SkipDB: true}, &out, &errOut)

	if code != 0 {
		t.Errorf("expected exit code 0, got %d: %s", code, out.String())
	}
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatalf("config file should exist after --fix: %v", err)
	}
	if !bytes.Contains(data, []byte("gateway")) || !bytes.Contains(data, []byte("8080")) {
		t.Errorf("expected default config content: %s", data)
	}
	if info, err := os.Stat(filepath.Join(dir, "history")); err != nil || !info.IsDir() {
		t.Errorf("history dir not created: %v", err)
	}
}

func TestRunCheck_WhenConfigValid_ShouldReportEverySection(t *testing.T) {
	dir := t.TempDir()
	_ = os.MkdirAll(filepath.Join(dir, "history"), 0o755)
	cfgPath := writeConfig(t, dir, localConfig(dir))
	var out, errOut bytes.Buffer

	code := RunCheck(CheckOptions{ConfigPath: cfgPath, SkipDB: true}, &out, &errOut)

	if code != 0 {
		t.Fatalf("exit %d: %s", code, out.String())
	}
	for _, want := range []string{"[Config] Loaded", "[Gateway] port=8080 auth=none", "Auth is disabled", "history.dir", "Check complete."} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("missing %q in:\n%s", want, out.String())
		}
	}
}

func TestRunCheck_WhenInvalidValues_ShouldListProblemsAndFail(t *testing.T) {
	dir := t.TempDir()
	cfg := localConfig(dir)
	cfg["agent"] = map[string]any{"provider": "openai", "maxIterations": 0}
	cfgPath := writeConfig(t, dir, cfg)
	var out, errOut bytes.Buffer

	code := RunCheck(CheckOptions{ConfigPath: cfgPath, Fix: true, SkipDB: true}, &out, &errOut)

	if code != 1 {
		t.Errorf("expected exit 1, got %d", code)
	}
	for _, want := range []string{"agent.maxIterations", `agent.provider "openai"`} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("missing %q in:\n%s", want, out.String())
		}
	}
}

func TestRunCheck_WhenConfigUnparseable_ShouldFail(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "quartermaster.json")
	_ = os.WriteFile(cfgPath, []byte("{not json"), 0o644)
	var out, errOut bytes.Buffer

	if code := RunCheck(CheckOptions{ConfigPath: cfgPath, SkipDB: true}, &out, &errOut); code != 1 {
		t.Errorf("expected exit 1, got %d", code)
	}
}

func TestRunCheck_WhenHistoryDirMissingWithoutFix_ShouldFail(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, localConfig(dir))
	var out, errOut bytes.Buffer

	code := RunCheck(CheckOptions{ConfigPath: cfgPath, SkipDB: true}, &out, &errOut)

	if code != 1 || !strings.Contains(out.String(), "does not exist") {
		t.Errorf("exit %d:\n%s", code, out.String())
	}
}

func TestRunCheck_ShouldReportMissingSecrets(t *testing.T) {
	// Given: gemini and discord enabled, only the discord token stored
	dir := t.TempDir()
	_ = os.MkdirAll(filepath.Join(dir, "history"), 0o755)
	cfg := localConfig(dir)
	cfg["agent"] = map[string]any{"provider": "gemini"}
	cfg["discord"] = map[string]any{"enabled": true}
	cfgPath := writeConfig(t, dir, cfg)
	stored := map[string]string{secrets.DiscordToken: "tok"}
	get := func(name string) (string, error) {
		if v, ok := stored[name]; ok {
			return v, nil
		}
		return "", secrets.ErrNotFound
	}
	var out, errOut bytes.Buffer

	// When
	code := RunCheck(CheckOptions{ConfigPath: cfgPath, SkipDB: true, Secret: get}, &out, &errOut)

	// Then
	if code != 1 {
		t.Errorf("expected exit 1, got %d", code)
	}
	if !strings.Contains(out.String(), "gemini_api_key missing") || !strings.Contains(out.String(), "discord_bot_token ok.") {
		t.Errorf("output:\n%s", out.String())
	}
}

func TestRunCheck_WhenDatabaseUnreachable_ShouldFail(t *testing.T) {
	old := dbConnect
	dbConnect = func(string) (*sql.DB, error) { return nil, errors.New("connection refused") }
	t.Cleanup(func() { dbConnect = old })
	dir := t.TempDir()
	_ = os.MkdirAll(filepath.Join(dir, "history"), 0o755)
	cfgPath := writeConfig(t, dir, localConfig(dir))
	var out, errOut bytes.Buffer

	code := RunCheck(CheckOptions{ConfigPath: cfgPath}, &out, &errOut)

	if code != 1 || !strings.Contains(out.String(), "[Database] FAIL connection refused") {
		t.Errorf("exit %d:\n%s", code, out.String())
	}
}

func TestRunCheck_WhenDatabaseReachable_ShouldPass(t *testing.T) {
	dir := t.TempDir()
	_ = os.MkdirAll(filepath.Join(dir, "history"), 0o755)
	cfg := localConfig(dir)
	cfg["database"] = map[string]any{"url": "file:check_ok.db?mode=memory&cache=shared"}
	cfgPath := writeConfig(t, dir, cfg)
	var out, errOut bytes.Buffer

	code := RunCheck(CheckOptions{ConfigPath: cfgPath}, &out, &errOut)

	if code != 0 || !strings.Contains(out.String(), "[Database] reachable.") {
		t.Errorf("exit %d:\n%s", code, out.String())
	}
}

func TestRunCheck_WhenPromptOverrideBroken_ShouldWarnOnly(t *testing.T) {
	dir := t.TempDir()
	_ = os.MkdirAll(filepath.Join(dir, "history"), 0o755)
	override := filepath.Join(dir, "prompt.tmpl")
	_ = os.WriteFile(override, []byte("{{.Broken"), 0o644)
	cfg := localConfig(dir)
	cfg["prompts"] = map[string]any{"overridePath": override}
	cfgPath := writeConfig(t, dir, cfg)
	var out, errOut bytes.Buffer

	code := RunCheck(CheckOptions{ConfigPath: cfgPath, SkipDB: true}, &out, &errOut)

	if code != 0 || !strings.Contains(out.String(), "built-in prompt will be used") {
		t.Errorf("exit %d:\n%s", code, out.String())
	}
}

func TestEnsureDir_WhenPathIsFile_ShouldFail(t *testing.T) {
	file := filepath.Join(t.TempDir(), "f")
	_ = os.WriteFile(file, nil, 0o644)

	if err := ensureDir(file, "history.dir", true); err == nil || !strings.Contains(err.Error(), "not a directory") {
		t.Errorf("got %v", err)
	}
}
