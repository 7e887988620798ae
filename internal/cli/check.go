// Package cli implements the operator checks behind "quartermaster check".
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"quartermaster/internal/config"
	"quartermaster/internal/domain"
	"quartermaster/internal/prompts"
	"quartermaster/internal/secrets"
)

// CheckOptions holds options for the check command.
type CheckOptions struct {
	ConfigPath string
	Fix        bool // write the default config when missing and create missing directories
	SkipDB     bool
	// Secret looks up a secret by name. Nil skips the credential checks.
	Secret func(name string) (string, error)
}

// RunCheck validates the config, the directories it names, the required
// credentials and database connectivity. It returns the process exit code:
// 0 when the daemon could start, 1 otherwise.
func RunCheck(opts CheckOptions, stdout, stderr io.Writer) int {
	cfgPath := opts.ConfigPath
	if cfgPath == "" {
		cfgPath = config.Path()
	}
	note := func(section, message string) {
		fmt.Fprintf(stdout, "  [%s] %s\n", section, message)
	}
	failed := false
	fail := func(section, message string) {
		note(section, "FAIL "+message)
		failed = true
	}

	cfg, err := configLoad(cfgPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fail("Config", err.Error())
			return 1
		}
		note("Config", fmt.Sprintf("No config at %s.", cfgPath))
		if !opts.Fix {
			note("Config", "Run with --fix to create a default "+filepath.Base(cfgPath)+".")
			fmt.Fprintln(stdout, "  Check complete.")
			return 1
		}
		if err := configWriteDefault(cfgPath); err != nil {
			fmt.Fprintf(stderr, "  failed to write default config: %v\n", err)
			return 1
		}
		note("Config", fmt.Sprintf("Wrote default config to %s.", cfgPath))
		if cfg, err = configLoad(cfgPath); err != nil {
			fail("Config", err.Error())
			return 1
		}
	} else {
		note("Config", fmt.Sprintf("Loaded %s.", cfgPath))
	}

	for _, p := range config.Validate(cfg) {
		fail("Config", p)
	}

	checkGateway(cfg, note)

	if err := ensureDir(cfg.History.Dir, "history.dir", opts.Fix); err != nil {
		fail("Paths", err.Error())
	} else {
		note("Paths", fmt.Sprintf("history.dir %s ok.", cfg.History.Dir))
	}

	if path := cfg.Prompts.OverridePath; path != "" {
		p := prompts.New(cfg.Prompts.CurrentWar, nil)
		if err := p.Load(path); err != nil {
			note("Prompts", fmt.Sprintf("override %s not usable, the built-in prompt will be used: %v", path, err))
		} else {
			note("Prompts", fmt.Sprintf("override %s ok.", path))
		}
	}

	if opts.Secret != nil {
		checkSecrets(cfg, opts.Secret, note, fail)
	}

	if !opts.SkipDB {
		conn, err := dbConnect(cfg.Database.URL)
		if err != nil {
			fail("Database", err.Error())
		} else {
			conn.Close()
			note("Database", "reachable.")
		}
	}

	fmt.Fprintln(stdout, "  Check complete.")
	if failed {
		return 1
	}
	return 0
}

func checkGateway(cfg *domain.Config, note func(string, string)) {
	if !cfg.Gateway.Enabled {
		note("Gateway", "disabled.")
		return
	}
	note("Gateway", fmt.Sprintf("port=%d auth=%s", cfg.Gateway.Port, cfg.Gateway.Auth.Mode))
	if cfg.Gateway.Auth.Mode == "none" {
		note("Gateway", "Auth is disabled. Set gateway.auth.mode to \"token\" before exposing the port.")
	}
}

func checkSecrets(cfg *domain.Config, get func(string) (string, error), note, fail func(string, string)) {
	required := func(name, why string) {
		if _, err := get(name); err != nil {
			fail("Secrets", fmt.Sprintf("%s missing (%s). Set it with: quartermaster secrets set %s <value>", name, why, name))
			return
		}
		note("Secrets", name+" ok.")
	}
	if cfg.Agent.Provider == "" || cfg.Agent.Provider == "gemini" {
		required(secrets.GeminiAPIKey, "agent.provider is gemini")
	}
	if cfg.Discord.Enabled {
		required(secrets.DiscordToken, "discord.enabled")
	}
	if cfg.Telegram.Enabled {
		required(secrets.TelegramToken, "telegram.enabled")
	}
	if cfg.Gateway.Enabled && cfg.Gateway.Auth.Mode == "token" && cfg.Gateway.Auth.AuthToken == "" {
		required(secrets.GatewayToken, "gateway.auth.mode is token")
	}
}

func ensureDir(dir, label string, create bool) error {
	if dir == "" {
		return fmt.Errorf("%s is empty", label)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	info, err := osStat(abs)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("%s %q: %w", label, abs, err)
		}
		if !create {
			return fmt.Errorf("%s %q does not exist (run with --fix to create it)", label, abs)
		}
		if err := osMkdirAll(abs, 0o755); err != nil {
			return fmt.Errorf("%s %q: mkdir failed: %w", label, abs, err)
		}
		return nil
	}
	if !info.IsDir() {
		return fmt.Errorf("%s %q: not a directory", label, abs)
	}
	return nil
}
