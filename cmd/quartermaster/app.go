package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"quartermaster/internal/brain"
	"quartermaster/internal/config"
	ctxwindow "quartermaster/internal/context"
	"quartermaster/internal/db"
	"quartermaster/internal/domain"
	"quartermaster/internal/foxhole"
	"quartermaster/internal/llm"
	"quartermaster/internal/logistics"
	"quartermaster/internal/prompts"
	"quartermaster/internal/scanner"
	"quartermaster/internal/secrets"
	"quartermaster/internal/store"
	"quartermaster/internal/tokenizer"
	"quartermaster/internal/tooling"
)

// Hooks replaced in tests.
var (
	openVault = func() (secrets.Store, error) {
		v, err := secrets.OpenDefaultVault()
		if err != nil {
			return nil, err
		}
		return v, nil
	}
	newModel = llm.NewModel
)

func configPath(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("config"); p != "" {
		return p
	}
	return config.Path()
}

// loadConfig reads the config file. A missing file means defaults plus
// environment overrides, so a container can run on environment alone.
func loadConfig(cmd *cobra.Command) (*domain.Config, error) {
	path := configPath(cmd)
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = config.Default()
		if err := config.ApplyEnv(cfg); err != nil {
			return nil, err
		}
		config.CleanPaths(cfg)
	} else if err != nil {
		return nil, err
	}
	if problems := config.Validate(cfg); len(problems) > 0 {
		return nil, fmt.Errorf("invalid config %s:\n  %s", path, strings.Join(problems, "\n  "))
	}
	return cfg, nil
}

// openSecrets resolves secrets from the environment and, when it can be
// opened, the encrypted vault.
func openSecrets(logger *slog.Logger) *secrets.Resolver {
	vault, err := openVault()
	if err != nil {
		logger.Warn("secrets vault unavailable, using environment only", "error", err)
		return secrets.NewResolver(nil)
	}
	return secrets.NewResolver(vault)
}

// databaseURL adds the database token secret to remote libSQL URLs that
// carry no authToken of their own.
func databaseURL(raw string, sec *secrets.Resolver) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	switch u.Scheme {
	case "libsql", "https", "wss":
	default:
		return raw
	}
	q := u.Query()
	if q.Get("authToken") != "" {
		return raw
	}
	token, err := sec.Optional(secrets.DatabaseToken)
	if err != nil || token == "" {
		return raw
	}
	q.Set("authToken", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// app is the wired object graph shared by the daemon and the one-shot commands.
type app struct {
	cfg     *domain.Config
	logger  *slog.Logger
	secrets *secrets.Resolver
	db      *sql.DB
	store   *store.Store
	tools   *tooling.Registry
	invoker *tooling.Invoker
	scans   *scanner.Service
	prompt  *prompts.Prompt
}

// newApp loads config, opens and migrates the database and registers the tool catalog.
func newApp(ctx context.Context, cmd *cobra.Command, logOut io.Writer) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := config.NewLogger(cfg.Infra, logOut)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	sec := openSecrets(logger)

	conn, err := db.Open(ctx, databaseURL(cfg.Database.URL, sec))
	if err != nil {
		return nil, err
	}
	st, err := store.New(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	catalog := foxhole.DefaultCatalog()
	ocr := scanner.NewClient(cfg.Scanner.URL,
		scanner.WithHTTPClient(&http.Client{Timeout: millis(cfg.Scanner.TimeoutMs)}),
		scanner.WithMaxEdge(cfg.Scanner.MaxImageEdge),
		scanner.WithLogger(logger),
	)
	svc, err := logistics.New(st,
		logistics.WithCatalog(catalog),
		logistics.WithScanner(ocr),
		logistics.WithWarNumber(cfg.Prompts.CurrentWar),
		logistics.WithLogger(logger),
	)
	if err != nil {
		conn.Close()
		return nil, err
	}
	reg := tooling.NewRegistry()
	if err := logistics.Register(reg, svc); err != nil {
		conn.Close()
		return nil, err
	}
	scans, err := scanner.NewService(st, ocr, catalog,
		scanner.WithFaction(cfg.Scanner.Faction),
		scanner.WithWarNumber(cfg.Prompts.CurrentWar),
		scanner.WithChannelTTL(time.Duration(cfg.Scanner.ChannelCacheTTLSeconds)*time.Second),
		scanner.WithServiceLogger(logger),
	)
	if err != nil {
		conn.Close()
		return nil, err
	}

	prompt := prompts.New(cfg.Prompts.CurrentWar, logger)
	if path := cfg.Prompts.OverridePath; path != "" {
		if err := prompt.Load(path); err != nil {
			logger.Warn("system prompt override not loaded", "path", path, "error", err)
		}
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		secrets: sec,
		db:      conn,
		store:   st,
		tools:   reg,
		invoker: tooling.NewInvoker(reg, tooling.WithTimeout(millis(cfg.Agent.ToolTimeoutMs)), tooling.WithLogger(logger)),
		scans:   scans,
		prompt:  prompt,
	}, nil
}

// brain builds the orchestration loop over the configured model.
func (a *app) brain() (*brain.Brain, error) {
	model, err := newModel(a.cfg.Agent, a.secrets.Get, a.cfg.Retry, a.logger)
	if err != nil {
		if errors.Is(err, secrets.ErrNotFound) {
			return nil, fmt.Errorf("model: %w (set it with: quartermaster secrets set %s <key>)", err, secrets.GeminiAPIKey)
		}
		return nil, fmt.Errorf("model: %w", err)
	}
	opts := []brain.Option{
		brain.WithMaxIterations(a.cfg.Agent.MaxIterations),
		brain.WithToolConcurrency(a.cfg.Agent.ToolConcurrency),
		brain.WithPrompt(a.prompt),
		brain.WithLogger(a.logger),
	}
	if n := a.cfg.History.MaxTokens; n > 0 {
		tok := tokenizer.New(a.cfg.History.Encoding, a.logger)
		opts = append(opts, brain.WithContextManager(ctxwindow.NewManager(tok, n)))
	}
	return brain.NewBrain(model, a.invoker, opts...), nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.logger.Warn("database close failed", "error", err)
	}
}
