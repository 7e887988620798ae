package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/bwmarrin/discordgo"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"quartermaster/internal/banner"
	"quartermaster/internal/discord"
	"quartermaster/internal/domain"
	"quartermaster/internal/gateway"
	"quartermaster/internal/prompts"
	"quartermaster/internal/router"
	"quartermaster/internal/scheduler"
	"quartermaster/internal/secrets"
	"quartermaster/internal/session"
	"quartermaster/internal/telegram"
)

var errRunningAsRoot = errors.New("refusing to run as root: run quartermaster as an unprivileged user")

var errNothingToRun = errors.New("no transport enabled: set discord.enabled, telegram.enabled or gateway.enabled")

// Hooks replaced in tests.
var (
	geteuid         = os.Geteuid
	shutdownContext = func(parent context.Context) (context.Context, context.CancelFunc) {
		return signal.NotifyContext(parent, shutdownSignals()...)
	}
	newDiscordSession = func(token string) (*discordgo.Session, error) {
		return discordgo.New("Bot " + token)
	}
	newTelegramBot = func(token string) (telegram.BotAPI, error) {
		return tgbotapi.NewBotAPI(token)
	}
)

// runDaemon serves every enabled transport until a shutdown signal arrives
// or one of them fails.
func runDaemon(cmd *cobra.Command, bm buildMeta) error {
	if geteuid() == 0 {
		return errRunningAsRoot
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if !cfg.Discord.Enabled && !cfg.Telegram.Enabled && !cfg.Gateway.Enabled {
		return errNothingToRun
	}

	ctx, stop := shutdownContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger

	b, err := a.brain()
	if err != nil {
		return err
	}
	hist, err := session.NewManager(cfg.History.Dir, session.WindowFrom(cfg.History))
	if err != nil {
		return err
	}
	rt := router.New(b, router.WithHistory(hist), router.WithLogger(logger))

	if path := cfg.Prompts.OverridePath; path != "" {
		w := prompts.NewWatcher(path, a.prompt, logger)
		if err := w.Start(); err != nil {
			logger.Warn("prompt watcher not started", "path", path, "error", err)
		} else {
			defer w.Stop()
		}
	}

	var runners []func(context.Context) error

	if cfg.Gateway.Enabled {
		gcfg, err := gatewayConfig(cfg.Gateway, a.secrets)
		if err != nil {
			return err
		}
		srv, err := gateway.NewServer(gcfg, gateway.Deps{Tools: a.invoker, Brain: b, Router: rt, Logger: logger})
		if err != nil {
			return err
		}
		runners = append(runners, func(ctx context.Context) error {
			if err := srv.Run(ctx); err != nil {
				return fmt.Errorf("gateway: %w", err)
			}
			return nil
		})
	}

	var discordBot *discord.Bot
	if cfg.Discord.Enabled {
		token, err := a.secrets.Get(secrets.DiscordToken)
		if err != nil {
			return fmt.Errorf("discord: %w (set it with: quartermaster secrets set %s <token>)", err, secrets.DiscordToken)
		}
		s, err := newDiscordSession(token)
		if err != nil {
			return fmt.Errorf("discord: %w", err)
		}
		discordBot = discord.New(s, rt, discord.WithLogger(logger), discord.WithScanner(a.scans))
		runners = append(runners, func(ctx context.Context) error {
			if err := discord.Run(ctx, s, discordBot); err != nil {
				return fmt.Errorf("discord: %w", err)
			}
			return nil
		})
	}

	if cfg.Telegram.Enabled {
		token, err := a.secrets.Get(secrets.TelegramToken)
		if err != nil {
			return fmt.Errorf("telegram: %w (set it with: quartermaster secrets set %s <token>)", err, secrets.TelegramToken)
		}
		bot, err := newTelegramBot(token)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		adapter := telegram.NewAdapter(bot, rt, cfg.Telegram.RegimentID, telegram.WithLogger(logger))
		runners = append(runners, func(ctx context.Context) error {
			adapter.Start(ctx)
			return nil
		})
	}

	banner.Startup(cmd.OutOrStdout(), bm.Version, statusLines(cfg, a)...)

	if cfg.Reminders.Enabled {
		if discordBot == nil {
			logger.Warn("expiry reminders need discord; not scheduled")
		} else {
			sched, err := startReminders(ctx, cfg.Reminders, a, discordBot, logger)
			if err != nil {
				return err
			}
			defer sched.Stop()
		}
	}

	p := pool.New().WithErrors().WithContext(ctx).WithCancelOnError()
	for _, r := range runners {
		p.Go(r)
	}
	err = p.Wait()
	logger.Info("shutting down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func startReminders(ctx context.Context, rc domain.ReminderConfig, a *app, notifier scheduler.Notifier, logger *slog.Logger) (*scheduler.Scheduler, error) {
	sched := scheduler.NewScheduler(scheduler.NewRobfigCronEngine(logger), scheduler.WithLogger(logger))
	r := scheduler.NewReminders(a.store, notifier, time.Duration(rc.WarnHours)*time.Hour, logger)
	if err := sched.AddJob(r.Job(rc.Cron)); err != nil {
		return nil, fmt.Errorf("reminders: %w", err)
	}
	sched.Start(ctx)
	return sched, nil
}

// gatewayConfig fills the bearer token from the gateway_token secret when
// token auth is on and the config file carries none.
func gatewayConfig(gc domain.GatewayConfig, sec *secrets.Resolver) (domain.GatewayConfig, error) {
	if gc.Auth.Mode == "none" || gc.Auth.AuthToken != "" {
		return gc, nil
	}
	token, err := sec.Optional(secrets.GatewayToken)
	if err != nil {
		return gc, err
	}
	if token == "" && gc.Auth.Mode == "token" {
		return gc, fmt.Errorf("gateway: auth mode is token but no token is set (config gateway.auth.authToken or secret %s)", secrets.GatewayToken)
	}
	gc.Auth.AuthToken = token
	return gc, nil
}

func statusLines(cfg *domain.Config, a *app) []string {
	onOff := func(b bool) string {
		if b {
			return "on"
		}
		return "off"
	}
	lines := []string{
		fmt.Sprintf("model     %s %s", cfg.Agent.Provider, cfg.Agent.Model),
		fmt.Sprintf("tools     %d", len(a.invoker.Definitions())),
		fmt.Sprintf("discord   %s", onOff(cfg.Discord.Enabled)),
		fmt.Sprintf("telegram  %s", onOff(cfg.Telegram.Enabled)),
	}
	if cfg.Gateway.Enabled {
		lines = append(lines, fmt.Sprintf("gateway   :%d", cfg.Gateway.Port))
	} else {
		lines = append(lines, "gateway   off")
	}
	if cfg.Reminders.Enabled {
		lines = append(lines, fmt.Sprintf("reminders %s (%dh ahead)", cfg.Reminders.Cron, cfg.Reminders.WarnHours))
	}
	return lines
}
