package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"quartermaster/internal/cli"
	"quartermaster/internal/db"
	"quartermaster/internal/domain"
	"quartermaster/internal/secrets"
)

func addIdentityFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("regiment", "r", "", "regiment (Discord guild) id the turn runs for")
	cmd.Flags().StringP("user", "u", "", "Discord user id of the caller")
	cmd.Flags().String("user-name", "", "display name of the caller")
}

func identity(cmd *cobra.Command) domain.TurnContext {
	regiment, _ := cmd.Flags().GetString("regiment")
	user, _ := cmd.Flags().GetString("user")
	name, _ := cmd.Flags().GetString("user-name")
	return domain.TurnContext{RegimentID: regiment, UserID: user, UserName: name, ChannelID: "cli"}
}

func newAskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question locally through the model and tools",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()
			b, err := a.brain()
			if err != nil {
				return err
			}
			res, err := b.RunTurn(ctx, strings.Join(args, " "), identity(cmd), nil)
			if err != nil {
				return err
			}
			cmd.Println(res.Text)
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				fmt.Fprintf(cmd.ErrOrStderr(), "\n[%s] iterations=%d tools=%s forced_stop=%v\n",
					res.State.RequestID, res.State.Iteration, strings.Join(res.State.ToolsInvoked, ","), res.State.ForcedStop)
			}
			return nil
		},
	}
	addIdentityFlags(cmd)
	cmd.Flags().BoolP("verbose", "v", false, "print loop statistics to stderr")
	return cmd
}

func newToolsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tool catalog in advertisement order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()
			defs := a.invoker.Definitions()
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(defs)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, d := range defs {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, paramSummary(d.Params), d.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Bool("json", false, "print full definitions as JSON")
	return cmd
}

func paramSummary(params []domain.ToolParam) string {
	if len(params) == 0 {
		return "-"
	}
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = p.Name
		if !p.Required {
			parts[i] += "?"
		}
	}
	return strings.Join(parts, ",")
}

func newCallCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <tool> [json-arguments]",
		Short: "Invoke one tool directly and print its JSON result",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var callArgs map[string]any
			if len(args) == 2 && strings.TrimSpace(args[1]) != "" {
				if err := json.Unmarshal([]byte(args[1]), &callArgs); err != nil {
					return fmt.Errorf("arguments must be a JSON object: %w", err)
				}
			}
			a, err := newApp(cmd.Context(), cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()
			inv := a.invoker.Call(cmd.Context(), domain.ToolCall{Name: args[0], Args: callArgs}, identity(cmd))
			cmd.Println(inv.Result.Content)
			if inv.Err != nil {
				return exitCodeErr(1)
			}
			return nil
		},
	}
	addIdentityFlags(cmd)
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			conn, err := db.Connect(databaseURL(cfg.Database.URL, secrets.NewResolver(vaultOrNil())))
			if err != nil {
				return err
			}
			defer conn.Close()
			v, err := db.Migrate(cmd.Context(), conn)
			if err != nil {
				return err
			}
			cmd.Printf("schema at version %d\n", v)
			return nil
		},
	}
}

func vaultOrNil() secrets.Store {
	v, err := openVault()
	if err != nil {
		return nil
	}
	return v
}

func newCheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check config, paths, credentials and database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fix, _ := cmd.Flags().GetBool("fix")
			skipDB, _ := cmd.Flags().GetBool("skip-db")
			code := cli.RunCheck(cli.CheckOptions{
				ConfigPath: configPath(cmd),
				Fix:        fix,
				SkipDB:     skipDB,
				Secret:     secrets.NewResolver(vaultOrNil()).Get,
			}, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if code != 0 {
				return exitCodeErr(code)
			}
			return nil
		},
	}
	cmd.Flags().Bool("fix", false, "write the default config and create missing directories")
	cmd.Flags().Bool("skip-db", false, "do not connect to the database")
	return cmd
}

func newSecretsCommand() *cobra.Command {
	root := &cobra.Command{Use: "secrets", Short: "Store or retrieve credentials in the encrypted vault"}
	set := &cobra.Command{
		Use:   "set <name> <value|->",
		Short: "Store a secret; a value of - reads it from stdin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}
			value := args[1]
			if value == "-" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read secret from stdin: %w", err)
				}
				value = strings.TrimSpace(line)
			}
			if value == "" {
				return errors.New("secret value must not be empty")
			}
			if err := v.Set(args[0], value); err != nil {
				return err
			}
			cmd.Println("ok")
			return nil
		},
	}
	get := &cobra.Command{
		Use:   "get <name>",
		Short: "Print a secret, from the environment or the vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := secrets.NewResolver(vaultOrNil()).Get(args[0])
			if errors.Is(err, secrets.ErrNotFound) {
				return fmt.Errorf("secret %q not found (vault or $%s)", args[0], secrets.EnvName(args[0]))
			}
			if err != nil {
				return err
			}
			cmd.Println(value)
			return nil
		},
	}
	del := &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a secret from the vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}
			return v.Delete(args[0])
		},
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List the names stored in the vault",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}
			names, err := v.Names()
			if err != nil {
				return err
			}
			for _, n := range names {
				cmd.Println(n)
			}
			return nil
		},
	}
	root.AddCommand(set, get, del, list)
	return root
}
