package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand(bm buildMeta) *cobra.Command {
	root := &cobra.Command{
		Use:   "quartermaster",
		Short: "Foxhole regiment logistics assistant",
		Long: "Quartermaster answers regiment logistics questions on Discord, Telegram and HTTP\n" +
			"by letting a Gemini model call stockpile, production and operation tools.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
				cmd.Println(bm.String())
				return nil
			}
			return runDaemon(cmd, bm)
		},
	}
	root.Flags().BoolP("version", "V", false, "print version and build metadata")
	root.PersistentFlags().StringP("config", "c", "", "config file (default $QUARTERMASTER_CONFIG or quartermaster.json)")

	root.AddCommand(
		newAskCommand(),
		newToolsCommand(),
		newCallCommand(),
		newMigrateCommand(),
		newCheckCommand(),
		newSecretsCommand(),
	)
	return root
}
