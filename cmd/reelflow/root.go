package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	root := &cobra.Command{
		Use:   "reelflow",
		Short: "Content-production workflow engine",
		Long: "reelflow drives briefs through render, caption, and publish, advancing\n" +
			"each workflow from vendor webhooks and recovering stalled ones on a schedule.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if isOffline(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&ctx.configPath, "config", "c", "", "Configuration file path")
	flags.StringVar(&ctx.logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	root.AddGroup(
		&cobra.Group{ID: "run", Title: "Daemon:"},
		&cobra.Group{ID: "ops", Title: "Operations:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)
	for group, cmds := range map[string][]*cobra.Command{
		"run":   {newServeCommand(ctx), newStatusCommand(ctx)},
		"ops":   {newWorkflowCommand(ctx), newScanCommand(ctx), newPurgeCommand(ctx), newLocksCommand(ctx), newDeadLettersCommand(ctx)},
		"setup": {newConfigCommand(ctx), newTestNotifyCommand(ctx)},
	} {
		for _, c := range cmds {
			c.GroupID = group
			root.AddCommand(c)
		}
	}
	return root
}
