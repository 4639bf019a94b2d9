package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"reelflow/internal/api"
	"reelflow/internal/daemonrun"
)

func newDeadLettersCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deadletters",
		Aliases: []string{"dlq"},
		Short:   "Inspect and replay parked webhook deliveries",
	}
	cmd.AddCommand(newDeadLettersListCommand(ctx))
	cmd.AddCommand(newDeadLettersReplayCommand(ctx))
	return cmd
}

func newDeadLettersListCommand(ctx *commandContext) *cobra.Command {
	var all bool
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead letters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				items, err := rt.Service.DeadLetters(cmd.Context(), all, limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.DeadLetterListResponse{Items: items})
				}
				out := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintln(out, "No dead letters")
					return nil
				}
				fmt.Fprintln(out, deadLetterTable(items, time.Now()))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include resolved entries")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum rows to show (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newDeadLettersReplayCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "replay <id>",
		Short: "Re-process one dead letter through webhook ingress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid dead letter id %q", args[0])
			}
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				resp, replayErr := rt.Service.Replay(cmd.Context(), id)
				if asJSON {
					if err := writeJSON(cmd, resp); err != nil {
						return err
					}
					return replayErr
				}
				if replayErr != nil {
					return replayErr
				}
				out := cmd.OutOrStdout()
				msg := fmt.Sprintf("Dead letter %d replayed: %s", id, resp.Outcome)
				if resp.WorkflowID != "" {
					msg += " (workflow " + resp.WorkflowID + ")"
				}
				if resp.Reason != "" {
					msg += ": " + resp.Reason
				}
				fmt.Fprintln(out, msg)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}
