package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"reelflow/internal/api"
	"reelflow/internal/daemon"
	"reelflow/internal/daemonrun"
	"reelflow/internal/store"
)

// maintenanceDaemon builds an unstarted daemon around the runtime so manual
// runs share the lease-guarded job code with the scheduled loops.
func maintenanceDaemon(rt *daemonrun.Runtime) (*daemon.Daemon, error) {
	return daemon.New(rt.Config, daemon.Components{
		Store:   rt.Store,
		Engine:  rt.Engine,
		Scanner: rt.Scanner,
		Ingress: rt.Ingress,
		Locker:  rt.Locker,
		Metrics: rt.Metrics,
	}, nil)
}

func newScanCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one failsafe scan now under the cluster lease",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				d, err := maintenanceDaemon(rt)
				if err != nil {
					return err
				}
				run, err := d.RunScan(cmd.Context())
				return printCronRun(cmd, run, err, asJSON)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newPurgeCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove expired webhook receipts and old resolved dead letters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				d, err := maintenanceDaemon(rt)
				if err != nil {
					return err
				}
				run, err := d.Purge(cmd.Context())
				return printCronRun(cmd, run, err, asJSON)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func printCronRun(cmd *cobra.Command, run api.CronRun, runErr error, asJSON bool) error {
	if asJSON {
		if err := writeJSON(cmd, run); err != nil {
			return err
		}
		return runErr
	}
	fmt.Fprintln(cmd.OutOrStdout(), describeCronRun(run))
	return runErr
}

func newLocksCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locks",
		Short: "Inspect cron leases and run lease-guarded jobs",
	}
	cmd.AddCommand(newLocksRunCommand(ctx))
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show who holds each maintenance lease",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				out := cmd.OutOrStdout()
				backend := rt.Locker.Backend()
				fmt.Fprintf(out, "Backend: %s\n", backend)
				fmt.Fprintf(out, "This holder: %s\n", rt.Locker.Holder())
				if backend != "sqlite" {
					fmt.Fprintln(out, "Lease rows are only inspectable for the sqlite backend")
					return nil
				}
				now := time.Now()
				rows := make([][]string, 0, 2)
				for _, job := range []string{daemon.JobFailsafeScan, daemon.JobPurge} {
					lease, err := rt.Store.GetLease(cmd.Context(), job)
					if errors.Is(err, store.ErrNotFound) {
						rows = append(rows, []string{job, "-", "-", "-", "free"})
						continue
					}
					if err != nil {
						return err
					}
					state := "held"
					if !lease.ExpiresAt.After(now) {
						state = "expired"
					}
					rows = append(rows, []string{
						job,
						lease.HolderID,
						lease.AcquiredAt.Local().Format("2006-01-02 15:04:05"),
						lease.ExpiresAt.Local().Format("2006-01-02 15:04:05"),
						state,
					})
				}
				fmt.Fprintln(out, renderTable([]column{
					textCol("Job"), textCol("Holder"), textCol("Acquired"), textCol("Expires"), textCol("State"),
				}, rows))
				return nil
			})
		},
	})
	return cmd
}

func newLocksRunCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:       "run <job>",
		Short:     "Run a maintenance job under its cluster lease",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{daemon.JobFailsafeScan, daemon.JobPurge},
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				d, err := maintenanceDaemon(rt)
				if err != nil {
					return err
				}
				var run api.CronRun
				switch args[0] {
				case daemon.JobFailsafeScan:
					run, err = d.RunScan(cmd.Context())
				case daemon.JobPurge:
					run, err = d.Purge(cmd.Context())
				default:
					return fmt.Errorf("unknown job %q (want %s or %s)", args[0], daemon.JobFailsafeScan, daemon.JobPurge)
				}
				return printCronRun(cmd, run, err, asJSON)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}
