package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"reelflow/internal/api"
	"reelflow/internal/config"
	"reelflow/internal/daemonrun"
	"reelflow/internal/pipeline"
	"reelflow/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and workflow status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			status, probeErr := probeDaemon(cmd.Context(), cfg)
			if probeErr != nil {
				local, err := localStatus(cmd, ctx)
				if err != nil {
					return err
				}
				status = local
			}
			checks := preflight.RunAll(cmd.Context(), cfg)
			if asJSON {
				return writeJSON(cmd, struct {
					api.DaemonStatus
					Preflight []preflight.Result `json:"preflight"`
				}{status, checks})
			}
			printStatus(cmd, cfg, status, probeErr)
			printPreflight(cmd, checks)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

// probeDaemon asks a running daemon for its status over the operator API.
func probeDaemon(ctx context.Context, cfg *config.Config) (api.DaemonStatus, error) {
	var status api.DaemonStatus
	bind := strings.TrimSpace(cfg.API.Bind)
	if bind == "" {
		return status, fmt.Errorf("api server disabled")
	}
	if strings.HasPrefix(bind, ":") {
		bind = "127.0.0.1" + bind
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+bind+"/api/status", nil)
	if err != nil {
		return status, err
	}
	if token := strings.TrimSpace(cfg.API.Token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return status, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return status, fmt.Errorf("daemon status: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return status, fmt.Errorf("decode daemon status: %w", err)
	}
	return status, nil
}

// localStatus reads counts and driver health straight from the local
// store when no daemon answers.
func localStatus(cmd *cobra.Command, ctx *commandContext) (api.DaemonStatus, error) {
	var status api.DaemonStatus
	err := ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
		counts, err := rt.Service.Stats(cmd.Context(), "")
		if err != nil {
			return err
		}
		db, summary, err := rt.Service.StoreHealth(cmd.Context())
		if err != nil && db == nil {
			return err
		}
		status = api.DaemonStatus{
			Database:     db,
			Summary:      summary,
			DatabasePath: rt.Store.Path(),
			LockBackend:  rt.Locker.Backend(),
			Holder:       rt.Locker.Holder(),
			Counts:       counts,
			Drivers:      api.FromHealth(rt.Engine.Drivers().HealthCheck(cmd.Context())),
		}
		return nil
	})
	return status, err
}

func printStatus(cmd *cobra.Command, cfg *config.Config, status api.DaemonStatus, probeErr error) {
	w := newStatusWriter(cmd.OutOrStdout())

	w.section("Daemon")
	if status.Running {
		w.line("Daemon", statusOK, fmt.Sprintf("running (pid %d)", status.PID))
	} else {
		msg := "not running"
		if probeErr != nil && strings.TrimSpace(cfg.API.Bind) != "" {
			msg += " (" + probeErr.Error() + ")"
		}
		w.line("Daemon", statusWarn, msg)
	}
	writeDatabaseLine(w, status)
	w.line("Cron lock", statusInfo, status.LockBackend+" as "+status.Holder)
	if cfg.Drivers.DryRun {
		w.line("Drivers", statusWarn, "dry run")
	}
	for _, d := range status.Drivers {
		kind := statusOK
		if !d.Ready {
			kind = statusError
		}
		w.line(statusLabel(d.Name), kind, d.Detail)
	}
	for _, run := range []*api.CronRun{status.LastScan, status.LastPurge} {
		if run == nil {
			continue
		}
		kind := statusOK
		if run.Error != "" {
			kind = statusError
		} else if run.Outcome != "ran" {
			kind = statusInfo
		}
		w.line("Last "+run.Job, kind, describeCronRun(*run))
	}

	w.blank()
	w.section("Workflows")
	if sum := status.Summary; sum != nil {
		w.line("Total", statusInfo,
			fmt.Sprintf("%d (%d in flight, %d completed, %d failed)", sum.Total, sum.InFlight, sum.Completed, sum.Failed))
	}
	for _, name := range orderedStatuses(status.Counts) {
		count := status.Counts[name]
		kind := statusInfo
		switch name {
		case string(pipeline.StatusFailed):
			if count > 0 {
				kind = statusError
			}
		case string(pipeline.StatusCompleted):
			kind = statusOK
		}
		w.line(statusLabel(name), kind, fmt.Sprintf("%d", count))
	}
}

// orderedStatuses lists known statuses in pipeline order, then any extras
// alphabetically.
func orderedStatuses(counts map[string]int) []string {
	seen := make(map[string]bool, len(counts))
	ordered := make([]string, 0, len(counts))
	for _, s := range pipeline.AllStatuses() {
		key := string(s)
		if _, ok := counts[key]; ok {
			ordered = append(ordered, key)
			seen[key] = true
		}
	}
	var extra []string
	for key := range counts {
		if !seen[key] {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	return append(ordered, extra...)
}

func printPreflight(cmd *cobra.Command, checks []preflight.Result) {
	if len(checks) == 0 {
		return
	}
	w := newStatusWriter(cmd.OutOrStdout())
	w.blank()
	w.section("Preflight")
	for _, check := range checks {
		kind := statusOK
		if !check.Passed {
			kind = statusError
		}
		w.line(check.Name, kind, check.Detail)
	}
}

func writeDatabaseLine(w *statusWriter, status api.DaemonStatus) {
	db := status.Database
	switch {
	case db == nil:
		w.line("Database", statusInfo, status.DatabasePath)
	case db.Error != "":
		w.line("Database", statusError, db.Path+" ("+db.Error+")")
	case len(db.MissingColumns) > 0:
		w.line("Database", statusError, db.Path+" (missing columns: "+strings.Join(db.MissingColumns, ", ")+")")
	case !db.IntegrityOK:
		w.line("Database", statusWarn, db.Path+" (integrity check failed)")
	default:
		w.line("Database", statusOK, fmt.Sprintf("%s (schema v%d)", db.Path, db.SchemaVersion))
	}
}
