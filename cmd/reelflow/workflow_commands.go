package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"reelflow/internal/api"
	"reelflow/internal/daemonrun"
	"reelflow/internal/pipeline"
)

func newWorkflowCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workflow",
		Aliases: []string{"wf"},
		Short:   "Inspect and drive workflows",
	}
	cmd.AddCommand(newWorkflowListCommand(ctx))
	cmd.AddCommand(newWorkflowShowCommand(ctx))
	cmd.AddCommand(newWorkflowSubmitCommand(ctx))
	cmd.AddCommand(newWorkflowResubmitCommand(ctx))
	cmd.AddCommand(newWorkflowHealCommand(ctx))
	return cmd
}

func newWorkflowListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var brand string
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				items, err := rt.Service.List(cmd.Context(), api.ListOptions{Statuses: statuses, Brand: brand, Limit: limit})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.WorkflowListResponse{Items: items})
				}
				out := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintln(out, "No workflows found")
					return nil
				}
				fmt.Fprintln(out, workflowTable(items, time.Now()))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().StringVarP(&brand, "brand", "b", "", "Filter by brand")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum rows to show (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newWorkflowShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one workflow in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				item, err := rt.Service.Describe(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.WorkflowResponse{Item: item})
				}
				printWorkflow(cmd, item)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func printWorkflow(cmd *cobra.Command, item api.Workflow) {
	out := cmd.OutOrStdout()
	line := func(label, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(out, "%-20s %s\n", label+":", value)
	}
	line("ID", item.ID)
	line("Brand", item.Brand)
	line("Status", statusLabel(item.Status))
	if item.Stage != "" {
		state := "in flight"
		if item.AwaitingSubmission {
			state = "awaiting submission"
		}
		line("Stage", fmt.Sprintf("%s (%s)", statusLabel(item.Stage), state))
	}
	line("Title", item.Title)
	line("Retries", fmt.Sprintf("%d", item.RetryCount))
	line("Version", fmt.Sprintf("%d", item.Version))
	line("Error", item.Error)
	line("Resubmitted from", item.ResubmittedFrom)
	line("Created", item.CreatedAt)
	line("Updated", item.UpdatedAt)
	line("Completed", item.CompletedAt)
	for _, stage := range pipeline.Stages() {
		key := string(stage)
		id, url := item.ExternalIDs[key], item.ArtifactURLs[key]
		if id == "" && url == "" {
			continue
		}
		value := id
		if url != "" {
			value = strings.TrimSpace(value + " " + url)
		}
		line(statusLabel(key)+" job", value)
	}
	if item.Brief != nil && len(item.Brief.Platforms) > 0 {
		line("Platforms", strings.Join(item.Brief.Platforms, ", "))
	}
}

func newWorkflowSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		brand     string
		briefFile string
		brief     pipeline.Brief
		metadata  map[string]string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Start a new workflow for a brand",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.LaunchRequest{Brand: brand}
			if briefFile != "" {
				loaded, err := loadBrief(briefFile)
				if err != nil {
					return err
				}
				req.Brief = loaded
			}
			mergeBrief(&req.Brief, brief, metadata)
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				item, err := rt.Service.Launch(cmd.Context(), req)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.WorkflowResponse{Item: item})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created workflow %s (%s)\n", item.ID, statusLabel(item.Status))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&brand, "brand", "b", "", "Brand to produce for")
	cmd.Flags().StringVarP(&briefFile, "brief-file", "f", "", "Read the brief from a JSON or TOML file")
	cmd.Flags().StringVarP(&brief.Title, "title", "t", "", "Video title")
	cmd.Flags().StringVar(&brief.Script, "script", "", "Narration script")
	cmd.Flags().StringVar(&brief.AvatarID, "avatar", "", "Avatar id (defaults to the brand's)")
	cmd.Flags().StringVar(&brief.VoiceID, "voice", "", "Voice id (defaults to the brand's)")
	cmd.Flags().StringVar(&brief.CaptionTemplate, "caption-template", "", "Caption template (defaults to the brand's)")
	cmd.Flags().StringSliceVar(&brief.Platforms, "platform", nil, "Publish platform (repeatable, defaults to the brand's)")
	cmd.Flags().StringToStringVar(&metadata, "meta", nil, "Extra key=value metadata passed to vendors")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	_ = cmd.MarkFlagRequired("brand")
	return cmd
}

// loadBrief reads a brief from disk. The format follows the file extension.
func loadBrief(path string) (pipeline.Brief, error) {
	var brief pipeline.Brief
	data, err := os.ReadFile(path)
	if err != nil {
		return brief, fmt.Errorf("read brief: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &brief); err != nil {
			return brief, fmt.Errorf("parse brief %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &brief); err != nil {
			return brief, fmt.Errorf("parse brief %s: %w", path, err)
		}
	}
	return brief, nil
}

// mergeBrief lays flag values over a file-loaded brief.
func mergeBrief(dst *pipeline.Brief, flags pipeline.Brief, metadata map[string]string) {
	if flags.Title != "" {
		dst.Title = flags.Title
	}
	if flags.Script != "" {
		dst.Script = flags.Script
	}
	if flags.AvatarID != "" {
		dst.AvatarID = flags.AvatarID
	}
	if flags.VoiceID != "" {
		dst.VoiceID = flags.VoiceID
	}
	if flags.CaptionTemplate != "" {
		dst.CaptionTemplate = flags.CaptionTemplate
	}
	if len(flags.Platforms) > 0 {
		dst.Platforms = flags.Platforms
	}
	if len(metadata) > 0 {
		if dst.Metadata == nil {
			dst.Metadata = map[string]string{}
		}
		keys := make([]string, 0, len(metadata))
		for k := range metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			dst.Metadata[k] = metadata[k]
		}
	}
}

func newWorkflowResubmitCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "resubmit <id>",
		Short: "Start a fresh workflow from a failed one's brief",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				item, err := rt.Service.Resubmit(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.WorkflowResponse{Item: item})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created workflow %s from %s (%s)\n", item.ID, args[0], statusLabel(item.Status))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newWorkflowHealCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "heal <id>",
		Short: "Run failsafe recovery on one workflow now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				item, report, err := rt.Service.Heal(cmd.Context(), args[0])
				if err != nil && report == nil {
					return err
				}
				if asJSON {
					if jsonErr := writeJSON(cmd, struct {
						Item   api.Workflow        `json:"item"`
						Report *api.FailsafeReport `json:"report"`
					}{item, report}); jsonErr != nil {
						return jsonErr
					}
					return err
				}
				out := cmd.OutOrStdout()
				switch {
				case report.Checked == 0:
					fmt.Fprintf(out, "Workflow %s is %s; nothing to recover\n", item.ID, statusLabel(item.Status))
				case report.Pending > 0:
					fmt.Fprintf(out, "Workflow %s is still running at the vendor (%s)\n", item.ID, statusLabel(item.Status))
				default:
					fmt.Fprintf(out, "Workflow %s is now %s\n", item.ID, statusLabel(item.Status))
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}
