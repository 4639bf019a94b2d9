package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"reelflow/internal/notifications"
)

// samplePayloads are sent by `test-notify --event` so operators can preview
// how each alert renders on their ntfy topic.
var samplePayloads = map[notifications.Event]notifications.Payload{
	notifications.EventTest: nil,
	notifications.EventWorkflowCompleted: {
		"brand": "sample", "title": "Sample workflow", "url": "https://example.invalid/final.mp4",
	},
	notifications.EventWorkflowFailed: {
		"brand": "sample", "title": "Sample workflow", "stage": "render", "error": "sample failure",
	},
	notifications.EventFailsafeRecovered: {"healed": 1, "advanced": 1, "failed": 0},
}

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	event := string(notifications.EventTest)

	cmd := &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification",
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload, ok := samplePayloads[notifications.Event(event)]
			if !ok {
				return fmt.Errorf("unknown event %q (choose from %s)", event, strings.Join(sampleEventNames(), ", "))
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" {
				fmt.Fprintln(out, "Notifications are disabled (notifications.ntfy_topic is not set)")
				return nil
			}
			svc := notifications.NewService(cfg)
			if err := svc.Publish(cmd.Context(), notifications.Event(event), payload); err != nil {
				return fmt.Errorf("send %s notification: %w", event, err)
			}
			fmt.Fprintf(out, "Sent %s notification (muted events are dropped silently)\n", event)
			return nil
		},
	}
	cmd.Flags().StringVarP(&event, "event", "e", event, "Event to preview: "+strings.Join(sampleEventNames(), ", "))
	return cmd
}

func sampleEventNames() []string {
	names := make([]string, 0, len(samplePayloads))
	for ev := range samplePayloads {
		names = append(names, string(ev))
	}
	slices.Sort(names)
	return names
}
