package webhooks_test

import (
	"errors"
	"testing"

	"reelflow/internal/pipeline"
	"reelflow/internal/services"
	"reelflow/internal/webhooks"
)

func TestParseAdapters(t *testing.T) {
	tests := []struct {
		name   string
		vendor string
		body   string
		want   webhooks.Delivery
	}{
		{
			name:   "renderer success",
			vendor: "renderer",
			body:   `{"event_type":"avatar_video.success","event_data":{"video_id":"vid-1","url":"https://cdn/v.mp4","callback_id":"wf-1"}}`,
			want: webhooks.Delivery{WorkflowID: "wf-1", Stage: pipeline.StageRender, ExternalID: "vid-1",
				Result: webhooks.ResultDone, ArtifactURL: "https://cdn/v.mp4", EventKey: "avatar_video.success"},
		},
		{
			name:   "renderer failure",
			vendor: "renderer",
			body:   `{"event_type":"avatar_video.fail","event_data":{"video_id":"vid-1","msg":"avatar missing","callback_id":"wf-1"}}`,
			want: webhooks.Delivery{WorkflowID: "wf-1", Stage: pipeline.StageRender, ExternalID: "vid-1",
				Result: webhooks.ResultFailed, Reason: "avatar missing", EventKey: "avatar_video.fail"},
		},
		{
			name:   "captioner falls back through url fields",
			vendor: "captioner",
			body:   `{"id":"proj-1","status":"completed","media_url":"https://cdn/c.mp4"}`,
			want: webhooks.Delivery{Stage: pipeline.StageCaption, ExternalID: "proj-1",
				Result: webhooks.ResultDone, ArtifactURL: "https://cdn/c.mp4", EventKey: "completed"},
		},
		{
			name:   "captioner failure without reason",
			vendor: "captioner",
			body:   `{"projectId":"proj-1","status":"failed"}`,
			want: webhooks.Delivery{Stage: pipeline.StageCaption, ExternalID: "proj-1",
				Result: webhooks.ResultFailed, Reason: "captioner reported failure", EventKey: "failed"},
		},
		{
			name:   "publisher published",
			vendor: "publisher",
			body:   `{"event":"post.published","workflow_id":"wf-1","post":{"id":"post-1","url":"https://social/p"}}`,
			want: webhooks.Delivery{WorkflowID: "wf-1", Stage: pipeline.StagePublish, ExternalID: "post-1",
				Result: webhooks.ResultDone, ArtifactURL: "https://social/p", EventKey: "post.published"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := webhooks.Parse(tt.vendor, []byte(tt.body))
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name   string
		vendor string
		body   string
	}{
		{"unknown vendor", "heygen", `{}`},
		{"not json", "renderer", `nope`},
		{"in-progress status", "captioner", `{"projectId":"p","status":"processing"}`},
		{"unknown publisher event", "publisher", `{"event":"post.scheduled","post":{"id":"p"}}`},
		{"missing job id", "publisher", `{"event":"post.published","post":{"url":"u"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := webhooks.Parse(tt.vendor, []byte(tt.body)); !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestDeliveryEvent(t *testing.T) {
	done := webhooks.Delivery{Stage: pipeline.StageCaption, ExternalID: "p", Result: webhooks.ResultDone, ArtifactURL: "u"}
	if ev, ok := done.Event().(pipeline.StageCompleted); !ok || ev.ArtifactURL != "u" {
		t.Fatalf("unexpected event %#v", done.Event())
	}
	failed := webhooks.Delivery{Stage: pipeline.StageCaption, ExternalID: "p", Result: webhooks.ResultFailed, Reason: "r"}
	if ev, ok := failed.Event().(pipeline.StageFailed); !ok || ev.Reason != "r" {
		t.Fatalf("unexpected event %#v", failed.Event())
	}
}
