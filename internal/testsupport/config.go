package testsupport

import (
	"path/filepath"
	"testing"

	"reelflow/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Drivers run in dry-run mode and a single "carz" brand is configured.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.API.PublicBaseURL = "https://reelflow.test"
	cfgVal.Drivers.DryRun = true
	cfgVal.Lock.HolderID = "test-holder"
	cfgVal.Brands = map[string]config.Brand{
		"carz": {
			DisplayName: "Carz",
			Platforms:   []string{"youtube", "tiktok"},
			AvatarID:    "avatar-1",
			VoiceID:     "voice-1",
		},
	}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithBrand adds a brand to the test config.
func WithBrand(name string, brand config.Brand) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Brands[name] = brand
	}
}

// WithMaxRetries overrides the per-stage retry cap.
func WithMaxRetries(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.MaxRetries = n
	}
}

// WithWebhookSecrets sets the same signing secret for every vendor and
// requires signatures.
func WithWebhookSecrets(secret string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Webhooks.RequireSignature = true
		b.cfg.Webhooks.Secrets = config.WebhookSecrets{
			Renderer:  secret,
			Captioner: secret,
			Publisher: secret,
		}
	}
}

// WithLockBackend selects the cron lock backend.
func WithLockBackend(backend string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Lock.Backend = backend
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
