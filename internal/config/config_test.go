package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"reelflow/internal/config"
)

func TestLoadWithoutFileRequiresDriverEndpoints(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(config.EnvConfigPath, "")
	_, _, exists, err := config.Load("")
	if err == nil {
		t.Fatal("expected validation error without driver endpoints")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	if !strings.Contains(err.Error(), "base_url") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadSampleConfigExpandsPathsAndAppliesDefaults(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	path := filepath.Join(tempHome, "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("unexpected resolution: %q exists=%v", resolved, exists)
	}
	wantData := filepath.Join(tempHome, ".local", "share", "reelflow")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "reelflow.db") {
		t.Fatalf("unexpected database path %q", cfg.DatabasePath())
	}
	if cfg.API.Bind != "127.0.0.1:7690" {
		t.Fatalf("unexpected api bind: %q", cfg.API.Bind)
	}
	if cfg.Workflow.MaxRetries != config.Default().Workflow.MaxRetries {
		t.Fatalf("unexpected max retries: %d", cfg.Workflow.MaxRetries)
	}
	if got := cfg.Failsafe.StageTimeouts.Threshold("rendering"); got != time.Hour {
		t.Fatalf("unexpected rendering threshold: %s", got)
	}
	if got := cfg.Failsafe.StageTimeouts.Threshold("completed"); got != 0 {
		t.Fatalf("expected no threshold for terminal status, got %s", got)
	}
	brand, ok := cfg.LookupBrand("CARZ")
	if !ok {
		t.Fatal("expected carz brand")
	}
	if len(brand.Platforms) != 3 || brand.Platforms[0] != "youtube" {
		t.Fatalf("unexpected platforms: %v", brand.Platforms)
	}
	if cfg.Lock.HolderID == "" {
		t.Fatal("expected default holder id")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "reelflow.toml")

	type payload struct {
		Paths struct {
			DataDir string `toml:"data_dir"`
		} `toml:"paths"`
		Workflow struct {
			MaxRetries int `toml:"max_retries"`
		} `toml:"workflow"`
		Drivers struct {
			DryRun bool `toml:"dry_run"`
		} `toml:"drivers"`
		Brands map[string]struct {
			Platforms []string `toml:"platforms"`
		} `toml:"brands"`
	}
	custom := payload{}
	custom.Paths.DataDir = filepath.Join(tempDir, "data")
	custom.Workflow.MaxRetries = 5
	custom.Drivers.DryRun = true
	custom.Brands = map[string]struct {
		Platforms []string `toml:"platforms"`
	}{
		"OwnerFi": {Platforms: []string{" YouTube ", ""}},
	}
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Workflow.MaxRetries != 5 {
		t.Fatalf("expected max retries 5, got %d", cfg.Workflow.MaxRetries)
	}
	if cfg.Paths.DataDir != filepath.Join(tempDir, "data") {
		t.Fatalf("unexpected data dir %q", cfg.Paths.DataDir)
	}
	names := cfg.BrandNames()
	if len(names) != 1 || names[0] != "ownerfi" {
		t.Fatalf("unexpected brand names %v", names)
	}
	brand, _ := cfg.LookupBrand("ownerfi")
	if len(brand.Platforms) != 1 || brand.Platforms[0] != "youtube" {
		t.Fatalf("expected normalized platforms, got %v", brand.Platforms)
	}
	if brand.DisplayName != "ownerfi" {
		t.Fatalf("expected display name fallback, got %q", brand.DisplayName)
	}
}

func TestEnvVarOverridesConfigFileForCredentials(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "reelflow.toml")
	content := `
[drivers]
dry_run = true
[drivers.renderer]
api_key = "file-renderer"
[webhooks.secrets]
captioner = "file-secret"
[api]
token = "file-token"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("RENDERER_API_KEY", "env-renderer")
	t.Setenv("CAPTIONER_WEBHOOK_SECRET", "env-secret")
	t.Setenv("REELFLOW_API_TOKEN", "env-token")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Drivers.Renderer.APIKey != "env-renderer" {
		t.Fatalf("expected env renderer key, got %q", cfg.Drivers.Renderer.APIKey)
	}
	if cfg.Webhooks.Secret("captioner") != "env-secret" {
		t.Fatalf("expected env captioner secret, got %q", cfg.Webhooks.Secret("captioner"))
	}
	if cfg.API.Token != "env-token" {
		t.Fatalf("expected env token, got %q", cfg.API.Token)
	}
	if _, ok := cfg.LookupBrand("default"); !ok {
		t.Fatal("expected default brand when none configured")
	}
}

func TestValidateRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "negative retries",
			mutate: func(c *config.Config) { c.Workflow.MaxRetries = -1 },
			want:   "workflow.max_retries",
		},
		{
			name:   "unknown lock backend",
			mutate: func(c *config.Config) { c.Lock.Backend = "redis" },
			want:   "lock.backend",
		},
		{
			name:   "nats without url",
			mutate: func(c *config.Config) { c.Lock.Backend = config.LockBackendNATS },
			want:   "lock.nats_url",
		},
		{
			name:   "lease shorter than poll timeout",
			mutate: func(c *config.Config) { c.Lock.LeaseSeconds = 10 },
			want:   "lock.lease_seconds",
		},
		{
			name:   "zero stage timeout",
			mutate: func(c *config.Config) { c.Failsafe.StageTimeouts.Captioning = 0 },
			want:   "failsafe.stage_timeouts.captioning",
		},
		{
			name: "signature required without secret",
			mutate: func(c *config.Config) {
				c.Webhooks.RequireSignature = true
				c.Webhooks.Secrets = config.WebhookSecrets{Renderer: "a", Captioner: "b"}
			},
			want: "webhooks.secrets.publisher",
		},
		{
			name:   "bad brand name",
			mutate: func(c *config.Config) { c.Brands = map[string]config.Brand{"Bad Brand": {}} },
			want:   "brands.Bad Brand",
		},
		{
			name:   "bad log format",
			mutate: func(c *config.Config) { c.Logging.Format = "xml" },
			want:   "logging.format",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Drivers.DryRun = true
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q in %v", tt.want, err)
			}
		})
	}
}

func TestValidateAcceptsDefaultsInDryRun(t *testing.T) {
	cfg := config.Default()
	cfg.Drivers.DryRun = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate in dry run: %v", err)
	}
}

func TestLoadHonorsEnvironmentPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := filepath.Join(home, "elsewhere", "reelflow.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	t.Setenv(config.EnvConfigPath, path)

	_, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected %s to be used, got %q exists=%v", path, resolved, exists)
	}
}

func TestLoadReportsParsePosition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.toml")
	if err := os.WriteFile(path, []byte("[paths]\ndata_dir = \n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, _, _, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), path+":2:") {
		t.Fatalf("expected positioned parse error, got %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	tests := map[string]string{
		"":             "",
		"~":            home,
		"~/data/../db": filepath.Join(home, "db"),
		"/var/lib/rf/": "/var/lib/rf",
	}
	for in, want := range tests {
		got, err := config.ExpandPath(in)
		if err != nil {
			t.Fatalf("ExpandPath(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ExpandPath(%q) = %q, want %q", in, got, want)
		}
	}
}
