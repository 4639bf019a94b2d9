package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// API contains the HTTP surface shared by the operator API and webhook ingress.
type API struct {
	Bind          string `toml:"bind"`
	Token         string `toml:"token"`
	PublicBaseURL string `toml:"public_base_url"`
}

// Workflow contains state machine policy.
type Workflow struct {
	MaxRetries      int `toml:"max_retries"`
	ConflictRetries int `toml:"conflict_retries"`
}

// StageTimeouts holds the per-status staleness thresholds in minutes.
type StageTimeouts struct {
	Pending    int `toml:"pending"`
	Rendering  int `toml:"rendering"`
	Captioning int `toml:"captioning"`
	Publishing int `toml:"publishing"`
}

// Failsafe contains the stuck-workflow scanner settings.
type Failsafe struct {
	Enabled       bool          `toml:"enabled"`
	ScanInterval  int           `toml:"scan_interval"`
	BatchSize     int           `toml:"batch_size"`
	PollTimeout   int           `toml:"poll_timeout"`
	PurgeInterval int           `toml:"purge_interval"`
	StageTimeouts StageTimeouts `toml:"stage_timeouts"`
}

// Lock contains the cron lease backend settings.
type Lock struct {
	Backend      string `toml:"backend"`
	LeaseSeconds int    `toml:"lease_seconds"`
	HolderID     string `toml:"holder_id"`
	NATSURL      string `toml:"nats_url"`
	NATSBucket   string `toml:"nats_bucket"`
}

// WebhookSecrets holds the per-vendor signing secrets.
type WebhookSecrets struct {
	Renderer  string `toml:"renderer"`
	Captioner string `toml:"captioner"`
	Publisher string `toml:"publisher"`
}

// Webhooks contains ingress settings.
type Webhooks struct {
	RequireSignature        bool           `toml:"require_signature"`
	ReceiptTTLHours         int            `toml:"receipt_ttl_hours"`
	DeadLetterRetentionDays int            `toml:"dead_letter_retention_days"`
	RateLimit               float64        `toml:"rate_limit"`
	RateBurst               int            `toml:"rate_burst"`
	MaxBodyBytes            int64          `toml:"max_body_bytes"`
	Secrets                 WebhookSecrets `toml:"secrets"`
}

// Driver contains connection settings for one vendor service.
type Driver struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	Timeout int    `toml:"timeout"`
}

// Drivers groups the three stage vendors.
type Drivers struct {
	DryRun    bool   `toml:"dry_run"`
	Renderer  Driver `toml:"renderer"`
	Captioner Driver `toml:"captioner"`
	Publisher Driver `toml:"publisher"`
}

// Brand describes one content partition.
type Brand struct {
	DisplayName     string   `toml:"display_name"`
	Platforms       []string `toml:"platforms"`
	AvatarID        string   `toml:"avatar_id"`
	VoiceID         string   `toml:"voice_id"`
	CaptionTemplate string   `toml:"caption_template"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Completed      bool   `toml:"completed"`
	Failures       bool   `toml:"failures"`
	Recoveries     bool   `toml:"recoveries"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Metrics controls the Prometheus endpoint.
type Metrics struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
}

// Config encapsulates all configuration values for reelflow.
//
// Configuration sections by subsystem:
//   - Paths: data and log directories
//   - API: bind address, operator token, public callback base URL
//   - Workflow: retry cap and optimistic-concurrency retries
//   - Failsafe: stuck-workflow scanner cadence and thresholds
//   - Lock: cron lease backend
//   - Webhooks: signatures, idempotency receipts, dead letters, rate limits
//   - Drivers: renderer, captioner, and publisher endpoints
//   - Brands: content partitions
//   - Notifications: ntfy push notification settings
//   - Logging, Metrics: observability
type Config struct {
	Paths         Paths            `toml:"paths"`
	API           API              `toml:"api"`
	Workflow      Workflow         `toml:"workflow"`
	Failsafe      Failsafe         `toml:"failsafe"`
	Lock          Lock             `toml:"lock"`
	Webhooks      Webhooks         `toml:"webhooks"`
	Drivers       Drivers          `toml:"drivers"`
	Brands        map[string]Brand `toml:"brands"`
	Notifications Notifications    `toml:"notifications"`
	Logging       Logging          `toml:"logging"`
	Metrics       Metrics          `toml:"metrics"`
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.Lock.Backend == LockBackendFile {
		if err := os.MkdirAll(c.LockDir(), 0o755); err != nil {
			return fmt.Errorf("create lock directory %q: %w", c.LockDir(), err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite file backing the workflow record store.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "reelflow.db")
}

// LockDir returns the directory holding file-backed cron leases.
func (c *Config) LockDir() string {
	return filepath.Join(c.Paths.DataDir, "locks")
}

// BrandNames returns configured brands in sorted order.
func (c *Config) BrandNames() []string {
	names := make([]string, 0, len(c.Brands))
	for name := range c.Brands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupBrand returns the named brand configuration.
func (c *Config) LookupBrand(name string) (Brand, bool) {
	brand, ok := c.Brands[strings.ToLower(strings.TrimSpace(name))]
	return brand, ok
}

// Threshold returns the staleness threshold for a workflow status name. Unknown
// or terminal statuses report zero.
func (t StageTimeouts) Threshold(status string) time.Duration {
	var minutes int
	switch status {
	case "pending":
		minutes = t.Pending
	case "rendering":
		minutes = t.Rendering
	case "captioning":
		minutes = t.Captioning
	case "publishing":
		minutes = t.Publishing
	}
	return time.Duration(minutes) * time.Minute
}

// ScanIntervalDuration returns the failsafe tick interval.
func (f Failsafe) ScanIntervalDuration() time.Duration {
	return time.Duration(f.ScanInterval) * time.Second
}

// PollTimeoutDuration bounds the work done for a single workflow during a scan.
func (f Failsafe) PollTimeoutDuration() time.Duration {
	return time.Duration(f.PollTimeout) * time.Second
}

// PurgeIntervalDuration returns the receipt and dead-letter purge cadence.
func (f Failsafe) PurgeIntervalDuration() time.Duration {
	return time.Duration(f.PurgeInterval) * time.Second
}

// LeaseDuration returns the cron lease length.
func (l Lock) LeaseDuration() time.Duration {
	return time.Duration(l.LeaseSeconds) * time.Second
}

// ReceiptTTL returns how long webhook idempotency receipts are kept.
func (w Webhooks) ReceiptTTL() time.Duration {
	return time.Duration(w.ReceiptTTLHours) * time.Hour
}

// DeadLetterRetention returns how long resolved dead letters are kept.
func (w Webhooks) DeadLetterRetention() time.Duration {
	return time.Duration(w.DeadLetterRetentionDays) * 24 * time.Hour
}

// Secret returns the signing secret for a vendor name.
func (w Webhooks) Secret(vendor string) string {
	switch vendor {
	case "renderer":
		return w.Secrets.Renderer
	case "captioner":
		return w.Secrets.Captioner
	case "publisher":
		return w.Secrets.Publisher
	default:
		return ""
	}
}

// TimeoutDuration returns the per-request deadline for a vendor driver.
func (d Driver) TimeoutDuration() time.Duration {
	return time.Duration(d.Timeout) * time.Second
}
