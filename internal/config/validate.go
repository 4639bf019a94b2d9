package config

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var brandNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateFailsafe(); err != nil {
		return err
	}
	if err := c.validateLock(); err != nil {
		return err
	}
	if err := c.validateWebhooks(); err != nil {
		return err
	}
	if err := c.validateDrivers(); err != nil {
		return err
	}
	if err := c.validateBrands(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.MaxRetries < 0 {
		return errors.New("workflow.max_retries must be >= 0")
	}
	if c.Workflow.ConflictRetries <= 0 {
		return errors.New("workflow.conflict_retries must be positive")
	}
	return nil
}

func (c *Config) validateFailsafe() error {
	if err := ensurePositiveMap(map[string]int{
		"failsafe.scan_interval":              c.Failsafe.ScanInterval,
		"failsafe.batch_size":                 c.Failsafe.BatchSize,
		"failsafe.poll_timeout":               c.Failsafe.PollTimeout,
		"failsafe.purge_interval":             c.Failsafe.PurgeInterval,
		"failsafe.stage_timeouts.pending":     c.Failsafe.StageTimeouts.Pending,
		"failsafe.stage_timeouts.rendering":   c.Failsafe.StageTimeouts.Rendering,
		"failsafe.stage_timeouts.captioning":  c.Failsafe.StageTimeouts.Captioning,
		"failsafe.stage_timeouts.publishing":  c.Failsafe.StageTimeouts.Publishing,
		"notifications.request_timeout":       c.Notifications.RequestTimeout,
		"webhooks.receipt_ttl_hours":          c.Webhooks.ReceiptTTLHours,
		"webhooks.dead_letter_retention_days": c.Webhooks.DeadLetterRetentionDays,
	}); err != nil {
		return err
	}
	if c.Failsafe.PollTimeout >= c.Failsafe.ScanInterval {
		return errors.New("failsafe.poll_timeout must be less than failsafe.scan_interval")
	}
	return nil
}

func (c *Config) validateLock() error {
	switch c.Lock.Backend {
	case LockBackendSQLite, LockBackendFile:
	case LockBackendNATS:
		if c.Lock.NATSURL == "" {
			return errors.New("lock.nats_url must be set when lock.backend is \"nats\" (or set NATS_URL)")
		}
	default:
		return fmt.Errorf("lock.backend: unsupported value %q (want sqlite, nats, or file)", c.Lock.Backend)
	}
	if c.Lock.LeaseSeconds <= 0 {
		return errors.New("lock.lease_seconds must be positive")
	}
	if c.Lock.LeaseSeconds <= c.Failsafe.PollTimeout {
		return errors.New("lock.lease_seconds must be greater than failsafe.poll_timeout")
	}
	return nil
}

func (c *Config) validateWebhooks() error {
	if c.Webhooks.RateLimit < 0 {
		return errors.New("webhooks.rate_limit must be >= 0")
	}
	if c.Webhooks.RateLimit > 0 && c.Webhooks.RateBurst <= 0 {
		return errors.New("webhooks.rate_burst must be positive when webhooks.rate_limit is set")
	}
	if !c.Webhooks.RequireSignature {
		return nil
	}
	for vendor, secret := range map[string]string{
		"renderer":  c.Webhooks.Secrets.Renderer,
		"captioner": c.Webhooks.Secrets.Captioner,
		"publisher": c.Webhooks.Secrets.Publisher,
	} {
		if secret == "" {
			return fmt.Errorf("webhooks.secrets.%s must be set when webhooks.require_signature is true", vendor)
		}
	}
	return nil
}

func (c *Config) validateDrivers() error {
	for name, drv := range map[string]Driver{
		"renderer":  c.Drivers.Renderer,
		"captioner": c.Drivers.Captioner,
		"publisher": c.Drivers.Publisher,
	} {
		if drv.Timeout <= 0 {
			return fmt.Errorf("drivers.%s.timeout must be positive", name)
		}
		if c.Drivers.DryRun {
			continue
		}
		if drv.BaseURL == "" {
			defaultPath, err := DefaultConfigPath()
			if err != nil {
				defaultPath = "~/.config/reelflow/config.toml"
			}
			return fmt.Errorf("drivers.%s.base_url is required unless drivers.dry_run is set. Edit %s (create with 'reelflow config init')", name, defaultPath)
		}
		if !strings.HasPrefix(drv.BaseURL, "http://") && !strings.HasPrefix(drv.BaseURL, "https://") {
			return fmt.Errorf("drivers.%s.base_url must be an http(s) URL", name)
		}
	}
	return nil
}

func (c *Config) validateBrands() error {
	names := make([]string, 0, len(c.Brands))
	for name := range c.Brands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !brandNamePattern.MatchString(name) {
			return fmt.Errorf("brands.%s: brand names must be lowercase letters, digits, '-' or '_'", name)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
