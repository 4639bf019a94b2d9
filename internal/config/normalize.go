package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizeLock()
	c.normalizeWebhooks()
	c.normalizeDrivers()
	c.normalizeBrands()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = ExpandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = ExpandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	overrideFromEnv(&c.API.Token, "REELFLOW_API_TOKEN")
	c.API.Token = strings.TrimSpace(c.API.Token)
	c.API.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.API.PublicBaseURL), "/")
}

func (c *Config) normalizeLock() {
	c.Lock.Backend = strings.ToLower(strings.TrimSpace(c.Lock.Backend))
	if c.Lock.Backend == "" {
		c.Lock.Backend = LockBackendSQLite
	}
	overrideFromEnv(&c.Lock.NATSURL, "NATS_URL")
	c.Lock.NATSURL = strings.TrimSpace(c.Lock.NATSURL)
	c.Lock.NATSBucket = strings.TrimSpace(c.Lock.NATSBucket)
	if c.Lock.NATSBucket == "" {
		c.Lock.NATSBucket = defaultNATSBucket
	}
	c.Lock.HolderID = strings.TrimSpace(c.Lock.HolderID)
	if c.Lock.HolderID == "" {
		host, err := os.Hostname()
		if err != nil || strings.TrimSpace(host) == "" {
			host = "reelflow"
		}
		c.Lock.HolderID = host + "-" + strconv.Itoa(os.Getpid())
	}
}

func (c *Config) normalizeWebhooks() {
	overrideFromEnv(&c.Webhooks.Secrets.Renderer, "RENDERER_WEBHOOK_SECRET")
	overrideFromEnv(&c.Webhooks.Secrets.Captioner, "CAPTIONER_WEBHOOK_SECRET")
	overrideFromEnv(&c.Webhooks.Secrets.Publisher, "PUBLISHER_WEBHOOK_SECRET")
	c.Webhooks.Secrets.Renderer = strings.TrimSpace(c.Webhooks.Secrets.Renderer)
	c.Webhooks.Secrets.Captioner = strings.TrimSpace(c.Webhooks.Secrets.Captioner)
	c.Webhooks.Secrets.Publisher = strings.TrimSpace(c.Webhooks.Secrets.Publisher)
	if c.Webhooks.MaxBodyBytes <= 0 {
		c.Webhooks.MaxBodyBytes = defaultMaxBodyBytes
	}
}

func (c *Config) normalizeDrivers() {
	overrideFromEnv(&c.Drivers.Renderer.APIKey, "RENDERER_API_KEY")
	overrideFromEnv(&c.Drivers.Captioner.APIKey, "CAPTIONER_API_KEY")
	overrideFromEnv(&c.Drivers.Publisher.APIKey, "PUBLISHER_API_KEY")
	for _, drv := range []*Driver{&c.Drivers.Renderer, &c.Drivers.Captioner, &c.Drivers.Publisher} {
		drv.BaseURL = strings.TrimRight(strings.TrimSpace(drv.BaseURL), "/")
		drv.APIKey = strings.TrimSpace(drv.APIKey)
		if drv.Timeout == 0 {
			drv.Timeout = defaultDriverTimeout
		}
	}
}

func (c *Config) normalizeBrands() {
	normalized := make(map[string]Brand, len(c.Brands))
	for name, brand := range c.Brands {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		if strings.TrimSpace(brand.DisplayName) == "" {
			brand.DisplayName = key
		}
		platforms := make([]string, 0, len(brand.Platforms))
		for _, p := range brand.Platforms {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				platforms = append(platforms, p)
			}
		}
		brand.Platforms = platforms
		normalized[key] = brand
	}
	if len(normalized) == 0 {
		normalized[defaultBrandName] = Brand{DisplayName: defaultBrandName}
	}
	c.Brands = normalized
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.Metrics.Namespace = strings.TrimSpace(c.Metrics.Namespace)
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = defaultMetricsNamespace
	}
}

// overrideFromEnv replaces target with the environment value when it is set
// and non-empty. Environment values win over file values for credentials.
func overrideFromEnv(target *string, key string) {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}
