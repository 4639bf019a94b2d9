package config

const (
	LockBackendSQLite = "sqlite"
	LockBackendNATS   = "nats"
	LockBackendFile   = "file"
)

const (
	defaultDataDir                 = "~/.local/share/reelflow"
	defaultLogDir                  = "~/.local/share/reelflow/logs"
	defaultAPIBind                 = "127.0.0.1:7690"
	defaultMaxRetries              = 3
	defaultConflictRetries         = 5
	defaultScanInterval            = 300
	defaultBatchSize               = 25
	defaultPollTimeout             = 45
	defaultPurgeInterval           = 3600
	defaultPendingMinutes          = 15
	defaultRenderingMinutes        = 60
	defaultCaptioningMinutes       = 30
	defaultPublishingMinutes       = 20
	defaultLeaseSeconds            = 1800
	defaultNATSBucket              = "reelflow_cron_leases"
	defaultReceiptTTLHours         = 24
	defaultDeadLetterRetentionDays = 30
	defaultRateLimit               = 20
	defaultRateBurst               = 40
	defaultMaxBodyBytes            = 1 << 20
	defaultDriverTimeout           = 30
	defaultNotifyRequestTimeout    = 10
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultMetricsNamespace        = "reelflow"
	defaultBrandName               = "default"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Workflow: Workflow{
			MaxRetries:      defaultMaxRetries,
			ConflictRetries: defaultConflictRetries,
		},
		Failsafe: Failsafe{
			Enabled:       true,
			ScanInterval:  defaultScanInterval,
			BatchSize:     defaultBatchSize,
			PollTimeout:   defaultPollTimeout,
			PurgeInterval: defaultPurgeInterval,
			StageTimeouts: StageTimeouts{
				Pending:    defaultPendingMinutes,
				Rendering:  defaultRenderingMinutes,
				Captioning: defaultCaptioningMinutes,
				Publishing: defaultPublishingMinutes,
			},
		},
		Lock: Lock{
			Backend:      LockBackendSQLite,
			LeaseSeconds: defaultLeaseSeconds,
			NATSBucket:   defaultNATSBucket,
		},
		Webhooks: Webhooks{
			ReceiptTTLHours:         defaultReceiptTTLHours,
			DeadLetterRetentionDays: defaultDeadLetterRetentionDays,
			RateLimit:               defaultRateLimit,
			RateBurst:               defaultRateBurst,
			MaxBodyBytes:            defaultMaxBodyBytes,
		},
		Drivers: Drivers{
			Renderer:  Driver{Timeout: defaultDriverTimeout},
			Captioner: Driver{Timeout: defaultDriverTimeout},
			Publisher: Driver{Timeout: defaultDriverTimeout},
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Completed:      true,
			Failures:       true,
			Recoveries:     true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Metrics: Metrics{
			Enabled:   true,
			Namespace: defaultMetricsNamespace,
		},
	}
}
