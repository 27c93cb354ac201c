package config

const (
	defaultStagingDir = "~/.local/share/tonearm/staging"
	defaultLibraryDir = "~/music"
	defaultLogDir     = "~/.local/share/tonearm/logs"

	defaultWorkers          = 4
	defaultMaxAttempts      = 5
	defaultFormat           = "mp3"
	defaultQuality          = "320k"
	defaultResolveTimeout   = 60
	defaultFetchTimeout     = 600
	defaultTranscodeTimeout = 300

	defaultUpstreamPerMinute = 30

	defaultBaseDelaySeconds      = 2
	defaultMaxDelaySeconds       = 300
	defaultTranscodeDelaySeconds = 5

	defaultReconcileInterval  = 5
	defaultErrorRetryInterval = 5
	defaultHeartbeatInterval  = 15
	defaultHeartbeatTimeout   = 120

	defaultNotifyRequestTimeout = 10

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			LibraryDir: defaultLibraryDir,
			LogDir:     defaultLogDir,
		},
		Downloads: Downloads{
			Workers:           defaultWorkers,
			MaxAttempts:       defaultMaxAttempts,
			DefaultFormat:     defaultFormat,
			DefaultQuality:    defaultQuality,
			ResolveTimeout:    defaultResolveTimeout,
			FetchTimeout:      defaultFetchTimeout,
			TranscodeTimeout:  defaultTranscodeTimeout,
			TranscodeFallback: true,
		},
		RateLimit: RateLimit{
			UpstreamPerMinute: defaultUpstreamPerMinute,
		},
		Retry: Retry{
			BaseDelaySeconds:      defaultBaseDelaySeconds,
			MaxDelaySeconds:       defaultMaxDelaySeconds,
			TranscodeDelaySeconds: defaultTranscodeDelaySeconds,
		},
		Workflow: Workflow{
			ReconcileInterval:  defaultReconcileInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Tasks:          true,
			Batches:        true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
