package config

const (
	defaultConfigPath               = "~/.config/workqueue/config.toml"
	defaultDataDir                  = "~/.local/share/workqueue"
	defaultLogDir                   = "~/.local/share/workqueue/logs"
	defaultStorageRoot              = "~/.local/share/workqueue/storage"
	defaultLogFormat                = "console"
	defaultLogLevel                 = "info"
	defaultThreadCount              = 8
	defaultPriorityThreadCount      = 2
	defaultMemoryLimitedThreadCount = 2
	defaultMinFreeMemoryMB          = 256
	defaultQueryDelayMS             = 10000
	defaultInactiveMinSeconds       = 1200
	defaultErrorRetrySeconds        = 3
	defaultMaxSubItemFailures       = 3
	defaultInstanceExtension        = ".dcm"
	defaultNotifyRequestTimeout     = 10
	defaultPurgeCron                = "0 * * * *"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:     defaultDataDir,
			LogDir:      defaultLogDir,
			StorageRoot: defaultStorageRoot,
		},
		Engine: Engine{
			ThreadCount:              defaultThreadCount,
			PriorityThreadCount:      defaultPriorityThreadCount,
			MemoryLimitedThreadCount: defaultMemoryLimitedThreadCount,
			MinFreeMemoryMB:          defaultMinFreeMemoryMB,
			QueryDelayMS:             defaultQueryDelayMS,
			InactiveMinSeconds:       defaultInactiveMinSeconds,
			ErrorRetrySeconds:        defaultErrorRetrySeconds,
			MaxSubItemFailures:       defaultMaxSubItemFailures,
			InstanceExtension:        defaultInstanceExtension,
			IntegrityValidation:      true,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Maintenance: Maintenance{
			PurgeCron: defaultPurgeCron,
		},
	}
}
