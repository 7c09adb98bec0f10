package config

const (
	defaultInputDir           = "~/.local/share/textmill/text"
	defaultDataDir            = "~/.local/share/textmill/db"
	defaultLogDir             = "~/.local/share/textmill/logs"
	defaultSampleDir          = "~/.local/share/textmill/samples"
	defaultMaxOpenHandles     = 16
	defaultEncoding           = "utf-8"
	defaultDecodeErrors       = DecodeIgnore
	defaultMaxMemberBytes     = 256 << 20
	defaultWorkers            = 4
	defaultPollInterval       = 5
	defaultErrorRetryInterval = 10
	defaultHeartbeatInterval  = 15
	defaultClaimTimeout       = 120
	defaultMaxStoreFailures   = 5
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultDatabaseName       = "textmill.db"
	defaultLockName           = "textmill.lock"
	defaultLogFileName        = "textmill.log"
	defaultConfigRelativePath = "~/.config/textmill/config.toml"
	defaultProjectConfigName  = "textmill.toml"
)

// Decode error policies understood by the content reader.
const (
	DecodeStrict  = "strict"
	DecodeReplace = "replace"
	DecodeIgnore  = "ignore"
)

func defaultArchiveExtensions() []string {
	return []string{".zip", ".tar", ".tar.gz", ".tgz", ".tar.xz", ".txz", ".tar.bz2", ".tbz2", ".tar.zst", ".tzst", ".tar.lz4"}
}

func defaultSecondarySuffixes() []string {
	return []string{".xz", ".gz", ".bz2", ".zst", ".lz4"}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			InputDir:  defaultInputDir,
			DataDir:   defaultDataDir,
			LogDir:    defaultLogDir,
			SampleDir: defaultSampleDir,
		},
		Archives: Archives{
			Extensions:     defaultArchiveExtensions(),
			MaxOpenHandles: defaultMaxOpenHandles,
			FollowSymlinks: true,
		},
		Decode: Decode{
			Encoding:          defaultEncoding,
			Errors:            defaultDecodeErrors,
			SecondarySuffixes: defaultSecondarySuffixes(),
			MaxMemberBytes:    defaultMaxMemberBytes,
		},
		Workflow: Workflow{
			Workers:             defaultWorkers,
			PollInterval:        defaultPollInterval,
			ErrorRetryInterval:  defaultErrorRetryInterval,
			HeartbeatInterval:   defaultHeartbeatInterval,
			ClaimTimeout:        defaultClaimTimeout,
			MaxStoreFailures:    defaultMaxStoreFailures,
			ResetClaimedOnStart: true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
