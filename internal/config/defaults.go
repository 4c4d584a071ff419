package config

const (
	defaultDataDir               = "~/.local/share/ferry"
	defaultLogDir                = "~/.local/share/ferry/logs"
	defaultAPIBind               = "127.0.0.1:7491"
	defaultRemoteMode            = RemoteModeDryRun
	defaultRemoteRequestTimeout  = 30
	defaultRemoteReadyTimeout    = 60
	defaultRemoteLoginPath       = "/login"
	defaultRemoteReadyPath       = "/session"
	defaultRemoteIndividualPath  = "/entries/individual"
	defaultRemoteGroupModePath   = "/entries/group/begin"
	defaultRemoteGroupMemberPath = "/entries/group/members"
	defaultRemoteGroupSubmitPath = "/entries/group"
	defaultRemoteLogoutPath      = "/logout"
	defaultItemTimeoutSeconds    = 120
	defaultMaxConcurrentBatches  = 4
	defaultJobRetentionMinutes   = 60
	defaultHubCapacity           = 2048
	defaultRedisChannel          = "ferry:transfers"
	defaultRedisBuffer           = 256
	defaultNotifyRequestTimeout  = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
)

// Remote automation modes.
const (
	RemoteModeHTTP   = "http"
	RemoteModeDryRun = "dry-run"
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
		Remote: Remote{
			Mode:                  defaultRemoteMode,
			RequestTimeoutSeconds: defaultRemoteRequestTimeout,
			ReadyTimeoutSeconds:   defaultRemoteReadyTimeout,
			LoginPath:             defaultRemoteLoginPath,
			ReadyPath:             defaultRemoteReadyPath,
			IndividualPath:        defaultRemoteIndividualPath,
			GroupModePath:         defaultRemoteGroupModePath,
			GroupMemberPath:       defaultRemoteGroupMemberPath,
			GroupSubmitPath:       defaultRemoteGroupSubmitPath,
			LogoutPath:            defaultRemoteLogoutPath,
		},
		Transfer: Transfer{
			ItemTimeoutSeconds:   defaultItemTimeoutSeconds,
			MaxConcurrentBatches: defaultMaxConcurrentBatches,
			JobRetentionMinutes:  defaultJobRetentionMinutes,
		},
		Events: Events{
			HubCapacity:  defaultHubCapacity,
			RedisChannel: defaultRedisChannel,
			RedisBuffer:  defaultRedisBuffer,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			BatchCompleted: true,
			BatchErrors:    true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
