package config

const (
	defaultConfigPath = "~/.config/watchbridge/config.toml"

	defaultDataDir   = "~/.local/share/watchbridge"
	defaultLogDir    = "~/.local/share/watchbridge/logs"
	defaultLogLevel  = "info"
	defaultLogFormat = "console"

	defaultPlexURL        = "https://plex.tv"
	defaultDiscoverURL    = "https://discover.provider.plex.tv"
	defaultRequestTimeout = 5
	defaultFetchTimeout   = 30

	defaultFeedPollSeconds      = 30
	defaultFlushCheckSeconds    = 5
	defaultQuiescenceSeconds    = 15
	defaultFailsafeMinutes      = 10
	defaultFriendFanout         = 4
	defaultConnectivityAttempts = 3

	defaultArrRequestTimeout = 10
	defaultArrTag            = "watchbridge"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		DataDir:   defaultDataDir,
		LogDir:    defaultLogDir,
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
		Plex: Plex{
			URL:            defaultPlexURL,
			DiscoverURL:    defaultDiscoverURL,
			RequestTimeout: defaultRequestTimeout,
			FetchTimeout:   defaultFetchTimeout,
		},
		Sonarr: Arr{
			Tag:            defaultArrTag,
			RequestTimeout: defaultArrRequestTimeout,
		},
		Radarr: Arr{
			Tag:            defaultArrTag,
			RequestTimeout: defaultArrRequestTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: 10,
		},
		Sync: Sync{
			FeedPollSeconds:      defaultFeedPollSeconds,
			FlushCheckSeconds:    defaultFlushCheckSeconds,
			QuiescenceSeconds:    defaultQuiescenceSeconds,
			FailsafeMinutes:      defaultFailsafeMinutes,
			FriendFanout:         defaultFriendFanout,
			ConnectivityAttempts: defaultConnectivityAttempts,
			SyncNewFriends:       true,
		},
	}
}
