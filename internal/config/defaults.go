package config

// Strategy names accepted in pipeline.order besides remote service names.
const (
	StrategyYTDLP  = "ytdlp"
	StrategyNative = "native"
)

// Extractor modes.
const (
	ModeStream   = "stream"
	ModeDownload = "download"
)

const (
	defaultLogDir                 = "~/.local/share/audiorelay/logs"
	defaultStateDir               = "~/.local/share/audiorelay"
	defaultBind                   = "0.0.0.0"
	defaultPort                   = 3001
	defaultURLField               = "any"
	defaultAllowedOrigin          = "*"
	defaultRequestsPerSecond      = 5
	defaultBurst                  = 10
	defaultHealthMessage          = "YouTube audio server is running"
	defaultShutdownTimeoutSeconds = 10
	defaultAttemptTimeoutSeconds  = 60
	defaultFallbackURL            = "https://www2.cs.uic.edu/~i101/SoundFiles/BabyElephantWalk60.wav"
	defaultYTDLPBinary            = "yt-dlp"
	defaultFFmpegBinary           = "ffmpeg"
	defaultAudioFormat            = "mp3"
	defaultExtractorTimeout       = 45
	defaultMaxConcurrent          = 4
	defaultNativeTimeoutSeconds   = 20
	defaultRemoteTimeoutSeconds   = 15
	defaultOEmbedURL              = "https://www.youtube.com/oembed"
	defaultMetadataTimeoutSeconds = 10
	defaultCacheMaxMiB            = 2048
	defaultCacheMaxAgeHours       = 168
	defaultCacheMinFreeRatio      = 0.10
	defaultStreamCacheTTLMinutes  = 60
	defaultStreamCacheKeyPrefix   = "audiorelay:stream:"
	defaultNtfyTimeoutSeconds     = 10
	defaultFallbackStreak         = 5
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"

	androidUserAgent = "com.google.android.youtube/21.02.35 (Linux; U; Android 11) gzip"
	iosUserAgent     = "com.google.ios.youtube/21.02.3 (iPhone16,2; U; CPU iOS 18_3_2 like Mac OS X;)"
	webUserAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// DefaultProfiles returns the client profiles tried when none are configured.
func DefaultProfiles() []ClientProfile {
	return []ClientProfile{
		{
			Name:         "android",
			Format:       "bestaudio[ext=m4a]/bestaudio/best",
			PlayerClient: "android",
			UserAgent:    androidUserAgent,
		},
		{
			Name:         "ios",
			Format:       "bestaudio[ext=m4a]/bestaudio/best",
			PlayerClient: "ios",
			UserAgent:    iosUserAgent,
		},
		{
			Name:         "web",
			Format:       "bestaudio[ext=webm]/bestaudio/best",
			PlayerClient: "web",
			UserAgent:    webUserAgent,
		},
	}
}

// DefaultRemoteServices returns the third-party conversion endpoints known to
// the relay. The RapidAPI endpoint stays idle until a key is supplied.
func DefaultRemoteServices() []RemoteService {
	return []RemoteService{
		{
			Name:           "vevioz",
			Enabled:        true,
			Endpoint:       "https://api.vevioz.com/api/button/mp3/{id}",
			Mapper:         "vevioz",
			TimeoutSeconds: defaultRemoteTimeoutSeconds,
		},
		{
			Name:     "youtube-mp36",
			Enabled:  true,
			Endpoint: "https://youtube-mp36.p.rapidapi.com/dl?id={id}",
			Mapper:   "rapidapi",
			Headers: map[string]string{
				"X-RapidAPI-Key":  "",
				"X-RapidAPI-Host": "youtube-mp36.p.rapidapi.com",
			},
			TimeoutSeconds: defaultRemoteTimeoutSeconds,
		},
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LogDir:   defaultLogDir,
			StateDir: defaultStateDir,
		},
		Server: Server{
			Bind:                   defaultBind,
			Port:                   defaultPort,
			URLField:               defaultURLField,
			AllowedOrigin:          defaultAllowedOrigin,
			RequestsPerSecond:      defaultRequestsPerSecond,
			Burst:                  defaultBurst,
			HealthMessage:          defaultHealthMessage,
			ShutdownTimeoutSeconds: defaultShutdownTimeoutSeconds,
		},
		Pipeline: Pipeline{
			Order:                 []string{StrategyYTDLP, StrategyNative, "vevioz", "youtube-mp36"},
			AttemptTimeoutSeconds: defaultAttemptTimeoutSeconds,
			StrategyTimeouts:      map[string]int{},
			FallbackURL:           defaultFallbackURL,
			Singleflight:          true,
		},
		Extractor: Extractor{
			Enabled:           true,
			Binary:            defaultYTDLPBinary,
			FFmpegBinary:      defaultFFmpegBinary,
			Mode:              ModeStream,
			AudioFormat:       defaultAudioFormat,
			TimeoutSeconds:    defaultExtractorTimeout,
			MaxConcurrent:     defaultMaxConcurrent,
			FatalLaunchErrors: true,
			Profiles:          DefaultProfiles(),
		},
		NativeClient: NativeClient{
			Enabled:        true,
			TimeoutSeconds: defaultNativeTimeoutSeconds,
		},
		Remote: Remote{
			Services: DefaultRemoteServices(),
		},
		Metadata: Metadata{
			OEmbedURL:      defaultOEmbedURL,
			TimeoutSeconds: defaultMetadataTimeoutSeconds,
		},
		Cache: Cache{
			Enabled:        true,
			Dir:            defaultCacheDir(),
			MaxMiB:         defaultCacheMaxMiB,
			MaxAgeHours:    defaultCacheMaxAgeHours,
			VerifyChecksum: true,
			MinFreeRatio:   defaultCacheMinFreeRatio,
		},
		StreamCache: StreamCache{
			Enabled:    true,
			TTLMinutes: defaultStreamCacheTTLMinutes,
			KeyPrefix:  defaultStreamCacheKeyPrefix,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeoutSeconds,
			FallbackStreak:        defaultFallbackStreak,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
