package config

const (
	defaultConfigPath              = "~/.config/vidflow/config.toml"
	defaultDataDir                 = "~/.local/share/vidflow"
	defaultLogDir                  = "~/.local/share/vidflow/logs"
	defaultAPIBind                 = "127.0.0.1:7488"
	defaultSSEKeepaliveSeconds     = 15
	defaultMaxConcurrentFlows      = 3
	defaultGracePeriodSeconds      = 300
	defaultProgressThrottleMillis  = 200
	defaultQueueWorkers            = 2
	defaultQueuePollMillis         = 1000
	defaultHeartbeatInterval       = 15
	defaultHeartbeatTimeout        = 120
	defaultRetryBackoffBase        = 10
	defaultRetryBackoffMax         = 300
	defaultNotifyRequestTimeout    = 10
	defaultHubCapacity             = 2048
	defaultRedisAddress            = "localhost:6379"
	defaultRedisChannelPrefix      = "vidflow"
	defaultKafkaBrokers            = "localhost:9092"
	defaultKafkaTopic              = "vidflow-events"
	defaultDownloadBinary          = "yt-dlp"
	defaultDownloadFormat          = "bv*[height<=720]+ba/b[height<=720]/b"
	defaultFFmpegBinary            = "ffmpeg"
	defaultSeparatorBinary         = "demucs"
	defaultWhisperBinary           = "whisperx"
	defaultWhisperModel            = "large-v3-turbo"
	defaultSummaryBaseURL          = "https://openrouter.ai/api/v1/chat/completions"
	defaultSummaryModel            = "google/gemini-3-flash-preview"
	defaultSummaryStyle            = "concise"
	defaultSummaryReferer          = "https://github.com/vidflow/vidflow"
	defaultSummaryTitle            = "vidflow summarizer"
	defaultSummaryTimeoutSeconds   = 120
	defaultSummaryMaxTranscriptLen = 60000
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
)

var defaultAllowedHosts = []string{
	"youtube.com",
	"youtu.be",
	"vimeo.com",
	"bilibili.com",
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		API: API{
			Bind:                defaultAPIBind,
			SSEKeepaliveSeconds: defaultSSEKeepaliveSeconds,
		},
		Flow: Flow{
			MaxConcurrentFlows:     defaultMaxConcurrentFlows,
			GracePeriodSeconds:     defaultGracePeriodSeconds,
			ProgressThrottleMillis: defaultProgressThrottleMillis,
			AllowedHosts:           append([]string(nil), defaultAllowedHosts...),
		},
		Queue: Queue{
			Workers:                  defaultQueueWorkers,
			PollIntervalMillis:       defaultQueuePollMillis,
			HeartbeatIntervalSeconds: defaultHeartbeatInterval,
			HeartbeatTimeoutSeconds:  defaultHeartbeatTimeout,
			RetryBackoffBaseSeconds:  defaultRetryBackoffBase,
			RetryBackoffMaxSeconds:   defaultRetryBackoffMax,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			HubCapacity:    defaultHubCapacity,
			Completions:    true,
			Failures:       true,
		},
		Redis: Redis{
			Address:       defaultRedisAddress,
			ChannelPrefix: defaultRedisChannelPrefix,
		},
		Kafka: Kafka{
			Brokers: defaultKafkaBrokers,
			Topic:   defaultKafkaTopic,
		},
		Download: Download{
			Binary: defaultDownloadBinary,
			Format: defaultDownloadFormat,
		},
		Audio: Audio{
			FFmpegBinary:      defaultFFmpegBinary,
			SeparationEnabled: true,
			SeparatorBinary:   defaultSeparatorBinary,
			WhisperBinary:     defaultWhisperBinary,
			WhisperModel:      defaultWhisperModel,
		},
		Summary: Summary{
			BaseURL:            defaultSummaryBaseURL,
			Model:              defaultSummaryModel,
			Style:              defaultSummaryStyle,
			Referer:            defaultSummaryReferer,
			Title:              defaultSummaryTitle,
			TimeoutSeconds:     defaultSummaryTimeoutSeconds,
			MaxTranscriptChars: defaultSummaryMaxTranscriptLen,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
