package config

const (
	defaultWorkDir                = "~/.local/share/subforge/work"
	defaultOutputDir              = "~/.local/share/subforge/output"
	defaultLogDir                 = "~/.local/share/subforge/logs"
	defaultAPIBind                = "127.0.0.1:7833"
	defaultFetchCommand           = "yt-dlp"
	defaultFetchFormat            = "bestvideo*+bestaudio/best"
	defaultFetchTimeout           = 600
	defaultWhisperCommand         = "whisper-ctranslate2"
	defaultWhisperModel           = "small"
	defaultWhisperFallbackModel   = "medium"
	defaultQualityThreshold       = 0.5
	defaultCacheBudgetMB          = 4096
	defaultWhisperTimeout         = 600
	defaultTranslationBaseURL     = "https://api.openai.com/v1/chat/completions"
	defaultTranslationModel       = "gpt-4o-mini"
	defaultTranslationBatchSize   = 20
	defaultTranslationMaxRetries  = 2
	defaultTranslationTimeout     = 120
	defaultSubtitleFormat         = "srt"
	defaultMinDisplayMillis       = 500
	defaultMaxDisplaySecs         = 7
	defaultMaxRunningTasks        = 2
	defaultTaskRetentionHours     = 24
	defaultCleanupIntervalSeconds = 3600
	defaultLogFormat              = "auto"
	defaultLogLevel               = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:   defaultWorkDir,
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
			APIBind:   defaultAPIBind,
		},
		Fetch: Fetch{
			Command:        defaultFetchCommand,
			Format:         defaultFetchFormat,
			TimeoutSeconds: defaultFetchTimeout,
		},
		Whisper: Whisper{
			Command:          defaultWhisperCommand,
			Model:            defaultWhisperModel,
			FallbackModel:    defaultWhisperFallbackModel,
			QualityThreshold: defaultQualityThreshold,
			CacheBudgetMB:    defaultCacheBudgetMB,
			TimeoutSeconds:   defaultWhisperTimeout,
		},
		Translation: Translation{
			BaseURL:        defaultTranslationBaseURL,
			Model:          defaultTranslationModel,
			BatchSize:      defaultTranslationBatchSize,
			MaxRetries:     defaultTranslationMaxRetries,
			TimeoutSeconds: defaultTranslationTimeout,
		},
		Subtitles: Subtitles{
			Format:           defaultSubtitleFormat,
			MinDisplayMillis: defaultMinDisplayMillis,
			MaxDisplaySecs:   defaultMaxDisplaySecs,
		},
		Workflow: Workflow{
			MaxRunningTasks:        defaultMaxRunningTasks,
			TaskRetentionHours:     defaultTaskRetentionHours,
			CleanupIntervalSeconds: defaultCleanupIntervalSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
