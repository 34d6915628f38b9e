package config

const (
	defaultConfigPath                 = "~/.config/meetingflow/config.toml"
	defaultInputDir                   = "~/meetings/input"
	defaultProcessedDir               = "~/meetings/processed"
	defaultWorkDir                    = "~/.local/share/meetingflow/work"
	defaultVaultDir                   = "~/meetings/vault"
	defaultStateDir                   = "~/.local/share/meetingflow"
	defaultLogDir                     = "~/.local/share/meetingflow/logs"
	defaultQuarantineDir              = "~/.local/share/meetingflow/quarantine"
	defaultAPIBind                    = "127.0.0.1:7488"
	defaultMaxPayloadMB               = 25
	defaultTargetBitrateKbps          = 64
	defaultOverlapSeconds             = 2
	defaultMaxSegmentMinutes          = 10
	defaultTranscriptionBaseURL       = "https://api.openai.com/v1/audio/transcriptions"
	defaultTranscriptionModel         = "whisper-1"
	defaultTranscriptionTimeout       = 300
	defaultTranscriptionConcurrency   = 3
	defaultOverlapSimilarity          = 0.8
	defaultAnalysisBaseURL            = "https://openrouter.ai/api/v1/chat/completions"
	defaultAnalysisModel              = "anthropic/claude-3.5-sonnet"
	defaultAnalysisReferer            = "https://github.com/meetingflow/meetingflow"
	defaultAnalysisTitle              = "meetingflow"
	defaultAnalysisTimeout            = 180
	defaultMaxAttempts                = 4
	defaultRetryBaseMillis            = 1000
	defaultRetryMaxSeconds            = 30
	defaultMaxContextChars            = 120000
	defaultChunkChars                 = 40000
	defaultFuzzyThreshold             = 0.85
	defaultMaxConcurrent              = 2
	defaultMaxStageRetries            = 3
	defaultHeartbeatIntervalSeconds   = 15
	defaultHeartbeatTimeoutSeconds    = 120
	defaultScanIntervalSeconds        = 5
	defaultStabilizationSeconds       = 3
	defaultFingerprintMode            = "sha256"
	defaultLogFormat                  = "console"
	defaultLogLevel                   = "info"
	defaultNotificationRequestTimeout = 10
)

var (
	defaultExtensions = []string{".mp3", ".m4a", ".wav", ".mp4", ".mov", ".mkv", ".webm", ".flac", ".ogg", ".aac"}

	defaultTechnologyKeywords = []string{
		"Amazon Connect", "AWS Lambda", "Salesforce", "DynamoDB", "API Gateway",
		"CloudFormation", "CloudWatch", "Kinesis", "React", "Node.js", "Python",
		"JavaScript", "Docker", "Kubernetes", "PostgreSQL", "MySQL", "Redis",
		"MongoDB", "GraphQL", "Terraform", "Go",
	}

	defaultCriticalKeywords = []string{"asap", "urgent", "immediately", "blocker", "critical", "right away"}
	defaultHighKeywords     = []string{"important", "high priority", "soon", "this week", "priority"}
	defaultLowKeywords      = []string{"when you get a chance", "nice to have", "low priority", "eventually", "someday"}
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			InputDir:      defaultInputDir,
			ProcessedDir:  defaultProcessedDir,
			WorkDir:       defaultWorkDir,
			VaultDir:      defaultVaultDir,
			StateDir:      defaultStateDir,
			LogDir:        defaultLogDir,
			QuarantineDir: defaultQuarantineDir,
			APIBind:       defaultAPIBind,
		},
		Segmentation: Segmentation{
			MaxPayloadMB:      defaultMaxPayloadMB,
			TargetBitrateKbps: defaultTargetBitrateKbps,
			OverlapSeconds:    defaultOverlapSeconds,
			MaxSegmentMinutes: defaultMaxSegmentMinutes,
		},
		Transcription: Transcription{
			BaseURL:           defaultTranscriptionBaseURL,
			Model:             defaultTranscriptionModel,
			TimeoutSeconds:    defaultTranscriptionTimeout,
			MaxAttempts:       defaultMaxAttempts,
			RetryBaseMillis:   defaultRetryBaseMillis,
			RetryMaxSeconds:   defaultRetryMaxSeconds,
			Concurrency:       defaultTranscriptionConcurrency,
			OverlapSimilarity: defaultOverlapSimilarity,
		},
		Analysis: Analysis{
			BaseURL:         defaultAnalysisBaseURL,
			Model:           defaultAnalysisModel,
			Referer:         defaultAnalysisReferer,
			Title:           defaultAnalysisTitle,
			TimeoutSeconds:  defaultAnalysisTimeout,
			MaxAttempts:     defaultMaxAttempts,
			RetryBaseMillis: defaultRetryBaseMillis,
			RetryMaxSeconds: defaultRetryMaxSeconds,
			MaxContextChars: defaultMaxContextChars,
			ChunkChars:      defaultChunkChars,
		},
		Entities: Entities{
			FuzzyThreshold:     defaultFuzzyThreshold,
			TechnologyKeywords: append([]string(nil), defaultTechnologyKeywords...),
		},
		Tasks: Tasks{
			CriticalKeywords: append([]string(nil), defaultCriticalKeywords...),
			HighKeywords:     append([]string(nil), defaultHighKeywords...),
			LowKeywords:      append([]string(nil), defaultLowKeywords...),
		},
		Pipeline: Pipeline{
			MaxConcurrent:            defaultMaxConcurrent,
			MaxStageRetries:          defaultMaxStageRetries,
			HeartbeatIntervalSeconds: defaultHeartbeatIntervalSeconds,
			HeartbeatTimeoutSeconds:  defaultHeartbeatTimeoutSeconds,
			ScanIntervalSeconds:      defaultScanIntervalSeconds,
			StabilizationSeconds:     defaultStabilizationSeconds,
			FingerprintMode:          defaultFingerprintMode,
			Extensions:               append([]string(nil), defaultExtensions...),
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotificationRequestTimeout,
			Completed:      true,
			Failed:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
