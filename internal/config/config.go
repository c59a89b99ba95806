package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ent0n29/dingbot/internal/convo"
	"github.com/ent0n29/dingbot/internal/scheduler"
)

// defaultSystemPrompt keeps replies inside the AI domain and sets the
// assistant's register.
const defaultSystemPrompt = `你是一个专业的AI助手，专注于人工智能、机器学习和深度学习领域。
你的任务是：
1. 回答用户关于AI的各种问题
2. 当用户需要详细报告时，生成结构化的专业内容
3. 保持友好、专业的对话风格
4. 如果问题超出AI领域，礼貌地引导用户回到AI相关话题
`

// Config contains all runtime settings for the assistant service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogDir           string
	Debug            bool

	DingTalkAppKey     string
	DingTalkAppSecret  string
	DingTalkWebhookURL string
	DingTalkRobotCode  string
	StreamEnabled      bool

	BrainProvider string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	OllamaURL     string
	OllamaModel   string

	SystemPrompt    string
	TriggerKeywords []string
	HistoryMaxTurns int
	ChatTimeout     time.Duration
	ReportTimeout   time.Duration
	VoiceTimeout    time.Duration

	NewsAPIKey    string
	DailyNewsTime string
	Location      *time.Location

	UploadDir  string
	FFmpegPath string

	DatabaseURL    string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
}

// Load reads .env when present, then environment variables, and applies
// safe defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "dingbot"),
		LogDir:           stringsTrimSpace("APP_LOG_DIR"),
		ShutdownTimeout:  15 * time.Second,

		DingTalkAppKey:     stringsTrimSpace("DINGTALK_APP_KEY"),
		DingTalkAppSecret:  stringsTrimSpace("DINGTALK_APP_SECRET"),
		DingTalkWebhookURL: stringsTrimSpace("DINGTALK_WEBHOOK_URL"),
		DingTalkRobotCode:  stringsTrimSpace("DINGTALK_ROBOT_CODE"),

		BrainProvider: envOrDefault("BRAIN_PROVIDER", "auto"),
		OpenAIAPIKey:  stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIModel:   envOrDefault("OPENAI_MODEL", "gpt-4-turbo"),
		OpenAIBaseURL: envOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OllamaURL:     stringsTrimSpace("OLLAMA_URL"),
		OllamaModel:   stringsTrimSpace("OLLAMA_MODEL"),

		SystemPrompt:    envOrDefault("SYSTEM_PROMPT", defaultSystemPrompt),
		TriggerKeywords: keywordsFromEnv("REPORT_TRIGGER_KEYWORDS", defaultTriggerKeywords()),
		HistoryMaxTurns: convo.DefaultMaxTurns,
		ChatTimeout:     time.Minute,
		ReportTimeout:   5 * time.Minute,
		VoiceTimeout:    2 * time.Minute,

		NewsAPIKey:    stringsTrimSpace("NEWS_API_KEY"),
		DailyNewsTime: envOrDefault("DAILY_NEWS_TIME", "09:00"),

		UploadDir:  envOrDefault("UPLOAD_FOLDER", "/tmp/dingtalk-ai-assistant"),
		FFmpegPath: stringsTrimSpace("FFMPEG_PATH"),

		DatabaseURL:    stringsTrimSpace("DATABASE_URL"),
		MinioEndpoint:  stringsTrimSpace("MINIO_ENDPOINT"),
		MinioAccessKey: stringsTrimSpace("MINIO_ACCESS_KEY"),
		MinioSecretKey: stringsTrimSpace("MINIO_SECRET_KEY"),
		MinioBucket:    envOrDefault("MINIO_BUCKET", "dingbot-reports"),
	}

	var err error
	cfg.Debug, err = boolFromEnv("DEBUG", false)
	if err != nil {
		return Config{}, err
	}
	cfg.StreamEnabled, err = boolFromEnv("DINGTALK_STREAM_ENABLED", false)
	if err != nil {
		return Config{}, err
	}
	cfg.MinioUseSSL, err = boolFromEnv("MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ChatTimeout, err = durationFromEnv("APP_CHAT_TIMEOUT", cfg.ChatTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ReportTimeout, err = durationFromEnv("APP_REPORT_TIMEOUT", cfg.ReportTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.VoiceTimeout, err = durationFromEnv("APP_VOICE_TIMEOUT", cfg.VoiceTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryMaxTurns, err = intFromEnv("HISTORY_MAX_TURNS", cfg.HistoryMaxTurns)
	if err != nil {
		return Config{}, err
	}

	if cfg.HistoryMaxTurns < 1 {
		return Config{}, fmt.Errorf("HISTORY_MAX_TURNS must be at least 1")
	}
	if cfg.ShutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	}
	if cfg.ChatTimeout <= 0 || cfg.ReportTimeout <= 0 || cfg.VoiceTimeout <= 0 {
		return Config{}, fmt.Errorf("request timeouts must be positive")
	}
	if _, _, err := scheduler.ParsePushTime(cfg.DailyNewsTime); err != nil {
		return Config{}, fmt.Errorf("DAILY_NEWS_TIME: %w", err)
	}
	tz := envOrDefault("TIMEZONE", "Asia/Shanghai")
	cfg.Location, err = time.LoadLocation(tz)
	if err != nil {
		return Config{}, fmt.Errorf("TIMEZONE parse error: %w", err)
	}

	return cfg, nil
}

func defaultTriggerKeywords() []string {
	return []string{"报告", "详细", "分析", "深入", "研究"}
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func keywordsFromEnv(key string, fallback []string) []string {
	raw := stringsTrimSpace(key)
	if raw == "" {
		return fallback
	}
	parts := strings.Split(raw, ",")
	keywords := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		keywords = append(keywords, p)
	}
	if len(keywords) == 0 {
		return fallback
	}
	return keywords
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
