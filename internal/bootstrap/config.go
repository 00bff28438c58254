package bootstrap

import (
	"os"
	"strconv"
	"time"
)

const (
	defaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultVoice = "Kore"
)

type Config struct {
	ServerAddr string
	LogLevel   string

	GeminiAPIKey    string
	GeminiLiveURL   string
	GeminiModel     string
	GeminiVoice     string
	DialTimeout     time.Duration
	InstructionFile string

	MicCommand       string
	MicFile          string
	MicSampleRate    int
	CaptureBlockSize int

	SpeakerCommand    string
	SpeakerFile       string
	SpeakerSampleRate int

	DatabaseDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	TicketChannel    string
	MetricsNamespace string
}

func LoadConfig() *Config {
	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),

		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		GeminiLiveURL:   getEnv("GEMINI_LIVE_URL", ""),
		GeminiModel:     getEnv("GEMINI_MODEL", defaultModel),
		GeminiVoice:     getEnv("GEMINI_VOICE", defaultVoice),
		DialTimeout:     time.Duration(getEnvInt("GEMINI_DIAL_TIMEOUT_SECONDS", 15)) * time.Second,
		InstructionFile: getEnv("SYSTEM_INSTRUCTION_FILE", ""),

		MicCommand:       getEnv("MIC_COMMAND", ""),
		MicFile:          getEnv("MIC_FILE", ""),
		MicSampleRate:    getEnvInt("MIC_SAMPLE_RATE", 16000),
		CaptureBlockSize: getEnvInt("CAPTURE_BLOCK_SIZE", 4096),

		SpeakerCommand:    getEnv("SPEAKER_COMMAND", ""),
		SpeakerFile:       getEnv("SPEAKER_FILE", ""),
		SpeakerSampleRate: getEnvInt("SPEAKER_SAMPLE_RATE", 24000),

		DatabaseDSN: getEnv("DATABASE_DSN", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		TicketChannel:    getEnv("TICKET_CHANNEL", "support:tickets"),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "voice_intake"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
