package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Env        string
	ServerPort string

	DatabaseType string
	DatabasePath string
	DatabaseURL  string

	SessionDuration  time.Duration
	CSRFSecret       string
	TokenSecret      string
	TokenTTL         time.Duration
	ResetTokenSecret string

	// Unlock policy: "progress" or "date"
	UnlockMode  string
	ProgramZone string
	ContentPath string

	// LINE Messaging API / LIFF channel
	LineChannelID          string
	LineChannelSecret      string
	LineChannelAccessToken string

	// LINE Login channel used by the admin console
	LineLoginChannelID     string
	LineLoginChannelSecret string
	OAuthRedirectBaseURL   string

	GenAIAPIKey  string
	GenAIModel   string
	GenAITimeout time.Duration

	AWSRegion    string
	SESFromEmail string
	SESFromName  string
	AdminEmail   string
	AppBaseURL   string

	RedisAddr         string
	SubmissionLockTTL time.Duration

	RevivalMinLength int
	// DeadlineSweepInterval is how often missed assignment deadlines are turned into lockouts
	DeadlineSweepInterval time.Duration
	Debug                 bool
}

// Load reads .env (if present) and then environment variables with sensible defaults
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Env:        getEnv("ENV", "dev"),
		ServerPort: getEnv("PORT", "8080"),

		DatabaseType: getEnv("DB_TYPE", "sqlite"),
		DatabasePath: getEnv("DB_PATH", "./coach21.db"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		SessionDuration:  getDuration("SESSION_DURATION", 24*time.Hour),
		CSRFSecret:       getEnv("CSRF_SECRET", "dev-csrf-secret"),
		TokenSecret:      getEnv("TOKEN_SECRET", "dev-participant-secret"),
		TokenTTL:         getDuration("TOKEN_TTL", 30*24*time.Hour),
		ResetTokenSecret: getEnv("RESET_TOKEN_SECRET", "dev-reset-secret"),

		UnlockMode:  getEnv("UNLOCK_MODE", "progress"),
		ProgramZone: getEnv("PROGRAM_TZ", "Asia/Tokyo"),
		ContentPath: getEnv("CONTENT_PATH", "./content/days.yaml"),

		LineChannelID:          getEnv("LINE_CHANNEL_ID", ""),
		LineChannelSecret:      getEnv("LINE_CHANNEL_SECRET", ""),
		LineChannelAccessToken: getEnv("LINE_CHANNEL_ACCESS_TOKEN", ""),

		LineLoginChannelID:     getEnv("LINE_LOGIN_CHANNEL_ID", ""),
		LineLoginChannelSecret: getEnv("LINE_LOGIN_CHANNEL_SECRET", ""),
		OAuthRedirectBaseURL:   getEnv("OAUTH_REDIRECT_BASE_URL", ""),

		GenAIAPIKey:  getEnv("GENAI_API_KEY", ""),
		GenAIModel:   getEnv("GENAI_MODEL", "gemini-2.5-flash"),
		GenAITimeout: getDuration("GENAI_TIMEOUT", 15*time.Second),

		AWSRegion:    getEnv("AWS_REGION", "ap-northeast-1"),
		SESFromEmail: getEnv("SES_FROM_EMAIL", ""),
		SESFromName:  getEnv("SES_FROM_NAME", "Coach21"),
		AdminEmail:   getEnv("ADMIN_EMAIL", ""),
		AppBaseURL:   getEnv("APP_BASE_URL", "http://localhost:8080"),

		RedisAddr:         getEnv("REDIS_ADDR", ""),
		SubmissionLockTTL: getDuration("SUBMISSION_LOCK_TTL", 30*time.Second),

		DeadlineSweepInterval: getDuration("DEADLINE_SWEEP_INTERVAL", 5*time.Minute),

		RevivalMinLength: getInt("REVIVAL_MIN_LENGTH", 20),
		Debug:            getBool("DEBUG", false),
	}
}

// Location resolves the program time zone, falling back to UTC
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ProgramZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	switch strings.ToLower(c.Env) {
	case "prod", "production":
		return true
	}
	return false
}

// getEnv reads an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return i
}

func getBool(key string, defaultValue bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}

// getDuration accepts Go duration syntax ("90s", "24h") or a bare number of seconds
func getDuration(key string, defaultValue time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
