package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr          string
	DatabaseURL   string
	MigrationsDir string
	TokenSecret   string
	CORSOrigin    string
	PublicBaseURL string
	LogLevel      string
	LogPretty     bool
	// Redis - unread counts fall back to an in-process cache when empty
	RedisURL       string
	UnreadCacheTTL time.Duration
	// Comments
	CommentPageMax      int
	CommentDecayFactor  float64
	MaxCommentDepth     int
	CommentRatePerMin   float64
	CommentRateBurst    int
	NotificationPageMax int
	// Release mirror - disabled when empty
	ReleasesDir string
	// Object storage for uploaded artifacts - disabled when endpoint is empty
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool
	// SMTP - empty by default, notification mail disabled if not configured
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
}

// fileConfig mirrors the optional YAML file. Zero values leave defaults untouched.
type fileConfig struct {
	Addr          string `yaml:"addr"`
	DatabaseURL   string `yaml:"database_url"`
	MigrationsDir string `yaml:"migrations_dir"`
	CORSOrigin    string `yaml:"cors_origin"`
	PublicBaseURL string `yaml:"public_base_url"`
	Log           struct {
		Level  string `yaml:"level"`
		Pretty *bool  `yaml:"pretty"`
	} `yaml:"log"`
	Redis struct {
		URL                   string `yaml:"url"`
		UnreadCacheTTLSeconds int    `yaml:"unread_cache_ttl_seconds"`
	} `yaml:"redis"`
	Comments struct {
		PageMax       int     `yaml:"page_max"`
		DecayFactor   float64 `yaml:"decay_factor"`
		MaxDepth      int     `yaml:"max_depth"`
		RatePerMinute float64 `yaml:"rate_per_minute"`
		RateBurst     int     `yaml:"rate_burst"`
	} `yaml:"comments"`
	Notifications struct {
		PageMax int `yaml:"page_max"`
	} `yaml:"notifications"`
	ReleasesDir string `yaml:"releases_dir"`
	S3          struct {
		Endpoint string `yaml:"endpoint"`
		Bucket   string `yaml:"bucket"`
		UseSSL   *bool  `yaml:"use_ssl"`
	} `yaml:"s3"`
	SMTP struct {
		Host     string `yaml:"host"`
		Port     string `yaml:"port"`
		From     string `yaml:"from"`
		FromName string `yaml:"from_name"`
	} `yaml:"smtp"`
}

func Defaults() Config {
	return Config{
		Addr:                ":8787",
		MigrationsDir:       "./db/migrations",
		TokenSecret:         "modhub-dev-secret",
		CORSOrigin:          "*",
		LogLevel:            "info",
		UnreadCacheTTL:      60 * time.Second,
		CommentPageMax:      50,
		CommentDecayFactor:  0.5,
		MaxCommentDepth:     3,
		CommentRatePerMin:   6,
		CommentRateBurst:    5,
		NotificationPageMax: 100,
		S3UseSSL:            true,
		SMTPPort:            "587",
		SMTPFromName:        "modhub",
	}
}

// Load builds the configuration from defaults, the YAML file named by
// MODHUB_CONFIG_FILE (if any) and finally environment variables.
func Load() (Config, error) {
	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv("MODHUB_CONFIG_FILE")); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	cfg.Addr = firstNonEmpty(fc.Addr, cfg.Addr)
	cfg.DatabaseURL = firstNonEmpty(fc.DatabaseURL, cfg.DatabaseURL)
	cfg.MigrationsDir = firstNonEmpty(fc.MigrationsDir, cfg.MigrationsDir)
	cfg.CORSOrigin = firstNonEmpty(fc.CORSOrigin, cfg.CORSOrigin)
	cfg.PublicBaseURL = firstNonEmpty(fc.PublicBaseURL, cfg.PublicBaseURL)
	cfg.LogLevel = firstNonEmpty(fc.Log.Level, cfg.LogLevel)
	if fc.Log.Pretty != nil {
		cfg.LogPretty = *fc.Log.Pretty
	}
	cfg.RedisURL = firstNonEmpty(fc.Redis.URL, cfg.RedisURL)
	if fc.Redis.UnreadCacheTTLSeconds > 0 {
		cfg.UnreadCacheTTL = time.Duration(fc.Redis.UnreadCacheTTLSeconds) * time.Second
	}
	if fc.Comments.PageMax > 0 {
		cfg.CommentPageMax = fc.Comments.PageMax
	}
	if fc.Comments.DecayFactor > 0 {
		cfg.CommentDecayFactor = fc.Comments.DecayFactor
	}
	if fc.Comments.MaxDepth > 0 {
		cfg.MaxCommentDepth = fc.Comments.MaxDepth
	}
	if fc.Comments.RatePerMinute > 0 {
		cfg.CommentRatePerMin = fc.Comments.RatePerMinute
	}
	if fc.Comments.RateBurst > 0 {
		cfg.CommentRateBurst = fc.Comments.RateBurst
	}
	if fc.Notifications.PageMax > 0 {
		cfg.NotificationPageMax = fc.Notifications.PageMax
	}
	cfg.ReleasesDir = firstNonEmpty(fc.ReleasesDir, cfg.ReleasesDir)
	cfg.S3Endpoint = firstNonEmpty(fc.S3.Endpoint, cfg.S3Endpoint)
	cfg.S3Bucket = firstNonEmpty(fc.S3.Bucket, cfg.S3Bucket)
	if fc.S3.UseSSL != nil {
		cfg.S3UseSSL = *fc.S3.UseSSL
	}
	cfg.SMTPHost = firstNonEmpty(fc.SMTP.Host, cfg.SMTPHost)
	cfg.SMTPPort = firstNonEmpty(fc.SMTP.Port, cfg.SMTPPort)
	cfg.SMTPFrom = firstNonEmpty(fc.SMTP.From, cfg.SMTPFrom)
	cfg.SMTPFromName = firstNonEmpty(fc.SMTP.FromName, cfg.SMTPFromName)
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Addr = getenv("API_ADDR", cfg.Addr)
	cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)
	cfg.MigrationsDir = getenv("MODHUB_MIGRATIONS_DIR", cfg.MigrationsDir)
	cfg.TokenSecret = getenv("MODHUB_TOKEN_SECRET", cfg.TokenSecret)
	cfg.CORSOrigin = getenv("MODHUB_CORS_ORIGIN", cfg.CORSOrigin)
	cfg.PublicBaseURL = getenv("MODHUB_PUBLIC_URL", cfg.PublicBaseURL)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogPretty = getenvBool("LOG_PRETTY", cfg.LogPretty)
	cfg.RedisURL = getenv("REDIS_URL", cfg.RedisURL)
	cfg.UnreadCacheTTL = time.Duration(getenvInt("UNREAD_CACHE_TTL_SECONDS", int(cfg.UnreadCacheTTL/time.Second))) * time.Second
	cfg.CommentPageMax = getenvInt("COMMENT_PAGE_MAX", cfg.CommentPageMax)
	cfg.CommentDecayFactor = getenvFloat("COMMENT_DECAY_FACTOR", cfg.CommentDecayFactor)
	cfg.MaxCommentDepth = getenvInt("MAX_COMMENT_DEPTH", cfg.MaxCommentDepth)
	cfg.CommentRatePerMin = getenvFloat("COMMENT_RATE_PER_MINUTE", cfg.CommentRatePerMin)
	cfg.CommentRateBurst = getenvInt("COMMENT_RATE_BURST", cfg.CommentRateBurst)
	cfg.NotificationPageMax = getenvInt("NOTIFICATION_PAGE_MAX", cfg.NotificationPageMax)
	cfg.ReleasesDir = getenv("MODHUB_RELEASES_DIR", cfg.ReleasesDir)
	cfg.S3Endpoint = getenv("S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3AccessKey = getenv("S3_ACCESS_KEY", cfg.S3AccessKey)
	cfg.S3SecretKey = getenv("S3_SECRET_KEY", cfg.S3SecretKey)
	cfg.S3Bucket = getenv("S3_BUCKET", cfg.S3Bucket)
	cfg.S3UseSSL = getenvBool("S3_USE_SSL", cfg.S3UseSSL)
	cfg.SMTPHost = getenv("SMTP_HOST", cfg.SMTPHost)
	cfg.SMTPPort = getenv("SMTP_PORT", cfg.SMTPPort)
	cfg.SMTPUsername = getenv("SMTP_USERNAME", cfg.SMTPUsername)
	cfg.SMTPPassword = getenv("SMTP_PASSWORD", cfg.SMTPPassword)
	cfg.SMTPFrom = getenv("SMTP_FROM", cfg.SMTPFrom)
	cfg.SMTPFromName = getenv("SMTP_FROM_NAME", cfg.SMTPFromName)
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func firstNonEmpty(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
