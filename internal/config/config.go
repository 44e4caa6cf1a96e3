package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Analytics   AnalyticsConfig `mapstructure:"analytics"`
	Telegram    TelegramConfig  `mapstructure:"telegram"`
	Digest      DigestConfig    `mapstructure:"digest"`
	Cleanup     CleanupConfig   `mapstructure:"cleanup"`
	Security    SecurityConfig  `mapstructure:"security"`
	Telemetry   TelemetryConfig `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	DatabaseURL     string `mapstructure:"database_url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime string `mapstructure:"conn_max_idle_time"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AnalyticsConfig carries the tunable engine parameters so ops can adjust
// scoring behavior without a release.
type AnalyticsConfig struct {
	Forecast       ForecastConfig       `mapstructure:"forecast"`
	Churn          ChurnConfig          `mapstructure:"churn"`
	Segmentation   SegmentationConfig   `mapstructure:"segmentation"`
	Recommendation RecommendationConfig `mapstructure:"recommendation"`
	Workers        WorkersConfig        `mapstructure:"workers"`
	CacheTTL       string               `mapstructure:"cache_ttl"`
}

type ForecastConfig struct {
	Alpha           float64 `mapstructure:"alpha"`
	Beta            float64 `mapstructure:"beta"`
	Gamma           float64 `mapstructure:"gamma"`
	Period          int     `mapstructure:"period"`
	ConfidenceLevel float64 `mapstructure:"confidence_level"`
}

type ChurnConfig struct {
	LogisticSteepness  float64            `mapstructure:"logistic_steepness"`
	RecencyHorizonDays float64            `mapstructure:"recency_horizon_days"`
	MonetaryFloor      float64            `mapstructure:"monetary_floor"`
	MonetarySpan       float64            `mapstructure:"monetary_span"`
	Weights            map[string]float64 `mapstructure:"weights"`
}

type SegmentationConfig struct {
	SegmentCount   int     `mapstructure:"segment_count"`
	MinSegmentSize int     `mapstructure:"min_segment_size"`
	MaxIterations  int     `mapstructure:"max_iterations"`
	Tolerance      float64 `mapstructure:"tolerance"`
	Seed           int64   `mapstructure:"seed"`
}

type RecommendationConfig struct {
	MinConfidence    float64 `mapstructure:"min_confidence"`
	MaxResults       int     `mapstructure:"max_results"`
	RecentWindowDays int     `mapstructure:"recent_window_days"`
}

type WorkersConfig struct {
	MinWorkers      int     `mapstructure:"min_workers"`
	MaxWorkers      int     `mapstructure:"max_workers"`
	CPUThreshold    float64 `mapstructure:"cpu_threshold"`
	MemoryThreshold float64 `mapstructure:"memory_threshold"`
}

type TelegramConfig struct {
	BotToken      string `mapstructure:"bot_token" json:"-" yaml:"-"`
	WebhookURL    string `mapstructure:"webhook_url"`
	WebhookSecret string `mapstructure:"webhook_secret" json:"-" yaml:"-"`
}

// DigestConfig controls the per-tenant digest workers. Zero values fall
// back to the scheduler defaults.
type DigestConfig struct {
	IntervalHours   int `mapstructure:"interval_hours"`
	MaxErrors       int `mapstructure:"max_errors"`
	ChurnBatchLimit int `mapstructure:"churn_batch_limit"`
	ForecastDays    int `mapstructure:"forecast_days"`
	ForecastHorizon int `mapstructure:"forecast_horizon"`
}

type CleanupConfig struct {
	QueryAuditRetentionHours int `mapstructure:"query_audit_retention_hours"`
	CleanupIntervalMinutes   int `mapstructure:"cleanup_interval_minutes"`
}

type SecurityConfig struct {
	JWTSecret  string `mapstructure:"jwt_secret" json:"-" yaml:"-"`
	JWTExpiry  string `mapstructure:"jwt_expiry"`
	BcryptCost int    `mapstructure:"bcrypt_cost"`
}

type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Bare env names used by deploy tooling
	if err := viper.BindEnv("security.jwt_secret", "JWT_SECRET"); err != nil {
		return nil, fmt.Errorf("failed to bind JWT_SECRET environment variable: %w", err)
	}
	if err := viper.BindEnv("database.database_url", "DATABASE_URL"); err != nil {
		return nil, fmt.Errorf("failed to bind DATABASE_URL environment variable: %w", err)
	}

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	environment := strings.ToLower(config.Environment)

	if environment != "development" && config.Security.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET environment variable is required in non-development environments")
	}

	if config.Security.JWTExpiry != "" {
		if _, err := time.ParseDuration(config.Security.JWTExpiry); err != nil {
			return nil, fmt.Errorf("invalid JWT expiry duration: %w", err)
		}
	}

	if config.Security.BcryptCost < bcrypt.MinCost || config.Security.BcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be between %d and %d, got %d",
			bcrypt.MinCost, bcrypt.MaxCost, config.Security.BcryptCost)
	}

	if config.Analytics.CacheTTL != "" {
		if _, err := time.ParseDuration(config.Analytics.CacheTTL); err != nil {
			return nil, fmt.Errorf("invalid analytics cache TTL: %w", err)
		}
	}

	forecast := config.Analytics.Forecast
	for name, value := range map[string]float64{
		"alpha": forecast.Alpha,
		"beta":  forecast.Beta,
		"gamma": forecast.Gamma,
	} {
		if value <= 0 || value >= 1 {
			return nil, fmt.Errorf("forecast smoothing parameter %s must be in (0, 1), got %v", name, value)
		}
	}

	if config.Telemetry.SampleRate < 0 || config.Telemetry.SampleRate > 1 {
		return nil, fmt.Errorf("telemetry sample rate must be in [0, 1], got %v", config.Telemetry.SampleRate)
	}

	config.Environment = environment

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	// Database
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "voyage_crm")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.database_url", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "300s")
	viper.SetDefault("database.conn_max_idle_time", "60s")

	// Redis
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Analytics engines
	viper.SetDefault("analytics.forecast.alpha", 0.3)
	viper.SetDefault("analytics.forecast.beta", 0.1)
	viper.SetDefault("analytics.forecast.gamma", 0.1)
	viper.SetDefault("analytics.forecast.period", 7)
	viper.SetDefault("analytics.forecast.confidence_level", 0.95)
	viper.SetDefault("analytics.churn.logistic_steepness", 5.0)
	viper.SetDefault("analytics.churn.recency_horizon_days", 90.0)
	viper.SetDefault("analytics.churn.monetary_floor", 1000.0)
	viper.SetDefault("analytics.churn.monetary_span", 9000.0)
	viper.SetDefault("analytics.churn.weights", map[string]float64{
		"recency":      0.25,
		"frequency":    0.20,
		"monetary":     0.20,
		"engagement":   0.15,
		"satisfaction": 0.10,
		"loyalty":      0.10,
	})
	viper.SetDefault("analytics.segmentation.segment_count", 5)
	viper.SetDefault("analytics.segmentation.min_segment_size", 10)
	viper.SetDefault("analytics.segmentation.max_iterations", 100)
	viper.SetDefault("analytics.segmentation.tolerance", 0.001)
	viper.SetDefault("analytics.segmentation.seed", 0)
	viper.SetDefault("analytics.recommendation.min_confidence", 0.3)
	viper.SetDefault("analytics.recommendation.max_results", 10)
	viper.SetDefault("analytics.recommendation.recent_window_days", 30)
	viper.SetDefault("analytics.workers.min_workers", 2)
	viper.SetDefault("analytics.workers.max_workers", 16)
	viper.SetDefault("analytics.workers.cpu_threshold", 80.0)
	viper.SetDefault("analytics.workers.memory_threshold", 85.0)
	viper.SetDefault("analytics.cache_ttl", "15m")

	// Telegram
	viper.SetDefault("telegram.bot_token", "")
	viper.SetDefault("telegram.webhook_url", "")
	viper.SetDefault("telegram.webhook_secret", "")

	// Digests
	viper.SetDefault("digest.interval_hours", 24)
	viper.SetDefault("digest.max_errors", 5)
	viper.SetDefault("digest.churn_batch_limit", 500)
	viper.SetDefault("digest.forecast_days", 90)
	viper.SetDefault("digest.forecast_horizon", 30)

	// Cleanup
	viper.SetDefault("cleanup.query_audit_retention_hours", 720)
	viper.SetDefault("cleanup.cleanup_interval_minutes", 60)

	// Security
	viper.SetDefault("security.jwt_secret", "")
	viper.SetDefault("security.jwt_expiry", "24h")
	viper.SetDefault("security.bcrypt_cost", 12)

	// Telemetry
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.endpoint", "http://localhost:4318")
	viper.SetDefault("telemetry.service_name", "crm-ai")
	viper.SetDefault("telemetry.sample_rate", 1.0)
}
