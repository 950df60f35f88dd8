/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the points-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort               string `mapstructure:"SERVER_PORT"`
	DatabaseURL              string `mapstructure:"DATABASE_URL"`
	RedisURL                 string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix     string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL              string `mapstructure:"RABBITMQ_URL"`
	ArchiveServiceURL        string `mapstructure:"ARCHIVE_SERVICE_URL"`
	ArchiveServiceAPIKey     string `mapstructure:"ARCHIVE_SERVICE_API_KEY"`
	AuthJWKSURL              string `mapstructure:"AUTH_JWKS_URL"`
	InternalAPIKey           string `mapstructure:"INTERNAL_API_KEY"`
	DailyBonusPoints         int64  `mapstructure:"DAILY_BONUS_POINTS"`
	UploadRewardPoints       int64  `mapstructure:"UPLOAD_REWARD_POINTS"`
	FeedbackRewardPoints     int64  `mapstructure:"FEEDBACK_REWARD_POINTS"`
	DownloadCostPoints       int64  `mapstructure:"DOWNLOAD_COST_POINTS"`
	DownloadGrantTTLMinutes  int    `mapstructure:"DOWNLOAD_GRANT_TTL_MINUTES"`
	GrantSweepSchedule       string `mapstructure:"GRANT_SWEEP_SCHEDULE"`
	FeedbackRateLimitPerHour int    `mapstructure:"FEEDBACK_RATE_LIMIT_PER_HOUR"`
	DownloadRateLimitPerHour int    `mapstructure:"DOWNLOAD_RATE_LIMIT_PER_HOUR"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "hasher:rate_limit")
	viper.SetDefault("DAILY_BONUS_POINTS", 10)
	viper.SetDefault("UPLOAD_REWARD_POINTS", 100)
	viper.SetDefault("FEEDBACK_REWARD_POINTS", 5)
	viper.SetDefault("DOWNLOAD_COST_POINTS", 10)
	viper.SetDefault("DOWNLOAD_GRANT_TTL_MINUTES", 15)
	viper.SetDefault("GRANT_SWEEP_SCHEDULE", "*/5 * * * *")
	viper.SetDefault("FEEDBACK_RATE_LIMIT_PER_HOUR", 30)
	viper.SetDefault("DOWNLOAD_RATE_LIMIT_PER_HOUR", 120)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "POINTS_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("ARCHIVE_SERVICE_URL")
	_ = viper.BindEnv("ARCHIVE_SERVICE_API_KEY")
	_ = viper.BindEnv("AUTH_JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "POINTS_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("DAILY_BONUS_POINTS")
	_ = viper.BindEnv("UPLOAD_REWARD_POINTS")
	_ = viper.BindEnv("FEEDBACK_REWARD_POINTS")
	_ = viper.BindEnv("DOWNLOAD_COST_POINTS")
	_ = viper.BindEnv("DOWNLOAD_GRANT_TTL_MINUTES")
	_ = viper.BindEnv("GRANT_SWEEP_SCHEDULE")
	_ = viper.BindEnv("FEEDBACK_RATE_LIMIT_PER_HOUR")
	_ = viper.BindEnv("DOWNLOAD_RATE_LIMIT_PER_HOUR")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("POINTS_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "hasher:rate_limit"
	}

	if config.DailyBonusPoints <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive daily bonus configured; using default\" points=%d", config.DailyBonusPoints)
		config.DailyBonusPoints = 10
	}
	if config.UploadRewardPoints <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive upload reward configured; using default\" points=%d", config.UploadRewardPoints)
		config.UploadRewardPoints = 100
	}
	if config.FeedbackRewardPoints <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive feedback reward configured; using default\" points=%d", config.FeedbackRewardPoints)
		config.FeedbackRewardPoints = 5
	}
	if config.DownloadCostPoints <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive download cost configured; using default\" points=%d", config.DownloadCostPoints)
		config.DownloadCostPoints = 10
	}
	if config.DownloadGrantTTLMinutes <= 0 {
		config.DownloadGrantTTLMinutes = 15
	}
	if strings.TrimSpace(config.GrantSweepSchedule) == "" {
		config.GrantSweepSchedule = "*/5 * * * *"
	}
	if config.FeedbackRateLimitPerHour <= 0 {
		config.FeedbackRateLimitPerHour = 30
	}
	if config.DownloadRateLimitPerHour <= 0 {
		config.DownloadRateLimitPerHour = 120
	}

	return
}
