package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_UsesPointsServiceInternalAPIKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "INTERNAL_API_KEY")
	setEnvWithCleanup(t, "POINTS_SERVICE_INTERNAL_API_KEY", "alias-only-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "alias-only-key" {
		t.Fatalf("expected InternalAPIKey from alias env var, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_InternalAPIKeyTakesPrecedenceOverAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "INTERNAL_API_KEY", "primary-key")
	setEnvWithCleanup(t, "POINTS_SERVICE_INTERNAL_API_KEY", "alias-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "primary-key" {
		t.Fatalf("expected InternalAPIKey to prioritize INTERNAL_API_KEY, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_DefaultPointAmounts(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "DAILY_BONUS_POINTS")
	unsetEnvWithCleanup(t, "UPLOAD_REWARD_POINTS")
	unsetEnvWithCleanup(t, "FEEDBACK_REWARD_POINTS")
	unsetEnvWithCleanup(t, "DOWNLOAD_COST_POINTS")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.DailyBonusPoints != 10 {
		t.Errorf("expected default DailyBonusPoints 10, got %d", cfg.DailyBonusPoints)
	}
	if cfg.UploadRewardPoints != 100 {
		t.Errorf("expected default UploadRewardPoints 100, got %d", cfg.UploadRewardPoints)
	}
	if cfg.FeedbackRewardPoints != 5 {
		t.Errorf("expected default FeedbackRewardPoints 5, got %d", cfg.FeedbackRewardPoints)
	}
	if cfg.DownloadCostPoints != 10 {
		t.Errorf("expected default DownloadCostPoints 10, got %d", cfg.DownloadCostPoints)
	}
}

func TestLoadConfig_NonPositiveAmountsFallBackToDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "DAILY_BONUS_POINTS", "0")
	setEnvWithCleanup(t, "DOWNLOAD_COST_POINTS", "-5")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.DailyBonusPoints != 10 {
		t.Errorf("expected DailyBonusPoints coerced to 10, got %d", cfg.DailyBonusPoints)
	}
	if cfg.DownloadCostPoints != 10 {
		t.Errorf("expected DownloadCostPoints coerced to 10, got %d", cfg.DownloadCostPoints)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
