// Package config centralizes configuration loading for the availability
// fabric. Every key named in the external configuration table is bound here;
// nothing else in the tree reads an environment variable directly.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the fabric's fully resolved, immutable runtime configuration.
type Config struct {
	Environment string // "development" | "production", drives logger encoding

	KVHost     string
	KVPort     int
	KVPassword string
	KVDB       int

	UpstreamBaseURL string

	RateLimit      int
	RateWindow     time.Duration
	BreakerFailureThreshold int
	BreakerTimeout          time.Duration
	BreakerSuccessThreshold int

	CoalesceBatchDelay time.Duration
	FanOutCourts       int
	FanOutSlots        int

	PrefetchPlaceIDs []string

	SlotTimezone string
}

// Load reads configuration from the environment (and any config file viper
// discovers on its default search path), applying the defaults from the
// external interfaces table.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("availability")
	v.AddConfigPath(".")
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	setDefaults(v)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Config{}, fmt.Errorf("config: read config file: %w", err)
		}
	}

	cfg := Config{
		Environment: v.GetString("environment"),

		KVHost:     v.GetString("kv_host"),
		KVPort:     v.GetInt("kv_port"),
		KVPassword: v.GetString("kv_password"),
		KVDB:       v.GetInt("kv_db"),

		UpstreamBaseURL: v.GetString("upstream_base_url"),

		RateLimit:               v.GetInt("rate_limit"),
		RateWindow:              time.Duration(v.GetInt("rate_window_ms")) * time.Millisecond,
		BreakerFailureThreshold: v.GetInt("breaker_failure_threshold"),
		BreakerTimeout:          time.Duration(v.GetInt("breaker_timeout_ms")) * time.Millisecond,
		BreakerSuccessThreshold: v.GetInt("breaker_success_threshold"),

		CoalesceBatchDelay: time.Duration(v.GetInt("coalesce_batch_delay_ms")) * time.Millisecond,
		FanOutCourts:       v.GetInt("fan_out_courts"),
		FanOutSlots:        v.GetInt("fan_out_slots"),

		PrefetchPlaceIDs: v.GetStringSlice("prefetch_place_ids"),

		SlotTimezone: v.GetString("slot_timezone"),
	}

	if cfg.RateLimit <= 0 {
		return Config{}, fmt.Errorf("config: RATE_LIMIT must be positive, got %d", cfg.RateLimit)
	}
	if cfg.RateWindow <= 0 {
		return Config{}, fmt.Errorf("config: RATE_WINDOW_MS must be positive, got %s", cfg.RateWindow)
	}
	if _, err := time.LoadLocation(cfg.SlotTimezone); err != nil {
		return Config{}, fmt.Errorf("config: SLOT_TIMEZONE %q: %w", cfg.SlotTimezone, err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("kv_host", "localhost")
	v.SetDefault("kv_port", 6379)
	v.SetDefault("kv_password", "")
	v.SetDefault("kv_db", 0)

	v.SetDefault("upstream_base_url", "http://localhost:4000")

	v.SetDefault("rate_limit", 60)
	v.SetDefault("rate_window_ms", 60000)
	v.SetDefault("breaker_failure_threshold", 5)
	v.SetDefault("breaker_timeout_ms", 60000)
	v.SetDefault("breaker_success_threshold", 3)

	v.SetDefault("coalesce_batch_delay_ms", 50)
	v.SetDefault("fan_out_courts", 5)
	v.SetDefault("fan_out_slots", 10)

	v.SetDefault("prefetch_place_ids", []string{})

	v.SetDefault("slot_timezone", "UTC")
}

func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("kv_host", "KV_HOST")
	_ = v.BindEnv("kv_port", "KV_PORT")
	_ = v.BindEnv("kv_password", "KV_PASSWORD")
	_ = v.BindEnv("kv_db", "KV_DB")
	_ = v.BindEnv("upstream_base_url", "UPSTREAM_BASE_URL")
	_ = v.BindEnv("rate_limit", "RATE_LIMIT")
	_ = v.BindEnv("rate_window_ms", "RATE_WINDOW_MS")
	_ = v.BindEnv("breaker_failure_threshold", "BREAKER_FAILURE_THRESHOLD")
	_ = v.BindEnv("breaker_timeout_ms", "BREAKER_TIMEOUT_MS")
	_ = v.BindEnv("breaker_success_threshold", "BREAKER_SUCCESS_THRESHOLD")
	_ = v.BindEnv("coalesce_batch_delay_ms", "COALESCE_BATCH_DELAY_MS")
	_ = v.BindEnv("fan_out_courts", "FAN_OUT_COURTS")
	_ = v.BindEnv("fan_out_slots", "FAN_OUT_SLOTS")
	_ = v.BindEnv("prefetch_place_ids", "PREFETCH_PLACE_IDS")
	_ = v.BindEnv("slot_timezone", "SLOT_TIMEZONE")
	_ = v.BindEnv("environment", "ENVIRONMENT")
}
