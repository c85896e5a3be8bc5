// Package config loads operator configuration: viper reading environment
// variables (plus an optional YAML config file: booker.yaml in the working
// directory, or an explicit path) with SetDefault calls,
// then decoded into typed structs via mapstructure tags.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/trytofly94/squash-booker/internal/bookingerr"
)

// TimePreference is one entry of the operator's time-preference list.
type TimePreference struct {
	StartTime   string `mapstructure:"startTime"`
	Priority    int    `mapstructure:"priority"`    // 1..10
	Flexibility int    `mapstructure:"flexibility"` // minutes
}

// CourtScoringWeights must sum to 1 (validated in Validate).
type CourtScoringWeights struct {
	Availability float64 `mapstructure:"availability"`
	Historical   float64 `mapstructure:"historical"`
	Preference   float64 `mapstructure:"preference"`
	Position     float64 `mapstructure:"position"`
}

// RetryConfig configures RetryEngine backoff.
type RetryConfig struct {
	MaxAttempts       int           `mapstructure:"maxAttempts"`
	InitialDelay      time.Duration `mapstructure:"initialDelay"`
	MaxDelay          time.Duration `mapstructure:"maxDelay"`
	BackoffMultiplier float64       `mapstructure:"backoffMultiplier"`
	JitterRatio       float64       `mapstructure:"jitterRatio"`
}

// CircuitBreakerConfig configures the CircuitBreaker state machine.
type CircuitBreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	FailureThreshold int           `mapstructure:"failureThreshold"`
	OpenTimeout      time.Duration `mapstructure:"openTimeoutMs"`
	SuccessThreshold int           `mapstructure:"successThreshold"`
	ResetOnSuccess   bool          `mapstructure:"resetOnSuccess"`
}

// SelectorCacheConfig configures the LRU+TTL SelectorCache.
type SelectorCacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	MaxSize int           `mapstructure:"maxSize"`
	TTL     time.Duration `mapstructure:"ttlMs"`
}

// SuccessDetectionConfig configures SuccessDetector.
type SuccessDetectionConfig struct {
	NetworkTimeout    time.Duration `mapstructure:"networkTimeout"`
	DOMTimeout        time.Duration `mapstructure:"domTimeout"`
	URLCheckInterval  time.Duration `mapstructure:"urlCheckInterval"`
	EnableNetwork     bool          `mapstructure:"enableNetwork"`
	EnableDOM         bool          `mapstructure:"enableDom"`
	EnableURL         bool          `mapstructure:"enableUrl"`
	EnableTextFallback bool         `mapstructure:"enableTextFallback"`
	// TextKeywords is the configurable multilingual success-keyword
	// dictionary for the text-fallback detector.
	TextKeywords []string `mapstructure:"textKeywords"`
}

// PatternLearningConfig configures PatternStore behavior.
type PatternLearningConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	RetentionDays int          `mapstructure:"retentionDays"`
	MinAttempts  int           `mapstructure:"minAttempts"`
	// Backend selects the PatternStore implementation: "file" (the
	// default JSON document) or "redis".
	Backend string `mapstructure:"backend"`
	// FilePath is used when Backend == "file".
	FilePath string `mapstructure:"filePath"`
	// RedisAddr/RedisDB/RedisKeyPrefix are used when Backend == "redis".
	RedisAddr      string `mapstructure:"redisAddr"`
	RedisDB        int    `mapstructure:"redisDb"`
	RedisKeyPrefix string `mapstructure:"redisKeyPrefix"`
}

// Config is the full operator configuration.
type Config struct {
	DaysAhead           int                    `mapstructure:"daysAhead"`
	TargetStartTime     string                 `mapstructure:"targetStartTime"`
	Duration            int                    `mapstructure:"duration"`
	Timezone            string                 `mapstructure:"timezone"`
	PreferredCourts     []string               `mapstructure:"preferredCourts"`
	FallbackTimeRange   int                    `mapstructure:"fallbackTimeRange"`
	CourtScoringWeights CourtScoringWeights    `mapstructure:"courtScoringWeights"`
	TimePreferences     []TimePreference       `mapstructure:"timePreferences"`
	Retry               RetryConfig            `mapstructure:"retry"`
	CircuitBreaker      CircuitBreakerConfig   `mapstructure:"circuitBreaker"`
	SelectorCache       SelectorCacheConfig    `mapstructure:"selectorCache"`
	SuccessDetection    SuccessDetectionConfig `mapstructure:"successDetection"`
	PatternLearning     PatternLearningConfig  `mapstructure:"patternLearning"`
	DryRun              bool                   `mapstructure:"dryRun"`
	OutputDir           string                 `mapstructure:"outputDir"`
	LogLevel            string                 `mapstructure:"logLevel"`
	Production          bool                   `mapstructure:"production"`
	BaseURL             string                 `mapstructure:"baseUrl"`
}

// Load reads configuration from environment variables (prefixed BOOKER_)
// and an optional config file, applying defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("booker")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("BOOKER")
	v.AutomaticEnv()

	setDefaults(v)

	// A missing config file is fine; env vars and defaults still apply.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, bookingerr.New(bookingerr.KindInvalidConfig, "config", "reading config file", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, bookingerr.New(bookingerr.KindInvalidConfig, "config", "decoding config", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("daysAhead", 21)
	v.SetDefault("targetStartTime", "14:00")
	v.SetDefault("duration", 60)
	v.SetDefault("timezone", "Europe/Vienna")
	v.SetDefault("fallbackTimeRange", 120)
	v.SetDefault("courtScoringWeights.availability", 0.4)
	v.SetDefault("courtScoringWeights.historical", 0.3)
	v.SetDefault("courtScoringWeights.preference", 0.2)
	v.SetDefault("courtScoringWeights.position", 0.1)

	v.SetDefault("retry.maxAttempts", 3)
	v.SetDefault("retry.initialDelay", "500ms")
	v.SetDefault("retry.maxDelay", "10s")
	v.SetDefault("retry.backoffMultiplier", 2.0)
	v.SetDefault("retry.jitterRatio", 0.2)

	v.SetDefault("circuitBreaker.enabled", true)
	v.SetDefault("circuitBreaker.failureThreshold", 5)
	v.SetDefault("circuitBreaker.openTimeoutMs", "30s")
	v.SetDefault("circuitBreaker.successThreshold", 2)
	v.SetDefault("circuitBreaker.resetOnSuccess", true)

	v.SetDefault("selectorCache.enabled", true)
	v.SetDefault("selectorCache.maxSize", 256)
	v.SetDefault("selectorCache.ttlMs", "10m")

	v.SetDefault("successDetection.networkTimeout", "15s")
	v.SetDefault("successDetection.domTimeout", "10s")
	v.SetDefault("successDetection.urlCheckInterval", "500ms")
	v.SetDefault("successDetection.enableNetwork", true)
	v.SetDefault("successDetection.enableDom", true)
	v.SetDefault("successDetection.enableUrl", true)
	v.SetDefault("successDetection.enableTextFallback", false)
	v.SetDefault("successDetection.textKeywords", []string{
		"booking confirmed", "reservation confirmed", "successfully booked",
		"buchung bestätigt", "reservierung bestätigt", "erfolgreich gebucht",
	})

	v.SetDefault("patternLearning.enabled", true)
	v.SetDefault("patternLearning.retentionDays", 180)
	v.SetDefault("patternLearning.minAttempts", 5)
	v.SetDefault("patternLearning.backend", "file")
	v.SetDefault("patternLearning.filePath", "data/patterns.json")
	v.SetDefault("patternLearning.redisAddr", "localhost:6379")
	v.SetDefault("patternLearning.redisDb", 0)
	v.SetDefault("patternLearning.redisKeyPrefix", "booker:pattern:")

	v.SetDefault("dryRun", true)
	v.SetDefault("outputDir", "data/reports")
	v.SetDefault("logLevel", "info")
	v.SetDefault("production", false)
	v.SetDefault("baseUrl", "https://www.eversports.de/")
}

// Validate enforces the configuration invariants before the engine runs;
// an invalid configuration is fatal at startup.
func (c *Config) Validate() error {
	sum := c.CourtScoringWeights.Availability + c.CourtScoringWeights.Historical +
		c.CourtScoringWeights.Preference + c.CourtScoringWeights.Position
	if sum < 0.999 || sum > 1.001 {
		return bookingerr.New(bookingerr.KindInvalidConfig, "config",
			fmt.Sprintf("courtScoringWeights must sum to 1, got %f", sum), nil)
	}
	if c.DaysAhead < 0 {
		return bookingerr.New(bookingerr.KindInvalidConfig, "config", "daysAhead must be >= 0", nil)
	}
	if c.Duration%30 != 0 || c.Duration <= 0 {
		return bookingerr.New(bookingerr.KindInvalidConfig, "config", "duration must be a positive multiple of 30", nil)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return bookingerr.New(bookingerr.KindInvalidConfig, "config", "invalid timezone", err)
	}
	for _, p := range c.TimePreferences {
		if p.Priority < 1 || p.Priority > 10 {
			return bookingerr.New(bookingerr.KindInvalidConfig, "config",
				fmt.Sprintf("timePreference priority out of range: %d", p.Priority), nil)
		}
	}
	return nil
}
