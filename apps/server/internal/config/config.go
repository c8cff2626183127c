// Package config loads server settings from the environment, optionally
// preloaded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"playprofile/apps/server/internal/database"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Addr        string `env:"PLAYPROFILE_ADDR" envDefault:":8080"`
	StoreMode   string `env:"PLAYPROFILE_STORE_MODE" envDefault:"memory"`
	SQLitePath  string `env:"PLAYPROFILE_SQLITE_PATH" envDefault:"data/playprofile.db"`
	DatabaseDSN string `env:"PLAYPROFILE_DATABASE_DSN"`

	RulesDir        string `env:"PLAYPROFILE_RULES_DIR"`
	RulesFile       string `env:"PLAYPROFILE_RULES_FILE"`
	FallbackRuleset string `env:"PLAYPROFILE_FALLBACK_RULESET"`
	PolicyFile      string `env:"PLAYPROFILE_POLICY_FILE"`

	HistoryWindow int     `env:"PLAYPROFILE_HISTORY_WINDOW" envDefault:"0"`
	TrendEpsilon  float64 `env:"PLAYPROFILE_TREND_EPSILON" envDefault:"0.02"`
	Overlap       string  `env:"PLAYPROFILE_OVERLAP_POLICY" envDefault:"union"`
	Parallelism   int     `env:"PLAYPROFILE_PARALLELISM" envDefault:"0"`
	RecentLimit   int     `env:"PLAYPROFILE_RECENT_LIMIT" envDefault:"20"`

	SessionTTL     time.Duration `env:"PLAYPROFILE_SESSION_TTL" envDefault:"720h"`
	StreamIdleTTL  time.Duration `env:"PLAYPROFILE_STREAM_IDLE_TTL" envDefault:"30m"`
	AllowedOrigins []string      `env:"PLAYPROFILE_WS_ORIGINS" envSeparator:","`

	LogLevel  string `env:"PLAYPROFILE_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"PLAYPROFILE_LOG_FORMAT" envDefault:"json"`
}

// Load reads envFile (when it exists) into the process environment without
// overriding variables that are already set, then parses Config.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	mode, err := database.NormalizeMode(cfg.StoreMode)
	if err != nil {
		return Config{}, err
	}
	cfg.StoreMode = mode
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.RulesDir) == "" && strings.TrimSpace(c.RulesFile) == "" {
		return errors.New("one of PLAYPROFILE_RULES_DIR or PLAYPROFILE_RULES_FILE is required")
	}
	if c.StoreMode == database.ModePostgres && strings.TrimSpace(c.DatabaseDSN) == "" {
		return errors.New("PLAYPROFILE_DATABASE_DSN is required in postgres mode")
	}
	if c.HistoryWindow < 0 {
		return fmt.Errorf("PLAYPROFILE_HISTORY_WINDOW must be >= 0, got %d", c.HistoryWindow)
	}
	if c.TrendEpsilon < 0 {
		return fmt.Errorf("PLAYPROFILE_TREND_EPSILON must be >= 0, got %v", c.TrendEpsilon)
	}
	if c.Overlap != "union" && c.Overlap != "sum" {
		return fmt.Errorf("PLAYPROFILE_OVERLAP_POLICY must be union or sum, got %q", c.Overlap)
	}
	return nil
}

// NewLogger builds the process logger from the logging settings.
func (c Config) NewLogger() (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	logger.SetLevel(level)
	if strings.EqualFold(c.LogFormat, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339Nano})
	}
	return logger, nil
}
