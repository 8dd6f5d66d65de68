// Package config provides configuration loading, validation, and management
// for the bot. It reads a YAML file through viper, applies BOT_* environment
// overrides and default values, and validates the result.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	errs "github.com/edgard/chatmemory/internal/errors"
)

// Config defines the application configuration for all components.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	AI        AIConfig        `mapstructure:"ai"`
	Database  DatabaseConfig  `mapstructure:"database"`
	History   HistoryConfig   `mapstructure:"history"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Admission AdmissionConfig `mapstructure:"admission"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Messages  MessagesConfig  `mapstructure:"messages"`
}

type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// TelegramConfig holds transport settings and the owner identity.
// BotID and BotName are filled at runtime from the bot's own account.
type TelegramConfig struct {
	Token       string `mapstructure:"token"        validate:"required"`
	OwnerID     string `mapstructure:"owner_id"     validate:"required,numeric"`
	ChatCommand string `mapstructure:"chat_command" validate:"required"`

	BotID   string `mapstructure:"-"`
	BotName string `mapstructure:"-"`
}

// AIConfig configures the completion provider and the retry protocol around it.
type AIConfig struct {
	Provider        string        `mapstructure:"provider"         validate:"oneof=openai gemini"`
	BaseURL         string        `mapstructure:"base_url"         validate:"omitempty,url"`
	APIKey          string        `mapstructure:"api_key"          validate:"required"`
	Model           string        `mapstructure:"model"            validate:"required"`
	MaxTokens       int           `mapstructure:"max_tokens"       validate:"gt=0"`
	Temperature     float32       `mapstructure:"temperature"      validate:"min=0,max=2"`
	MaxRetries      int           `mapstructure:"max_retries"      validate:"min=1,max=20"`
	AttemptTimeout  time.Duration `mapstructure:"attempt_timeout"  validate:"min=1s,max=10m"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"    validate:"min=0,max=1m"`
	RequestDeadline time.Duration `mapstructure:"request_deadline" validate:"min=1s"`
	Persona         string        `mapstructure:"persona"          validate:"required"`
}

type DatabaseConfig struct {
	Dir string `mapstructure:"dir" validate:"required"`
}

// HistoryConfig sets the per-conversation cache bounds.
type HistoryConfig struct {
	GroupSize   int `mapstructure:"group_size"   validate:"min=1,max=1000"`
	PrivateSize int `mapstructure:"private_size" validate:"min=1,max=1000"`
}

// DispatchConfig controls reply segmentation and pacing.
type DispatchConfig struct {
	Separator string        `mapstructure:"separator" validate:"required"`
	MinDelay  time.Duration `mapstructure:"min_delay" validate:"min=0"`
	MaxDelay  time.Duration `mapstructure:"max_delay" validate:"min=0"`
	Fallback  string        `mapstructure:"fallback"  validate:"required"`
}

// AdmissionConfig selects the busy-flag granularity: one in-flight request
// per conversation or per user.
type AdmissionConfig struct {
	Mode string `mapstructure:"mode" validate:"oneof=conversation user"`
}

type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks" validate:"dive"`
}

type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule" validate:"required_if=Enabled true"`
}

// MessagesConfig holds user-facing replies for the command surface.
type MessagesConfig struct {
	Help           string `mapstructure:"help"             validate:"required"`
	NotAuthorized  string `mapstructure:"not_authorized"   validate:"required"`
	GeneralError   string `mapstructure:"general_error"    validate:"required"`
	InvalidNumber  string `mapstructure:"invalid_number"   validate:"required"`
	BlockUsage     string `mapstructure:"block_usage"      validate:"required"`
	InvalidUserID  string `mapstructure:"invalid_user_id"  validate:"required"`
	ClearedAll     string `mapstructure:"cleared_all"      validate:"required"`
	ClearedLatest  string `mapstructure:"cleared_latest"   validate:"required"`
	Blocked        string `mapstructure:"blocked"          validate:"required"`
	OwnerProtected string `mapstructure:"owner_protected"  validate:"required"`
	Unblocked      string `mapstructure:"unblocked"        validate:"required"`
	NotBlocked     string `mapstructure:"not_blocked"      validate:"required"`
	UnblockedAll   string `mapstructure:"unblocked_all"    validate:"required"`
	NoBlockedUsers string `mapstructure:"no_blocked_users" validate:"required"`
	BlockedEntry   string `mapstructure:"blocked_entry"    validate:"required"`
}

var defaults = map[string]any{
	"logger.level": "info",
	"logger.json":  false,

	"telegram.chat_command": "chat",

	"ai.provider":         "openai",
	"ai.base_url":         "https://api.openai.com/v1",
	"ai.model":            "gpt-4o-mini",
	"ai.max_tokens":       1024,
	"ai.temperature":      0.7,
	"ai.max_retries":      3,
	"ai.attempt_timeout":  60 * time.Second,
	"ai.retry_backoff":    time.Second,
	"ai.request_deadline": 4 * time.Minute,
	"ai.persona":          "You are a friendly member of this chat. Reply briefly and naturally. Use | to split your reply into separate messages.",

	"database.dir": "data",

	"history.group_size":   50,
	"history.private_size": 30,

	"dispatch.separator": "|",
	"dispatch.min_delay": 1111 * time.Millisecond,
	"dispatch.max_delay": 3333 * time.Millisecond,
	"dispatch.fallback":  "...",

	"admission.mode": "conversation",

	"scheduler.tasks.block_sweep.enabled":      true,
	"scheduler.tasks.block_sweep.schedule":     "0 * * * * *",
	"scheduler.tasks.sql_maintenance.enabled":  true,
	"scheduler.tasks.sql_maintenance.schedule": "0 0 4 * * *",

	"messages.help":             "Use /chat followed by your message to talk to me.",
	"messages.not_authorized":   "You are not authorized to use this command.",
	"messages.general_error":    "An error occurred. Please try again later.",
	"messages.invalid_number":   "Please provide a positive number.",
	"messages.block_usage":      "Usage: /block <user_id> <duration><s|m|h>",
	"messages.invalid_user_id":  "Please provide a valid numeric user ID.",
	"messages.cleared_all":      "All memory for this chat has been cleared.",
	"messages.cleared_latest":   "Cleared the latest %d messages from memory.",
	"messages.blocked":          "Blocked user %s for %s.",
	"messages.owner_protected":  "The owner cannot be blocked.",
	"messages.unblocked":        "Unblocked user %s.",
	"messages.not_blocked":      "User %s is not blocked.",
	"messages.unblocked_all":    "All users have been unblocked.",
	"messages.no_blocked_users": "No users are currently blocked.",
	"messages.blocked_entry":    "User %s, remaining: %s",
}

// Secrets and identities without defaults still need env bindings so that
// BOT_TELEGRAM_TOKEN and friends reach Unmarshal.
var envOnlyKeys = []string{"telegram.token", "telegram.owner_id", "ai.api_key"}

// Load reads configuration from path (missing file is allowed), applies
// defaults and BOT_* environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	startTime := time.Now()
	slog.Info("loading configuration", "path", path)

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envOnlyKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, errs.NewConfigError("failed to bind environment variable", err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, errs.NewConfigError("failed to read config file", err)
			}
			slog.Info("configuration file not found, using defaults", "path", path)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errs.NewConfigError("failed to parse config", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	slog.Info("configuration loaded successfully",
		"log_level", cfg.Logger.Level,
		"ai_provider", cfg.AI.Provider,
		"ai_model", cfg.AI.Model,
		"database_dir", cfg.Database.Dir,
		"duration_ms", time.Since(startTime).Milliseconds())

	slog.Debug("detailed configuration",
		"max_retries", cfg.AI.MaxRetries,
		"attempt_timeout", cfg.AI.AttemptTimeout,
		"group_size", cfg.History.GroupSize,
		"private_size", cfg.History.PrivateSize,
		"admission_mode", cfg.Admission.Mode)

	return cfg, nil
}

// Validate checks struct tags and the constraints that span several fields.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errs.NewConfigError("configuration validation failed", err)
	}
	if c.AI.Provider == "openai" && c.AI.BaseURL == "" {
		return errs.NewConfigError("ai.base_url is required for the openai provider", nil)
	}
	if utf8.RuneCountInString(c.Dispatch.Separator) != 1 {
		return errs.NewConfigError(fmt.Sprintf("dispatch.separator must be a single character, got %q", c.Dispatch.Separator), nil)
	}
	if c.Dispatch.MinDelay > c.Dispatch.MaxDelay {
		return errs.NewConfigError(fmt.Sprintf("dispatch.min_delay (%s) exceeds dispatch.max_delay (%s)", c.Dispatch.MinDelay, c.Dispatch.MaxDelay), nil)
	}
	return nil
}
