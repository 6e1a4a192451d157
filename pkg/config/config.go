package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so admin_users can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	// Try []interface{} to handle mixed types
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Bot       BotConfig       `json:"bot"`
	Markov    MarkovConfig    `json:"markov"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Channels  ChannelsConfig  `json:"channels"`
	Storage   StorageConfig   `json:"storage"`
	Gateway   GatewayConfig   `json:"gateway"`
	mu        sync.RWMutex
}

type BotConfig struct {
	TriggerWords FlexibleStringSlice `json:"trigger_words" env:"MARKY_BOT_TRIGGER_WORDS"`
	AdminUsers   FlexibleStringSlice `json:"admin_users" env:"MARKY_BOT_ADMIN_USERS"`
	LogLevel     string              `json:"log_level" env:"MARKY_BOT_LOG_LEVEL"`
}

// MarkovConfig holds the per-conversation defaults. Every field here can be
// overridden per conversation through the settings commands.
type MarkovConfig struct {
	DefaultOrder         int     `json:"default_order" env:"MARKY_MARKOV_DEFAULT_ORDER"`
	RandomReplyChance    float64 `json:"random_reply_chance" env:"MARKY_MARKOV_RANDOM_REPLY_CHANCE"`
	WordFromUserChance   float64 `json:"word_from_user_chance" env:"MARKY_MARKOV_WORD_FROM_USER_CHANCE"`
	InactivityThreshold  int     `json:"inactivity_threshold" env:"MARKY_MARKOV_INACTIVITY_THRESHOLD"` // seconds
	MaxGeneratedTokens   int     `json:"max_generated_tokens" env:"MARKY_MARKOV_MAX_GENERATED_TOKENS"`
}

type SchedulerConfig struct {
	CheckInterval int    `json:"check_interval" env:"MARKY_SCHEDULER_CHECK_INTERVAL"` // seconds
	ActiveHours   string `json:"active_hours" env:"MARKY_SCHEDULER_ACTIVE_HOURS"`     // cron expression, empty = always
}

type ChannelsConfig struct {
	Discord DiscordConfig `json:"discord"`
}

type DiscordConfig struct {
	Token     string              `json:"token" env:"MARKY_CHANNELS_DISCORD_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"MARKY_CHANNELS_DISCORD_ALLOW_FROM"`
}

type StorageConfig struct {
	DatabasePath  string `json:"database_path" env:"MARKY_STORAGE_DATABASE_PATH"`
	FlushInterval int    `json:"flush_interval" env:"MARKY_STORAGE_FLUSH_INTERVAL"` // seconds
	MaxFeedFileKB int    `json:"max_feed_file_kb" env:"MARKY_STORAGE_MAX_FEED_FILE_KB"`
}

type GatewayConfig struct {
	Host string `json:"host" env:"MARKY_GATEWAY_HOST"`
	Port int    `json:"port" env:"MARKY_GATEWAY_PORT"`
}

func DefaultConfig() *Config {
	return &Config{
		Bot: BotConfig{
			TriggerWords: FlexibleStringSlice{"marky"},
			AdminUsers:   FlexibleStringSlice{},
			LogLevel:     "INFO",
		},
		Markov: MarkovConfig{
			DefaultOrder:        2,
			RandomReplyChance:   0.01,
			WordFromUserChance:  0.6,
			InactivityThreshold: 6 * 3600,
			MaxGeneratedTokens:  30,
		},
		Scheduler: SchedulerConfig{
			CheckInterval: 300,
			ActiveHours:   "",
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				Token:     "",
				AllowFrom: FlexibleStringSlice{},
			},
		},
		Storage: StorageConfig{
			DatabasePath:  "~/.marky/state/marky.db",
			FlushInterval: 60,
			MaxFeedFileKB: 1024,
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 18791,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if envErr := env.Parse(cfg); envErr != nil {
				return nil, envErr
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) DatabasePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Storage.DatabasePath)
}

// Validate rejects settings that would put the engine into a state the
// chain store cannot represent.
func (c *Config) Validate() error {
	if c.Markov.DefaultOrder < 1 {
		return fmt.Errorf("markov.default_order must be >= 1, got %d", c.Markov.DefaultOrder)
	}
	if c.Markov.RandomReplyChance < 0 || c.Markov.RandomReplyChance > 1 {
		return fmt.Errorf("markov.random_reply_chance must be in [0,1], got %v", c.Markov.RandomReplyChance)
	}
	if c.Markov.WordFromUserChance < 0 || c.Markov.WordFromUserChance > 1 {
		return fmt.Errorf("markov.word_from_user_chance must be in [0,1], got %v", c.Markov.WordFromUserChance)
	}
	if c.Markov.InactivityThreshold < 0 {
		return fmt.Errorf("markov.inactivity_threshold must be >= 0, got %d", c.Markov.InactivityThreshold)
	}
	if c.Markov.MaxGeneratedTokens < 1 {
		return fmt.Errorf("markov.max_generated_tokens must be >= 1, got %d", c.Markov.MaxGeneratedTokens)
	}
	if c.Scheduler.CheckInterval < 1 {
		return fmt.Errorf("scheduler.check_interval must be >= 1, got %d", c.Scheduler.CheckInterval)
	}
	return nil
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
