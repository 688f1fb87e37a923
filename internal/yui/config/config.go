// Package config loads the application configuration: a YAML file for
// tunables, environment variables for secrets and overrides. Every knob has
// a default; an empty config file yields a runnable setup except for the two
// required secrets (bot token, API key).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gungold-XwX/yui-telegram-bot/common/environment"
)

// Telegram holds the transport settings.
type Telegram struct {
	Token string `yaml:"token"`
}

// OpenAI holds the generation backend settings.
type OpenAI struct {
	APIKey         string  `yaml:"api_key"`
	BaseURL        string  `yaml:"base_url"`
	Model          string  `yaml:"model"`
	Temperature    float32 `yaml:"temperature"`
	TopP           float32 `yaml:"top_p"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// History bounds the generation context window.
type History struct {
	GeneralLimit int `yaml:"general_limit"`
	UserLimit    int `yaml:"user_limit"`
}

// Typing shapes the simulated typing delay.
type Typing struct {
	PerRuneMillis int `yaml:"per_rune_ms"`
	MinSeconds    int `yaml:"min_seconds"`
	MaxSeconds    int `yaml:"max_seconds"`
}

// Interjection tunes uninvited group replies.
type Interjection struct {
	CooldownSeconds int      `yaml:"cooldown_seconds"`
	HourlyCap       int      `yaml:"hourly_cap"`
	Probability     float64  `yaml:"probability"`
	AddressPrefixes []string `yaml:"address_prefixes"`
}

// Window is an inclusive-start, exclusive-end range of local clock hours.
type Window struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// Proactive tunes the autonomous-speech scheduler.
type Proactive struct {
	TickSeconds           int     `yaml:"tick_seconds"`
	DailyCapPrivate       int     `yaml:"daily_cap_private"`
	DailyCapGroup         int     `yaml:"daily_cap_group"`
	GlobalCooldownMinutes int     `yaml:"global_cooldown_minutes"`
	Quiet                 Window  `yaml:"quiet"`
	Morning               Window  `yaml:"morning"`
	Evening               Window  `yaml:"evening"`
	MorningProbPrivate    float64 `yaml:"morning_prob_private"`
	MorningProbGroup      float64 `yaml:"morning_prob_group"`
	EveningProbPrivate    float64 `yaml:"evening_prob_private"`
	EveningProbGroup      float64 `yaml:"evening_prob_group"`
	CheckinMinHours       int     `yaml:"checkin_min_hours"`
	CheckinMaxHours       int     `yaml:"checkin_max_hours"`
	CheckinProb           float64 `yaml:"checkin_prob"`
	AmbientIdleMinutes    int     `yaml:"ambient_idle_minutes"`
	AmbientProb           float64 `yaml:"ambient_prob"`
}

// Summary tunes the digest state machine.
type Summary struct {
	TriggerCount       int `yaml:"trigger_count"`
	MinCount           int `yaml:"min_count"`
	TimeThresholdHours int `yaml:"time_threshold_hours"`
	MinIntervalMinutes int `yaml:"min_interval_minutes"`
	MaxWindow          int `yaml:"max_window"`
}

// Config is the full application configuration.
type Config struct {
	Telegram          Telegram     `yaml:"telegram"`
	OpenAI            OpenAI       `yaml:"openai"`
	DatabasePath      string       `yaml:"database_path"`
	HealthAddr        string       `yaml:"health_addr"`
	TimeZone          string       `yaml:"timezone"`
	Persona           string       `yaml:"persona"`
	FallbackReplies   []string     `yaml:"fallback_replies"`
	PrivilegedUserIDs []int64      `yaml:"privileged_user_ids"`
	MaxOutputTokens   int          `yaml:"max_output_tokens"`
	History           History      `yaml:"history"`
	Typing            Typing       `yaml:"typing"`
	Interjection      Interjection `yaml:"interjection"`
	Proactive         Proactive    `yaml:"proactive"`
	Summary           Summary      `yaml:"summary"`
}

// Default returns the configuration with every tunable at its default and
// secrets empty.
func Default() *Config {
	return &Config{
		OpenAI: OpenAI{
			Model:          "gpt-4o-mini",
			Temperature:    0.6,
			TopP:           0.9,
			TimeoutSeconds: 60,
		},
		DatabasePath:    "./yui.db",
		HealthAddr:      ":8080",
		MaxOutputTokens: 420,
		History:         History{GeneralLimit: 18, UserLimit: 6},
		Typing:          Typing{PerRuneMillis: 70, MinSeconds: 2, MaxSeconds: 14},
		Interjection: Interjection{
			CooldownSeconds: 900,
			HourlyCap:       2,
			Probability:     0.3,
		},
		Proactive: Proactive{
			TickSeconds:           60,
			DailyCapPrivate:       3,
			DailyCapGroup:         1,
			GlobalCooldownMinutes: 90,
			Quiet:                 Window{Start: 23, End: 9},
			Morning:               Window{Start: 8, End: 11},
			Evening:               Window{Start: 19, End: 23},
			MorningProbPrivate:    0.5,
			MorningProbGroup:      0.15,
			EveningProbPrivate:    0.5,
			EveningProbGroup:      0.15,
			CheckinMinHours:       36,
			CheckinMaxHours:       96,
			CheckinProb:           0.6,
			AmbientIdleMinutes:    180,
			AmbientProb:           0.07,
		},
		Summary: Summary{
			TriggerCount:       25,
			MinCount:           8,
			TimeThresholdHours: 6,
			MinIntervalMinutes: 30,
			MaxWindow:          60,
		},
	}
}

// Load reads path (optional; "" skips the file), applies environment
// overrides, and validates. File values override defaults; environment
// values override the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Telegram.Token = environment.StringOr("TELEGRAM_TOKEN", c.Telegram.Token)
	c.OpenAI.APIKey = environment.StringOr("OPENAI_API_KEY", c.OpenAI.APIKey)
	c.OpenAI.BaseURL = environment.StringOr("OPENAI_BASE_URL", c.OpenAI.BaseURL)
	c.OpenAI.Model = environment.StringOr("OPENAI_MODEL", c.OpenAI.Model)
	c.DatabasePath = environment.StringOr("DATABASE_PATH", c.DatabasePath)
	c.HealthAddr = environment.StringOr("HEALTH_ADDR", c.HealthAddr)
	c.TimeZone = environment.StringOr("YUI_TIMEZONE", c.TimeZone)
	if ids := parseIDList(environment.StringSliceOr("YUI_PRIVILEGED_IDS", nil)); len(ids) > 0 {
		c.PrivilegedUserIDs = ids
	}
}

func parseIDList(parts []string) []int64 {
	var ids []int64
	for _, s := range parts {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// Validate checks required secrets and rejects nonsensical ranges.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("config: telegram token is required (TELEGRAM_TOKEN)")
	}
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("config: OpenAI API key is required (OPENAI_API_KEY)")
	}
	if c.Proactive.CheckinMinHours > c.Proactive.CheckinMaxHours {
		return fmt.Errorf("config: checkin_min_hours %d exceeds checkin_max_hours %d",
			c.Proactive.CheckinMinHours, c.Proactive.CheckinMaxHours)
	}
	if c.Typing.MinSeconds > c.Typing.MaxSeconds {
		return fmt.Errorf("config: typing min_seconds %d exceeds max_seconds %d",
			c.Typing.MinSeconds, c.Typing.MaxSeconds)
	}
	for _, w := range []struct {
		name string
		w    Window
	}{
		{"quiet", c.Proactive.Quiet},
		{"morning", c.Proactive.Morning},
		{"evening", c.Proactive.Evening},
	} {
		if w.w.Start < 0 || w.w.Start > 23 || w.w.End < 0 || w.w.End > 24 {
			return fmt.Errorf("config: %s window hours out of range: %d-%d", w.name, w.w.Start, w.w.End)
		}
	}
	return nil
}

// Location resolves the configured time zone, defaulting to the process
// zone.
func (c *Config) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}
