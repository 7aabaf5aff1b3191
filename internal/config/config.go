// Package config handles application configuration from environment variables
// and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
)

// ErrHelp is returned by Load when usage was requested with --help.
var ErrHelp = errors.New("help requested")

type rawConfig struct {
	// Telegram
	TelegramBotToken      string        `long:"telegram-token" env:"TELEGRAM_BOT_TOKEN" description:"Telegram bot token (required)"`
	AllowedUsers          string        `long:"allowed-users" env:"ALLOWED_USERS" description:"Comma separated Telegram user IDs allowed to use the bot (empty allows everyone)"`
	NotificationChannelID int64         `long:"notification-channel" env:"NOTIFICATION_CHANNEL_ID" description:"Chat or channel ID receiving a copy of every notification"`
	SendTimeout           time.Duration `long:"send-timeout" env:"SEND_TIMEOUT" default:"30s" description:"How long a poller waits for a notification to be sent"`

	// Storage and logging
	DatabasePath string `long:"database" env:"DATABASE_PATH" default:"./data/bot.db" description:"SQLite database path"`
	LogLevel     string `long:"log-level" env:"LOG_LEVEL" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Log level"`

	// Marketplace
	SiteProfile   string `long:"site-profile" env:"SITE_PROFILE" description:"YAML site profile path (empty uses the built-in profile)"`
	UserAgent     string `long:"user-agent" env:"USER_AGENT" description:"User agent for marketplace requests"`
	FetchAttempts uint   `long:"fetch-attempts" env:"FETCH_ATTEMPTS" default:"3" description:"Attempts per marketplace request"`

	// AI fallback
	GeminiAPIKey string `long:"gemini-api-key" env:"GEMINI_API_KEY" description:"Gemini API key (empty disables the AI fallback)"`
	GeminiModel  string `long:"gemini-model" env:"GEMINI_MODEL" default:"gemini-2.5-flash" description:"Gemini model name"`

	// Polling
	PollInterval     time.Duration `long:"poll-interval" env:"POLL_INTERVAL" default:"15s" description:"Pause between two polling cycles"`
	IdleWait         time.Duration `long:"idle-wait" env:"IDLE_WAIT" default:"30s" description:"Pause when there is nothing to search"`
	AdDelay          time.Duration `long:"ad-delay" env:"AD_DELAY" default:"1s" description:"Pause between two notifications"`
	MaxPages         int           `long:"max-pages" env:"MAX_PAGES" default:"3" description:"Result pages read per filter and cycle"`
	StopTimeout      time.Duration `long:"stop-timeout" env:"STOP_TIMEOUT" default:"10s" description:"How long /stop waits for a poller to exit"`
	SessionRetention time.Duration `long:"session-retention" env:"SESSION_RETENTION" default:"1h" description:"Idle time after which a session is forgotten"`

	// Status API
	HTTPAddr string `long:"http-addr" env:"HTTP_ADDR" description:"Listen address of the status API (empty disables it)"`
}

// Config holds the application configuration.
type Config struct {
	TelegramBotToken      string
	DatabasePath          string
	LogLevel              string
	AllowedUsers          []int64
	NotificationChannelID int64
	SendTimeout           time.Duration

	SiteProfile   string
	UserAgent     string
	FetchAttempts uint

	GeminiAPIKey string
	GeminiModel  string

	PollInterval     time.Duration
	IdleWait         time.Duration
	AdDelay          time.Duration
	MaxPages         int
	StopTimeout      time.Duration
	SessionRetention time.Duration

	HTTPAddr string
}

// Load reads configuration from the process arguments and environment.
func Load() (*Config, error) {
	return LoadArgs(os.Args[1:])
}

// LoadArgs reads configuration from args and the environment. Flags take
// precedence over environment variables.
func LoadArgs(args []string) (*Config, error) {
	var raw rawConfig

	parser := flags.NewParser(&raw, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, flagsErr.Message)
			return nil, ErrHelp
		}
		return nil, fmt.Errorf("parse configuration: %w", err)
	}

	if raw.TelegramBotToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if raw.MaxPages < 1 {
		return nil, fmt.Errorf("MAX_PAGES must be at least 1, got %d", raw.MaxPages)
	}

	allowedUsers, err := parseUserIDs(raw.AllowedUsers)
	if err != nil {
		return nil, err
	}

	return &Config{
		TelegramBotToken:      raw.TelegramBotToken,
		DatabasePath:          raw.DatabasePath,
		LogLevel:              raw.LogLevel,
		AllowedUsers:          allowedUsers,
		NotificationChannelID: raw.NotificationChannelID,
		SendTimeout:           raw.SendTimeout,
		SiteProfile:           raw.SiteProfile,
		UserAgent:             raw.UserAgent,
		FetchAttempts:         raw.FetchAttempts,
		GeminiAPIKey:          raw.GeminiAPIKey,
		GeminiModel:           raw.GeminiModel,
		PollInterval:          raw.PollInterval,
		IdleWait:              raw.IdleWait,
		AdDelay:               raw.AdDelay,
		MaxPages:              raw.MaxPages,
		StopTimeout:           raw.StopTimeout,
		SessionRetention:      raw.SessionRetention,
		HTTPAddr:              raw.HTTPAddr,
	}, nil
}

func parseUserIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		uid, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USERS: %w", s, err)
		}
		ids = append(ids, uid)
	}
	return ids, nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}
