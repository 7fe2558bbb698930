package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

type AppConfig struct {
	BotToken         string
	PerplexityAPIKey string

	AdminID        int64
	AllowedChatIDs []int64

	WakeWord string

	RedisURL    string
	DatabaseURL string

	// Directory persistence (file backend).
	UsersFile string
	NicksFile string

	AnswerMaxChars int
	MaxImageBytes  int

	MsgOverrideDir string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		WakeWord:       "улитка",
		UsersFile:      "users_db.json",
		NicksFile:      "nicks.json",
		AnswerMaxChars: 3500,
		MaxImageBytes:  20 * 1024 * 1024,
	}

	cfg.BotToken = strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	cfg.PerplexityAPIKey = strings.TrimSpace(os.Getenv("PERPLEXITY_API_KEY"))

	if v := strings.TrimSpace(os.Getenv("ADMIN_ID")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, errors.New("ADMIN_ID must be an integer")
		}
		cfg.AdminID = n
	}

	if v := strings.TrimSpace(os.Getenv("ALLOWED_CHAT_IDS")); v != "" {
		for _, p := range strings.Split(v, ",") {
			s := strings.TrimSpace(p)
			if s == "" {
				continue
			}
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, errors.New("ALLOWED_CHAT_IDS must be a comma-separated list of integers")
			}
			cfg.AllowedChatIDs = append(cfg.AllowedChatIDs, n)
		}
	}

	// Wake-word matching lowercases the message text, so the word itself
	// must be stored lowercase too.
	if v := strings.TrimSpace(os.Getenv("BOT_WAKE_WORD")); v != "" {
		cfg.WakeWord = strings.ToLower(v)
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	if v := strings.TrimSpace(os.Getenv("USERS_FILE")); v != "" {
		cfg.UsersFile = v
	}
	if v := strings.TrimSpace(os.Getenv("NICKS_FILE")); v != "" {
		cfg.NicksFile = v
	}

	if v := strings.TrimSpace(os.Getenv("ANSWER_MAX_CHARS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.AnswerMaxChars = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MAX_IMAGE_BYTES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxImageBytes = n
		}
	}

	cfg.MsgOverrideDir = strings.TrimSpace(os.Getenv("MSG_OVERRIDE_DIR"))

	if cfg.BotToken == "" {
		return nil, errors.New("BOT_TOKEN is required")
	}
	if cfg.PerplexityAPIKey == "" {
		return nil, errors.New("PERPLEXITY_API_KEY is required")
	}

	return cfg, nil
}

// ChatAllowed reports whether a group chat id is on the allow-list.
func (c *AppConfig) ChatAllowed(chatID int64) bool {
	for _, id := range c.AllowedChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}
