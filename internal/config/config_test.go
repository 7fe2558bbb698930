package config

import "testing"

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("PERPLEXITY_API_KEY", "pplx-test")
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	t.Setenv("PERPLEXITY_API_KEY", "pplx-test")
	if _, err := Load(); err == nil {
		t.Fatal("want error without BOT_TOKEN")
	}
}

func TestWakeWordLowercased(t *testing.T) {
	setRequired(t)
	t.Setenv("BOT_WAKE_WORD", "УЛИТОЧКА")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WakeWord != "улиточка" {
		t.Fatalf("wake word not lowercased: %q", cfg.WakeWord)
	}
}

func TestWakeWordDefault(t *testing.T) {
	setRequired(t)
	t.Setenv("BOT_WAKE_WORD", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WakeWord != "улитка" {
		t.Fatalf("default wake word: %q", cfg.WakeWord)
	}
}

func TestAllowedChatIDsParsing(t *testing.T) {
	setRequired(t)
	t.Setenv("ALLOWED_CHAT_IDS", "-100200, 300")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.ChatAllowed(-100200) || !cfg.ChatAllowed(300) || cfg.ChatAllowed(1) {
		t.Fatalf("allow-list parsing wrong: %v", cfg.AllowedChatIDs)
	}
}
