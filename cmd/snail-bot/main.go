package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	appcfg "github.com/kapu/snail-tg-bot/internal/config"
	"github.com/kapu/snail-tg-bot/internal/directory"
	"github.com/kapu/snail-tg-bot/internal/dispatch"
	"github.com/kapu/snail-tg-bot/internal/mafia"
	"github.com/kapu/snail-tg-bot/internal/msgcat"
	"github.com/kapu/snail-tg-bot/internal/obslog"
	"github.com/kapu/snail-tg-bot/internal/perplexity"
	"github.com/kapu/snail-tg-bot/internal/sanitize"
	"github.com/kapu/snail-tg-bot/internal/tgfast"
)

const pollTimeoutSec = 30

func main() {
	_ = godotenv.Load()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()

	cat, err := msgcat.New(cfg.MsgOverrideDir)
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}

	client := tgfast.NewClient(cfg.BotToken)
	cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	me, err := client.GetMe(cctx)
	cancel()
	if err != nil {
		log.Fatalf("getMe error: %v", err)
	}
	logger.Info("bot_identified", zap.Int64("id", me.ID), zap.String("username", me.Username))

	store, closeStore := buildStore(cfg)
	defer closeStore()
	dir := directory.New(store)

	ai := perplexity.NewClient(cfg.PerplexityAPIKey,
		perplexity.WithSanitizer(sanitize.Sanitizer{MaxChars: cfg.AnswerMaxChars}),
	)

	gameOpts := []mafia.ManagerOption{
		mafia.WithNotifier(dispatch.NewRoleNotifier(client, cat)),
	}
	if cfg.DatabaseURL != "" {
		repo, err := mafia.NewPGRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("game repository error: %v", err)
		}
		defer repo.Close()
		gameOpts = append(gameOpts, mafia.WithRepository(repo))
	}
	games := mafia.NewManager(gameOpts...)

	d := dispatch.New(cfg, client, dir, ai, games, cat)

	poller := tgfast.NewPoller(client, pollTimeoutSec)
	poller.OnMessage(func(msg *tgfast.Message) {
		// Keep the poll loop free
		go d.Handle(msg)
	})

	ctx, stop := context.WithCancel(context.Background())
	poller.Start(ctx)
	logger.Info("polling_started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	stop()
	poller.Close()
	logger.Info("shutdown_complete")
}

// buildStore picks the directory backend: Redis when configured, local JSON
// files otherwise.
func buildStore(cfg *appcfg.AppConfig) (directory.Store, func()) {
	if cfg.RedisURL != "" {
		store, err := directory.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis store error: %v", err)
		}
		return store, func() {
			if c, ok := store.(interface{ Close() error }); ok {
				_ = c.Close()
			}
		}
	}
	return directory.NewFileStore(cfg.UsersFile, cfg.NicksFile), func() {}
}
