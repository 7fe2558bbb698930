package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/kapu/snail-tg-bot/internal/tgfast"
)

// Connectivity probe: verifies the bot token against getMe and watches
// incoming updates for a short window. Useful to check chat ids before
// filling ALLOWED_CHAT_IDS.
func main() {
	_ = godotenv.Load()

	token := os.Getenv("BOT_TOKEN")
	if token == "" {
		log.Fatal("BOT_TOKEN is required")
	}

	client := tgfast.NewClient(token, tgfast.WithTimeout(8*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	me, err := client.GetMe(ctx)
	if err != nil {
		log.Fatalf("getMe error: %v", err)
	}
	log.Printf("getMe ok: id=%d username=%s", me.ID, me.Username)

	poller := tgfast.NewPoller(client, 10)
	poller.OnMessage(func(msg *tgfast.Message) {
		from := "?"
		if msg.From != nil {
			from = msg.From.FirstName
			if msg.From.Username != "" {
				from = "@" + msg.From.Username
			}
		}
		fmt.Printf("update chat=%d type=%s from=%s text=%q\n",
			msg.Chat.ID, msg.Chat.Type, from, msg.TextOrCaption())
	})

	wctx, wcancel := context.WithCancel(context.Background())
	poller.Start(wctx)

	// Observe for a short window
	t := time.NewTimer(30 * time.Second)
	<-t.C

	wcancel()
	poller.Close()
}
