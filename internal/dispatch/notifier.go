package dispatch

import (
	"context"

	"github.com/kapu/snail-tg-bot/internal/mafia"
	"github.com/kapu/snail-tg-bot/internal/msgcat"
)

// RoleNotifier delivers role cards over private chat. Delivery fails for
// players who never opened a private chat with the bot; the game engine
// logs and moves on.
type RoleNotifier struct {
	tg  Sender
	cat *msgcat.Catalog
}

func NewRoleNotifier(tg Sender, cat *msgcat.Catalog) *RoleNotifier {
	return &RoleNotifier{tg: tg, cat: cat}
}

func (n *RoleNotifier) NotifyRole(ctx context.Context, playerID int64, role mafia.Role) error {
	return n.tg.SendMessage(ctx, playerID, n.cat.Text("role."+string(role)))
}
