package dispatch

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kapu/snail-tg-bot/internal/config"
	"github.com/kapu/snail-tg-bot/internal/directory"
	"github.com/kapu/snail-tg-bot/internal/mafia"
	"github.com/kapu/snail-tg-bot/internal/msgcat"
	"github.com/kapu/snail-tg-bot/internal/obslog"
	"github.com/kapu/snail-tg-bot/internal/perplexity"
	"github.com/kapu/snail-tg-bot/internal/tgfast"
)

// mentionBatchSize caps how many people one broadcast message tags.
const mentionBatchSize = 30

// statsLimit is how many archived games /stats shows.
const statsLimit = 5

// Sender is the outbound side of the chat transport.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	Reply(ctx context.Context, chatID, replyTo int64, text string) error
	BotID() int64
	DownloadPhoto(ctx context.Context, fileID string, maxBytes int) (*tgfast.ImageData, error)
	FetchImageURL(ctx context.Context, url string, maxBytes int) (*tgfast.ImageData, error)
}

// Asker is the completion backend.
type Asker interface {
	Ask(ctx context.Context, q perplexity.Query) (*perplexity.Answer, error)
}

// /tip takes exactly two double-quoted arguments: the nickname and the
// @handle it applies to. Anything else is ignored.
var reTip = regexp.MustCompile(`^"([^"]+)"\s+"@?([^"]+)"$`)

var structuredStems = []string{
	"реши", "задач", "уравнен", "формул", "теорем", "пример",
	"solve", "problem", "equation", "formula", "theorem",
}

// Dispatcher routes one incoming message to the right handler: directory
// upkeep, broadcast, game command or an AI query.
type Dispatcher struct {
	cfg   *config.AppConfig
	tg    Sender
	dir   *directory.Directory
	ai    Asker
	games *mafia.Manager
	cat   *msgcat.Catalog

	timeout time.Duration
}

func New(cfg *config.AppConfig, tg Sender, dir *directory.Directory, ai Asker, games *mafia.Manager, cat *msgcat.Catalog) *Dispatcher {
	return &Dispatcher{
		cfg:     cfg,
		tg:      tg,
		dir:     dir,
		ai:      ai,
		games:   games,
		cat:     cat,
		timeout: 2 * time.Minute,
	}
}

// Handle processes a single message end to end. Safe to run on its own
// goroutine; every downstream call carries the dispatcher's deadline.
func (d *Dispatcher) Handle(msg *tgfast.Message) {
	if msg == nil || !d.inScope(msg) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if len(msg.NewChatMembers) > 0 {
		for _, u := range msg.NewChatMembers {
			if u.IsBot {
				continue
			}
			d.dir.Upsert(u.ID, u.Username, u.FirstName)
		}
		return
	}

	from := msg.From
	if from == nil || from.IsBot {
		return
	}
	d.dir.Upsert(from.ID, from.Username, from.FirstName)

	text := strings.TrimSpace(msg.TextOrCaption())
	cmd, rest := splitCommand(text)
	switch cmd {
	case "/tip":
		d.handleTip(ctx, msg, rest)
	case "/all", "/tagall":
		d.handleAll(ctx, msg)
	case "/mafia", "/join", "/begin", "/kill", "/lynch", "/day", "/night", "/stopgame", "/stats":
		d.handleGame(ctx, msg, cmd, rest)
	case "/ask":
		d.handleAsk(ctx, msg, rest, "")
	default:
		switch {
		case hasWakeWord(text, d.cfg.WakeWord):
			d.handleAsk(ctx, msg, stripWakeWord(text, d.cfg.WakeWord), "")
		case d.isReplyToBot(msg):
			name := d.dir.ResolveDisplay(from.Username, from.FirstName)
			d.handleAsk(ctx, msg, text, name)
		case msg.IsPrivate() && (text != "" || len(msg.Photo) > 0):
			d.handleAsk(ctx, msg, text, "")
		}
	}
}

// Scope: groups must be allow-listed, private chats are admin-only.
// Everything out of scope is dropped without a reply.
func (d *Dispatcher) inScope(msg *tgfast.Message) bool {
	if msg.IsPrivate() {
		return msg.From != nil && msg.From.ID == d.cfg.AdminID
	}
	return d.cfg.ChatAllowed(msg.Chat.ID)
}

func (d *Dispatcher) isReplyToBot(msg *tgfast.Message) bool {
	r := msg.ReplyToMessage
	return r != nil && r.From != nil && r.From.ID == d.tg.BotID()
}

func (d *Dispatcher) handleTip(ctx context.Context, msg *tgfast.Message, rest string) {
	m := reTip.FindStringSubmatch(strings.TrimSpace(rest))
	if m == nil {
		return
	}
	nick, handle := m[1], m[2]
	d.dir.SetNickname(handle, nick)
	d.send(ctx, msg.Chat.ID, d.render("tip.confirm", map[string]any{"Handle": handle, "Nick": nick}))
}

func (d *Dispatcher) handleAll(ctx context.Context, msg *tgfast.Message) {
	people := d.dir.All()
	if len(people) == 0 {
		d.send(ctx, msg.Chat.ID, d.cat.Text("all.empty"))
		return
	}
	d.send(ctx, msg.Chat.ID, d.cat.Text("all.announce"))
	for start := 0; start < len(people); start += mentionBatchSize {
		end := start + mentionBatchSize
		if end > len(people) {
			end = len(people)
		}
		mentions := make([]string, 0, end-start)
		for _, p := range people[start:end] {
			mentions = append(mentions, mentionFor(p))
		}
		d.send(ctx, msg.Chat.ID, strings.Join(mentions, " "))
	}
}

// mentionFor renders a broadcast tag: @handle pings, a nickname override
// does not, so overrides are deliberately not consulted here.
func mentionFor(p directory.Participant) string {
	if p.Handle != "" {
		return "@" + p.Handle
	}
	return p.DisplayName
}

func (d *Dispatcher) handleGame(ctx context.Context, msg *tgfast.Message, cmd, rest string) {
	chatID := msg.Chat.ID
	switch cmd {
	case "/mafia":
		if _, err := d.games.Create(chatID); err != nil {
			d.send(ctx, chatID, d.cat.Text(gameErrKey(err)))
			return
		}
		d.send(ctx, chatID, d.cat.Text("game.created"))
	case "/join":
		name := d.dir.ResolveDisplay(msg.From.Username, msg.From.FirstName)
		if err := d.games.Join(chatID, msg.From.ID, name); err != nil {
			d.send(ctx, chatID, d.cat.Text(gameErrKey(err)))
			return
		}
		d.send(ctx, chatID, d.render("game.joined", map[string]any{"Name": name}))
	case "/begin":
		if _, err := d.games.AssignRoles(ctx, chatID); err != nil {
			d.send(ctx, chatID, d.cat.Text(gameErrKey(err)))
			return
		}
		d.send(ctx, chatID, d.cat.Text("game.assigned"))
	case "/kill":
		if _, err := d.games.MarkVictim(chatID, strings.TrimSpace(rest)); err != nil {
			d.send(ctx, chatID, d.cat.Text(gameErrKey(err)))
			return
		}
		d.send(ctx, chatID, d.cat.Text("game.marked"))
	case "/lynch":
		p, err := d.games.Lynch(chatID, strings.TrimSpace(rest))
		if err != nil {
			d.send(ctx, chatID, d.cat.Text(gameErrKey(err)))
			return
		}
		d.send(ctx, chatID, d.render("game.lynched", map[string]any{"Name": p.Name}))
	case "/day":
		res, err := d.games.ToDay(ctx, chatID)
		if err != nil {
			d.send(ctx, chatID, d.cat.Text(gameErrKey(err)))
			return
		}
		if res.Killed != nil {
			d.send(ctx, chatID, d.render("game.killed", map[string]any{"Name": res.Killed.Name}))
		} else {
			d.send(ctx, chatID, d.cat.Text("game.quiet"))
		}
		switch res.Winner {
		case mafia.WinnerTown:
			d.send(ctx, chatID, d.cat.Text("game.win_town"))
		case mafia.WinnerMafia:
			d.send(ctx, chatID, d.cat.Text("game.win_mafia"))
		default:
			d.send(ctx, chatID, d.render("game.day", map[string]any{
				"Day":   res.Day,
				"Alive": strings.Join(res.AliveNames, ", "),
			}))
		}
	case "/night":
		s, err := d.games.ToNight(chatID)
		if err != nil {
			d.send(ctx, chatID, d.cat.Text(gameErrKey(err)))
			return
		}
		d.send(ctx, chatID, d.render("game.night", map[string]any{"Day": s.Day}))
	case "/stopgame":
		if err := d.games.Stop(chatID); err != nil {
			d.send(ctx, chatID, d.cat.Text(gameErrKey(err)))
			return
		}
		d.send(ctx, chatID, d.cat.Text("game.stopped"))
	case "/stats":
		results, err := d.games.RecentResults(ctx, chatID, statsLimit)
		if err != nil {
			obslog.L().Warn("stats_lookup_failed", zap.Int64("chat_id", chatID), zap.Error(err))
			d.send(ctx, chatID, d.cat.Text("stats.empty"))
			return
		}
		if len(results) == 0 {
			d.send(ctx, chatID, d.cat.Text("stats.empty"))
			return
		}
		lines := make([]string, 0, len(results)+1)
		lines = append(lines, d.cat.Text("stats.header"))
		for _, r := range results {
			winner := d.cat.Text("stats.town")
			if r.Winner == mafia.WinnerMafia {
				winner = d.cat.Text("stats.mafia")
			}
			lines = append(lines, d.render("stats.line", map[string]any{
				"When":    r.EndedAt.Format("02.01.2006"),
				"Winner":  winner,
				"Players": r.PlayerCount,
				"Days":    r.Days,
			}))
		}
		d.send(ctx, chatID, strings.Join(lines, "\n"))
	}
}

func (d *Dispatcher) handleAsk(ctx context.Context, msg *tgfast.Message, question, speaker string) {
	question = strings.TrimSpace(question)
	img, err := d.resolveImage(ctx, msg, &question)
	if err != nil {
		d.reply(ctx, msg, d.cat.Text(attachErrKey(err)))
		return
	}
	if question == "" && img == nil {
		return
	}
	if question == "" {
		question = perplexity.DefaultImageQuestion
	}

	q := perplexity.Query{
		Text:       question,
		Image:      img,
		Structured: img != nil || looksStructured(question),
	}
	if speaker != "" {
		q.Context = "Сейчас с тобой разговаривает " + speaker + "."
	}

	ans, err := d.ai.Ask(ctx, q)
	if err != nil {
		obslog.L().Warn("ask_failed", zap.Int64("chat_id", msg.Chat.ID), zap.Error(err))
		d.reply(ctx, msg, d.askErrText(err))
		return
	}
	out := ans.Text
	if speaker != "" {
		out = speaker + ", " + out
	}
	d.reply(ctx, msg, out)
}

// resolveImage finds the attachment for an AI query, in priority order:
// photo on the message, photo on the replied-to message, bare image URL in
// the question text. A URL match is cut out of the question.
func (d *Dispatcher) resolveImage(ctx context.Context, msg *tgfast.Message, question *string) (*perplexity.Image, error) {
	if ph := msg.LargestPhoto(); ph != nil {
		return d.downloadPhoto(ctx, ph.FileID)
	}
	if msg.ReplyToMessage != nil {
		if ph := msg.ReplyToMessage.LargestPhoto(); ph != nil {
			return d.downloadPhoto(ctx, ph.FileID)
		}
	}
	fields := strings.Fields(*question)
	for i, tok := range fields {
		if !tgfast.LooksLikeImageURL(tok) {
			continue
		}
		data, err := d.tg.FetchImageURL(ctx, tok, d.cfg.MaxImageBytes)
		if err != nil {
			return nil, err
		}
		rest := make([]string, 0, len(fields)-1)
		rest = append(rest, fields[:i]...)
		rest = append(rest, fields[i+1:]...)
		*question = strings.Join(rest, " ")
		return &perplexity.Image{Data: data.Bytes, MimeType: data.MimeType}, nil
	}
	return nil, nil
}

func (d *Dispatcher) downloadPhoto(ctx context.Context, fileID string) (*perplexity.Image, error) {
	data, err := d.tg.DownloadPhoto(ctx, fileID, d.cfg.MaxImageBytes)
	if err != nil {
		return nil, err
	}
	return &perplexity.Image{Data: data.Bytes, MimeType: data.MimeType}, nil
}

func (d *Dispatcher) askErrText(err error) string {
	var apiErr *perplexity.APIError
	switch {
	case errors.Is(err, perplexity.ErrRateLimited):
		return d.cat.Text("err.rate_limited")
	case errors.Is(err, perplexity.ErrTimeout):
		return d.cat.Text("err.timeout")
	case errors.Is(err, perplexity.ErrEmptyAnswer):
		return d.cat.Text("err.empty")
	case errors.As(err, &apiErr):
		return d.render("err.provider", map[string]any{"Status": apiErr.Status})
	default:
		return d.cat.Text("err.transport")
	}
}

func attachErrKey(err error) string {
	if errors.Is(err, tgfast.ErrAttachmentTooLarge) {
		return "err.attach_too_large"
	}
	return "err.attach_download"
}

func gameErrKey(err error) string {
	switch {
	case errors.Is(err, mafia.ErrSessionExists):
		return "game.exists"
	case errors.Is(err, mafia.ErrNoSession):
		return "game.no_session"
	case errors.Is(err, mafia.ErrAlreadyJoined):
		return "game.already_joined"
	case errors.Is(err, mafia.ErrNotEnoughPlayers):
		return "game.not_enough"
	case errors.Is(err, mafia.ErrAlreadyAssigned):
		return "game.already_assigned"
	case errors.Is(err, mafia.ErrUnknownPlayer):
		return "game.unknown_player"
	default:
		return "game.wrong_phase"
	}
}

func (d *Dispatcher) send(ctx context.Context, chatID int64, text string) {
	if err := d.tg.SendMessage(ctx, chatID, text); err != nil {
		obslog.L().Warn("send_failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (d *Dispatcher) reply(ctx context.Context, msg *tgfast.Message, text string) {
	if err := d.tg.Reply(ctx, msg.Chat.ID, msg.MessageID, text); err != nil {
		obslog.L().Warn("reply_failed", zap.Int64("chat_id", msg.Chat.ID), zap.Error(err))
	}
}

func (d *Dispatcher) render(key string, data any) string {
	s, err := d.cat.Render(key, data)
	if err != nil {
		obslog.L().Warn("msgcat_render", zap.String("key", key), zap.Error(err))
		return d.cat.Text(key)
	}
	return s
}

// splitCommand splits "/cmd rest" and normalizes the command token,
// dropping a trailing @botname mention.
func splitCommand(text string) (cmd, rest string) {
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	head := text
	if i := strings.IndexAny(text, " \t\n"); i >= 0 {
		head, rest = text[:i], strings.TrimSpace(text[i+1:])
	}
	if at := strings.Index(head, "@"); at > 0 {
		head = head[:at]
	}
	return strings.ToLower(head), rest
}

func hasWakeWord(text, wake string) bool {
	if wake == "" {
		return false
	}
	lower := strings.ToLower(text)
	if !strings.HasPrefix(lower, wake) {
		return false
	}
	tail := lower[len(wake):]
	return tail == "" || strings.IndexAny(tail[:1], " \t,.:!?") == 0
}

func stripWakeWord(text, wake string) string {
	return strings.TrimLeft(strings.TrimSpace(text)[len(wake):], " \t,.:!?")
}

func looksStructured(question string) bool {
	lower := strings.ToLower(question)
	for _, stem := range structuredStems {
		if strings.Contains(lower, stem) {
			return true
		}
	}
	return false
}
