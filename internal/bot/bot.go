// Package bot implements the Telegram command interface and the notification
// transport used by polling sessions.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"adwatch/internal/config"
	"adwatch/internal/model"
	"adwatch/internal/notify"
	"adwatch/internal/session"
	"adwatch/internal/site"
	"adwatch/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Sessions controls the polling session of each conversation.
type Sessions interface {
	Touch(chatID int64)
	Sweep() int
	SetKeyword(chatID int64, keyword string)
	Keyword(chatID int64) string
	Status(chatID int64) model.SessionStatus
	Start(ctx context.Context, chatID int64) (session.StartResult, error)
	Stop(chatID int64) session.StopResult
}

// sendJob is a notification handed from a polling session to the run loop.
type sendJob struct {
	ctx    context.Context
	msg    notify.Message
	result chan error
}

// Bot is the Telegram bot that handles user commands and sends notifications.
type Bot struct {
	api      telegramAPI
	store    storage.FilterStore
	sessions Sessions
	profile  *site.Profile
	cfg      *config.Config
	outbox   chan sendJob
	log      *slog.Logger
}

// New creates a Bot with the given Telegram token, filter store, and config.
func New(token string, store storage.FilterStore, sessions Sessions, profile *site.Profile, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return newBot(api, store, sessions, profile, cfg, log), nil
}

func newBot(api telegramAPI, store storage.FilterStore, sessions Sessions, profile *site.Profile, cfg *config.Config, log *slog.Logger) *Bot {
	return &Bot{
		api:      api,
		store:    store,
		sessions: sessions,
		profile:  profile,
		cfg:      cfg,
		outbox:   make(chan sendJob),
		log:      log,
	}
}

// SetSessions attaches the session controller. It must be called before Run.
func (b *Bot) SetSessions(s Sessions) {
	b.sessions = s
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
// Commands and queued notifications are processed one at a time.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case job := <-b.outbox:
			if err := job.ctx.Err(); err != nil {
				job.result <- err
				continue
			}
			job.result <- b.deliver(job.msg)
		case update := <-updates:
			if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if update.Message.From == nil || !b.cfg.IsUserAllowed(update.Message.From.ID) {
				b.reply(update.Message.Chat.ID, "Access denied.")
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

// Send queues msg on the run loop and waits for the result. It fails when
// the message is not sent within the configured send timeout or ctx ends.
func (b *Bot) Send(ctx context.Context, msg notify.Message) error {
	timeout := b.cfg.SendTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	job := sendJob{ctx: ctx, msg: msg, result: make(chan error, 1)}
	select {
	case b.outbox <- job:
	case <-ctx.Done():
		return fmt.Errorf("queue message for chat %d: %w", msg.ChatID, ctx.Err())
	}

	select {
	case err := <-job.result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("send message to chat %d: %w", msg.ChatID, ctx.Err())
	}
}

// ReportFatal tells chatID that its search ended on an internal error.
func (b *Bot) ReportFatal(chatID int64, err error) {
	text := fmt.Sprintf("Search stopped after an internal error: %v\nUse /search to start it again.", err)
	if sendErr := b.Send(context.Background(), notify.Message{ChatID: chatID, Text: text}); sendErr != nil {
		b.log.Error("report fatal session error", "chat_id", chatID, "error", sendErr)
	}
}

func (b *Bot) deliver(msg notify.Message) error {
	var c tgbotapi.Chattable
	if msg.PhotoURL != "" {
		photo := tgbotapi.NewPhoto(msg.ChatID, tgbotapi.FileURL(msg.PhotoURL))
		photo.Caption = msg.Text
		if msg.Link != "" {
			photo.ReplyMarkup = openAdKeyboard(msg.Link)
		}
		c = photo
	} else {
		m := tgbotapi.NewMessage(msg.ChatID, msg.Text)
		m.DisableWebPagePreview = true
		if msg.Link != "" {
			m.ReplyMarkup = openAdKeyboard(msg.Link)
		}
		c = m
	}
	if _, err := b.api.Send(c); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func openAdKeyboard(link string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("Open ad", link)),
	)
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	b.sessions.Touch(chatID)
	b.sessions.Sweep()

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "addfilter":
		b.handleAddFilter(ctx, chatID, args)
	case cmdFilters:
		b.handleFilters(ctx, chatID)
	case "setfilter":
		b.handleSetFilter(ctx, chatID, args)
	case cmdRmFilter:
		b.handleRmFilter(ctx, chatID, args)
	case "clearfilters":
		b.handleClearFilters(chatID)
	case "search":
		b.handleSearch(ctx, chatID, args)
	case "stop":
		b.handleStop(chatID)
	case "status":
		b.handleStatus(ctx, chatID)
	case "ping":
		b.handlePing(chatID)
	case "categories":
		b.handleCategories(chatID)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
