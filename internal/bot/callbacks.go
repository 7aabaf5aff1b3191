package bot

import (
	"context"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cmdFilters  = "filters"
	cmdRmFilter = "rmfilter"

	cbRmFilterConfirm = "rmfilter_confirm"
	cbRmFilter        = "rmfilter"
	cbClear           = "clear"
	cbNoop            = "noop"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Error("send callback ack", "error", err)
	}
	if cb.Message == nil || cb.From == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	if !b.cfg.IsUserAllowed(cb.From.ID) {
		b.reply(chatID, "Access denied.")
		return
	}

	parts := strings.SplitN(cb.Data, ":", 2)
	if len(parts) != 2 {
		return
	}
	action := parts[0]
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return
	}

	b.log.Info("callback",
		"action", action,
		"id", id,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	b.sessions.Touch(chatID)

	switch action {
	case cbRmFilterConfirm:
		b.confirmRmFilter(ctx, chatID, id)
	case cbRmFilter:
		b.deleteFilter(ctx, chatID, id)
	case cbClear:
		b.clearFilters(ctx, chatID)
	case cbNoop:
	}
}
