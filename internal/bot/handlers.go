package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"adwatch/internal/model"
	"adwatch/internal/session"
	"adwatch/internal/storage"
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Welcome to the classifieds watcher!

Save searches and get a message as soon as a matching ad is published.

Quick start:
1. /categories - see the departments you can search
2. /addfilter <category> <keyword> - save a search
3. /search - start watching

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Filters:
/addfilter <category> <keyword...> [-min N] [-max N] [-prov P] [-mun M] [-photos]
/filters - show saved filters
/setfilter <id> <field> [value] - change one field (empty value clears it)
/rmfilter <id> - delete a filter
/clearfilters - delete every filter
/categories - list departments

Searching:
/search - watch all saved filters
/search <keyword> - also watch a keyword across all departments
/stop - stop watching
/status - show the search state
/ping - check the bot is alive

Fields for /setfilter: ` + strings.Join(storage.UpdatableFields(), ", "))
}

func (b *Bot) handleAddFilter(ctx context.Context, chatID int64, args string) {
	f, err := ParseAddFilter(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	if !b.knownCategory(f.Category) {
		b.reply(chatID, fmt.Sprintf("Unknown category %q. Use /categories to list them.", f.Category))
		return
	}

	if err := b.store.CreateFilter(ctx, &f); err != nil {
		b.log.Error("create filter", "chat_id", chatID, "error", err)
		b.reply(chatID, fmt.Sprintf("Failed to save filter: %v", err))
		return
	}

	b.log.Info("filter added", "chat_id", chatID, "filter_id", f.ID, "category", f.Category, "keyword", f.Keyword)
	b.reply(chatID, fmt.Sprintf("Filter added:\n%s\n\nUse /search to start watching.", FormatFilter(f)))
}

func (b *Bot) handleFilters(ctx context.Context, chatID int64) {
	filters, err := b.store.ListFilters(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	msg := tgbotapi.NewMessage(chatID, FormatFilterList(filters))
	msg.DisableWebPagePreview = true
	if len(filters) > 0 {
		var rows [][]tgbotapi.InlineKeyboardButton
		for _, f := range filters {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Delete #%d", f.ID), fmt.Sprintf("%s:%d", cbRmFilterConfirm, f.ID)),
			))
		}
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send filter list", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleSetFilter(ctx context.Context, chatID int64, args string) {
	id, field, value, err := ParseSetFilterArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	if field == "category" {
		value = strings.ToLower(value)
		if value != "" && !b.knownCategory(value) {
			b.reply(chatID, fmt.Sprintf("Unknown category %q. Use /categories to list them.", value))
			return
		}
	}

	err = b.store.UpdateFilter(ctx, id, field, value)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		b.reply(chatID, fmt.Sprintf("Filter #%d not found.", id))
		return
	case errors.Is(err, storage.ErrInvalidParameter):
		b.reply(chatID, fmt.Sprintf("Rejected: %v\nFields: %s", err, strings.Join(storage.UpdatableFields(), ", ")))
		return
	case err != nil:
		b.log.Error("update filter", "chat_id", chatID, "filter_id", id, "field", field, "error", err)
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	f, err := b.store.GetFilter(ctx, id)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Filter #%d updated.", id))
		return
	}
	b.reply(chatID, fmt.Sprintf("Filter updated:\n%s", FormatFilter(*f)))
}

func (b *Bot) handleRmFilter(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /rmfilter <id>")
		return
	}
	b.confirmRmFilter(ctx, chatID, id)
}

func (b *Bot) confirmRmFilter(ctx context.Context, chatID, id int64) {
	f, err := b.store.GetFilter(ctx, id)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Filter #%d not found.", id))
		return
	}

	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Delete filter %s?", FormatFilter(*f)))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Yes, delete", fmt.Sprintf("%s:%d", cbRmFilter, id)),
			tgbotapi.NewInlineKeyboardButtonData("Cancel", cbNoop+":0"),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send delete confirmation", "error", err)
	}
}

func (b *Bot) deleteFilter(ctx context.Context, chatID, id int64) {
	if err := b.store.DeleteFilter(ctx, id); err != nil {
		b.log.Error("delete filter", "chat_id", chatID, "filter_id", id, "error", err)
		b.reply(chatID, fmt.Sprintf("Error deleting filter: %v", err))
		return
	}
	b.log.Info("filter deleted", "chat_id", chatID, "filter_id", id)
	b.reply(chatID, fmt.Sprintf("Filter #%d deleted.", id))
}

func (b *Bot) handleClearFilters(chatID int64) {
	msg := tgbotapi.NewMessage(chatID, "Delete ALL filters? This cannot be undone.")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Yes, delete all", cbClear+":0"),
			tgbotapi.NewInlineKeyboardButtonData("Cancel", cbNoop+":0"),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send clear confirmation", "error", err)
	}
}

func (b *Bot) clearFilters(ctx context.Context, chatID int64) {
	if err := b.store.DeleteAllFilters(ctx); err != nil {
		b.log.Error("delete all filters", "chat_id", chatID, "error", err)
		b.reply(chatID, fmt.Sprintf("Error deleting filters: %v", err))
		return
	}
	b.log.Info("all filters deleted", "chat_id", chatID)
	b.reply(chatID, "All filters deleted.")
}

func (b *Bot) handleSearch(ctx context.Context, chatID int64, args string) {
	if b.sessions.Status(chatID) == model.SessionActive {
		b.reply(chatID, "A search is already running. Use /stop first.")
		return
	}
	b.sessions.SetKeyword(chatID, args)

	res, err := b.sessions.Start(ctx, chatID)
	if err != nil {
		b.log.Error("start search", "chat_id", chatID, "error", err)
		b.reply(chatID, fmt.Sprintf("Could not start the search: %v", err))
		return
	}

	switch res {
	case session.Started:
		if args != "" {
			b.reply(chatID, fmt.Sprintf("Searching for %q in all departments and in your saved filters. Use /stop to stop.", args))
		} else {
			b.reply(chatID, "Searching your saved filters. Use /stop to stop.")
		}
	case session.AlreadyActive:
		b.reply(chatID, "A search is already running. Use /stop first.")
	case session.NoSearch:
		b.reply(chatID, "Nothing to search. Add a filter with /addfilter or pass a keyword: /search <keyword>")
	}
}

func (b *Bot) handleStop(chatID int64) {
	switch b.sessions.Stop(chatID) {
	case session.Stopped:
		b.reply(chatID, "Search stopped.")
	case session.StoppedTimeout:
		b.reply(chatID, "Search stopped. The last check may still be finishing.")
	case session.NotActive:
		b.reply(chatID, "No search is running.")
	}
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	filters, err := b.store.ListFilters(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatStatus(b.sessions.Status(chatID), b.sessions.Keyword(chatID), len(filters)))
}

func (b *Bot) handlePing(chatID int64) {
	channel := b.cfg.NotificationChannelID
	if channel == 0 {
		b.reply(chatID, "pong")
		return
	}
	if _, err := b.api.Request(tgbotapi.NewChatAction(channel, tgbotapi.ChatTyping)); err != nil {
		b.log.Warn("notification channel unreachable", "channel_id", channel, "error", err)
		b.reply(chatID, fmt.Sprintf("pong\nNotification channel %d: unreachable (%v)", channel, err))
		return
	}
	b.reply(chatID, fmt.Sprintf("pong\nNotification channel %d: ok", channel))
}

func (b *Bot) handleCategories(chatID int64) {
	b.reply(chatID, FormatCategories(b.profile.Categories))
}

func (b *Bot) knownCategory(slug string) bool {
	if len(b.profile.Categories) == 0 {
		return true
	}
	return b.profile.HasCategory(slug)
}
