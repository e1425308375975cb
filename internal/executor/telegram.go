package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"eventdedup/internal/config"
	"eventdedup/internal/permanent"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
)

// TelegramExecutor sends rendered action message to Telegram chat.
// Params: bot token, chat id, API base, and optional message template.
// Returns: Telegram executor.
type TelegramExecutor struct {
	client  *tgbot.Bot
	chatID  any
	message *template.Template
	initErr error
}

// NewTelegramExecutor creates Telegram executor.
// Params: action config of type telegram.
// Returns: executor; init errors are reported on every Execute as permanent failures.
func NewTelegramExecutor(cfg config.ActionConfig, message *template.Template) *TelegramExecutor {
	exec := &TelegramExecutor{
		chatID:  normalizeChatID(cfg.ChatID),
		message: message,
	}
	if strings.TrimSpace(cfg.BotToken) == "" {
		exec.initErr = errors.New("telegram bot token is required")
		return exec
	}
	if strings.TrimSpace(cfg.ChatID) == "" {
		exec.initErr = errors.New("telegram chat_id is required")
		return exec
	}

	options := []tgbot.Option{
		tgbot.WithSkipGetMe(),
		tgbot.WithServerURL(strings.TrimRight(cfg.APIBase, "/")),
	}
	client, err := tgbot.New(cfg.BotToken, options...)
	if err != nil {
		exec.initErr = fmt.Errorf("init telegram bot: %w", err)
		return exec
	}
	exec.client = client
	return exec
}

// Execute posts one message.
func (e *TelegramExecutor) Execute(ctx context.Context, req Request) error {
	if e.initErr != nil {
		return permanent.Mark(e.initErr)
	}
	text, err := renderText(e.message, NewPayload(req))
	if err != nil {
		return permanent.Mark(fmt.Errorf("render telegram message: %w", err))
	}

	sent, err := e.client.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:    e.chatID,
		Text:      text,
		ParseMode: tgmodels.ParseModeHTML,
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if sent == nil || sent.ID <= 0 {
		return errors.New("telegram send returned empty message id")
	}
	return nil
}

// normalizeChatID converts numeric chat IDs to int64 and keeps channel usernames as string.
func normalizeChatID(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if numeric, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return numeric
	}
	return trimmed
}
