package audit

import (
	"context"
	"fmt"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/ilindan-dev/notification-scheduler/internal/config"
	"github.com/rs/zerolog"
	"sort"
	"strings"
)

// botSender is the part of tgbotapi.BotAPI used for alerts.
type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramAlertSink forwards error and fatal events to an operations chat.
type TelegramAlertSink struct {
	bot    botSender
	chatID int64
	logger zerolog.Logger
}

// NewTelegramAlertSink creates a new instance of TelegramAlertSink.
func NewTelegramAlertSink(cfg config.TelegramConfig, logger *zerolog.Logger) (*TelegramAlertSink, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot api: %w", err)
	}
	return newTelegramAlertSink(bot, cfg.ChatID, logger), nil
}

func newTelegramAlertSink(bot botSender, chatID int64, logger *zerolog.Logger) *TelegramAlertSink {
	return &TelegramAlertSink{
		bot:    bot,
		chatID: chatID,
		logger: logger.With().Str("component", "telegram_alerts").Logger(),
	}
}

// Record implements Sink. Events below error level are ignored.
func (s *TelegramAlertSink) Record(_ context.Context, e Event) {
	if e.Level != LevelError && e.Level != LevelFatal {
		return
	}

	msg := tgbotapi.NewMessage(s.chatID, formatAlert(e))
	if _, err := s.bot.Send(msg); err != nil {
		s.logger.Error().Err(err).Int64("chat_id", s.chatID).Msg("failed to send telegram alert")
	}
}

// formatAlert renders the event as plain text with fields in a stable order.
func formatAlert(e Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", strings.ToUpper(string(e.Level)), e.Message)

	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %v", k, e.Fields[k])
	}
	return b.String()
}
