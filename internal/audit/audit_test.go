package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

type recordingSink struct {
	events []Event
}

func (s *recordingSink) Record(_ context.Context, e Event) {
	s.events = append(s.events, e)
}

type fakeBot struct {
	sent []tgbotapi.Chattable
	err  error
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.sent = append(b.sent, c)
	return tgbotapi.Message{}, b.err
}

func TestMulti_FansOutInOrder(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	m := Multi{a, nil, b}

	e := NewEvent(LevelInfo, MsgDispatched, map[string]any{"notification_id": "1"})
	m.Record(context.Background(), e)

	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
	assert.Equal(t, e, a.events[0])
	assert.Equal(t, e, b.events[0])
}

func TestLogSink_MapsLevels(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelInfo, "info"},
		{LevelWarn, "warn"},
		{LevelError, "error"},
		{LevelFatal, "fatal"},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			var buf bytes.Buffer
			logger := zerolog.New(&buf)
			sink := NewLogSink(&logger)

			sink.Record(context.Background(), NewEvent(tt.level, MsgDispatchFailed, map[string]any{"kind": "reminder"}))

			var line map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
			assert.Equal(t, tt.want, line["level"])
			assert.Equal(t, MsgDispatchFailed, line["message"])
			assert.Equal(t, "reminder", line["kind"])
			assert.Equal(t, "audit", line["component"])
		})
	}
}

func TestTelegramAlertSink_ForwardsOnlyErrors(t *testing.T) {
	bot := &fakeBot{}
	logger := zerolog.Nop()
	sink := newTelegramAlertSink(bot, 42, &logger)
	ctx := context.Background()

	sink.Record(ctx, NewEvent(LevelInfo, MsgDispatched, nil))
	sink.Record(ctx, NewEvent(LevelWarn, MsgRetryScheduled, nil))
	assert.Empty(t, bot.sent)

	sink.Record(ctx, NewEvent(LevelError, MsgDispatchFailed, map[string]any{"notification_id": "abc", "error": "boom"}))
	sink.Record(ctx, NewEvent(LevelFatal, MsgLoopAborted, nil))
	require.Len(t, bot.sent, 2)

	msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Equal(t, "[ERROR] notification dispatch failed\nerror: boom\nnotification_id: abc", msg.Text)
}

func TestTelegramAlertSink_SendErrorIsSwallowed(t *testing.T) {
	bot := &fakeBot{err: errors.New("telegram down")}
	logger := zerolog.Nop()
	sink := newTelegramAlertSink(bot, 1, &logger)

	assert.NotPanics(t, func() {
		sink.Record(context.Background(), NewEvent(LevelError, MsgDispatchFailed, nil))
	})
	assert.Len(t, bot.sent, 1)
}
