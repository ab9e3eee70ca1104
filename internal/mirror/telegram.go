// Package mirror copies recovery notifications to a Telegram chat. The
// mirror is optional and strictly best-effort: the primary notification
// has already been delivered when the mirror runs.
package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"vaultbot/internal/domain"
)

const telegramMaxMsgLen = 4000

// sender is the slice of tgbotapi.BotAPI the mirror uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram mirrors notifications to a single chat.
type Telegram struct {
	bot    sender
	chatID int64
	logger *slog.Logger
}

type TelegramConfig struct {
	Token  string
	ChatID int64
	Logger *slog.Logger
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger.Info("telegram mirror connected", "username", bot.Self.UserName)
	return &Telegram{bot: bot, chatID: cfg.ChatID, logger: cfg.Logger}, nil
}

// Mirror copies one notification. Errors are logged and swallowed.
func (t *Telegram) Mirror(ctx context.Context, text string, media *domain.OutgoingMedia) {
	if media != nil {
		caption := text
		if caption == "" {
			caption = media.Caption
		}
		if err := t.sendMedia(caption, media); err != nil {
			t.logger.Warn("mirror media send failed", "err", err)
		}
		return
	}
	t.sendText(text)
}

func (t *Telegram) sendMedia(caption string, media *domain.OutgoingMedia) error {
	file := tgbotapi.FileBytes{Name: "attachment", Bytes: media.Data}

	var msg tgbotapi.Chattable
	switch media.Kind {
	case domain.KindImage:
		photo := tgbotapi.NewPhoto(t.chatID, file)
		photo.Caption = caption
		msg = photo
	case domain.KindVideo:
		video := tgbotapi.NewVideo(t.chatID, file)
		video.Caption = caption
		msg = video
	case domain.KindAudio:
		audio := tgbotapi.NewAudio(t.chatID, file)
		audio.Caption = caption
		msg = audio
	default:
		doc := tgbotapi.NewDocument(t.chatID, file)
		doc.Caption = caption
		msg = doc
	}

	_, err := t.bot.Send(msg)
	return err
}

// sendText chunks long notifications at line boundaries; Telegram caps
// message length.
func (t *Telegram) sendText(text string) {
	for len(text) > 0 {
		chunk := text
		if len(chunk) > telegramMaxMsgLen {
			cutAt := strings.LastIndex(chunk[:telegramMaxMsgLen], "\n")
			if cutAt < telegramMaxMsgLen/2 {
				cutAt = telegramMaxMsgLen
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}

		if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, chunk)); err != nil {
			t.logger.Warn("mirror text send failed", "err", err)
			return
		}
	}
}
