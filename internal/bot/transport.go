package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/alexvolkov/dexbot/internal/bot/flow"
	boterr "github.com/alexvolkov/dexbot/internal/errors"
)

type tgUpdate = tgbotapi.Update

// Telegram adapts the Bot API to the Messenger surface flows talk to.
type Telegram struct {
	api *tgbotapi.BotAPI
}

func NewTelegram(token string) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, boterr.Wrap(boterr.KindNetworkFault, "connect to telegram", err)
	}
	return &Telegram{api: api}, nil
}

func (t *Telegram) Send(_ context.Context, chatID int64, text string, buttons [][]flow.Button) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	if len(buttons) > 0 {
		msg.ReplyMarkup = inlineKeyboard(buttons)
	}
	sent, err := t.api.Send(msg)
	if err != nil {
		return 0, boterr.Wrap(boterr.KindNetworkFault, "send message", err)
	}
	return sent.MessageID, nil
}

func (t *Telegram) Delete(_ context.Context, chatID int64, messageID int) error {
	if _, err := t.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return boterr.Wrap(boterr.KindNetworkFault, "delete message", err)
	}
	return nil
}

// ackCallback clears the client-side loading indicator on a button press.
func (t *Telegram) ackCallback(callbackID string) {
	_, _ = t.api.Request(tgbotapi.NewCallback(callbackID, ""))
}

func (t *Telegram) updates() tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	return t.api.GetUpdatesChan(u)
}

func (t *Telegram) stop() {
	t.api.StopReceivingUpdates()
}

func inlineKeyboard(buttons [][]flow.Button) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, row := range buttons {
		tgRow := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			tgRow = append(tgRow, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
		}
		rows = append(rows, tgRow)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
