package publish

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"socialbot/internal/model"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends posts through the Telegram Bot API. Bot clients are created
// once per token.
type Telegram struct {
	newAPI func(token string) (telegramAPI, error)

	mu   sync.Mutex
	bots map[string]telegramAPI
}

// NewTelegram creates a Telegram publisher. An empty endpoint uses the
// public Bot API.
func NewTelegram(client HTTPClient, endpoint string) *Telegram {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	return &Telegram{
		newAPI: func(token string) (telegramAPI, error) {
			return tgbotapi.NewBotAPIWithClient(token, endpoint, client)
		},
		bots: make(map[string]telegramAPI),
	}
}

func (t *Telegram) bot(token string) (telegramAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if api, ok := t.bots[token]; ok {
		return api, nil
	}
	api, err := t.newAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	t.bots[token] = api
	return api, nil
}

// Send posts the chat text to the account's chat. Numeric chat IDs and
// @channel usernames are both accepted. The Bot API client carries no
// context, so Send returns as soon as ctx is done even while a request is
// still in flight.
func (t *Telegram) Send(ctx context.Context, acc model.ChatAccount, post Post) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- t.send(acc, post) }()

	select {
	case <-ctx.Done():
		return fmt.Errorf("send telegram message: %w", ctx.Err())
	case err := <-done:
		return err
	}
}

func (t *Telegram) send(acc model.ChatAccount, post Post) error {
	api, err := t.bot(acc.Token)
	if err != nil {
		return err
	}

	var msg tgbotapi.MessageConfig
	if id, perr := strconv.ParseInt(acc.ChatID, 10, 64); perr == nil {
		msg = tgbotapi.NewMessage(id, chatText(post))
	} else {
		channel := acc.ChatID
		if !strings.HasPrefix(channel, "@") {
			channel = "@" + channel
		}
		msg = tgbotapi.NewMessageToChannel(channel, chatText(post))
	}

	if _, err := api.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}
