package publish

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"

	"socialbot/internal/model"
)

type discordAPI interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord sends posts to a Discord channel over the REST API.
type Discord struct {
	newAPI func(token string) (discordAPI, error)

	mu       sync.Mutex
	sessions map[string]discordAPI
}

// NewDiscord creates a Discord publisher.
func NewDiscord() *Discord {
	return &Discord{
		newAPI: func(token string) (discordAPI, error) {
			return discordgo.New("Bot " + token)
		},
		sessions: make(map[string]discordAPI),
	}
}

func (d *Discord) session(token string) (discordAPI, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.sessions[token]; ok {
		return s, nil
	}
	s, err := d.newAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	d.sessions[token] = s
	return s, nil
}

// Send posts the chat text to the account's channel.
func (d *Discord) Send(ctx context.Context, acc model.ChatAccount, post Post) error {
	s, err := d.session(acc.Token)
	if err != nil {
		return err
	}
	if _, err := s.ChannelMessageSend(acc.ChatID, chatText(post), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send discord message: %w", err)
	}
	return nil
}
