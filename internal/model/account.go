package model

import (
	"errors"
	"fmt"
	"strings"
)

// ChatService names the transport behind a chat account.
type ChatService string

// Supported chat services.
const (
	ChatTelegram ChatService = "telegram"
	ChatDiscord  ChatService = "discord"
)

// Account holds the credentials of one publishing bot. The concrete type is
// one of ChatAccount, MicroblogAccount or ProfessionalAccount.
type Account interface {
	Platform() Platform
	BotName() string
	Muted() bool
	Validate() error
	account()
}

// ChatAccount posts to a chat through a bot token.
type ChatAccount struct {
	Name    string      `json:"name" yaml:"name"`
	Service ChatService `json:"service" yaml:"service"`
	Token   string      `json:"token" yaml:"token"`
	ChatID  string      `json:"chat_id" yaml:"chat_id"`
	Mute    bool        `json:"mute" yaml:"mute"`
}

// MicroblogAccount posts to an AT Protocol service.
type MicroblogAccount struct {
	Name     string `json:"name" yaml:"name"`
	Handle   string `json:"handle" yaml:"handle"`
	Password string `json:"password" yaml:"password"`
	Service  string `json:"service" yaml:"service"`
	Mute     bool   `json:"mute" yaml:"mute"`
}

// ProfessionalAccount shares articles on a professional network.
type ProfessionalAccount struct {
	Name        string `json:"name" yaml:"name"`
	URN         string `json:"urn" yaml:"urn"`
	AccessToken string `json:"access_token" yaml:"access_token"`
	Mute        bool   `json:"mute" yaml:"mute"`
}

func (ChatAccount) account()         {}
func (MicroblogAccount) account()    {}
func (ProfessionalAccount) account() {}

func (ChatAccount) Platform() Platform         { return PlatformChat }
func (MicroblogAccount) Platform() Platform    { return PlatformMicroblog }
func (ProfessionalAccount) Platform() Platform { return PlatformProfessional }

func (a ChatAccount) BotName() string         { return a.Name }
func (a MicroblogAccount) BotName() string    { return a.Name }
func (a ProfessionalAccount) BotName() string { return a.Name }

func (a ChatAccount) Muted() bool         { return a.Mute }
func (a MicroblogAccount) Muted() bool    { return a.Mute }
func (a ProfessionalAccount) Muted() bool { return a.Mute }

// Validate checks the required chat fields.
func (a ChatAccount) Validate() error {
	var errs []error
	if strings.TrimSpace(a.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	switch a.Service {
	case ChatTelegram, ChatDiscord:
	default:
		errs = append(errs, fmt.Errorf("unknown chat service %q", a.Service))
	}
	if a.Token == "" {
		errs = append(errs, errors.New("token is required"))
	}
	if a.ChatID == "" {
		errs = append(errs, errors.New("chat_id is required"))
	}
	return wrapAccountErr(PlatformChat, a.Name, errs)
}

// Validate checks the required microblog fields.
func (a MicroblogAccount) Validate() error {
	var errs []error
	if strings.TrimSpace(a.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if a.Handle == "" {
		errs = append(errs, errors.New("handle is required"))
	}
	if a.Password == "" {
		errs = append(errs, errors.New("password is required"))
	}
	return wrapAccountErr(PlatformMicroblog, a.Name, errs)
}

// Validate checks the required professional network fields.
func (a ProfessionalAccount) Validate() error {
	var errs []error
	if strings.TrimSpace(a.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if a.URN == "" {
		errs = append(errs, errors.New("urn is required"))
	}
	if a.AccessToken == "" {
		errs = append(errs, errors.New("access_token is required"))
	}
	return wrapAccountErr(PlatformProfessional, a.Name, errs)
}

func wrapAccountErr(p Platform, name string, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s account %q: %w", p, name, errors.Join(errs...))
}
