// Package telegram drives a Telegram user account over MTProto so the bot can
// talk to the marketplace bot the way a person would.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message/peer"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/alanyoungcy/kaspianobot/internal/domain"
)

// ErrNotAuthorized is returned when the stored session has not been logged
// in. Logging in is interactive and happens outside the bot.
var ErrNotAuthorized = errors.New("telegram: session not authorized")

// Config holds the MTProto application credentials and the chat partner.
type Config struct {
	AppID       int
	AppHash     string
	SessionPath string
	BotUsername string
}

// Session implements domain.ChatSession against a single bot chat. Run must
// be running for the other methods to work.
type Session struct {
	client   *telegram.Client
	username string
	logger   *slog.Logger

	mu    sync.RWMutex
	api   *tg.Client
	peer  tg.InputPeerClass
	ready chan struct{}
}

// NewSession creates a Session. No network traffic happens until Run.
func NewSession(cfg Config, logger *slog.Logger) *Session {
	client := telegram.NewClient(cfg.AppID, cfg.AppHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: cfg.SessionPath},
	})
	return &Session{
		client:   client,
		username: strings.TrimPrefix(cfg.BotUsername, "@"),
		logger:   logger.With(slog.String("component", "telegram")),
		ready:    make(chan struct{}),
	}
}

// Run connects, resolves the bot and keeps the connection open until ctx is
// cancelled.
func (s *Session) Run(ctx context.Context) error {
	return s.client.Run(ctx, func(ctx context.Context) error {
		status, err := s.client.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("telegram: auth status: %w", err)
		}
		if !status.Authorized {
			return ErrNotAuthorized
		}

		api := s.client.API()
		p, err := peer.DefaultResolver(api).ResolveDomain(ctx, s.username)
		if err != nil {
			return fmt.Errorf("telegram: resolve @%s: %w", s.username, err)
		}

		s.mu.Lock()
		s.api = api
		s.peer = p
		s.mu.Unlock()
		close(s.ready)

		s.logger.Info("connected to bot chat", slog.String("bot", "@"+s.username))
		<-ctx.Done()
		return ctx.Err()
	})
}

// WaitReady blocks until Run has resolved the bot chat.
func (s *Session) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) conn(ctx context.Context) (*tg.Client, tg.InputPeerClass, error) {
	if err := s.WaitReady(ctx); err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.api, s.peer, nil
}

// SendMessage sends text to the bot.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	api, p, err := s.conn(ctx)
	if err != nil {
		return err
	}
	_, err = api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
		Peer:     p,
		Message:  text,
		RandomID: rand.Int64(),
	})
	if err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit messages of the chat, newest first.
func (s *Session) RecentMessages(ctx context.Context, limit int) ([]domain.BotMessage, error) {
	api, p, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	res, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  p,
		Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: get history: %w", err)
	}

	var raw []tg.MessageClass
	switch h := res.(type) {
	case *tg.MessagesMessages:
		raw = h.Messages
	case *tg.MessagesMessagesSlice:
		raw = h.Messages
	case *tg.MessagesChannelMessages:
		raw = h.Messages
	default:
		return nil, fmt.Errorf("telegram: unexpected history type %T", res)
	}

	out := make([]domain.BotMessage, 0, len(raw))
	for _, m := range raw {
		if msg, ok := m.(*tg.Message); ok {
			out = append(out, toBotMessage(msg))
		}
	}
	return out, nil
}

// ClickButton presses an inline callback button. The bot not answering the
// callback in time is not an error; its reply shows up in the history.
func (s *Session) ClickButton(ctx context.Context, sel domain.ButtonSelector) error {
	api, p, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if sel.Data == nil {
		return fmt.Errorf("telegram: button on message %d has no callback data", sel.MessageID)
	}
	_, err = api.MessagesGetBotCallbackAnswer(ctx, &tg.MessagesGetBotCallbackAnswerRequest{
		Peer:  p,
		MsgID: sel.MessageID,
		Data:  sel.Data,
	})
	if err != nil && !tgerr.Is(err, "BOT_RESPONSE_TIMEOUT") {
		return fmt.Errorf("telegram: click button: %w", err)
	}
	return nil
}

func toBotMessage(m *tg.Message) domain.BotMessage {
	out := domain.BotMessage{
		ID:       m.ID,
		Text:     m.Message,
		Outgoing: m.Out,
	}
	markup, ok := m.ReplyMarkup.(*tg.ReplyInlineMarkup)
	if !ok {
		return out
	}
	for _, row := range markup.Rows {
		buttons := make([]domain.Button, 0, len(row.Buttons))
		for _, b := range row.Buttons {
			btn := domain.Button{
				Label:    b.GetText(),
				Selector: domain.ButtonSelector{MessageID: m.ID},
			}
			if cb, ok := b.(*tg.KeyboardButtonCallback); ok {
				btn.Selector.Data = cb.Data
			}
			buttons = append(buttons, btn)
		}
		out.Rows = append(out.Rows, buttons)
	}
	return out
}
