// Package gmail adapts the Gmail REST API to the domain.Mailbox capability.
package gmail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/alanyoungcy/kaspianobot/internal/domain"
)

// Config holds the OAuth files and the mailbox owner.
type Config struct {
	CredentialsPath string
	TokenPath       string
	// User is the mailbox id; "me" is the authenticated user.
	User string
}

// Client implements domain.Mailbox.
type Client struct {
	svc  *gmailapi.Service
	user string
}

// New builds a Client from an OAuth client secret and a previously saved
// token. Obtaining the first token (the consent flow) happens outside the
// bot; refreshed tokens are written back to TokenPath.
func New(ctx context.Context, cfg Config) (*Client, error) {
	secret, err := os.ReadFile(cfg.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("gmail: read credentials: %w", err)
	}
	oauthCfg, err := google.ConfigFromJSON(secret, gmailapi.GmailReadonlyScope, gmailapi.GmailModifyScope)
	if err != nil {
		return nil, fmt.Errorf("gmail: parse credentials: %w", err)
	}

	tok, err := loadToken(cfg.TokenPath)
	if err != nil {
		return nil, fmt.Errorf("gmail: load token (complete the OAuth consent first): %w", err)
	}

	ts := &savingTokenSource{
		base: oauthCfg.TokenSource(ctx, tok),
		path: cfg.TokenPath,
		last: tok,
	}
	svc, err := gmailapi.NewService(ctx, option.WithTokenSource(oauth2.ReuseTokenSource(tok, ts)))
	if err != nil {
		return nil, fmt.Errorf("gmail: create service: %w", err)
	}

	user := cfg.User
	if user == "" {
		user = "me"
	}
	return &Client{svc: svc, user: user}, nil
}

// List returns the ids of every message matching query that carries all of
// labels.
func (c *Client) List(ctx context.Context, query string, labels []string) ([]string, error) {
	var ids []string
	call := c.svc.Users.Messages.List(c.user).Q(query).LabelIds(labels...)
	err := call.Pages(ctx, func(resp *gmailapi.ListMessagesResponse) error {
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gmail: list messages: %w", err)
	}
	return ids, nil
}

// Get fetches a full message.
func (c *Client) Get(ctx context.Context, id string) (domain.MailMessage, error) {
	msg, err := c.svc.Users.Messages.Get(c.user, id).Format("full").Context(ctx).Do()
	if err != nil {
		return domain.MailMessage{}, fmt.Errorf("gmail: get message %s: %w", id, err)
	}
	return toMailMessage(msg), nil
}

// Modify removes labels from a message.
func (c *Client) Modify(ctx context.Context, id string, removeLabels []string) error {
	req := &gmailapi.ModifyMessageRequest{RemoveLabelIds: removeLabels}
	if _, err := c.svc.Users.Messages.Modify(c.user, id, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("gmail: modify message %s: %w", id, err)
	}
	return nil
}

func toMailMessage(msg *gmailapi.Message) domain.MailMessage {
	out := domain.MailMessage{ID: msg.Id}
	if msg.Payload == nil {
		return out
	}
	for _, h := range msg.Payload.Headers {
		if strings.EqualFold(h.Name, "Subject") {
			out.Subject = h.Value
			break
		}
	}
	if msg.Payload.Body != nil {
		out.BodyData = msg.Payload.Body.Data
	}
	for _, p := range msg.Payload.Parts {
		data := ""
		if p.Body != nil {
			data = p.Body.Data
		}
		out.PartData = append(out.PartData, data)
	}
	return out
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, err
	}
	if tok.RefreshToken == "" && tok.AccessToken == "" {
		return nil, errors.New("token file holds no tokens")
	}
	return &tok, nil
}

// savingTokenSource writes the token back to disk whenever it is refreshed.
type savingTokenSource struct {
	base oauth2.TokenSource
	path string

	mu   sync.Mutex
	last *oauth2.Token
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil || tok.AccessToken != s.last.AccessToken {
		if data, err := json.Marshal(tok); err == nil {
			_ = os.WriteFile(s.path, data, 0o600)
		}
		s.last = tok
	}
	return tok, nil
}
