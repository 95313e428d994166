package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/bigpicture/pujo-pictures/src/webclient"
)

// Webhook is the slice of the Discord webhook API the moderation cards use.
type Webhook interface {
	Execute(ctx context.Context, params *discordgo.WebhookParams) (*discordgo.Message, error)
	Message(ctx context.Context, messageID string) (*discordgo.Message, error)
	Edit(ctx context.Context, messageID string, edit *discordgo.WebhookEdit) (*discordgo.Message, error)
}

// ParseWebhookURL splits https://discord.com/api/webhooks/{id}/{token}.
func ParseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("discord: bad webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" {
			id, token = parts[i+1], parts[i+2]
			break
		}
	}
	if id == "" || token == "" {
		return "", "", errors.New("discord: webhook url must look like .../api/webhooks/{id}/{token}")
	}
	return id, token, nil
}

// WebhookClient talks to one webhook through a token-less discordgo session.
type WebhookClient struct {
	s     *discordgo.Session
	id    string
	token string
}

func NewWebhookClient(webhookURL string, timeout time.Duration) (*WebhookClient, error) {
	id, token, err := ParseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	s, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("discord: session: %w", err)
	}
	s.Client = webclient.NewDefault(timeout)
	// retries are driven by the synchronizer
	s.MaxRestRetries = 0
	s.ShouldRetryOnRateLimit = false
	return &WebhookClient{s: s, id: id, token: token}, nil
}

func (w *WebhookClient) Execute(ctx context.Context, params *discordgo.WebhookParams) (*discordgo.Message, error) {
	msg, err := w.s.WebhookExecute(w.id, w.token, true, params, discordgo.WithContext(ctx))
	return msg, classify(err)
}

func (w *WebhookClient) Message(ctx context.Context, messageID string) (*discordgo.Message, error) {
	msg, err := w.s.WebhookMessage(w.id, w.token, messageID, discordgo.WithContext(ctx))
	return msg, classify(err)
}

func (w *WebhookClient) Edit(ctx context.Context, messageID string, edit *discordgo.WebhookEdit) (*discordgo.Message, error) {
	msg, err := w.s.WebhookMessageEdit(w.id, w.token, messageID, edit, discordgo.WithContext(ctx))
	return msg, classify(err)
}

// classify marks client errors other than rate limiting as permanent.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		code := rest.Response.StatusCode
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
			return webclient.Permanent(err)
		}
	}
	return err
}
