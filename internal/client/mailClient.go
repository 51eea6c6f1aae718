package client

import (
	"context"
	"fmt"
	"saas-billing/internal/config"

	"github.com/mrz1836/postmark"
	"github.com/rs/zerolog"
)

type EmailMessage struct {
	To       string
	Subject  string
	HTMLBody string
	Tag      string
}

type MailClient interface {
	SendEmail(ctx context.Context, msg *EmailMessage) error
}

type postmarkMailClient struct {
	client *postmark.Client
	from   string
}

func NewPostmarkMailClient(cfg *config.Postmark) MailClient {
	return &postmarkMailClient{
		client: postmark.NewClient(cfg.ServerToken, cfg.AccountToken),
		from:   cfg.SenderEmail,
	}
}

func (c *postmarkMailClient) SendEmail(ctx context.Context, msg *EmailMessage) error {
	resp, err := c.client.SendEmail(ctx, postmark.Email{
		From:       c.from,
		To:         msg.To,
		Subject:    msg.Subject,
		Tag:        msg.Tag,
		HTMLBody:   msg.HTMLBody,
		TrackOpens: true,
		TrackLinks: "HtmlOnly",
	})
	if err != nil {
		return fmt.Errorf("postmark send email: %w", err)
	}
	if resp.ErrorCode > 0 {
		return fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message)
	}
	return nil
}

// logMailClient is used when no Postmark token is configured.
type logMailClient struct {
	logger zerolog.Logger
}

func NewLogMailClient(logger zerolog.Logger) MailClient {
	return &logMailClient{logger: logger}
}

func (c *logMailClient) SendEmail(_ context.Context, msg *EmailMessage) error {
	c.logger.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Str("tag", msg.Tag).
		Msg("email not sent, mailer running in log mode")
	return nil
}
