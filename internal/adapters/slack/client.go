package slack

import (
    "context"
    "fmt"
    "regexp"

    "github.com/PlayaLink/weekly-standup-generator/internal/config"
    "github.com/rs/zerolog"
    "github.com/slack-go/slack"
)

// Client wraps the Slack Web API surface this service uses: direct messages,
// modal views, and response_url replies.
type Client struct {
    api *slack.Client
    log zerolog.Logger
}

func NewClient(cfg config.Config, log zerolog.Logger) *Client {
    return &Client{api: slack.New(cfg.SlackBotToken), log: log}
}

// SendDM opens (or reuses) the IM channel with the user and posts text.
func (c *Client) SendDM(ctx context.Context, slackUserID, text string) error {
    channel, _, _, err := c.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{Users: []string{slackUserID}})
    if err != nil { return fmt.Errorf("open dm with %s: %w", slackUserID, err) }
    _, _, err = c.api.PostMessageContext(ctx, channel.ID, slack.MsgOptionText(text, false))
    if err != nil { return fmt.Errorf("post dm: %w", err) }
    return nil
}

func (c *Client) OpenModal(ctx context.Context, triggerID string, view slack.ModalViewRequest) error {
    _, err := c.api.OpenViewContext(ctx, triggerID, view)
    if err != nil { return fmt.Errorf("open view: %w", err) }
    return nil
}

func (c *Client) UpdateModal(ctx context.Context, viewID string, view slack.ModalViewRequest) error {
    _, err := c.api.UpdateViewContext(ctx, view, "", "", viewID)
    if err != nil { return fmt.Errorf("update view: %w", err) }
    return nil
}

// RespondEphemeral replies through a slash command's response_url.
func (c *Client) RespondEphemeral(ctx context.Context, responseURL, text string, replaceOriginal bool) error {
    msg := &slack.WebhookMessage{
        Text:            text,
        ResponseType:    "ephemeral",
        ReplaceOriginal: replaceOriginal,
    }
    return slack.PostWebhookContext(ctx, responseURL, msg)
}

var (
    headerRe = regexp.MustCompile(`(?m)^#{2,3} (.+)$`)
    bulletRe = regexp.MustCompile(`(?m)^- `)
)

// FormatMrkdwn converts the composer's markdown to Slack mrkdwn: headers
// become bold lines, dashes become bullets.
func FormatMrkdwn(report string) string {
    out := headerRe.ReplaceAllString(report, "*$1*")
    return bulletRe.ReplaceAllString(out, "• ")
}
