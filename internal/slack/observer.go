// Package slack connects the agent loop to Slack threads: it parses Events API
// callbacks and reports loop progress back into the originating thread.
package slack

import (
	"bytes"
	"context"
	"fmt"

	slackapi "github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-operator/api/schemas"
	"github.com/xkilldash9x/browser-operator/internal/config"
)

// Thread notices posted outside the loop.
const (
	ContinuingText   = "👍 Got your response! Continuing with the task..."
	StoppedText      = "Browser session stopped successfully."
	FoundRunningText = "Found running operator session! Debug URL: %s"
	ErrorText        = "⚠️ There was an error processing your request: %s"
	TimeoutText      = "⏱️ The operation timed out. The browser session may still be running."

	startedText   = "%s Starting up to complete the task!\n\nYou can follow along at %s"
	messageText   = "%s %s\n\nYou can control the browser if needed at %s"
	screenshotPNG = "screenshot.png"
)

// API is the part of the Slack Web API the bot uses.
type API interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
	UploadFileV2Context(ctx context.Context, params slackapi.UploadFileV2Parameters) (*slackapi.FileSummary, error)
}

// Bot posts into Slack threads on behalf of the operator.
type Bot struct {
	api    API
	cfg    config.SlackConfig
	logger *zap.Logger
}

// NewBot creates a bot backed by the Slack Web API.
func NewBot(cfg config.SlackConfig, logger *zap.Logger, opts ...slackapi.Option) *Bot {
	return NewBotWithAPI(slackapi.New(cfg.BotToken, opts...), cfg, logger)
}

// NewBotWithAPI wraps an existing API client.
func NewBotWithAPI(api API, cfg config.SlackConfig, logger *zap.Logger) *Bot {
	return &Bot{api: api, cfg: cfg, logger: logger.Named("slack")}
}

// Config returns the bot's Slack settings.
func (b *Bot) Config() config.SlackConfig { return b.cfg }

// Post writes text into a thread.
func (b *Bot) Post(ctx context.Context, channel, threadTS, text string) error {
	_, ts, err := b.api.PostMessageContext(ctx, channel,
		slackapi.MsgOptionText(text, false),
		slackapi.MsgOptionTS(threadTS),
	)
	if err != nil {
		return fmt.Errorf("posting to slack channel %s: %w", channel, err)
	}
	b.logger.Debug("Posted Slack message.", zap.String("channel", channel), zap.String("thread_ts", threadTS), zap.String("ts", ts))
	return nil
}

// Upload attaches a PNG to a thread.
func (b *Bot) Upload(ctx context.Context, channel, threadTS string, png []byte, title string) error {
	_, err := b.api.UploadFileV2Context(ctx, slackapi.UploadFileV2Parameters{
		Reader:          bytes.NewReader(png),
		FileSize:        len(png),
		Filename:        screenshotPNG,
		Title:           title,
		Channel:         channel,
		ThreadTimestamp: threadTS,
	})
	if err != nil {
		return fmt.Errorf("uploading screenshot to slack channel %s: %w", channel, err)
	}
	return nil
}

// Thread returns an observer bound to one conversation thread. followURL is
// where a human can watch the session.
func (b *Bot) Thread(channel, threadTS, followURL string) *ThreadObserver {
	return &ThreadObserver{bot: b, channel: channel, threadTS: threadTS, followURL: followURL}
}

// ThreadObserver reports loop progress into a Slack thread.
type ThreadObserver struct {
	bot       *Bot
	channel   string
	threadTS  string
	followURL string
}

var _ schemas.Observer = (*ThreadObserver)(nil)

func (o *ThreadObserver) Started(ctx context.Context, goal string) error {
	return o.bot.Post(ctx, o.channel, o.threadTS, fmt.Sprintf(startedText, o.bot.cfg.MessagePrefix, o.followURL))
}

// Message uploads the screenshot, when there is one, and then posts the text.
func (o *ThreadObserver) Message(ctx context.Context, text string, screenshot []byte) error {
	if len(screenshot) > 0 {
		if err := o.bot.Upload(ctx, o.channel, o.threadTS, screenshot, ""); err != nil {
			o.bot.logger.Warn("Failed to upload final screenshot.", zap.Error(err))
		}
	}
	return o.bot.Post(ctx, o.channel, o.threadTS, fmt.Sprintf(messageText, o.bot.cfg.MessagePrefix, text, o.followURL))
}

func (o *ThreadObserver) Screenshot(ctx context.Context, png []byte, title string) error {
	return o.bot.Upload(ctx, o.channel, o.threadTS, png, title)
}

func (o *ThreadObserver) Notify(ctx context.Context, text string) error {
	return o.bot.Post(ctx, o.channel, o.threadTS, text)
}
