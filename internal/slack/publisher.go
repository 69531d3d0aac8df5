// Package slack publishes classifications and replies to a Slack channel and
// turns incoming channel messages into queued work.
package slack

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/mailtriage/pkg/models"
)

const gmailMessageURL = "https://mail.google.com/mail/u/0/#inbox/"

const (
	// maxContextText is Slack's cap on a context element's mrkdwn text
	maxContextText = 2000
	maxBlocks      = 50
	maxFallback    = 3000
)

// Publisher posts to one channel; it implements dispatch.Publisher
type Publisher struct {
	api     *slack.Client
	channel string
	logger  zerolog.Logger
}

func NewPublisher(api *slack.Client, channel string, logger zerolog.Logger) *Publisher {
	return &Publisher{api: api, channel: channel, logger: logger.With().Str("component", "slack").Logger()}
}

// PostClassification starts a new thread with the classification layout
func (p *Publisher) PostClassification(ctx context.Context, c *models.Classification) (models.Thread, error) {
	channel, ts, err := p.api.PostMessageContext(ctx, p.channel,
		slack.MsgOptionText(fmt.Sprintf("Handling `%s`", c.ID), false),
		slack.MsgOptionBlocks(ClassificationBlocks(c)...),
		slack.MsgOptionDisableLinkUnfurl(),
		slack.MsgOptionDisableMediaUnfurl(),
	)
	if err != nil {
		return models.Thread{}, fmt.Errorf("failed to post classification: %w", err)
	}
	p.logger.Debug().Str("item_id", c.ID).Str("thread", ts).Msg("classification posted")
	return models.Thread{Channel: channel, TS: ts}, nil
}

// PostReply answers inside an existing thread
func (p *Publisher) PostReply(ctx context.Context, thread models.Thread, text string) error {
	channel := thread.Channel
	if channel == "" {
		channel = p.channel
	}
	blocks := contextBlocks(FixMarkdown(text))
	if len(blocks) > maxBlocks {
		p.logger.Warn().Str("thread", thread.TS).Int("blocks", len(blocks)).Msg("reply truncated to fit one message")
		blocks = blocks[:maxBlocks]
	}
	_, _, err := p.api.PostMessageContext(ctx, channel,
		slack.MsgOptionTS(thread.TS),
		slack.MsgOptionText(truncate(text, maxFallback), false),
		slack.MsgOptionBlocks(blocks...),
		slack.MsgOptionDisableLinkUnfurl(),
		slack.MsgOptionDisableMediaUnfurl(),
	)
	if err != nil {
		return fmt.Errorf("failed to post reply: %w", err)
	}
	return nil
}

// ClassificationBlocks lays out From, When (linked to the message), a divider,
// the summary and the suggested action.
func ClassificationBlocks(c *models.Classification) []slack.Block {
	when := c.TimeReceived
	if t, err := c.ReceivedAt(); err == nil {
		when = t.Format(time.DateTime)
	}
	blocks := []slack.Block{
		contextBlock(fmt.Sprintf("`From:` %s", c.Author)),
		contextBlock(fmt.Sprintf("`When:` <%s%s|%s>", gmailMessageURL, c.ID, when)),
	}
	if flags := flagLine(c); flags != "" {
		blocks = append(blocks, contextBlock(flags))
	}
	blocks = append(blocks, slack.NewDividerBlock())
	blocks = append(blocks, contextBlocks(FixMarkdown(c.Summary))...)
	blocks = append(blocks, contextBlocks(FixMarkdown(c.Action))...)
	return blocks
}

func flagLine(c *models.Classification) string {
	var out string
	add := func(on bool, s string) {
		if !on {
			return
		}
		if out != "" {
			out += " "
		}
		out += s
	}
	add(c.Urgent, ":rotating_light: urgent")
	add(c.Important, ":star: important")
	add(c.Spam, ":wastebasket: spam")
	return out
}

func contextBlock(text string) *slack.ContextBlock {
	return slack.NewContextBlock("", slack.NewTextBlockObject(slack.MarkdownType, text, false, false))
}

// contextBlocks spreads text over as many context blocks as its length needs
func contextBlocks(text string) []slack.Block {
	chunks := SplitMrkdwn(text, maxContextText)
	blocks := make([]slack.Block, 0, len(chunks))
	for _, c := range chunks {
		blocks = append(blocks, contextBlock(c))
	}
	return blocks
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
