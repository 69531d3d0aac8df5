package slack

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// Jobs receives the work a channel message asks for. Implementations must
// return quickly; the actual processing happens on workers.
type Jobs interface {
	EnqueueFetch(ctx context.Context) error
	EnqueueHandleOne(ctx context.Context) error
	EnqueueReply(ctx context.Context, thread, text string) error
}

// Router maps channel messages to jobs
type Router struct {
	jobs   Jobs
	logger zerolog.Logger
}

func NewRouter(jobs Jobs, logger zerolog.Logger) *Router {
	return &Router{jobs: jobs, logger: logger.With().Str("component", "slack").Logger()}
}

// HandleEvent routes an Events API callback. Anything other than a plain
// human message is ignored.
func (r *Router) HandleEvent(ctx context.Context, event slackevents.EventsAPIEvent) error {
	if event.Type != slackevents.CallbackEvent {
		return nil
	}
	msg, ok := event.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return nil
	}
	return r.HandleMessage(ctx, msg)
}

// HandleMessage routes one message: thread replies go to the conversation,
// top-level messages mentioning fetch or handle_one trigger those passes.
func (r *Router) HandleMessage(ctx context.Context, msg *slackevents.MessageEvent) error {
	if msg.BotID != "" || msg.SubType != "" {
		return nil
	}
	log := r.logger.With().Str("channel", msg.Channel).Str("ts", msg.TimeStamp).Logger()

	if msg.ThreadTimeStamp != "" && msg.ThreadTimeStamp != msg.TimeStamp {
		log.Info().Str("thread", msg.ThreadTimeStamp).Msg("thread reply received")
		return r.jobs.EnqueueReply(ctx, msg.ThreadTimeStamp, msg.Text)
	}

	text := strings.ToLower(msg.Text)
	switch {
	case strings.Contains(text, "handle_one"):
		log.Info().Msg("handle_one requested")
		return r.jobs.EnqueueHandleOne(ctx)
	case strings.Contains(text, "fetch"):
		log.Info().Msg("fetch requested")
		return r.jobs.EnqueueFetch(ctx)
	}
	return nil
}

// Listen runs a Socket Mode connection until ctx is done. Events are acked
// before routing and routing only enqueues, so the loop never waits on the model.
func Listen(ctx context.Context, api *slack.Client, router *Router, logger zerolog.Logger) error {
	client := socketmode.New(api)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-client.Events:
				if !ok {
					return
				}
				switch evt.Type {
				case socketmode.EventTypeConnecting:
					logger.Info().Msg("connecting to Slack with Socket Mode")
				case socketmode.EventTypeConnected:
					logger.Info().Msg("connected to Slack with Socket Mode")
				case socketmode.EventTypeConnectionError:
					logger.Warn().Msg("socket mode connection failed; retrying")
				case socketmode.EventTypeEventsAPI:
					event, ok := evt.Data.(slackevents.EventsAPIEvent)
					if !ok {
						continue
					}
					if evt.Request != nil {
						client.Ack(*evt.Request)
					}
					if err := router.HandleEvent(ctx, event); err != nil {
						logger.Error().Err(err).Msg("failed to enqueue work for message")
					}
				}
			}
		}
	}()

	if err := client.RunContext(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("socket mode stopped: %w", err)
	}
	return nil
}
