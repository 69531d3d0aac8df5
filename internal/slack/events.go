package slack

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

var ErrBadSignature = errors.New("slack request signature mismatch")

// ParseEvents verifies an Events API request against the signing secret and
// decodes it. For url_verification requests the returned challenge is non-empty.
func ParseEvents(header http.Header, body []byte, signingSecret string) (event slackevents.EventsAPIEvent, challenge string, err error) {
	sv, err := slack.NewSecretsVerifier(header, signingSecret)
	if err != nil {
		return event, "", fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if _, err := sv.Write(body); err != nil {
		return event, "", err
	}
	if err := sv.Ensure(); err != nil {
		return event, "", fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	event, err = slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		return event, "", fmt.Errorf("failed to parse event: %w", err)
	}
	if event.Type == slackevents.URLVerification {
		var r slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &r); err != nil {
			return event, "", fmt.Errorf("failed to parse challenge: %w", err)
		}
		return event, r.Challenge, nil
	}
	return event, "", nil
}
