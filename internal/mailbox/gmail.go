// Package mailbox reads messages from Gmail and renders them as markdown items.
package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/mailtriage/pkg/models"
)

const userID = "me"

// ErrNoToken means the OAuth token file has not been provisioned yet
var ErrNoToken = errors.New("gmail token file missing; run the OAuth consent flow out of band")

// Options for the Gmail source
type Options struct {
	CredentialsFile string
	TokenFile       string
	Query           string
	MaxResults      int64
}

// Gmail lists and renders messages; it implements dispatch.Source
type Gmail struct {
	svc        *gmail.Service
	query      string
	maxResults int64
	renderer   *Renderer
	logger     zerolog.Logger
}

// NewGmail authenticates with a stored OAuth2 token (refreshed automatically)
func NewGmail(ctx context.Context, opts Options, logger zerolog.Logger) (*Gmail, error) {
	creds, err := os.ReadFile(opts.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read gmail credentials: %w", err)
	}
	cfg, err := google.ConfigFromJSON(creds, gmail.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse gmail credentials: %w", err)
	}
	tok, err := loadToken(opts.TokenFile)
	if err != nil {
		return nil, err
	}
	return NewGmailWithClient(ctx, cfg.Client(ctx, tok), opts, logger)
}

// NewGmailWithClient uses an already authorized HTTP client. Extra client
// options (such as option.WithEndpoint) are passed to the Gmail service.
func NewGmailWithClient(ctx context.Context, hc *http.Client, opts Options, logger zerolog.Logger, extra ...option.ClientOption) (*Gmail, error) {
	clientOpts := append([]option.ClientOption{option.WithHTTPClient(hc)}, extra...)
	svc, err := gmail.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 100
	}
	return &Gmail{
		svc:        svc,
		query:      opts.Query,
		maxResults: opts.MaxResults,
		renderer:   NewRenderer(),
		logger:     logger.With().Str("component", "gmail").Logger(),
	}, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoToken, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open gmail token: %w", err)
	}
	defer f.Close()
	var tok oauth2.Token
	if err := json.NewDecoder(f).Decode(&tok); err != nil {
		return nil, fmt.Errorf("failed to parse gmail token: %w", err)
	}
	return &tok, nil
}

func (g *Gmail) Type() models.ItemType { return models.ItemTypeGmail }

// ListIDs returns up to MaxResults message ids matching the configured query
func (g *Gmail) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	call := g.svc.Users.Messages.List(userID).MaxResults(g.maxResults)
	if g.query != "" {
		call = call.Q(g.query)
	}
	errStop := errors.New("enough")
	err := call.Pages(ctx, func(page *gmail.ListMessagesResponse) error {
		for _, m := range page.Messages {
			ids = append(ids, m.Id)
			if int64(len(ids)) >= g.maxResults {
				return errStop
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	g.logger.Debug().Int("count", len(ids)).Str("query", g.query).Msg("listed messages")
	return ids, nil
}

// Fetch downloads one message and renders it
func (g *Gmail) Fetch(ctx context.Context, id string) (string, error) {
	msg, err := g.svc.Users.Messages.Get(userID, id).Format("full").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to get message %s: %w", id, err)
	}
	return g.renderer.Markdown(msg)
}
