package trello

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CardResult is what the service reports back for a created card
type CardResult struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
	List string `json:"list"`
}

// Service creates cards on one board, filing them into a list chosen by card type
type Service struct {
	client  *Client
	boardID string
	logger  zerolog.Logger

	mu      sync.Mutex
	listIDs map[string]string
}

func NewService(client *Client, boardID string, logger zerolog.Logger) (*Service, error) {
	if boardID == "" {
		return nil, fmt.Errorf("missing trello board id")
	}
	return &Service{
		client:  client,
		boardID: boardID,
		logger:  logger,
		listIDs: make(map[string]string),
	}, nil
}

// ListNameForType maps a card type to the list it belongs in
func ListNameForType(cardType string) string {
	switch strings.ToLower(strings.TrimSpace(cardType)) {
	case "meeting":
		return "Meeting"
	case "event":
		return "Events"
	default:
		return "General"
	}
}

// CreateCard files a card under the list for cardType, creating the list if needed
func (s *Service) CreateCard(ctx context.Context, cardType, name, desc string, due time.Time) (*CardResult, error) {
	listName := ListNameForType(cardType)
	listID, err := s.findOrCreateList(ctx, listName)
	if err != nil {
		return nil, err
	}
	card, err := s.client.CreateCard(ctx, listID, name, desc, due)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("card_id", card.ID).
		Str("list", listName).
		Msg("trello card created")
	return &CardResult{ID: card.ID, Name: card.Name, URL: card.ShortURL, List: listName}, nil
}

func (s *Service) findOrCreateList(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.listIDs[name]; ok {
		return id, nil
	}
	lists, err := s.client.GetLists(ctx, s.boardID)
	if err != nil {
		return "", err
	}
	for _, l := range lists {
		if l.Name == name && !l.Closed {
			s.listIDs[name] = l.ID
			return l.ID, nil
		}
	}
	created, err := s.client.CreateList(ctx, s.boardID, name)
	if err != nil {
		return "", err
	}
	s.logger.Debug().Str("list", name).Str("list_id", created.ID).Msg("trello list created")
	s.listIDs[name] = created.ID
	return created.ID, nil
}
