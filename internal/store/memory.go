package store

import (
	"context"
	"sync"
	"time"

	"github.com/mailtriage/pkg/models"
)

// InMemoryStore is a threadsafe in-memory store for tests and dry runs
type InMemoryStore struct {
	mu       sync.RWMutex
	items    map[models.ItemKey]*models.Item
	order    []models.ItemKey
	chats    map[models.ItemKey][]*models.ChatLine
	byThread map[string]models.ItemKey
	itemSeq  int64
	chatSeq  int64
	now      func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		items:    make(map[models.ItemKey]*models.Item),
		chats:    make(map[models.ItemKey][]*models.ChatLine),
		byThread: make(map[string]models.ItemKey),
		now:      time.Now,
	}
}

func (s *InMemoryStore) GetItem(ctx context.Context, key models.ItemKey) (*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *it
	return &cp, nil
}

func (s *InMemoryStore) ListChat(ctx context.Context, key models.ItemKey) ([]*models.ChatLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.chats[key]
	out := make([]*models.ChatLine, 0, len(src))
	for _, l := range src {
		cp := *l
		out = append(out, &cp)
	}
	return out, nil
}

func (s *InMemoryStore) AppendChat(ctx context.Context, key models.ItemKey, afterSeq int64, lines []*models.ChatLine) error {
	if err := validateLines(key, lines); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; !ok {
		return ErrNotFound
	}
	var last int64
	if cur := s.chats[key]; len(cur) > 0 {
		last = cur[len(cur)-1].Seq
	}
	if last != afterSeq {
		return ErrConflict
	}
	now := s.now()
	for _, l := range lines {
		s.chatSeq++
		l.Seq = s.chatSeq
		l.CreatedAt = now
		cp := *l
		s.chats[key] = append(s.chats[key], &cp)
	}
	return nil
}

func (s *InMemoryStore) FindUnresolvedItem(ctx context.Context) (*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range s.order {
		it := s.items[key]
		if !it.Claimed() {
			cp := *it
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) FindItemByThread(ctx context.Context, thread string) (*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.byThread[thread]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.items[key]
	return &cp, nil
}

func (s *InMemoryStore) InsertItemIfAbsent(ctx context.Context, key models.ItemKey, content string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; ok {
		return false, nil
	}
	s.itemSeq++
	s.items[key] = &models.Item{
		Type:      key.Type,
		ID:        key.ID,
		Seq:       s.itemSeq,
		Content:   content,
		CreatedAt: s.now(),
	}
	s.order = append(s.order, key)
	return true, nil
}

func (s *InMemoryStore) SetThread(ctx context.Context, key models.ItemKey, channel, thread string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[key]
	if !ok {
		return ErrNotFound
	}
	if it.Claimed() {
		return ErrAlreadyClaimed
	}
	if _, taken := s.byThread[thread]; taken {
		return ErrThreadTaken
	}
	it.ExternalChannel = channel
	it.ExternalThread = thread
	s.byThread[thread] = key
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
