package conversation

import (
	"context"
	"encoding/json"
	"sync"

	"vozlab.mx/conversa/internal/model"
)

// MemoryStore is an in-process Store for tests and local development. It
// copies conversations on the way in and out so callers never share state
// through the map.
type MemoryStore struct {
	mu    sync.Mutex
	convs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string][]byte)}
}

func (s *MemoryStore) Load(ctx context.Context, brandKey, userID string) (*model.Conversation, error) {
	s.mu.Lock()
	data, ok := s.convs[storageKey(brandKey, userID)]
	s.mu.Unlock()

	if !ok {
		return model.NewConversation(brandKey, userID), nil
	}
	return DecodeConversation(ctx, data, brandKey, userID), nil
}

func (s *MemoryStore) Save(_ context.Context, conv *model.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.convs[storageKey(conv.BrandKey, conv.UserID)] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, brandKey, userID string) error {
	s.mu.Lock()
	delete(s.convs, storageKey(brandKey, userID))
	s.mu.Unlock()
	return nil
}

// MemoryDedup is an in-process Dedup for tests.
type MemoryDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func NewMemoryDedup() *MemoryDedup {
	return &MemoryDedup{seen: make(map[string]bool)}
}

func (d *MemoryDedup) Acquire(_ context.Context, messageID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[messageID] {
		return false, nil
	}
	d.seen[messageID] = true
	return true, nil
}

func (d *MemoryDedup) Release(_ context.Context, messageID string) error {
	d.mu.Lock()
	delete(d.seen, messageID)
	d.mu.Unlock()
	return nil
}

func (d *MemoryDedup) Seen(_ context.Context, messageID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[messageID], nil
}
