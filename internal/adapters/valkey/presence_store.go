package valkey

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/valkey-io/valkey-go"

	"github.com/samirrijal/tandemap/internal/core/domain"
)

// PresenceStore implements ports.PresenceStore as one JSON value per user.
type PresenceStore struct {
	client valkey.Client
}

// NewPresenceStore creates a store sharing client.
func NewPresenceStore(client valkey.Client) *PresenceStore {
	return &PresenceStore{client: client}
}

func presenceKey(userID string) string {
	return fmt.Sprintf("presence:meta:%s", userID)
}

// LoadMeta returns the last committed message and emoji, or nil if none.
func (s *PresenceStore) LoadMeta(ctx context.Context, userID string) (*domain.PresenceMeta, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(presenceKey(userID)).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load presence meta: %w", err)
	}
	var meta domain.PresenceMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode presence meta: %w", err)
	}
	return &meta, nil
}

// SaveMeta persists meta without expiry.
func (s *PresenceStore) SaveMeta(ctx context.Context, userID string, meta domain.PresenceMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	cmd := s.client.B().Set().Key(presenceKey(userID)).Value(valkey.BinaryString(data)).Build()
	return s.client.Do(ctx, cmd).Error()
}
