package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const suggestionKeyPrefix = "inventory:reorder:suggestions"

// SuggestionStore keeps the latest reorder suggestions of each tenant in
// Redis for procurement tooling.
type SuggestionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSuggestionStore builds the store. A zero ttl keeps entries forever.
func NewSuggestionStore(client *redis.Client, ttl time.Duration) *SuggestionStore {
	return &SuggestionStore{client: client, ttl: ttl}
}

// SuggestionKey returns the Redis key holding a tenant's suggestions.
func SuggestionKey(orgID int64) string {
	return fmt.Sprintf("%s:%d", suggestionKeyPrefix, orgID)
}

// Publish replaces the tenant's suggestion list.
func (s *SuggestionStore) Publish(ctx context.Context, orgID int64, suggestions []ReorderSuggestion) error {
	if s == nil || s.client == nil {
		return nil
	}
	if suggestions == nil {
		suggestions = []ReorderSuggestion{}
	}
	raw, err := json.Marshal(suggestions)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, SuggestionKey(orgID), raw, s.ttl).Err()
}

// Latest returns the last published list, empty when nothing is stored.
func (s *SuggestionStore) Latest(ctx context.Context, orgID int64) ([]ReorderSuggestion, error) {
	if s == nil || s.client == nil {
		return []ReorderSuggestion{}, nil
	}
	raw, err := s.client.Get(ctx, SuggestionKey(orgID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return []ReorderSuggestion{}, nil
	}
	if err != nil {
		return nil, err
	}
	var suggestions []ReorderSuggestion
	if err := json.Unmarshal(raw, &suggestions); err != nil {
		return nil, fmt.Errorf("inventory: decode suggestions: %w", err)
	}
	return suggestions, nil
}
