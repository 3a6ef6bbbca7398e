// Package contacts resolves user IDs to the contact details needed for
// outbound delivery: email address, phone number, country code, and the
// user's preferred channel.
package contacts

import (
	"context"
	"fmt"
	"sync"

	"github.com/garagedesk/notify/internal/models"
)

// Source looks up contact information for a user.
type Source interface {
	// GetContactInfo returns the contact record for userID, or
	// models.ErrContactNotFound if no record exists.
	GetContactInfo(ctx context.Context, userID string) (*models.UserContactInfo, error)
}

// StaticSource is an in-memory Source backed by a fixed map. It is used by
// the CLI sandbox mode and by tests; production deployments wire a Source
// backed by the garage's user database.
type StaticSource struct {
	mu    sync.RWMutex
	users map[string]models.UserContactInfo
}

// NewStaticSource creates a StaticSource from the given records keyed by user ID.
func NewStaticSource(users map[string]models.UserContactInfo) *StaticSource {
	copied := make(map[string]models.UserContactInfo, len(users))
	for id, info := range users {
		copied[id] = info
	}
	return &StaticSource{users: copied}
}

// GetContactInfo implements Source.
func (s *StaticSource) GetContactInfo(_ context.Context, userID string) (*models.UserContactInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("lookup for user %s: %w", userID, models.ErrContactNotFound)
	}
	return &info, nil
}

// Put adds or replaces a contact record.
func (s *StaticSource) Put(userID string, info models.UserContactInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = info
}
