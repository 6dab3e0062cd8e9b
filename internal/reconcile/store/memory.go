package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"weld/internal/domain"
	"weld/pkg/platform/sentinel"
)

// Memory is an in-memory contact store. It keeps dev mode and unit tests
// lightweight and intentionally favors clarity over performance.
type Memory struct {
	mu       sync.RWMutex
	contacts map[int64]domain.Contact
	nextID   int64

	// now is swappable so tests can control created_at ordering.
	now func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		contacts: make(map[int64]domain.Contact),
		nextID:   1,
		now:      time.Now,
	}
}

// SetClock replaces the store's clock. Test use only.
func (s *Memory) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Save upserts a contact as-is, without touching id or timestamps. It exists
// for seeding fixtures (including deliberately malformed chains) and is not
// part of the engine's contract.
func (s *Memory) Save(_ context.Context, contact domain.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[contact.ID] = contact
	if contact.ID >= s.nextID {
		s.nextID = contact.ID + 1
	}
	return nil
}

func (s *Memory) FindCandidates(_ context.Context, email, phone string) ([]domain.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Contact
	for _, c := range s.contacts {
		if c.DeletedAt != nil {
			continue
		}
		if (email != "" && c.EmailValue() == email) || (phone != "" && c.PhoneValue() == phone) {
			out = append(out, c)
		}
	}
	sortContacts(out)
	return out, nil
}

func (s *Memory) GetByID(_ context.Context, id int64) (domain.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[id]
	if !ok || c.DeletedAt != nil {
		return domain.Contact{}, sentinel.ErrNotFound
	}
	return c, nil
}

func (s *Memory) FindByLinkedTo(_ context.Context, primaryID int64) ([]domain.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Contact
	for _, c := range s.contacts {
		if c.DeletedAt != nil || c.LinkedID == nil || *c.LinkedID != primaryID {
			continue
		}
		out = append(out, c)
	}
	sortContacts(out)
	return out, nil
}

func (s *Memory) Create(_ context.Context, params domain.CreateParams) (domain.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	contact := domain.Contact{
		ID:         s.nextID,
		LinkedID:   params.LinkedID,
		Precedence: params.Precedence,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if params.Email != "" {
		email := params.Email
		contact.Email = &email
	}
	if params.Phone != "" {
		phone := params.Phone
		contact.Phone = &phone
	}
	s.nextID++
	s.contacts[contact.ID] = contact
	return contact, nil
}

func (s *Memory) DemoteToSecondary(_ context.Context, contactID, newPrimaryID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[contactID]
	if !ok || c.DeletedAt != nil {
		return sentinel.ErrNotFound
	}
	link := newPrimaryID
	c.Precedence = domain.PrecedenceSecondary
	c.LinkedID = &link
	c.UpdatedAt = s.now()
	s.contacts[contactID] = c
	return nil
}

func (s *Memory) RelinkChildren(_ context.Context, oldPrimaryID, newPrimaryID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, c := range s.contacts {
		if c.DeletedAt != nil || c.LinkedID == nil || *c.LinkedID != oldPrimaryID {
			continue
		}
		link := newPrimaryID
		c.LinkedID = &link
		c.UpdatedAt = now
		s.contacts[id] = c
	}
	return nil
}

// All returns every stored contact ordered by (created_at, id). Test helper.
func (s *Memory) All() []domain.Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, c)
	}
	sortContacts(out)
	return out
}

func sortContacts(contacts []domain.Contact) {
	sort.Slice(contacts, func(i, j int) bool {
		return domain.Less(contacts[i], contacts[j])
	})
}
