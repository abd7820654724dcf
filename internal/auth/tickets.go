package auth

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// ticketBytes is the number of random bytes in a WebSocket ticket.
const ticketBytes = 32

// Ticket is what a consumed WebSocket ticket was issued for.
type Ticket struct {
	Subject   string
	Role      Role
	expiresAt time.Time
}

// TicketStore holds pending single-use WebSocket tickets.
//
// Thread Safety: all methods are safe for concurrent use.
type TicketStore struct {
	ttl     time.Duration
	now     func() time.Time
	tickets map[string]Ticket
	mu      sync.Mutex
}

// NewTicketStore creates a store whose tickets expire after ttl.
func NewTicketStore(ttl time.Duration) *TicketStore {
	return &TicketStore{
		ttl:     ttl,
		now:     time.Now,
		tickets: make(map[string]Ticket),
	}
}

// TTL returns how long an issued ticket stays valid.
func (s *TicketStore) TTL() time.Duration {
	return s.ttl
}

// Issue creates a ticket for the given caller.
func (s *TicketStore) Issue(subject string, role Role) (string, error) {
	b := make([]byte, ticketBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	ticket := hex.EncodeToString(b)

	s.mu.Lock()
	s.tickets[ticket] = Ticket{Subject: subject, Role: role, expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()
	return ticket, nil
}

// Consume validates and removes a ticket. Expired tickets are removed
// and rejected.
func (s *TicketStore) Consume(ticket string) (Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tickets[ticket]
	if !ok {
		return Ticket{}, false
	}
	delete(s.tickets, ticket)

	if !s.now().Before(entry.expiresAt) {
		return Ticket{}, false
	}
	return entry, true
}

// CleanExpired removes expired tickets and returns how many were dropped.
func (s *TicketStore) CleanExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for ticket, entry := range s.tickets {
		if !now.Before(entry.expiresAt) {
			delete(s.tickets, ticket)
			n++
		}
	}
	return n
}

// Len returns the number of pending tickets.
func (s *TicketStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickets)
}
