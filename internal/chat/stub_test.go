package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore mirrors the Repository's semantics without Postgres:
// token-unique inserts, per-viewer deletion sets, pair-filtered
// history in insertion order. The clock is injectable so time-window
// behavior is deterministic.
type memStore struct {
	mu       sync.Mutex
	now      func() time.Time
	msgs     []*Message
	tokens   map[string]bool
	contacts map[string]map[string]bool
	failSave error
}

func newMemStore() *memStore {
	tick := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &memStore{
		now: func() time.Time {
			tick = tick.Add(time.Millisecond)
			return tick
		},
		tokens:   make(map[string]bool),
		contacts: make(map[string]map[string]bool),
	}
}

func (s *memStore) SaveMessage(_ context.Context, in SendInput) (*Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave != nil {
		return nil, false, s.failSave
	}
	if in.IdempotencyToken != "" {
		if s.tokens[in.IdempotencyToken] {
			return nil, false, nil
		}
		s.tokens[in.IdempotencyToken] = true
	}
	msg := &Message{
		ID:               uuid.NewString(),
		SenderID:         in.SenderID,
		ReceiverID:       in.ReceiverID,
		Text:             in.Text,
		CreatedAt:        s.now(),
		IdempotencyToken: in.IdempotencyToken,
	}
	s.msgs = append(s.msgs, msg)
	return copyMsg(msg), true, nil
}

func (s *memStore) EditMessage(_ context.Context, messageID, newText string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.msgs {
		if m.ID == messageID {
			m.Text = newText
			m.Edited = true
			return copyMsg(m), nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) MarkDeleted(_ context.Context, messageID, viewerID string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.msgs {
		if m.ID == messageID {
			if m.SenderID != viewerID && m.ReceiverID != viewerID {
				// Outsiders get the same answer as a missing message.
				return nil, ErrNotFound
			}
			if m.VisibleTo(viewerID) {
				m.DeletedBy = append(m.DeletedBy, viewerID)
			}
			return copyMsg(m), nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) History(_ context.Context, viewerID, otherID string, limit int) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Message
	for _, m := range s.msgs {
		if !samePair(m, viewerID, otherID) || !m.VisibleTo(viewerID) {
			continue
		}
		out = append(out, copyMsg(m))
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memStore) AddContact(_ context.Context, a, b string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addOneWay(a, b)
	s.addOneWay(b, a)
	return nil
}

func (s *memStore) addOneWay(owner, contact string) {
	if s.contacts[owner] == nil {
		s.contacts[owner] = make(map[string]bool)
	}
	s.contacts[owner][contact] = true
}

func (s *memStore) ListContacts(_ context.Context, ownerID string) ([]*Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Contact
	for contact := range s.contacts[ownerID] {
		c := &Contact{ContactID: contact}
		for i := len(s.msgs) - 1; i >= 0; i-- {
			m := s.msgs[i]
			if samePair(m, ownerID, contact) && m.VisibleTo(ownerID) {
				c.LastMessage = m.Text
				at := m.CreatedAt
				c.LastMessageAt = &at
				break
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *memStore) RemoveContact(_ context.Context, requesterID, contactID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contacts[requesterID], contactID)
	for _, m := range s.msgs {
		if samePair(m, requesterID, contactID) && m.VisibleTo(requesterID) {
			m.DeletedBy = append(m.DeletedBy, requesterID)
		}
	}
	return nil
}

func samePair(m *Message, a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

func copyMsg(m *Message) *Message {
	cp := *m
	cp.DeletedBy = append([]string(nil), m.DeletedBy...)
	return &cp
}

// chanBus loops published frames straight back to the subscriber.
type chanBus struct {
	ch chan []byte
}

func newChanBus() *chanBus {
	return &chanBus{ch: make(chan []byte, 64)}
}

func (b *chanBus) Publish(_ context.Context, payload []byte) error {
	b.ch <- payload
	return nil
}

func (b *chanBus) Subscribe(_ context.Context) <-chan []byte {
	return b.ch
}
