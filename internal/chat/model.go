package chat

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("chat: message not found")
	ErrInvalidInput = errors.New("chat: invalid input")
)

// Message is the canonical persisted form. Identity strings are opaque
// and stable per user; the pair is immutable after creation.
type Message struct {
	ID               string    `json:"id"`
	SenderID         string    `json:"senderId"`
	ReceiverID       string    `json:"receiverId"`
	Text             string    `json:"text"`
	Edited           bool      `json:"edited"`
	CreatedAt        time.Time `json:"createdAt"`
	DeletedBy        []string  `json:"-"`
	IdempotencyToken string    `json:"-"`
}

// VisibleTo reports whether viewer has not soft-deleted the message.
func (m *Message) VisibleTo(viewer string) bool {
	for _, v := range m.DeletedBy {
		if v == viewer {
			return false
		}
	}
	return true
}

type SendInput struct {
	SenderID         string
	ReceiverID       string
	Text             string
	IdempotencyToken string
}

// Contact is one entry of a contact list, denormalized with the most
// recent message still visible to the owner.
type Contact struct {
	ContactID     string     `json:"contactId"`
	LastMessage   string     `json:"lastMessage,omitempty"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
}

// Store is what the hub and handlers need from persistence. The
// Postgres Repository implements it; tests swap in a memory stub.
type Store interface {
	// SaveMessage persists a new message, or reports created=false when
	// the idempotency token has been seen before (no side effects).
	SaveMessage(ctx context.Context, in SendInput) (msg *Message, created bool, err error)
	EditMessage(ctx context.Context, messageID, newText string) (*Message, error)
	// MarkDeleted adds viewerID to the message's deletion set. Adding
	// twice is a no-op; a missing message is ErrNotFound.
	MarkDeleted(ctx context.Context, messageID, viewerID string) (*Message, error)
	// History returns messages between the pair that viewerID has not
	// deleted, oldest first, capped to the most recent limit rows.
	History(ctx context.Context, viewerID, otherID string, limit int) ([]*Message, error)
	AddContact(ctx context.Context, a, b string) error
	ListContacts(ctx context.Context, ownerID string) ([]*Contact, error)
	// RemoveContact drops contactID from requesterID's list and adds
	// requesterID to the deletion set of every message in the pair.
	RemoveContact(ctx context.Context, requesterID, contactID string) error
}

// Wire events. Clients send ClientEvent frames; the server answers
// with ServerEvent frames, discriminated by Type.
const (
	EventSend   = "send"
	EventEdit   = "edit"
	EventDelete = "delete"

	EventMessage        = "message"
	EventMessageRemoved = "messageRemoved"
	EventOnline         = "onlineIdentities"
	EventError          = "error"
)

type ClientEvent struct {
	Type             string `json:"type"`
	SenderID         string `json:"senderId,omitempty"`
	ReceiverID       string `json:"receiverId,omitempty"`
	Text             string `json:"text,omitempty"`
	IdempotencyToken string `json:"idempotencyToken,omitempty"`
	MessageID        string `json:"messageId,omitempty"`
	NewText          string `json:"newText,omitempty"`
}

type ServerEvent struct {
	Type       string   `json:"type"`
	Message    *Message `json:"message,omitempty"`
	MessageID  string   `json:"messageId,omitempty"`
	ViewerID   string   `json:"viewerId,omitempty"`
	Identities []string `json:"identities,omitempty"`
	Error      string   `json:"error,omitempty"`
}
