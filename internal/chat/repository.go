package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the Postgres-backed Store. Conflicting writes are
// serialized by the database itself: the partial unique index on
// idempotency_token makes the duplicate check and the insert a single
// atomic statement.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func (r *Repository) SaveMessage(ctx context.Context, in SendInput) (*Message, bool, error) {
	var token *string
	if in.IdempotencyToken != "" {
		token = &in.IdempotencyToken
	}

	msg := &Message{
		ID:               uuid.NewString(),
		SenderID:         in.SenderID,
		ReceiverID:       in.ReceiverID,
		Text:             in.Text,
		IdempotencyToken: in.IdempotencyToken,
	}

	query := `
		INSERT INTO messages (id, sender_id, receiver_id, text, idempotency_token)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_token) WHERE idempotency_token IS NOT NULL DO NOTHING
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query, msg.ID, msg.SenderID, msg.ReceiverID, msg.Text, token).
		Scan(&msg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Token already seen: the retry is a silent success.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("save message: %w", err)
	}
	return msg, true, nil
}

func (r *Repository) EditMessage(ctx context.Context, messageID, newText string) (*Message, error) {
	if _, err := uuid.Parse(messageID); err != nil {
		return nil, ErrNotFound
	}

	query := `
		UPDATE messages SET text = $2, edited = TRUE
		WHERE id = $1
		RETURNING id, sender_id, receiver_id, text, edited, created_at
	`
	msg := &Message{}
	err := r.db.QueryRow(ctx, query, messageID, newText).
		Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Text, &msg.Edited, &msg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("edit message: %w", err)
	}
	return msg, nil
}

func (r *Repository) MarkDeleted(ctx context.Context, messageID, viewerID string) (*Message, error) {
	if _, err := uuid.Parse(messageID); err != nil {
		return nil, ErrNotFound
	}

	// No-op when viewerID is already in the set, but still return the
	// row so the caller can address both participants. Only the two
	// participants may ever enter deleted_by; anyone else gets the same
	// answer as a missing message.
	query := `
		UPDATE messages
		SET deleted_by = CASE
			WHEN $2 = ANY(deleted_by) THEN deleted_by
			ELSE array_append(deleted_by, $2)
		END
		WHERE id = $1 AND $2 IN (sender_id, receiver_id)
		RETURNING id, sender_id, receiver_id, text, edited, created_at, deleted_by
	`
	msg := &Message{}
	err := r.db.QueryRow(ctx, query, messageID, viewerID).
		Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Text, &msg.Edited, &msg.CreatedAt, &msg.DeletedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mark deleted: %w", err)
	}
	return msg, nil
}

func (r *Repository) History(ctx context.Context, viewerID, otherID string, limit int) ([]*Message, error) {
	// Newest rows first so the limit trims the oldest, then reversed
	// for the oldest-first contract.
	query := `
		SELECT id, sender_id, receiver_id, text, edited, created_at
		FROM messages
		WHERE ((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1))
		  AND NOT ($1 = ANY(deleted_by))
		ORDER BY created_at DESC, seq DESC
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, viewerID, otherID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg := &Message{}
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Text, &msg.Edited, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *Repository) AddContact(ctx context.Context, a, b string) error {
	query := `
		INSERT INTO contacts (owner_id, contact_id)
		VALUES ($1, $2), ($2, $1)
		ON CONFLICT (owner_id, contact_id) DO NOTHING
	`
	if _, err := r.db.Exec(ctx, query, a, b); err != nil {
		return fmt.Errorf("add contact: %w", err)
	}
	return nil
}

func (r *Repository) ListContacts(ctx context.Context, ownerID string) ([]*Contact, error) {
	query := `
		SELECT c.contact_id, COALESCE(m.text, ''), m.created_at
		FROM contacts c
		LEFT JOIN LATERAL (
			SELECT text, created_at
			FROM messages
			WHERE ((sender_id = c.owner_id AND receiver_id = c.contact_id)
			    OR (sender_id = c.contact_id AND receiver_id = c.owner_id))
			  AND NOT (c.owner_id = ANY(deleted_by))
			ORDER BY created_at DESC, seq DESC
			LIMIT 1
		) m ON TRUE
		WHERE c.owner_id = $1
		ORDER BY m.created_at DESC NULLS LAST, c.contact_id
	`
	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*Contact
	for rows.Next() {
		c := &Contact{}
		if err := rows.Scan(&c.ContactID, &c.LastMessage, &c.LastMessageAt); err != nil {
			return nil, fmt.Errorf("list contacts: %w", err)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	return contacts, nil
}

func (r *Repository) RemoveContact(ctx context.Context, requesterID, contactID string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("remove contact: %w", err)
	}
	defer tx.Rollback(ctx)

	// One-directional: only the requester's list entry goes away.
	if _, err := tx.Exec(ctx,
		`DELETE FROM contacts WHERE owner_id = $1 AND contact_id = $2`,
		requesterID, contactID); err != nil {
		return fmt.Errorf("remove contact: %w", err)
	}

	// Bulk per-viewer soft delete of the pair's history.
	if _, err := tx.Exec(ctx, `
		UPDATE messages
		SET deleted_by = array_append(deleted_by, $1)
		WHERE ((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1))
		  AND NOT ($1 = ANY(deleted_by))
	`, requesterID, contactID); err != nil {
		return fmt.Errorf("remove contact: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("remove contact: %w", err)
	}
	return nil
}
