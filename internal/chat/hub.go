package chat

import (
	"context"
	"encoding/json"
	"log/slog"

	"matchtalk/internal/metrics"
)

// envelope is the bus frame: a canonical server event addressed to
// specific identities, or to everyone when Targets is empty.
type envelope struct {
	Targets []string        `json:"targets,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound pairs a decoded client event with the connection it arrived
// on, so errors can be answered on that connection alone.
type Inbound struct {
	Client *Client
	Event  ClientEvent
}

// Hub owns the connection set. All mutation flows through its run loop,
// one event at a time: persistence, contact upkeep, then fan-out via
// the bus. Sequential processing is what serializes racing sends.
type Hub struct {
	store    Store
	presence *Presence
	bus      EventBus
	log      *slog.Logger

	Register   chan *Client
	Unregister chan *Client
	Inbound    chan *Inbound
}

func NewHub(store Store, presence *Presence, bus EventBus, log *slog.Logger) *Hub {
	return &Hub{
		store:      store,
		presence:   presence,
		bus:        bus,
		log:        log,
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Inbound:    make(chan *Inbound),
	}
}

func (h *Hub) Run(ctx context.Context) {
	fromBus := h.bus.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.Register:
			if prev := h.presence.Register(client.identity, client); prev != nil {
				// Single-device model: the superseded connection is no
				// longer addressable.
				prev.closeSend()
			}
			h.publishOnline(ctx)

		case client := <-h.Unregister:
			removed := h.presence.Unregister(client.identity, client)
			client.closeSend()
			if removed {
				h.publishOnline(ctx)
			}

		case in := <-h.Inbound:
			h.handleEvent(ctx, in)

		case payload, ok := <-fromBus:
			if !ok {
				return
			}
			h.route(ctx, payload)
		}
	}
}

func (h *Hub) handleEvent(ctx context.Context, in *Inbound) {
	switch in.Event.Type {
	case EventSend:
		h.handleSend(ctx, in)
	case EventEdit:
		h.handleEdit(ctx, in)
	case EventDelete:
		h.handleDelete(ctx, in)
	default:
		in.Client.reply(&ServerEvent{Type: EventError, Error: "invalid_input"})
	}
}

func (h *Hub) handleSend(ctx context.Context, in *Inbound) {
	ev := in.Event
	sender := in.Client.identity
	if ev.SenderID != "" && ev.SenderID != sender {
		// The connection identity is authoritative.
		in.Client.reply(&ServerEvent{Type: EventError, Error: "invalid_input"})
		return
	}
	if ev.ReceiverID == "" || ev.Text == "" {
		in.Client.reply(&ServerEvent{Type: EventError, Error: "invalid_input"})
		return
	}

	msg, created, err := h.store.SaveMessage(ctx, SendInput{
		SenderID:         sender,
		ReceiverID:       ev.ReceiverID,
		Text:             ev.Text,
		IdempotencyToken: ev.IdempotencyToken,
	})
	if err != nil {
		h.log.Error("persist send failed", "sender", sender, "err", err)
		in.Client.reply(&ServerEvent{Type: EventError, Error: "internal"})
		return
	}
	if !created {
		// Retried token: durable row already exists, nothing to push.
		metrics.DuplicatesSuppressedTotal.Inc()
		return
	}
	metrics.MessagesStoredTotal.Inc()

	if err := h.store.AddContact(ctx, msg.SenderID, msg.ReceiverID); err != nil {
		// History visibility re-derives from deleted_by, so a missed
		// contact row self-heals on the next send.
		h.log.Error("contact upsert failed", "sender", sender, "err", err)
	}

	h.publish(ctx, []string{msg.SenderID, msg.ReceiverID},
		&ServerEvent{Type: EventMessage, Message: msg})
}

func (h *Hub) handleEdit(ctx context.Context, in *Inbound) {
	ev := in.Event
	if ev.MessageID == "" || ev.NewText == "" {
		in.Client.reply(&ServerEvent{Type: EventError, Error: "invalid_input"})
		return
	}

	msg, err := h.store.EditMessage(ctx, ev.MessageID, ev.NewText)
	if err != nil {
		h.replyError(in.Client, "edit", err)
		return
	}
	metrics.MessagesEditedTotal.Inc()

	h.publish(ctx, []string{msg.SenderID, msg.ReceiverID},
		&ServerEvent{Type: EventMessage, Message: msg})
}

func (h *Hub) handleDelete(ctx context.Context, in *Inbound) {
	ev := in.Event
	if ev.MessageID == "" {
		in.Client.reply(&ServerEvent{Type: EventError, Error: "invalid_input"})
		return
	}
	viewer := in.Client.identity

	msg, err := h.store.MarkDeleted(ctx, ev.MessageID, viewer)
	if err != nil {
		h.replyError(in.Client, "delete", err)
		return
	}
	metrics.MessagesDeletedTotal.Inc()

	// Both participants get the event; each client drops the row only
	// when viewerId matches its own identity.
	h.publish(ctx, []string{msg.SenderID, msg.ReceiverID},
		&ServerEvent{Type: EventMessageRemoved, MessageID: msg.ID, ViewerID: viewer})
}

func (h *Hub) replyError(c *Client, op string, err error) {
	if err == ErrNotFound {
		c.reply(&ServerEvent{Type: EventError, Error: "not_found"})
		return
	}
	h.log.Error("store operation failed", "op", op, "identity", c.identity, "err", err)
	c.reply(&ServerEvent{Type: EventError, Error: "internal"})
}

func (h *Hub) publishOnline(ctx context.Context) {
	h.publish(ctx, nil, &ServerEvent{Type: EventOnline, Identities: h.presence.Snapshot()})
}

func (h *Hub) publish(ctx context.Context, targets []string, ev *ServerEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("marshal event failed", "type", ev.Type, "err", err)
		return
	}
	frame, _ := json.Marshal(envelope{Targets: targets, Payload: payload})
	if err := h.bus.Publish(ctx, frame); err != nil {
		h.log.Error("bus publish failed", "type", ev.Type, "err", err)
	}
}

// route fans a bus frame out to whichever targets are present here.
// Delivery is best effort and independent per recipient.
func (h *Hub) route(ctx context.Context, payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		h.log.Error("malformed bus frame", "err", err)
		return
	}

	if len(env.Targets) == 0 {
		for _, id := range h.presence.Snapshot() {
			if c, ok := h.presence.Lookup(id); ok {
				h.deliver(ctx, c, env.Payload)
			}
		}
		return
	}

	seen := make(map[string]bool, len(env.Targets))
	for _, id := range env.Targets {
		if seen[id] {
			// A self-send addresses the same identity twice.
			continue
		}
		seen[id] = true
		if c, ok := h.presence.Lookup(id); ok {
			h.deliver(ctx, c, env.Payload)
		}
	}
}

func (h *Hub) deliver(ctx context.Context, c *Client, payload []byte) {
	select {
	case c.send <- payload:
		metrics.LiveDeliveriesTotal.WithLabelValues(eventType(payload)).Inc()
	default:
		// Slow consumer: drop the connection rather than block the hub.
		// That is a presence mutation, so the online set goes out too.
		if h.presence.Unregister(c.identity, c) {
			h.publishOnline(ctx)
		}
		c.closeSend()
	}
}

func eventType(payload []byte) string {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil || probe.Type == "" {
		return "unknown"
	}
	return probe.Type
}
