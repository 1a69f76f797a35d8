package chat

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"matchtalk/internal/metrics"
	"matchtalk/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS policy is enforced at the router.
	},
}

type Handler struct {
	hub          *Hub
	store        Store
	dedupWindow  time.Duration
	historyLimit int
}

func NewHandler(hub *Hub, store Store, dedupWindow time.Duration, historyLimit int) *Handler {
	return &Handler{
		hub:          hub,
		store:        store,
		dedupWindow:  dedupWindow,
		historyLimit: historyLimit,
	}
}

// ServeWs upgrades the connection and announces the authenticated
// identity to the hub. History is hydrated over REST, not on connect.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.Identity(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "err", err)
		return
	}

	client := &Client{
		hub:      h.hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		identity: identity,
	}
	client.hub.Register <- client
	metrics.OpenConnections.Inc()

	go client.writePump()
	go client.readPump()
}

// GetChatHistory returns the viewer's visible messages with ?with=,
// oldest first, after the duplicate-window repair pass.
func (h *Handler) GetChatHistory(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.Identity(r.Context())
	other := r.URL.Query().Get("with")
	if other == "" || other == identity {
		writeError(w, http.StatusBadRequest, "invalid_input")
		return
	}

	msgs, err := h.store.History(r.Context(), identity, other, h.historyLimit)
	if err != nil {
		h.fail(w, "history", err)
		return
	}
	metrics.HistoryFetchedTotal.Inc()

	msgs = Dedup(msgs, h.dedupWindow)
	if msgs == nil {
		msgs = []*Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) ListContacts(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.Identity(r.Context())

	contacts, err := h.store.ListContacts(r.Context(), identity)
	if err != nil {
		h.fail(w, "list contacts", err)
		return
	}
	if contacts == nil {
		contacts = []*Contact{}
	}
	writeJSON(w, http.StatusOK, contacts)
}

func (h *Handler) AddContact(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.Identity(r.Context())

	var req struct {
		ContactID string `json:"contactId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ContactID == "" || req.ContactID == identity {
		writeError(w, http.StatusBadRequest, "invalid_input")
		return
	}

	if err := h.store.AddContact(r.Context(), identity, req.ContactID); err != nil {
		h.fail(w, "add contact", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RemoveContact drops the contact from the requester's list only and
// soft-deletes the pair's history for the requester.
func (h *Handler) RemoveContact(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.Identity(r.Context())
	contactID := chi.URLParam(r, "contactID")
	if contactID == "" || contactID == identity {
		writeError(w, http.StatusBadRequest, "invalid_input")
		return
	}

	if err := h.store.RemoveContact(r.Context(), identity, contactID); err != nil {
		h.fail(w, "remove contact", err)
		return
	}
	metrics.MessagesDeletedTotal.Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if errors.Is(err, ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, "invalid_input")
		return
	}
	slog.Error("store operation failed", "op", op, "err", err)
	writeError(w, http.StatusInternalServerError, "internal")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind string) {
	writeJSON(w, status, map[string]string{"error": kind})
}
