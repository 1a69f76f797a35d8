package chat

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"matchtalk/internal/middleware"
)

func testServer(t *testing.T, store Store) *httptest.Server {
	t.Helper()
	hub := NewHub(store, NewPresence(), newChanBus(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	h := NewHandler(hub, store, time.Minute, 500)

	r := chi.NewRouter()
	// Identity comes from a header instead of a real token here; the
	// auth middleware has its own tests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := context.WithValue(req.Context(), middleware.IdentityKey, req.Header.Get("X-Identity"))
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Get("/api/messages", h.GetChatHistory)
	r.Get("/api/contacts", h.ListContacts)
	r.Post("/api/contacts", h.AddContact)
	r.Delete("/api/contacts/{contactID}", h.RemoveContact)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doReq(t *testing.T, method, url, identity, body string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("X-Identity", identity)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	raw, _ := io.ReadAll(res.Body)
	return res, raw
}

func seedSend(t *testing.T, store Store, sender, receiver, text, token string) *Message {
	t.Helper()
	msg, created, err := store.SaveMessage(context.Background(), SendInput{
		SenderID: sender, ReceiverID: receiver, Text: text, IdempotencyToken: token,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		return nil
	}
	return msg
}

func TestHistoryRetriedSendAndPerViewerDelete(t *testing.T) {
	store := newMemStore()
	srv := testServer(t, store)

	msg := seedSend(t, store, "A", "B", "hello", "t1")
	if dup := seedSend(t, store, "A", "B", "hello", "t1"); dup != nil {
		t.Fatal("retried token must not create a second row")
	}

	res, raw := doReq(t, "GET", srv.URL+"/api/messages?with=A", "B", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", res.StatusCode, raw)
	}
	var history []*Message
	if err := json.Unmarshal(raw, &history); err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Text != "hello" {
		t.Fatalf("history = %s, want exactly one hello", raw)
	}

	if _, err := store.MarkDeleted(context.Background(), msg.ID, "B"); err != nil {
		t.Fatal(err)
	}

	_, raw = doReq(t, "GET", srv.URL+"/api/messages?with=A", "B", "")
	if string(raw) != "[]\n" {
		t.Fatalf("B's history after delete = %s, want empty", raw)
	}

	_, raw = doReq(t, "GET", srv.URL+"/api/messages?with=B", "A", "")
	if err := json.Unmarshal(raw, &history); err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Fatalf("A's history = %s, want the message to survive B's delete", raw)
	}
}

func TestHistoryAppliesDedupWindow(t *testing.T) {
	store := newMemStore()
	srv := testServer(t, store)

	// Token-less near-duplicates, the legacy double-write shape.
	seedSend(t, store, "A", "B", "hello", "")
	seedSend(t, store, "A", "B", "hello", "")
	seedSend(t, store, "A", "B", "bye", "")

	_, raw := doReq(t, "GET", srv.URL+"/api/messages?with=A", "B", "")
	var history []*Message
	if err := json.Unmarshal(raw, &history); err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %s, want duplicates collapsed to [hello bye]", raw)
	}
	if history[0].Text != "hello" || history[1].Text != "bye" {
		t.Fatalf("history order = %v, want [hello bye]", texts(history))
	}
}

func TestHistoryInvalidInput(t *testing.T) {
	srv := testServer(t, newMemStore())

	res, _ := doReq(t, "GET", srv.URL+"/api/messages", "A", "")
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing ?with status = %d, want 400", res.StatusCode)
	}

	res, raw := doReq(t, "GET", srv.URL+"/api/messages?with=A", "A", "")
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("self-history status = %d, want 400", res.StatusCode)
	}
	if !strings.Contains(string(raw), "invalid_input") {
		t.Fatalf("body = %s, want structured invalid_input", raw)
	}
}

func TestContactLifecycle(t *testing.T) {
	store := newMemStore()
	srv := testServer(t, store)

	res, _ := doReq(t, "POST", srv.URL+"/api/contacts", "A", `{"contactId":"B"}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("add contact status = %d", res.StatusCode)
	}

	// Symmetric: B sees A as well.
	for _, owner := range []string{"A", "B"} {
		_, raw := doReq(t, "GET", srv.URL+"/api/contacts", owner, "")
		var contacts []*Contact
		if err := json.Unmarshal(raw, &contacts); err != nil {
			t.Fatal(err)
		}
		if len(contacts) != 1 {
			t.Fatalf("%s contacts = %s, want one entry", owner, raw)
		}
	}

	seedSend(t, store, "A", "B", "latest word", "")

	_, raw := doReq(t, "GET", srv.URL+"/api/contacts", "A", "")
	var contacts []*Contact
	if err := json.Unmarshal(raw, &contacts); err != nil {
		t.Fatal(err)
	}
	if contacts[0].LastMessage != "latest word" {
		t.Fatalf("preview = %+v, want last message text", contacts[0])
	}

	// One-directional removal with bulk soft delete.
	res, _ = doReq(t, "DELETE", srv.URL+"/api/contacts/B", "A", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("remove contact status = %d", res.StatusCode)
	}

	_, raw = doReq(t, "GET", srv.URL+"/api/contacts", "A", "")
	if string(raw) != "[]\n" {
		t.Fatalf("A contacts after removal = %s, want empty", raw)
	}
	_, raw = doReq(t, "GET", srv.URL+"/api/contacts", "B", "")
	if err := json.Unmarshal(raw, &contacts); err != nil {
		t.Fatal(err)
	}
	if len(contacts) != 1 {
		t.Fatalf("B contacts = %s, removal must be one-directional", raw)
	}

	_, raw = doReq(t, "GET", srv.URL+"/api/messages?with=B", "A", "")
	if string(raw) != "[]\n" {
		t.Fatalf("A history after contact removal = %s, want bulk soft delete", raw)
	}
	_, raw = doReq(t, "GET", srv.URL+"/api/messages?with=A", "B", "")
	var history []*Message
	if err := json.Unmarshal(raw, &history); err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Fatalf("B history = %s, want messages intact for the other side", raw)
	}
}

func TestAddContactInvalidBody(t *testing.T) {
	srv := testServer(t, newMemStore())

	for _, body := range []string{"", "{}", `{"contactId":"A"}`, "not json"} {
		res, _ := doReq(t, "POST", srv.URL+"/api/contacts", "A", body)
		if res.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %q status = %d, want 400", body, res.StatusCode)
		}
	}
}
