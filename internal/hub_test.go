package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tunelink/internal/storage"
)

const eventWait = 3 * time.Second

type testServer struct {
	http  *httptest.Server
	store *storage.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := storage.NewStore("sqlite://file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	metrics := NewMetrics()
	hub := NewHub(NewConnectionRegistry(), NewActivityTracker(), store, metrics)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	server := NewServer(store, hub, NewSessionVerifier(store), metrics)
	mux := http.NewServeMux()
	mux.HandleFunc("/socket", server.ServeWS)
	mux.HandleFunc("/signup", server.HandleSignup)
	mux.HandleFunc("/login", server.HandleLogin)
	mux.HandleFunc("/logout", server.HandleLogout)
	mux.HandleFunc("/conversations/", server.HandleConversation)
	mux.HandleFunc("/online", server.HandleOnline)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return &testServer{http: ts, store: store}
}

// sessionFor seeds a user plus a valid session token, the way the auth
// collaborator would have.
func (ts *testServer) sessionFor(t *testing.T, username string) string {
	t.Helper()
	ctx := context.Background()
	if err := ts.store.CreateUser(ctx, username, []byte("hash")); err != nil && err != storage.ErrUserExists {
		t.Fatalf("CreateUser: %v", err)
	}
	token := uuid.NewString()
	if err := ts.store.CreateSession(ctx, username, token, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return token
}

func (ts *testServer) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/socket"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, payload interface{}) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, encodeEvent(event, payload)); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

// waitForEvent reads frames until the named event shows up, skipping
// unrelated broadcasts along the way.
func waitForEvent(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(eventWait)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		var envelope Envelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			t.Fatalf("bad frame while waiting for %s: %v", event, err)
		}
		if envelope.Event == event {
			return envelope.Data
		}
	}
}

func announce(t *testing.T, conn *websocket.Conn, username string) {
	t.Helper()
	sendEvent(t, conn, EventAnnouncePresence, announcePayload{UserID: username})
	waitForEvent(t, conn, EventPresenceInitial)
}

func decodeOnlineSet(t *testing.T, data json.RawMessage) []string {
	t.Helper()
	var payload onlineSetPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("decode online set: %v", err)
	}
	return payload.UserIDs
}

func TestAnnounceBroadcastsOnlineSet(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, ts.sessionFor(t, "alice"))

	sendEvent(t, conn, EventAnnouncePresence, announcePayload{UserID: "alice"})

	joined := waitForEvent(t, conn, EventPeerJoined)
	var peer peerPayload
	if err := json.Unmarshal(joined, &peer); err != nil || peer.UserID != "alice" {
		t.Fatalf("unexpected peer_joined: %s err=%v", joined, err)
	}
	online := decodeOnlineSet(t, waitForEvent(t, conn, EventPresenceInitial))
	if len(online) != 1 || online[0] != "alice" {
		t.Fatalf("online set = %v, want exactly [alice]", online)
	}
}

func TestAnnounceDefaultsActivityToIdle(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, ts.sessionFor(t, "alice"))

	sendEvent(t, conn, EventAnnouncePresence, announcePayload{UserID: "alice"})

	var snapshot activitySnapshotPayload
	if err := json.Unmarshal(waitForEvent(t, conn, EventActivitySnapshot), &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snapshot.Entries) != 1 || snapshot.Entries[0] != [2]string{"alice", DefaultActivity} {
		t.Fatalf("unexpected snapshot: %v", snapshot.Entries)
	}
}

func TestSupersedingConnectionForcesOldClosed(t *testing.T) {
	ts := newTestServer(t)
	first := ts.dial(t, ts.sessionFor(t, "alice"))
	announce(t, first, "alice")

	second := ts.dial(t, ts.sessionFor(t, "alice"))
	sendEvent(t, second, EventAnnouncePresence, announcePayload{UserID: "alice"})

	online := decodeOnlineSet(t, waitForEvent(t, second, EventPresenceInitial))
	if len(online) != 1 || online[0] != "alice" {
		t.Fatalf("online set after supersede = %v, want exactly [alice]", online)
	}

	// the displaced connection gets closed by the server
	_ = first.SetReadDeadline(time.Now().Add(eventWait))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	// the newer registration survives the stale connection going away
	time.Sleep(100 * time.Millisecond)
	sendEvent(t, second, EventUpdateActivity, updateActivityPayload{UserID: "alice", Activity: "still here"})
	var changed activityChangedPayload
	if err := json.Unmarshal(waitForEvent(t, second, EventActivityChanged), &changed); err != nil || changed.Activity != "still here" {
		t.Fatalf("newer connection is dead: %+v err=%v", changed, err)
	}
}

func TestActivityUpdateBroadcast(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.dial(t, ts.sessionFor(t, "alice"))
	bob := ts.dial(t, ts.sessionFor(t, "bob"))
	announce(t, alice, "alice")
	announce(t, bob, "bob")

	sendEvent(t, alice, EventUpdateActivity, updateActivityPayload{UserID: "alice", Activity: "Playing Kind of Blue by Miles Davis"})

	var changed activityChangedPayload
	if err := json.Unmarshal(waitForEvent(t, bob, EventActivityChanged), &changed); err != nil {
		t.Fatalf("decode activity_changed: %v", err)
	}
	if changed.UserID != "alice" || changed.Activity != "Playing Kind of Blue by Miles Davis" {
		t.Fatalf("unexpected activity_changed: %+v", changed)
	}
}

func TestDirectMessageDelivery(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.dial(t, ts.sessionFor(t, "alice"))
	bob := ts.dial(t, ts.sessionFor(t, "bob"))
	announce(t, alice, "alice")
	announce(t, bob, "bob")

	sendEvent(t, alice, EventSendMessage, sendMessagePayload{ReceiverID: "bob", Content: "hello"})

	var received storage.Message
	if err := json.Unmarshal(waitForEvent(t, bob, EventMessageReceived), &received); err != nil {
		t.Fatalf("decode message_received: %v", err)
	}
	if received.SenderID != "alice" || received.Content != "hello" {
		t.Fatalf("unexpected delivery: %+v", received)
	}

	var ack storage.Message
	if err := json.Unmarshal(waitForEvent(t, alice, EventMessageAck), &ack); err != nil {
		t.Fatalf("decode message_ack: %v", err)
	}
	if ack.ID == "" || ack.ID != received.ID || ack.Content != "hello" {
		t.Fatalf("ack must carry the persisted message: %+v", ack)
	}
	if ack.CreatedAt.IsZero() {
		t.Fatalf("ack missing server-assigned timestamp")
	}
}

func TestMessageToOfflineUserStillPersisted(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.dial(t, ts.sessionFor(t, "alice"))
	announce(t, alice, "alice")

	sendEvent(t, alice, EventSendMessage, sendMessagePayload{ReceiverID: "bob", Content: "you there?"})

	var ack storage.Message
	if err := json.Unmarshal(waitForEvent(t, alice, EventMessageAck), &ack); err != nil {
		t.Fatalf("decode message_ack: %v", err)
	}
	if ack.ReceiverID != "bob" || ack.Content != "you there?" {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	messages, err := ts.store.ListConversation(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("ListConversation: %v", err)
	}
	if len(messages) != 1 || messages[0].Content != "you there?" {
		t.Fatalf("message not persisted for offline receiver: %+v", messages)
	}
}

func TestValidationErrorsReachOnlySender(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.dial(t, ts.sessionFor(t, "alice"))
	bob := ts.dial(t, ts.sessionFor(t, "bob"))
	announce(t, alice, "alice")
	announce(t, bob, "bob")

	// missing content fails payload validation
	sendEvent(t, alice, EventSendMessage, sendMessagePayload{ReceiverID: "bob"})
	var payloadErr messageErrorPayload
	if err := json.Unmarshal(waitForEvent(t, alice, EventMessageError), &payloadErr); err != nil || payloadErr.Reason == "" {
		t.Fatalf("expected message_error for empty content, got %+v err=%v", payloadErr, err)
	}

	// self-messaging is rejected by the store
	sendEvent(t, alice, EventSendMessage, sendMessagePayload{ReceiverID: "alice", Content: "hi me"})
	var selfErr messageErrorPayload
	if err := json.Unmarshal(waitForEvent(t, alice, EventMessageError), &selfErr); err != nil || selfErr.Reason == "" {
		t.Fatalf("expected message_error for self message, got %+v err=%v", selfErr, err)
	}

	// bob's connection stays healthy and uninvolved
	sendEvent(t, bob, EventUpdateActivity, updateActivityPayload{UserID: "bob", Activity: "Idle"})
	waitForEvent(t, bob, EventActivityChanged)

	messages, err := ts.store.ListConversation(context.Background(), "alice", "bob")
	if err != nil || len(messages) != 0 {
		t.Fatalf("rejected messages must not persist: %v err=%v", messages, err)
	}
}

func TestDisconnectBroadcast(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.dial(t, ts.sessionFor(t, "alice"))
	bob := ts.dial(t, ts.sessionFor(t, "bob"))
	announce(t, alice, "alice")
	announce(t, bob, "bob")

	// drain bob's view of alice's earlier join if still queued
	sendEvent(t, bob, EventUpdateActivity, updateActivityPayload{UserID: "bob", Activity: "waiting"})
	waitForEvent(t, bob, EventActivityChanged)

	_ = alice.Close()

	var left peerPayload
	if err := json.Unmarshal(waitForEvent(t, bob, EventPeerLeft), &left); err != nil || left.UserID != "alice" {
		t.Fatalf("expected peer_left for alice, got %+v err=%v", left, err)
	}

	online := decodeOnlineSet(t, waitForEvent(t, bob, EventPresenceOnlineSet))
	for _, user := range online {
		if user == "alice" {
			t.Fatalf("alice still in online set after disconnect: %v", online)
		}
	}

	var snapshot activitySnapshotPayload
	if err := json.Unmarshal(waitForEvent(t, bob, EventActivitySnapshot), &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	for _, entry := range snapshot.Entries {
		if entry[0] == "alice" {
			t.Fatalf("alice still in activity snapshot: %v", snapshot.Entries)
		}
	}
}

func TestEventsBeforeAnnounceAreIgnored(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, ts.sessionFor(t, "alice"))

	// protocol errors before announce must not kill the connection
	sendEvent(t, conn, EventSendMessage, sendMessagePayload{ReceiverID: "bob", Content: "too soon"})
	sendEvent(t, conn, EventUpdateActivity, updateActivityPayload{UserID: "alice", Activity: "early"})

	announce(t, conn, "alice")

	messages, err := ts.store.ListConversation(context.Background(), "alice", "bob")
	if err != nil || len(messages) != 0 {
		t.Fatalf("pre-announce message must not persist: %v err=%v", messages, err)
	}
}

// stubMessageStore satisfies MessageStore for hub tests that never persist.
type stubMessageStore struct{}

func (stubMessageStore) CreateMessage(ctx context.Context, senderID, receiverID, content string) (*storage.Message, error) {
	return nil, storage.ErrInvalidMessage
}

func (stubMessageStore) ListConversation(ctx context.Context, userA, userB string) ([]storage.Message, error) {
	return nil, nil
}

func mustRaw(t *testing.T, payload interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return raw
}

// readQueuedEvent pulls frames straight off a client's send queue until the
// named event shows up.
func readQueuedEvent(t *testing.T, client *Client, event string) json.RawMessage {
	t.Helper()
	deadline := time.After(eventWait)
	for {
		select {
		case frame, ok := <-client.send:
			if !ok {
				t.Fatalf("send queue closed while waiting for %s", event)
			}
			var envelope Envelope
			if err := json.Unmarshal(frame, &envelope); err != nil {
				t.Fatalf("bad frame while waiting for %s: %v", event, err)
			}
			if envelope.Event == event {
				return envelope.Data
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", event)
		}
	}
}

func TestStaleQueuedAnnounceCannotDisplaceLiveConnection(t *testing.T) {
	registry := NewConnectionRegistry()
	hub := NewHub(registry, NewActivityTracker(), stubMessageStore{}, NewMetrics())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	first := newClient(hub, nil, "c1", "alice")
	second := newClient(hub, nil, "c2", "alice")

	hub.register <- first
	hub.inbound <- inboundEvent{client: first, envelope: Envelope{Event: EventAnnouncePresence, Data: mustRaw(t, announcePayload{UserID: "alice"})}}
	readQueuedEvent(t, first, EventPresenceInitial)

	hub.register <- second
	hub.inbound <- inboundEvent{client: second, envelope: Envelope{Event: EventAnnouncePresence, Data: mustRaw(t, announcePayload{UserID: "alice"})}}
	readQueuedEvent(t, second, EventPresenceInitial)

	select {
	case _, ok := <-first.send:
		if ok {
			t.Fatalf("superseded connection should only see its queue close")
		}
	case <-time.After(eventWait):
		t.Fatalf("superseded connection send queue never closed")
	}

	// an announce the old connection queued before it learned it was dropped
	// must be ignored, not re-registered over the live connection
	hub.inbound <- inboundEvent{client: first, envelope: Envelope{Event: EventAnnouncePresence, Data: mustRaw(t, announcePayload{UserID: "alice"})}}

	hub.inbound <- inboundEvent{client: second, envelope: Envelope{Event: EventUpdateActivity, Data: mustRaw(t, updateActivityPayload{UserID: "alice", Activity: "still the live one"})}}
	var changed activityChangedPayload
	if err := json.Unmarshal(readQueuedEvent(t, second, EventActivityChanged), &changed); err != nil || changed.Activity != "still the live one" {
		t.Fatalf("live connection lost its queue: %+v err=%v", changed, err)
	}

	if connID, ok := registry.Lookup("alice"); !ok || connID != "c2" {
		t.Fatalf("registry entry for alice = %q ok=%v, want live connection c2", connID, ok)
	}
}

func TestRateLimitedFramesDroppedSilently(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, ts.sessionFor(t, "alice"))
	announce(t, conn, "alice")

	for i := 0; i < rateLimitBurst+5; i++ {
		sendEvent(t, conn, EventUpdateActivity, updateActivityPayload{UserID: "alice", Activity: fmt.Sprintf("track %d", i)})
	}

	// frames past the burst vanish; they must not surface as message_error
	changed := 0
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var envelope Envelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		if envelope.Event == EventMessageError {
			t.Fatalf("rate limited frame produced message_error")
		}
		if envelope.Event == EventActivityChanged {
			changed++
		}
	}
	if changed == 0 || changed > rateLimitBurst {
		t.Fatalf("activity_changed count = %d, want between 1 and %d", changed, rateLimitBurst)
	}
}

func TestHandshakeRejectsBadCredential(t *testing.T) {
	ts := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/socket"
	header := http.Header{}
	header.Set("Authorization", "Bearer not-a-token")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		_ = conn.Close()
		t.Fatalf("expected handshake rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 before upgrade, got %+v", resp)
	}
}
