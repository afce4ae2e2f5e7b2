package internal

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/go-playground/validator/v10"

	"tunelink/internal/storage"
)

// MessageStore is the durable append-only side of the hub. *storage.Store
// satisfies it; tests may substitute a failing store.
type MessageStore interface {
	CreateMessage(ctx context.Context, senderID, receiverID, content string) (*storage.Message, error)
	ListConversation(ctx context.Context, userA, userB string) ([]storage.Message, error)
}

// Hub is the presence protocol orchestrator. A single Run goroutine owns the
// connected-client set and serializes every announce, activity update,
// message send and disconnect, so the registry and tracker never see
// interleaved mutations from two connections. Durable writes are the one
// exception: they run on their own goroutines and post their completions back
// onto the loop, so a slow insert cannot stall fan-out to other clients.
type Hub struct {
	registry *ConnectionRegistry
	tracker  *ActivityTracker
	store    MessageStore
	metrics  *Metrics
	validate *validator.Validate

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundEvent
	completed  chan func()
}

type inboundEvent struct {
	client   *Client
	envelope Envelope
}

// NewHub wires the hub with explicitly owned collaborators so tests can build
// isolated instances; nothing here is package-level state.
func NewHub(registry *ConnectionRegistry, tracker *ActivityTracker, store MessageStore, metrics *Metrics) *Hub {
	return &Hub{
		registry:   registry,
		tracker:    tracker,
		store:      store,
		metrics:    metrics,
		validate:   validator.New(),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundEvent, 64),
		completed:  make(chan func(), 64),
	}
}

// Registry exposes the online set for the HTTP layer.
func (h *Hub) Registry() *ConnectionRegistry {
	return h.registry
}

// Run processes hub events until the context is cancelled. Call it in its own
// goroutine before accepting connections.
func (h *Hub) Run(ctx context.Context) {
	clients := make(map[*Client]bool)
	byConn := make(map[string]*Client)

	drop := func(client *Client) {
		if _, exists := clients[client]; !exists {
			return
		}
		delete(clients, client)
		delete(byConn, client.connID)
		close(client.send)
		h.metrics.DecConn()
	}

	push := func(client *Client, payload []byte) {
		if payload == nil || !clients[client] {
			return
		}
		select {
		case client.send <- payload:
		default:
			// too slow to read; drop the connection rather than let one
			// receiver hold up the loop
			drop(client)
		}
	}

	broadcast := func(payload []byte) {
		for client := range clients {
			push(client, payload)
		}
	}

	for {
		select {
		case client := <-h.register:
			clients[client] = true
			byConn[client.connID] = client
			h.metrics.IncConn()

		case client := <-h.unregister:
			drop(client)
			userID, freed := h.registry.UnregisterByConnection(client.connID)
			if !freed {
				// a stale, superseded connection going away; the registry
				// entry already belongs to the newer one
				continue
			}
			h.tracker.Remove(userID)
			broadcast(encodeEvent(EventPeerLeft, peerPayload{UserID: userID}))
			broadcast(encodeEvent(EventPresenceOnlineSet, onlineSetPayload{UserIDs: h.registry.ListOnline()}))
			broadcast(encodeEvent(EventActivitySnapshot, activitySnapshotPayload{Entries: h.tracker.Snapshot()}))

		case event := <-h.inbound:
			if byConn[event.client.connID] != event.client {
				// queued by a connection that was dropped in the meantime; a
				// stale announce here must not displace the live connection
				continue
			}
			h.dispatch(ctx, event, byConn, drop, push, broadcast)

		case completion := <-h.completed:
			completion()

		case <-ctx.Done():
			for client := range clients {
				drop(client)
			}
			return
		}
	}
}

// dispatch runs on the hub loop. A malformed or out-of-state event is logged
// and ignored; it must never take the loop down or touch another user's state.
func (h *Hub) dispatch(ctx context.Context, event inboundEvent, byConn map[string]*Client, drop func(*Client), push func(*Client, []byte), broadcast func([]byte)) {
	client := event.client
	switch event.envelope.Event {
	case EventAnnouncePresence:
		var payload announcePayload
		if err := json.Unmarshal(event.envelope.Data, &payload); err != nil || h.validate.Struct(payload) != nil {
			log.Printf("hub: bad announce payload from conn %s", client.connID)
			return
		}
		if payload.UserID != client.userID {
			log.Printf("hub: conn %s announced %q but authenticated as %q", client.connID, payload.UserID, client.userID)
			return
		}
		h.handleAnnounce(client, byConn, drop, push, broadcast)

	case EventUpdateActivity:
		if !client.announced {
			log.Printf("hub: update_activity before announce on conn %s", client.connID)
			return
		}
		var payload updateActivityPayload
		if err := json.Unmarshal(event.envelope.Data, &payload); err != nil || h.validate.Struct(payload) != nil {
			log.Printf("hub: bad activity payload from %s", client.userID)
			return
		}
		h.tracker.Set(client.userID, payload.Activity)
		broadcast(encodeEvent(EventActivityChanged, activityChangedPayload{UserID: client.userID, Activity: payload.Activity}))

	case EventSendMessage:
		if !client.announced {
			log.Printf("hub: send_message before announce on conn %s", client.connID)
			return
		}
		var payload sendMessagePayload
		if err := json.Unmarshal(event.envelope.Data, &payload); err != nil || h.validate.Struct(payload) != nil {
			push(client, encodeEvent(EventMessageError, messageErrorPayload{Reason: "receiver_id and content are required"}))
			return
		}
		h.handleSendMessage(ctx, client, payload, byConn, push)

	default:
		log.Printf("hub: unknown event %q from conn %s", event.envelope.Event, client.connID)
	}
}

func (h *Hub) handleAnnounce(client *Client, byConn map[string]*Client, drop func(*Client), push func(*Client, []byte), broadcast func([]byte)) {
	wasOnline := h.registry.IsOnline(client.userID)
	previous := h.registry.Register(client.userID, client.connID)
	if previous != "" {
		// last writer wins: the displaced connection is terminated, not left
		// believing it still represents this user
		if old := byConn[previous]; old != nil && old != client {
			drop(old)
		}
	}
	if !client.announced {
		h.tracker.Set(client.userID, DefaultActivity)
		client.announced = true
		h.metrics.IncAnnounce()
	}

	if !wasOnline {
		broadcast(encodeEvent(EventPeerJoined, peerPayload{UserID: client.userID}))
	}
	broadcast(encodeEvent(EventPresenceOnlineSet, onlineSetPayload{UserIDs: h.registry.ListOnline()}))
	broadcast(encodeEvent(EventActivitySnapshot, activitySnapshotPayload{Entries: h.tracker.Snapshot()}))
	push(client, encodeEvent(EventPresenceInitial, onlineSetPayload{UserIDs: h.registry.ListOnline()}))
}

func (h *Hub) handleSendMessage(ctx context.Context, client *Client, payload sendMessagePayload, byConn map[string]*Client, push func(*Client, []byte)) {
	senderID := client.userID
	go func() {
		msg, err := h.store.CreateMessage(ctx, senderID, payload.ReceiverID, payload.Content)
		completion := func() {
			if err != nil {
				reason := "message could not be saved"
				if errors.Is(err, storage.ErrInvalidMessage) {
					reason = err.Error()
				} else {
					log.Printf("hub: persist message from %s: %v", senderID, err)
				}
				push(client, encodeEvent(EventMessageError, messageErrorPayload{Reason: reason}))
				return
			}
			h.metrics.IncMessage()
			// live registry lookup: if the receiver reconnected since the
			// sender hit send, delivery goes to the current connection
			if connID, online := h.registry.Lookup(msg.ReceiverID); online {
				if receiver := byConn[connID]; receiver != nil {
					push(receiver, encodeMessageEvent(EventMessageReceived, msg))
				}
			}
			push(client, encodeMessageEvent(EventMessageAck, msg))
		}
		select {
		case h.completed <- completion:
		case <-ctx.Done():
		}
	}()
}
