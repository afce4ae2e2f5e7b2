package internal

import (
	"encoding/json"

	"tunelink/internal/storage"
)

// event names exchanged over the socket. Client-to-server events carry the
// announced identity's intent; server-to-client events are either targeted at
// one connection or fanned out to everyone connected.
const (
	EventAnnouncePresence = "announce_presence"
	EventUpdateActivity   = "update_activity"
	EventSendMessage      = "send_message"

	EventPresenceOnlineSet = "presence_online_set"
	EventPresenceInitial   = "presence_initial"
	EventActivitySnapshot  = "activity_snapshot"
	EventActivityChanged   = "activity_changed"
	EventMessageReceived   = "message_received"
	EventMessageAck        = "message_ack"
	EventMessageError      = "message_error"
	EventPeerJoined        = "peer_joined"
	EventPeerLeft          = "peer_left"
)

// Envelope is the json frame every socket event travels in.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type announcePayload struct {
	UserID string `json:"user_id" validate:"required"`
}

type updateActivityPayload struct {
	UserID   string `json:"user_id"`
	Activity string `json:"activity" validate:"required"`
}

type sendMessagePayload struct {
	ReceiverID string `json:"receiver_id" validate:"required"`
	Content    string `json:"content" validate:"required"`
}

type onlineSetPayload struct {
	UserIDs []string `json:"user_ids"`
}

type activitySnapshotPayload struct {
	Entries [][2]string `json:"entries"`
}

type activityChangedPayload struct {
	UserID   string `json:"user_id"`
	Activity string `json:"activity"`
}

type peerPayload struct {
	UserID string `json:"user_id"`
}

type messageErrorPayload struct {
	Reason string `json:"reason"`
}

// encodeEvent marshals an envelope for the wire. Payload types are all under
// our control, so a marshal failure is a programming error and yields nil,
// which writePump treats as nothing to send.
func encodeEvent(event string, data interface{}) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	encoded, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		return nil
	}
	return encoded
}

func encodeMessageEvent(event string, msg *storage.Message) []byte {
	return encodeEvent(event, msg)
}
