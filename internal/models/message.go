package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType names a signaling event carried over the websocket
type EventType string

const (
	EventWelcome          EventType = "welcome"
	EventJoinRoom         EventType = "join-room"
	EventLeaveRoom        EventType = "leave-room"
	EventParticipantsList EventType = "participants-list"
	EventUserJoined       EventType = "user-joined"
	EventUserLeft         EventType = "user-left"
	EventOffer            EventType = "offer"
	EventAnswer           EventType = "answer"
	EventICECandidate     EventType = "ice-candidate"
	EventChatMessage      EventType = "chat-message"
	EventError            EventType = "error"
)

// Envelope is the frame exchanged between participants and the relay
type Envelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope encodes v as the data of an event
func NewEnvelope(event EventType, v interface{}) (Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", event, err)
	}
	return Envelope{Event: event, Data: data}, nil
}

// Decode unmarshals the envelope data into v
func (e Envelope) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: missing data", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: %w", e.Event, err)
	}
	return nil
}

// Welcome tells a freshly connected client its relay-assigned identity
type Welcome struct {
	ParticipantID string `json:"participantId"`
}

// RoomRequest is the data of join-room and leave-room
type RoomRequest struct {
	RoomID string `json:"roomId"`
}

// Participant describes a room member. Only ID is authoritative; the other
// fields are placeholders filled in by the relay.
type Participant struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	IsAudioMuted bool   `json:"isAudioMuted"`
	IsVideoOff   bool   `json:"isVideoOff"`
}

// NewParticipant synthesizes the placeholder descriptor for id
func NewParticipant(id string) Participant {
	short := id
	if len(short) > 6 {
		short = short[:6]
	}
	return Participant{ID: id, Name: "Participant " + short}
}

type ParticipantsList struct {
	Members []Participant `json:"members"`
}

// Presence is the data of user-joined and user-left
type Presence struct {
	ParticipantID string `json:"participantId"`
}

// Signal carries an opaque negotiation payload. Clients fill To; the relay
// replaces it with From before forwarding.
type Signal struct {
	Payload json.RawMessage `json:"payload"`
	To      string          `json:"to,omitempty"`
	From    string          `json:"from,omitempty"`
}

// ChatMessage is relayed to every member of Room. ID and Timestamp are
// assigned by the relay when the client leaves them empty.
type ChatMessage struct {
	ID        string     `json:"id,omitempty"`
	Text      string     `json:"text"`
	Room      string     `json:"room"`
	Sender    string     `json:"sender"`
	SenderID  string     `json:"senderId,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}
