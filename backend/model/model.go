package model

import (
	"encoding/json"
	"errors"
	"time"
)

const (
	defaultTXBuffer = 64
)

// Event types. Direction is noted where an event is one-way.
const (
	EventHello = "hello" // server -> client
	EventAuth  = "auth"  // client -> server
	EventChat  = "chat"
	EventImage = "img"
	EventHost  = "host"
	EventWord  = "word" // client -> server
	EventSys   = "sys"  // server -> client, terminal
)

// Chat message kinds.
const (
	KindNormal  = "normal"
	KindSystem  = "system"
	KindPrivate = "private"
)

var (
	ErrNoPayload = errors.New("event has no payload")
	ErrNoType    = errors.New("event has no type")
)

// Event is a single protocol message. Image events carry the raw snapshot
// in Data and travel as binary frames, everything else is JSON.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`

	SRC      string `json:"-"` // for inbound events transport assigns this based on connection
	Data     []byte `json:"-"`
	Terminal bool   `json:"-"` // connection is closed after this event is written
}

// Decode unmarshals event payload into v. Inbound payloads arrive as
// json.RawMessage, locally constructed events may hold any value.
func (e Event) Decode(v any) error {
	var raw []byte
	switch p := e.Payload.(type) {
	case nil:
		return ErrNoPayload
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return err
		}
		raw = b
	}
	if len(raw) == 0 {
		return ErrNoPayload
	}
	return json.Unmarshal(raw, v)
}

// ParseEvent decodes a JSON text frame. The payload is kept raw until a
// consumer decodes it into the type its event requires.
func ParseEvent(b []byte) (Event, error) {
	var in struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(b, &in); err != nil {
		return Event{}, err
	}
	if in.Type == "" {
		return Event{}, ErrNoType
	}
	ev := Event{Type: in.Type}
	if len(in.Payload) > 0 && string(in.Payload) != "null" {
		ev.Payload = in.Payload
	}
	return ev, nil
}

// HostClaim is the wire form of the current drawing authority.
// A nil *HostClaim means nobody holds the claim.
type HostClaim struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
}

// Link is a clickable affordance attached to a chat message. It either
// sends Chat as a chat line or emits a word event with Topic and Word.
type Link struct {
	Label string `json:"label"`
	Chat  string `json:"chat,omitempty"`
	Topic string `json:"topic,omitempty"`
	Word  string `json:"word,omitempty"`
}

type ChatMessage struct {
	ID       string `json:"id"`
	From     string `json:"from"`
	Nickname string `json:"nickname"`
	Message  string `json:"message"`
	Kind     string `json:"kind"`
	Links    []Link `json:"links,omitempty"`
}

type WordChoice struct {
	Topic string `json:"topic"`
	Word  string `json:"word"`
}

type SessionInfo struct {
	ID       string    `json:"id"`
	Nickname string    `json:"nickname"`
	JoinedAt time.Time `json:"joined_at"`
}

// Wire connects a transport to its session.
type Wire struct {
	RX chan Event
	TX chan Event
}

func NewWire() Wire {
	return Wire{
		RX: make(chan Event),
		TX: make(chan Event, defaultTXBuffer),
	}
}

func HelloEvent() Event {
	return Event{Type: EventHello}
}

func HostEvent(claim *HostClaim) Event {
	ev := Event{Type: EventHost}
	if claim != nil {
		ev.Payload = claim
	}
	return ev
}

func ChatEvent(msg ChatMessage) Event {
	return Event{Type: EventChat, Payload: msg}
}

func ImageEvent(data []byte) Event {
	return Event{Type: EventImage, Data: data}
}

func SysEvent(notice string) Event {
	return Event{Type: EventSys, Payload: notice, Terminal: true}
}
