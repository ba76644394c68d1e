package room

import (
	"time"

	"github.com/adwski/shared-canvas/backend/arbiter"
	"github.com/adwski/shared-canvas/backend/model"
	sw "github.com/adwski/shared-canvas/backend/switch"
)

// Msg is anything the room actor accepts in its inbox.
type Msg interface{ isRoomMsg() }

// Session is an authenticated participant. Nickname never changes.
type Session struct {
	ID       string
	Nickname string
	JoinedAt time.Time
}

// Join registers an authenticated session and its outbound endpoint.
type Join struct {
	Session  Session
	Endpoint sw.Endpoint
}

// Leave is sent when a session's connection goes away.
type Leave struct {
	SessionID string
}

type Chat struct {
	From string
	Text string
}

type Image struct {
	From string
	Data []byte
}

type Host struct {
	From   string
	Action arbiter.Action
}

type Word struct {
	From  string
	Topic string
	Word  string
}

// Throttled tells the session its last chat or word event was dropped by
// flood limiting.
type Throttled struct {
	SessionID string
}

// GetState asks for a read-only view of the room.
type GetState struct {
	Reply chan View
}

func (Join) isRoomMsg()      {}
func (Leave) isRoomMsg()     {}
func (Chat) isRoomMsg()      {}
func (Image) isRoomMsg()     {}
func (Host) isRoomMsg()      {}
func (Word) isRoomMsg()      {}
func (Throttled) isRoomMsg() {}
func (GetState) isRoomMsg()  {}

// View never contains the secret word or snapshot bytes.
type View struct {
	ID           string              `json:"id"`
	Host         *model.HostClaim    `json:"host"`
	Sessions     []model.SessionInfo `json:"sessions"`
	SnapshotSize int                 `json:"snapshot_size"`
	Topic        string              `json:"topic,omitempty"`
	Messages     uint64              `json:"messages"`
}
