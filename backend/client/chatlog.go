package client

import (
	"slices"
	"sync"

	"github.com/adwski/shared-canvas/backend/model"
)

const defaultChatLogSize = 100

// ChatLog keeps the most recent chat messages in arrival order.
type ChatLog struct {
	mx      *sync.Mutex
	max     int
	entries []model.ChatMessage
}

func NewChatLog(max int) *ChatLog {
	if max <= 0 {
		max = defaultChatLogSize
	}
	return &ChatLog{mx: &sync.Mutex{}, max: max}
}

func (l *ChatLog) Push(msg model.ChatMessage) {
	l.mx.Lock()
	defer l.mx.Unlock()
	l.entries = append(l.entries, msg)
	if over := len(l.entries) - l.max; over > 0 {
		l.entries = slices.Delete(l.entries, 0, over)
	}
}

func (l *ChatLog) Entries() []model.ChatMessage {
	l.mx.Lock()
	defer l.mx.Unlock()
	return slices.Clone(l.entries)
}
