package client

import "sync"

const HistorySize = 10

// History is a bounded undo/redo stack of committed snapshots.
// Moving the cursor hands the snapshot at the new position to the handler.
type History struct {
	handler func(data []byte)

	mx      *sync.Mutex
	entries [][]byte
	pos     int
}

func NewHistory(handler func(data []byte)) *History {
	if handler == nil {
		handler = func([]byte) {}
	}
	return &History{
		handler: handler,
		mx:      &sync.Mutex{},
	}
}

// Push drops everything ahead of the cursor, appends data and moves the
// cursor to it. Only the newest HistorySize entries are kept.
func (h *History) Push(data []byte) {
	h.mx.Lock()
	defer h.mx.Unlock()

	if len(h.entries) > 0 {
		h.entries = h.entries[:h.pos+1]
	}
	h.entries = append(h.entries, data)
	if over := len(h.entries) - HistorySize; over > 0 {
		h.entries = append([][]byte(nil), h.entries[over:]...)
	}
	h.pos = len(h.entries) - 1
}

func (h *History) Back() bool { return h.move(-1) }

func (h *History) Forward() bool { return h.move(1) }

func (h *History) move(offset int) bool {
	h.mx.Lock()
	next := h.pos + offset
	if next < 0 || next >= len(h.entries) {
		h.mx.Unlock()
		return false
	}
	h.pos = next
	data := h.entries[next]
	h.mx.Unlock()

	h.handler(data)
	return true
}

func (h *History) CanBack() bool {
	h.mx.Lock()
	defer h.mx.Unlock()
	return h.pos > 0
}

func (h *History) CanForward() bool {
	h.mx.Lock()
	defer h.mx.Unlock()
	return h.pos < len(h.entries)-1
}

func (h *History) Len() int {
	h.mx.Lock()
	defer h.mx.Unlock()
	return len(h.entries)
}

// Cursor is the offset from the newest entry: 0 is the head, -1 one step
// back and so on.
func (h *History) Cursor() int {
	h.mx.Lock()
	defer h.mx.Unlock()
	if len(h.entries) == 0 {
		return 0
	}
	return h.pos - (len(h.entries) - 1)
}

// Position is the index of the cursor entry.
func (h *History) Position() int {
	h.mx.Lock()
	defer h.mx.Unlock()
	return h.pos
}
