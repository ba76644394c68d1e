package memory

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/adwski/shared-canvas/backend/room"
	"github.com/adwski/shared-canvas/backend/wordgame"
	"github.com/rs/zerolog"
)

var (
	ErrRoomNotFound = errors.New("room is not found")
	ErrStopped      = errors.New("store is stopped")
)

type (
	Config struct {
		Logger  *zerolog.Logger
		Relay   room.Relay
		Catalog *wordgame.Catalog
		// Rand builds the word picker source for each new room. Nil means
		// an unseeded source per room.
		Rand func() *rand.Rand
	}

	// MemStore keeps running rooms in memory. Rooms are created on first
	// use and live until the store context is cancelled.
	MemStore struct {
		relay   room.Relay
		catalog *wordgame.Catalog
		rnd     func() *rand.Rand
		logger  *zerolog.Logger

		mx  *sync.Mutex
		ctx context.Context
		wg  *sync.WaitGroup
		db  map[string]*room.Room
	}
)

func NewMemStore(ctx context.Context, cfg Config) *MemStore {
	return &MemStore{
		relay:   cfg.Relay,
		catalog: cfg.Catalog,
		rnd:     cfg.Rand,
		logger:  cfg.Logger,
		mx:      &sync.Mutex{},
		ctx:     ctx,
		wg:      &sync.WaitGroup{},
		db:      make(map[string]*room.Room),
	}
}

// Room returns the running room with roomID, starting it if needed.
func (ms *MemStore) Room(roomID string) (*room.Room, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	if ms.ctx.Err() != nil {
		return nil, ErrStopped
	}

	r, ok := ms.db[roomID]
	if ok {
		return r, nil
	}

	var rnd *rand.Rand
	if ms.rnd != nil {
		rnd = ms.rnd()
	}
	r = room.New(room.Config{
		ID:      roomID,
		Logger:  ms.logger,
		Relay:   ms.relay,
		Catalog: ms.catalog,
		Rand:    rnd,
	})
	ms.db[roomID] = r

	ms.wg.Add(1)
	go func() {
		defer ms.wg.Done()
		r.Run(ms.ctx)
	}()
	return r, nil
}

func (ms *MemStore) GetRoom(roomID string) (*room.Room, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	r, ok := ms.db[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return r, nil
}

// Rooms returns ids of all known rooms in sorted order.
func (ms *MemStore) Rooms() []string {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	ids := make([]string, 0, len(ms.db))
	for id := range ms.db {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Wait blocks until every room goroutine has returned.
func (ms *MemStore) Wait() {
	ms.wg.Wait()
}
