package client

import (
	"bytes"
	"context"
	"slices"
	"sync"
	"time"
)

type manualTicks struct {
	c chan time.Time
}

func newManualTicks() *manualTicks {
	return &manualTicks{c: make(chan time.Time)}
}

func (m *manualTicks) C() <-chan time.Time { return m.c }

func (m *manualTicks) Stop() {}

func (m *manualTicks) tick() { m.c <- time.Now() }

type fakeSurface struct {
	mx    sync.Mutex
	data  []byte
	loads [][]byte
}

func (s *fakeSurface) Snapshot(context.Context) ([]byte, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return slices.Clone(s.data), nil
}

func (s *fakeSurface) Load(data []byte) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.data = slices.Clone(data)
	s.loads = append(s.loads, s.data)
	return nil
}

func (s *fakeSurface) draw(data string) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.data = []byte(data)
}

func (s *fakeSurface) shows(data string) bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return bytes.Equal(s.data, []byte(data))
}
