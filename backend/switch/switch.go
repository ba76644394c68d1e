package _switch

import (
	"sync"

	"github.com/adwski/shared-canvas/backend/model"
	"github.com/rs/zerolog"
)

// Endpoint is a connected session as seen by the switch.
// Kick tears the connection down; it is called when TX is full.
type Endpoint struct {
	TX   chan<- model.Event
	Kick func()
}

// Switch fans events out to the endpoints of a room. Sends never block:
// an endpoint that cannot keep up is kicked and dropped so the room
// keeps delivering to everyone else in order.
type Switch struct {
	logger zerolog.Logger
	mx     *sync.RWMutex
	fwd    map[string]map[string]Endpoint
}

func NewSwitch(logger *zerolog.Logger) *Switch {
	return &Switch{
		logger: logger.With().Str("component", "switch").Logger(),
		mx:     &sync.RWMutex{},
		fwd:    make(map[string]map[string]Endpoint),
	}
}

func (sw *Switch) Connect(instance, endpoint string, ep Endpoint) {
	sw.mx.Lock()
	defer func() {
		sw.mx.Unlock()
		sw.logger.Debug().
			Str("instance", instance).
			Str("endpoint", endpoint).
			Msg("endpoint connected")
	}()

	inst, ok := sw.fwd[instance]
	if !ok {
		inst = make(map[string]Endpoint)
		sw.fwd[instance] = inst
	}
	inst[endpoint] = ep
}

func (sw *Switch) Disconnect(instance, endpoint string) {
	sw.mx.Lock()
	defer sw.mx.Unlock()

	inst, ok := sw.fwd[instance]
	if !ok {
		return
	}
	if _, ok = inst[endpoint]; !ok {
		return
	}
	delete(inst, endpoint)
	if len(inst) == 0 {
		delete(sw.fwd, instance)
	}
	sw.logger.Debug().
		Str("instance", instance).
		Str("endpoint", endpoint).
		Msg("endpoint disconnected")
}

// Broadcast sends ev to every endpoint of instance except the one named
// by except (empty means nobody is skipped). It returns how many
// endpoints accepted the event.
func (sw *Switch) Broadcast(instance string, ev model.Event, except string) int {
	var (
		sent int
		dead []string
	)

	sw.mx.RLock()
	for dst, ep := range sw.fwd[instance] {
		if dst == except {
			continue
		}
		if trySend(ev, ep.TX) {
			sent++
		} else {
			dead = append(dead, dst)
		}
	}
	sw.mx.RUnlock()

	sw.evict(instance, ev.Type, dead)
	if sent == 0 {
		sw.logger.Trace().
			Str("instance", instance).
			Str("type", ev.Type).
			Msg("broadcast did not reach anyone")
	}
	return sent
}

// Unicast sends ev to a single endpoint.
func (sw *Switch) Unicast(instance, dst string, ev model.Event) bool {
	sw.mx.RLock()
	ep, ok := sw.fwd[instance][dst]
	sw.mx.RUnlock()

	if !ok {
		sw.logger.Debug().
			Str("instance", instance).
			Str("dst", dst).
			Str("type", ev.Type).
			Msg("cannot forward, dst not found")
		return false
	}
	if !trySend(ev, ep.TX) {
		sw.evict(instance, ev.Type, []string{dst})
		return false
	}
	return true
}

// Count returns number of endpoints connected to instance.
func (sw *Switch) Count(instance string) int {
	sw.mx.RLock()
	defer sw.mx.RUnlock()
	return len(sw.fwd[instance])
}

func (sw *Switch) evict(instance, evType string, dead []string) {
	if len(dead) == 0 {
		return
	}
	kicks := make([]func(), 0, len(dead))

	sw.mx.Lock()
	inst := sw.fwd[instance]
	for _, dst := range dead {
		ep, ok := inst[dst]
		if !ok {
			continue
		}
		delete(inst, dst)
		if ep.Kick != nil {
			kicks = append(kicks, ep.Kick)
		}
		sw.logger.Error().
			Str("instance", instance).
			Str("dst", dst).
			Str("type", evType).
			Msg("slow endpoint, dropping")
	}
	if inst != nil && len(inst) == 0 {
		delete(sw.fwd, instance)
	}
	sw.mx.Unlock()

	for _, kick := range kicks {
		kick()
	}
}

func trySend(ev model.Event, tx chan<- model.Event) bool {
	select {
	case tx <- ev:
		return true
	default:
		return false
	}
}
