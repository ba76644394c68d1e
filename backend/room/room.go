// Package room implements the authoritative state of a shared canvas room.
//
// A Room is an actor: one goroutine owns the host claim, the current
// snapshot, the word round and the member list, and processes inbox
// messages strictly in arrival order. Connection handlers never touch that
// state directly. Outbound events go through the Relay which never blocks.
package room

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"

	"github.com/adwski/shared-canvas/backend/arbiter"
	"github.com/adwski/shared-canvas/backend/model"
	sw "github.com/adwski/shared-canvas/backend/switch"
	"github.com/adwski/shared-canvas/backend/wordgame"
	"github.com/rs/zerolog"
)

const (
	defaultInboxSize = 256

	systemNickname  = "system"
	noticeThrottled = "Too many messages, slow down"
)

var (
	ErrClosed = errors.New("room is closed")
)

type (
	Relay interface {
		Connect(roomID, sessionID string, ep sw.Endpoint)
		Disconnect(roomID, sessionID string)
		Broadcast(roomID string, ev model.Event, except string) int
		Unicast(roomID, dst string, ev model.Event) bool
	}

	Config struct {
		Logger    *zerolog.Logger
		Relay     Relay
		Catalog   *wordgame.Catalog
		Rand      *rand.Rand
		ID        string
		InboxSize int
	}

	Room struct {
		relay  Relay
		game   *wordgame.Controller
		inbox  chan Msg
		done   chan struct{}
		logger zerolog.Logger

		id       string
		claim    arbiter.Claim
		snapshot []byte
		sessions map[string]Session
		seq      uint64
	}
)

func New(cfg Config) *Room {
	size := cfg.InboxSize
	if size <= 0 {
		size = defaultInboxSize
	}
	return &Room{
		id:       cfg.ID,
		relay:    cfg.Relay,
		game:     wordgame.NewController(cfg.Catalog, cfg.Rand),
		inbox:    make(chan Msg, size),
		done:     make(chan struct{}),
		claim:    arbiter.None(),
		sessions: make(map[string]Session),
		logger:   cfg.Logger.With().Str("component", "room").Str("roomID", cfg.ID).Logger(),
	}
}

func (r *Room) ID() string { return r.id }

// Done is closed after Run returns.
func (r *Room) Done() <-chan struct{} { return r.done }

// Send enqueues msg for processing. Messages from one caller are handled
// in the order they were sent.
func (r *Room) Send(ctx context.Context, msg Msg) error {
	select {
	case <-r.done:
		return ErrClosed
	default:
	}
	select {
	case r.inbox <- msg:
		return nil
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current view of the room.
func (r *Room) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := r.Send(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-r.done:
		return View{}, ErrClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

func (r *Room) Run(ctx context.Context) {
	defer func() {
		for id := range r.sessions {
			r.relay.Disconnect(r.id, id)
		}
		close(r.done)
		r.logger.Debug().Msg("room stopped")
	}()
	r.logger.Debug().Msg("room started")

	for {
		select {
		case <-ctx.Done():
			return
		case m := <-r.inbox:
			r.handle(m)
		}
	}
}

func (r *Room) handle(m Msg) {
	switch msg := m.(type) {
	case Join:
		r.join(msg)
	case Leave:
		r.leave(msg.SessionID)
	case Chat:
		r.chat(msg)
	case Image:
		r.image(msg)
	case Host:
		r.host(msg)
	case Word:
		r.word(msg)
	case Throttled:
		if _, ok := r.sessions[msg.SessionID]; ok {
			r.private(msg.SessionID, noticeThrottled, nil)
		}
	case GetState:
		msg.Reply <- r.view()
	default:
		r.logger.Error().Str("msg", fmt.Sprintf("%T", m)).Msg("unexpected room message")
	}
}

func (r *Room) join(msg Join) {
	s := msg.Session
	if _, ok := r.sessions[s.ID]; ok {
		r.logger.Warn().Str("sessionID", s.ID).Msg("session already joined")
		return
	}
	r.sessions[s.ID] = s
	r.relay.Connect(r.id, s.ID, msg.Endpoint)

	r.logger.Debug().
		Str("sessionID", s.ID).
		Str("nickname", s.Nickname).
		Int("sessions", len(r.sessions)).
		Msg("session joined")

	r.broadcastChat(r.message(s.ID, s.Nickname, "Joined", model.KindSystem, nil), "")
	if r.snapshot != nil {
		r.relay.Unicast(r.id, s.ID, model.ImageEvent(r.snapshot))
	}
	r.relay.Unicast(r.id, s.ID, model.HostEvent(r.hostClaim()))
}

func (r *Room) leave(id string) {
	s, ok := r.sessions[id]
	if !ok {
		return
	}
	delete(r.sessions, id)
	r.relay.Disconnect(r.id, id)

	r.logger.Debug().
		Str("sessionID", s.ID).
		Str("nickname", s.Nickname).
		Int("sessions", len(r.sessions)).
		Msg("session left")

	r.transition(arbiter.Disconnect, holderOf(s))
	r.broadcastChat(r.message(s.ID, s.Nickname, "Left", model.KindSystem, nil), "")
}

func (r *Room) image(msg Image) {
	s, ok := r.sessions[msg.From]
	if !ok {
		return
	}
	if !r.claim.HeldBy(s.ID) {
		r.logger.Warn().
			Str("sessionID", s.ID).
			Int("size", len(msg.Data)).
			Msg("snapshot from non-host rejected")
		r.relay.Unicast(r.id, s.ID, model.HostEvent(r.hostClaim()))
		return
	}
	r.snapshot = msg.Data
	r.logger.Trace().Str("sessionID", s.ID).Int("size", len(msg.Data)).Msg("snapshot replaced")
	r.relay.Broadcast(r.id, model.ImageEvent(msg.Data), s.ID)
}

func (r *Room) host(msg Host) {
	s, ok := r.sessions[msg.From]
	if !ok {
		return
	}
	r.logger.Debug().
		Str("sessionID", s.ID).
		Stringer("action", msg.Action).
		Msg("host event")
	r.transition(msg.Action, holderOf(s))
}

func (r *Room) chat(msg Chat) {
	s, ok := r.sessions[msg.From]
	if !ok {
		return
	}

	if cmd, isCmd := wordgame.ParseCommand(msg.Text); isCmd {
		reply := r.game.Command(cmd)
		r.logger.Debug().
			Str("sessionID", s.ID).
			Str("command", cmd.Name).
			Msg("chat command")
		r.private(s.ID, reply.Message, reply.Links)
		return
	}

	if round, guessed := r.game.Guess(msg.Text); guessed {
		r.logger.Debug().
			Str("sessionID", s.ID).
			Str("drawer", round.Drawer).
			Msg("word guessed")
		r.transition(arbiter.Release, arbiter.Holder{ID: round.Drawer, Nickname: round.Nickname})
		text := fmt.Sprintf("%s guessed the word: %s", s.Nickname, round.Word)
		r.broadcastChat(r.message(s.ID, s.Nickname, text, model.KindSystem, nil), "")
	}

	r.broadcastChat(r.message(s.ID, s.Nickname, msg.Text, model.KindNormal, nil), "")
}

func (r *Room) word(msg Word) {
	s, ok := r.sessions[msg.From]
	if !ok {
		return
	}
	if holder, held := r.claim.Holder(); held && holder.ID != s.ID {
		r.private(s.ID, fmt.Sprintf("%s is drawing now", holder.Nickname), nil)
		return
	}
	if strings.TrimSpace(msg.Word) == "" {
		r.private(s.ID, "No word chosen", nil)
		return
	}

	topic := strings.TrimSpace(msg.Topic)
	r.transition(arbiter.Acquire, holderOf(s))
	r.game.Start(wordgame.Round{
		Drawer:   s.ID,
		Nickname: s.Nickname,
		Topic:    topic,
		Word:     msg.Word,
	})
	r.logger.Debug().
		Str("sessionID", s.ID).
		Str("topic", topic).
		Msg("word round started")

	r.private(s.ID, fmt.Sprintf("You are drawing: %s", msg.Word), nil)
	text := fmt.Sprintf("%s is drawing a word", s.Nickname)
	if topic != "" {
		text = fmt.Sprintf("%s is drawing a word from %s", s.Nickname, topic)
	}
	r.broadcastChat(r.message(s.ID, s.Nickname, text, model.KindSystem, nil), s.ID)
}

// transition applies a claim change and broadcasts it. A word round only
// lives while its drawer holds the claim.
func (r *Room) transition(action arbiter.Action, actor arbiter.Holder) bool {
	next, changed := arbiter.Apply(r.claim, action, actor)
	if !changed {
		return false
	}
	r.claim = next

	if round, ok := r.game.Round(); ok && !r.claim.HeldBy(round.Drawer) {
		r.game.Clear()
		r.logger.Debug().Str("drawer", round.Drawer).Msg("word round cleared")
	}

	claim := r.hostClaim()
	ev := r.logger.Debug().Stringer("action", action).Str("actor", actor.ID)
	if claim != nil {
		ev = ev.Str("holder", claim.ID)
	}
	ev.Msg("host changed")

	r.relay.Broadcast(r.id, model.HostEvent(claim), "")
	return true
}

func (r *Room) private(dst, text string, links []model.Link) {
	r.relay.Unicast(r.id, dst, model.ChatEvent(r.message("", systemNickname, text, model.KindPrivate, links)))
}

func (r *Room) broadcastChat(msg model.ChatMessage, except string) {
	r.relay.Broadcast(r.id, model.ChatEvent(msg), except)
}

func (r *Room) message(from, nickname, text, kind string, links []model.Link) model.ChatMessage {
	r.seq++
	return model.ChatMessage{
		ID:       strconv.FormatUint(r.seq, 10),
		From:     from,
		Nickname: nickname,
		Message:  text,
		Kind:     kind,
		Links:    links,
	}
}

func (r *Room) hostClaim() *model.HostClaim {
	h, ok := r.claim.Holder()
	if !ok {
		return nil
	}
	return &model.HostClaim{ID: h.ID, Nickname: h.Nickname}
}

func (r *Room) view() View {
	v := View{
		ID:           r.id,
		Host:         r.hostClaim(),
		Sessions:     make([]model.SessionInfo, 0, len(r.sessions)),
		SnapshotSize: len(r.snapshot),
		Messages:     r.seq,
	}
	for _, s := range r.sessions {
		v.Sessions = append(v.Sessions, model.SessionInfo{ID: s.ID, Nickname: s.Nickname, JoinedAt: s.JoinedAt})
	}
	slices.SortFunc(v.Sessions, func(a, b model.SessionInfo) int {
		return a.JoinedAt.Compare(b.JoinedAt)
	})
	if round, ok := r.game.Round(); ok {
		v.Topic = round.Topic
	}
	return v
}

func holderOf(s Session) arbiter.Holder {
	return arbiter.Holder{ID: s.ID, Nickname: s.Nickname}
}
