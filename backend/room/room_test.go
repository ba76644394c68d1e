package room

import (
	"context"
	"math/rand/v2"
	"strconv"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adwski/shared-canvas/backend/arbiter"
	"github.com/adwski/shared-canvas/backend/model"
	sw "github.com/adwski/shared-canvas/backend/switch"
	"github.com/adwski/shared-canvas/backend/wordgame"
)

const within = time.Second

func newTestRoom(t *testing.T) *Room {
	t.Helper()
	logger := zerolog.Nop()
	r := New(Config{
		ID:     "room",
		Logger: &logger,
		Relay:  sw.NewSwitch(&logger),
		Catalog: wordgame.NewCatalog(map[string][]string{
			"animals": {"cat", "dog", "owl", "fox"},
		}),
		Rand: rand.New(rand.NewPCG(3, 4)),
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		<-r.Done()
	})
	go r.Run(ctx)
	return r
}

func send(t *testing.T, r *Room, msg Msg) {
	t.Helper()
	require.NoError(t, r.Send(context.Background(), msg))
}

// join adds a session and consumes its join burst (chat + optional img + host).
func join(t *testing.T, r *Room, id, nickname string, others ...chan model.Event) chan model.Event {
	t.Helper()
	out := make(chan model.Event, 32)
	send(t, r, Join{
		Session:  Session{ID: id, Nickname: nickname, JoinedAt: time.Now()},
		Endpoint: sw.Endpoint{TX: out},
	})
	msg := recvChat(t, out)
	require.Equal(t, "Joined", msg.Message)
	for _, o := range others {
		recvChat(t, o)
	}
	return out
}

func recv(t *testing.T, ch <-chan model.Event) model.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(within):
		t.Fatalf("timed out waiting for event")
		return model.Event{}
	}
}

func recvType(t *testing.T, ch <-chan model.Event, typ string) model.Event {
	t.Helper()
	ev := recv(t, ch)
	require.Equal(t, typ, ev.Type, spew.Sdump(ev))
	return ev
}

func recvChat(t *testing.T, ch <-chan model.Event) model.ChatMessage {
	t.Helper()
	ev := recvType(t, ch, model.EventChat)
	msg, ok := ev.Payload.(model.ChatMessage)
	require.True(t, ok, spew.Sdump(ev))
	return msg
}

func recvHost(t *testing.T, ch <-chan model.Event) *model.HostClaim {
	t.Helper()
	ev := recvType(t, ch, model.EventHost)
	if ev.Payload == nil {
		return nil
	}
	claim, ok := ev.Payload.(*model.HostClaim)
	require.True(t, ok, spew.Sdump(ev))
	return claim
}

// settle waits for all previously sent messages to be processed.
func settle(t *testing.T, r *Room) View {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()
	v, err := r.State(ctx)
	require.NoError(t, err)
	return v
}

func recvNone(t *testing.T, r *Room, ch <-chan model.Event) {
	t.Helper()
	settle(t, r)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event: %s", spew.Sdump(ev))
	default:
	}
}

func TestRoom_JoinReceivesHostWithoutSnapshot(t *testing.T) {
	r := newTestRoom(t)
	a := join(t, r, "a", "Alice")
	assert.Nil(t, recvHost(t, a))
	recvNone(t, r, a)
}

func TestRoom_EndToEndScenario(t *testing.T) {
	r := newTestRoom(t)

	a := join(t, r, "a", "Alice")
	recvHost(t, a)

	send(t, r, Host{From: "a", Action: arbiter.Request})
	assert.Equal(t, &model.HostClaim{ID: "a", Nickname: "Alice"}, recvHost(t, a))

	c := join(t, r, "c", "Carol", a)
	recvHost(t, c)

	snapshot := []byte{1, 2, 3, 4}
	send(t, r, Image{From: "a", Data: snapshot})
	assert.Equal(t, snapshot, recvType(t, c, model.EventImage).Data)
	recvNone(t, r, a) // not echoed back to the holder

	// the next snapshot replaces the stored one
	latest := []byte{5, 6}
	send(t, r, Image{From: "a", Data: latest})
	assert.Equal(t, latest, recvType(t, c, model.EventImage).Data)
	assert.Equal(t, len(latest), settle(t, r).SnapshotSize)

	b := join(t, r, "b", "Bob", a, c)
	assert.Equal(t, latest, recvType(t, b, model.EventImage).Data)
	assert.Equal(t, &model.HostClaim{ID: "a", Nickname: "Alice"}, recvHost(t, b))

	send(t, r, Image{From: "b", Data: []byte{9, 9}})
	assert.Equal(t, &model.HostClaim{ID: "a", Nickname: "Alice"}, recvHost(t, b))
	recvNone(t, r, a)
	recvNone(t, r, c)

	v := settle(t, r)
	assert.Equal(t, len(latest), v.SnapshotSize)
	assert.Equal(t, "a", v.Host.ID)
	assert.Len(t, v.Sessions, 3)
}

func TestRoom_HostTransitions(t *testing.T) {
	r := newTestRoom(t)
	a := join(t, r, "a", "Alice")
	recvHost(t, a)
	b := join(t, r, "b", "Bob", a)
	recvHost(t, b)

	send(t, r, Host{From: "a", Action: arbiter.Request})
	recvHost(t, a)
	recvHost(t, b)

	// request while claimed and release by non-holder change nothing
	send(t, r, Host{From: "b", Action: arbiter.Request})
	send(t, r, Host{From: "b", Action: arbiter.Release})
	recvNone(t, r, a)
	assert.Equal(t, "a", settle(t, r).Host.ID)

	send(t, r, Host{From: "b", Action: arbiter.Acquire})
	assert.Equal(t, "b", recvHost(t, a).ID)
	assert.Equal(t, "b", recvHost(t, b).ID)

	send(t, r, Host{From: "b", Action: arbiter.Release})
	assert.Nil(t, recvHost(t, a))
	assert.Nil(t, recvHost(t, b))
}

func TestRoom_HolderDisconnectReleasesOnce(t *testing.T) {
	r := newTestRoom(t)
	a := join(t, r, "a", "Alice")
	recvHost(t, a)
	b := join(t, r, "b", "Bob", a)
	recvHost(t, b)

	send(t, r, Host{From: "a", Action: arbiter.Request})
	recvHost(t, b)

	// release racing with disconnect: only one host change is broadcast
	send(t, r, Host{From: "a", Action: arbiter.Release})
	send(t, r, Leave{SessionID: "a"})
	assert.Nil(t, recvHost(t, b))
	assert.Equal(t, "Left", recvChat(t, b).Message)
	recvNone(t, r, b)

	v := settle(t, r)
	assert.Nil(t, v.Host)
	assert.Len(t, v.Sessions, 1)
}

func TestRoom_EventsFromUnknownSessionIgnored(t *testing.T) {
	r := newTestRoom(t)
	a := join(t, r, "a", "Alice")
	recvHost(t, a)

	send(t, r, Host{From: "ghost", Action: arbiter.Acquire})
	send(t, r, Chat{From: "ghost", Text: "boo"})
	send(t, r, Image{From: "ghost", Data: []byte{1}})
	recvNone(t, r, a)
}

func TestRoom_ChatOrderAndIDs(t *testing.T) {
	r := newTestRoom(t)
	a := join(t, r, "a", "Alice")
	recvHost(t, a)
	b := join(t, r, "b", "Bob", a)
	recvHost(t, b)

	for _, text := range []string{"one", "two", "three"} {
		send(t, r, Chat{From: "a", Text: text})
	}
	var prev uint64
	for _, want := range []string{"one", "two", "three"} {
		ma := recvChat(t, a)
		mb := recvChat(t, b)
		assert.Equal(t, ma, mb)
		assert.Equal(t, want, ma.Message)
		assert.Equal(t, model.KindNormal, ma.Kind)
		assert.Equal(t, "Alice", ma.Nickname)

		id, err := strconv.ParseUint(ma.ID, 10, 64)
		require.NoError(t, err)
		assert.Greater(t, id, prev)
		prev = id
	}
	assert.Equal(t, prev, settle(t, r).Messages)
}

func TestRoom_WordCommand(t *testing.T) {
	r := newTestRoom(t)
	a := join(t, r, "a", "Alice")
	recvHost(t, a)
	b := join(t, r, "b", "Bob", a)
	recvHost(t, b)

	send(t, r, Chat{From: "a", Text: "/word"})
	msg := recvChat(t, a)
	assert.Equal(t, model.KindPrivate, msg.Kind)
	assert.Equal(t, []model.Link{{Label: "animals", Chat: "/word animals"}}, msg.Links)

	send(t, r, Chat{From: "a", Text: "/word animals"})
	msg = recvChat(t, a)
	require.Len(t, msg.Links, 3)
	seen := map[string]bool{}
	for _, l := range msg.Links {
		assert.Equal(t, "animals", l.Topic)
		assert.False(t, seen[l.Word])
		seen[l.Word] = true
	}

	recvNone(t, r, b) // commands are never relayed
}

func TestRoom_WordRound(t *testing.T) {
	r := newTestRoom(t)
	a := join(t, r, "a", "Alice")
	recvHost(t, a)
	b := join(t, r, "b", "Bob", a)
	recvHost(t, b)

	send(t, r, Word{From: "a", Topic: "animals", Word: "owl"})
	assert.Equal(t, "a", recvHost(t, a).ID)
	assert.Equal(t, "You are drawing: owl", recvChat(t, a).Message)
	assert.Equal(t, "a", recvHost(t, b).ID)
	topic := recvChat(t, b)
	assert.Equal(t, model.KindSystem, topic.Kind)
	assert.Contains(t, topic.Message, "animals")
	assert.NotContains(t, topic.Message, "owl")
	assert.Equal(t, "animals", settle(t, r).Topic)

	// someone else cannot pick a word while a holds the claim
	send(t, r, Word{From: "b", Topic: "animals", Word: "cat"})
	rejected := recvChat(t, b)
	assert.Equal(t, model.KindPrivate, rejected.Kind)
	assert.Contains(t, rejected.Message, "Alice")
	recvNone(t, r, a)

	// wrong guess is plain chat and changes nothing
	send(t, r, Chat{From: "b", Text: "Owl"})
	assert.Equal(t, "Owl", recvChat(t, a).Message)
	assert.Equal(t, "Owl", recvChat(t, b).Message)
	v := settle(t, r)
	assert.Equal(t, "a", v.Host.ID)
	assert.Equal(t, "animals", v.Topic)

	// correct guess: host released, reveal, then the guess itself
	send(t, r, Chat{From: "b", Text: "owl"})
	for _, ch := range []chan model.Event{a, b} {
		assert.Nil(t, recvHost(t, ch))
		reveal := recvChat(t, ch)
		assert.Equal(t, model.KindSystem, reveal.Kind)
		assert.Equal(t, "Bob guessed the word: owl", reveal.Message)
		guess := recvChat(t, ch)
		assert.Equal(t, model.KindNormal, guess.Kind)
		assert.Equal(t, "owl", guess.Message)
	}
	v = settle(t, r)
	assert.Nil(t, v.Host)
	assert.Empty(t, v.Topic)
}

func TestRoom_WordWithoutTopic(t *testing.T) {
	r := newTestRoom(t)
	a := join(t, r, "a", "Alice")
	recvHost(t, a)
	b := join(t, r, "b", "Bob", a)
	recvHost(t, b)

	send(t, r, Word{From: "a", Topic: " ", Word: "owl"})
	assert.Equal(t, "a", recvHost(t, b).ID)
	assert.Equal(t, "Alice is drawing a word", recvChat(t, b).Message)
	assert.Empty(t, settle(t, r).Topic)
}

func TestRoom_Throttled(t *testing.T) {
	r := newTestRoom(t)
	a := join(t, r, "a", "Alice")
	recvHost(t, a)
	b := join(t, r, "b", "Bob", a)
	recvHost(t, b)

	send(t, r, Throttled{SessionID: "a"})
	msg := recvChat(t, a)
	assert.Equal(t, model.KindPrivate, msg.Kind)
	assert.Equal(t, noticeThrottled, msg.Message)
	recvNone(t, r, b)

	send(t, r, Throttled{SessionID: "ghost"})
	recvNone(t, r, a)
}

func TestRoom_WordRoundClearedWhenClaimMoves(t *testing.T) {
	r := newTestRoom(t)
	a := join(t, r, "a", "Alice")
	recvHost(t, a)
	b := join(t, r, "b", "Bob", a)
	recvHost(t, b)

	send(t, r, Word{From: "a", Topic: "animals", Word: "fox"})
	send(t, r, Host{From: "b", Action: arbiter.Acquire})
	v := settle(t, r)
	assert.Equal(t, "b", v.Host.ID)
	assert.Empty(t, v.Topic)

	// the old word is no longer a winning guess
	for len(b) > 0 {
		<-b
	}
	send(t, r, Chat{From: "a", Text: "fox"})
	assert.Equal(t, "fox", recvChat(t, b).Message)
	assert.Equal(t, "b", settle(t, r).Host.ID)
}

func TestRoom_SendAfterStop(t *testing.T) {
	logger := zerolog.Nop()
	r := New(Config{ID: "room", Logger: &logger, Relay: sw.NewSwitch(&logger)})
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	cancel()
	<-r.Done()

	assert.ErrorIs(t, r.Send(context.Background(), Leave{SessionID: "a"}), ErrClosed)
	_, err := r.State(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
