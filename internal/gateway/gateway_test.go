package gateway

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/parley-chat/parley/internal/domain"
	"github.com/parley-chat/parley/internal/hub"
	"github.com/parley-chat/parley/internal/media"
	"github.com/parley-chat/parley/internal/media/mediatest"
	"github.com/parley-chat/parley/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn records envelopes delivered to one socket.
type fakeConn struct {
	mu   sync.Mutex
	sent []hub.Envelope
}

func (c *fakeConn) TrySend(env hub.Envelope) error {
	c.mu.Lock()
	c.sent = append(c.sent, env)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() {}

func (c *fakeConn) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sent))
	for _, env := range c.sent {
		out = append(out, env.Event)
	}
	return out
}

func (c *fakeConn) count(event string) int {
	n := 0
	for _, e := range c.events() {
		if e == event {
			n++
		}
	}
	return n
}

func (c *fakeConn) last(event string) (hub.Envelope, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.sent) - 1; i >= 0; i-- {
		if c.sent[i].Event == event {
			return c.sent[i], true
		}
	}
	return hub.Envelope{}, false
}

type profileKey struct {
	server   domain.ServerID
	username string
}

// fakeStore is an in-memory Store and Guard.
type fakeStore struct {
	mu           sync.Mutex
	users        map[string]*domain.User
	channels     map[domain.ChannelID]*domain.Channel
	global       *domain.Server
	profiles     map[profileKey]*domain.ServerProfile
	messages     map[int64]*domain.Message
	nextMsgID    int64
	friends      map[string][]string
	counterparts map[string][]string

	createCalls int
	updateCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:        make(map[string]*domain.User),
		channels:     make(map[domain.ChannelID]*domain.Channel),
		profiles:     make(map[profileKey]*domain.ServerProfile),
		messages:     make(map[int64]*domain.Message),
		friends:      make(map[string][]string),
		counterparts: make(map[string][]string),
	}
}

func (f *fakeStore) addUser(username string) *domain.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &domain.User{ID: int64(len(f.users) + 1), Username: username, DisplayName: username, Status: domain.StatusOnline}
	f.users[username] = u
	return u
}

func (f *fakeStore) addChannel(id domain.ChannelID, serverID domain.ServerID, typ domain.ChannelType, global bool) *domain.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := &domain.Channel{
		ID: id, ServerID: serverID, Type: typ, Name: fmt.Sprintf("channel-%d", id),
		Server: domain.Server{ID: serverID, IsGlobal: global},
	}
	f.channels[id] = ch
	if global {
		f.global = &ch.Server
	}
	return ch
}

func (f *fakeStore) UserByUsername(ctx context.Context, username string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) Channel(ctx context.Context, id domain.ChannelID) (*domain.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *ch
	return &cp, nil
}

func (f *fakeStore) GlobalServer(ctx context.Context) (*domain.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.global == nil {
		return nil, store.ErrNotFound
	}
	cp := *f.global
	return &cp, nil
}

func (f *fakeStore) VoiceChannelIDs(ctx context.Context, serverID domain.ServerID) ([]domain.ChannelID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ChannelID
	for id, ch := range f.channels {
		if ch.ServerID == serverID && ch.Type == domain.ChannelVoice {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeStore) MembersByUsernames(ctx context.Context, serverID domain.ServerID, usernames []string) ([]domain.MemberInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.MemberInfo, 0, len(usernames))
	for _, name := range usernames {
		if u, ok := f.users[name]; ok {
			out = append(out, domain.MemberInfo{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName, Avatar: u.Avatar})
		}
	}
	return out, nil
}

func (f *fakeStore) CreateCallMessage(ctx context.Context, username string, channelID domain.ChannelID, content string) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	f.nextMsgID++
	u := f.users[username]
	msg := &domain.Message{
		ID: f.nextMsgID, ChannelID: channelID,
		Author:  domain.MemberInfo{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName},
		Content: content, Type: domain.MessageVoiceCall, IsSystemMessage: true,
		CreatedAt: time.Now(),
	}
	f.messages[msg.ID] = msg
	cp := *msg
	return &cp, nil
}

func (f *fakeStore) UpdateCallMessage(ctx context.Context, messageID int64, content string) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	msg, ok := f.messages[messageID]
	if !ok {
		return nil, store.ErrNotFound
	}
	msg.Content = content
	cp := *msg
	return &cp, nil
}

func (f *fakeStore) UpdateUserStatus(ctx context.Context, username string, status domain.Status) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	u.Status = status
	cp := *u
	return &cp, nil
}

func (f *fakeStore) ServerProfile(ctx context.Context, serverID domain.ServerID, username string) (*domain.ServerProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[profileKey{serverID, username}]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) UpdateProfileStatus(ctx context.Context, serverID domain.ServerID, username string, status domain.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[profileKey{serverID, username}]
	if !ok {
		return store.ErrNotFound
	}
	p.Status = status
	return nil
}

func (f *fakeStore) OnlineFriends(ctx context.Context, username string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.friends[username], nil
}

func (f *fakeStore) PrivateChannelCounterparts(ctx context.Context, username string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counterparts[username], nil
}

func (f *fakeStore) Authorize(context.Context, string, domain.ChannelID, ...store.Permission) error {
	return nil
}

func (f *fakeStore) AuthorizeServer(context.Context, string, domain.ServerID) error {
	return nil
}

type fixture struct {
	gw *Gateway
	st *fakeStore
	h  *hub.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := newFakeStore()
	reg := NewRegistry(20, func(ctx context.Context) (media.Engine, error) {
		return mediatest.NewEngine(), nil
	})
	h := hub.NewHub()
	return &fixture{gw: New(h, st, st, reg), st: st, h: h}
}

func (f *fixture) connect(username, socketID string) (*hub.Socket, *fakeConn) {
	conn := &fakeConn{}
	s := f.h.Register(socketID, username, conn)
	f.h.Join(s, hub.PrivateRoom(username))
	return s, conn
}

var ctx = context.Background()

func TestJoinVoiceChannelHappyPath(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.st.addUser("ana")
	f.st.addChannel(10, 1, domain.ChannelVoice, true)
	s, conn := f.connect("ana", "sock-1")

	require.NoError(t, f.gw.JoinVoiceChannel(ctx, s, ChannelPayload{ChannelID: 10}))

	assert.True(t, s.InRoom(hub.VoiceChannelRoom(10)))
	assert.Contains(t, conn.events(), EvtRTPCapabilities)
	assert.Contains(t, conn.events(), EvtMembers)

	entry, ok := f.gw.tracker.Lookup("ana")
	require.True(t, ok)
	assert.Equal(t, domain.ChannelID(10), entry.ChannelID)
	assert.Equal(t, "sock-1", entry.SocketID)

	room, err := f.gw.registry.Room(10)
	require.NoError(t, err)
	assert.True(t, room.HasPeer("ana"))
}

func TestJoinVoiceChannelMissingChannelIsSilent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.st.addUser("ana")
	s, _ := f.connect("ana", "sock-1")

	require.NoError(t, f.gw.JoinVoiceChannel(ctx, s, ChannelPayload{ChannelID: 404}))
	assert.Equal(t, 0, f.gw.registry.RoomCount())
	_, ok := f.gw.tracker.Lookup("ana")
	assert.False(t, ok)
}

func TestJoinVoiceChannelSameSocketIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.st.addUser("ana")
	f.st.addChannel(10, 1, domain.ChannelVoice, true)
	s, conn := f.connect("ana", "sock-1")

	require.NoError(t, f.gw.JoinVoiceChannel(ctx, s, ChannelPayload{ChannelID: 10}))
	room, err := f.gw.registry.Room(10)
	require.NoError(t, err)
	first, err := room.Peer("ana")
	require.NoError(t, err)
	caps := conn.count(EvtRTPCapabilities)

	require.NoError(t, f.gw.JoinVoiceChannel(ctx, s, ChannelPayload{ChannelID: 10}))
	again, err := room.Peer("ana")
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, caps, conn.count(EvtRTPCapabilities))
	// Call start message written once even for replays.
	assert.Equal(t, 1, f.st.createCalls)
}

func TestJoinVoiceChannelNewSocketReplacesPeer(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.st.addUser("ana")
	f.st.addChannel(10, 1, domain.ChannelVoice, true)
	s1, _ := f.connect("ana", "sock-1")
	s2, _ := f.connect("ana", "sock-2")

	require.NoError(t, f.gw.JoinVoiceChannel(ctx, s1, ChannelPayload{ChannelID: 10}))
	require.NoError(t, f.gw.JoinVoiceChannel(ctx, s2, ChannelPayload{ChannelID: 10}))

	room, err := f.gw.registry.Room(10)
	require.NoError(t, err)
	assert.Equal(t, 1, room.PeerCount())
	peer, err := room.Peer("ana")
	require.NoError(t, err)
	assert.Equal(t, "sock-2", peer.SocketID())

	entry, ok := f.gw.tracker.Lookup("ana")
	require.True(t, ok)
	assert.Equal(t, "sock-2", entry.SocketID)
}

func TestRejoinSameChannelWritesOneCallMessage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.st.addUser("ana")
	f.st.addChannel(10, 1, domain.ChannelVoice, true)
	s1, _ := f.connect("ana", "sock-1")
	s2, _ := f.connect("ana", "sock-2")

	require.NoError(t, f.gw.JoinVoiceChannel(ctx, s1, ChannelPayload{ChannelID: 10}))
	// Rejoin from a fresh socket replaces the peer but the call already
	// started: no second system message, the marker stays on message 1.
	require.NoError(t, f.gw.JoinVoiceChannel(ctx, s2, ChannelPayload{ChannelID: 10}))
	assert.Equal(t, 1, f.st.createCalls)

	require.NoError(t, f.gw.LeaveVoiceChannel(ctx, s2))
	assert.Equal(t, 1, f.st.updateCalls)
	f.st.mu.Lock()
	msg := f.st.messages[1]
	f.st.mu.Unlock()
	assert.Contains(t, msg.Content, "started a call that lasted ")
}

func TestJoinVoiceChannelSwitchLeavesPrevious(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.st.addUser("ana")
	f.st.addChannel(10, 1, domain.ChannelVoice, true)
	f.st.addChannel(20, 1, domain.ChannelVoice, true)
	s, _ := f.connect("ana", "sock-1")

	require.NoError(t, f.gw.JoinVoiceChannel(ctx, s, ChannelPayload{ChannelID: 10}))
	require.NoError(t, f.gw.JoinVoiceChannel(ctx, s, ChannelPayload{ChannelID: 20}))

	// The old room is gone (last peer left), the new one holds the peer.
	_, err := f.gw.registry.Room(10)
	assert.ErrorIs(t, err, ErrRoomNotFound)
	room, err := f.gw.registry.Room(20)
	require.NoError(t, err)
	assert.True(t, room.HasPeer("ana"))
	assert.False(t, s.InRoom(hub.VoiceChannelRoom(10)))
	assert.True(t, s.InRoom(hub.VoiceChannelRoom(20)))

	entry, ok := f.gw.tracker.Lookup("ana")
	require.True(t, ok)
	assert.Equal(t, domain.ChannelID(20), entry.ChannelID)
}

func TestCallMessageLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.st.addUser("ana")
	f.st.addUser("bob")
	f.st.addChannel(10, 1, domain.ChannelVoice, true)
	sa, _ := f.connect("ana", "sock-a")
	sb, _ := f.connect("bob", "sock-b")
	started := time.Now().Add(-10 * time.Minute)
	f.gw.now = func() time.Time { return started.Add(10 * time.Minute) }

	require.NoError(t, f.gw.JoinVoiceChannel(ctx, sa, ChannelPayload{ChannelID: 10}))
	require.NoError(t, f.gw.JoinVoiceChannel(ctx, sb, ChannelPayload{ChannelID: 10}))
	// Only the first join writes the start message.
	assert.Equal(t, 1, f.st.createCalls)

	require.NoError(t, f.gw.LeaveVoiceChannel(ctx, sa))
	assert.Equal(t, 0, f.st.updateCalls)

	require.NoError(t, f.gw.LeaveVoiceChannel(ctx, sb))
	assert.Equal(t, 1, f.st.updateCalls)
	f.st.mu.Lock()
	msg := f.st.messages[1]
	f.st.mu.Unlock()
	assert.Contains(t, msg.Content, "started a call that lasted ")

	// No empty room survives.
	assert.Equal(t, 0, f.gw.registry.RoomCount())
}

func TestCallMessageSkippedOffGlobalServer(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.st.addUser("ana")
	f.st.addChannel(10, 5, domain.ChannelVoice, false)
	s, _ := f.connect("ana", "sock-1")

	require.NoError(t, f.gw.JoinVoiceChannel(ctx, s, ChannelPayload{ChannelID: 10}))
	assert.Equal(t, 0, f.st.createCalls)
	require.NoError(t, f.gw.LeaveVoiceChannel(ctx, s))
	assert.Equal(t, 0, f.st.updateCalls)
}

func TestLeaveVoiceChannelStaleSocketIgnored(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.st.addUser("ana")
	f.st.addChannel(10, 1, domain.ChannelVoice, true)
	s1, _ := f.connect("ana", "sock-1")
	s2, _ := f.connect("ana", "sock-2")

	require.NoError(t, f.gw.JoinVoiceChannel(ctx, s1, ChannelPayload{ChannelID: 10}))
	require.NoError(t, f.gw.JoinVoiceChannel(ctx, s2, ChannelPayload{ChannelID: 10}))

	// The replaced socket's leave must not evict the live session.
	require.NoError(t, f.gw.LeaveVoiceChannel(ctx, s1))
	room, err := f.gw.registry.Room(10)
	require.NoError(t, err)
	assert.True(t, room.HasPeer("ana"))
	_, ok := f.gw.tracker.Lookup("ana")
	assert.True(t, ok)
}

func TestDisconnectKeepsSessionEntryForRejoin(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.st.addUser("ana")
	f.st.addChannel(10, 1, domain.ChannelVoice, true)
	s, _ := f.connect("ana", "sock-1")

	require.NoError(t, f.gw.JoinVoiceChannel(ctx, s, ChannelPayload{ChannelID: 10}))
	f.gw.Disconnect(ctx, s)

	// Peer and room are gone, the entry survives for replay.
	assert.Equal(t, 0, f.gw.registry.RoomCount())
	entry, ok := f.gw.tracker.Lookup("ana")
	require.True(t, ok)
	assert.Equal(t, domain.ChannelID(10), entry.ChannelID)

	// A fresh socket is told to rejoin.
	s2, conn2 := f.connect("ana", "sock-2")
	require.NoError(t, f.gw.JoinPrivateRoom(ctx, s2))
	env, ok := conn2.last(EvtRejoin)
	require.True(t, ok)
	reply, ok := env.Data.(RejoinReply)
	require.True(t, ok)
	assert.Equal(t, domain.ChannelID(10), reply.ChannelID)
}

func TestMediaSignalingFlow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.st.addUser("ana")
	f.st.addUser("bob")
	f.st.addChannel(10, 1, domain.ChannelVoice, true)
	sa, connA := f.connect("ana", "sock-a")
	sb, connB := f.connect("bob", "sock-b")

	require.NoError(t, f.gw.JoinVoiceChannel(ctx, sa, ChannelPayload{ChannelID: 10}))
	require.NoError(t, f.gw.JoinVoiceChannel(ctx, sb, ChannelPayload{ChannelID: 10}))

	// ana produces.
	require.NoError(t, f.gw.CreateTransport(ctx, sa, CreateTransportPayload{ChannelID: 10, IsProducer: true}))
	assert.Contains(t, connA.events(), EvtCreateProduceTransport)
	require.NoError(t, f.gw.ConnectTransport(ctx, sa, ConnectTransportPayload{ChannelID: 10, IsProducer: true}))
	assert.Contains(t, connA.events(), EvtTransportConnected)
	require.NoError(t, f.gw.Produce(ctx, sa, ProducePayload{ChannelID: 10, ProducerOptions: media.ProducerOptions{Kind: media.KindAudio}}))
	assert.Contains(t, connB.events(), EvtNewProducer)

	// bob consumes.
	require.NoError(t, f.gw.CreateTransport(ctx, sb, CreateTransportPayload{ChannelID: 10, IsProducer: false}))
	assert.Contains(t, connB.events(), EvtCreateConsumeTransport)
	require.NoError(t, f.gw.Consume(ctx, sb, ConsumePayload{ChannelID: 10, RTPCapabilities: mediatest.DefaultCaps}))
	assert.Equal(t, 1, connB.count(EvtConsume))
	assert.Contains(t, connB.events(), EvtConnected)

	env, ok := connB.last(EvtConsume)
	require.True(t, ok)
	reply, ok := env.Data.(ConsumeReply)
	require.True(t, ok)
	assert.Equal(t, "ana", reply.User.Username)
	assert.True(t, reply.ResumeConsumer)

	// A second consume finds nothing new but still completes.
	require.NoError(t, f.gw.Consume(ctx, sb, ConsumePayload{ChannelID: 10, RTPCapabilities: mediatest.DefaultCaps}))
	assert.Equal(t, 2, connB.count(EvtConsume))
	assert.Equal(t, 2, connB.count(EvtConnected))
}

func TestProduceWithoutTransportFails(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.st.addUser("ana")
	f.st.addChannel(10, 1, domain.ChannelVoice, true)
	s, _ := f.connect("ana", "sock-1")
	require.NoError(t, f.gw.JoinVoiceChannel(ctx, s, ChannelPayload{ChannelID: 10}))

	err := f.gw.Produce(ctx, s, ProducePayload{ChannelID: 10, ProducerOptions: media.ProducerOptions{Kind: media.KindAudio}})
	assert.ErrorIs(t, err, media.ErrNoSendTransport)
}

func TestChangeConsumerStateRoundTrip(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.st.addUser("ana")
	f.st.addUser("bob")
	f.st.addChannel(10, 1, domain.ChannelVoice, true)
	sa, _ := f.connect("ana", "sock-a")
	sb, connB := f.connect("bob", "sock-b")
	require.NoError(t, f.gw.JoinVoiceChannel(ctx, sa, ChannelPayload{ChannelID: 10}))
	require.NoError(t, f.gw.JoinVoiceChannel(ctx, sb, ChannelPayload{ChannelID: 10}))
	require.NoError(t, f.gw.CreateTransport(ctx, sa, CreateTransportPayload{ChannelID: 10, IsProducer: true}))
	require.NoError(t, f.gw.Produce(ctx, sa, ProducePayload{ChannelID: 10, ProducerOptions: media.ProducerOptions{Kind: media.KindAudio}}))
	require.NoError(t, f.gw.CreateTransport(ctx, sb, CreateTransportPayload{ChannelID: 10, IsProducer: false}))
	require.NoError(t, f.gw.Consume(ctx, sb, ConsumePayload{ChannelID: 10, RTPCapabilities: mediatest.DefaultCaps}))

	env, ok := connB.last(EvtConsume)
	require.True(t, ok)
	consumerID := env.Data.(ConsumeReply).ID

	require.NoError(t, f.gw.ChangeConsumerState(ctx, sb, ConsumerStatePayload{ChannelID: 10, ConsumerID: consumerID, Paused: false}))
	ack, ok := connB.last(EvtChangeConsumerState)
	require.True(t, ok)
	assert.Equal(t, false, ack.Data.(map[string]any)["paused"])

	// Unknown consumer ids are tolerated.
	require.NoError(t, f.gw.ChangeConsumerState(ctx, sb, ConsumerStatePayload{ChannelID: 10, ConsumerID: "nope", Paused: true}))
}

func TestResumeConsumerUnpauses(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.st.addUser("ana")
	f.st.addUser("bob")
	f.st.addChannel(10, 1, domain.ChannelVoice, true)
	sa, _ := f.connect("ana", "sock-a")
	sb, connB := f.connect("bob", "sock-b")
	require.NoError(t, f.gw.JoinVoiceChannel(ctx, sa, ChannelPayload{ChannelID: 10}))
	require.NoError(t, f.gw.JoinVoiceChannel(ctx, sb, ChannelPayload{ChannelID: 10}))
	require.NoError(t, f.gw.CreateTransport(ctx, sa, CreateTransportPayload{ChannelID: 10, IsProducer: true}))
	require.NoError(t, f.gw.Produce(ctx, sa, ProducePayload{ChannelID: 10, ProducerOptions: media.ProducerOptions{Kind: media.KindAudio}}))
	require.NoError(t, f.gw.CreateTransport(ctx, sb, CreateTransportPayload{ChannelID: 10, IsProducer: false}))
	require.NoError(t, f.gw.Consume(ctx, sb, ConsumePayload{ChannelID: 10, RTPCapabilities: mediatest.DefaultCaps}))

	env, ok := connB.last(EvtConsume)
	require.True(t, ok)
	reply := env.Data.(ConsumeReply)
	require.True(t, reply.ResumeConsumer)

	room, err := f.gw.registry.Room(10)
	require.NoError(t, err)
	peer, err := room.Peer("bob")
	require.NoError(t, err)
	consumer, ok := peer.Consumer(reply.ID)
	require.True(t, ok)
	require.True(t, consumer.Paused())

	require.NoError(t, f.gw.ResumeConsumer(ctx, sb, ResumeConsumerPayload{ChannelID: 10, ConsumerID: reply.ID}))
	assert.False(t, consumer.Paused())

	// Unknown consumer ids are tolerated.
	require.NoError(t, f.gw.ResumeConsumer(ctx, sb, ResumeConsumerPayload{ChannelID: 10, ConsumerID: "nope"}))
}

func TestToggleAllConsumersGatesOnOwningSocket(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.st.addUser("ana")
	f.st.addChannel(10, 1, domain.ChannelVoice, true)
	s1, _ := f.connect("ana", "sock-1")
	s2, _ := f.connect("ana", "sock-2")
	require.NoError(t, f.gw.JoinVoiceChannel(ctx, s2, ChannelPayload{ChannelID: 10}))

	// The stale socket's toggle is dropped.
	require.NoError(t, f.gw.ToggleAllConsumers(ctx, s1, ToggleAllConsumersPayload{ChannelID: 10, Muted: true}))
	room, err := f.gw.registry.Room(10)
	require.NoError(t, err)
	peer, err := room.Peer("ana")
	require.NoError(t, err)
	assert.False(t, peer.EveryConsumerMuted())

	require.NoError(t, f.gw.ToggleAllConsumers(ctx, s2, ToggleAllConsumersPayload{ChannelID: 10, Muted: true}))
	assert.True(t, peer.EveryConsumerMuted())
}

func TestTypingRequiresChannelMembership(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.st.addUser("ana")
	f.st.addUser("bob")
	f.st.addChannel(10, 1, domain.ChannelText, true)
	sa, _ := f.connect("ana", "sock-a")
	sb, connB := f.connect("bob", "sock-b")

	// Not in the channel room yet: dropped.
	require.NoError(t, f.gw.Typing(ctx, sa, TypingPayload{ChannelID: 10, Status: "typing"}))
	assert.Empty(t, f.gw.presence.TypingUsers(10))

	require.NoError(t, f.gw.JoinChannel(ctx, sa, ChannelPayload{ChannelID: 10}))
	require.NoError(t, f.gw.JoinChannel(ctx, sb, ChannelPayload{ChannelID: 10}))

	require.NoError(t, f.gw.Typing(ctx, sa, TypingPayload{ChannelID: 10, Status: "typing"}))
	require.NoError(t, f.gw.Typing(ctx, sa, TypingPayload{ChannelID: 10, Status: "typing"}))
	assert.Equal(t, []string{"ana"}, f.gw.presence.TypingUsers(10))
	assert.GreaterOrEqual(t, connB.count(EvtTyping), 1)

	require.NoError(t, f.gw.Typing(ctx, sa, TypingPayload{ChannelID: 10, Status: "stopped"}))
	assert.Empty(t, f.gw.presence.TypingUsers(10))
}

func TestDisconnectClearsTyping(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.st.addUser("ana")
	f.st.addUser("bob")
	f.st.addChannel(10, 1, domain.ChannelText, true)
	sa, _ := f.connect("ana", "sock-a")
	sb, connB := f.connect("bob", "sock-b")
	require.NoError(t, f.gw.JoinChannel(ctx, sa, ChannelPayload{ChannelID: 10}))
	require.NoError(t, f.gw.JoinChannel(ctx, sb, ChannelPayload{ChannelID: 10}))
	require.NoError(t, f.gw.Typing(ctx, sa, TypingPayload{ChannelID: 10, Status: "typing"}))
	before := connB.count(EvtTyping)

	f.gw.Disconnect(ctx, sa)
	assert.Empty(t, f.gw.presence.TypingUsers(10))
	assert.Greater(t, connB.count(EvtTyping), before)
}

func TestStatusBroadcastRules(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.st.addUser("ana")
	f.st.addUser("bob")
	f.st.addChannel(10, 1, domain.ChannelText, true)
	f.st.friends["ana"] = []string{"bob"}
	sa, _ := f.connect("ana", "sock-a")
	_, connB := f.connect("bob", "sock-b")

	require.NoError(t, f.gw.Status(ctx, sa, StatusPayload{Status: domain.StatusIdle}))
	env, ok := connB.last(EvtStatus)
	require.True(t, ok)
	updated := env.Data.(*domain.User)
	assert.Equal(t, domain.StatusIdle, updated.Status)

	got, err := f.st.UserByUsername(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIdle, got.Status)
}

func TestStatusInvisibleSuppressesBroadcast(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	u := f.st.addUser("ana")
	u.IsInvisible = true
	f.st.addUser("bob")
	f.st.addChannel(10, 1, domain.ChannelText, true)
	f.st.friends["ana"] = []string{"bob"}
	sa, _ := f.connect("ana", "sock-a")
	_, connB := f.connect("bob", "sock-b")

	require.NoError(t, f.gw.Status(ctx, sa, StatusPayload{Status: domain.StatusOnline}))
	assert.Equal(t, 0, connB.count(EvtStatus))
	got, err := f.st.UserByUsername(ctx, "ana")
	require.NoError(t, err)
	assert.NotEqual(t, domain.StatusOffline, got.Status)
}

func TestStatusPinnedIgnoresOnlineTransition(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	u := f.st.addUser("ana")
	u.Status = domain.StatusDoNotDisturb
	u.SpecialStatus = true
	f.st.addUser("bob")
	f.st.addChannel(10, 1, domain.ChannelText, true)
	f.st.friends["ana"] = []string{"bob"}
	sa, _ := f.connect("ana", "sock-a")
	_, connB := f.connect("bob", "sock-b")

	// Automatic online does not overwrite the pin.
	require.NoError(t, f.gw.Status(ctx, sa, StatusPayload{Status: domain.StatusOnline}))
	got, err := f.st.UserByUsername(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDoNotDisturb, got.Status)
	assert.Equal(t, 0, connB.count(EvtStatus))

	// An explicit change does.
	require.NoError(t, f.gw.Status(ctx, sa, StatusPayload{Status: domain.StatusIdle}))
	got, err = f.st.UserByUsername(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIdle, got.Status)
}

func TestJoinChannelSwitchesTextRooms(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.st.addUser("ana")
	f.st.addChannel(10, 1, domain.ChannelText, true)
	f.st.addChannel(11, 1, domain.ChannelText, true)
	s, _ := f.connect("ana", "sock-1")

	require.NoError(t, f.gw.JoinChannel(ctx, s, ChannelPayload{ChannelID: 10}))
	require.NoError(t, f.gw.JoinChannel(ctx, s, ChannelPayload{ChannelID: 11}))
	assert.False(t, s.InRoom(hub.TextChannelRoom(10)))
	assert.True(t, s.InRoom(hub.TextChannelRoom(11)))
}

func TestJoinServerRepliesWithVoiceMembers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.st.addUser("ana")
	f.st.addUser("bob")
	f.st.addChannel(10, 1, domain.ChannelVoice, true)
	f.st.addChannel(11, 1, domain.ChannelVoice, true)
	sb, _ := f.connect("bob", "sock-b")
	require.NoError(t, f.gw.JoinVoiceChannel(ctx, sb, ChannelPayload{ChannelID: 10}))

	sa, connA := f.connect("ana", "sock-a")
	require.NoError(t, f.gw.JoinServer(ctx, sa, ServerPayload{ServerID: 1}))
	assert.True(t, sa.InRoom(hub.ServerRoom(1)))

	env, ok := connA.last(EvtUserJoinedServer)
	require.True(t, ok)
	reply := env.Data.(JoinedServerReply)
	require.Len(t, reply.VoiceChannelMembers[10], 1)
	assert.Equal(t, "bob", reply.VoiceChannelMembers[10][0].Username)
	assert.Empty(t, reply.VoiceChannelMembers[11])
}
