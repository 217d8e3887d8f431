package gatekeeper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat/internal/auth"
	"github.com/Tyrowin/gochat/internal/chat"
	"github.com/Tyrowin/gochat/internal/presence"
	"github.com/Tyrowin/gochat/internal/room"
	"github.com/Tyrowin/gochat/internal/store/memstore"
)

const testSecret = "gatekeeper-test-secret"

type fakeConn struct{ id string }

func (c fakeConn) ID() string                 { return c.id }
func (c fakeConn) Deliver(chat.Message) error { return nil }

type rosterSink struct {
	mu      sync.Mutex
	rosters [][]chat.RosterEntry
}

func (s *rosterSink) Presence(_ context.Context, roster []chat.RosterEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rosters = append(s.rosters, roster)
}

func (s *rosterSink) Message(context.Context, chat.Message) {}

func (s *rosterSink) last() []chat.RosterEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rosters) == 0 {
		return nil
	}
	return s.rosters[len(s.rosters)-1]
}

func (s *rosterSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rosters)
}

type fixture struct {
	gk       *Gatekeeper
	registry *presence.Registry
	router   *room.Router
	sink     *rosterSink
	issuer   *auth.Issuer
}

func newFixture(t *testing.T, config Config) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	jwtConfig := auth.JWTConfig{SecretKey: testSecret}
	registry := presence.NewRegistry(logger)
	router := room.NewRouter(memstore.New(), registry, nil, logger)
	sink := &rosterSink{}

	return &fixture{
		gk:       New(config, auth.NewJWTVerifier(jwtConfig), registry, router, sink, logger),
		registry: registry,
		router:   router,
		sink:     sink,
		issuer:   auth.NewIssuer(jwtConfig, time.Hour),
	}
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()

	token, err := f.issuer.Issue(chat.Identity{ID: "1", Name: "alice"})
	require.NoError(t, err)

	id, err := f.gk.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, chat.Identity{ID: "1", Name: "alice"}, id)

	_, err = f.gk.Authenticate(ctx, "")
	assert.ErrorIs(t, err, chat.ErrUnauthenticated)

	_, err = f.gk.Authenticate(ctx, "not-a-token")
	assert.ErrorIs(t, err, chat.ErrInvalidCredential)

	assert.Zero(t, f.registry.OnlineCount(), "failed handshakes create no state")
	assert.Zero(t, f.sink.count())
}

func TestAdmitAndRelease(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	alice := chat.Identity{ID: "1", Name: "alice"}
	conn := fakeConn{id: "c1"}

	require.NoError(t, f.gk.Admit(ctx, alice, conn))

	assert.True(t, f.registry.IsOnline(alice.ID))
	assert.Zero(t, f.router.RoomCount(), "lounge auto-join is off by default")
	assert.Equal(t, []chat.RosterEntry{{ID: "1", Name: "alice", Online: true}}, f.sink.last())

	require.NoError(t, f.router.Join(conn, "general"))
	f.gk.Release(ctx, conn)

	assert.False(t, f.registry.IsOnline(alice.ID))
	assert.Zero(t, f.router.RoomCount())
	assert.Equal(t, []chat.RosterEntry{{ID: "1", Name: "alice", Online: false}}, f.sink.last())
}

func TestAdmitAutoJoinsLounge(t *testing.T) {
	f := newFixture(t, Config{AutoJoinLounge: true})
	conn := fakeConn{id: "c1"}

	require.NoError(t, f.gk.Admit(context.Background(), chat.Identity{ID: "1", Name: "alice"}, conn))
	assert.Equal(t, []string{"c1"}, f.router.Members(chat.Lounge))
	assert.Equal(t, DefaultHandshakeTimeout, f.gk.HandshakeTimeout())
}

func TestReleaseOfSupersededConnectionKeepsUserOnline(t *testing.T) {
	f := newFixture(t, Config{AutoJoinLounge: true})
	ctx := context.Background()
	alice := chat.Identity{ID: "1", Name: "alice"}
	first, second := fakeConn{id: "c1"}, fakeConn{id: "c2"}

	require.NoError(t, f.gk.Admit(ctx, alice, first))
	require.NoError(t, f.gk.Admit(ctx, alice, second))
	announcements := f.sink.count()
	assert.Equal(t, 1, announcements, "reconnecting is not a presence change")

	f.gk.Release(ctx, first)

	assert.True(t, f.registry.IsOnline(alice.ID))
	assert.Equal(t, []string{"c2"}, f.router.Members(chat.Lounge))
	assert.Equal(t, announcements, f.sink.count(), "no presence event for a superseded connection")

	current, ok := f.registry.Lookup(alice.ID)
	require.True(t, ok)
	assert.Equal(t, "c2", current.ID())
}

// releasingLocator starts releasing a connection the first time the router
// resolves a receiver, so the release races the private send's join.
type releasingLocator struct {
	registry *presence.Registry
	release  func()
	once     sync.Once
	done     chan struct{}
}

func (l *releasingLocator) Lookup(userID string) (chat.Conn, bool) {
	conn, ok := l.registry.Lookup(userID)
	l.once.Do(func() {
		go func() {
			defer close(l.done)
			l.release()
		}()
	})
	return conn, ok
}

func TestReleaseDuringPrivateSendLeavesNoMembership(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := presence.NewRegistry(logger)
	locator := &releasingLocator{registry: registry, done: make(chan struct{})}
	router := room.NewRouter(memstore.New(), locator, nil, logger)
	gk := New(DefaultConfig(), auth.NewJWTVerifier(auth.JWTConfig{SecretKey: testSecret}), registry, router, nil, logger)

	alice := chat.Identity{ID: "a", Name: "alice"}
	bob := chat.Identity{ID: "b", Name: "bob"}
	ca, cb := fakeConn{id: "ca"}, fakeConn{id: "cb"}
	require.NoError(t, gk.Admit(ctx, alice, ca))
	require.NoError(t, gk.Admit(ctx, bob, cb))
	locator.release = func() { gk.Release(ctx, ca) }

	_, err := router.PrivateSend(ctx, bob, cb, alice.ID, "hi")
	require.NoError(t, err)

	select {
	case <-locator.done:
	case <-time.After(2 * time.Second):
		t.Fatal("release did not finish")
	}

	key := chat.PrivateRoomKey(alice.ID, bob.ID)
	assert.False(t, registry.IsOnline(alice.ID))
	assert.NotContains(t, router.Members(key), "ca")
	assert.Empty(t, router.Rooms("ca"))
	assert.Equal(t, []string{"cb"}, router.Members(key))
}

func TestConcurrentReleaseAndPrivateSend(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	ctx := context.Background()
	alice := chat.Identity{ID: "a", Name: "alice"}
	bob := chat.Identity{ID: "b", Name: "bob"}
	cb := fakeConn{id: "cb"}
	require.NoError(t, f.gk.Admit(ctx, bob, cb))

	for i := 0; i < 50; i++ {
		ca := fakeConn{id: fmt.Sprintf("ca-%d", i)}
		require.NoError(t, f.gk.Admit(ctx, alice, ca))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.router.PrivateSend(ctx, bob, cb, alice.ID, "hi")
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			f.gk.Release(ctx, ca)
		}()
		wg.Wait()

		assert.Empty(t, f.router.Rooms(ca.ID()), "released connection %s kept memberships", ca.ID())
	}
}
