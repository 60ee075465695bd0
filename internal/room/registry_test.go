package room

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubscriber struct {
	id       string
	mu       sync.Mutex
	received [][]byte
	reject   bool
}

func newFakeSubscriber(id string) *fakeSubscriber {
	return &fakeSubscriber{id: id}
}

func (f *fakeSubscriber) ID() string { return f.id }

func (f *fakeSubscriber) Deliver(data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return false
	}
	f.received = append(f.received, data)
	return true
}

func (f *fakeSubscriber) messages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.received))
	copy(out, f.received)
	return out
}

func testRegistry() *Registry {
	return NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestJoinAndBroadcast(t *testing.T) {
	reg := testRegistry()
	alice := newFakeSubscriber("alice")
	bob := newFakeSubscriber("bob")

	reg.Join(1, alice)
	reg.Join(1, bob)
	assert.Equal(t, 2, reg.RoomSize(1))
	assert.True(t, reg.Joined(1, "alice"))

	delivered := reg.Broadcast(1, []byte("hello"))
	assert.Equal(t, 2, delivered)
	require.Len(t, alice.messages(), 1)
	assert.Equal(t, []byte("hello"), alice.messages()[0])
	require.Len(t, bob.messages(), 1)
}

func TestJoin_Idempotent(t *testing.T) {
	reg := testRegistry()
	alice := newFakeSubscriber("alice")

	reg.Join(1, alice)
	reg.Join(1, alice)
	assert.Equal(t, 1, reg.RoomSize(1))

	delivered := reg.Broadcast(1, []byte("once"))
	assert.Equal(t, 1, delivered)
	assert.Len(t, alice.messages(), 1)
}

func TestBroadcast_OnlyReachesRoomMembers(t *testing.T) {
	reg := testRegistry()
	alice := newFakeSubscriber("alice")
	bob := newFakeSubscriber("bob")

	reg.Join(1, alice)
	reg.Join(2, bob)

	delivered := reg.Broadcast(1, []byte("room one"))
	assert.Equal(t, 1, delivered)
	assert.Len(t, alice.messages(), 1)
	assert.Empty(t, bob.messages())
}

func TestBroadcast_EmptyRoom(t *testing.T) {
	reg := testRegistry()
	assert.Equal(t, 0, reg.Broadcast(42, []byte("nobody home")))
}

func TestBroadcast_CountsDrops(t *testing.T) {
	reg := testRegistry()
	alice := newFakeSubscriber("alice")
	full := newFakeSubscriber("full")
	full.reject = true

	reg.Join(1, alice)
	reg.Join(1, full)

	delivered := reg.Broadcast(1, []byte("hello"))
	assert.Equal(t, 1, delivered)
	assert.Len(t, alice.messages(), 1)
	assert.Empty(t, full.messages())
	// A dropped delivery does not evict the subscriber.
	assert.Equal(t, 2, reg.RoomSize(1))
}

func TestLeave(t *testing.T) {
	reg := testRegistry()
	alice := newFakeSubscriber("alice")
	bob := newFakeSubscriber("bob")

	reg.Join(1, alice)
	reg.Join(1, bob)
	reg.Leave(1, "alice")

	assert.False(t, reg.Joined(1, "alice"))
	assert.Equal(t, 1, reg.RoomSize(1))
	reg.Broadcast(1, []byte("after leave"))
	assert.Empty(t, alice.messages())
	assert.Len(t, bob.messages(), 1)
}

func TestLeave_UnknownIsNoOp(t *testing.T) {
	reg := testRegistry()
	reg.Leave(1, "ghost")
	assert.Equal(t, 0, reg.RoomSize(1))
}

func TestRemoveConnection_LeavesAllRooms(t *testing.T) {
	reg := testRegistry()
	alice := newFakeSubscriber("alice")
	bob := newFakeSubscriber("bob")

	reg.Join(1, alice)
	reg.Join(2, alice)
	reg.Join(3, alice)
	reg.Join(1, bob)

	reg.RemoveConnection("alice")

	assert.False(t, reg.Joined(1, "alice"))
	assert.False(t, reg.Joined(2, "alice"))
	assert.False(t, reg.Joined(3, "alice"))
	assert.Equal(t, 1, reg.RoomSize(1))
	assert.Equal(t, 0, reg.RoomSize(2))
	assert.True(t, reg.Joined(1, "bob"))
}

func TestBroadcast_PreservesOrderPerSubscriber(t *testing.T) {
	reg := testRegistry()
	alice := newFakeSubscriber("alice")
	reg.Join(1, alice)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			reg.Broadcast(1, []byte(fmt.Sprintf("msg-%d", n)))
		}(i)
	}
	wg.Wait()

	assert.Len(t, alice.messages(), 10)
}

func TestConcurrentJoinLeaveBroadcast(t *testing.T) {
	reg := testRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sub := newFakeSubscriber(fmt.Sprintf("conn-%d", n))
			chatID := uint(n % 3)
			reg.Join(chatID, sub)
			reg.Broadcast(chatID, []byte("ping"))
			reg.RemoveConnection(sub.ID())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, reg.RoomSize(0))
	assert.Equal(t, 0, reg.RoomSize(1))
	assert.Equal(t, 0, reg.RoomSize(2))
}
