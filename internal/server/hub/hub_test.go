package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSub struct {
	id     string
	frames [][]byte
}

func (f *fakeSub) SocketID() string { return f.id }
func (f *fakeSub) Enqueue(frame []byte) bool {
	f.frames = append(f.frames, frame)
	return true
}

func TestBroadcastExcludesSender(t *testing.T) {
	h := New()
	a, b := &fakeSub{id: "a"}, &fakeSub{id: "b"}
	h.Register(a)
	h.Register(b)
	h.Join("r1", a)
	h.Join("r1", b)

	h.Broadcast("r1", []byte("x"), a)
	assert.Empty(t, a.frames)
	assert.Len(t, b.frames, 1)

	h.Broadcast("r1", []byte("y"), nil)
	assert.Len(t, a.frames, 1)
	assert.Len(t, b.frames, 2)
}

func TestUnregisterLeavesAllRooms(t *testing.T) {
	h := New()
	a := &fakeSub{id: "a"}
	h.Register(a)
	h.Join("r1", a)
	h.Join("r2", a)
	assert.Equal(t, 1, h.RoomSize("r1"))

	h.Unregister(a)
	assert.Zero(t, h.RoomSize("r1"))
	assert.Zero(t, h.RoomSize("r2"))
	assert.Zero(t, h.Connections())
}

func TestBroadcastAllReachesUnjoinedSessions(t *testing.T) {
	h := New()
	a, b := &fakeSub{id: "a"}, &fakeSub{id: "b"}
	h.Register(a)
	h.Register(b)
	h.Join("r1", a)

	h.BroadcastAll([]byte("z"))
	assert.Len(t, a.frames, 1)
	assert.Len(t, b.frames, 1)
}
