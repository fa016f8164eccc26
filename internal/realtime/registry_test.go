package realtime

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/switchboard/internal/model"
)

// fakeConn records every frame it is handed.
type fakeConn struct {
	id string

	mu     sync.Mutex
	frames []Frame
	closed bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(f Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.frames = append(c.frames, f)
	return true
}

func (c *fakeConn) Frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

func (c *fakeConn) setClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

var (
	adminPrincipal = model.Principal{Role: model.RoleAdmin, UserID: "a1"}
	userU1         = model.Principal{Role: model.RoleUser, UserID: "u1"}
	userU2         = model.Principal{Role: model.RoleUser, UserID: "u2"}
)

func TestRegistry_Join_AdminGoesToAdmins(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(Hooks{})

	ch := reg.Join(newFakeConn("c1"), adminPrincipal)

	assert.Equal(t, model.AdminsChannel, ch)
	assert.Len(t, reg.Members(model.AdminsChannel), 1)
}

func TestRegistry_Join_UserGoesToOwnChannel(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(Hooks{})

	ch := reg.Join(newFakeConn("c1"), userU1)

	assert.Equal(t, model.UserChannel("u1"), ch)
	assert.Empty(t, reg.Members(model.AdminsChannel))
	assert.Len(t, reg.Members(model.UserChannel("u1")), 1)
}

func TestRegistry_Join_IsIdempotent(t *testing.T) {
	t.Parallel()
	joins := 0
	reg := NewRegistry(Hooks{OnJoin: func(string, model.Channel) { joins++ }})
	conn := newFakeConn("c1")

	reg.Join(conn, userU1)
	reg.Join(conn, userU1)

	assert.Len(t, reg.Members(model.UserChannel("u1")), 1)
	assert.Equal(t, 1, reg.Count())
	assert.Equal(t, 1, joins)
}

func TestRegistry_Join_DifferentPrincipalMovesConnection(t *testing.T) {
	t.Parallel()
	var left []model.Channel
	reg := NewRegistry(Hooks{OnLeave: func(_ string, ch model.Channel) { left = append(left, ch) }})
	conn := newFakeConn("c1")

	reg.Join(conn, userU1)
	reg.Join(conn, adminPrincipal)

	assert.Empty(t, reg.Members(model.UserChannel("u1")))
	assert.Len(t, reg.Members(model.AdminsChannel), 1)
	assert.Equal(t, 1, reg.ChannelCount())
	assert.Equal(t, []model.Channel{model.UserChannel("u1")}, left)
}

func TestRegistry_Leave_RemovesMembership(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(Hooks{})
	reg.Join(newFakeConn("c1"), adminPrincipal)
	reg.Join(newFakeConn("c2"), adminPrincipal)

	ch, ok := reg.Leave("c1")
	require.True(t, ok)
	assert.Equal(t, model.AdminsChannel, ch)

	members := reg.Members(model.AdminsChannel)
	require.Len(t, members, 1)
	assert.Equal(t, "c2", members[0].ID())

	_, ok = reg.ChannelOf("c1")
	assert.False(t, ok)
}

func TestRegistry_Leave_LastMemberDropsChannel(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(Hooks{})
	reg.Join(newFakeConn("c1"), userU1)

	reg.Leave("c1")

	assert.Equal(t, 0, reg.ChannelCount())
	assert.Equal(t, 0, reg.Count())
}

func TestRegistry_Leave_UnknownConnection(t *testing.T) {
	t.Parallel()
	leaves := 0
	reg := NewRegistry(Hooks{OnLeave: func(string, model.Channel) { leaves++ }})

	_, ok := reg.Leave("nope")

	assert.False(t, ok)
	assert.Equal(t, 0, leaves)
}

func TestRegistry_Members_UnknownChannelIsEmpty(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(Hooks{})

	members := reg.Members(model.UserChannel("ghost"))

	assert.NotNil(t, members)
	assert.Empty(t, members)
}

func TestRegistry_ConcurrentJoinLeave(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(Hooks{})

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := newFakeConn(fmt.Sprintf("c%d", i))
			p := userU1
			if i%2 == 0 {
				p = adminPrincipal
			}
			reg.Join(conn, p)
			_ = reg.Members(model.AdminsChannel)
			if i%3 == 0 {
				reg.Leave(conn.ID())
			}
		}(i)
	}
	wg.Wait()

	total := len(reg.Members(model.AdminsChannel)) + len(reg.Members(model.UserChannel("u1")))
	assert.Equal(t, reg.Count(), total)
	assert.Equal(t, 50-17, total) // 17 multiples of 3 in [0,50)
}
