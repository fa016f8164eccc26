package realtime

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/switchboard/internal/model"
)

func adminPayload(requestID string) model.Payload {
	return model.Payload{
		Notification: &model.Notification{
			ID:      "n-" + requestID,
			RoleFor: model.RoleAdmin,
			Request: &model.Request{ID: requestID, Type: model.TypeUpload, Status: model.StatusApproved},
		},
	}
}

func newTestFanout() (*Fanout, *Registry, *Metrics) {
	m := NewMetrics()
	reg := NewRegistry(m.Hooks())
	return NewFanout(reg, m), reg, m
}

func TestTargets_AdminOnly(t *testing.T) {
	t.Parallel()

	targets := Targets(adminPayload("r1"))

	assert.Equal(t, []Target{{Channel: model.AdminsChannel, Event: EventNotifyAdmins}}, targets)
}

func TestTargets_AdminAndUser(t *testing.T) {
	t.Parallel()
	p := adminPayload("r1")
	p.UserID = "u1"

	targets := Targets(p)

	assert.Equal(t, []Target{
		{Channel: model.AdminsChannel, Event: EventNotifyAdmins},
		{Channel: model.UserChannel("u1"), Event: EventNotifyUser},
	}, targets)
}

func TestTargets_UserScopedFallsBackToNotificationUser(t *testing.T) {
	t.Parallel()
	p := model.Payload{Notification: &model.Notification{RoleFor: model.RoleUser, UserID: "u7"}}

	assert.Equal(t, []Target{{Channel: model.UserChannel("u7"), Event: EventNotifyUser}}, Targets(p))
}

func TestTargets_NilNotification(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Targets(model.Payload{UserID: "u1"}))
}

func TestFanout_AdminPayloadReachesEveryAdminAndNoUser(t *testing.T) {
	t.Parallel()
	f, reg, _ := newTestFanout()

	admins := []*fakeConn{newFakeConn("a"), newFakeConn("b"), newFakeConn("c")}
	for _, c := range admins {
		reg.Join(c, adminPrincipal)
	}
	u1 := newFakeConn("u1-conn")
	reg.Join(u1, userU1)

	f.Publish(adminPayload("r1"))

	for _, c := range admins {
		frames := c.Frames()
		require.Len(t, frames, 1, c.ID())
		assert.Equal(t, EventNotifyAdmins, frames[0].Event)
	}
	assert.Empty(t, u1.Frames())
}

func TestFanout_UserPayloadOnlyReachesThatUser(t *testing.T) {
	t.Parallel()
	f, reg, _ := newTestFanout()

	u1 := newFakeConn("u1-conn")
	u2 := newFakeConn("u2-conn")
	reg.Join(u1, userU1)
	reg.Join(u2, userU2)

	f.Publish(model.Payload{
		UserID:       "u1",
		Notification: &model.Notification{ID: "n1", RoleFor: model.RoleUser, UserID: "u1"},
	})

	require.Len(t, u1.Frames(), 1)
	assert.Equal(t, EventNotifyUser, u1.Frames()[0].Event)
	assert.Empty(t, u2.Frames())
}

func TestFanout_AccountPayloadHitsAdminsAndUser(t *testing.T) {
	t.Parallel()
	f, reg, m := newTestFanout()

	admin := newFakeConn("admin")
	u1 := newFakeConn("u1-conn")
	u2 := newFakeConn("u2-conn")
	reg.Join(admin, adminPrincipal)
	reg.Join(u1, userU1)
	reg.Join(u2, userU2)

	p := adminPayload("r1")
	p.UserID = "u1"
	f.Publish(p)

	assert.Len(t, admin.Frames(), 1)
	assert.Len(t, u1.Frames(), 1)
	assert.Empty(t, u2.Frames())

	var decoded model.Payload
	require.NoError(t, u1.Frames()[0].Decode(&decoded))
	assert.Equal(t, "u1", decoded.UserID)
	assert.Equal(t, "r1", decoded.Notification.Request.ID)

	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap.Publishes)
	assert.Equal(t, int64(2), snap.Deliveries)
}

func TestFanout_ReconnectReceivesOnlyLaterPublishes(t *testing.T) {
	t.Parallel()
	f, reg, _ := newTestFanout()

	first := newFakeConn("first")
	reg.Join(first, adminPrincipal)
	f.Publish(adminPayload("r1"))

	reg.Leave(first.ID())
	f.Publish(adminPayload("r2")) // published while disconnected

	second := newFakeConn("second")
	reg.Join(second, adminPrincipal)
	f.Publish(adminPayload("r3"))

	require.Len(t, first.Frames(), 1)
	frames := second.Frames()
	require.Len(t, frames, 1)
	var p model.Payload
	require.NoError(t, frames[0].Decode(&p))
	assert.Equal(t, "r3", p.Notification.Request.ID)
}

func TestFanout_PreservesPublishOrderPerConnection(t *testing.T) {
	t.Parallel()
	f, reg, _ := newTestFanout()
	conn := newFakeConn("c")
	reg.Join(conn, adminPrincipal)

	for i := range 20 {
		f.Publish(adminPayload(fmt.Sprintf("r%02d", i)))
	}

	frames := conn.Frames()
	require.Len(t, frames, 20)
	for i, fr := range frames {
		var p model.Payload
		require.NoError(t, fr.Decode(&p))
		assert.Equal(t, fmt.Sprintf("r%02d", i), p.Notification.Request.ID)
	}
}

func TestFanout_CountsDropsForDeadConnections(t *testing.T) {
	t.Parallel()
	f, reg, m := newTestFanout()
	conn := newFakeConn("c")
	reg.Join(conn, adminPrincipal)
	conn.setClosed()

	f.Publish(adminPayload("r1"))

	assert.Equal(t, int64(1), m.Drops.Load())
	assert.Equal(t, int64(0), m.Deliveries.Load())
}

func TestFanout_ConcurrentPublishAndMembershipChanges(t *testing.T) {
	t.Parallel()
	f, reg, _ := newTestFanout()

	stable := newFakeConn("stable")
	reg.Join(stable, adminPrincipal)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			c := newFakeConn(fmt.Sprintf("churn-%d", i))
			reg.Join(c, adminPrincipal)
			reg.Leave(c.ID())
		}(i)
		go func(i int) {
			defer wg.Done()
			f.Publish(adminPayload(fmt.Sprintf("r%d", i)))
		}(i)
	}
	wg.Wait()

	assert.Len(t, stable.Frames(), 20)
	assert.Equal(t, 1, reg.Count())
}
