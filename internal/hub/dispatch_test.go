package hub

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rankland/broadcast-hub/internal/core"
)

func TestEnvelopeMapping(t *testing.T) {
	ok := okEnvelope("produce", 7, map[string]string{"producerId": "p1"})
	assert.True(t, ok.Success)
	assert.Equal(t, core.CodeOK, ok.Code)
	assert.Equal(t, uint64(7), ok.Seq)

	logic := errEnvelope("consume", 8, core.NewLogicError(core.BroadcastMediaRoomRequiredTrackMissing))
	assert.False(t, logic.Success)
	assert.Equal(t, core.BroadcastMediaRoomRequiredTrackMissing, logic.Code)
	assert.Equal(t, core.Message(core.BroadcastMediaRoomRequiredTrackMissing), logic.Msg)

	// non-domain errors downgrade to SystemError without detail
	system := errEnvelope("consume", 9, errors.New("redis: connection refused"))
	assert.Equal(t, core.SystemError, system.Code)
	assert.Equal(t, core.Message(core.SystemError), system.Msg)
	assert.NotContains(t, system.Msg, "redis")
}

func TestRoleGates(t *testing.T) {
	env := newTestEnv(t)

	broadcasterChannel := env.app.broadcasterHandlers()
	shotChannel := env.app.shotHandlers()

	producing := []string{"confirmReady", "cancelReady", "produce"}
	directing := []string{"joinBroadcastRoom", "startBroadcast", "consume", "stopBroadcast"}

	for _, event := range producing {
		spec, ok := broadcasterChannel[event]
		require.True(t, ok, event)
		assert.True(t, roleAllowed(spec.roles, core.RoleBroadcaster), event)
		assert.False(t, roleAllowed(spec.roles, core.RoleDirector), event)
		assert.False(t, roleAllowed(spec.roles, core.RoleShot), event)

		spec, ok = shotChannel[event]
		require.True(t, ok, event)
		assert.True(t, roleAllowed(spec.roles, core.RoleShot), event)
		assert.False(t, roleAllowed(spec.roles, core.RoleDirector), event)
	}

	for _, event := range directing {
		spec, ok := broadcasterChannel[event]
		require.True(t, ok, event)
		assert.True(t, roleAllowed(spec.roles, core.RoleDirector), event)
		assert.False(t, roleAllowed(spec.roles, core.RoleBroadcaster), event)

		spec, ok = shotChannel[event]
		require.True(t, ok, event)
		assert.True(t, roleAllowed(spec.roles, core.RoleDirector), event)
		assert.False(t, roleAllowed(spec.roles, core.RoleShot), event)
	}

	for _, handlers := range []map[string]handlerSpec{broadcasterChannel, shotChannel} {
		spec := handlers["completeConnectTransport"]
		assert.True(t, roleAllowed(spec.roles, core.RoleDirector))
		info := handlers["getContestInfo"]
		assert.True(t, roleAllowed(info.roles, core.RoleDirector))
	}
}

func TestDecode(t *testing.T) {
	var req trackIDsRequest

	err := decode(nil, &req)
	assert.Equal(t, core.IllegalParameters, logicCode(t, err))

	err = decode([]byte("{not json"), &req)
	assert.Equal(t, core.IllegalParameters, logicCode(t, err))

	require.NoError(t, decode([]byte(`{"trackIds":["t1"]}`), &req))
	assert.Equal(t, []string{"t1"}, req.TrackIDs)
}

func TestAckTable(t *testing.T) {
	table := newAckTable()
	group := broadcasterGroup(testAlias, testUserID)
	recipient := testConn(core.RoleBroadcaster, testAlias, testUserID)
	recipient.Join(group)
	outsider := testShotConn(core.RoleShot, "other-contest", "shot-1")

	var calls int
	seq1 := table.Add(group, func() { calls++ })
	seq2 := table.Add(group, func() { calls += 10 })
	assert.NotEqual(t, seq1, seq2)

	// an ack from a connection outside the group does not resolve
	table.Resolve(outsider, seq1)
	assert.Equal(t, 0, calls)

	table.Resolve(recipient, seq1)
	assert.Equal(t, 1, calls)

	// a second ack for the same seq is ignored
	table.Resolve(recipient, seq1)
	assert.Equal(t, 1, calls)

	// unknown seqs are ignored too
	table.Resolve(recipient, 999)
	assert.Equal(t, 1, calls)

	table.Resolve(recipient, seq2)
	assert.Equal(t, 11, calls)
}

func TestConnGroups(t *testing.T) {
	conn := testConn(core.RoleDirector, testAlias, testUserID)

	group := viewerGroup(testAlias, testUserID)
	assert.False(t, conn.InGroup(group))

	conn.Join(group)
	assert.True(t, conn.InGroup(group))

	conn.Leave(group)
	assert.False(t, conn.InGroup(group))
}
