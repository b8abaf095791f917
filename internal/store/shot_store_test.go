package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rankland/broadcast-hub/internal/core"
)

func TestShotStoreSetGetDelete(t *testing.T) {
	s := NewShotStore()

	state := &core.BroadcastState{
		Status: core.StatusReady,
		Tracks: []core.TrackDescriptor{{TrackID: "t1", Type: core.TrackVideo}},
	}
	s.Set("icpc2025", "shot-1", state)

	assert.Equal(t, state, s.Get("icpc2025", "shot-1"))
	assert.Nil(t, s.Get("icpc2025", "shot-2"))
	assert.Nil(t, s.Get("other", "shot-1"))

	s.Delete("icpc2025", "shot-1")
	assert.Nil(t, s.Get("icpc2025", "shot-1"))
}

func TestShotStoreDeleteKeepsSiblings(t *testing.T) {
	s := NewShotStore()
	s.Set("icpc2025", "shot-1", &core.BroadcastState{Status: core.StatusReady})
	s.Set("icpc2025", "shot-2", &core.BroadcastState{Status: core.StatusBroadcasting})

	s.Delete("icpc2025", "shot-1")

	all := s.GetAll("icpc2025")
	assert.Len(t, all, 1)
	assert.Equal(t, core.StatusBroadcasting, all["shot-2"].Status)
}

func TestShotStoreGetAllReturnsCopies(t *testing.T) {
	s := NewShotStore()
	s.Set("icpc2025", "shot-1", &core.BroadcastState{
		Status:               core.StatusBroadcasting,
		BroadcastingTrackIDs: []string{"t1"},
	})

	all := s.GetAll("icpc2025")
	all["shot-1"].Status = core.StatusReady
	all["shot-1"].BroadcastingTrackIDs[0] = "mutated"

	stored := s.Get("icpc2025", "shot-1")
	assert.Equal(t, core.StatusBroadcasting, stored.Status)
	assert.Equal(t, []string{"t1"}, stored.BroadcastingTrackIDs)
}

func TestShotStoreGetDetachesFromStoredState(t *testing.T) {
	s := NewShotStore()

	state := &core.BroadcastState{
		Status: core.StatusReady,
		Tracks: []core.TrackDescriptor{{TrackID: "t1", Type: core.TrackVideo}},
	}
	s.Set("icpc2025", "shot-1", state)

	// mutating the caller's pointer after Set does not leak in
	state.Tracks[0].TrackID = "mutated"
	assert.Equal(t, "t1", s.Get("icpc2025", "shot-1").Tracks[0].TrackID)

	// mutating a Get result is invisible until written back with Set
	got := s.Get("icpc2025", "shot-1")
	got.AddBroadcastingTrack("t1")
	assert.Equal(t, core.StatusReady, s.Get("icpc2025", "shot-1").Status)
	assert.Empty(t, s.Get("icpc2025", "shot-1").BroadcastingTrackIDs)

	s.Set("icpc2025", "shot-1", got)
	assert.Equal(t, core.StatusBroadcasting, s.Get("icpc2025", "shot-1").Status)
}

func TestBroadcastStoreKeyLayout(t *testing.T) {
	s := NewRedisBroadcastStore(nil, "rl_broadcast_hub:", 0)

	assert.Equal(t, "rl_broadcast_hub:broadcaster:icpc2025:u1:info", s.infoKey("icpc2025", "u1"))
	assert.Equal(t, "rl_broadcast_hub:broadcaster:icpc2025:u1:tracks", s.tracksKey("icpc2025", "u1"))
	assert.Equal(t, "u1", userIDFromInfoKey(s.infoKey("icpc2025", "u1")))
}
