package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddBroadcastingTrackIsIdempotent(t *testing.T) {
	info := NewBroadcastInfo()

	assert.True(t, info.AddBroadcastingTrack("t1"))
	assert.False(t, info.AddBroadcastingTrack("t1"))
	assert.True(t, info.AddBroadcastingTrack("t2"))
	assert.False(t, info.AddBroadcastingTrack("t1"))

	assert.Equal(t, []string{"t1", "t2"}, info.BroadcastingTrackIDs)
	assert.Equal(t, StatusBroadcasting, info.Status)
}

func TestRemoveBroadcastingTracksRecomputesStatus(t *testing.T) {
	info := NewBroadcastInfo()
	info.AddBroadcastingTrack("t1")
	info.AddBroadcastingTrack("t2")

	info.RemoveBroadcastingTracks([]string{"t1"})
	assert.Equal(t, []string{"t2"}, info.BroadcastingTrackIDs)
	assert.Equal(t, StatusBroadcasting, info.Status)

	info.RemoveBroadcastingTracks([]string{"t2", "unknown"})
	assert.Empty(t, info.BroadcastingTrackIDs)
	assert.Equal(t, StatusReady, info.Status)
}

func TestFilterDeclaredTracks(t *testing.T) {
	tracks := []TrackDescriptor{
		{TrackID: "t1", Type: TrackCamera},
		{TrackID: "t2", Type: TrackMicrophone},
	}

	assert.Equal(t, []string{"t2", "t1"}, FilterDeclaredTracks(tracks, []string{"t2", "missing", "t1"}))
	assert.Empty(t, FilterDeclaredTracks(tracks, []string{"nope"}))
}

func TestLogicErrorMessage(t *testing.T) {
	err := NewLogicError(BroadcastMediaRoomRequiredTrackMissing)
	assert.Equal(t, "logic error 200003: requested broadcast track is missing", err.Error())

	assert.Equal(t, Message(SystemError), Message(ErrCode(424242)))
}
