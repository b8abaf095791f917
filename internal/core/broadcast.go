package core

// TrackType classifies a declared track. Broadcaster sources declare
// screen/camera/microphone, shot sources declare plain video/audio.
type TrackType string

const (
	TrackScreen     TrackType = "screen"
	TrackCamera     TrackType = "camera"
	TrackMicrophone TrackType = "microphone"
	TrackVideo      TrackType = "video"
	TrackAudio      TrackType = "audio"
)

type BroadcastStatus string

const (
	StatusReady        BroadcastStatus = "ready"
	StatusBroadcasting BroadcastStatus = "broadcasting"
)

// TrackDescriptor is one declared media track of a broadcast source.
type TrackDescriptor struct {
	TrackID string    `json:"trackId"`
	Type    TrackType `json:"type"`
}

// BroadcastInfo is the live part of a source's stored state:
// status is derived, broadcasting iff any track id is live.
type BroadcastInfo struct {
	Status               BroadcastStatus `json:"status"`
	BroadcastingTrackIDs []string        `json:"broadcastingTrackIds"`
}

func NewBroadcastInfo() *BroadcastInfo {
	return &BroadcastInfo{
		Status:               StatusReady,
		BroadcastingTrackIDs: []string{},
	}
}

// AddBroadcastingTrack appends a track id and recomputes status.
// Repeated calls for the same id are no-ops, the set never holds
// duplicates.
func (i *BroadcastInfo) AddBroadcastingTrack(trackID string) bool {
	for _, id := range i.BroadcastingTrackIDs {
		if id == trackID {
			return false
		}
	}
	i.BroadcastingTrackIDs = append(i.BroadcastingTrackIDs, trackID)
	i.recomputeStatus()
	return true
}

// RemoveBroadcastingTracks drops the listed ids and recomputes status.
func (i *BroadcastInfo) RemoveBroadcastingTracks(trackIDs []string) {
	drop := make(map[string]struct{}, len(trackIDs))
	for _, id := range trackIDs {
		drop[id] = struct{}{}
	}

	kept := i.BroadcastingTrackIDs[:0]
	for _, id := range i.BroadcastingTrackIDs {
		if _, ok := drop[id]; !ok {
			kept = append(kept, id)
		}
	}
	i.BroadcastingTrackIDs = kept
	i.recomputeStatus()
}

func (i *BroadcastInfo) recomputeStatus() {
	if len(i.BroadcastingTrackIDs) > 0 {
		i.Status = StatusBroadcasting
	} else {
		i.Status = StatusReady
	}
}

// BroadcastState is the combined stored view of one source: its live
// info plus the declared track list.
type BroadcastState struct {
	Status               BroadcastStatus   `json:"status"`
	Tracks               []TrackDescriptor `json:"tracks"`
	BroadcastingTrackIDs []string          `json:"broadcastingTrackIds"`
}

func NewBroadcastState(tracks []TrackDescriptor) *BroadcastState {
	return &BroadcastState{
		Status:               StatusReady,
		Tracks:               tracks,
		BroadcastingTrackIDs: []string{},
	}
}

// AddBroadcastingTrack mirrors BroadcastInfo.AddBroadcastingTrack.
func (s *BroadcastState) AddBroadcastingTrack(trackID string) bool {
	info := BroadcastInfo{Status: s.Status, BroadcastingTrackIDs: s.BroadcastingTrackIDs}
	added := info.AddBroadcastingTrack(trackID)
	s.Status = info.Status
	s.BroadcastingTrackIDs = info.BroadcastingTrackIDs
	return added
}

// RemoveBroadcastingTracks mirrors BroadcastInfo.RemoveBroadcastingTracks.
func (s *BroadcastState) RemoveBroadcastingTracks(trackIDs []string) {
	info := BroadcastInfo{Status: s.Status, BroadcastingTrackIDs: s.BroadcastingTrackIDs}
	info.RemoveBroadcastingTracks(trackIDs)
	s.Status = info.Status
	s.BroadcastingTrackIDs = info.BroadcastingTrackIDs
}

// Clone returns a deep copy sharing no backing arrays with s.
func (s *BroadcastState) Clone() *BroadcastState {
	clone := *s
	if s.Tracks != nil {
		clone.Tracks = make([]TrackDescriptor, len(s.Tracks))
		copy(clone.Tracks, s.Tracks)
	}
	if s.BroadcastingTrackIDs != nil {
		clone.BroadcastingTrackIDs = make([]string, len(s.BroadcastingTrackIDs))
		copy(clone.BroadcastingTrackIDs, s.BroadcastingTrackIDs)
	}
	return &clone
}

// DeclaredTrack reports whether trackID is in the declared track list.
func DeclaredTrack(tracks []TrackDescriptor, trackID string) bool {
	for _, t := range tracks {
		if t.TrackID == trackID {
			return true
		}
	}
	return false
}

// FilterDeclaredTracks keeps only the requested ids that appear in the
// declared track list, preserving request order.
func FilterDeclaredTracks(tracks []TrackDescriptor, trackIDs []string) []string {
	available := make([]string, 0, len(trackIDs))
	for _, id := range trackIDs {
		if DeclaredTrack(tracks, id) {
			available = append(available, id)
		}
	}
	return available
}
