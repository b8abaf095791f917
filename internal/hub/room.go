package hub

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/rankland/broadcast-hub/internal/core"
	"github.com/rankland/broadcast-hub/internal/rtcengine"
)

// Peer is one participant's media-plane state. The peer exclusively
// owns its transport and, for producing roles, its producers; closing
// the peer closes all of them and double-close is a no-op.
type Peer struct {
	ID        string
	Role      core.Role
	Transport rtcengine.Transport

	producers map[string]rtcengine.Producer
	closed    bool
}

func newPeer(id string, role core.Role, transport rtcengine.Transport) *Peer {
	return &Peer{
		ID:        id,
		Role:      role,
		Transport: transport,
		producers: make(map[string]rtcengine.Producer),
	}
}

func (p *Peer) AddProducer(trackID string, producer rtcengine.Producer) {
	p.producers[trackID] = producer
}

func (p *Peer) Producer(trackID string) rtcengine.Producer {
	return p.producers[trackID]
}

func (p *Peer) HasProducer(trackID string) bool {
	_, ok := p.producers[trackID]
	return ok
}

// CloseProducers closes and drops the producers for the listed tracks.
// Ids without a producer are skipped.
func (p *Peer) CloseProducers(trackIDs []string) {
	for _, trackID := range trackIDs {
		producer, ok := p.producers[trackID]
		if !ok {
			continue
		}
		if err := producer.Close(); err != nil {
			log.Warn().Err(err).Str("service", "hub").Str("trackID", trackID).Msg("close producer")
		}
		delete(p.producers, trackID)
	}
}

func (p *Peer) Close() {
	if p.closed {
		return
	}
	p.closed = true

	for trackID, producer := range p.producers {
		if err := producer.Close(); err != nil {
			log.Warn().Err(err).Str("service", "hub").Str("trackID", trackID).Msg("close producer")
		}
		delete(p.producers, trackID)
	}
	if err := p.Transport.Close(); err != nil {
		log.Warn().Err(err).Str("service", "hub").Str("peerID", p.ID).Msg("close transport")
	}
}

// Room aggregates all live connections for one broadcast source.
// Peers are stored in the one owning map; the producing side is
// referenced by key only, so teardown never double-closes.
//
// Handlers acquire mu around every structural mutation; events for
// different rooms interleave freely.
type Room struct {
	Key string

	mu      sync.Mutex
	peers   map[string]*Peer
	viewers map[string]struct{}

	// broadcasterID keys the single producing peer of a broadcaster
	// room; shots maps shotID to peer id for a shot room. A room uses
	// one or the other, never both.
	broadcasterID string
	shots         map[string]string

	closed bool
}

func newRoom(key string) *Room {
	return &Room{
		Key:     key,
		peers:   make(map[string]*Peer),
		viewers: make(map[string]struct{}),
		shots:   make(map[string]string),
	}
}

func (r *Room) Lock()   { r.mu.Lock() }
func (r *Room) Unlock() { r.mu.Unlock() }

func (r *Room) Peer(id string) *Peer {
	return r.peers[id]
}

// SetBroadcaster registers peer as the room's producing peer. Any
// earlier broadcaster peer being replaced is closed first, including
// one the same connection registered on a previous confirm.
func (r *Room) SetBroadcaster(peer *Peer) {
	if r.broadcasterID != "" {
		if old := r.peers[r.broadcasterID]; old != nil && old != peer {
			old.Close()
			delete(r.peers, r.broadcasterID)
		}
	}
	r.peers[peer.ID] = peer
	r.broadcasterID = peer.ID
}

// Broadcaster resolves the producing peer, nil when absent.
func (r *Room) Broadcaster() *Peer {
	if r.broadcasterID == "" {
		return nil
	}
	return r.peers[r.broadcasterID]
}

// SetShot registers peer as the producing peer for shotID. An earlier
// peer for the same shot is closed first, even when the same
// connection re-confirms.
func (r *Room) SetShot(shotID string, peer *Peer) {
	if oldID, ok := r.shots[shotID]; ok {
		if old := r.peers[oldID]; old != nil && old != peer {
			old.Close()
			delete(r.peers, oldID)
		}
	}
	r.peers[peer.ID] = peer
	r.shots[shotID] = peer.ID
}

// Shot resolves the producing peer for shotID, nil when absent.
func (r *Room) Shot(shotID string) *Peer {
	peerID, ok := r.shots[shotID]
	if !ok {
		return nil
	}
	return r.peers[peerID]
}

// RemoveShot closes and removes the producing peer for shotID,
// leaving other shots and viewers untouched.
func (r *Room) RemoveShot(shotID string) {
	peerID, ok := r.shots[shotID]
	if !ok {
		return
	}
	delete(r.shots, shotID)
	if peer := r.peers[peerID]; peer != nil {
		peer.Close()
		delete(r.peers, peerID)
	}
}

func (r *Room) AddViewer(peer *Peer) {
	r.peers[peer.ID] = peer
	r.viewers[peer.ID] = struct{}{}
}

// RemovePeer closes and removes one peer. Removing the producing peer
// of a broadcaster room clears the broadcaster reference too.
func (r *Room) RemovePeer(id string) {
	peer, ok := r.peers[id]
	if !ok {
		return
	}
	peer.Close()
	delete(r.peers, id)
	delete(r.viewers, id)
	if r.broadcasterID == id {
		r.broadcasterID = ""
	}
	for shotID, peerID := range r.shots {
		if peerID == id {
			delete(r.shots, shotID)
		}
	}
}

// Close tears the room down: producers close before transports so the
// routing engine never routes from a dangling producer. Idempotent.
func (r *Room) Close() {
	if r.closed {
		return
	}
	r.closed = true

	for _, peer := range r.peers {
		peer.Close()
	}
	r.peers = make(map[string]*Peer)
	r.viewers = make(map[string]struct{})
	r.shots = make(map[string]string)
	r.broadcasterID = ""
}
