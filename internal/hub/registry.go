package hub

import "sync"

func broadcastRoomKey(alias, userID string) string {
	return alias + ":" + userID
}

func shotRoomKey(alias string) string {
	return "shot:" + alias
}

// Registry is the in-memory map from room key to Room. Structural
// mutation of the map itself is guarded here; mutation inside a room
// is guarded by the room's own lock.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

func (r *Registry) Get(key string) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[key]
}

func (r *Registry) GetOrCreate(key string) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[key]
	if !ok {
		room = newRoom(key)
		r.rooms[key] = room
	}
	return room
}

// Teardown removes the room and closes every owned producer and
// transport. Safe to call for an absent or already-closed room.
func (r *Registry) Teardown(key string) {
	r.mu.Lock()
	room, ok := r.rooms[key]
	delete(r.rooms, key)
	r.mu.Unlock()

	if !ok {
		return
	}

	room.Lock()
	room.Close()
	room.Unlock()
}
