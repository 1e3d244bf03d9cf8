// Package registry tracks which participants are joined to which rooms.
//
// Mutations are serialized per room. The room map lock is only held to look
// up, create or retire a room, so rooms never contend with each other.
// Members reads an immutable snapshot and takes no room lock.
package registry

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"
)

// RoomStat is a point-in-time view of one room
type RoomStat struct {
	ID      string
	Members int
}

type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room

	idxMu         sync.Mutex
	byParticipant map[string]map[string]struct{}
}

type room struct {
	id string

	mu      sync.Mutex
	members map[string]struct{}
	closed  bool // set once the room emptied and was retired from the map

	snapshot atomic.Pointer[[]string]
}

func New() *Registry {
	return &Registry{
		rooms:         make(map[string]*room),
		byParticipant: make(map[string]map[string]struct{}),
	}
}

// Join adds participantID to roomID and returns the other members observed at
// that moment. added is false when the participant was already a member.
func (r *Registry) Join(roomID, participantID string) (others []string, added bool) {
	for {
		rm := r.getOrCreate(roomID)
		rm.mu.Lock()
		if rm.closed {
			// Lost a race with the last member leaving; the room was retired.
			rm.mu.Unlock()
			r.retire(rm)
			continue
		}
		_, exists := rm.members[participantID]
		if !exists {
			rm.members[participantID] = struct{}{}
			rm.publish()
		}
		others = rm.othersLocked(participantID)
		rm.mu.Unlock()

		if !exists {
			r.index(participantID, roomID, true)
		}
		return others, !exists
	}
}

// Leave removes participantID from roomID. It reports whether the participant
// was a member.
func (r *Registry) Leave(roomID, participantID string) bool {
	r.mu.RLock()
	rm := r.rooms[roomID]
	r.mu.RUnlock()
	if rm == nil {
		return false
	}

	removed, emptied := rm.remove(participantID)
	if removed {
		r.index(participantID, roomID, false)
	}
	if emptied {
		r.retire(rm)
	}
	return removed
}

// Members returns a snapshot of the room's members, nil if the room is empty
func (r *Registry) Members(roomID string) []string {
	r.mu.RLock()
	rm := r.rooms[roomID]
	r.mu.RUnlock()
	if rm == nil {
		return nil
	}
	snap := rm.snapshot.Load()
	if snap == nil {
		return nil
	}
	return slices.Clone(*snap)
}

// DropAll removes participantID from every room it joined and returns those
// rooms. Used when a transport disconnects without leaving.
func (r *Registry) DropAll(participantID string) []string {
	r.idxMu.Lock()
	joined := r.byParticipant[participantID]
	delete(r.byParticipant, participantID)
	r.idxMu.Unlock()

	var left []string
	for _, roomID := range slices.Sorted(maps.Keys(joined)) {
		r.mu.RLock()
		rm := r.rooms[roomID]
		r.mu.RUnlock()
		if rm == nil {
			continue
		}
		removed, emptied := rm.remove(participantID)
		if removed {
			left = append(left, roomID)
		}
		if emptied {
			r.retire(rm)
		}
	}
	return left
}

// Rooms lists every live room sorted by id
func (r *Registry) Rooms() []RoomStat {
	r.mu.RLock()
	ids := slices.Sorted(maps.Keys(r.rooms))
	rooms := make([]*room, 0, len(ids))
	for _, id := range ids {
		rooms = append(rooms, r.rooms[id])
	}
	r.mu.RUnlock()

	stats := make([]RoomStat, 0, len(rooms))
	for _, rm := range rooms {
		if snap := rm.snapshot.Load(); snap != nil && len(*snap) > 0 {
			stats = append(stats, RoomStat{ID: rm.id, Members: len(*snap)})
		}
	}
	return stats
}

func (r *Registry) getOrCreate(roomID string) *room {
	r.mu.RLock()
	rm := r.rooms[roomID]
	r.mu.RUnlock()
	if rm != nil {
		return rm
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rm = r.rooms[roomID]; rm == nil {
		rm = &room{id: roomID, members: make(map[string]struct{})}
		r.rooms[roomID] = rm
	}
	return rm
}

func (r *Registry) retire(rm *room) {
	r.mu.Lock()
	if r.rooms[rm.id] == rm {
		delete(r.rooms, rm.id)
	}
	r.mu.Unlock()
}

func (r *Registry) index(participantID, roomID string, add bool) {
	r.idxMu.Lock()
	defer r.idxMu.Unlock()

	set := r.byParticipant[participantID]
	if add {
		if set == nil {
			set = make(map[string]struct{})
			r.byParticipant[participantID] = set
		}
		set[roomID] = struct{}{}
		return
	}
	delete(set, roomID)
	if len(set) == 0 {
		delete(r.byParticipant, participantID)
	}
}

func (rm *room) remove(participantID string) (removed, emptied bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, ok := rm.members[participantID]; !ok {
		return false, false
	}
	delete(rm.members, participantID)
	rm.publish()
	if len(rm.members) == 0 {
		rm.closed = true
		return true, true
	}
	return true, false
}

// publish must be called with rm.mu held
func (rm *room) publish() {
	snap := slices.Sorted(maps.Keys(rm.members))
	rm.snapshot.Store(&snap)
}

func (rm *room) othersLocked(participantID string) []string {
	others := make([]string, 0, len(rm.members))
	for id := range rm.members {
		if id != participantID {
			others = append(others, id)
		}
	}
	slices.Sort(others)
	return others
}
