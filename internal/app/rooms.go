package app

import (
	"github.com/fundmentor/signaling/internal/domain"
	"github.com/rs/zerolog/log"
)

// RoomCapacity is the hard cap on members per room: the project owner plus
// one approved mentor.
const RoomCapacity = 2

// Rooms is the membership index. Rooms exist implicitly: a room is the set
// of connections currently joined under its id. The reverse map keeps
// disconnect cleanup O(1). Only the negotiator goroutine touches it.
type Rooms struct {
	members map[domain.RoomID][]domain.ConnID
	roomOf  map[domain.ConnID]domain.RoomID
}

func NewRooms() *Rooms {
	return &Rooms{
		members: make(map[domain.RoomID][]domain.ConnID),
		roomOf:  make(map[domain.ConnID]domain.RoomID),
	}
}

func (r *Rooms) MemberCount(room domain.RoomID) int {
	return len(r.members[room])
}

func (r *Rooms) IsMember(room domain.RoomID, conn domain.ConnID) bool {
	return r.roomOf[conn] == room
}

// Add admits a connection into a room. It reports false when the room is
// already at capacity. A connection that is still a member of another room
// must be removed from it first.
func (r *Rooms) Add(room domain.RoomID, conn domain.ConnID) bool {
	if len(r.members[room]) >= RoomCapacity {
		return false
	}
	r.members[room] = append(r.members[room], conn)
	r.roomOf[conn] = room
	log.Info().Str("module", "app.rooms").Str("room", string(room)).Str("conn", string(conn)).Msg("member added")
	return true
}

// Remove takes the connection out of whichever room it belongs to and
// returns that room id for cleanup cascades; empty if it was in none.
func (r *Rooms) Remove(conn domain.ConnID) domain.RoomID {
	room, ok := r.roomOf[conn]
	if !ok {
		return ""
	}
	delete(r.roomOf, conn)
	ms := r.members[room]
	for i, id := range ms {
		if id == conn {
			r.members[room] = append(ms[:i], ms[i+1:]...)
			break
		}
	}
	if len(r.members[room]) == 0 {
		delete(r.members, room)
	}
	log.Info().Str("module", "app.rooms").Str("room", string(room)).Str("conn", string(conn)).Msg("member removed")
	return room
}

// Members returns a copy of the room's member list.
func (r *Rooms) Members(room domain.RoomID) []domain.ConnID {
	ms := r.members[room]
	out := make([]domain.ConnID, len(ms))
	copy(out, ms)
	return out
}

// List returns the ids of all rooms that currently have members.
func (r *Rooms) List() []domain.RoomID {
	out := make([]domain.RoomID, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	return out
}
