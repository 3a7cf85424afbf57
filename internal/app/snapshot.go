package app

import (
	"context"
	"sort"

	"github.com/fundmentor/signaling/internal/domain"
)

// RoomOverview is a read-only view of one room for the introspection API.
type RoomOverview struct {
	RoomID       domain.RoomID `json:"roomId"`
	MemberCount  int           `json:"memberCount"`
	PendingCount int           `json:"pendingCount"`
}

// MemberInfo pairs a member connection with its claimed identity.
type MemberInfo struct {
	ConnID domain.ConnID `json:"connectionId"`
	UserID domain.UserID `json:"userId"`
}

// RoomDetail is the full read-only state of one room.
type RoomDetail struct {
	RoomID  domain.RoomID           `json:"roomId"`
	Members []MemberInfo            `json:"members"`
	Pending []domain.PendingRequest `json:"pending"`
}

type roomDetailReply struct {
	detail RoomDetail
	found  bool
}

// Overview lists every room that has members or waiting requests. The read
// goes through the command channel, so it observes a consistent snapshot.
func (n *Negotiator) Overview(ctx context.Context) []RoomOverview {
	reply := make(chan []RoomOverview, 1)
	n.post(overviewCmd{reply: reply})
	select {
	case out := <-reply:
		return out
	case <-ctx.Done():
		return nil
	case <-n.stopped:
		return nil
	}
}

// RoomDetail returns one room's members and ordered pending list; found is
// false when the room has neither.
func (n *Negotiator) RoomDetail(ctx context.Context, room domain.RoomID) (RoomDetail, bool) {
	reply := make(chan roomDetailReply, 1)
	n.post(detailCmd{room: room, reply: reply})
	select {
	case r := <-reply:
		return r.detail, r.found
	case <-ctx.Done():
		return RoomDetail{}, false
	case <-n.stopped:
		return RoomDetail{}, false
	}
}

func (n *Negotiator) overview() []RoomOverview {
	seen := make(map[domain.RoomID]struct{})
	out := make([]RoomOverview, 0)
	add := func(room domain.RoomID) {
		if _, ok := seen[room]; ok {
			return
		}
		seen[room] = struct{}{}
		out = append(out, RoomOverview{
			RoomID:       room,
			MemberCount:  n.rooms.MemberCount(room),
			PendingCount: n.pending.Len(room),
		})
	}
	for _, room := range n.rooms.List() {
		add(room)
	}
	for _, room := range n.pending.Rooms() {
		add(room)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

func (n *Negotiator) roomDetail(room domain.RoomID) roomDetailReply {
	members := n.rooms.Members(room)
	pend := n.pending.List(room)
	if len(members) == 0 && len(pend) == 0 {
		return roomDetailReply{}
	}
	detail := RoomDetail{RoomID: room, Members: make([]MemberInfo, 0, len(members)), Pending: pend}
	for _, conn := range members {
		info := MemberInfo{ConnID: conn}
		if e, ok := n.reg.Lookup(conn); ok {
			info.UserID = e.UserID
		}
		detail.Members = append(detail.Members, info)
	}
	return roomDetailReply{detail: detail, found: true}
}
