package core

import (
	"encoding/json"

	"github.com/fundmentor/signaling/internal/domain"
)

// Both directions share one envelope: {"event": "<name>", "data": {...}}.

// RelayKind enumerates the payload kinds forwarded verbatim between the two
// members of an established room.
type RelayKind string

const (
	RelayOffer  RelayKind = "offer"
	RelayAnswer RelayKind = "answer"
	RelayICE    RelayKind = "ice-candidate"
	RelayChat   RelayKind = "chat-message"
)

// Inbound event names.
const (
	EventJoinRoom      = "join-room"
	EventApproveMentor = "approve-mentor"
)

// JoinRoomRequest is the payload of a join-room event.
type JoinRoomRequest struct {
	RoomID domain.RoomID `json:"roomId"`
}

// ApproveRequest is the payload of an approve-mentor event. Only the room
// owner can make it effective.
type ApproveRequest struct {
	RoomID  domain.RoomID `json:"roomId"`
	Target  domain.ConnID `json:"targetConnectionId"`
	Approve bool          `json:"approve"`
}

// ChatEnvelope is decoded from chat-message payloads just far enough to read
// the explicit room id; the payload itself is relayed untouched.
type ChatEnvelope struct {
	RoomID domain.RoomID `json:"roomId"`
}

// Outbound is the closed set of server-to-client events.
type Outbound interface {
	Event() string
}

type UserReady struct {
	RoomID domain.RoomID `json:"roomId"`
}

type WaitingForApproval struct {
	RoomID domain.RoomID `json:"roomId"`
}

type WaitingForOwner struct {
	RoomID domain.RoomID `json:"roomId"`
}

type MentorRequest struct {
	ConnID domain.ConnID `json:"connectionId"`
	UserID domain.UserID `json:"userId"`
	RoomID domain.RoomID `json:"roomId"`
}

type MentorPendingList struct {
	RoomID  domain.RoomID           `json:"roomId"`
	Pending []domain.PendingRequest `json:"pending"`
}

type MentorApproved struct {
	RoomID  domain.RoomID `json:"roomId"`
	OwnerID domain.UserID `json:"ownerId"`
}

type MentorRejected struct {
	RoomID domain.RoomID `json:"roomId"`
}

type RoomFull struct {
	RoomID domain.RoomID `json:"roomId"`
}

type UserJoined struct {
	ConnID domain.ConnID `json:"connectionId"`
}

type PartnerLeft struct {
	RoomID domain.RoomID `json:"roomId"`
}

type ErrorEvent struct {
	Reason string `json:"reason"`
}

// RelayedFrame wraps an opaque payload for forwarding under its original
// event name.
type RelayedFrame struct {
	Kind    RelayKind
	Payload json.RawMessage
}

func (UserReady) Event() string          { return "user-ready" }
func (WaitingForApproval) Event() string { return "waiting-for-approval" }
func (WaitingForOwner) Event() string    { return "waiting-for-owner" }
func (MentorRequest) Event() string      { return "mentor-request" }
func (MentorPendingList) Event() string  { return "mentor-pending-list" }
func (MentorApproved) Event() string     { return "mentor-approved" }
func (MentorRejected) Event() string     { return "mentor-rejected" }
func (RoomFull) Event() string           { return "room-full" }
func (UserJoined) Event() string         { return "user-joined" }
func (PartnerLeft) Event() string        { return "partner-left" }
func (ErrorEvent) Event() string         { return "error" }
func (f RelayedFrame) Event() string     { return string(f.Kind) }

type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Encode wraps an outbound event into the wire envelope.
func Encode(ev Outbound) (Frame, error) {
	var data any = ev
	if f, ok := ev.(RelayedFrame); ok {
		data = f.Payload
	}
	b, err := json.Marshal(envelope{Event: ev.Event(), Data: data})
	if err != nil {
		return nil, err
	}
	return Frame(b), nil
}
