package domain

// PendingRequest is one unapproved join attempt waiting in a room's queue.
type PendingRequest struct {
	ConnID ConnID `json:"connectionId"`
	UserID UserID `json:"userId"`
	RoomID RoomID `json:"roomId"`
}
