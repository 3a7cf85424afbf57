// Package domain contains entities without logic, just meta-data.
package domain

type (
	// ConnID is the transport-assigned id of a live connection.
	ConnID string

	// UserID is the platform identity claimed at connect time.
	UserID string

	// RoomID equals the id of the project the room backs. Rooms are
	// implicit: the set of connections currently joined under this id.
	RoomID string
)

// Unauthenticated is the sentinel identity for connections that presented
// no token at handshake. Ownership checks never match it.
const Unauthenticated UserID = "UNAUTHENTICATED"
