package core

import (
	"context"
	"errors"

	"github.com/fundmentor/signaling/internal/domain"
)

// ErrProjectNotFound means the room id does not back any known project.
var ErrProjectNotFound = errors.New("project not found")

// ProjectDirectory resolves the owner of the project a room is backed by.
// Implementations may block (database lookup); callers must not hold
// negotiation state across the call.
type ProjectDirectory interface {
	Owner(ctx context.Context, room domain.RoomID) (domain.UserID, error)
}
