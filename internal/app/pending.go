package app

import (
	"github.com/fundmentor/signaling/internal/domain"
	"github.com/rs/zerolog/log"
)

// PendingQueue holds, per room, the FIFO queue of unapproved join attempts.
// Ordering is arrival order; approval is explicit and targeted by connection
// id, so nothing is ever popped automatically. Only the negotiator goroutine
// touches it.
type PendingQueue struct {
	queues map[domain.RoomID][]domain.PendingRequest
}

func NewPendingQueue() *PendingQueue {
	return &PendingQueue{queues: make(map[domain.RoomID][]domain.PendingRequest)}
}

// Enqueue appends a request to the room's queue. Any earlier entry for the
// same connection, in any room, is removed first so a connection is pending
// at most once.
func (q *PendingQueue) Enqueue(room domain.RoomID, conn domain.ConnID, user domain.UserID) {
	q.RemoveAllFor(conn)
	q.queues[room] = append(q.queues[room], domain.PendingRequest{ConnID: conn, UserID: user, RoomID: room})
	log.Info().Str("module", "app.pending").Str("room", string(room)).Str("conn", string(conn)).Msg("request enqueued")
}

// Dequeue removes and returns the entry for the given connection, if any.
func (q *PendingQueue) Dequeue(room domain.RoomID, conn domain.ConnID) (domain.PendingRequest, bool) {
	for i, pr := range q.queues[room] {
		if pr.ConnID == conn {
			q.queues[room] = append(q.queues[room][:i], q.queues[room][i+1:]...)
			if len(q.queues[room]) == 0 {
				delete(q.queues, room)
			}
			return pr, true
		}
	}
	return domain.PendingRequest{}, false
}

// List returns the room's queue in arrival order.
func (q *PendingQueue) List(room domain.RoomID) []domain.PendingRequest {
	prs := q.queues[room]
	out := make([]domain.PendingRequest, len(prs))
	copy(out, prs)
	return out
}

func (q *PendingQueue) Len(room domain.RoomID) int {
	return len(q.queues[room])
}

// RemoveAllFor purges the connection from every room's queue and returns the
// rooms it was removed from. Used on disconnect; acceptable at this scale,
// the scan is over live rooms only.
func (q *PendingQueue) RemoveAllFor(conn domain.ConnID) []domain.RoomID {
	var affected []domain.RoomID
	for room, prs := range q.queues {
		kept := prs[:0]
		for _, pr := range prs {
			if pr.ConnID != conn {
				kept = append(kept, pr)
			}
		}
		if len(kept) == len(prs) {
			continue
		}
		affected = append(affected, room)
		if len(kept) == 0 {
			delete(q.queues, room)
		} else {
			q.queues[room] = kept
		}
	}
	return affected
}

// Rooms returns the ids of all rooms with waiting requests.
func (q *PendingQueue) Rooms() []domain.RoomID {
	out := make([]domain.RoomID, 0, len(q.queues))
	for id := range q.queues {
		out = append(out, id)
	}
	return out
}
