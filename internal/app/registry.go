package app

import (
	"github.com/fundmentor/signaling/internal/core"
	"github.com/fundmentor/signaling/internal/domain"
	"github.com/rs/zerolog/log"
)

// ConnEntry is the registry's record of one live connection. UserID is set
// once at connect time and immutable after that; Room is the single room the
// connection has been admitted into, empty while not admitted.
type ConnEntry struct {
	UserID domain.UserID
	Sig    core.SignalConn
	Room   domain.RoomID

	seq uint64
}

// Registry owns the connId -> identity mapping. It is only ever touched by
// the negotiator goroutine, so it carries no lock.
type Registry struct {
	conns map[domain.ConnID]*ConnEntry
	seq   uint64
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[domain.ConnID]*ConnEntry)}
}

func (r *Registry) Register(conn domain.ConnID, user domain.UserID, sig core.SignalConn) {
	r.seq++
	r.conns[conn] = &ConnEntry{UserID: user, Sig: sig, seq: r.seq}
	log.Info().Str("module", "app.registry").Str("conn", string(conn)).Str("user", string(user)).Msg("connection registered")
}

func (r *Registry) Lookup(conn domain.ConnID) (*ConnEntry, bool) {
	e, ok := r.conns[conn]
	return e, ok
}

// Unregister of an unknown id is a no-op.
func (r *Registry) Unregister(conn domain.ConnID) {
	if _, ok := r.conns[conn]; !ok {
		return
	}
	delete(r.conns, conn)
	log.Info().Str("module", "app.registry").Str("conn", string(conn)).Msg("connection unregistered")
}

// NewestConnOf returns the most recently registered live connection claiming
// the given identity. When an owner is logged in from several tabs, the
// newest one receives mentor requests (most-recently-connected wins).
func (r *Registry) NewestConnOf(user domain.UserID) (domain.ConnID, *ConnEntry, bool) {
	var (
		bestID    domain.ConnID
		bestEntry *ConnEntry
	)
	for id, e := range r.conns {
		if e.UserID != user {
			continue
		}
		if bestEntry == nil || e.seq > bestEntry.seq {
			bestID, bestEntry = id, e
		}
	}
	return bestID, bestEntry, bestEntry != nil
}

func (r *Registry) Len() int { return len(r.conns) }
