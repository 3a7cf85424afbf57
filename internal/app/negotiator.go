package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fundmentor/signaling/internal/core"
	"github.com/fundmentor/signaling/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	cmdBuffer     = 256
	lookupTimeout = 5 * time.Second
)

// Negotiator is the session negotiation state machine. One goroutine (Run)
// owns the registry, membership index and pending queue and drains the
// command channel; every transition runs to completion before the next one
// starts, so the indices carry no locks. The only suspension point is the
// project-owner lookup, which runs off-loop and re-enters through a resolved
// command that re-validates the connection still exists.
type Negotiator struct {
	reg     *Registry
	rooms   *Rooms
	pending *PendingQueue
	dir     core.ProjectDirectory

	// owners caches the resolved owner of each active room so approvals
	// decide in-loop, which keeps sequential approvals ordered. Every join
	// re-resolves and overwrites; the entry is dropped when the room
	// reverts to empty.
	owners map[domain.RoomID]domain.UserID

	cmds    chan command
	stopped chan struct{}
}

func NewNegotiator(dir core.ProjectDirectory) *Negotiator {
	return &Negotiator{
		reg:     NewRegistry(),
		rooms:   NewRooms(),
		pending: NewPendingQueue(),
		dir:     dir,
		owners:  make(map[domain.RoomID]domain.UserID),
		cmds:    make(chan command, cmdBuffer),
		stopped: make(chan struct{}),
	}
}

type command interface{ isCommand() }

type connectCmd struct {
	conn domain.ConnID
	user domain.UserID
	sig  core.SignalConn
}

type joinCmd struct {
	conn domain.ConnID
	room domain.RoomID
}

// joinResolvedCmd re-enters the loop once the owner lookup for a join has
// completed.
type joinResolvedCmd struct {
	conn  domain.ConnID
	room  domain.RoomID
	owner domain.UserID
	err   error
}

type approveCmd struct {
	conn domain.ConnID
	req  core.ApproveRequest
}

type approveResolvedCmd struct {
	conn  domain.ConnID
	req   core.ApproveRequest
	owner domain.UserID
	err   error
}

type relayCmd struct {
	conn    domain.ConnID
	kind    core.RelayKind
	room    domain.RoomID // explicit room id, chat only
	payload json.RawMessage
}

type disconnectCmd struct {
	conn domain.ConnID
}

type overviewCmd struct {
	reply chan []RoomOverview
}

type detailCmd struct {
	room  domain.RoomID
	reply chan roomDetailReply
}

func (connectCmd) isCommand()         {}
func (joinCmd) isCommand()            {}
func (joinResolvedCmd) isCommand()    {}
func (approveCmd) isCommand()         {}
func (approveResolvedCmd) isCommand() {}
func (relayCmd) isCommand()           {}
func (disconnectCmd) isCommand()      {}
func (overviewCmd) isCommand()        {}
func (detailCmd) isCommand()          {}

// Run drains the command channel until ctx is canceled. It must be running
// before any connection is accepted.
func (n *Negotiator) Run(ctx context.Context) {
	defer close(n.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-n.cmds:
			n.handle(ctx, c)
		}
	}
}

func (n *Negotiator) post(c command) {
	select {
	case n.cmds <- c:
	case <-n.stopped:
	}
}

func (n *Negotiator) handle(ctx context.Context, c command) {
	switch c := c.(type) {
	case connectCmd:
		n.reg.Register(c.conn, c.user, c.sig)
	case joinCmd:
		n.handleJoin(ctx, c)
	case joinResolvedCmd:
		n.handleJoinResolved(c)
	case approveCmd:
		n.handleApprove(ctx, c)
	case approveResolvedCmd:
		n.handleApproveResolved(c)
	case relayCmd:
		n.handleRelay(c)
	case disconnectCmd:
		n.handleDisconnect(c.conn)
	case overviewCmd:
		c.reply <- n.overview()
	case detailCmd:
		c.reply <- n.roomDetail(c.room)
	}
}

// --- inbound surface, called from transport adapters ---

func (n *Negotiator) Connect(conn domain.ConnID, user domain.UserID, sig core.SignalConn) {
	n.post(connectCmd{conn: conn, user: user, sig: sig})
}

func (n *Negotiator) Join(conn domain.ConnID, room domain.RoomID) {
	n.post(joinCmd{conn: conn, room: room})
}

func (n *Negotiator) Approve(conn domain.ConnID, req core.ApproveRequest) {
	n.post(approveCmd{conn: conn, req: req})
}

func (n *Negotiator) Relay(conn domain.ConnID, kind core.RelayKind, room domain.RoomID, payload json.RawMessage) {
	n.post(relayCmd{conn: conn, kind: kind, room: room, payload: payload})
}

func (n *Negotiator) Disconnect(conn domain.ConnID) {
	n.post(disconnectCmd{conn: conn})
}

// --- transitions ---

func (n *Negotiator) handleJoin(ctx context.Context, c joinCmd) {
	if _, ok := n.reg.Lookup(c.conn); !ok {
		return
	}
	go func() {
		lctx, cancel := context.WithTimeout(ctx, lookupTimeout)
		defer cancel()
		owner, err := n.dir.Owner(lctx, c.room)
		n.post(joinResolvedCmd{conn: c.conn, room: c.room, owner: owner, err: err})
	}()
}

func (n *Negotiator) handleJoinResolved(c joinResolvedCmd) {
	// The lookup was in flight; the requester may be gone by now.
	entry, ok := n.reg.Lookup(c.conn)
	if !ok {
		return
	}
	if c.err != nil {
		if errors.Is(c.err, core.ErrProjectNotFound) {
			// Nothing valid to keep the connection open for.
			n.send(entry.Sig, core.ErrorEvent{Reason: "project not found"})
			entry.Sig.Close()
			return
		}
		log.Error().Err(c.err).Str("module", "app.negotiator").Str("room", string(c.room)).Msg("owner lookup failed")
		n.send(entry.Sig, core.ErrorEvent{Reason: "owner lookup failed"})
		return
	}
	n.owners[c.room] = c.owner

	// A second join while admitted elsewhere moves the connection: the old
	// room is torn down for it first, like a disconnect scoped to the room.
	if entry.Room != "" && entry.Room != c.room {
		n.leaveRoom(c.conn, entry)
	}

	if entry.UserID == c.owner {
		n.admitOwner(c.conn, entry, c.room)
		return
	}
	n.enqueueMentor(c.conn, entry, c.room, c.owner)
}

func (n *Negotiator) admitOwner(conn domain.ConnID, entry *ConnEntry, room domain.RoomID) {
	if !n.rooms.IsMember(room, conn) && !n.rooms.Add(room, conn) {
		n.send(entry.Sig, core.RoomFull{RoomID: room})
		entry.Sig.Close()
		return
	}
	entry.Room = room
	n.send(entry.Sig, core.UserReady{RoomID: room})
	log.Info().Str("module", "app.negotiator").Str("room", string(room)).Str("conn", string(conn)).Msg("owner admitted")

	// An owner reconnecting after requests already queued gets the full list
	// so its client can render them.
	if pend := n.pending.List(room); len(pend) > 0 {
		n.send(entry.Sig, core.MentorPendingList{RoomID: room, Pending: pend})
	}
}

func (n *Negotiator) enqueueMentor(conn domain.ConnID, entry *ConnEntry, room domain.RoomID, owner domain.UserID) {
	// Never pending in a room it is already a member of.
	if n.rooms.IsMember(room, conn) {
		return
	}
	if n.rooms.MemberCount(room) >= RoomCapacity {
		n.send(entry.Sig, core.RoomFull{RoomID: room})
		entry.Sig.Close()
		return
	}
	n.pending.Enqueue(room, conn, entry.UserID)

	if _, ownerEntry, ok := n.reg.NewestConnOf(owner); ok {
		n.send(ownerEntry.Sig, core.MentorRequest{ConnID: conn, UserID: entry.UserID, RoomID: room})
		n.send(entry.Sig, core.WaitingForApproval{RoomID: room})
	} else {
		n.send(entry.Sig, core.WaitingForOwner{RoomID: room})
	}
	log.Info().Str("module", "app.negotiator").Str("room", string(room)).Str("conn", string(conn)).Str("user", string(entry.UserID)).Msg("mentor request queued")
}

func (n *Negotiator) handleApprove(ctx context.Context, c approveCmd) {
	if _, ok := n.reg.Lookup(c.conn); !ok {
		return
	}
	// Pending entries only exist for rooms some join already resolved, so
	// the cache hits on every real approval and the decision stays in-loop.
	// The lookup path remains for approvals against untouched rooms.
	if owner, ok := n.owners[c.req.RoomID]; ok {
		n.decideApproval(c.conn, c.req, owner)
		return
	}
	go func() {
		lctx, cancel := context.WithTimeout(ctx, lookupTimeout)
		defer cancel()
		owner, err := n.dir.Owner(lctx, c.req.RoomID)
		n.post(approveResolvedCmd{conn: c.conn, req: c.req, owner: owner, err: err})
	}()
}

func (n *Negotiator) handleApproveResolved(c approveResolvedCmd) {
	approver, ok := n.reg.Lookup(c.conn)
	if !ok {
		return
	}
	if c.err != nil {
		if errors.Is(c.err, core.ErrProjectNotFound) {
			n.send(approver.Sig, core.ErrorEvent{Reason: "project not found"})
			return
		}
		log.Error().Err(c.err).Str("module", "app.negotiator").Str("room", string(c.req.RoomID)).Msg("owner lookup failed")
		n.send(approver.Sig, core.ErrorEvent{Reason: "owner lookup failed"})
		return
	}
	n.decideApproval(c.conn, c.req, c.owner)
}

func (n *Negotiator) decideApproval(conn domain.ConnID, req core.ApproveRequest, owner domain.UserID) {
	approver, ok := n.reg.Lookup(conn)
	if !ok {
		return
	}
	// Fails closed: only the room owner can decide.
	if approver.UserID != owner {
		n.send(approver.Sig, core.ErrorEvent{Reason: "not the room owner"})
		return
	}

	room := req.RoomID
	if _, ok := n.pending.Dequeue(room, req.Target); !ok {
		// Requester already withdrew or disconnected; nothing to decide.
		return
	}
	target, ok := n.reg.Lookup(req.Target)
	if !ok {
		n.send(approver.Sig, core.ErrorEvent{Reason: "mentor already disconnected"})
		return
	}

	if !req.Approve {
		n.send(target.Sig, core.MentorRejected{RoomID: room})
		target.Sig.Close()
		n.maybeForget(room)
		log.Info().Str("module", "app.negotiator").Str("room", string(room)).Str("conn", string(req.Target)).Msg("mentor rejected")
		return
	}

	// The room may have filled between enqueue and approval.
	if !n.rooms.Add(room, req.Target) {
		n.send(target.Sig, core.RoomFull{RoomID: room})
		target.Sig.Close()
		return
	}
	target.Room = room
	n.send(target.Sig, core.MentorApproved{RoomID: room, OwnerID: owner})

	notified := false
	for _, member := range n.rooms.Members(room) {
		if member == req.Target {
			continue
		}
		if e, ok := n.reg.Lookup(member); ok {
			n.send(e.Sig, core.UserJoined{ConnID: req.Target})
			if member == conn {
				notified = true
			}
		}
	}
	// An approver managing the room from outside it still learns the peer
	// is ready.
	if !notified {
		n.send(approver.Sig, core.UserJoined{ConnID: req.Target})
	}
	log.Info().Str("module", "app.negotiator").Str("room", string(room)).Str("conn", string(req.Target)).Msg("mentor admitted")
}

func (n *Negotiator) handleRelay(c relayCmd) {
	entry, ok := n.reg.Lookup(c.conn)
	if !ok || entry.Room == "" {
		// Message arrived after a disconnect already in flight.
		return
	}
	room := entry.Room
	if c.kind == core.RelayChat {
		// Chat carries its room id explicitly; the sender's cached room may
		// be briefly stale, the explicit one wins.
		if c.room == "" {
			return
		}
		room = c.room
	}
	sent := 0
	for _, member := range n.rooms.Members(room) {
		if member == c.conn {
			continue
		}
		if e, ok := n.reg.Lookup(member); ok {
			n.send(e.Sig, core.RelayedFrame{Kind: c.kind, Payload: c.payload})
			sent++
		}
	}
	log.Debug().Str("module", "app.negotiator").Str("room", string(room)).Str("kind", string(c.kind)).Int("sent_to", sent).Msg("relayed")
}

// handleDisconnect is idempotent cleanup, not a gated transition: all steps
// run regardless of which state the connection was in.
func (n *Negotiator) handleDisconnect(conn domain.ConnID) {
	affected := n.pending.RemoveAllFor(conn)
	if entry, ok := n.reg.Lookup(conn); ok {
		n.leaveRoom(conn, entry)
	}
	n.reg.Unregister(conn)
	for _, room := range affected {
		n.maybeForget(room)
	}
}

// leaveRoom removes the connection from its room and tells the remaining
// member its partner left.
func (n *Negotiator) leaveRoom(conn domain.ConnID, entry *ConnEntry) {
	room := n.rooms.Remove(conn)
	entry.Room = ""
	if room == "" {
		return
	}
	for _, member := range n.rooms.Members(room) {
		if e, ok := n.reg.Lookup(member); ok {
			n.send(e.Sig, core.PartnerLeft{RoomID: room})
		}
	}
	n.maybeForget(room)
}

// maybeForget drops the cached owner of a room that reverted to empty.
func (n *Negotiator) maybeForget(room domain.RoomID) {
	if n.rooms.MemberCount(room) == 0 && n.pending.Len(room) == 0 {
		delete(n.owners, room)
	}
}

func (n *Negotiator) send(sig core.SignalConn, ev core.Outbound) {
	f, err := core.Encode(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "app.negotiator").Str("event", ev.Event()).Msg("encode failed")
		return
	}
	if err := sig.TrySend(f); err != nil {
		log.Debug().Err(err).Str("module", "app.negotiator").Str("event", ev.Event()).Msg("send dropped")
	}
}
