package app_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundmentor/signaling/internal/app"
	"github.com/fundmentor/signaling/internal/core"
	"github.com/fundmentor/signaling/internal/domain"
	"github.com/fundmentor/signaling/internal/projects"
)

const waitFor = 2 * time.Second

// fakeConn records everything the negotiator sends so tests can assert on
// the outbound event stream of a single connection.
type fakeConn struct {
	frames chan core.Frame

	mu     sync.Mutex
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan core.Frame, 64)}
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.frames <- f
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type wireEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// next returns the next outbound event on the connection, failing the test
// if none arrives in time.
func (c *fakeConn) next(t *testing.T) wireEvent {
	t.Helper()
	select {
	case f := <-c.frames:
		var ev wireEvent
		require.NoError(t, json.Unmarshal(f, &ev))
		return ev
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for outbound event")
		return wireEvent{}
	}
}

func (c *fakeConn) expect(t *testing.T, event string) wireEvent {
	t.Helper()
	ev := c.next(t)
	require.Equal(t, event, ev.Event)
	return ev
}

type harness struct {
	neg *app.Negotiator
	dir *projects.MemoryDirectory
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := projects.NewMemoryDirectory()
	neg := app.NewNegotiator(dir)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go neg.Run(ctx)
	return &harness{neg: neg, dir: dir}
}

func (h *harness) connect(conn domain.ConnID, user domain.UserID) *fakeConn {
	c := newFakeConn()
	h.neg.Connect(conn, user, c)
	return c
}

// settle waits until every previously posted command has been processed, by
// riding a snapshot query through the loop.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	h.neg.Overview(ctx)
}

func (h *harness) memberCount(t *testing.T, room domain.RoomID) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	detail, ok := h.neg.RoomDetail(ctx, room)
	if !ok {
		return 0
	}
	return len(detail.Members)
}

func (h *harness) pendingList(t *testing.T, room domain.RoomID) []domain.PendingRequest {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	detail, ok := h.neg.RoomDetail(ctx, room)
	if !ok {
		return nil
	}
	return detail.Pending
}

const (
	roomP   = domain.RoomID("project-1")
	ownerID = domain.UserID("owner-1")
)

func TestOwnerJoinAndMentorRequest(t *testing.T) {
	h := newHarness(t)
	h.dir.SetOwner(roomP, ownerID)

	owner := h.connect("O", ownerID)
	h.neg.Join("O", roomP)
	ev := owner.expect(t, "user-ready")
	var ready core.UserReady
	require.NoError(t, json.Unmarshal(ev.Data, &ready))
	assert.Equal(t, roomP, ready.RoomID)

	mentor := h.connect("M", "mentor-1")
	h.neg.Join("M", roomP)

	req := owner.expect(t, "mentor-request")
	var mr core.MentorRequest
	require.NoError(t, json.Unmarshal(req.Data, &mr))
	assert.Equal(t, domain.ConnID("M"), mr.ConnID)
	assert.Equal(t, domain.UserID("mentor-1"), mr.UserID)
	assert.Equal(t, roomP, mr.RoomID)

	mentor.expect(t, "waiting-for-approval")
	assert.Equal(t, 1, h.memberCount(t, roomP))
	assert.Len(t, h.pendingList(t, roomP), 1)
}

func TestApproveAdmitsMentor(t *testing.T) {
	h := newHarness(t)
	h.dir.SetOwner(roomP, ownerID)

	owner := h.connect("O", ownerID)
	h.neg.Join("O", roomP)
	owner.expect(t, "user-ready")

	mentor := h.connect("M", "mentor-1")
	h.neg.Join("M", roomP)
	owner.expect(t, "mentor-request")
	mentor.expect(t, "waiting-for-approval")

	h.neg.Approve("O", core.ApproveRequest{RoomID: roomP, Target: "M", Approve: true})

	ev := mentor.expect(t, "mentor-approved")
	var ma core.MentorApproved
	require.NoError(t, json.Unmarshal(ev.Data, &ma))
	assert.Equal(t, roomP, ma.RoomID)
	assert.Equal(t, ownerID, ma.OwnerID)

	joined := owner.expect(t, "user-joined")
	var uj core.UserJoined
	require.NoError(t, json.Unmarshal(joined.Data, &uj))
	assert.Equal(t, domain.ConnID("M"), uj.ConnID)

	assert.Equal(t, 2, h.memberCount(t, roomP))
	assert.Empty(t, h.pendingList(t, roomP))
}

func TestThirdJoinRejectedWhenRoomFull(t *testing.T) {
	h := newHarness(t)
	h.dir.SetOwner(roomP, ownerID)

	owner := h.connect("O", ownerID)
	h.neg.Join("O", roomP)
	owner.expect(t, "user-ready")

	mentor := h.connect("M", "mentor-1")
	h.neg.Join("M", roomP)
	owner.expect(t, "mentor-request")
	mentor.expect(t, "waiting-for-approval")
	h.neg.Approve("O", core.ApproveRequest{RoomID: roomP, Target: "M", Approve: true})
	mentor.expect(t, "mentor-approved")
	owner.expect(t, "user-joined")

	third := h.connect("N", "mentor-2")
	h.neg.Join("N", roomP)
	third.expect(t, "room-full")
	h.settle(t)
	assert.True(t, third.isClosed())
	assert.Equal(t, 2, h.memberCount(t, roomP))
}

func TestPendingPurgedOnDisconnectAndStaleApproveIsNoop(t *testing.T) {
	h := newHarness(t)
	h.dir.SetOwner(roomP, ownerID)

	owner := h.connect("O", ownerID)
	h.neg.Join("O", roomP)
	owner.expect(t, "user-ready")

	mentor := h.connect("M", "mentor-1")
	h.neg.Join("M", roomP)
	owner.expect(t, "mentor-request")
	mentor.expect(t, "waiting-for-approval")

	h.neg.Disconnect("M")
	h.settle(t)
	assert.Empty(t, h.pendingList(t, roomP))

	// Approving the stale connection id must be a silent no-op.
	h.neg.Approve("O", core.ApproveRequest{RoomID: roomP, Target: "M", Approve: true})
	h.settle(t)
	assert.Empty(t, owner.frames)
	assert.Equal(t, 1, h.memberCount(t, roomP))
}

func TestRejectClosesMentor(t *testing.T) {
	h := newHarness(t)
	h.dir.SetOwner(roomP, ownerID)

	owner := h.connect("O", ownerID)
	h.neg.Join("O", roomP)
	owner.expect(t, "user-ready")

	mentor := h.connect("M", "mentor-1")
	h.neg.Join("M", roomP)
	owner.expect(t, "mentor-request")
	mentor.expect(t, "waiting-for-approval")

	h.neg.Approve("O", core.ApproveRequest{RoomID: roomP, Target: "M", Approve: false})
	mentor.expect(t, "mentor-rejected")
	h.settle(t)
	assert.True(t, mentor.isClosed())
	assert.Equal(t, 1, h.memberCount(t, roomP))
}

func TestOwnerDisconnectNotifiesPartnerAndRoomReverts(t *testing.T) {
	h := newHarness(t)
	h.dir.SetOwner(roomP, ownerID)

	owner := h.connect("O", ownerID)
	h.neg.Join("O", roomP)
	owner.expect(t, "user-ready")

	mentor := h.connect("M", "mentor-1")
	h.neg.Join("M", roomP)
	owner.expect(t, "mentor-request")
	mentor.expect(t, "waiting-for-approval")
	h.neg.Approve("O", core.ApproveRequest{RoomID: roomP, Target: "M", Approve: true})
	mentor.expect(t, "mentor-approved")
	owner.expect(t, "user-joined")

	h.neg.Disconnect("O")
	mentor.expect(t, "partner-left")
	assert.Equal(t, 1, h.memberCount(t, roomP))

	// The mentor's client tears down after partner-left.
	h.neg.Disconnect("M")
	h.settle(t)
	assert.Equal(t, 0, h.memberCount(t, roomP))

	// A fresh connection claiming the owner's identity re-admits.
	owner2 := h.connect("O2", ownerID)
	h.neg.Join("O2", roomP)
	owner2.expect(t, "user-ready")
	assert.Equal(t, 1, h.memberCount(t, roomP))
}

func TestDisconnectIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.dir.SetOwner(roomP, ownerID)

	owner := h.connect("O", ownerID)
	h.neg.Join("O", roomP)
	owner.expect(t, "user-ready")

	mentor := h.connect("M", "mentor-1")
	h.neg.Join("M", roomP)
	owner.expect(t, "mentor-request")
	mentor.expect(t, "waiting-for-approval")
	h.neg.Approve("O", core.ApproveRequest{RoomID: roomP, Target: "M", Approve: true})
	mentor.expect(t, "mentor-approved")
	owner.expect(t, "user-joined")

	h.neg.Disconnect("M")
	h.neg.Disconnect("M")
	owner.expect(t, "partner-left")
	h.settle(t)
	// A second disconnect produces no duplicate partner-left.
	assert.Empty(t, owner.frames)
}

func TestWaitingForOwnerWhenOwnerOffline(t *testing.T) {
	h := newHarness(t)
	h.dir.SetOwner(roomP, ownerID)

	mentor := h.connect("M", "mentor-1")
	h.neg.Join("M", roomP)
	mentor.expect(t, "waiting-for-owner")
	assert.Len(t, h.pendingList(t, roomP), 1)
}

func TestOwnerJoinReceivesPendingList(t *testing.T) {
	h := newHarness(t)
	h.dir.SetOwner(roomP, ownerID)

	m1 := h.connect("M1", "mentor-1")
	h.neg.Join("M1", roomP)
	m1.expect(t, "waiting-for-owner")
	m2 := h.connect("M2", "mentor-2")
	h.neg.Join("M2", roomP)
	m2.expect(t, "waiting-for-owner")

	owner := h.connect("O", ownerID)
	h.neg.Join("O", roomP)
	owner.expect(t, "user-ready")
	ev := owner.expect(t, "mentor-pending-list")

	var list core.MentorPendingList
	require.NoError(t, json.Unmarshal(ev.Data, &list))
	require.Len(t, list.Pending, 2)
	// Arrival order is preserved.
	assert.Equal(t, domain.ConnID("M1"), list.Pending[0].ConnID)
	assert.Equal(t, domain.ConnID("M2"), list.Pending[1].ConnID)
}

func TestApprovalOrderFollowsEnqueueOrder(t *testing.T) {
	h := newHarness(t)
	h.dir.SetOwner(roomP, ownerID)

	// The owner decides from outside the room; capacity admits both.
	owner := h.connect("O", ownerID)

	a := h.connect("A", "mentor-a")
	h.neg.Join("A", roomP)
	owner.expect(t, "mentor-request")
	a.expect(t, "waiting-for-approval")

	b := h.connect("B", "mentor-b")
	h.neg.Join("B", roomP)
	owner.expect(t, "mentor-request")
	b.expect(t, "waiting-for-approval")

	h.neg.Approve("O", core.ApproveRequest{RoomID: roomP, Target: "A", Approve: true})
	h.neg.Approve("O", core.ApproveRequest{RoomID: roomP, Target: "B", Approve: true})

	a.expect(t, "mentor-approved")
	owner.expect(t, "user-joined")
	b.expect(t, "mentor-approved")
	assert.Equal(t, 2, h.memberCount(t, roomP))
}

func TestApproveRaceRoomFilledBetweenEnqueueAndApproval(t *testing.T) {
	h := newHarness(t)
	h.dir.SetOwner(roomP, ownerID)

	owner := h.connect("O", ownerID)
	h.neg.Join("O", roomP)
	owner.expect(t, "user-ready")

	a := h.connect("A", "mentor-a")
	h.neg.Join("A", roomP)
	owner.expect(t, "mentor-request")
	a.expect(t, "waiting-for-approval")

	b := h.connect("B", "mentor-b")
	h.neg.Join("B", roomP)
	owner.expect(t, "mentor-request")
	b.expect(t, "waiting-for-approval")

	h.neg.Approve("O", core.ApproveRequest{RoomID: roomP, Target: "A", Approve: true})
	a.expect(t, "mentor-approved")
	owner.expect(t, "user-joined")

	// Room filled while B was waiting; approving B now bounces it.
	h.neg.Approve("O", core.ApproveRequest{RoomID: roomP, Target: "B", Approve: true})
	b.expect(t, "room-full")
	h.settle(t)
	assert.True(t, b.isClosed())
	assert.Equal(t, 2, h.memberCount(t, roomP))
}

func TestUnknownProjectClosesRequester(t *testing.T) {
	h := newHarness(t)

	conn := h.connect("X", "someone")
	h.neg.Join("X", "no-such-project")
	ev := conn.expect(t, "error")
	var ee core.ErrorEvent
	require.NoError(t, json.Unmarshal(ev.Data, &ee))
	assert.Equal(t, "project not found", ee.Reason)
	h.settle(t)
	assert.True(t, conn.isClosed())
}

func TestApproveByNonOwnerFailsClosed(t *testing.T) {
	h := newHarness(t)
	h.dir.SetOwner(roomP, ownerID)

	mentor := h.connect("M", "mentor-1")
	h.neg.Join("M", roomP)
	mentor.expect(t, "waiting-for-owner")

	intruder := h.connect("I", "not-the-owner")
	h.neg.Approve("I", core.ApproveRequest{RoomID: roomP, Target: "M", Approve: true})
	ev := intruder.expect(t, "error")
	var ee core.ErrorEvent
	require.NoError(t, json.Unmarshal(ev.Data, &ee))
	assert.Equal(t, "not the room owner", ee.Reason)

	h.settle(t)
	assert.False(t, intruder.isClosed())
	assert.Len(t, h.pendingList(t, roomP), 1)
}

func TestNewestOwnerConnectionReceivesRequests(t *testing.T) {
	h := newHarness(t)
	h.dir.SetOwner(roomP, ownerID)

	oldTab := h.connect("O1", ownerID)
	newTab := h.connect("O2", ownerID)
	h.settle(t)

	mentor := h.connect("M", "mentor-1")
	h.neg.Join("M", roomP)
	mentor.expect(t, "waiting-for-approval")
	newTab.expect(t, "mentor-request")
	assert.Empty(t, oldTab.frames)
}

func TestRelayForwardsToOtherMemberOnly(t *testing.T) {
	h := newHarness(t)
	h.dir.SetOwner(roomP, ownerID)

	owner := h.connect("O", ownerID)
	h.neg.Join("O", roomP)
	owner.expect(t, "user-ready")

	mentor := h.connect("M", "mentor-1")
	h.neg.Join("M", roomP)
	owner.expect(t, "mentor-request")
	mentor.expect(t, "waiting-for-approval")
	h.neg.Approve("O", core.ApproveRequest{RoomID: roomP, Target: "M", Approve: true})
	mentor.expect(t, "mentor-approved")
	owner.expect(t, "user-joined")

	payload := json.RawMessage(`{"sdp":"v=0..."}`)
	h.neg.Relay("O", core.RelayOffer, "", payload)

	ev := mentor.expect(t, "offer")
	assert.JSONEq(t, string(payload), string(ev.Data))
	h.settle(t)
	assert.Empty(t, owner.frames, "sender never hears its own signal")
}

func TestChatRelayUsesExplicitRoom(t *testing.T) {
	h := newHarness(t)
	h.dir.SetOwner(roomP, ownerID)

	owner := h.connect("O", ownerID)
	h.neg.Join("O", roomP)
	owner.expect(t, "user-ready")

	mentor := h.connect("M", "mentor-1")
	h.neg.Join("M", roomP)
	owner.expect(t, "mentor-request")
	mentor.expect(t, "waiting-for-approval")
	h.neg.Approve("O", core.ApproveRequest{RoomID: roomP, Target: "M", Approve: true})
	mentor.expect(t, "mentor-approved")
	owner.expect(t, "user-joined")

	msg := json.RawMessage(`{"roomId":"project-1","from":"mentor-1","text":"hi","createdAt":"2026-08-29T10:00:00Z"}`)
	h.neg.Relay("M", core.RelayChat, roomP, msg)
	ev := owner.expect(t, "chat-message")
	assert.JSONEq(t, string(msg), string(ev.Data))

	// A chat without its explicit room id goes nowhere.
	h.neg.Relay("M", core.RelayChat, "", msg)
	h.settle(t)
	assert.Empty(t, owner.frames)
}

func TestRelayFromConnectionWithoutRoomIsNoop(t *testing.T) {
	h := newHarness(t)
	h.dir.SetOwner(roomP, ownerID)

	owner := h.connect("O", ownerID)
	h.neg.Join("O", roomP)
	owner.expect(t, "user-ready")

	stranger := h.connect("S", "someone")
	h.neg.Relay("S", core.RelayOffer, "", json.RawMessage(`{}`))
	h.settle(t)
	assert.Empty(t, owner.frames)
	assert.Empty(t, stranger.frames)
}

func TestReenqueueReplacesEarlierEntry(t *testing.T) {
	h := newHarness(t)
	h.dir.SetOwner(roomP, ownerID)
	h.dir.SetOwner("project-2", ownerID)

	mentor := h.connect("M", "mentor-1")
	h.neg.Join("M", roomP)
	mentor.expect(t, "waiting-for-owner")
	h.neg.Join("M", "project-2")
	mentor.expect(t, "waiting-for-owner")

	assert.Empty(t, h.pendingList(t, roomP))
	assert.Len(t, h.pendingList(t, "project-2"), 1)
}
