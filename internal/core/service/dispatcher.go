package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/Wyydra/callsig/internal/core/domain"
	"github.com/Wyydra/callsig/internal/core/port"
	"github.com/rs/zerolog"
)

// Dispatcher turns inbound signaling events into state changes and outbound
// events. Every event, disconnect and ring timeout runs to completion under a
// single lock before the next one starts.
type Dispatcher struct {
	mu sync.Mutex

	conns    *ConnectionRegistry
	presence *PresenceIndex
	rooms    *RoomManager
	sessions *SessionStore
	gateway  port.Gateway
	metrics  port.Metrics
	log      zerolog.Logger

	// connections whose transport refused a write during the current step
	dead []domain.ConnectionID
}

type DispatcherOption func(*Dispatcher)

func WithMetrics(m port.Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

func NewDispatcher(
	conns *ConnectionRegistry,
	presence *PresenceIndex,
	rooms *RoomManager,
	sessions *SessionStore,
	gateway port.Gateway,
	logger zerolog.Logger,
	opts ...DispatcherOption,
) *Dispatcher {
	d := &Dispatcher{
		conns:    conns,
		presence: presence,
		rooms:    rooms,
		sessions: sessions,
		gateway:  gateway,
		metrics:  port.NopMetrics{},
		log:      logger.With().Str("component", "dispatcher").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	sessions.OnRingTimeout(d.handleRingTimeout)
	return d
}

// Connect registers a new transport session.
func (d *Dispatcher) Connect() domain.Connection {
	conn := d.conns.Register()
	d.metrics.ConnectionOpened()
	return conn
}

// Disconnect runs the teardown cascade for connID. Calling it again for the
// same connection does nothing.
func (d *Dispatcher) Disconnect(ctx context.Context, connID domain.ConnectionID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.disconnectLocked(ctx, connID)
	d.reapLocked(ctx)
}

// Handle processes one inbound event from connID. Failures are reported to
// the sender as an error event and returned.
func (d *Dispatcher) Handle(ctx context.Context, connID domain.ConnectionID, in domain.Inbound) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := d.route(ctx, connID, in)
	code := "ok"
	if err != nil {
		code = domain.ErrorCode(err)
		// call-failed already told the caller
		if !errors.Is(err, domain.ErrReceiverUnreachable) {
			d.deliver(ctx, connID, domain.NewErrorEvent(in.Name, err))
		}
	}
	name := in.Name
	if !name.Inbound() {
		name = "unknown"
	}
	d.metrics.EventHandled(name, code)
	d.reapLocked(ctx)
	return err
}

// InitiateCall starts a call on behalf of a caller that may not hold a
// connection, as the REST bridge does.
func (d *Dispatcher) InitiateCall(ctx context.Context, caller, receiver domain.Identity, payload json.RawMessage) (domain.CallSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sess, err := d.initiateLocked(ctx, caller, receiver, payload)
	d.reapLocked(ctx)
	return sess, err
}

func (d *Dispatcher) Session(id domain.CallID) (domain.CallSession, error) {
	return d.sessions.Get(id)
}

func (d *Dispatcher) Online(identity domain.Identity) bool {
	_, err := d.presence.Get(identity)
	return err == nil
}

func (d *Dispatcher) route(ctx context.Context, connID domain.ConnectionID, in domain.Inbound) error {
	switch in.Name {
	case domain.EventAnnounceIdentity:
		p, err := decode[domain.AnnounceIdentity](in.Data)
		if err != nil {
			return err
		}
		return d.announce(ctx, connID, p)
	case domain.EventCallInitiate:
		p, err := decode[domain.CallInitiate](in.Data)
		if err != nil {
			return err
		}
		return d.initiate(ctx, connID, p)
	case domain.EventCallResponse:
		p, err := decode[domain.CallResponse](in.Data)
		if err != nil {
			return err
		}
		return d.respond(ctx, connID, p)
	case domain.EventJoinRoom:
		p, err := decode[domain.JoinRoom](in.Data)
		if err != nil {
			return err
		}
		return d.joinRoom(ctx, connID, p)
	case domain.EventLeaveRoom:
		p, err := decode[domain.LeaveRoom](in.Data)
		if err != nil {
			return err
		}
		return d.leaveRoom(ctx, connID, p)
	case domain.EventRoomSignal:
		p, err := decode[domain.RoomSignal](in.Data)
		if err != nil {
			return err
		}
		return d.relay(ctx, connID, p)
	case domain.EventEndCall:
		p, err := decode[domain.EndCall](in.Data)
		if err != nil {
			return err
		}
		return d.endCall(ctx, connID, p)
	default:
		return fmt.Errorf("%w: unknown event %q", domain.ErrBadRequest, in.Name)
	}
}

func (d *Dispatcher) announce(ctx context.Context, connID domain.ConnectionID, p domain.AnnounceIdentity) error {
	if p.Role != "" && !p.Role.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidRole, p.Role)
	}
	conn, err := d.conns.BindIdentity(connID, p.Identity, p.Role)
	if err != nil {
		return err
	}

	if prev, replaced := d.presence.Set(conn.Identity, connID); replaced {
		d.log.Info().
			Str("identity", conn.Identity.String()).
			Str("conn_id", connID.String()).
			Str("previous_conn_id", prev.String()).
			Msg("Identity moved to a newer connection")
	}

	d.deliver(ctx, connID, domain.Event{
		Name: domain.EventIdentityAnnounced,
		Data: domain.IdentityAnnounced{Identity: conn.Identity, Role: conn.Role, ConnectionID: connID},
	})
	return nil
}

func (d *Dispatcher) initiate(ctx context.Context, connID domain.ConnectionID, p domain.CallInitiate) error {
	conn, err := d.boundConnection(connID)
	if err != nil {
		return err
	}
	caller := p.CallerID
	if caller == "" {
		caller = conn.Identity
	}
	if caller != conn.Identity {
		return fmt.Errorf("%w: caller %q does not match announced identity", domain.ErrNotParticipant, caller)
	}
	_, err = d.initiateLocked(ctx, caller, p.ReceiverID, p.Payload)
	return err
}

func (d *Dispatcher) initiateLocked(ctx context.Context, caller, receiver domain.Identity, payload json.RawMessage) (domain.CallSession, error) {
	sess, err := d.sessions.Initiate(caller, receiver, payload)
	if err != nil {
		if errors.Is(err, domain.ErrReceiverUnreachable) {
			d.callFailed(ctx, caller, receiver)
		}
		return domain.CallSession{}, err
	}

	incoming := domain.Event{
		Name: domain.EventCallIncoming,
		Data: domain.CallIncoming{
			CallID:     sess.ID,
			RoomName:   sess.RoomName,
			CallerID:   sess.CallerID,
			ReceiverID: sess.ReceiverID,
			Payload:    sess.Payload,
		},
	}
	receiverConn, err := d.presence.Get(receiver)
	if err != nil || !d.deliver(ctx, receiverConn, incoming) {
		if _, _, endErr := d.sessions.End(sess.ID, domain.ReasonPeerDisconnected); endErr != nil {
			d.log.Warn().Err(endErr).Str("call_id", sess.ID.String()).Msg("Failed to end undeliverable call")
		}
		d.callFailed(ctx, caller, receiver)
		return domain.CallSession{}, fmt.Errorf("%w: %s", domain.ErrReceiverUnreachable, receiver)
	}

	sess, err = d.sessions.MarkRinging(sess.ID)
	if err != nil {
		return domain.CallSession{}, err
	}
	d.sendTo(ctx, caller, domain.Event{
		Name: domain.EventCallRinging,
		Data: domain.CallRinging{CallID: sess.ID, RoomName: sess.RoomName, ReceiverID: sess.ReceiverID},
	})
	return sess, nil
}

func (d *Dispatcher) callFailed(ctx context.Context, caller, receiver domain.Identity) {
	d.sendTo(ctx, caller, domain.Event{
		Name: domain.EventCallFailed,
		Data: domain.CallFailed{ReceiverID: receiver, Reason: domain.CodeReceiverUnreachable},
	})
}

func (d *Dispatcher) respond(ctx context.Context, connID domain.ConnectionID, p domain.CallResponse) error {
	conn, err := d.boundConnection(connID)
	if err != nil {
		return err
	}
	sess, err := d.sessions.Get(p.CallID)
	if err != nil {
		return err
	}
	if sess.ReceiverID != conn.Identity {
		return fmt.Errorf("%w: only the receiver may respond", domain.ErrNotParticipant)
	}

	sess, err = d.sessions.Respond(p.CallID, p.Accepted)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			d.log.Warn().Str("call_id", p.CallID.String()).Str("state", string(sess.State)).Msg("Duplicate or late call response")
		}
		return err
	}

	name := domain.EventCallRejected
	if p.Accepted {
		name = domain.EventCallAccepted
	}
	answer := domain.Event{
		Name: name,
		Data: domain.CallAnswer{CallID: sess.ID, RoomName: sess.RoomName, CallerID: sess.CallerID, ReceiverID: sess.ReceiverID},
	}
	// neither party is in the room yet
	d.sendTo(ctx, sess.CallerID, answer)
	d.sendTo(ctx, sess.ReceiverID, answer)
	return nil
}

func (d *Dispatcher) joinRoom(ctx context.Context, connID domain.ConnectionID, p domain.JoinRoom) error {
	conn, err := d.boundConnection(connID)
	if err != nil {
		return err
	}
	if p.Identity != "" && p.Identity != conn.Identity {
		return fmt.Errorf("%w: identity %q does not match announced identity", domain.ErrNotParticipant, p.Identity)
	}
	sess, err := d.sessions.ByRoom(p.RoomName)
	if err != nil {
		return err
	}
	if !sess.Involves(conn.Identity) {
		return domain.ErrNotParticipant
	}
	if sess.State != domain.StateAccepted && sess.State != domain.StateConnected {
		return fmt.Errorf("%w: call is %s", domain.ErrInvalidState, sess.State)
	}

	joined, failed := d.rooms.Join(ctx, sess.RoomName, connID, domain.Event{
		Name: domain.EventPeerJoined,
		Data: domain.PeerPresence{RoomName: sess.RoomName, Identity: conn.Identity},
	})
	d.markDead(failed...)

	d.deliver(ctx, connID, domain.Event{
		Name: domain.EventRoomJoined,
		Data: domain.RoomJoined{RoomName: sess.RoomName, CallID: sess.ID, Peers: d.peersOf(sess.RoomName, connID)},
	})

	if joined && sess.State == domain.StateAccepted && conn.Identity == sess.ReceiverID {
		if _, err := d.sessions.MarkConnected(sess.ID); err != nil {
			return err
		}
		d.log.Info().Str("call_id", sess.ID.String()).Msg("Call connected")
	}
	return nil
}

func (d *Dispatcher) leaveRoom(ctx context.Context, connID domain.ConnectionID, p domain.LeaveRoom) error {
	conn, err := d.boundConnection(connID)
	if err != nil {
		return err
	}
	if !d.rooms.Leave(p.RoomName, connID) {
		return domain.ErrNotRoomMember
	}
	d.markDead(d.rooms.Broadcast(ctx, p.RoomName, domain.Event{
		Name: domain.EventPeerLeft,
		Data: domain.PeerPresence{RoomName: p.RoomName, Identity: conn.Identity},
	}, connID)...)
	return nil
}

func (d *Dispatcher) relay(ctx context.Context, connID domain.ConnectionID, p domain.RoomSignal) error {
	conn, err := d.boundConnection(connID)
	if err != nil {
		return err
	}
	if !d.rooms.IsMember(p.RoomName, connID) {
		return domain.ErrNotRoomMember
	}
	d.markDead(d.rooms.Broadcast(ctx, p.RoomName, domain.Event{
		Name: domain.EventRoomSignal,
		Data: domain.RoomSignalRelay{RoomName: p.RoomName, From: conn.Identity, Payload: p.Payload},
	}, connID)...)
	return nil
}

func (d *Dispatcher) endCall(ctx context.Context, connID domain.ConnectionID, p domain.EndCall) error {
	conn, err := d.boundConnection(connID)
	if err != nil {
		return err
	}
	sess, err := d.sessions.Get(p.CallID)
	if err != nil {
		return err
	}
	if !sess.Involves(conn.Identity) {
		return domain.ErrNotParticipant
	}
	reason, err := domain.ClientEndReason(p.Reason)
	if err != nil {
		return err
	}
	d.endLocked(ctx, sess.ID, reason)
	return nil
}

func (d *Dispatcher) endLocked(ctx context.Context, id domain.CallID, reason domain.EndReason) {
	sess, ended, err := d.sessions.End(id, reason)
	if err != nil {
		d.log.Warn().Err(err).Str("call_id", id.String()).Msg("Failed to end call")
		return
	}
	if !ended {
		d.log.Warn().Str("call_id", id.String()).Str("state", string(sess.State)).Msg("Duplicate end for terminated call")
		return
	}
	d.log.Info().Str("call_id", id.String()).Str("reason", string(reason)).Msg("Call ended")
	d.announceEnd(ctx, sess)
}

// announceEnd tells the room, and any participant that never joined it, that
// the call is over. The room is closed afterwards.
func (d *Dispatcher) announceEnd(ctx context.Context, sess domain.CallSession) {
	ended := domain.Event{
		Name: domain.EventCallEnded,
		Data: domain.CallEnded{CallID: sess.ID, RoomName: sess.RoomName, Reason: sess.EndReason},
	}

	members := d.rooms.Members(sess.RoomName)
	d.markDead(d.rooms.Broadcast(ctx, sess.RoomName, ended, domain.ConnectionID{})...)

	for _, identity := range []domain.Identity{sess.CallerID, sess.ReceiverID} {
		connID, err := d.presence.Get(identity)
		if err != nil {
			d.log.Debug().Str("identity", identity.String()).Str("call_id", sess.ID.String()).Msg("Participant gone, dropping call-ended")
			continue
		}
		if slices.Contains(members, connID) {
			continue
		}
		d.deliver(ctx, connID, ended)
	}

	d.rooms.Close(sess.RoomName)
}

func (d *Dispatcher) handleRingTimeout(id domain.CallID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sess, ok := d.sessions.ExpireRinging(id)
	if !ok {
		return
	}
	ctx := context.Background()
	d.log.Info().Str("call_id", id.String()).Msg("Ringing timed out")
	d.announceEnd(ctx, sess)
	d.reapLocked(ctx)
}

func (d *Dispatcher) disconnectLocked(ctx context.Context, connID domain.ConnectionID) {
	conn, ok := d.conns.Unregister(connID)
	if !ok {
		return
	}
	d.metrics.ConnectionClosed()

	l := d.log.With().Str("conn_id", connID.String()).Str("identity", conn.Identity.String()).Logger()

	owned := conn.Bound() && d.presence.RemoveIfMatches(conn.Identity, connID)
	if conn.Bound() && !owned {
		l.Debug().Msg("Identity held by a newer connection, keeping presence")
	}

	for _, room := range d.rooms.LeaveAll(connID) {
		d.markDead(d.rooms.Broadcast(ctx, room, domain.Event{
			Name: domain.EventPeerLeft,
			Data: domain.PeerPresence{RoomName: room, Identity: conn.Identity},
		}, connID)...)
	}

	if owned {
		for _, sess := range d.sessions.ActiveFor(conn.Identity) {
			d.endLocked(ctx, sess.ID, domain.ReasonPeerDisconnected)
		}
	}
	l.Info().Msg("Connection unregistered")
}

// reapLocked runs the disconnect cascade for every connection that refused a
// write during the current step, including ones discovered while reaping.
func (d *Dispatcher) reapLocked(ctx context.Context) {
	for len(d.dead) > 0 {
		id := d.dead[0]
		d.dead = d.dead[1:]
		d.disconnectLocked(ctx, id)
	}
}

func (d *Dispatcher) markDead(ids ...domain.ConnectionID) {
	d.dead = append(d.dead, ids...)
}

func (d *Dispatcher) deliver(ctx context.Context, connID domain.ConnectionID, event domain.Event) bool {
	if err := d.gateway.Send(ctx, connID, event); err != nil {
		d.metrics.DeliveryFailed(event.Name)
		d.log.Warn().Err(err).Str("conn_id", connID.String()).Str("event", string(event.Name)).Msg("Delivery failed, dropping connection")
		d.markDead(connID)
		return false
	}
	return true
}

// sendTo addresses event to the connection currently representing identity.
func (d *Dispatcher) sendTo(ctx context.Context, identity domain.Identity, event domain.Event) {
	connID, err := d.presence.Get(identity)
	if err != nil {
		d.log.Warn().Str("identity", identity.String()).Str("event", string(event.Name)).Msg("Recipient not present, dropping event")
		return
	}
	d.deliver(ctx, connID, event)
}

func (d *Dispatcher) boundConnection(connID domain.ConnectionID) (domain.Connection, error) {
	conn, err := d.conns.Get(connID)
	if err != nil {
		return conn, err
	}
	if !conn.Bound() {
		return conn, fmt.Errorf("%w: announce-identity first", domain.ErrIdentityRequired)
	}
	return conn, nil
}

func (d *Dispatcher) peersOf(room domain.RoomName, self domain.ConnectionID) []domain.Identity {
	peers := []domain.Identity{}
	for _, id := range d.rooms.Members(room) {
		if id == self {
			continue
		}
		if conn, err := d.conns.Get(id); err == nil && conn.Bound() {
			peers = append(peers, conn.Identity)
		}
	}
	return peers
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, fmt.Errorf("%w: missing data", domain.ErrBadRequest)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %v", domain.ErrBadRequest, err)
	}
	return v, nil
}
