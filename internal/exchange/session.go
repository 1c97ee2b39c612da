package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/cashxhq/cashx/internal/errtrack"
	"github.com/cashxhq/cashx/internal/routing"
)

// Realtime owns the escrow transaction protocol: it admits the two
// parties of a transaction into a shared room and processes their
// location and identity events against the ephemeral state.
type Realtime struct {
	hub            *Hub
	service        *Service
	oracle         routing.Oracle
	reporter       errtrack.Reporter
	logger         *slog.Logger
	arrivalRadiusM float64
}

// NewRealtime creates the realtime protocol handler.
func NewRealtime(hub *Hub, service *Service, oracle routing.Oracle, reporter errtrack.Reporter, logger *slog.Logger, arrivalRadiusM float64) *Realtime {
	return &Realtime{
		hub:            hub,
		service:        service,
		oracle:         oracle,
		reporter:       reporter,
		logger:         logger,
		arrivalRadiusM: arrivalRadiusM,
	}
}

// session is one party's connection to a transaction room.
type session struct {
	rt        *Realtime
	conn      *websocket.Conn
	send      chan []byte
	room      string
	requestID string
	userID    string
	role      Party
}

// HandleWS upgrades GET /ws/transactions/:requestID. The caller must be
// a party to the request, and any transaction spawned from it must not
// be closed already; strangers get a rejection frame and a close.
func (rt *Realtime) HandleWS(c *gin.Context) {
	select {
	case <-rt.hub.done:
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "shutting_down",
			"message": "Server is shutting down",
		})
		return
	default:
	}

	requestID := c.Param("requestID")
	userID := c.GetString("userID")
	ctx := c.Request.Context()

	req, err := rt.service.store.GetRequest(ctx, requestID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Request not found",
		})
		return
	}

	var role Party
	switch userID {
	case req.CustomerID:
		role = PartyCustomer
	case req.AgentID:
		role = PartyAgent
	default:
		rt.rejectUpgrade(c, "You are not a member of this transaction")
		return
	}

	if txn, err := rt.service.store.GetTransactionByRequest(ctx, requestID); err == nil {
		if txn.Status == TransactionCancelled || txn.Status == TransactionAbandoned {
			rt.rejectUpgrade(c, "This transaction is closed")
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		rt.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	// Destination is served from the cache for every location update;
	// prime it here in case the accept-time write expired.
	state := rt.service.State(requestID)
	if _, ok, _ := state.Destination(context.Background()); !ok {
		_ = state.SetDestination(context.Background(), req.Destination)
	}

	sess := &session{
		rt:        rt,
		conn:      conn,
		send:      make(chan []byte, 64),
		room:      RoomName(requestID),
		requestID: requestID,
		userID:    userID,
		role:      role,
	}
	select {
	case rt.hub.register <- sess:
	case <-rt.hub.done:
		_ = conn.Close()
		return
	}

	go sess.writePump()
	go sess.readPump()
}

// rejectUpgrade completes the upgrade only to deliver the rejection,
// matching clients that already speak the socket protocol.
func (rt *Realtime) rejectUpgrade(c *gin.Context, reason string) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = conn.WriteJSON(NewEnvelope("connection.rejected", PartySystem, map[string]string{"reason": reason}))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))
	_ = conn.Close()
}

func (s *session) readPump() {
	defer func() {
		s.rt.hub.drop(s)
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(64 * 1024)
	_ = s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				s.rt.logger.Warn("websocket read error", "room", s.room, "error", err)
			}
			return
		}
		s.dispatch(DecodeInbound(message))
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.rt.logger.Warn("websocket write error", "room", s.room, "error", err)
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch routes a decoded event. Location handling hits the routing
// oracle, so it runs off the read loop; a slow lookup must not block
// this connection's inbound stream.
func (s *session) dispatch(in Inbound) {
	switch in.Kind {
	case KindLocation:
		go s.guarded("location", func(ctx context.Context) error {
			return s.handleLocation(ctx, in.Location)
		})
	case KindIdentityConfirmed:
		s.guarded("identity_confirmed", func(ctx context.Context) error {
			return s.handleIdentityConfirmed(ctx, in.Subject)
		})
	case KindIdentityDenied:
		s.guarded("identity_denied", func(ctx context.Context) error {
			return s.handleIdentityDenied(ctx, in.Subject)
		})
	case KindPassthrough:
		// Unrecognized events are forwarded untouched.
		s.rt.hub.Publish(s.room, in.Passthrough)
	}
}

// guarded runs a handler with fault isolation: a panic or error is
// reported and swallowed, the connection stays up.
func (s *session) guarded(name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.rt.reporter.Capture(ctx, fmt.Errorf("realtime handler panic: %v", r), map[string]string{
				"handler": name, "room": s.room,
			})
		}
	}()
	if err := fn(ctx); err != nil {
		s.rt.reporter.Capture(ctx, err, map[string]string{
			"handler": name, "room": s.room,
		})
	}
}

// handleLocation applies the arrival ladder for one position update.
func (s *session) handleLocation(ctx context.Context, loc LocationBody) error {
	state := s.rt.service.State(s.requestID)

	both, err := state.BothReached(ctx)
	if err != nil {
		return err
	}
	if both {
		s.publish(NewEnvelope(EventLocationBothReached, s.role, nil))
		return nil
	}

	// A party that already arrived keeps sending positions; re-emit
	// reached without another oracle round trip.
	selfReached, err := state.Reached(ctx, s.role)
	if err != nil {
		return err
	}
	if selfReached {
		s.publish(NewEnvelope(EventLocationReached, s.role, map[string]string{
			"reached": string(s.role),
		}))
		return nil
	}

	dest, ok, err := state.Destination(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("destination not cached for transaction")
	}
	eta, err := s.rt.oracle.Route(ctx, routing.Coordinates{
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
	}, dest)
	if err != nil {
		return err
	}

	if eta.DistanceMeters <= s.rt.arrivalRadiusM {
		if err := state.MarkReached(ctx, s.role); err != nil {
			return err
		}
		if err := state.SetStage(ctx, s.userID, StageAwaitingIdentityConfirmation); err != nil {
			return err
		}
		both, err := state.BothReached(ctx)
		if err != nil {
			return err
		}
		if both {
			s.publish(NewEnvelope(EventLocationBothReached, s.role, nil))
		} else {
			s.publish(NewEnvelope(EventLocationReached, s.role, map[string]string{
				"reached": string(s.role),
			}))
		}
		return nil
	}

	s.publish(NewEnvelope(EventLocationUpdated, s.role, ETABody{
		Distance: eta.DistanceText(),
		Duration: eta.DurationText(),
	}))
	return nil
}

// handleIdentityConfirmed records one party vouching for the subject's
// identity. Confirmation is only valid once the subject has physically
// arrived; the flag check is re-read on every event, so whichever
// connection observes the second flag first emits both_confirmed.
func (s *session) handleIdentityConfirmed(ctx context.Context, subject Party) error {
	state := s.rt.service.State(s.requestID)

	reached, err := state.Reached(ctx, subject)
	if err != nil {
		return err
	}
	if !reached {
		s.sendTo(NewEnvelope("error", PartySystem, map[string]string{
			"message": "has not reached destination",
		}))
		return nil
	}

	both, err := state.BothIdentityConfirmed(ctx)
	if err != nil {
		return err
	}
	if both {
		s.publish(NewEnvelope(EventIdentityBothConfirmed, s.role, nil))
		return nil
	}

	if err := state.ConfirmIdentity(ctx, subject); err != nil {
		return err
	}
	if err := state.SetStage(ctx, s.userID, StageAwaitingPaymentInitiation); err != nil {
		return err
	}
	s.publish(NewEnvelope(IdentityEvent(subject, "confirmed"), s.role, nil))

	both, err = state.BothIdentityConfirmed(ctx)
	if err != nil {
		return err
	}
	if both {
		s.publish(NewEnvelope(EventIdentityBothConfirmed, s.role, nil))
	}
	return nil
}

// handleIdentityDenied cancels the transaction on the spot and drops
// both connections. closed_by is the denier's counterpart.
func (s *session) handleIdentityDenied(ctx context.Context, _ Party) error {
	txn, err := s.rt.service.store.GetTransactionByRequest(ctx, s.requestID)
	if err != nil {
		return err
	}
	if txn.Status == TransactionInProgress {
		if _, err := s.rt.service.CancelByDenial(ctx, txn, s.role); err != nil {
			return err
		}
	}
	s.rt.hub.CloseRoom(s.room)
	return nil
}

func (s *session) publish(env Envelope) {
	s.rt.hub.Publish(s.room, env)
}

// sendTo delivers an envelope to this connection only.
func (s *session) sendTo(env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		return
	}
	select {
	case s.send <- payload:
	default:
	}
}
