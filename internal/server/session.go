package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/fateweaver/internal/game"
	"github.com/MrWong99/fateweaver/internal/observe"
	"github.com/MrWong99/fateweaver/internal/protocol"
)

// writeTimeout bounds a single frame write. A client that stops draining its
// socket loses the connection, not the session.
const writeTimeout = 10 * time.Second

// session is one live game session. It owns the game state, the outbound
// frame queue and at most one WebSocket connection at a time.
//
// The engine emits frames from the turn goroutine while the write loop drains
// them toward the client, so all frames pass through a bounded queue: Emit
// never blocks the engine, and a detached session simply accumulates frames
// until the player rebinds. When the queue is full the oldest frame is
// dropped; the complete frame of a turn always arrives last, so the client
// can still settle even after losing intermediate chunks.
type session struct {
	id      string
	state   *game.State
	bufCap  int
	metrics *observe.Metrics

	mu       sync.Mutex
	conn     *websocket.Conn // nil while detached
	queue    []protocol.Message
	busy     bool
	lastSeen time.Time

	// wake nudges the write loop after Emit or attach. Capacity one: a
	// pending nudge already guarantees a flush pass.
	wake chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

var _ protocol.Emitter = (*session)(nil)

func newSession(id string, st *game.State, bufCap int, metrics *observe.Metrics) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		id:       id,
		state:    st,
		bufCap:   bufCap,
		metrics:  metrics,
		lastSeen: time.Now(),
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Emit queues msg for delivery. It never blocks: when the queue is at
// capacity the oldest frame is discarded to make room.
func (s *session) Emit(msg protocol.Message) {
	var dropped int
	s.mu.Lock()
	for len(s.queue) >= s.bufCap {
		s.queue = s.queue[1:]
		dropped++
	}
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	if dropped > 0 {
		s.metrics.RecordDroppedFrames(context.Background(), dropped)
		slog.Warn("outbound queue full, dropped oldest frames",
			"session_id", s.id, "dropped", dropped)
	}
	s.nudge()
}

func (s *session) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// writeLoop is the session's single writer. It drains the queue toward
// whichever connection is currently attached and idles while detached.
// It exits when the session is shut down.
func (s *session) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}
		s.flush()
	}
}

// flush writes queued frames until the queue empties, the session detaches
// or a write fails. A failed frame goes back to the front of the queue so
// the next connection receives it.
func (s *session) flush() {
	for {
		s.mu.Lock()
		if s.conn == nil || len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		msg := s.queue[0]
		s.queue = s.queue[1:]
		conn := s.conn
		s.mu.Unlock()

		if err := writeFrame(s.ctx, conn, msg); err != nil {
			s.mu.Lock()
			s.queue = append([]protocol.Message{msg}, s.queue...)
			if s.conn == conn {
				s.conn = nil
				s.lastSeen = time.Now()
			}
			s.mu.Unlock()
			slog.Debug("frame write failed, detaching connection",
				"session_id", s.id, "err", err)
			return
		}
	}
}

// attach binds conn as the session's connection, closing any previous one.
// Queued frames start flowing immediately.
func (s *session) attach(conn *websocket.Conn) {
	s.mu.Lock()
	old := s.conn
	s.conn = conn
	s.lastSeen = time.Now()
	s.mu.Unlock()

	if old != nil && old != conn {
		old.CloseNow()
	}
	s.nudge()
}

// detach clears conn if it is still the bound connection. A stale detach
// (the client reconnected before the old read loop noticed) is a no-op.
func (s *session) detach(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// bound reports whether conn is the session's current connection.
func (s *session) bound(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn == conn
}

// startTurn marks the session busy if it can accept player input right now.
// Input is refused while a turn is running and while a dice check is
// pending; the pending check wants a dice_result, not more prose.
func (s *session) startTurn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy || s.state.Phase() == game.PhaseDiceCheck {
		return false
	}
	s.busy = true
	return true
}

// startResume marks the session busy for a dice resume. Unlike startTurn it
// does not gate on phase: the coordinator itself rejects a resume without a
// pending check, with a clearer error than the server could produce.
func (s *session) startResume() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	return true
}

func (s *session) clearBusy() {
	s.mu.Lock()
	s.busy = false
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// idleSince returns how long the session has been idle, or zero while a
// turn is running.
func (s *session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return 0
	}
	return now.Sub(s.lastSeen)
}

// shutdown closes the connection with reason and stops the write loop.
func (s *session) shutdown(reason string) {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusGoingAway, reason)
	}
	s.cancel()
}

// writeFrame marshals msg and writes it as one text frame.
func writeFrame(ctx context.Context, conn *websocket.Conn, msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
