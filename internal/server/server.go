// Package server exposes the game engine over WebSocket. Each connection
// speaks the frame protocol from [protocol]: the client opens or rebinds a
// session, sends player input and dice results, and receives the engine's
// outbound frames.
//
// Connections and sessions have independent lifetimes. A dropped connection
// leaves its session alive with outbound frames buffering; reconnecting with
// the same session id flushes the backlog and play continues. Sessions die
// only through idle eviction or server shutdown, and with a snapshot store
// configured even eviction is survivable.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/MrWong99/fateweaver/internal/game"
	"github.com/MrWong99/fateweaver/internal/protocol"
)

// ServeWS upgrades the request to a WebSocket and services it until the
// client disconnects. It implements [http.HandlerFunc].
func (m *Manager) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Debug("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	m.readLoop(r.Context(), conn)
}

// readLoop decodes inbound frames and routes them. The first meaningful
// frame must be a session_open; everything before that is answered with an
// error frame on the bare connection.
func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) {
	var sess *session
	defer func() {
		if sess != nil {
			sess.detach(conn)
		}
		conn.CloseNow()
	}()

	// reply routes an error frame through the session queue once bound, so
	// it cannot overtake frames the engine already emitted.
	reply := func(text string) {
		if sess != nil {
			sess.Emit(protocol.NewError(text))
			return
		}
		if err := writeFrame(ctx, conn, protocol.NewError(text)); err != nil {
			slog.Debug("error frame write failed", "err", err)
		}
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if sess != nil {
				slog.Debug("connection closed", "session_id", sess.id, "err", err)
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			slog.Debug("inbound frame rejected", "err", err)
			reply("malformed message")
			continue
		}

		switch payload := msg.Data.(type) {
		case protocol.SessionOpen:
			if sess != nil {
				reply("already bound")
				continue
			}
			opened, errText := m.open(ctx, payload)
			if errText != "" {
				reply(errText)
				continue
			}
			sess = opened
			sess.attach(conn)
			m.greet(sess)

		case protocol.PlayerInput:
			if sess == nil {
				reply("no session")
				continue
			}
			m.handleInput(sess, payload)

		case protocol.DiceResult:
			if sess == nil {
				reply("no session")
				continue
			}
			m.handleDice(sess, payload)

		default:
			reply("unexpected message")
		}
	}
}

// greet acknowledges a bound session. When the session is parked on a dice
// check the pending request is re-sent, so a client that reconnected
// mid-check knows what it still owes. The repeat is harmless for clients
// that already saw it.
func (m *Manager) greet(s *session) {
	st := s.state
	s.Emit(protocol.NewSessionReady(s.id, st.WorldPackID(), string(st.Phase()), st.TurnCount()))
	if st.Phase() == game.PhaseDiceCheck {
		if pending, ok := st.ReactState(); ok {
			s.Emit(protocol.NewDiceCheck(pending.CheckRequest, ""))
		}
	}
}
