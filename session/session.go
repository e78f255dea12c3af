// Package session implements the per-connection actor: one read loop that
// decodes and dispatches inbound frames, and a serialized write queue that
// delivers outbound frames in enqueue order.
package session

import (
	"io"
	"sync"

	"github.com/nibblearena/gameserver/logger"
	"github.com/nibblearena/gameserver/network"
	"github.com/nibblearena/gameserver/protocol"
)

// NoPlayer is the player id of a session that has not joined yet.
const NoPlayer = -1

// Dispatcher receives the typed inbound events of a session. It is defined
// here, consumer-side, to break the import cycle with the server package.
type Dispatcher interface {
	// HandleConnect processes a CONNECT from an unjoined session.
	HandleConnect(s *Session, playerName string)
	// HandleMove processes a PLAYER_UPDATE from a joined session.
	HandleMove(playerID int, x, y float64)
	// HandleAteFood processes an ATE_FOOD claim from a joined session.
	HandleAteFood(playerID, foodID int)
	// SessionClosed is called exactly once when the session shuts down.
	SessionClosed(s *Session)
}

// Session owns one client connection. Send may be called from any goroutine;
// frames are delivered to the client in exactly the order they were enqueued,
// with at most one write in flight at a time.
type Session struct {
	ID         string
	conn       network.Connection
	dispatcher Dispatcher

	mu         sync.Mutex
	queue      []string
	writing    bool
	drainClose bool
	closed     bool
	playerID   int

	closeOnce sync.Once
}

func NewSession(id string, conn network.Connection, dispatcher Dispatcher) *Session {
	return &Session{
		ID:         id,
		conn:       conn,
		dispatcher: dispatcher,
		playerID:   NoPlayer,
	}
}

// PlayerID returns the joined player id, or NoPlayer.
func (s *Session) PlayerID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playerID
}

// SetPlayerID marks the session as joined. Called by the dispatcher on a
// successful CONNECT.
func (s *Session) SetPlayerID(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playerID = id
}

// Start launches the read loop. Must be called exactly once.
func (s *Session) Start() {
	go s.readLoop()
}

// Send enqueues a frame for delivery. It never blocks on network I/O: if no
// write is in flight a writer goroutine is started, otherwise the running
// writer picks the frame up when it reaches the head of the queue.
func (s *Session) Send(frame string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, frame)
	if !s.writing {
		s.writing = true
		go s.writeLoop()
	}
	s.mu.Unlock()
}

// CloseAfterDrain closes the session once every queued frame has been
// written. Used for SERVER_FULL, which must reach the client before the
// connection drops.
func (s *Session) CloseAfterDrain() {
	s.mu.Lock()
	if s.writing || len(s.queue) > 0 {
		s.drainClose = true
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.Close()
}

// Close is idempotent. It closes the connection, which cancels any pending
// read or write, and notifies the dispatcher so the player is removed from
// the world.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()

		_ = s.conn.Close()
		s.dispatcher.SessionClosed(s)
	})
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) readLoop() {
	defer s.Close()
	for {
		frame, err := s.conn.ReadFrame()
		if err != nil {
			if err != io.EOF && !s.isClosed() {
				logger.Log.Debugf("session %s read error: %v", s.ID, err)
			}
			return
		}
		s.dispatch(frame)
	}
}

// dispatch decodes one frame and hands it to the coordinator. Dispatch is
// synchronous: the read loop does not await the next frame until the
// coordinator returns, so inbound requests are handled in arrival order.
func (s *Session) dispatch(frame string) {
	env, err := protocol.Decode(frame)
	if err != nil {
		// Protocol error: drop the frame, keep the session open.
		logger.Log.Warnf("session %s: dropping malformed frame: %v", s.ID, err)
		return
	}

	switch env.Type {
	case protocol.TypeConnect:
		if s.PlayerID() != NoPlayer {
			logger.Log.Warnf("session %s sent CONNECT but already joined", s.ID)
			return
		}
		var msg protocol.Connect
		if err := env.Bind(&msg); err != nil {
			logger.Log.Warnf("session %s: %v", s.ID, err)
			return
		}
		s.dispatcher.HandleConnect(s, msg.PlayerName)

	case protocol.TypePlayerUpdate:
		pid := s.PlayerID()
		if pid == NoPlayer {
			return
		}
		var msg protocol.PlayerUpdate
		if err := env.Bind(&msg); err != nil {
			logger.Log.Warnf("session %s: %v", s.ID, err)
			return
		}
		s.dispatcher.HandleMove(pid, msg.X, msg.Y)

	case protocol.TypeAteFood:
		pid := s.PlayerID()
		if pid == NoPlayer {
			return
		}
		var msg protocol.AteFood
		if err := env.Bind(&msg); err != nil {
			logger.Log.Warnf("session %s: %v", s.ID, err)
			return
		}
		s.dispatcher.HandleAteFood(pid, msg.FoodID)

	default:
		// Unknown types are tolerated so older servers survive newer clients.
	}
}

// writeLoop drains the queue one frame at a time. Only one writeLoop runs per
// session (guarded by s.writing), which is what guarantees FIFO delivery and
// no partial-frame interleaving on the wire.
func (s *Session) writeLoop() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.writing = false
			drain := s.drainClose
			s.mu.Unlock()
			if drain {
				s.Close()
			}
			return
		}
		frame := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if err := s.conn.WriteFrame(frame); err != nil {
			if !s.isClosed() {
				logger.Log.Debugf("session %s write error: %v", s.ID, err)
			}
			s.mu.Lock()
			s.writing = false
			s.mu.Unlock()
			s.Close()
			return
		}
	}
}
