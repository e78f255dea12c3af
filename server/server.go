// Package server implements the coordinator: it owns the world, the session
// registry, the accept loops, and the two round timers, and exposes the
// operations sessions dispatch into.
package server

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nibblearena/gameserver/broadcast"
	"github.com/nibblearena/gameserver/config"
	"github.com/nibblearena/gameserver/logger"
	"github.com/nibblearena/gameserver/monitor"
	"github.com/nibblearena/gameserver/network"
	"github.com/nibblearena/gameserver/protocol"
	"github.com/nibblearena/gameserver/round"
	"github.com/nibblearena/gameserver/session"
	"github.com/nibblearena/gameserver/timer"
	"github.com/nibblearena/gameserver/world"
)

type GameServer struct {
	cfg *config.Config
	mon *monitor.Monitor // nil when metrics are disabled

	world       *world.World
	sessions    *session.Manager
	broadcaster *broadcast.Broadcaster
	timers      *timer.Manager
	machine     *round.Machine

	mu               sync.Mutex
	listener         net.Listener
	wsServer         *http.Server
	countdownTimerID int64
	broadcastTimerID int64

	quit      chan struct{}
	stopOnce  sync.Once
	acceptWG  sync.WaitGroup
	sessionWG sync.WaitGroup
}

func NewGameServer(cfg *config.Config, mon *monitor.Monitor) *GameServer {
	w := world.New(world.Config{
		MaxPlayers:   cfg.Game.MaxPlayers,
		Width:        cfg.Game.WorldWidth,
		Height:       cfg.Game.WorldHeight,
		MaxFoods:     cfg.Game.MaxFoods,
		PlayerRadius: cfg.Game.PlayerRadius,
		FoodRadius:   cfg.Game.FoodRadius,
		ScorePerFood: cfg.Game.ScorePerFood,
		RoundSeconds: int(cfg.Game.RoundDuration / time.Second),
	})

	return &GameServer{
		cfg:         cfg,
		mon:         mon,
		world:       w,
		sessions:    session.NewManager(),
		broadcaster: broadcast.New(w),
		timers:      timer.NewManager(),
		machine:     round.NewMachine(),
		quit:        make(chan struct{}),
	}
}

// Start binds the TCP listener (and the websocket listener if configured)
// and blocks accepting connections until Stop is called. A bind failure is
// returned to the caller; it is the one fatal startup error.
func (s *GameServer) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	logger.Log.Infof("game server listening on %s", listener.Addr())

	if s.cfg.Server.WSAddr != "" {
		if err := s.startWS(); err != nil {
			listener.Close()
			return err
		}
	}

	s.acceptWG.Add(1)
	defer s.acceptWG.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
				logger.Log.Errorf("accept error: %v", err)
				continue
			}
		}
		s.register(network.NewTCPConnection(conn))
	}
}

// Addr returns the bound TCP address, for tests that listen on :0.
func (s *GameServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// register creates and starts a session for a freshly accepted connection.
// The quit check and the registry insert share s.mu with Stop's close sweep,
// so a connection racing shutdown is either rejected here or included in the
// sweep; it can never slip in after the sweep and stall sessionWG.Wait.
func (s *GameServer) register(conn network.Connection) {
	s.mu.Lock()
	select {
	case <-s.quit:
		s.mu.Unlock()
		_ = conn.Close()
		return
	default:
	}

	sess := session.NewSession(uuid.New().String(), conn, s)
	s.sessions.Add(sess)
	s.sessionWG.Add(1)
	s.mu.Unlock()

	logger.Log.Infof("new connection from %s, session %s", conn.RemoteAddr(), sess.ID)
	sess.Start()
}

// Stop shuts the server down gracefully: the current round is finished with
// a GAME_OVER broadcast, the timers and listeners stop, and every session is
// closed once its outbound queue drains. Stop blocks until all session and
// accept goroutines have exited.
func (s *GameServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)

		s.endRound()
		s.timers.Stop()

		s.mu.Lock()
		if s.listener != nil {
			_ = s.listener.Close()
		}
		// Snapshot under s.mu: any register that won the lock before quit
		// closed is in this snapshot, any later one sees quit and bails.
		sweep := s.sessions.Snapshot()
		s.mu.Unlock()
		s.stopWS()

		for _, sess := range sweep {
			sess.CloseAfterDrain()
		}

		s.acceptWG.Wait()
		s.sessionWG.Wait()
		logger.Log.Info("server stopped")
	})
}

// --- session.Dispatcher ---

// HandleConnect admits a player or rejects the connection when the world is
// at capacity. On success the new player gets WELCOME with a full snapshot,
// everyone else gets PLAYER_JOINED, and the round starts if idle.
func (s *GameServer) HandleConnect(sess *session.Session, playerName string) {
	s.countInbound()

	player, snapshot, err := s.world.Join(sess, playerName)
	if err != nil {
		logger.Log.Warnf("connection rejected, server full. name: %s", playerName)
		sess.Send(protocol.MustEncode(protocol.ServerFull{Type: protocol.TypeServerFull}))
		sess.CloseAfterDrain()
		return
	}

	sess.Send(protocol.MustEncode(protocol.Welcome{
		Type:             protocol.TypeWelcome,
		PlayerID:         player.ID,
		InitialGameState: snapshot,
	}))
	s.broadcastFrame(protocol.MustEncode(protocol.PlayerJoined{
		Type:   protocol.TypePlayerJoined,
		Player: player,
	}), sess)

	count := s.world.PlayerCount()
	logger.Log.Infof("player %d (%s) joined, total players: %d", player.ID, playerName, count)
	if s.mon != nil {
		s.mon.SetOnlinePlayers(count)
	}

	s.mu.Lock()
	if s.machine.Begin() {
		s.startRoundLocked()
	}
	s.mu.Unlock()
}

// HandleMove overwrites the player's position. No validation here; the
// consume path is where the server disputes client claims.
func (s *GameServer) HandleMove(playerID int, x, y float64) {
	s.countInbound()
	s.world.Move(playerID, x, y)
}

// HandleAteFood resolves a consumption claim against the server-side
// distance check. A pass removes the food, credits the score, and broadcasts
// FOOD_EATEN; the replacement food rides the next state update. A fail is
// logged and otherwise silent.
func (s *GameServer) HandleAteFood(playerID, foodID int) {
	s.countInbound()

	result, known := s.world.Consume(playerID, foodID)
	if !known {
		return
	}
	if !result.Eaten {
		logger.Log.Warnf("player %d claimed food %d but collision check failed, dist: %.1f",
			playerID, foodID, result.Distance)
		return
	}

	logger.Log.Infof("player %d ate food %d, new score: %d", playerID, foodID, result.NewScore)
	if s.mon != nil {
		s.mon.IncFoodsEaten()
		s.mon.SetActiveFoods(s.world.FoodCount())
	}

	s.broadcastFrame(protocol.MustEncode(protocol.FoodEaten{
		Type:          protocol.TypeFoodEaten,
		FoodID:        foodID,
		EaterPlayerID: playerID,
		NewScore:      result.NewScore,
	}), nil)
}

// SessionClosed deregisters a closing session, removes its player if it had
// joined, and ends the round when the world empties. The world lock is
// released before round-end runs, so the leave path and the countdown path
// never nest lock acquisitions.
func (s *GameServer) SessionClosed(sess *session.Session) {
	defer s.sessionWG.Done()
	s.sessions.Remove(sess.ID)

	removed, found, empty := s.world.Leave(sess.PlayerID(), sess)
	if !found {
		logger.Log.Infof("connection closed, session %s", sess.ID)
		return
	}

	count := s.world.PlayerCount()
	logger.Log.Infof("player %d removed, total players: %d", removed.ID, count)
	if s.mon != nil {
		s.mon.SetOnlinePlayers(count)
	}

	s.broadcastFrame(protocol.MustEncode(protocol.PlayerLeft{
		Type:     protocol.TypePlayerLeft,
		PlayerID: removed.ID,
	}), nil)

	if empty {
		logger.Log.Info("all players disconnected, ending round")
		s.endRound()
	}
}

// --- round lifecycle ---

// startRoundLocked arms the round timers. Caller holds s.mu, and must have
// won the machine.Begin transition under that same lock: the phase flip and
// the timer ids always change together, so a round ending concurrently with
// a fresh join can never disarm the new round's timers.
func (s *GameServer) startRoundLocked() {
	logger.Log.Info("starting a new round")
	s.world.ResetForRound()
	if s.mon != nil {
		s.mon.SetActiveFoods(s.world.FoodCount())
	}

	s.countdownTimerID = s.timers.AddTimer(
		s.cfg.Game.CountdownInterval, s.cfg.Game.CountdownInterval, s.onCountdownTick)
	s.broadcastTimerID = s.timers.AddTimer(
		s.cfg.Game.BroadcastInterval, s.cfg.Game.BroadcastInterval, s.onBroadcastTick)
}

// endRound is safe to call from the countdown tick, the last-leave path, and
// shutdown concurrently; the phase machine lets exactly one caller through.
// The phase transition and the timer removal happen in one critical section
// so only the finished round's own timers are ever removed.
func (s *GameServer) endRound() {
	s.mu.Lock()
	if !s.machine.Finish() {
		s.mu.Unlock()
		return
	}
	s.timers.RemoveTimer(s.countdownTimerID)
	s.timers.RemoveTimer(s.broadcastTimerID)
	s.countdownTimerID = 0
	s.broadcastTimerID = 0
	s.mu.Unlock()
	logger.Log.Info("ending round")

	result := round.Score(s.world.Scores())
	s.broadcastFrame(protocol.MustEncode(protocol.GameOver{
		Type:       protocol.TypeGameOver,
		WinnerID:   result.WinnerID,
		WinnerName: result.WinnerName,
		Scores:     result.Scores,
	}), nil)

	logger.Log.Infof("GAME_OVER broadcast, winner: %s", result.WinnerName)
	if s.mon != nil {
		s.mon.IncRoundsCompleted()
	}
}

func (s *GameServer) onCountdownTick() {
	if s.machine.Phase() != round.Running {
		return
	}
	if s.world.DecrementTimer() <= 0 {
		s.endRound()
	}
}

func (s *GameServer) onBroadcastTick() {
	if s.machine.Phase() != round.Running {
		return
	}
	start := time.Now()

	snapshot := s.world.Snapshot()
	s.broadcastFrame(protocol.MustEncode(protocol.GameStateUpdate{
		Type:    protocol.TypeGameStateUpdate,
		Timer:   snapshot.Timer,
		Players: snapshot.Players,
		Foods:   snapshot.Foods,
	}), nil)

	if s.mon != nil {
		s.mon.ObserveBroadcast(time.Since(start))
	}
}

func (s *GameServer) broadcastFrame(frame string, exclude *session.Session) {
	n := s.broadcaster.Broadcast(frame, exclude)
	if s.mon != nil {
		s.mon.AddFramesSent(n)
	}
}

func (s *GameServer) countInbound() {
	if s.mon != nil {
		s.mon.IncMessagesReceived()
	}
}
