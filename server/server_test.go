package server

import (
	"bufio"
	"encoding/json"
	"net"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nibblearena/gameserver/config"
)

func startServer(t *testing.T, mutate func(cfg *config.Config)) *GameServer {
	t.Helper()

	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	if mutate != nil {
		mutate(cfg)
	}

	srv := NewGameServer(cfg, nil)
	go func() {
		if err := srv.Start(); err != nil {
			t.Errorf("server start failed: %v", err)
		}
	}()
	t.Cleanup(srv.Stop)

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server did not start listening")
		}
		time.Sleep(2 * time.Millisecond)
	}
	return srv
}

type testClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func dial(t *testing.T, srv *GameServer) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	c := &testClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
	t.Cleanup(func() { conn.Close() })
	return c
}

func (c *testClient) send(v map[string]any) {
	c.t.Helper()
	data, err := json.Marshal(v)
	require.NoError(c.t, err)
	_, err = c.conn.Write(append(data, '\n'))
	require.NoError(c.t, err)
}

// next reads one frame, waiting at most timeout.
func (c *testClient) next(timeout time.Duration) (map[string]any, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	var msg map[string]any
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// expect skips frames until one of the wanted type arrives.
func (c *testClient) expect(msgType string) map[string]any {
	c.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		msg, err := c.next(time.Until(deadline))
		if err != nil {
			c.t.Fatalf("waiting for %s: %v", msgType, err)
		}
		if msg["type"] == msgType {
			return msg
		}
	}
	c.t.Fatalf("timed out waiting for %s", msgType)
	return nil
}

func (c *testClient) connect(name string) map[string]any {
	c.t.Helper()
	c.send(map[string]any{"type": "CONNECT", "playerName": name})
	return c.expect("WELCOME")
}

func TestE2E_ConnectReceivesWelcome(t *testing.T) {
	srv := startServer(t, nil)

	a := dial(t, srv)
	welcome := a.connect("A")

	assert.Equal(t, float64(0), welcome["playerId"])

	state := welcome["initialGameState"].(map[string]any)
	assert.Equal(t, float64(60), state["timer"])

	players := state["players"].([]any)
	require.Len(t, players, 1)
	me := players[0].(map[string]any)
	assert.Equal(t, "A", me["name"])
	assert.Equal(t, float64(1200), me["x"])
	assert.Equal(t, float64(800), me["y"])

	foods := state["foods"].([]any)
	assert.Len(t, foods, 50)
}

func TestE2E_JoinIsBroadcastToOthers(t *testing.T) {
	srv := startServer(t, nil)

	a := dial(t, srv)
	a.connect("A")

	b := dial(t, srv)
	welcomeB := b.connect("B")
	assert.Equal(t, float64(1), welcomeB["playerId"])

	joined := a.expect("PLAYER_JOINED")
	player := joined["player"].(map[string]any)
	assert.Equal(t, float64(1), player["id"])
	assert.Equal(t, "B", player["name"])
}

func TestE2E_MoveReflectedInStateUpdate(t *testing.T) {
	srv := startServer(t, nil)

	a := dial(t, srv)
	a.connect("A")
	a.send(map[string]any{"type": "PLAYER_UPDATE", "x": 999, "y": 777})

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		update := a.expect("GAME_STATE_UPDATE")
		players := update["players"].([]any)
		require.Len(t, players, 1)
		me := players[0].(map[string]any)
		if me["x"] == float64(999) && me["y"] == float64(777) {
			return
		}
	}
	t.Fatal("move never reflected in a state update")
}

func TestE2E_EatFood(t *testing.T) {
	srv := startServer(t, nil)

	a := dial(t, srv)
	a.connect("A")

	// Use a post-round-start snapshot; the welcome snapshot's foods are
	// replaced when the first join kicks the round off.
	update := a.expect("GAME_STATE_UPDATE")
	foods := update["foods"].([]any)
	require.NotEmpty(t, foods)
	food := foods[0].(map[string]any)
	foodID := food["id"].(float64)

	a.send(map[string]any{"type": "PLAYER_UPDATE", "x": food["x"], "y": food["y"]})
	a.send(map[string]any{"type": "ATE_FOOD", "foodId": foodID})

	eaten := a.expect("FOOD_EATEN")
	assert.Equal(t, foodID, eaten["foodId"])
	assert.Equal(t, float64(0), eaten["eaterPlayerId"])
	assert.Equal(t, float64(10), eaten["newScore"])
}

func TestE2E_EatFoodOutOfRangeIsSilentlyRejected(t *testing.T) {
	srv := startServer(t, nil)

	a := dial(t, srv)
	a.connect("A")

	update := a.expect("GAME_STATE_UPDATE")
	foods := update["foods"].([]any)
	require.NotEmpty(t, foods)
	food := foods[0].(map[string]any)
	foodID := food["id"].(float64)

	// Claim the food from across the map.
	a.send(map[string]any{"type": "PLAYER_UPDATE", "x": food["x"].(float64) + 500, "y": food["y"]})
	a.send(map[string]any{"type": "ATE_FOOD", "foodId": foodID})

	// No FOOD_EATEN may arrive; the food stays in subsequent snapshots.
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		msg, err := a.next(time.Until(deadline))
		if err != nil {
			break
		}
		require.NotEqual(t, "FOOD_EATEN", msg["type"])
	}

	update = a.expect("GAME_STATE_UPDATE")
	found := false
	for _, f := range update["foods"].([]any) {
		if f.(map[string]any)["id"] == foodID {
			found = true
		}
	}
	assert.True(t, found, "disputed food disappeared from the world")
}

func TestE2E_ServerFullRejection(t *testing.T) {
	srv := startServer(t, nil)

	for i, name := range []string{"A", "B", "C"} {
		c := dial(t, srv)
		welcome := c.connect(name)
		assert.Equal(t, float64(i), welcome["playerId"])
	}

	late := dial(t, srv)
	late.send(map[string]any{"type": "CONNECT", "playerName": "D"})
	late.expect("SERVER_FULL")

	// The server closes the connection after the rejection drains.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := late.next(time.Until(deadline)); err != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("rejected connection was not closed")
		}
	}
}

func TestE2E_DisconnectBroadcastsPlayerLeft(t *testing.T) {
	srv := startServer(t, nil)

	a := dial(t, srv)
	a.connect("A")

	b := dial(t, srv)
	b.connect("B")
	a.expect("PLAYER_JOINED")

	b.conn.Close()

	left := a.expect("PLAYER_LEFT")
	assert.Equal(t, float64(1), left["playerId"])
}

func TestE2E_RoundEndsByCountdown(t *testing.T) {
	srv := startServer(t, func(cfg *config.Config) {
		cfg.Game.RoundDuration = 2 * time.Second
		cfg.Game.CountdownInterval = 20 * time.Millisecond
		cfg.Game.BroadcastInterval = 20 * time.Millisecond
	})

	a := dial(t, srv)
	a.connect("A")

	over := a.expect("GAME_OVER")
	assert.Equal(t, float64(0), over["winnerId"])
	assert.Equal(t, "A", over["winnerName"])
	scores := over["scores"].([]any)
	require.Len(t, scores, 1)

	// Exactly one GAME_OVER; the timers are disarmed afterwards.
	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		msg, err := a.next(time.Until(deadline))
		if err != nil {
			break
		}
		require.NotEqual(t, "GAME_OVER", msg["type"], "GAME_OVER broadcast twice")
	}
}

func TestE2E_MalformedAndUnknownFramesAreTolerated(t *testing.T) {
	srv := startServer(t, nil)

	a := dial(t, srv)
	a.connect("A")

	_, err := a.conn.Write([]byte("this is not json\n"))
	require.NoError(t, err)
	a.send(map[string]any{"type": "TIME_TRAVEL", "to": "yesterday"})
	a.send(map[string]any{"type": "PLAYER_UPDATE", "x": 123, "y": 456})

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		update := a.expect("GAME_STATE_UPDATE")
		players := update["players"].([]any)
		require.Len(t, players, 1, "player dropped after malformed frame")
		me := players[0].(map[string]any)
		if me["x"] == float64(123) {
			return
		}
	}
	t.Fatal("session stopped processing after malformed frame")
}

func TestE2E_NewRoundAfterWorldEmpties(t *testing.T) {
	srv := startServer(t, nil)

	a := dial(t, srv)
	a.connect("A")
	a.expect("GAME_STATE_UPDATE")
	a.conn.Close()

	// The round ends when the last player leaves; the next join starts a
	// fresh one. Player ids are never reused across rounds.
	b := dial(t, srv)
	welcome := b.connect("B")
	assert.Equal(t, float64(1), welcome["playerId"])

	update := b.expect("GAME_STATE_UPDATE")
	assert.GreaterOrEqual(t, update["timer"], float64(58))
}

func TestE2E_StopFinishesRoundGracefully(t *testing.T) {
	srv := startServer(t, nil)

	a := dial(t, srv)
	a.connect("A")
	a.expect("GAME_STATE_UPDATE")

	go srv.Stop()

	over := a.expect("GAME_OVER")
	assert.Equal(t, float64(0), over["winnerId"])
}

// A round ending concurrently with a fresh join must leave the new round's
// timers armed: its countdown has to keep ticking.
func TestRoundRestartRaceKeepsNewTimersArmed(t *testing.T) {
	cfg := config.Default()
	cfg.Game.CountdownInterval = 10 * time.Millisecond
	cfg.Game.BroadcastInterval = 10 * time.Millisecond

	srv := NewGameServer(cfg, nil)
	defer srv.timers.Stop()

	for i := 0; i < 50; i++ {
		srv.mu.Lock()
		require.True(t, srv.machine.Begin())
		srv.startRoundLocked()
		srv.mu.Unlock()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			srv.endRound()
		}()
		go func() {
			defer wg.Done()
			for {
				srv.mu.Lock()
				if srv.machine.Begin() {
					srv.startRoundLocked()
					srv.mu.Unlock()
					return
				}
				srv.mu.Unlock()
				runtime.Gosched()
			}
		}()
		wg.Wait()

		before := srv.world.Snapshot().Timer
		deadline := time.Now().Add(2 * time.Second)
		for srv.world.Snapshot().Timer >= before {
			if time.Now().After(deadline) {
				t.Fatalf("iteration %d: restarted round's countdown never ticked", i)
			}
			time.Sleep(time.Millisecond)
		}

		srv.endRound()
	}
}

// Stop must not hang when connections keep arriving during shutdown: every
// accepted session is either rejected before registration or swept.
func TestStop_WithConcurrentConnects(t *testing.T) {
	srv := startServer(t, nil)
	addr := srv.Addr()

	var connMu sync.Mutex
	var conns []net.Conn
	t.Cleanup(func() {
		connMu.Lock()
		defer connMu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				conn, err := net.Dial("tcp", addr)
				if err != nil {
					return
				}
				_, _ = conn.Write([]byte(`{"type":"CONNECT","playerName":"x"}` + "\n"))
				connMu.Lock()
				conns = append(conns, conn)
				connMu.Unlock()
				time.Sleep(time.Millisecond)
			}
		}()
	}
	time.Sleep(30 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		srv.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop hung waiting for a session registered during shutdown")
	}
	wg.Wait()
}

func TestStart_BindFailure(t *testing.T) {
	blocker, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer blocker.Close()

	cfg := config.Default()
	cfg.Server.Addr = blocker.Addr().String()

	srv := NewGameServer(cfg, nil)
	assert.Error(t, srv.Start())
}
