// Package world holds the authoritative game state: joined players, their
// sessions, active foods, and the round clock. Every mutation happens under
// one mutex; methods return copies so callers never touch shared data, and
// never perform network sends while the lock is held.
package world

import (
	"errors"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/nibblearena/gameserver/models"
	"github.com/nibblearena/gameserver/session"
)

// ErrServerFull is returned by Join when the player cap is reached.
var ErrServerFull = errors.New("server full")

// palette is cycled by join order to color new players.
var palette = []string{"#FF0000", "#00FF00", "#0000FF", "#FFFF00", "#FF00FF"}

type Config struct {
	MaxPlayers   int
	Width        float64
	Height       float64
	MaxFoods     int
	PlayerRadius float64
	FoodRadius   float64
	ScorePerFood int
	RoundSeconds int
}

// ConsumeResult reports the outcome of a consume attempt so the coordinator
// can log and broadcast outside the world lock.
type ConsumeResult struct {
	Eaten    bool
	NewScore int
	Distance float64
}

type World struct {
	cfg Config

	mu           sync.Mutex
	players      map[int]*models.Player
	sessions     map[int]*session.Session
	foods        []models.Food
	nextPlayerID int
	nextFoodID   int
	remaining    int // seconds left in the current round
}

// New creates a world pre-filled with foods so the first WELCOME snapshot is
// already populated.
func New(cfg Config) *World {
	w := &World{
		cfg:       cfg,
		players:   make(map[int]*models.Player),
		sessions:  make(map[int]*session.Session),
		remaining: cfg.RoundSeconds,
	}
	w.mu.Lock()
	w.refillFoodsLocked()
	w.mu.Unlock()
	return w
}

// Join admits a session as a new player. Player ids are unique and strictly
// increasing in join order; rejection leaves the player and session maps
// untouched. The returned snapshot is taken atomically with the insertion.
func (w *World) Join(s *session.Session, name string) (models.Player, models.GameState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.players) >= w.cfg.MaxPlayers {
		return models.Player{}, models.GameState{}, ErrServerFull
	}

	id := w.nextPlayerID
	w.nextPlayerID++

	p := &models.Player{
		ID:       id,
		Name:     name,
		X:        w.cfg.Width / 2,
		Y:        w.cfg.Height / 2,
		ColorHex: palette[len(w.sessions)%len(palette)],
	}
	w.players[id] = p
	w.sessions[id] = s
	// Assign the id while still holding the world lock so a disconnect
	// racing the join always finds its player entry.
	s.SetPlayerID(id)

	return *p, w.snapshotLocked(), nil
}

// Leave removes a player and its session. found is false for sessions that
// never joined; empty is true when the player set became empty.
func (w *World) Leave(playerID int, s *session.Session) (removed models.Player, found, empty bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	p, ok := w.players[playerID]
	if !ok || w.sessions[playerID] != s {
		return models.Player{}, false, len(w.players) == 0
	}
	removed = *p
	delete(w.players, playerID)
	delete(w.sessions, playerID)
	return removed, true, len(w.players) == 0
}

// Move overwrites a player's position. Unknown ids are a no-op; the server
// does no physics validation here beyond what Consume performs.
func (w *World) Move(playerID int, x, y float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.players[playerID]; ok {
		p.X = x
		p.Y = y
	}
}

// Consume resolves an ATE_FOOD claim. The food is removed and the score
// credited only when the server-side distance check passes; a replacement
// food is spawned in the same critical section so the field returns to
// capacity atomically. Unknown player or food ids are a no-op.
func (w *World) Consume(playerID, foodID int) (ConsumeResult, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	p, ok := w.players[playerID]
	if !ok {
		return ConsumeResult{}, false
	}

	idx := -1
	for i, f := range w.foods {
		if f.ID == foodID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ConsumeResult{}, false
	}

	food := w.foods[idx]
	dist := math.Hypot(p.X-food.X, p.Y-food.Y)
	if dist >= w.cfg.PlayerRadius+w.cfg.FoodRadius {
		return ConsumeResult{Distance: dist}, true
	}

	w.foods = append(w.foods[:idx], w.foods[idx+1:]...)
	p.Score += w.cfg.ScorePerFood
	w.spawnFoodLocked()

	return ConsumeResult{Eaten: true, NewScore: p.Score, Distance: dist}, true
}

// SpawnFood adds one food at a random in-bounds position. It is a no-op at
// capacity.
func (w *World) SpawnFood() (models.Food, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.spawnFoodLocked()
}

// ResetForRound zeroes every score, respawns the full food set, and rewinds
// the round clock.
func (w *World) ResetForRound() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range w.players {
		p.Score = 0
	}
	w.foods = w.foods[:0]
	w.refillFoodsLocked()
	w.remaining = w.cfg.RoundSeconds
}

// DecrementTimer ticks the round clock down one second and returns the
// remaining time. It never goes below zero.
func (w *World) DecrementTimer() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.remaining > 0 {
		w.remaining--
	}
	return w.remaining
}

// Snapshot returns a full copy of the current state, players sorted by id.
func (w *World) Snapshot() models.GameState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

// Scores returns the final score list, sorted by player id.
func (w *World) Scores() []models.ScoreEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	entries := make([]models.ScoreEntry, 0, len(w.players))
	for _, p := range w.players {
		entries = append(entries, models.ScoreEntry{ID: p.ID, Name: p.Name, Score: p.Score})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// SessionsSnapshot copies the joined session set so the broadcaster can send
// without holding the world lock.
func (w *World) SessionsSnapshot() []*session.Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*session.Session, 0, len(w.sessions))
	for _, s := range w.sessions {
		out = append(out, s)
	}
	return out
}

func (w *World) PlayerCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.players)
}

func (w *World) FoodCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.foods)
}

func (w *World) snapshotLocked() models.GameState {
	players := make([]models.Player, 0, len(w.players))
	for _, p := range w.players {
		players = append(players, *p)
	}
	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })

	foods := make([]models.Food, len(w.foods))
	copy(foods, w.foods)

	return models.GameState{Timer: w.remaining, Players: players, Foods: foods}
}

func (w *World) refillFoodsLocked() {
	for len(w.foods) < w.cfg.MaxFoods {
		w.spawnFoodLocked()
	}
}

// spawnFoodLocked places a food uniformly at random inside the margins so
// its radius never crosses the world edge. Food ids are never reused.
func (w *World) spawnFoodLocked() (models.Food, bool) {
	if len(w.foods) >= w.cfg.MaxFoods {
		return models.Food{}, false
	}
	r := w.cfg.FoodRadius
	f := models.Food{
		ID: w.nextFoodID,
		X:  r + rand.Float64()*(w.cfg.Width-2*r),
		Y:  r + rand.Float64()*(w.cfg.Height-2*r),
	}
	w.nextFoodID++
	w.foods = append(w.foods, f)
	return f, true
}
