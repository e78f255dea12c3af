// Package models holds the game data structures shared between the world
// state and the wire protocol.
package models

// Player is a connected player as seen by the world and by clients.
type Player struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Score    int     `json:"score"`
	ColorHex string  `json:"colorHex"`
}

// Food is a consumable item on the field.
type Food struct {
	ID int     `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// GameState is a full point-in-time snapshot of the world.
type GameState struct {
	Timer   int      `json:"timer"`
	Players []Player `json:"players"`
	Foods   []Food   `json:"foods"`
}

// ScoreEntry is one row of the final score list in GAME_OVER.
type ScoreEntry struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Score int    `json:"score"`
}
