// Package protocol implements the message codec: one JSON object per frame,
// discriminated by a "type" field. Frame delimiting (the trailing newline) is
// owned by the transport in package network.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nibblearena/gameserver/models"
)

// Client → server message types.
const (
	TypeConnect      = "CONNECT"
	TypePlayerUpdate = "PLAYER_UPDATE"
	TypeAteFood      = "ATE_FOOD"
)

// Server → client message types.
const (
	TypeServerFull      = "SERVER_FULL"
	TypeWelcome         = "WELCOME"
	TypePlayerJoined    = "PLAYER_JOINED"
	TypePlayerLeft      = "PLAYER_LEFT"
	TypeFoodEaten       = "FOOD_EATEN"
	TypeFoodSpawned     = "FOOD_SPAWNED"
	TypeGameStateUpdate = "GAME_STATE_UPDATE"
	TypeGameOver        = "GAME_OVER"
)

type Connect struct {
	Type       string `json:"type"`
	PlayerName string `json:"playerName"`
}

type PlayerUpdate struct {
	Type string  `json:"type"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

type AteFood struct {
	Type   string `json:"type"`
	FoodID int    `json:"foodId"`
}

type ServerFull struct {
	Type string `json:"type"`
}

type Welcome struct {
	Type             string           `json:"type"`
	PlayerID         int              `json:"playerId"`
	InitialGameState models.GameState `json:"initialGameState"`
}

type PlayerJoined struct {
	Type   string        `json:"type"`
	Player models.Player `json:"player"`
}

type PlayerLeft struct {
	Type     string `json:"type"`
	PlayerID int    `json:"playerId"`
}

type FoodEaten struct {
	Type          string `json:"type"`
	FoodID        int    `json:"foodId"`
	EaterPlayerID int    `json:"eaterPlayerId"`
	NewScore      int    `json:"newScore"`
}

type FoodSpawned struct {
	Type string      `json:"type"`
	Food models.Food `json:"food"`
}

type GameStateUpdate struct {
	Type    string          `json:"type"`
	Timer   int             `json:"timer"`
	Players []models.Player `json:"players"`
	Foods   []models.Food   `json:"foods"`
}

type GameOver struct {
	Type       string              `json:"type"`
	WinnerID   int                 `json:"winnerId"`
	WinnerName string              `json:"winnerName"`
	Scores     []models.ScoreEntry `json:"scores"`
}

// Envelope is a decoded frame: the type discriminator plus the raw JSON so
// the dispatcher can bind it to the matching payload struct.
type Envelope struct {
	Type string
	raw  []byte
}

// Decode parses one frame. A frame with no "type" field decodes to an
// Envelope with an empty Type; the dispatcher treats it like any other
// unknown type and ignores it.
func Decode(frame string) (*Envelope, error) {
	frame = strings.TrimRight(frame, "\r\n")
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(frame), &head); err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	return &Envelope{Type: head.Type, raw: []byte(frame)}, nil
}

// Bind unmarshals the envelope's payload into v.
func (e *Envelope) Bind(v any) error {
	if err := json.Unmarshal(e.raw, v); err != nil {
		return fmt.Errorf("binding %s payload: %w", e.Type, err)
	}
	return nil
}

// Encode marshals a message struct into frame text (without the delimiter).
func Encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding frame: %w", err)
	}
	return string(data), nil
}

// MustEncode is Encode for the server-built messages whose marshalling
// cannot fail.
func MustEncode(v any) string {
	frame, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return frame
}
