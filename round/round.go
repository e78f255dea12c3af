// Package round implements the round lifecycle: the Idle/Running phase
// machine and final scoring.
package round

import (
	"sync"

	"github.com/nibblearena/gameserver/models"
)

type Phase int

const (
	Idle Phase = iota
	Running
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// Machine guards the round phase transitions. Begin and Finish are the only
// transitions; re-entrant calls (starting a running round, ending an ended
// one) report false and change nothing, which is what makes the countdown
// path and the last-player-leaves path safe to race.
type Machine struct {
	mu    sync.Mutex
	phase Phase
}

func NewMachine() *Machine {
	return &Machine{phase: Idle}
}

// Begin transitions Idle → Running. Returns false if already running.
func (m *Machine) Begin() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == Running {
		return false
	}
	m.phase = Running
	return true
}

// Finish transitions Running → Idle. Returns false if already idle.
func (m *Machine) Finish() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase == Idle {
		return false
	}
	m.phase = Idle
	return true
}

func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// NoWinner is the winner id broadcast when the round ends without a single
// highest scorer.
const NoWinner = -1

// Result is the outcome of a finished round.
type Result struct {
	WinnerID   int
	WinnerName string
	Scores     []models.ScoreEntry
}

// Score determines the winner: the player with strictly the highest score.
// Any tie at the maximum yields no winner ("Tie"); an empty score list
// yields "N/A".
func Score(entries []models.ScoreEntry) Result {
	winnerID := NoWinner
	winnerName := ""
	maxScore := -1

	for _, e := range entries {
		switch {
		case e.Score > maxScore:
			maxScore = e.Score
			winnerID = e.ID
			winnerName = e.Name
		case e.Score == maxScore && maxScore != -1:
			winnerID = NoWinner
			winnerName = ""
		}
	}

	if winnerID == NoWinner {
		if maxScore != -1 {
			winnerName = "Tie"
		} else {
			winnerName = "N/A"
		}
	}

	return Result{WinnerID: winnerID, WinnerName: winnerName, Scores: entries}
}
