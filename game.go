package main

import (
	"sync"
)

// Each player's revolver cylinder starts fully loaded.
const defaultBullets = 6

// AnimationPhase sequences the challenge-outcome presentation.
type AnimationPhase string

const (
	PhaseIdle    AnimationPhase = "idle"
	PhaseReveal  AnimationPhase = "reveal"
	PhasePenalty AnimationPhase = "penalty"
	PhaseOutcome AnimationPhase = "outcome"
)

// LastPlay records the most recent face-down play for the table display.
type LastPlay struct {
	PlayerID   int64
	CardsCount int
}

// GameView is a copy of the round state handed to readers.
type GameView struct {
	GameID     int64
	Started    bool
	Seats      []int64
	TurnPlayer int64
	TargetCard string
	Round      int
	Hand       []Card
	CardCounts map[int64]int
	Bullets    map[int64]int
	Alive      map[int64]bool
	LastPlay   *LastPlay
	Reveal     *ChallengeReveal
	Phase      AnimationPhase
	WinnerID   *int64
}

// GameState holds the current round snapshot. Seat order is immutable for
// the lifetime of one game; the per-seat maps are keyed by every identity in
// seat order once seating is known.
type GameState struct {
	mu         sync.Mutex
	gameID     int64
	started    bool
	seats      []int64
	turnPlayer int64
	targetCard string
	round      int
	hand       []Card
	cardCounts map[int64]int
	bullets    map[int64]int
	alive      map[int64]bool
	lastPlay   *LastPlay
	reveal     *ChallengeReveal
	phase      AnimationPhase
	winnerID   *int64
}

func newGameState() *GameState {
	g := &GameState{}
	g.resetLocked()
	return g
}

func (g *GameState) resetLocked() {
	g.gameID = 0
	g.started = false
	g.seats = nil
	g.turnPlayer = 0
	g.targetCard = ""
	g.round = 0
	g.hand = nil
	g.cardCounts = make(map[int64]int)
	g.bullets = make(map[int64]int)
	g.alive = make(map[int64]bool)
	g.lastPlay = nil
	g.reveal = nil
	g.phase = PhaseIdle
	g.winnerID = nil
}

// Clear resets everything: hand, counts, turn, reveal and animation phase.
func (g *GameState) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.resetLocked()
}

// Seat seeds a fresh game from the seating broadcast: seat order is fixed,
// everyone is alive with a full cylinder and no known card count.
func (g *GameState) Seat(gameID int64, seats []int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.resetLocked()
	g.gameID = gameID
	g.seats = append([]int64(nil), seats...)
	for _, id := range seats {
		g.alive[id] = true
		g.bullets[id] = defaultBullets
	}
}

// Begin marks the game started and applies the first round's facts.
func (g *GameState) Begin(turnPlayer int64, targetCard string, round int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.started = true
	g.turnPlayer = turnPlayer
	g.targetCard = targetCard
	g.round = round
}

// NewRound applies a fresh round: new target, new first player, reveal and
// animation state cleared.
func (g *GameState) NewRound(turnPlayer int64, targetCard string, round int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.turnPlayer = turnPlayer
	g.targetCard = targetCard
	g.round = round
	g.lastPlay = nil
	g.reveal = nil
	g.phase = PhaseIdle
}

// GameID returns the current game identity, or 0 when not in a game.
func (g *GameState) GameID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.gameID
}

func (g *GameState) setGameID(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.gameID = id
}

// SeatOf returns the seat index of the given identity, or -1 when unseated.
func (g *GameState) SeatOf(playerID int64) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, id := range g.seats {
		if id == playerID {
			return i
		}
	}
	return -1
}

// SetHand replaces the local player's private hand.
func (g *GameState) SetHand(cards []Card) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.hand = append([]Card(nil), cards...)
}

// RemoveFromHand removes the first matching card per entry; a card listed
// but not held is skipped.
func (g *GameState) RemoveFromHand(cards []Card) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, c := range cards {
		for i, held := range g.hand {
			if held.Type == c.Type && (c.Suit == "" || held.Suit == c.Suit) {
				g.hand = append(g.hand[:i], g.hand[i+1:]...)
				break
			}
		}
	}
}

// HoldsAll reports whether every listed card is present in the hand,
// counting duplicates.
func (g *GameState) HoldsAll(cards []Card) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	remaining := append([]Card(nil), g.hand...)
outer:
	for _, c := range cards {
		for i, held := range remaining {
			if held.Type == c.Type && (c.Suit == "" || held.Suit == c.Suit) {
				remaining = append(remaining[:i], remaining[i+1:]...)
				continue outer
			}
		}
		return false
	}
	return true
}

// SetTurn records whose turn it is.
func (g *GameState) SetTurn(playerID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.turnPlayer = playerID
}

// SetRound records the round counter.
func (g *GameState) SetRound(round int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.round = round
}

// SetCardCount records one seat's public card count.
func (g *GameState) SetCardCount(playerID int64, count int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.cardCounts[playerID] = count
}

// SetBullets records one seat's remaining ammunition, floored at zero.
func (g *GameState) SetBullets(playerID int64, bullets int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if bullets < 0 {
		bullets = 0
	}
	g.bullets[playerID] = bullets
}

// Bullets returns one seat's remaining ammunition; a seat never seen counts
// as a full cylinder.
func (g *GameState) Bullets(playerID int64) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	if n, ok := g.bullets[playerID]; ok {
		return n
	}
	return defaultBullets
}

// SetAlive flips one seat's elimination flag.
func (g *GameState) SetAlive(playerID int64, alive bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.alive[playerID] = alive
}

// SetLastPlay records (or clears) the most recent face-down play.
func (g *GameState) SetLastPlay(play *LastPlay) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.lastPlay = play
}

// SetReveal stores a challenge outcome and starts the reveal animation.
func (g *GameState) SetReveal(reveal *ChallengeReveal) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.reveal = reveal
	g.phase = PhaseReveal
}

// ClearReveal drops the outcome and parks the animation.
func (g *GameState) ClearReveal() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.reveal = nil
	g.phase = PhaseIdle
}

// SetPhase advances the challenge animation.
func (g *GameState) SetPhase(phase AnimationPhase) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.phase = phase
}

// Finish ends the game, keeping the final state readable until Clear.
func (g *GameState) Finish(winnerID *int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.started = false
	g.winnerID = winnerID
}

// View returns a copy of the full round state.
func (g *GameState) View() GameView {
	g.mu.Lock()
	defer g.mu.Unlock()

	view := GameView{
		GameID:     g.gameID,
		Started:    g.started,
		Seats:      append([]int64(nil), g.seats...),
		TurnPlayer: g.turnPlayer,
		TargetCard: g.targetCard,
		Round:      g.round,
		Hand:       append([]Card(nil), g.hand...),
		CardCounts: make(map[int64]int, len(g.cardCounts)),
		Bullets:    make(map[int64]int, len(g.bullets)),
		Alive:      make(map[int64]bool, len(g.alive)),
		Phase:      g.phase,
	}
	for id, n := range g.cardCounts {
		view.CardCounts[id] = n
	}
	for id, n := range g.bullets {
		view.Bullets[id] = n
	}
	for id, ok := range g.alive {
		view.Alive[id] = ok
	}
	if g.lastPlay != nil {
		play := *g.lastPlay
		view.LastPlay = &play
	}
	if g.reveal != nil {
		reveal := *g.reveal
		view.Reveal = &reveal
	}
	if g.winnerID != nil {
		winner := *g.winnerID
		view.WinnerID = &winner
	}
	return view
}
