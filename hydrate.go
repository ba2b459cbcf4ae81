package main

import (
	"fmt"
)

// Hydrator rebuilds local state from the consolidated resynchronization
// payload the server sends after a reconnect. It writes the passive state
// containers in a fixed order (presence, then room, then game) so that a
// reader observing mid-hydration never sees game state referencing a room
// that has not been applied yet.
type Hydrator struct {
	cfg  *Config
	room *RoomState
	game *GameState

	// onPresence receives the hall presence list when the payload carries one.
	onPresence func(PresenceUpdate)

	// onRoute receives the screen the player belongs on once state is applied.
	onRoute func(string)
}

func newHydrator(cfg *Config, room *RoomState, game *GameState) *Hydrator {
	return &Hydrator{cfg: cfg, room: room, game: game}
}

// Hydrate applies one resynchronization payload. localID is the signed-in
// player, used to pick the private hand out of the per-seat data. Room and
// game sections are independent: a payload may carry either, both, or
// neither, and an in-progress game can outlive its room listing.
func (h *Hydrator) Hydrate(payload *resyncPayload, localID int64) error {
	if payload == nil {
		return fmt.Errorf("resync: empty payload")
	}

	if payload.OnlineList != nil && h.onPresence != nil {
		h.onPresence(*payload.OnlineList)
	}

	if snapshot := payload.roomSnapshot(); snapshot != nil {
		h.room.Set(snapshot)
	} else {
		h.room.Clear()
	}

	if payload.GameID != nil {
		h.hydrateGame(payload, localID)
	} else {
		h.game.Clear()
	}

	if h.onRoute != nil {
		h.onRoute(routePath(payload))
	}
	return nil
}

func (h *Hydrator) hydrateGame(payload *resyncPayload, localID int64) {
	h.game.Seat(*payload.GameID, payload.PlayerIDs)
	h.game.Begin(valueOr(payload.FirstPlayerID, 0), payload.TargetCard, valueOr(payload.RoundNumber, 1))

	// The per-seat arrays zip positionally against playerIds. Seats past the
	// end of a short array get the conservative default: no known cards, a
	// full cylinder.
	for i, id := range payload.PlayerIDs {
		count := 0
		if i < len(payload.HandCounts) {
			count = payload.HandCounts[i]
		}
		h.game.SetCardCount(id, count)

		bullets := defaultBullets
		if i < len(payload.BulletCounts) {
			bullets = payload.BulletCounts[i]
		}
		h.game.SetBullets(id, bullets)
		h.game.SetAlive(id, bullets > 0)
	}

	if self := payload.Self; self != nil {
		h.game.SetHand(normalizeCards(self.HandCards))
		owner := self.PlayerID
		if owner == 0 {
			owner = localID
		}
		if owner != 0 {
			h.game.SetBullets(owner, self.bullets())
			h.game.SetAlive(owner, self.Alive)
		}
	} else {
		logf(h.cfg, "resync: game %d carries no private hand for player %d", *payload.GameID, localID)
	}
}

// routePath decides the screen a resynchronized player belongs on: a live
// game wins over its room, a room wins over the lobby.
func routePath(payload *resyncPayload) string {
	switch {
	case payload.GameID != nil:
		return fmt.Sprintf("/game/%d", *payload.GameID)
	case payload.RoomID != nil:
		return fmt.Sprintf("/room/%d", *payload.RoomID)
	}
	return "/lobby"
}

func valueOr[T any](p *T, fallback T) T {
	if p != nil {
		return *p
	}
	return fallback
}
