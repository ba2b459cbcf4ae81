package main

import (
	"sync"
)

// RoomState holds the current room snapshot. It is passive: the router's
// notification handlers and the hydrator are its only writers, presentation
// code only reads. A full snapshot replaces wholesale; per-member events
// patch only the addressed member and are lost if no snapshot arrived yet.
type RoomState struct {
	mu      sync.Mutex
	current *RoomSnapshot
}

func newRoomState() *RoomState {
	return &RoomState{}
}

// Set replaces the held snapshot entirely; fields absent from the new
// snapshot are dropped, never merged.
func (r *RoomState) Set(snapshot *RoomSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.current = snapshot
}

// Clear drops the snapshot.
func (r *RoomState) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.current = nil
}

// Current returns a copy of the held snapshot, or nil when not in a room.
func (r *RoomState) Current() *RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return nil
	}
	snapshot := *r.current
	snapshot.Players = append([]RoomPlayer(nil), r.current.Players...)
	return &snapshot
}

// RoomID returns the current room identity, or 0 when not in a room.
func (r *RoomState) RoomID() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return 0
	}
	return r.current.RoomID
}

func (r *RoomState) recountLocked() {
	r.current.PlayerCount = len(r.current.Players)
	if r.current.MaxPlayers > 0 {
		r.current.OpenSlots = r.current.MaxPlayers - r.current.PlayerCount
	}
}

// AddPlayer appends a member; replaces in place if the identity is already
// seated.
func (r *RoomState) AddPlayer(player RoomPlayer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return
	}
	for i := range r.current.Players {
		if r.current.Players[i].PlayerID == player.PlayerID {
			r.current.Players[i] = player
			return
		}
	}
	r.current.Players = append(r.current.Players, player)
	r.recountLocked()
}

// RemovePlayer drops the addressed member; no-op when absent.
func (r *RoomState) RemovePlayer(playerID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return
	}
	dst := r.current.Players[:0]
	for _, p := range r.current.Players {
		if p.PlayerID == playerID {
			continue
		}
		dst = append(dst, p)
	}
	r.current.Players = dst
	r.recountLocked()
}

// SetPrepared flips one member's ready flag, touching nothing else.
func (r *RoomState) SetPrepared(playerID int64, prepared bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return
	}
	for i := range r.current.Players {
		if r.current.Players[i].PlayerID == playerID {
			r.current.Players[i].Prepared = prepared
			return
		}
	}
}
