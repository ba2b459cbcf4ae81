package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Client wires the whole session together: REST lobby, websocket transport,
// frame router, the passive state containers and the voice negotiator. It
// registers every notification handler and exposes the player actions.
type Client struct {
	cfg       *Config
	auth      *AuthState
	lobby     *Lobby
	router    *Router
	transport *Transport
	room      *RoomState
	game      *GameState
	hydrator  *Hydrator
	voice     *VoiceManager

	presenceMu sync.Mutex
	presence   PresenceUpdate
}

func NewClient(cfg *Config, engine MediaEngine) *Client {
	auth := newAuthState()
	router := newRouter(cfg, auth)
	room := newRoomState()
	game := newGameState()

	c := &Client{
		cfg:       cfg,
		auth:      auth,
		lobby:     newLobby(cfg, auth),
		router:    router,
		transport: newTransport(cfg, auth, router),
		room:      room,
		game:      game,
		hydrator:  newHydrator(cfg, room, game),
		voice:     newVoiceManager(cfg, router, auth, engine),
	}
	c.hydrator.onPresence = c.setPresence
	c.hydrator.onRoute = func(path string) {
		logf(cfg, "Resync: routed to %s", path)
	}
	c.transport.onReconnected = func(ctx context.Context) {
		if err := c.Resync(ctx); err != nil {
			logf(cfg, "Resync after reconnect failed: %v", err)
		}
	}
	c.registerHandlers()
	return c
}

// Start signs in (unless a token was provided), connects the websocket and
// opens the microphone. A machine without audio still gets a full session,
// just without voice.
func (c *Client) Start(ctx context.Context) error {
	if c.cfg.token != "" {
		if err := c.auth.SetToken(c.cfg.token); err != nil {
			return err
		}
	} else {
		if err := c.lobby.Login(ctx, c.cfg.username, c.cfg.password); err != nil {
			return err
		}
	}
	if c.auth.UserID() == 0 {
		if _, err := c.lobby.UserInfo(ctx); err != nil {
			logf(c.cfg, "User info unavailable: %v", err)
		}
	}

	if err := c.transport.Connect(ctx); err != nil {
		return err
	}

	if err := c.voice.Initialize(ctx); err != nil {
		switch {
		case errors.Is(err, ErrMediaDeviceAbsent), errors.Is(err, ErrMediaPermissionDenied):
			logf(c.cfg, "Voice disabled: %v", err)
		default:
			return err
		}
	}
	return nil
}

// Stop tears the session down: voice first, then the socket.
func (c *Client) Stop() {
	c.voice.Cleanup()
	c.transport.Close()
}

// Logout drops the credential and closes the connection; no reconnect will
// follow.
func (c *Client) Logout() {
	c.auth.Clear()
	c.Stop()
}

func (c *Client) setPresence(update PresenceUpdate) {
	c.presenceMu.Lock()
	defer c.presenceMu.Unlock()

	c.presence = update
}

// Presence returns the latest hall presence list.
func (c *Client) Presence() PresenceUpdate {
	c.presenceMu.Lock()
	defer c.presenceMu.Unlock()

	update := c.presence
	update.OnlineUsers = append([]OnlineUser(nil), c.presence.OnlineUsers...)
	return update
}

func (c *Client) registerHandlers() {
	r := c.router

	r.RegisterHandler(ModuleHall, CmdOnlineList, func(f Frame) error {
		var update PresenceUpdate
		if err := f.decode(&update); err != nil {
			return err
		}
		c.setPresence(update)
		return nil
	})

	// The gateway pushes the resynchronization payload on its own after a
	// reconnect; the client also asks for it explicitly (Resync), and the
	// correlation-first dispatch rule keeps the two paths from colliding.
	r.RegisterHandler(ModuleSystem, CmdReconnect, func(f Frame) error {
		var payload resyncPayload
		if err := f.decode(&payload); err != nil {
			return err
		}
		return c.hydrator.Hydrate(&payload, c.auth.UserID())
	})

	r.RegisterHandler(ModuleRoom, CmdRoomUpdate, c.applyRoomSnapshot)
	r.RegisterHandler(ModuleRoom, CmdRoomMembersPush, c.applyRoomSnapshot)

	r.RegisterHandler(ModuleRoom, CmdPlayerJoin, func(f Frame) error {
		var player RoomPlayer
		if err := f.decode(&player); err != nil {
			return err
		}
		c.room.AddPlayer(player)
		if err := c.voice.ConnectTo(player.PlayerID); err != nil {
			logf(c.cfg, "Voice: connect to %d failed: %v", player.PlayerID, err)
		}
		return nil
	})

	r.RegisterHandler(ModuleRoom, CmdPlayerLeave, func(f Frame) error {
		var player RoomPlayer
		if err := f.decode(&player); err != nil {
			return err
		}
		c.room.RemovePlayer(player.PlayerID)
		c.voice.DisconnectFrom(player.PlayerID)
		return nil
	})

	r.RegisterHandler(ModuleRoom, CmdPlayerPrepare, func(f Frame) error {
		var notice prepareNotice
		if err := f.decode(&notice); err != nil {
			return err
		}
		c.room.SetPrepared(notice.PlayerID, true)
		return nil
	})

	r.RegisterHandler(ModuleRoom, CmdPlayerCancelPrepare, func(f Frame) error {
		var notice prepareNotice
		if err := f.decode(&notice); err != nil {
			return err
		}
		c.room.SetPrepared(notice.PlayerID, false)
		return nil
	})

	r.RegisterHandler(ModuleGame, CmdPlayerSeats, func(f Frame) error {
		var notice seatsNotice
		if err := f.decode(&notice); err != nil {
			return err
		}
		c.game.Seat(notice.GameID, notice.PlayerIDs)
		return nil
	})

	r.RegisterHandler(ModuleGame, CmdGameStarted, func(f Frame) error {
		var notice roundNotice
		if err := f.decode(&notice); err != nil {
			return err
		}
		c.applyRound(&notice, true)
		return nil
	})

	r.RegisterHandler(ModuleGame, CmdNewRound, func(f Frame) error {
		var notice roundNotice
		if err := f.decode(&notice); err != nil {
			return err
		}
		c.applyRound(&notice, false)
		return nil
	})

	r.RegisterHandler(ModuleGame, CmdPlayerPlayed, func(f Frame) error {
		var notice playedNotice
		if err := f.decode(&notice); err != nil {
			return err
		}
		c.game.SetLastPlay(&LastPlay{PlayerID: notice.PlayerID, CardsCount: notice.CardsCount})
		c.game.SetCardCount(notice.PlayerID, notice.RemainingCards)
		c.game.SetTurn(notice.NextPlayerID)
		if notice.RoundNumber > 0 {
			c.game.SetRound(notice.RoundNumber)
		}
		return nil
	})

	r.RegisterHandler(ModuleGame, CmdChallengeResult, func(f Frame) error {
		var reveal ChallengeReveal
		if err := f.decode(&reveal); err != nil {
			return err
		}
		c.game.SetReveal(&reveal)
		c.game.SetBullets(reveal.LoserID, c.game.Bullets(reveal.LoserID)-1)
		if reveal.LoserDead {
			c.game.SetAlive(reveal.LoserID, false)
		}
		return nil
	})

	r.RegisterHandler(ModuleGame, CmdGameFinished, func(f Frame) error {
		var notice finishedNotice
		if err := f.decode(&notice); err != nil {
			return err
		}
		c.game.Finish(notice.WinnerID)
		return nil
	})

	r.RegisterHandler(ModuleGame, CmdGameLeave, func(f Frame) error {
		var notice leaveNotice
		if err := f.decode(&notice); err != nil {
			return err
		}
		c.game.SetAlive(notice.LeavePlayerID, false)
		c.game.SetCardCount(notice.LeavePlayerID, 0)
		return nil
	})
}

func (c *Client) applyRoomSnapshot(f Frame) error {
	var snapshot RoomSnapshot
	if err := f.decode(&snapshot); err != nil {
		return err
	}
	c.room.Set(&snapshot)
	return nil
}

// applyRound applies a GAME_STARTED or NEW_ROUND notice: round facts first,
// then the private per-player block.
func (c *Client) applyRound(notice *roundNotice, starting bool) {
	if starting {
		if c.game.GameID() == 0 {
			c.game.setGameID(notice.GameID)
		}
		c.game.Begin(notice.FirstPlayerID, notice.TargetCard, notice.RoundNumber)
	} else {
		c.game.NewRound(notice.FirstPlayerID, notice.TargetCard, notice.RoundNumber)
	}

	if self := notice.Self; self != nil {
		c.game.SetHand(normalizeCards(self.HandCards))
		owner := self.PlayerID
		if owner == 0 {
			owner = c.auth.UserID()
		}
		if owner != 0 {
			c.game.SetBullets(owner, self.bullets())
			c.game.SetCardCount(owner, len(normalizeCards(self.HandCards)))
		}
	}
}

// request sends one exchange and converts a business rejection into an
// error; the caller sees either a successful frame or an error, never both.
func (c *Client) request(module Module, cmd string, data any) (Frame, error) {
	f := Frame{Module: module, Cmd: cmd}
	if data != nil {
		f.Data = marshalData(data)
	}
	res, err := c.router.SendRequest(f, nil)
	if err != nil {
		return Frame{}, err
	}
	if err := businessErr(res); err != nil {
		return Frame{}, err
	}
	return res, nil
}

// JoinRoom enters a room and seeds the local snapshot from the response,
// then offers voice to everyone already seated.
func (c *Client) JoinRoom(roomID int64) error {
	res, err := c.request(ModuleRoom, CmdRoomJoin, roomRef{RoomID: roomID})
	if err != nil {
		return fmt.Errorf("join room %d: %w", roomID, err)
	}

	var snapshot RoomSnapshot
	if err := res.decode(&snapshot); err != nil {
		return fmt.Errorf("join room %d: %w", roomID, err)
	}
	c.room.Set(&snapshot)

	localID := c.auth.UserID()
	for _, p := range snapshot.Players {
		if p.PlayerID == localID {
			continue
		}
		if err := c.voice.ConnectTo(p.PlayerID); err != nil {
			logf(c.cfg, "Voice: connect to %d failed: %v", p.PlayerID, err)
		}
	}
	return nil
}

// LeaveRoom exits the current room and drops every voice session with it.
func (c *Client) LeaveRoom() error {
	roomID := c.room.RoomID()
	if roomID == 0 {
		return nil
	}
	if _, err := c.request(ModuleRoom, CmdRoomLeave, roomRef{RoomID: roomID}); err != nil {
		return fmt.Errorf("leave room %d: %w", roomID, err)
	}

	if snapshot := c.room.Current(); snapshot != nil {
		for _, p := range snapshot.Players {
			c.voice.DisconnectFrom(p.PlayerID)
		}
	}
	c.room.Clear()
	c.game.Clear()
	return nil
}

// Prepare marks the local player ready. The flag commits only on a
// confirmed exchange; the broadcast to everyone else follows separately.
func (c *Client) Prepare() error {
	if _, err := c.request(ModuleRoom, CmdPlayerPrepare, nil); err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	c.room.SetPrepared(c.auth.UserID(), true)
	return nil
}

// CancelPrepare withdraws readiness, committing on confirmation like
// Prepare.
func (c *Client) CancelPrepare() error {
	if _, err := c.request(ModuleRoom, CmdPlayerCancelPrepare, nil); err != nil {
		return fmt.Errorf("cancel prepare: %w", err)
	}
	c.room.SetPrepared(c.auth.UserID(), false)
	return nil
}

// StartGame asks the server to begin; only the room owner's request
// succeeds. Seating and the opening round arrive as broadcasts.
func (c *Client) StartGame() error {
	roomID := c.room.RoomID()
	if _, err := c.request(ModuleGame, CmdStartGame, roomRef{RoomID: roomID}); err != nil {
		return fmt.Errorf("start game: %w", err)
	}
	return nil
}

// PlayCards plays a face-down set from the local hand. The hand and turn
// update only on confirmation. A CodeMustChallenge rejection means the
// previous player is out of cards and the only legal move is Challenge;
// callers detect it with IsMustChallenge.
func (c *Client) PlayCards(cards []string) error {
	gameID := c.game.GameID()
	res, err := c.request(ModuleGame, CmdPlayCards, playCardsRequest{GameID: gameID, Cards: cards})
	if err != nil {
		return fmt.Errorf("play cards: %w", err)
	}

	played := make([]Card, 0, len(cards))
	for _, t := range cards {
		played = append(played, Card{Type: t})
	}
	c.game.RemoveFromHand(played)

	var body playCardsResponse
	if err := res.decode(&body); err == nil && body.NextPlayerID != nil {
		c.game.SetTurn(*body.NextPlayerID)
	}
	return nil
}

// Challenge calls the previous player's bluff. The outcome arrives as a
// CHALLENGE_RESULT broadcast to the whole table.
func (c *Client) Challenge() error {
	gameID := c.game.GameID()
	if _, err := c.request(ModuleGame, CmdChallenge, gameRef{GameID: gameID}); err != nil {
		return fmt.Errorf("challenge: %w", err)
	}
	return nil
}

// LeaveGame abandons the current game; the room membership survives.
func (c *Client) LeaveGame() error {
	gameID := c.game.GameID()
	if gameID == 0 {
		return nil
	}
	if _, err := c.request(ModuleGame, CmdLeaveGame, gameRef{GameID: gameID}); err != nil {
		return fmt.Errorf("leave game %d: %w", gameID, err)
	}
	c.game.Clear()
	return nil
}

// OnlineList requests the hall presence list explicitly; the server also
// pushes it unprompted.
func (c *Client) OnlineList() (PresenceUpdate, error) {
	res, err := c.request(ModuleHall, CmdOnlineList, nil)
	if err != nil {
		return PresenceUpdate{}, fmt.Errorf("online list: %w", err)
	}
	var update PresenceUpdate
	if err := res.decode(&update); err != nil {
		return PresenceUpdate{}, fmt.Errorf("online list: %w", err)
	}
	c.setPresence(update)
	return update, nil
}

// Resync requests the consolidated state payload and rebuilds the local
// containers from it. Called after every successful reconnect.
func (c *Client) Resync(ctx context.Context) error {
	res, err := c.request(ModuleSystem, CmdReconnect, nil)
	if err != nil {
		return fmt.Errorf("resync: %w", err)
	}
	var payload resyncPayload
	if err := res.decode(&payload); err != nil {
		return fmt.Errorf("resync: %w", err)
	}
	return c.hydrator.Hydrate(&payload, c.auth.UserID())
}

// IsMustChallenge reports whether err is the server's signal that a
// challenge is the only legal move.
func IsMustChallenge(err error) bool {
	var be *BusinessError
	return errors.As(err, &be) && be.Code == CodeMustChallenge
}

// Run is the process entry point behind the command line: build the client,
// start the session and serve diagnostics until interrupted.
func Run(ctx context.Context, cfg *Config) error {
	client := NewClient(cfg, newHeadlessEngine())
	if err := client.Start(ctx); err != nil {
		return err
	}
	defer client.Stop()

	return serveWeb(ctx, cfg, client)
}
