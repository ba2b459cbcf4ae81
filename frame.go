package main

import (
	"encoding/json"
)

// Module is the closed set of business areas a frame can belong to.
type Module string

const (
	ModuleHall   Module = "HALL"
	ModuleRoom   Module = "ROOM"
	ModuleGame   Module = "GAME"
	ModuleSystem Module = "SYSTEM"
)

func (m Module) valid() bool {
	switch m {
	case ModuleHall, ModuleRoom, ModuleGame, ModuleSystem:
		return true
	}
	return false
}

// Status codes carried in Frame.Code. Anything >= CodeBusiness is a
// business-level rejection with a human-readable reason in Frame.Msg.
const (
	CodeSuccess     = 200
	CodeBadParam    = 400
	CodeForbidden   = 403
	CodeServerError = 500
	CodeBusiness    = 1000

	// The server answers PLAY_CARDS with this code when the previous player
	// is out of cards and the only legal move is a challenge.
	CodeMustChallenge = 1003
)

// System commands.
const (
	CmdHeartbeat = "HEARTBEAT"
	CmdReconnect = "RECONNECT"
)

// Hall commands.
const (
	CmdOnlineList = "ONLINE_LIST"
)

// Room commands.
const (
	CmdRoomJoin            = "ROOM_JOIN"
	CmdRoomLeave           = "ROOM_LEAVE"
	CmdRoomUpdate          = "ROOM_UPDATE"
	CmdRoomMembersPush     = "ROOM_MEMBERS_PUSH"
	CmdPlayerJoin          = "PLAYER_JOIN"
	CmdPlayerLeave         = "PLAYER_LEAVE"
	CmdPlayerPrepare       = "PLAYER_PREPARE"
	CmdPlayerCancelPrepare = "PLAYER_CANCEL_PREPARE"
	CmdSignalOffer         = "WEBRTC_OFFER"
	CmdSignalAnswer        = "WEBRTC_ANSWER"
	CmdSignalCandidate     = "WEBRTC_ICE_CANDIDATE"
)

// Game commands.
const (
	CmdStartGame       = "START_GAME"
	CmdPlayerSeats     = "PLAYER_SEATS"
	CmdGameStarted     = "GAME_STARTED"
	CmdPlayCards       = "PLAY_CARDS"
	CmdPlayerPlayed    = "PLAYER_PLAYED"
	CmdChallenge       = "CHALLENGE"
	CmdChallengeResult = "CHALLENGE_RESULT"
	CmdNewRound        = "NEW_ROUND"
	CmdGameFinished    = "GAME_FINISHED"
	CmdLeaveGame       = "LEAVE_GAME"
	CmdGameLeave       = "GAME_LEAVE"
)

// Frame is the unit of wire exchange. Requests and their responses carry a
// requestId; notifications do not.
type Frame struct {
	RequestID string          `json:"requestId,omitempty"`
	Module    Module          `json:"module"`
	Cmd       string          `json:"cmd"`
	Code      int             `json:"code"`
	Msg       string          `json:"msg"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func (f *Frame) decode(v any) error {
	if len(f.Data) == 0 {
		return nil
	}
	return json.Unmarshal(f.Data, v)
}

func marshalData(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}

// Card is the canonical card representation; the server sometimes sends hands
// as bare type tags ("Q") and sometimes as structured objects ({"type":"Q"}).
type Card struct {
	Type string `json:"type"`
	Suit string `json:"suit,omitempty"`
}

// normalizeCards accepts either encoding and returns the canonical form.
// Malformed input yields nil rather than an error; a missing hand must not
// abort the rest of whatever payload carried it.
func normalizeCards(raw json.RawMessage) []Card {
	if len(raw) == 0 {
		return nil
	}

	var cards []Card
	if err := json.Unmarshal(raw, &cards); err == nil {
		return cards
	}

	var tags []string
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil
	}
	cards = make([]Card, 0, len(tags))
	for _, t := range tags {
		cards = append(cards, Card{Type: t})
	}
	return cards
}

// RoomPlayer is one member of a room roster.
type RoomPlayer struct {
	PlayerID int64  `json:"playerId"`
	Nickname string `json:"nickname"`
	Status   string `json:"status"`
	Avatar   string `json:"avatar,omitempty"`
	Prepared bool   `json:"isPrepared"`
	Owner    bool   `json:"isOwner"`
}

// RoomSnapshot is the authoritative room state pushed by the server.
type RoomSnapshot struct {
	RoomID        int64        `json:"roomId"`
	RoomName      string       `json:"roomName"`
	OwnerID       int64        `json:"ownerId"`
	RoomStatus    string       `json:"roomStatus"`
	GameMode      string       `json:"gameModeName"`
	PlayerCount   int          `json:"currentPlayerCount"`
	MaxPlayers    int          `json:"maxPlayers"`
	OpenSlots     int          `json:"availableSlots"`
	Private       bool         `json:"isPrivate"`
	Description   string       `json:"description,omitempty"`
	Players       []RoomPlayer `json:"players"`
	CreatedAt     string       `json:"createdAt,omitempty"`
	BackgroundBGM string       `json:"backgroundMusic,omitempty"`
}

type roomRef struct {
	RoomID int64 `json:"roomId"`
}

type gameRef struct {
	GameID int64 `json:"gameId"`
}

type prepareNotice struct {
	PlayerID int64 `json:"playerId"`
	Prepared bool  `json:"isPrepared"`
}

type seatsNotice struct {
	GameID    int64   `json:"gameId"`
	PlayerIDs []int64 `json:"playerIds"`
}

// selfInfo is the private per-player block sent with GAME_STARTED, NEW_ROUND
// and the resynchronization payload. Older server builds send the cylinder
// count as bulletCount rather than bullets.
type selfInfo struct {
	PlayerID    int64           `json:"playerId"`
	UserID      int64           `json:"userId,omitempty"`
	Nickname    string          `json:"nickname,omitempty"`
	HandCards   json.RawMessage `json:"handCards"`
	Alive       bool            `json:"alive"`
	Bullets     *int            `json:"bullets,omitempty"`
	BulletCount *int            `json:"bulletCount,omitempty"`
	BulletsUsed bool            `json:"bulletsUsed,omitempty"`
}

func (s *selfInfo) bullets() int {
	switch {
	case s.Bullets != nil:
		return *s.Bullets
	case s.BulletCount != nil:
		return *s.BulletCount
	}
	return defaultBullets
}

type roundNotice struct {
	GameID        int64     `json:"gameId"`
	Self          *selfInfo `json:"gamePlayers"`
	FirstPlayerID int64     `json:"firstPlayerId"`
	TargetCard    string    `json:"targetCardType"`
	RoundNumber   int       `json:"roundNumber"`
}

type playCardsRequest struct {
	GameID int64    `json:"gameId"`
	Cards  []string `json:"cards"`
}

type playCardsResponse struct {
	NextPlayerID *int64 `json:"nextPlayerId,omitempty"`
}

type playedNotice struct {
	GameID         int64 `json:"gameId"`
	RoundNumber    int   `json:"roundNumber"`
	PlayerID       int64 `json:"playerId"`
	CardsCount     int   `json:"cardsCount"`
	RemainingCards int   `json:"remainingCards"`
	NextPlayerID   int64 `json:"nextPlayerId"`
}

// ChallengeReveal is the outcome of a bluff challenge, shown card-by-card by
// the reveal animation.
type ChallengeReveal struct {
	GameID       int64    `json:"gameId"`
	RoundNumber  int      `json:"roundNumber"`
	LastPlayerID int64    `json:"lastPlayerId"`
	PlayedCards  []string `json:"playedCards"`
	LoserID      int64    `json:"loserId"`
	LoserDead    bool     `json:"loserDead"`
}

type finishedNotice struct {
	GameID      int64  `json:"gameId"`
	WinnerID    *int64 `json:"playerId"` // nil on a draw
	TotalRounds int    `json:"totalRounds"`
}

type leaveNotice struct {
	GameID        int64 `json:"gameId"`
	RoundNumber   int   `json:"roundNumber"`
	LeavePlayerID int64 `json:"leavePlayerId"`
}

// OnlineUser is one entry in the hall presence list.
type OnlineUser struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Status   string `json:"status"`
	Location string `json:"location"`
	Nickname string `json:"nickName"`
}

// PresenceUpdate is the hall's online-user list.
type PresenceUpdate struct {
	OnlineCount int          `json:"onlineCount"`
	OnlineUsers []OnlineUser `json:"onlineUsers"`
}

// signalEnvelope wraps every voice signaling frame: the addressed relay
// payload inside a ROOM:WEBRTC_* frame.
type signalEnvelope struct {
	From int64           `json:"from"`
	To   int64           `json:"to"`
	Data json.RawMessage `json:"data"`
}

// resyncPayload is the consolidated SYSTEM:RECONNECT payload. Room and game
// sections are independent axes; each is keyed off its own id pointer.
type resyncPayload struct {
	OnlineList *PresenceUpdate `json:"onlineListResponse,omitempty"`

	RoomID      *int64       `json:"roomId,omitempty"`
	RoomName    string       `json:"roomName,omitempty"`
	OwnerID     int64        `json:"ownerId,omitempty"`
	RoomStatus  string       `json:"roomStatus,omitempty"`
	GameMode    string       `json:"gameModeName,omitempty"`
	PlayerCount int          `json:"currentPlayerCount,omitempty"`
	MaxPlayers  int          `json:"maxPlayers,omitempty"`
	OpenSlots   int          `json:"availableSlots,omitempty"`
	Private     bool         `json:"isPrivate,omitempty"`
	Description string       `json:"description,omitempty"`
	Players     []RoomPlayer `json:"players,omitempty"`

	GameID        *int64    `json:"gameId,omitempty"`
	Self          *selfInfo `json:"gamePlayers,omitempty"`
	FirstPlayerID *int64    `json:"firstPlayerId,omitempty"`
	TargetCard    string    `json:"targetCardType,omitempty"`
	RoundNumber   *int      `json:"roundNumber,omitempty"`
	PlayerIDs     []int64   `json:"playerIds,omitempty"`
	HandCounts    []int     `json:"handCards,omitempty"`
	BulletCounts  []int     `json:"bulletCounts,omitempty"`
}

func (p *resyncPayload) roomSnapshot() *RoomSnapshot {
	if p.RoomID == nil {
		return nil
	}
	return &RoomSnapshot{
		RoomID:      *p.RoomID,
		RoomName:    p.RoomName,
		OwnerID:     p.OwnerID,
		RoomStatus:  p.RoomStatus,
		GameMode:    p.GameMode,
		PlayerCount: p.PlayerCount,
		MaxPlayers:  p.MaxPlayers,
		OpenSlots:   p.OpenSlots,
		Private:     p.Private,
		Description: p.Description,
		Players:     p.Players,
	}
}
