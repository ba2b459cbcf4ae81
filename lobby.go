package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Lobby is the REST side of the gateway: authentication and room directory
// calls that happen before (or outside) the websocket session.
type Lobby struct {
	cfg    *Config
	auth   *AuthState
	client *http.Client
}

func newLobby(cfg *Config, auth *AuthState) *Lobby {
	return &Lobby{
		cfg:  cfg,
		auth: auth,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// restEnvelope is the gateway's uniform REST response wrapper.
type restEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  *UserProfile `json:"user,omitempty"`
}

// RoomSummary is one entry in the public room directory.
type RoomSummary struct {
	RoomID      int64  `json:"roomId"`
	RoomName    string `json:"roomName"`
	OwnerID     int64  `json:"ownerId"`
	RoomStatus  string `json:"roomStatus"`
	GameMode    string `json:"gameModeName"`
	PlayerCount int    `json:"currentPlayerCount"`
	MaxPlayers  int    `json:"maxPlayers"`
	Private     bool   `json:"isPrivate"`
}

// CreateRoomRequest is the room creation form.
type CreateRoomRequest struct {
	RoomName    string `json:"roomName"`
	MaxPlayers  int    `json:"maxPlayers"`
	Private     bool   `json:"isPrivate"`
	Password    string `json:"password,omitempty"`
	Description string `json:"description,omitempty"`
}

// Login exchanges credentials for a bearer token and stores it. The login
// service may live on a different origin than the game gateway.
func (l *Lobby) Login(ctx context.Context, username, password string) error {
	var res loginResponse
	err := l.do(ctx, http.MethodPost, l.cfg.authURL("/api/auth/login"), loginRequest{
		Username: username,
		Password: password,
	}, &res, false)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if res.Token == "" {
		return fmt.Errorf("login: %w: response carried no token", ErrUnauthenticated)
	}
	if err := l.auth.SetToken(res.Token); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if res.User != nil {
		l.auth.SetUser(res.User)
	}
	return nil
}

// UserInfo fetches the signed-in player's profile and caches it.
func (l *Lobby) UserInfo(ctx context.Context) (*UserProfile, error) {
	var user UserProfile
	if err := l.do(ctx, http.MethodGet, l.cfg.apiURL("/api/user/info"), nil, &user, true); err != nil {
		return nil, fmt.Errorf("user info: %w", err)
	}
	l.auth.SetUser(&user)
	return &user, nil
}

// RoomList fetches the public room directory.
func (l *Lobby) RoomList(ctx context.Context) ([]RoomSummary, error) {
	var rooms []RoomSummary
	if err := l.do(ctx, http.MethodGet, l.cfg.apiURL("/api/rooms"), nil, &rooms, true); err != nil {
		return nil, fmt.Errorf("room list: %w", err)
	}
	return rooms, nil
}

// CreateRoom creates a room and returns its directory entry; joining it is a
// separate websocket exchange.
func (l *Lobby) CreateRoom(ctx context.Context, req CreateRoomRequest) (*RoomSummary, error) {
	var room RoomSummary
	if err := l.do(ctx, http.MethodPost, l.cfg.apiURL("/api/rooms"), req, &room, true); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	return &room, nil
}

// do issues one request and decodes the enveloped response into out. A 401
// clears the stored credential: the token is dead and every later call would
// fail the same way.
func (l *Lobby) do(ctx context.Context, method, url string, body, out any, authed bool) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		token := l.auth.Token()
		if token == "" {
			return ErrUnauthenticated
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusUnauthorized {
		l.auth.Clear()
		return ErrUnauthenticated
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: unexpected status %d", method, url, res.StatusCode)
	}

	var env restEnvelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Code != CodeSuccess {
		return &BusinessError{Code: env.Code, Msg: env.Msg}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
