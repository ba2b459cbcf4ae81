package main

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNormalizeCards(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want int
	}{
		{"tags", `["Q","K","A"]`, 3},
		{"objects", `[{"type":"Q","suit":"hearts"},{"type":"K"}]`, 2},
		{"empty array", `[]`, 0},
		{"malformed", `{"nope":1}`, 0},
		{"absent", ``, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cards := normalizeCards(json.RawMessage(tc.raw))
			if len(cards) != tc.want {
				t.Fatalf("got %d cards, want %d: %+v", len(cards), tc.want, cards)
			}
		})
	}

	cards := normalizeCards(json.RawMessage(`[{"type":"Q","suit":"hearts"}]`))
	if cards[0].Type != "Q" || cards[0].Suit != "hearts" {
		t.Fatalf("structured card mangled: %+v", cards[0])
	}
}

func TestSelfInfoBullets(t *testing.T) {
	if got := (&selfInfo{}).bullets(); got != defaultBullets {
		t.Fatalf("missing counts should default to %d, got %d", defaultBullets, got)
	}
	if got := (&selfInfo{Bullets: intp(3)}).bullets(); got != 3 {
		t.Fatalf("bullets field ignored: %d", got)
	}
	if got := (&selfInfo{BulletCount: intp(2)}).bullets(); got != 2 {
		t.Fatalf("bulletCount alias ignored: %d", got)
	}
	if got := (&selfInfo{Bullets: intp(4), BulletCount: intp(1)}).bullets(); got != 4 {
		t.Fatalf("bullets should win over the alias: %d", got)
	}
}

func TestBusinessErr(t *testing.T) {
	if err := businessErr(Frame{Code: CodeSuccess}); err != nil {
		t.Fatalf("success frame produced an error: %v", err)
	}

	err := businessErr(Frame{Code: CodeBusiness, Msg: "room is full"})
	var be *BusinessError
	if !errors.As(err, &be) || be.Code != CodeBusiness || be.Msg != "room is full" {
		t.Fatalf("rejection not surfaced: %v", err)
	}
}

func TestModuleValid(t *testing.T) {
	for _, m := range []Module{ModuleHall, ModuleRoom, ModuleGame, ModuleSystem} {
		if !m.valid() {
			t.Fatalf("module %q should be valid", m)
		}
	}
	if Module("CHAT").valid() {
		t.Fatal("unknown module accepted")
	}
}

func TestFrameRoundTripOmitsEmptyRequestID(t *testing.T) {
	data, err := json.Marshal(Frame{Module: ModuleRoom, Cmd: CmdRoomUpdate, Code: CodeSuccess, Msg: "success"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := raw["requestId"]; ok {
		t.Fatal("notification frames must not carry a requestId key")
	}
}
