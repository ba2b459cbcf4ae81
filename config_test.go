package main

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		bind:              "127.0.0.1",
		heartbeat:         30 * time.Second,
		port:              8091,
		reconnectAttempts: 5,
		reconnectDelay:    3 * time.Second,
		requestTimeout:    5 * time.Second,
		serverURL:         "http://localhost:8090",
		token:             "some-token",
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := validConfig().validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := map[string]func(c *Config){
		"port too low":      func(c *Config) { c.port = 0 },
		"port too high":     func(c *Config) { c.port = 70000 },
		"bad server url":    func(c *Config) { c.serverURL = "not a url" },
		"ftp server url":    func(c *Config) { c.serverURL = "ftp://example.com" },
		"no credentials":    func(c *Config) { c.token = "" },
		"missing password":  func(c *Config) { c.token = ""; c.username = "ana" },
		"short heartbeat":   func(c *Config) { c.heartbeat = 100 * time.Millisecond },
		"negative attempts": func(c *Config) { c.reconnectAttempts = -1 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			if err := cfg.validate(); err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}

func TestValidateAcceptsCredentialPair(t *testing.T) {
	cfg := validConfig()
	cfg.token = ""
	cfg.username = "ana"
	cfg.password = "hunter2"
	if err := cfg.validate(); err != nil {
		t.Fatalf("credential pair rejected: %v", err)
	}
}

func TestWsURL(t *testing.T) {
	cfg := &Config{serverURL: "http://localhost:8090"}
	if got := cfg.wsURL("tok"); got != "ws://localhost:8090/api/ws?token=tok" {
		t.Fatalf("wsURL = %q", got)
	}

	cfg = &Config{serverURL: "https://play.example.com/game/"}
	if got := cfg.wsURL("tok"); got != "wss://play.example.com/game/api/ws?token=tok" {
		t.Fatalf("wsURL = %q", got)
	}
}

func TestAuthURLFallsBackToServerURL(t *testing.T) {
	cfg := &Config{serverURL: "http://localhost:8090"}
	if got := cfg.authURL("/api/auth/login"); got != "http://localhost:8090/api/auth/login" {
		t.Fatalf("authURL = %q", got)
	}

	cfg.loginURL = "https://sso.example.com/"
	if got := cfg.authURL("/api/auth/login"); got != "https://sso.example.com/api/auth/login" {
		t.Fatalf("authURL = %q", got)
	}
}
