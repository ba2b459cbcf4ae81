/*
Copyright © 2025 Yechayo <yechayo@riseup.net>
*/

package main

import (
	"errors"
	"fmt"
	"log"
	"time"
)

var (
	// ErrNotConnected is returned when a request is issued without a live
	// connection; the pending exchange table is never touched.
	ErrNotConnected = errors.New("not connected")

	// ErrUnauthenticated is returned when no credential is available for an
	// operation that requires one.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrTimeout rejects an exchange whose deadline elapsed before a
	// matching response arrived.
	ErrTimeout = errors.New("request timed out")

	// ErrConnectionLost rejects every exchange still pending when the
	// connection drops.
	ErrConnectionLost = errors.New("connection lost")

	// ErrMediaPermissionDenied and ErrMediaDeviceAbsent distinguish the two
	// capture failures surfaced by VoiceManager.Initialize.
	ErrMediaPermissionDenied = errors.New("microphone permission denied")
	ErrMediaDeviceAbsent     = errors.New("no microphone device found")
)

// BusinessError carries a non-200 status code from an otherwise well-formed
// response, along with the server's human-readable reason.
type BusinessError struct {
	Code int
	Msg  string
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("server rejected request (code %d): %s", e.Code, e.Msg)
}

// businessErr converts a response frame into an error when its status code
// is not a success. A nil return means the caller may use the frame's data.
func businessErr(f Frame) error {
	if f.Code == CodeSuccess {
		return nil
	}
	return &BusinessError{Code: f.Code, Msg: f.Msg}
}

func logf(cfg *Config, format string, args ...any) {
	if cfg == nil || !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}
