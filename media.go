package main

import (
	"context"
)

// SessionDescription is one side's negotiated media description.
type SessionDescription struct {
	Type string `json:"type"` // "offer" or "answer"
	SDP  string `json:"sdp"`
}

// Candidate is one transport candidate discovered during negotiation.
type Candidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex *int   `json:"sdpMLineIndex,omitempty"`
}

// SessionCallbacks are the per-session events a peer session surfaces. All
// callbacks may fire from the engine's own goroutines.
type SessionCallbacks struct {
	// OnCandidate fires for each locally discovered candidate, to be relayed
	// to the remote peer over signaling.
	OnCandidate func(Candidate)

	// OnRemoteAudio fires when the remote peer's audio becomes playable.
	OnRemoteAudio func(AudioSink)

	// OnStateChange reports transitions of the underlying transport
	// ("connecting", "connected", "disconnected", "failed", "closed").
	OnStateChange func(string)
}

// MediaEngine abstracts the platform media stack: microphone capture and
// peer session construction. The negotiation protocol above it never touches
// codecs or devices directly.
type MediaEngine interface {
	// Capture opens the local microphone. Denied permission is reported as
	// ErrMediaPermissionDenied, a machine without an input device as
	// ErrMediaDeviceAbsent.
	Capture(ctx context.Context) (MediaCapture, error)

	// NewSession constructs one peer session carrying the given local capture.
	NewSession(capture MediaCapture, callbacks SessionCallbacks) (MediaSession, error)
}

// MediaCapture is an open local microphone track shared by every session.
type MediaCapture interface {
	SetMuted(muted bool)
	Muted() bool
	Close() error
}

// MediaSession is one peer-to-peer media connection under negotiation or
// established. Descriptions follow the usual offer/answer rules: an applied
// local offer can be discarded with Rollback before accepting a remote one.
type MediaSession interface {
	CreateOffer() (SessionDescription, error)
	CreateAnswer() (SessionDescription, error)
	SetLocalDescription(desc SessionDescription) error
	SetRemoteDescription(desc SessionDescription) error

	// Rollback discards the pending local description, returning the session
	// to its pre-offer state.
	Rollback() error

	// AddCandidate applies one remote candidate. Callers must not add
	// candidates before a remote description is set.
	AddCandidate(c Candidate) error

	Close() error
}

// AudioSink is remote audio ready for playback.
type AudioSink interface {
	SetVolume(v float64)
	Close() error
}

// headlessEngine is the engine used when no media stack is linked in: it
// reports the machine as having no input device, which disables voice while
// the rest of the session runs normally.
type headlessEngine struct{}

func newHeadlessEngine() MediaEngine {
	return headlessEngine{}
}

func (headlessEngine) Capture(ctx context.Context) (MediaCapture, error) {
	return nil, ErrMediaDeviceAbsent
}

func (headlessEngine) NewSession(capture MediaCapture, callbacks SessionCallbacks) (MediaSession, error) {
	return nil, ErrMediaDeviceAbsent
}
