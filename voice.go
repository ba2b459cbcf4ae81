package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// peerState tracks one remote peer through offer/answer negotiation.
type peerState int

const (
	stateAbsent peerState = iota
	stateLocalOffer
	stateRemoteOffer
	stateEstablished
	stateClosed
)

func (s peerState) String() string {
	switch s {
	case stateAbsent:
		return "absent"
	case stateLocalOffer:
		return "local-offer"
	case stateRemoteOffer:
		return "remote-offer"
	case stateEstablished:
		return "established"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// yieldsToPeer resolves offer glare. Both sides offer eagerly when a room
// fills, so simultaneous offers are routine; the side with the smaller
// identity rolls back and answers, the larger side ignores the colliding
// offer and waits for its own answer.
func yieldsToPeer(localID, remoteID int64) bool {
	return localID < remoteID
}

type voicePeer struct {
	id      int64
	state   peerState
	session MediaSession
	sink    AudioSink

	// remoteSet gates candidate application: candidates received before the
	// remote description are queued here and flushed in arrival order.
	remoteSet bool
	queued    []Candidate
}

// VoiceManager negotiates one media session per room member over the
// signaling relay. It owns the microphone capture and every peer session;
// room membership events drive ConnectTo and DisconnectFrom.
type VoiceManager struct {
	cfg    *Config
	router *Router
	auth   *AuthState
	engine MediaEngine

	// onPeerConnected and onPeerDisconnected report per-peer transport
	// transitions so the room roster can show voice status without polling.
	onPeerConnected    func(int64)
	onPeerDisconnected func(int64)

	mu      sync.Mutex
	capture MediaCapture
	peers   map[int64]*voicePeer
}

func newVoiceManager(cfg *Config, router *Router, auth *AuthState, engine MediaEngine) *VoiceManager {
	return &VoiceManager{
		cfg:    cfg,
		router: router,
		auth:   auth,
		engine: engine,
		peers:  make(map[int64]*voicePeer),
	}
}

// Initialize opens the microphone and registers the three signaling
// handlers. Safe to call again after Cleanup.
func (v *VoiceManager) Initialize(ctx context.Context) error {
	capture, err := v.engine.Capture(ctx)
	if err != nil {
		return fmt.Errorf("open microphone: %w", err)
	}

	v.mu.Lock()
	v.capture = capture
	v.mu.Unlock()

	v.router.RegisterHandler(ModuleRoom, CmdSignalOffer, v.handleOffer)
	v.router.RegisterHandler(ModuleRoom, CmdSignalAnswer, v.handleAnswer)
	v.router.RegisterHandler(ModuleRoom, CmdSignalCandidate, v.handleCandidate)
	return nil
}

// ConnectTo starts negotiation with one peer: create a session, apply a
// local offer and relay it. No-op for self or an already-active peer.
func (v *VoiceManager) ConnectTo(peerID int64) error {
	localID := v.auth.UserID()
	if peerID == localID || peerID == 0 {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	peer := v.peers[peerID]
	if peer != nil && peer.state != stateAbsent && peer.state != stateClosed {
		return nil
	}
	peer, err := v.ensureSessionLocked(peerID)
	if err != nil {
		return err
	}

	offer, err := peer.session.CreateOffer()
	if err != nil {
		return fmt.Errorf("offer for %d: %w", peerID, err)
	}
	if err := peer.session.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("apply local offer for %d: %w", peerID, err)
	}
	peer.state = stateLocalOffer

	v.sendSignal(CmdSignalOffer, peerID, offer)
	return nil
}

// DisconnectFrom tears down one peer session. Idempotent.
func (v *VoiceManager) DisconnectFrom(peerID int64) {
	v.mu.Lock()
	peer := v.peers[peerID]
	delete(v.peers, peerID)
	v.mu.Unlock()

	closePeer(peer)
}

// Cleanup tears down every session, releases the microphone and removes the
// signaling handlers.
func (v *VoiceManager) Cleanup() {
	v.router.UnregisterHandler(ModuleRoom, CmdSignalOffer)
	v.router.UnregisterHandler(ModuleRoom, CmdSignalAnswer)
	v.router.UnregisterHandler(ModuleRoom, CmdSignalCandidate)

	v.mu.Lock()
	peers := v.peers
	v.peers = make(map[int64]*voicePeer)
	capture := v.capture
	v.capture = nil
	v.mu.Unlock()

	for _, peer := range peers {
		closePeer(peer)
	}
	if capture != nil {
		capture.Close()
	}
}

// SetMuted flips the microphone without touching any session.
func (v *VoiceManager) SetMuted(muted bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.capture != nil {
		v.capture.SetMuted(muted)
	}
}

// Muted reports the microphone state; an unopened microphone counts muted.
func (v *VoiceManager) Muted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.capture == nil {
		return true
	}
	return v.capture.Muted()
}

// PeerStates returns each peer's negotiation state, for diagnostics.
func (v *VoiceManager) PeerStates() map[int64]string {
	v.mu.Lock()
	defer v.mu.Unlock()

	states := make(map[int64]string, len(v.peers))
	for id, peer := range v.peers {
		states[id] = peer.state.String()
	}
	return states
}

func closePeer(peer *voicePeer) {
	if peer == nil {
		return
	}
	peer.state = stateClosed
	if peer.sink != nil {
		peer.sink.Close()
	}
	if peer.session != nil {
		peer.session.Close()
	}
}

// ensureSessionLocked returns the peer record for id, constructing its media
// session if it has none yet. Candidates queued before the session existed
// are preserved.
func (v *VoiceManager) ensureSessionLocked(id int64) (*voicePeer, error) {
	peer := v.peers[id]
	if peer == nil {
		peer = &voicePeer{id: id}
		v.peers[id] = peer
	}
	if peer.session != nil && peer.state != stateClosed {
		return peer, nil
	}

	session, err := v.engine.NewSession(v.capture, SessionCallbacks{
		OnCandidate: func(c Candidate) {
			v.sendSignal(CmdSignalCandidate, id, c)
		},
		OnRemoteAudio: func(sink AudioSink) {
			v.mu.Lock()
			defer v.mu.Unlock()
			if p := v.peers[id]; p != nil {
				if p.sink != nil {
					p.sink.Close()
				}
				p.sink = sink
			}
		},
		OnStateChange: func(state string) {
			logf(v.cfg, "Voice: peer %d transport %s", id, state)
			switch state {
			case "connected":
				if v.onPeerConnected != nil {
					v.onPeerConnected(id)
				}
			case "failed", "disconnected", "closed":
				if v.onPeerDisconnected != nil {
					v.onPeerDisconnected(id)
				}
				if state == "failed" {
					go v.DisconnectFrom(id)
				}
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("session for %d: %w", id, err)
	}
	peer.session = session
	peer.state = stateAbsent
	peer.remoteSet = false
	return peer, nil
}

// acceptRemoteLocked applies a remote description and flushes the candidate
// queue in arrival order. The queue flushes exactly once per description.
func acceptRemoteLocked(peer *voicePeer, desc SessionDescription) error {
	if err := peer.session.SetRemoteDescription(desc); err != nil {
		return err
	}
	peer.remoteSet = true
	queued := peer.queued
	peer.queued = nil
	for _, c := range queued {
		if err := peer.session.AddCandidate(c); err != nil {
			return err
		}
	}
	return nil
}

func (v *VoiceManager) handleOffer(f Frame) error {
	env, desc, ok := v.decodeSignal(f)
	if !ok {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	peer := v.peers[env.From]
	if peer != nil && peer.state == stateLocalOffer {
		if !yieldsToPeer(v.auth.UserID(), env.From) {
			// The remote side yields; our offer stands and their answer is on
			// its way.
			logf(v.cfg, "Voice: ignoring colliding offer from %d", env.From)
			return nil
		}
		if err := peer.session.Rollback(); err != nil {
			return fmt.Errorf("rollback for %d: %w", env.From, err)
		}
		peer.state = stateAbsent
	}

	peer, err := v.ensureSessionLocked(env.From)
	if err != nil {
		return err
	}
	if err := acceptRemoteLocked(peer, *desc); err != nil {
		return fmt.Errorf("apply offer from %d: %w", env.From, err)
	}
	peer.state = stateRemoteOffer

	answer, err := peer.session.CreateAnswer()
	if err != nil {
		return fmt.Errorf("answer for %d: %w", env.From, err)
	}
	if err := peer.session.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("apply local answer for %d: %w", env.From, err)
	}
	peer.state = stateEstablished

	v.sendSignal(CmdSignalAnswer, env.From, answer)
	return nil
}

func (v *VoiceManager) handleAnswer(f Frame) error {
	env, desc, ok := v.decodeSignal(f)
	if !ok {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	peer := v.peers[env.From]
	if peer == nil || peer.state != stateLocalOffer {
		logf(v.cfg, "Voice: unexpected answer from %d, dropped", env.From)
		return nil
	}
	if err := acceptRemoteLocked(peer, *desc); err != nil {
		return fmt.Errorf("apply answer from %d: %w", env.From, err)
	}
	peer.state = stateEstablished
	return nil
}

func (v *VoiceManager) handleCandidate(f Frame) error {
	var env signalEnvelope
	if err := f.decode(&env); err != nil || !v.addressedToUs(&env) {
		return nil
	}
	var c Candidate
	if err := json.Unmarshal(env.Data, &c); err != nil {
		logf(v.cfg, "Voice: malformed candidate from %d: %v", env.From, err)
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	peer := v.peers[env.From]
	if peer == nil {
		// Candidates can outrun the offer; hold them until it lands.
		peer = &voicePeer{id: env.From}
		v.peers[env.From] = peer
	}
	if !peer.remoteSet || peer.session == nil {
		peer.queued = append(peer.queued, c)
		return nil
	}
	if err := peer.session.AddCandidate(c); err != nil {
		return fmt.Errorf("candidate from %d: %w", env.From, err)
	}
	return nil
}

func (v *VoiceManager) decodeSignal(f Frame) (*signalEnvelope, *SessionDescription, bool) {
	var env signalEnvelope
	if err := f.decode(&env); err != nil || !v.addressedToUs(&env) {
		return nil, nil, false
	}
	var desc SessionDescription
	if err := json.Unmarshal(env.Data, &desc); err != nil {
		logf(v.cfg, "Voice: malformed description from %d: %v", env.From, err)
		return nil, nil, false
	}
	return &env, &desc, true
}

// addressedToUs drops echoes of our own signals and frames relayed to
// someone else.
func (v *VoiceManager) addressedToUs(env *signalEnvelope) bool {
	localID := v.auth.UserID()
	return env.From != localID && (env.To == 0 || env.To == localID)
}

// sendSignal relays one signaling payload fire-and-forget; the reply, if
// any, arrives as its own signaling frame.
func (v *VoiceManager) sendSignal(cmd string, to int64, payload any) {
	env := signalEnvelope{
		From: v.auth.UserID(),
		To:   to,
		Data: marshalData(payload),
	}
	if _, err := v.router.SendRequest(Frame{
		Module: ModuleRoom,
		Cmd:    cmd,
		Data:   marshalData(env),
	}, &SendOptions{Fire: true}); err != nil {
		logf(v.cfg, "Voice: relay %s to %d failed: %v", cmd, to, err)
	}
}
