package client

import (
	"fmt"
	"sync"

	"huddle/internal/core/domain"

	webrtc "github.com/pion/webrtc/v3"
)

type linkState int

const (
	linkIdle linkState = iota
	linkOffering
	linkAnswerPending
	linkAnswering
	linkConnected
	linkClosed
)

func (s linkState) String() string {
	switch s {
	case linkIdle:
		return "idle"
	case linkOffering:
		return "offering"
	case linkAnswerPending:
		return "answer-pending"
	case linkAnswering:
		return "answering"
	case linkConnected:
		return "connected"
	case linkClosed:
		return "closed"
	}
	return "unknown"
}

// PeerLink is the negotiation state machine for one remote participant.
// Exactly one side of a pair ever initiates; see initiates in the controller.
type PeerLink struct {
	remote domain.ConnectionID
	pc     *webrtc.PeerConnection

	mu          sync.Mutex
	state       linkState
	remoteSet   bool
	pendingICE  []webrtc.ICECandidateInit
	videoSender *webrtc.RTPSender
}

func newPeerLink(remote domain.ConnectionID, pc *webrtc.PeerConnection) *PeerLink {
	return &PeerLink{
		remote: remote,
		pc:     pc,
		state:  linkIdle,
	}
}

func (l *PeerLink) State() linkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// CreateOffer produces the local offer and moves the link to answer-pending.
// The caller sends the returned description to the remote side.
func (l *PeerLink) CreateOffer() (*webrtc.SessionDescription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != linkIdle {
		return nil, fmt.Errorf("cannot offer in state %s", l.state)
	}
	l.state = linkOffering

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		l.state = linkIdle
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		l.state = linkIdle
		return nil, fmt.Errorf("failed to set local offer: %w", err)
	}

	l.state = linkAnswerPending
	return l.pc.LocalDescription(), nil
}

// AcceptOffer applies a remote offer and produces the answer. Queued ICE
// candidates are flushed in arrival order right after the remote description
// is set.
func (l *PeerLink) AcceptOffer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != linkIdle {
		return nil, fmt.Errorf("cannot answer in state %s", l.state)
	}
	l.state = linkAnswering

	if err := l.setRemoteLocked(offer); err != nil {
		l.state = linkIdle
		return nil, err
	}

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		l.state = linkIdle
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		l.state = linkIdle
		return nil, fmt.Errorf("failed to set local answer: %w", err)
	}

	l.state = linkConnected
	return l.pc.LocalDescription(), nil
}

// AcceptAnswer applies the remote answer to an outstanding offer and flushes
// queued ICE candidates.
func (l *PeerLink) AcceptAnswer(answer webrtc.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != linkAnswerPending {
		return fmt.Errorf("unexpected answer in state %s", l.state)
	}
	if err := l.setRemoteLocked(answer); err != nil {
		return err
	}

	l.state = linkConnected
	return nil
}

func (l *PeerLink) setRemoteLocked(desc webrtc.SessionDescription) error {
	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	l.remoteSet = true

	for _, cand := range l.pendingICE {
		if err := l.pc.AddICECandidate(cand); err != nil {
			return fmt.Errorf("failed to apply queued ICE candidate: %w", err)
		}
	}
	l.pendingICE = nil
	return nil
}

// AddICECandidate applies the candidate immediately once the remote
// description is in place, and queues it FIFO otherwise. Candidates are never
// dropped for arriving early.
func (l *PeerLink) AddICECandidate(cand webrtc.ICECandidateInit) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == linkClosed {
		return nil
	}
	if !l.remoteSet {
		l.pendingICE = append(l.pendingICE, cand)
		return nil
	}
	return l.pc.AddICECandidate(cand)
}

// QueuedCandidates reports how many candidates wait for the remote
// description.
func (l *PeerLink) QueuedCandidates() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pendingICE)
}

// ReplaceVideo swaps the outgoing video track in place, without a full
// renegotiation cycle.
func (l *PeerLink) ReplaceVideo(track webrtc.TrackLocal) error {
	l.mu.Lock()
	sender := l.videoSender
	l.mu.Unlock()

	if sender == nil {
		return fmt.Errorf("link %s has no outgoing video sender", l.remote)
	}
	return sender.ReplaceTrack(track)
}

func (l *PeerLink) setVideoSender(sender *webrtc.RTPSender) {
	l.mu.Lock()
	l.videoSender = sender
	l.mu.Unlock()
}

// Close tears the link down. Safe to call more than once.
func (l *PeerLink) Close() error {
	l.mu.Lock()
	if l.state == linkClosed {
		l.mu.Unlock()
		return nil
	}
	l.state = linkClosed
	l.pendingICE = nil
	l.mu.Unlock()

	return l.pc.Close()
}
