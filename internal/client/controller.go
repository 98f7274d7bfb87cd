package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"huddle/internal/core/domain"
	apperrors "huddle/pkg/errors"
	"huddle/pkg/retry"

	"github.com/pion/rtcp"
	webrtc "github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Signaler carries outbound events to the meeting service. The transport
// feeds inbound events back through Controller.HandleEvent.
type Signaler interface {
	Emit(event string, payload any) error
}

// Config tunes one controller instance.
type Config struct {
	ICEServers []webrtc.ICEServer
	Retry      retry.Config

	// Surface reconciliation fallback sweep.
	SweepInterval time.Duration
	MaxSweeps     int

	// Keyframe request cadence for inbound video.
	PLIInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Retry:         retry.DefaultConfig(),
		SweepInterval: 500 * time.Millisecond,
		MaxSweeps:     6,
		PLIInterval:   3 * time.Second,
	}
}

// linkRuntime bundles a PeerLink with the stop channel of its background
// goroutines (RTP pumps, PLI ticker).
type linkRuntime struct {
	link *PeerLink
	done chan struct{}
}

// Controller drives one participant's side of a meeting: it joins through the
// signaler, runs one PeerLink per remote participant, and pairs inbound media
// with render surfaces.
type Controller struct {
	cfg      Config
	signaler Signaler
	media    MediaSource
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	self     domain.ConnectionID
	meeting  domain.MeetingID
	userName string
	roster   map[domain.ConnectionID]domain.Participant
	links    map[domain.ConnectionID]*linkRuntime

	// Consecutive connection failures per remote, reset when a link reaches
	// connected. Recovery stops once this passes the retry budget.
	failures map[domain.ConnectionID]int

	audio   webrtc.TrackLocal
	video   webrtc.TrackLocal
	sharing bool

	surfaces *surfaceTable

	// OnWaiting and OnDenied surface admission outcomes to the embedding
	// application. Both are optional.
	OnWaiting func(message string)
	OnDenied  func(message string)
}

func NewController(cfg Config, signaler Signaler, media MediaSource, logger *zap.SugaredLogger) *Controller {
	c := &Controller{
		cfg:      cfg,
		signaler: signaler,
		media:    media,
		logger:   logger,
		roster:   make(map[domain.ConnectionID]domain.Participant),
		links:    make(map[domain.ConnectionID]*linkRuntime),
		failures: make(map[domain.ConnectionID]int),
	}
	c.surfaces = newSurfaceTable(cfg.SweepInterval, cfg.MaxSweeps, c.attachStream)
	return c
}

// ConnectionID returns the server-assigned id, empty until the connected
// event arrives.
func (c *Controller) ConnectionID() domain.ConnectionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// Join acquires local media and asks to enter the meeting. Device acquisition
// failure is terminal for the attempt; no retry.
func (c *Controller) Join(meetingID domain.MeetingID, userName string) error {
	audio, err := c.media.Audio()
	if err != nil {
		return apperrors.NewMediaAccessDeniedError(fmt.Sprintf("audio device: %v", err))
	}
	video, err := c.media.Video()
	if err != nil {
		return apperrors.NewMediaAccessDeniedError(fmt.Sprintf("video device: %v", err))
	}

	c.mu.Lock()
	c.meeting = meetingID
	c.userName = userName
	c.audio = audio
	c.video = video
	c.mu.Unlock()

	return c.signaler.Emit(domain.EventJoinMeeting, domain.JoinRequest{
		MeetingID: meetingID,
		UserName:  userName,
	})
}

// Leave tears down every PeerLink, releases local media and tells the service
// we are gone.
func (c *Controller) Leave() error {
	c.mu.Lock()
	meetingID := c.meeting
	c.meeting = ""
	runtimes := c.links
	c.links = make(map[domain.ConnectionID]*linkRuntime)
	c.roster = make(map[domain.ConnectionID]domain.Participant)
	c.failures = make(map[domain.ConnectionID]int)
	c.mu.Unlock()

	for _, rt := range runtimes {
		close(rt.done)
		rt.link.Close()
	}
	c.surfaces.Reset()
	c.media.Close()

	if meetingID == "" {
		return nil
	}
	return c.signaler.Emit(domain.EventLeaveMeeting, map[string]domain.MeetingID{
		"meeting_id": meetingID,
	})
}

// RegisterSurface binds a render surface to a remote participant. Called by
// the embedding application when it reacts to a roster update.
func (c *Controller) RegisterSurface(remote domain.ConnectionID, surface RenderSurface) {
	c.surfaces.RegisterSurface(remote, surface)
}

// Admit asks the organizer side to let a waiting participant in.
func (c *Controller) Admit(connID domain.ConnectionID) error {
	return c.sendAdmission(domain.EventAdmitParticipant, connID)
}

// Deny rejects a waiting participant.
func (c *Controller) Deny(connID domain.ConnectionID) error {
	return c.sendAdmission(domain.EventDenyParticipant, connID)
}

func (c *Controller) sendAdmission(event string, connID domain.ConnectionID) error {
	c.mu.Lock()
	meetingID := c.meeting
	c.mu.Unlock()

	return c.signaler.Emit(event, domain.AdmissionRequest{
		MeetingID:    meetingID,
		ConnectionID: connID,
	})
}

// SetAudio broadcasts the sender's microphone state.
func (c *Controller) SetAudio(enabled bool) error {
	return c.sendToggle(domain.KindToggleAudio, enabled)
}

// SetVideo broadcasts the sender's camera state.
func (c *Controller) SetVideo(enabled bool) error {
	return c.sendToggle(domain.KindToggleVideo, enabled)
}

// SetScreenShare swaps the outgoing video track between camera and screen on
// every live link via ReplaceTrack, then broadcasts the state change. No full
// renegotiation is run.
func (c *Controller) SetScreenShare(enabled bool) error {
	var track webrtc.TrackLocal
	var err error
	if enabled {
		track, err = c.media.Screen()
	} else {
		track, err = c.media.Video()
	}
	if err != nil {
		return apperrors.NewMediaAccessDeniedError(fmt.Sprintf("screen capture: %v", err))
	}

	c.mu.Lock()
	c.sharing = enabled
	runtimes := make([]*linkRuntime, 0, len(c.links))
	for _, rt := range c.links {
		runtimes = append(runtimes, rt)
	}
	c.mu.Unlock()

	for _, rt := range runtimes {
		if err := rt.link.ReplaceVideo(track); err != nil {
			c.logger.Warnw("failed to replace video track",
				"remote", rt.link.remote,
				"error", err,
			)
		}
	}

	return c.sendToggle(domain.KindToggleScreenShare, enabled)
}

func (c *Controller) sendToggle(kind string, enabled bool) error {
	c.mu.Lock()
	meetingID := c.meeting
	c.mu.Unlock()

	return c.signaler.Emit(kind, domain.TogglePayload{
		MeetingID: meetingID,
		Enabled:   enabled,
	})
}

// HandleEvent is the inbound dispatch for every event the transport receives.
func (c *Controller) HandleEvent(event string, payload json.RawMessage) error {
	switch event {
	case domain.EventConnected:
		return c.handleConnected(payload)
	case domain.EventMeetingJoined, domain.EventAdmittedToMeeting:
		return c.handleJoined(payload)
	case domain.EventUserJoined:
		return c.handleUserJoined(payload)
	case domain.EventUserLeft:
		return c.handleUserLeft(payload)
	case domain.KindOffer:
		return c.handleOffer(payload)
	case domain.KindAnswer:
		return c.handleAnswer(payload)
	case domain.KindICECandidate:
		return c.handleICECandidate(payload)
	case domain.KindToggleAudio, domain.KindToggleVideo, domain.KindToggleScreenShare:
		return c.handleToggle(event, payload)
	case domain.EventWaitingForAdmission:
		return c.handleAdmissionNotice(payload, c.OnWaiting)
	case domain.EventDeniedFromMeeting:
		return c.handleAdmissionNotice(payload, c.OnDenied)
	case domain.EventParticipantWaiting:
		// Surfaced to the organizer's UI; nothing to negotiate.
		return nil
	case domain.EventError:
		var p domain.ErrorPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		c.logger.Warnw("service reported error", "message", p.Message)
		return nil
	default:
		c.logger.Debugw("ignoring unknown event", "event", event)
		return nil
	}
}

func (c *Controller) handleConnected(payload json.RawMessage) error {
	var p struct {
		ConnectionID domain.ConnectionID `json:"connection_id"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("invalid connected payload: %w", err)
	}

	c.mu.Lock()
	c.self = p.ConnectionID
	c.mu.Unlock()

	c.logger.Infow("connected", "connection_id", p.ConnectionID)
	return nil
}

func (c *Controller) handleJoined(payload json.RawMessage) error {
	var snapshot domain.JoinSnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return fmt.Errorf("invalid join snapshot: %w", err)
	}

	c.mu.Lock()
	c.meeting = snapshot.Meeting.ID
	for _, p := range snapshot.Participants {
		c.roster[p.ConnectionID] = p
	}
	c.mu.Unlock()

	c.logger.Infow("joined meeting",
		"meeting_id", snapshot.Meeting.ID,
		"participants", len(snapshot.Participants),
		"organizer", snapshot.IsOrganizer,
	)

	for _, p := range snapshot.Participants {
		if err := c.setupPeer(p.ConnectionID); err != nil {
			c.logger.Warnw("failed to set up peer", "remote", p.ConnectionID, "error", err)
		}
	}
	return nil
}

func (c *Controller) handleUserJoined(payload json.RawMessage) error {
	var p domain.Participant
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("invalid user-joined payload: %w", err)
	}

	c.mu.Lock()
	c.roster[p.ConnectionID] = p
	c.mu.Unlock()

	return c.setupPeer(p.ConnectionID)
}

func (c *Controller) handleUserLeft(payload json.RawMessage) error {
	var p domain.UserLeftPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("invalid user-left payload: %w", err)
	}

	c.mu.Lock()
	delete(c.roster, p.ConnectionID)
	delete(c.failures, p.ConnectionID)
	rt := c.links[p.ConnectionID]
	delete(c.links, p.ConnectionID)
	c.mu.Unlock()

	if rt != nil {
		close(rt.done)
		rt.link.Close()
	}
	c.surfaces.Drop(p.ConnectionID)

	c.logger.Infow("peer left", "remote", p.ConnectionID)
	return nil
}

func (c *Controller) handleAdmissionNotice(payload json.RawMessage, cb func(string)) error {
	var p domain.ErrorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	if cb != nil {
		cb(p.Message)
	}
	return nil
}

func (c *Controller) handleToggle(kind string, payload json.RawMessage) error {
	var p domain.ToggleDelivery
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("invalid %s payload: %w", kind, err)
	}

	c.mu.Lock()
	participant, ok := c.roster[p.From]
	if ok {
		switch kind {
		case domain.KindToggleAudio:
			participant.Media.AudioEnabled = p.Enabled
		case domain.KindToggleVideo:
			participant.Media.VideoEnabled = p.Enabled
		case domain.KindToggleScreenShare:
			participant.Media.ScreenSharing = p.Enabled
		}
		c.roster[p.From] = participant
	}
	c.mu.Unlock()
	return nil
}

// initiates reports whether we open the negotiation with the remote side. The
// lexicographically lower connection id always initiates; both sides compute
// this independently.
func (c *Controller) initiates(remote domain.ConnectionID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self < remote
}

// setupPeer creates (or reuses) the link for the remote participant and, when
// we are the initiator for the pair, runs the offer leg.
func (c *Controller) setupPeer(remote domain.ConnectionID) error {
	rt, err := c.ensureLink(remote)
	if err != nil {
		return err
	}
	if !c.initiates(remote) {
		// Stay idle; the offer comes from the other side.
		return nil
	}
	if rt.link.State() != linkIdle {
		return nil
	}
	return c.sendOffer(rt.link)
}

func (c *Controller) sendOffer(link *PeerLink) error {
	offer, err := link.CreateOffer()
	if err != nil {
		return apperrors.NewNegotiationFailedError("offer creation failed", err)
	}
	return c.emitSignal(domain.KindOffer, link.remote, offer)
}

func (c *Controller) emitSignal(kind string, target domain.ConnectionID, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	meetingID := c.meeting
	c.mu.Unlock()

	return c.signaler.Emit(kind, domain.SignalEnvelope{
		MeetingID: meetingID,
		Target:    target,
		Payload:   raw,
	})
}

func (c *Controller) ensureLink(remote domain.ConnectionID) (*linkRuntime, error) {
	c.mu.Lock()
	if rt, ok := c.links[remote]; ok {
		c.mu.Unlock()
		return rt, nil
	}
	audio := c.audio
	video := c.video
	c.mu.Unlock()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: c.cfg.ICEServers})
	if err != nil {
		return nil, apperrors.NewNegotiationFailedError("peer connection creation failed", err)
	}

	link := newPeerLink(remote, pc)
	rt := &linkRuntime{link: link, done: make(chan struct{})}

	if audio != nil {
		if _, err := pc.AddTrack(audio); err != nil {
			pc.Close()
			return nil, apperrors.NewNegotiationFailedError("failed to attach audio track", err)
		}
	}
	if video != nil {
		sender, err := pc.AddTrack(video)
		if err != nil {
			pc.Close()
			return nil, apperrors.NewNegotiationFailedError("failed to attach video track", err)
		}
		link.setVideoSender(sender)
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		if err := c.emitSignal(domain.KindICECandidate, remote, cand.ToJSON()); err != nil {
			c.logger.Warnw("failed to send ICE candidate", "remote", remote, "error", err)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.handleRemoteTrack(rt, remote, track)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			c.mu.Lock()
			delete(c.failures, remote)
			c.mu.Unlock()
		case webrtc.PeerConnectionStateFailed:
			c.recoverLink(remote)
		}
	})

	c.mu.Lock()
	if existing, ok := c.links[remote]; ok {
		// Lost the race against a concurrent ensureLink.
		c.mu.Unlock()
		close(rt.done)
		pc.Close()
		return existing, nil
	}
	c.links[remote] = rt
	c.mu.Unlock()

	return rt, nil
}

func (c *Controller) handleOffer(payload json.RawMessage) error {
	from, desc, err := decodeDescription(payload)
	if err != nil {
		return err
	}

	rt, err := c.ensureLink(from)
	if err != nil {
		return err
	}

	// Glare: if we offered a peer that is actually the initiator for this
	// pair, our offer loses and the link restarts as the answering side.
	if rt.link.State() != linkIdle {
		if c.initiates(from) {
			return nil
		}
		rt, err = c.rebuildLink(from)
		if err != nil {
			return err
		}
	}

	answer, err := rt.link.AcceptOffer(desc)
	if err != nil {
		return apperrors.NewNegotiationFailedError("offer handling failed", err)
	}
	return c.emitSignal(domain.KindAnswer, from, answer)
}

func (c *Controller) handleAnswer(payload json.RawMessage) error {
	from, desc, err := decodeDescription(payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	rt := c.links[from]
	c.mu.Unlock()
	if rt == nil {
		c.logger.Warnw("answer from unknown peer", "remote", from)
		return nil
	}

	if err := rt.link.AcceptAnswer(desc); err != nil {
		return apperrors.NewNegotiationFailedError("answer handling failed", err)
	}
	return nil
}

func (c *Controller) handleICECandidate(payload json.RawMessage) error {
	var delivery domain.SignalDelivery
	if err := json.Unmarshal(payload, &delivery); err != nil {
		return fmt.Errorf("invalid ice-candidate delivery: %w", err)
	}
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(delivery.Payload, &cand); err != nil {
		return fmt.Errorf("invalid ice candidate: %w", err)
	}

	c.mu.Lock()
	rt := c.links[delivery.From]
	c.mu.Unlock()
	if rt == nil {
		c.logger.Debugw("ice candidate for unknown peer", "remote", delivery.From)
		return nil
	}
	return rt.link.AddICECandidate(cand)
}

func decodeDescription(payload json.RawMessage) (domain.ConnectionID, webrtc.SessionDescription, error) {
	var delivery domain.SignalDelivery
	if err := json.Unmarshal(payload, &delivery); err != nil {
		return "", webrtc.SessionDescription{}, fmt.Errorf("invalid signal delivery: %w", err)
	}
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(delivery.Payload, &desc); err != nil {
		return "", webrtc.SessionDescription{}, fmt.Errorf("invalid session description: %w", err)
	}
	return delivery.From, desc, nil
}

// rebuildLink closes the current link and creates a fresh one, re-running the
// tie-break. The surface association survives; only the transport restarts.
func (c *Controller) rebuildLink(remote domain.ConnectionID) (*linkRuntime, error) {
	c.mu.Lock()
	rt := c.links[remote]
	delete(c.links, remote)
	_, stillPresent := c.roster[remote]
	c.mu.Unlock()

	if rt != nil {
		close(rt.done)
		rt.link.Close()
	}
	if !stillPresent {
		return nil, fmt.Errorf("peer %s already left", remote)
	}
	return c.ensureLink(remote)
}

// recoverLink reacts to a failed connection state: close, recreate, re-offer
// when we initiate. Each failed state counts against a per-remote budget that
// only a connected link resets, so a permanently broken path is given up on
// instead of being recreated forever.
func (c *Controller) recoverLink(remote domain.ConnectionID) {
	c.mu.Lock()
	c.failures[remote]++
	n := c.failures[remote]
	c.mu.Unlock()

	if n > c.cfg.Retry.MaxAttempts {
		c.logger.Warnw("peer link recovery exhausted, dropping pairing",
			"remote", remote,
			"consecutive_failures", n,
		)
		c.dropLink(remote)
		return
	}

	go func() {
		err := retry.Do(context.Background(), c.cfg.Retry, func() error {
			rt, err := c.rebuildLink(remote)
			if err != nil {
				return err
			}
			if c.initiates(remote) {
				return c.sendOffer(rt.link)
			}
			return nil
		})
		if err != nil {
			c.logger.Warnw("peer link recovery attempt failed", "remote", remote, "error", err)
		}
	}()
}

// dropLink closes and forgets the link for the remote without touching its
// roster entry; a later inbound offer can still recreate it.
func (c *Controller) dropLink(remote domain.ConnectionID) {
	c.mu.Lock()
	rt := c.links[remote]
	delete(c.links, remote)
	c.mu.Unlock()

	if rt != nil {
		close(rt.done)
		rt.link.Close()
	}
}

// handleRemoteTrack hands the inbound track to the surface table and, for
// video, starts the keyframe request ticker.
func (c *Controller) handleRemoteTrack(rt *linkRuntime, remote domain.ConnectionID, track *webrtc.TrackRemote) {
	c.logger.Infow("remote track",
		"remote", remote,
		"kind", track.Kind().String(),
		"ssrc", track.SSRC(),
	)

	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go c.requestKeyframes(rt, track)
	}
	c.surfaces.OfferStream(remote, track)
}

// requestKeyframes sends a PLI at a fixed cadence so late joiners get a
// decodable frame promptly. Stops when the link winds down.
func (c *Controller) requestKeyframes(rt *linkRuntime, track *webrtc.TrackRemote) {
	ticker := time.NewTicker(c.cfg.PLIInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rt.done:
			return
		case <-ticker.C:
			err := rt.link.pc.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
			})
			if err != nil {
				return
			}
		}
	}
}

// attachStream is the surface table's attach callback: it starts the RTP pump
// feeding the surface.
func (c *Controller) attachStream(remote domain.ConnectionID, track *webrtc.TrackRemote, surface RenderSurface) {
	c.mu.Lock()
	rt := c.links[remote]
	c.mu.Unlock()

	done := make(chan struct{})
	if rt != nil {
		done = rt.done
	}
	go pumpTrack(remote, track, surface, done)
}

// pumpTrack copies RTP from the remote track into the render surface until
// the track ends or the link closes.
func pumpTrack(remote domain.ConnectionID, track *webrtc.TrackRemote, surface RenderSurface, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}

		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		surface.RenderRTP(remote, pkt)
	}
}
