package client

import (
	"sync"
	"time"

	"huddle/internal/core/domain"

	"github.com/pion/rtp"
	webrtc "github.com/pion/webrtc/v3"
)

// RenderSurface is where a remote participant's media ends up. Surfaces are
// registered by the embedding application in response to roster updates, which
// race independently with track arrival.
type RenderSurface interface {
	RenderRTP(remote domain.ConnectionID, pkt *rtp.Packet)
	Clear(remote domain.ConnectionID)
}

// remoteStream is the most recent inbound track for one remote connection.
type remoteStream struct {
	track    *webrtc.TrackRemote
	attached bool
}

// surfaceTable pairs inbound media streams with render surfaces. Either half
// may arrive first; attachment happens as soon as both are present. A bounded
// sweep re-checks unattached pairs as a fallback for missed registrations.
type surfaceTable struct {
	mu       sync.Mutex
	streams  map[domain.ConnectionID]*remoteStream
	surfaces map[domain.ConnectionID]RenderSurface
	sweeps   map[domain.ConnectionID]*time.Timer

	sweepInterval time.Duration
	maxSweeps     int

	// attach is invoked outside the table lock exactly once per (stream,
	// surface) pairing.
	attach func(remote domain.ConnectionID, track *webrtc.TrackRemote, surface RenderSurface)
}

func newSurfaceTable(sweepInterval time.Duration, maxSweeps int, attach func(domain.ConnectionID, *webrtc.TrackRemote, RenderSurface)) *surfaceTable {
	return &surfaceTable{
		streams:       make(map[domain.ConnectionID]*remoteStream),
		surfaces:      make(map[domain.ConnectionID]RenderSurface),
		sweeps:        make(map[domain.ConnectionID]*time.Timer),
		sweepInterval: sweepInterval,
		maxSweeps:     maxSweeps,
		attach:        attach,
	}
}

// OfferStream records the latest inbound track for the remote connection and
// attaches it if its surface is already registered.
func (t *surfaceTable) OfferStream(remote domain.ConnectionID, track *webrtc.TrackRemote) {
	t.mu.Lock()
	t.streams[remote] = &remoteStream{track: track}
	t.mu.Unlock()

	t.tryAttach(remote)
	t.scheduleSweep(remote, 0)
}

// RegisterSurface records the render surface for the remote connection and
// attaches the pending stream if one already arrived.
func (t *surfaceTable) RegisterSurface(remote domain.ConnectionID, surface RenderSurface) {
	t.mu.Lock()
	t.surfaces[remote] = surface
	t.mu.Unlock()

	t.tryAttach(remote)
}

func (t *surfaceTable) tryAttach(remote domain.ConnectionID) {
	t.mu.Lock()
	stream := t.streams[remote]
	surface := t.surfaces[remote]
	ready := stream != nil && !stream.attached && surface != nil
	if ready {
		stream.attached = true
		if timer := t.sweeps[remote]; timer != nil {
			timer.Stop()
			delete(t.sweeps, remote)
		}
	}
	t.mu.Unlock()

	if ready {
		t.attach(remote, stream.track, surface)
	}
}

// scheduleSweep arms the fallback re-check for one remote connection. The
// sweep gives up after maxSweeps attempts; it exists to self-heal a missed
// registration, not to poll forever.
func (t *surfaceTable) scheduleSweep(remote domain.ConnectionID, attempt int) {
	t.mu.Lock()
	if attempt >= t.maxSweeps {
		delete(t.sweeps, remote)
		t.mu.Unlock()
		return
	}

	stream := t.streams[remote]
	if stream == nil || stream.attached {
		delete(t.sweeps, remote)
		t.mu.Unlock()
		return
	}
	if timer := t.sweeps[remote]; timer != nil {
		timer.Stop()
	}
	t.sweeps[remote] = time.AfterFunc(t.sweepInterval, func() {
		t.tryAttach(remote)
		t.scheduleSweep(remote, attempt+1)
	})
	t.mu.Unlock()
}

// Drop forgets everything about the remote connection and cancels its sweep.
// Called when the corresponding link closes so no timer outlives a departed
// participant.
func (t *surfaceTable) Drop(remote domain.ConnectionID) {
	t.mu.Lock()
	if timer := t.sweeps[remote]; timer != nil {
		timer.Stop()
		delete(t.sweeps, remote)
	}
	surface := t.surfaces[remote]
	delete(t.streams, remote)
	delete(t.surfaces, remote)
	t.mu.Unlock()

	if surface != nil {
		surface.Clear(remote)
	}
}

// Reset drops every entry, used on local leave.
func (t *surfaceTable) Reset() {
	t.mu.Lock()
	remotes := make([]domain.ConnectionID, 0, len(t.streams)+len(t.surfaces))
	seen := make(map[domain.ConnectionID]bool)
	for id := range t.streams {
		if !seen[id] {
			remotes = append(remotes, id)
			seen[id] = true
		}
	}
	for id := range t.surfaces {
		if !seen[id] {
			remotes = append(remotes, id)
			seen[id] = true
		}
	}
	t.mu.Unlock()

	for _, id := range remotes {
		t.Drop(id)
	}
}
