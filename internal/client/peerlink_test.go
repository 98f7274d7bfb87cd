package client

import (
	"testing"

	webrtc "github.com/pion/webrtc/v3"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPC(t *testing.T) *webrtc.PeerConnection {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })
	return pc
}

func newTestPair(t *testing.T) (*PeerLink, *PeerLink) {
	t.Helper()

	a := newPeerLink("remote-b", newTestPC(t))
	b := newPeerLink("remote-a", newTestPC(t))

	// Without media slots the offer carries a data-less session; add a
	// transceiver so the SDP has something to negotiate.
	_, err := a.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio)
	require.NoError(t, err)

	return a, b
}

func TestOfferAnswerCycle(t *testing.T) {
	a, b := newTestPair(t)

	offer, err := a.CreateOffer()
	require.NoError(t, err)
	assert.Equal(t, linkAnswerPending, a.State())

	answer, err := b.AcceptOffer(*offer)
	require.NoError(t, err)
	assert.Equal(t, linkConnected, b.State())

	require.NoError(t, a.AcceptAnswer(*answer))
	assert.Equal(t, linkConnected, a.State())
}

func TestCreateOfferOnlyFromIdle(t *testing.T) {
	a, _ := newTestPair(t)

	_, err := a.CreateOffer()
	require.NoError(t, err)

	_, err = a.CreateOffer()
	assert.Error(t, err, "second offer while answer-pending must fail")
}

func TestAcceptOfferFailureLeavesLinkReusable(t *testing.T) {
	a, b := newTestPair(t)

	_, err := b.AcceptOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "garbage"})
	require.Error(t, err)
	assert.Equal(t, linkIdle, b.State(), "failed answer attempt must not leave the link mid-negotiation")

	// The next valid offer negotiates normally.
	offer, err := a.CreateOffer()
	require.NoError(t, err)
	_, err = b.AcceptOffer(*offer)
	require.NoError(t, err)
	assert.Equal(t, linkConnected, b.State())
}

func TestAnswerWithoutOfferFails(t *testing.T) {
	a, _ := newTestPair(t)

	err := a.AcceptAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
	assert.Error(t, err)
}

func TestEarlyICECandidatesAreQueuedThenFlushed(t *testing.T) {
	a, b := newTestPair(t)

	candidates := []webrtc.ICECandidateInit{
		{Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 50001 typ host"},
		{Candidate: "candidate:2 1 udp 2130706431 127.0.0.1 50002 typ host"},
		{Candidate: "candidate:3 1 udp 2130706431 127.0.0.1 50003 typ host"},
	}

	// Candidates arrive before the remote description: queued, never dropped.
	for _, cand := range candidates {
		require.NoError(t, b.AddICECandidate(cand))
	}
	assert.Equal(t, len(candidates), b.QueuedCandidates())

	offer, err := a.CreateOffer()
	require.NoError(t, err)

	_, err = b.AcceptOffer(*offer)
	require.NoError(t, err)
	assert.Zero(t, b.QueuedCandidates(), "queue flushed after remote description")

	// Candidates after the remote description apply immediately.
	require.NoError(t, b.AddICECandidate(webrtc.ICECandidateInit{
		Candidate: "candidate:4 1 udp 2130706431 127.0.0.1 50004 typ host",
	}))
	assert.Zero(t, b.QueuedCandidates())
}

func TestAddICECandidateAfterCloseIsNoop(t *testing.T) {
	a, _ := newTestPair(t)
	require.NoError(t, a.Close())

	assert.NoError(t, a.AddICECandidate(webrtc.ICECandidateInit{
		Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 50001 typ host",
	}))
	assert.Zero(t, a.QueuedCandidates())
}

func TestCloseIsIdempotent(t *testing.T) {
	a, _ := newTestPair(t)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.Equal(t, linkClosed, a.State())
}

func TestReplaceVideoRequiresSender(t *testing.T) {
	a, _ := newTestPair(t)

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "test",
	)
	require.NoError(t, err)

	assert.Error(t, a.ReplaceVideo(track), "no sender installed yet")

	sender, err := a.pc.AddTrack(track)
	require.NoError(t, err)
	a.setVideoSender(sender)

	replacement, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", "test",
	)
	require.NoError(t, err)
	assert.NoError(t, a.ReplaceVideo(replacement))
}
