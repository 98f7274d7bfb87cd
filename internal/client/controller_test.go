package client

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"huddle/internal/core/domain"

	webrtc "github.com/pion/webrtc/v3"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type emitted struct {
	Event   string
	Payload any
}

type fakeSignaler struct {
	mu     sync.Mutex
	events []emitted
}

func (f *fakeSignaler) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{Event: event, Payload: payload})
	return nil
}

func (f *fakeSignaler) byEvent(event string) []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emitted
	for _, e := range f.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func newTestController(t *testing.T) (*Controller, *fakeSignaler) {
	t.Helper()

	signaler := &fakeSignaler{}
	media, err := NewStaticMediaSource("test")
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.SweepInterval = 10 * time.Millisecond
	cfg.MaxSweeps = 2

	controller := NewController(cfg, signaler, media, zap.NewNop().Sugar())
	return controller, signaler
}

func deliver(t *testing.T, c *Controller, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, c.HandleEvent(event, raw))
}

func connect(t *testing.T, c *Controller, id domain.ConnectionID) {
	t.Helper()
	deliver(t, c, domain.EventConnected, map[string]domain.ConnectionID{"connection_id": id})
	require.Equal(t, id, c.ConnectionID())
}

func TestJoinSendsJoinRequest(t *testing.T) {
	c, signaler := newTestController(t)
	connect(t, c, "aaa")

	require.NoError(t, c.Join("m1", "Alice"))

	joins := signaler.byEvent(domain.EventJoinMeeting)
	require.Len(t, joins, 1)
	req := joins[0].Payload.(domain.JoinRequest)
	assert.Equal(t, domain.MeetingID("m1"), req.MeetingID)
	assert.Equal(t, "Alice", req.UserName)
}

func TestJoinFailsWhenMediaDenied(t *testing.T) {
	signaler := &fakeSignaler{}
	c := NewController(DefaultConfig(), signaler, deniedMedia{}, zap.NewNop().Sugar())

	err := c.Join("m1", "Alice")
	require.Error(t, err)
	assert.Empty(t, signaler.byEvent(domain.EventJoinMeeting), "no join attempt without media")
}

type deniedMedia struct{}

func (deniedMedia) Audio() (webrtc.TrackLocal, error)  { return nil, ErrMediaPermissionDenied }
func (deniedMedia) Video() (webrtc.TrackLocal, error)  { return nil, ErrMediaPermissionDenied }
func (deniedMedia) Screen() (webrtc.TrackLocal, error) { return nil, ErrMediaPermissionDenied }
func (deniedMedia) Close() error                       { return nil }

func TestLowerConnectionIDInitiates(t *testing.T) {
	c, signaler := newTestController(t)
	connect(t, c, "aaa")
	require.NoError(t, c.Join("m1", "Alice"))

	// A higher-sorting peer appears: we initiate.
	deliver(t, c, domain.EventUserJoined, domain.Participant{ConnectionID: "bbb", Name: "Bob"})

	offers := signaler.byEvent(domain.KindOffer)
	require.Len(t, offers, 1)
	env := offers[0].Payload.(domain.SignalEnvelope)
	assert.Equal(t, domain.ConnectionID("bbb"), env.Target)
	assert.Equal(t, domain.MeetingID("m1"), env.MeetingID)
}

func TestHigherConnectionIDWaitsForOffer(t *testing.T) {
	c, signaler := newTestController(t)
	connect(t, c, "zzz")
	require.NoError(t, c.Join("m1", "Zoe"))

	// A lower-sorting peer appears: they initiate, we stay idle.
	deliver(t, c, domain.EventUserJoined, domain.Participant{ConnectionID: "aaa", Name: "Alice"})

	assert.Empty(t, signaler.byEvent(domain.KindOffer))

	c.mu.Lock()
	rt := c.links["aaa"]
	c.mu.Unlock()
	require.NotNil(t, rt, "link exists, waiting for their offer")
	assert.Equal(t, linkIdle, rt.link.State())
}

func TestMeetingJoinedSetsUpExistingParticipants(t *testing.T) {
	c, signaler := newTestController(t)
	connect(t, c, "mmm")

	deliver(t, c, domain.EventMeetingJoined, domain.JoinSnapshot{
		Meeting: domain.Meeting{ID: "m1"},
		Participants: []domain.Participant{
			{ConnectionID: "aaa"},
			{ConnectionID: "zzz"},
		},
	})

	// Offer only to the peer we sort below.
	offers := signaler.byEvent(domain.KindOffer)
	require.Len(t, offers, 1)
	assert.Equal(t, domain.ConnectionID("zzz"), offers[0].Payload.(domain.SignalEnvelope).Target)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Len(t, c.links, 2, "links to every participant either way")
}

func TestUserLeftClosesLink(t *testing.T) {
	c, _ := newTestController(t)
	connect(t, c, "aaa")
	deliver(t, c, domain.EventUserJoined, domain.Participant{ConnectionID: "bbb"})

	c.mu.Lock()
	rt := c.links["bbb"]
	c.mu.Unlock()
	require.NotNil(t, rt)

	deliver(t, c, domain.EventUserLeft, domain.UserLeftPayload{ConnectionID: "bbb"})

	c.mu.Lock()
	_, exists := c.links["bbb"]
	c.mu.Unlock()
	assert.False(t, exists)
	assert.Equal(t, linkClosed, rt.link.State())
}

func TestInboundToggleUpdatesRoster(t *testing.T) {
	c, _ := newTestController(t)
	connect(t, c, "aaa")
	deliver(t, c, domain.EventUserJoined, domain.Participant{
		ConnectionID: "bbb",
		Media:        domain.MediaState{AudioEnabled: true, VideoEnabled: true},
	})

	deliver(t, c, domain.KindToggleAudio, domain.ToggleDelivery{From: "bbb", Enabled: false})

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.False(t, c.roster["bbb"].Media.AudioEnabled)
	assert.True(t, c.roster["bbb"].Media.VideoEnabled)
}

func TestSetScreenShareBroadcastsToggle(t *testing.T) {
	c, signaler := newTestController(t)
	connect(t, c, "aaa")
	require.NoError(t, c.Join("m1", "Alice"))
	deliver(t, c, domain.EventUserJoined, domain.Participant{ConnectionID: "bbb"})

	require.NoError(t, c.SetScreenShare(true))

	toggles := signaler.byEvent(domain.KindToggleScreenShare)
	require.Len(t, toggles, 1)
	payload := toggles[0].Payload.(domain.TogglePayload)
	assert.True(t, payload.Enabled)
	assert.Equal(t, domain.MeetingID("m1"), payload.MeetingID)
}

func TestAdmissionCallbacks(t *testing.T) {
	c, _ := newTestController(t)

	var waiting, denied string
	c.OnWaiting = func(msg string) { waiting = msg }
	c.OnDenied = func(msg string) { denied = msg }

	deliver(t, c, domain.EventWaitingForAdmission, domain.ErrorPayload{Message: "hold on"})
	deliver(t, c, domain.EventDeniedFromMeeting, domain.ErrorPayload{Message: "no entry"})

	assert.Equal(t, "hold on", waiting)
	assert.Equal(t, "no entry", denied)
}

func TestRepeatedLinkFailuresDropThePairing(t *testing.T) {
	c, _ := newTestController(t)
	c.cfg.Retry.MaxAttempts = 2
	c.cfg.Retry.InitialDelay = time.Millisecond
	c.cfg.Retry.MaxDelay = time.Millisecond

	connect(t, c, "aaa")
	require.NoError(t, c.Join("m1", "Alice"))
	deliver(t, c, domain.EventUserJoined, domain.Participant{ConnectionID: "bbb"})

	for i := 0; i < c.cfg.Retry.MaxAttempts; i++ {
		c.recoverLink("bbb")
		assert.Eventually(t, func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.links["bbb"] != nil
		}, time.Second, 5*time.Millisecond, "link rebuilt while budget remains")
	}

	// One more failed state exceeds the budget: the pairing is dropped
	// instead of recreated forever.
	c.recoverLink("bbb")

	c.mu.Lock()
	_, exists := c.links["bbb"]
	_, inRoster := c.roster["bbb"]
	c.mu.Unlock()
	assert.False(t, exists, "no rebuild once the budget is exhausted")
	assert.True(t, inRoster, "roster entry survives so an inbound offer can revive the pair")
}

func TestUserLeftClearsFailureCount(t *testing.T) {
	c, _ := newTestController(t)
	connect(t, c, "aaa")
	require.NoError(t, c.Join("m1", "Alice"))
	deliver(t, c, domain.EventUserJoined, domain.Participant{ConnectionID: "bbb"})

	c.mu.Lock()
	c.failures["bbb"] = c.cfg.Retry.MaxAttempts
	c.mu.Unlock()

	deliver(t, c, domain.EventUserLeft, domain.UserLeftPayload{ConnectionID: "bbb"})

	c.mu.Lock()
	_, tracked := c.failures["bbb"]
	c.mu.Unlock()
	assert.False(t, tracked, "stale counter would penalize a future peer with the same id")
}

func TestOfferAnswerRoundTripBetweenControllers(t *testing.T) {
	alice, aliceSignals := newTestController(t)
	bob, bobSignals := newTestController(t)

	connect(t, alice, "aaa")
	connect(t, bob, "bbb")
	require.NoError(t, alice.Join("m1", "Alice"))
	require.NoError(t, bob.Join("m1", "Bob"))

	// Bob joins after Alice: Alice sees user-joined and offers.
	deliver(t, alice, domain.EventUserJoined, domain.Participant{ConnectionID: "bbb"})
	// Bob learns about Alice from his join snapshot and waits.
	deliver(t, bob, domain.EventMeetingJoined, domain.JoinSnapshot{
		Meeting:      domain.Meeting{ID: "m1"},
		Participants: []domain.Participant{{ConnectionID: "aaa"}},
	})
	assert.Empty(t, bobSignals.byEvent(domain.KindOffer))

	offers := aliceSignals.byEvent(domain.KindOffer)
	require.Len(t, offers, 1)
	offerEnv := offers[0].Payload.(domain.SignalEnvelope)

	// Relay the offer to Bob the way the service would.
	deliver(t, bob, domain.KindOffer, domain.SignalDelivery{From: "aaa", Payload: offerEnv.Payload})

	answers := bobSignals.byEvent(domain.KindAnswer)
	require.Len(t, answers, 1)
	answerEnv := answers[0].Payload.(domain.SignalEnvelope)
	assert.Equal(t, domain.ConnectionID("aaa"), answerEnv.Target)

	deliver(t, alice, domain.KindAnswer, domain.SignalDelivery{From: "bbb", Payload: answerEnv.Payload})

	alice.mu.Lock()
	aliceLink := alice.links["bbb"]
	alice.mu.Unlock()
	bob.mu.Lock()
	bobLink := bob.links["aaa"]
	bob.mu.Unlock()

	assert.Equal(t, linkConnected, aliceLink.link.State())
	assert.Equal(t, linkConnected, bobLink.link.State())
}
