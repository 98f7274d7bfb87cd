package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/services"
	"huddle/internal/infrastructure/repositories/memory"
	"huddle/pkg/config"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type gatewayHarness struct {
	gateway *Gateway
	server  *httptest.Server
	repo    interface {
		Create(ctx context.Context, m *domain.Meeting) error
	}
}

func newGatewayHarness(t *testing.T) *gatewayHarness {
	t.Helper()

	cfg := config.DefaultConfig()
	logger := zap.NewNop().Sugar()

	repo := memory.NewMemoryMeetingRepository()
	metrics := services.NewMetricsService(nil)

	var gateway *Gateway
	room := services.NewRoomService(repo, senderFunc(func() *Gateway { return gateway }), metrics, logger)
	relay := services.NewRelayService(room, senderFunc(func() *Gateway { return gateway }), metrics, logger)
	gateway = NewGateway(cfg, room, relay, nil, logger)

	server := httptest.NewServer(http.HandlerFunc(gateway.HandleWebSocket))
	t.Cleanup(server.Close)

	return &gatewayHarness{gateway: gateway, server: server, repo: repo}
}

// senderFunc defers EventSender resolution until the gateway exists.
type senderFunc func() *Gateway

func (f senderFunc) Send(id domain.ConnectionID, event string, payload any) error {
	return f().Send(id, event, payload)
}

func (f senderFunc) IsConnected(id domain.ConnectionID) bool {
	return f().IsConnected(id)
}

func (h *gatewayHarness) createInstantMeeting(t *testing.T, id domain.MeetingID) {
	t.Helper()
	require.NoError(t, h.repo.Create(context.Background(), &domain.Meeting{
		ID:        id,
		Title:     "test",
		Mode:      domain.ModeInstant,
		State:     domain.StateActive,
		Admission: domain.AdmissionOpen,
		StartTime: time.Now(),
	}))
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
	id   domain.ConnectionID
}

func (h *gatewayHarness) connect(t *testing.T) *testClient {
	t.Helper()

	url := "ws" + strings.TrimPrefix(h.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &testClient{t: t, conn: conn}

	event, payload := c.read()
	require.Equal(t, domain.EventConnected, event)
	var connected struct {
		ConnectionID domain.ConnectionID `json:"connection_id"`
	}
	require.NoError(t, json.Unmarshal(payload, &connected))
	require.NotEmpty(t, connected.ConnectionID)
	c.id = connected.ConnectionID
	return c
}

func (c *testClient) send(event string, payload any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(map[string]any{
		"event":   event,
		"payload": payload,
	}))
}

func (c *testClient) read() (string, json.RawMessage) {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg Envelope
	require.NoError(c.t, c.conn.ReadJSON(&msg))
	return msg.Event, msg.Payload
}

func (c *testClient) readUntil(event string) json.RawMessage {
	c.t.Helper()
	for i := 0; i < 10; i++ {
		got, payload := c.read()
		if got == event {
			return payload
		}
	}
	c.t.Fatalf("event %s never arrived", event)
	return nil
}

func (c *testClient) join(meetingID domain.MeetingID, name string) domain.JoinSnapshot {
	c.t.Helper()
	c.send(domain.EventJoinMeeting, domain.JoinRequest{MeetingID: meetingID, UserName: name})

	var snapshot domain.JoinSnapshot
	require.NoError(c.t, json.Unmarshal(c.readUntil(domain.EventMeetingJoined), &snapshot))
	return snapshot
}

func TestGatewayAssignsConnectionIDs(t *testing.T) {
	h := newGatewayHarness(t)

	a := h.connect(t)
	b := h.connect(t)

	assert.NotEmpty(t, a.id)
	assert.NotEmpty(t, b.id)
	assert.NotEqual(t, a.id, b.id)
	assert.Equal(t, 2, h.gateway.ConnectionCount())
}

func TestGatewayJoinFlow(t *testing.T) {
	h := newGatewayHarness(t)
	h.createInstantMeeting(t, "m1")

	alice := h.connect(t)
	snapshot := alice.join("m1", "Alice")
	assert.True(t, snapshot.IsOrganizer)
	assert.Empty(t, snapshot.Participants)

	bob := h.connect(t)
	bobSnapshot := bob.join("m1", "Bob")
	assert.False(t, bobSnapshot.IsOrganizer)
	require.Len(t, bobSnapshot.Participants, 1)
	assert.Equal(t, alice.id, bobSnapshot.Participants[0].ConnectionID)

	var joined domain.Participant
	require.NoError(t, json.Unmarshal(alice.readUntil(domain.EventUserJoined), &joined))
	assert.Equal(t, bob.id, joined.ConnectionID)
	assert.Equal(t, "Bob", joined.Name)
}

func TestGatewayJoinUnknownMeetingReturnsError(t *testing.T) {
	h := newGatewayHarness(t)

	c := h.connect(t)
	c.send(domain.EventJoinMeeting, domain.JoinRequest{MeetingID: "missing", UserName: "X"})

	var errPayload domain.ErrorPayload
	require.NoError(t, json.Unmarshal(c.readUntil(domain.EventError), &errPayload))
	assert.Contains(t, errPayload.Message, "not found")
}

func TestGatewayRelaysOfferToTarget(t *testing.T) {
	h := newGatewayHarness(t)
	h.createInstantMeeting(t, "m1")

	alice := h.connect(t)
	alice.join("m1", "Alice")
	bob := h.connect(t)
	bob.join("m1", "Bob")
	alice.readUntil(domain.EventUserJoined)

	alice.send(domain.KindOffer, domain.SignalEnvelope{
		MeetingID: "m1",
		Target:    bob.id,
		Payload:   json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	})

	var delivery domain.SignalDelivery
	require.NoError(t, json.Unmarshal(bob.readUntil(domain.KindOffer), &delivery))
	assert.Equal(t, alice.id, delivery.From)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(delivery.Payload))
}

func TestGatewayBroadcastsToggles(t *testing.T) {
	h := newGatewayHarness(t)
	h.createInstantMeeting(t, "m1")

	alice := h.connect(t)
	alice.join("m1", "Alice")
	bob := h.connect(t)
	bob.join("m1", "Bob")
	alice.readUntil(domain.EventUserJoined)

	bob.send(domain.KindToggleAudio, domain.TogglePayload{MeetingID: "m1", Enabled: false})

	var delivery domain.ToggleDelivery
	require.NoError(t, json.Unmarshal(alice.readUntil(domain.KindToggleAudio), &delivery))
	assert.Equal(t, bob.id, delivery.From)
	assert.False(t, delivery.Enabled)
}

func TestGatewayDisconnectTriggersLeave(t *testing.T) {
	h := newGatewayHarness(t)
	h.createInstantMeeting(t, "m1")

	alice := h.connect(t)
	alice.join("m1", "Alice")
	bob := h.connect(t)
	bob.join("m1", "Bob")
	alice.readUntil(domain.EventUserJoined)

	require.NoError(t, bob.conn.Close())

	var left domain.UserLeftPayload
	require.NoError(t, json.Unmarshal(alice.readUntil(domain.EventUserLeft), &left))
	assert.Equal(t, bob.id, left.ConnectionID)
}

func TestGatewayRejectsUnknownEvent(t *testing.T) {
	h := newGatewayHarness(t)

	c := h.connect(t)
	c.send("frobnicate", map[string]string{})

	var errPayload domain.ErrorPayload
	require.NoError(t, json.Unmarshal(c.readUntil(domain.EventError), &errPayload))
	assert.Contains(t, errPayload.Message, "frobnicate")
}
