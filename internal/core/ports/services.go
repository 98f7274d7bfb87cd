package ports

import (
	"context"
	"iter"
	"time"

	"huddle/internal/core/domain"
)

// EventSender delivers a named event to a live connection. Delivery is
// best-effort, at-most-once: sending to a connection that is gone returns an
// error that callers are free to ignore.
type EventSender interface {
	Send(id domain.ConnectionID, event string, payload any) error
	IsConnected(id domain.ConnectionID) bool
}

// MeetingSpec describes a meeting to create.
type MeetingSpec struct {
	Title     string
	Mode      domain.MeetingMode
	Admission domain.AdmissionPolicy
	StartTime time.Time
	EndTime   *time.Time
}

type RegistryService interface {
	Create(ctx context.Context, spec MeetingSpec) (*domain.Meeting, error)
	Get(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error)
	ListScheduled(ctx context.Context) iter.Seq[*domain.Meeting]
	Expire(ctx context.Context, now time.Time) ([]domain.MeetingID, error)
}

type RoomService interface {
	// Join validates the meeting lifecycle and either appends the connection
	// to the roster (returning its snapshot) or, under a waiting-room policy,
	// parks it for admission and returns (nil, nil). Events to the rest of the
	// room are emitted through the EventSender.
	Join(ctx context.Context, meetingID domain.MeetingID, connID domain.ConnectionID, name string) (*domain.JoinSnapshot, error)
	Leave(ctx context.Context, meetingID domain.MeetingID, connID domain.ConnectionID) error
	Admit(ctx context.Context, meetingID domain.MeetingID, caller, connID domain.ConnectionID) error
	Deny(ctx context.Context, meetingID domain.MeetingID, caller, connID domain.ConnectionID) error

	// Roster returns value copies of the current roster, taken under the same
	// per-meeting lock that serializes Join and Leave.
	Roster(ctx context.Context, meetingID domain.MeetingID) ([]domain.Participant, error)
	// SetMediaFlag updates the media-state flag named by kind on the given
	// member's roster entry and returns copies of the other members. The write
	// runs under the per-meeting lock.
	SetMediaFlag(ctx context.Context, meetingID domain.MeetingID, connID domain.ConnectionID, kind string, enabled bool) ([]domain.Participant, error)
}

type RelayService interface {
	// Relay routes a negotiation or media-state message. Negotiation kinds
	// require a target and are unicast; state kinds are broadcast to every
	// roster member except the sender. The sender identity on the outbound
	// message is always connID, never caller-supplied.
	Relay(ctx context.Context, senderID domain.ConnectionID, kind string, env domain.SignalEnvelope) error
	Toggle(ctx context.Context, senderID domain.ConnectionID, kind string, payload domain.TogglePayload) error
}
