package domain

import "time"

type MeetingID string
type ConnectionID string

type MeetingMode string

const (
	ModeInstant   MeetingMode = "instant"
	ModeScheduled MeetingMode = "scheduled"
)

type MeetingState string

const (
	StateScheduled MeetingState = "scheduled"
	StateActive    MeetingState = "active"
	StateEnded     MeetingState = "ended"
)

// AdmissionPolicy is chosen once at meeting creation. Under AdmissionWaitingRoom
// every joiner after the first waits for an explicit organizer decision.
type AdmissionPolicy string

const (
	AdmissionOpen        AdmissionPolicy = "open"
	AdmissionWaitingRoom AdmissionPolicy = "waiting_room"
)

type Role string

const (
	RoleOrganizer Role = "organizer"
	RoleAttendee  Role = "attendee"
)

type MediaState struct {
	AudioEnabled  bool `json:"audio_enabled"`
	VideoEnabled  bool `json:"video_enabled"`
	ScreenSharing bool `json:"screen_sharing"`
}

type Participant struct {
	ConnectionID ConnectionID `json:"connection_id"`
	Name         string       `json:"name"`
	Role         Role         `json:"role"`
	JoinedAt     time.Time    `json:"joined_at"`
	Media        MediaState   `json:"media"`
}

type Meeting struct {
	ID        MeetingID       `json:"id"`
	Title     string          `json:"title"`
	Mode      MeetingMode     `json:"mode"`
	State     MeetingState    `json:"state"`
	Admission AdmissionPolicy `json:"admission"`
	StartTime time.Time       `json:"start_time"`
	EndTime   *time.Time      `json:"end_time,omitempty"`
	// Roster in join order. Mutated only by the room coordinator while it
	// holds the per-meeting lock.
	Roster    []*Participant `json:"roster"`
	CreatedAt time.Time      `json:"created_at"`
}

// Find returns the roster entry for the given connection, if present.
func (m *Meeting) Find(id ConnectionID) (*Participant, bool) {
	for _, p := range m.Roster {
		if p.ConnectionID == id {
			return p, true
		}
	}
	return nil, false
}

// RosterSnapshot returns value copies of the roster in join order, excluding
// the given connection. Pass the joiner's own id to get the self-excluded
// participant list handed back on join.
func (m *Meeting) RosterSnapshot(exclude ConnectionID) []Participant {
	out := make([]Participant, 0, len(m.Roster))
	for _, p := range m.Roster {
		if p.ConnectionID == exclude {
			continue
		}
		out = append(out, *p)
	}
	return out
}

// Remove deletes the roster entry for the given connection, preserving join
// order of the rest, and reports whether it was present.
func (m *Meeting) Remove(id ConnectionID) (*Participant, bool) {
	for i, p := range m.Roster {
		if p.ConnectionID == id {
			m.Roster = append(m.Roster[:i], m.Roster[i+1:]...)
			return p, true
		}
	}
	return nil, false
}

// Expired reports whether the meeting's end time has passed.
func (m *Meeting) Expired(now time.Time) bool {
	return m.EndTime != nil && now.After(*m.EndTime)
}
