package domain

import "encoding/json"

// Event names carried over the persistent message channel. Inbound names are
// what clients send, outbound names are what the service emits. Negotiation
// and state-toggle names are used in both directions.
const (
	// Outbound only.
	EventConnected           = "connected"
	EventMeetingJoined       = "meeting-joined"
	EventUserJoined          = "user-joined"
	EventUserLeft            = "user-left"
	EventParticipantWaiting  = "participant-waiting"
	EventWaitingForAdmission = "waiting-for-admission"
	EventAdmittedToMeeting   = "admitted-to-meeting"
	EventDeniedFromMeeting   = "denied-from-meeting"
	EventError               = "error"

	// Inbound only.
	EventJoinMeeting      = "join-meeting"
	EventLeaveMeeting     = "leave-meeting"
	EventAdmitParticipant = "admit-participant"
	EventDenyParticipant  = "deny-participant"

	// Relayed signal kinds.
	KindOffer             = "offer"
	KindAnswer            = "answer"
	KindICECandidate      = "ice-candidate"
	KindToggleAudio       = "toggle-audio"
	KindToggleVideo       = "toggle-video"
	KindToggleScreenShare = "toggle-screen-share"
)

// IsNegotiationKind reports whether the kind is part of the offer/answer/ICE
// exchange. Negotiation messages are always unicast to an explicit target.
func IsNegotiationKind(kind string) bool {
	switch kind {
	case KindOffer, KindAnswer, KindICECandidate:
		return true
	}
	return false
}

// IsStateKind reports whether the kind is a media-state broadcast.
func IsStateKind(kind string) bool {
	switch kind {
	case KindToggleAudio, KindToggleVideo, KindToggleScreenShare:
		return true
	}
	return false
}

// JoinRequest is the payload of a join-meeting event.
type JoinRequest struct {
	MeetingID MeetingID `json:"meeting_id"`
	UserName  string    `json:"user_name"`
}

// JoinSnapshot is handed to a participant entering the roster, either directly
// (meeting-joined) or after admission (admitted-to-meeting). Participants
// never includes the receiver's own connection.
type JoinSnapshot struct {
	Meeting      Meeting       `json:"meeting"`
	Participants []Participant `json:"participants"`
	IsOrganizer  bool          `json:"is_organizer"`
}

// SignalEnvelope is the inbound shape of every relayed message.
type SignalEnvelope struct {
	MeetingID MeetingID       `json:"meeting_id"`
	Target    ConnectionID    `json:"target,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// SignalDelivery is the outbound shape of a relayed message. From is always
// set by the relay, never trusted from the caller.
type SignalDelivery struct {
	From    ConnectionID    `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

// TogglePayload is the inbound payload of toggle-audio / toggle-video /
// toggle-screen-share events.
type TogglePayload struct {
	MeetingID MeetingID `json:"meeting_id"`
	Enabled   bool      `json:"enabled"`
}

// ToggleDelivery is the broadcast shape of a media-state change.
type ToggleDelivery struct {
	From    ConnectionID `json:"from"`
	Enabled bool         `json:"enabled"`
}

// UserLeftPayload is broadcast to the remaining roster when someone leaves.
type UserLeftPayload struct {
	ConnectionID ConnectionID `json:"connection_id"`
	Participant  Participant  `json:"participant"`
}

// AdmissionRequest is the payload of admit-participant / deny-participant.
type AdmissionRequest struct {
	MeetingID    MeetingID    `json:"meeting_id"`
	ConnectionID ConnectionID `json:"connection_id"`
}

// ErrorPayload is unicast to a failing caller.
type ErrorPayload struct {
	Message string `json:"message"`
}
