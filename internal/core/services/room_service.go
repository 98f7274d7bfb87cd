package services

import (
	"context"
	"sync"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/pkg/utils"

	"go.uber.org/zap"
)

// roomService owns the participant roster of every meeting. All roster reads
// and mutations for a given meeting are serialized behind a per-meeting lock;
// operations on different meetings proceed concurrently. The relay goes
// through Roster and SetMediaFlag so it never touches the roster lock-free.
type roomService struct {
	meetingRepo ports.MeetingRepository
	sender      ports.EventSender
	metrics     *MetricsService
	logger      *zap.SugaredLogger

	locksMu sync.Mutex
	locks   map[domain.MeetingID]*sync.Mutex

	pendingMu sync.Mutex
	pending   map[domain.MeetingID][]*domain.Participant
}

func NewRoomService(meetingRepo ports.MeetingRepository, sender ports.EventSender, metrics *MetricsService, logger *zap.SugaredLogger) ports.RoomService {
	return &roomService{
		meetingRepo: meetingRepo,
		sender:      sender,
		metrics:     metrics,
		logger:      logger,
		locks:       make(map[domain.MeetingID]*sync.Mutex),
		pending:     make(map[domain.MeetingID][]*domain.Participant),
	}
}

// lockFor returns the mutex serializing mutations of one meeting.
func (s *roomService) lockFor(id domain.MeetingID) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	mu, ok := s.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[id] = mu
	}
	return mu
}

func (s *roomService) dropLock(id domain.MeetingID) {
	s.locksMu.Lock()
	delete(s.locks, id)
	s.locksMu.Unlock()
}

func (s *roomService) Join(ctx context.Context, meetingID domain.MeetingID, connID domain.ConnectionID, name string) (*domain.JoinSnapshot, error) {
	mu := s.lockFor(meetingID)
	mu.Lock()
	defer mu.Unlock()

	// Fetched under the lock so a concurrent Leave that destroys the meeting
	// is observed here as not-found instead of committing into a ghost.
	meeting, err := s.meetingRepo.GetByID(ctx, meetingID)
	if err != nil {
		return nil, err
	}

	now := utils.Now()
	if meeting.Mode == domain.ModeScheduled && now.Before(meeting.StartTime) {
		return nil, domain.ErrMeetingNotStarted
	}
	if meeting.Expired(now) {
		return nil, domain.ErrMeetingEnded
	}

	if _, ok := meeting.Find(connID); ok {
		return nil, domain.ErrAlreadyJoined
	}
	if s.isPending(meetingID, connID) {
		return nil, domain.ErrAlreadyJoined
	}

	participant := &domain.Participant{
		ConnectionID: connID,
		Name:         utils.SanitizeDisplayName(name),
		Role:         domain.RoleAttendee,
		JoinedAt:     now,
		Media:        domain.MediaState{AudioEnabled: true, VideoEnabled: true},
	}

	// First successful joiner becomes organizer and activates a scheduled
	// meeting; later joiners may be parked by the admission policy.
	if len(meeting.Roster) == 0 {
		participant.Role = domain.RoleOrganizer
		if meeting.State == domain.StateScheduled {
			meeting.State = domain.StateActive
		}
		return s.commitJoin(meeting, participant), nil
	}

	if meeting.Admission == domain.AdmissionWaitingRoom {
		s.enqueuePending(meetingID, participant)
		s.notifyWaiting(meeting, participant)
		return nil, nil
	}

	return s.commitJoin(meeting, participant), nil
}

// commitJoin appends the participant and broadcasts user-joined to the rest of
// the room, exactly once, after the mutation. Caller holds the meeting lock.
func (s *roomService) commitJoin(meeting *domain.Meeting, participant *domain.Participant) *domain.JoinSnapshot {
	meeting.Roster = append(meeting.Roster, participant)

	snapshot := &domain.JoinSnapshot{
		Meeting:      *meeting,
		Participants: meeting.RosterSnapshot(participant.ConnectionID),
		IsOrganizer:  participant.Role == domain.RoleOrganizer,
	}

	for _, other := range meeting.Roster {
		if other.ConnectionID == participant.ConnectionID {
			continue
		}
		_ = s.sender.Send(other.ConnectionID, domain.EventUserJoined, *participant)
	}

	s.metrics.RecordJoin(meeting.ID)
	s.logger.Infow("participant joined",
		"meeting_id", meeting.ID,
		"connection_id", participant.ConnectionID,
		"role", participant.Role,
		"roster_size", len(meeting.Roster),
	)

	return snapshot
}

func (s *roomService) enqueuePending(meetingID domain.MeetingID, participant *domain.Participant) {
	s.pendingMu.Lock()
	s.pending[meetingID] = append(s.pending[meetingID], participant)
	s.pendingMu.Unlock()
	s.metrics.RecordWaiting(meetingID, 1)
}

func (s *roomService) isPending(meetingID domain.MeetingID, connID domain.ConnectionID) bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	for _, p := range s.pending[meetingID] {
		if p.ConnectionID == connID {
			return true
		}
	}
	return false
}

// takePending removes and returns the pending entry for the connection.
func (s *roomService) takePending(meetingID domain.MeetingID, connID domain.ConnectionID) (*domain.Participant, bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	queue := s.pending[meetingID]
	for i, p := range queue {
		if p.ConnectionID == connID {
			s.pending[meetingID] = append(queue[:i], queue[i+1:]...)
			s.metrics.RecordWaiting(meetingID, -1)
			return p, true
		}
	}
	return nil, false
}

func (s *roomService) notifyWaiting(meeting *domain.Meeting, participant *domain.Participant) {
	for _, other := range meeting.Roster {
		if other.Role == domain.RoleOrganizer {
			_ = s.sender.Send(other.ConnectionID, domain.EventParticipantWaiting, *participant)
		}
	}
	_ = s.sender.Send(participant.ConnectionID, domain.EventWaitingForAdmission, domain.ErrorPayload{
		Message: "Waiting for organizer to admit you to the meeting",
	})

	s.logger.Infow("participant waiting for admission",
		"meeting_id", meeting.ID,
		"connection_id", participant.ConnectionID,
	)
}

func (s *roomService) Admit(ctx context.Context, meetingID domain.MeetingID, caller, connID domain.ConnectionID) error {
	mu := s.lockFor(meetingID)
	mu.Lock()
	defer mu.Unlock()

	meeting, err := s.meetingRepo.GetByID(ctx, meetingID)
	if err != nil {
		return err
	}

	if err := s.requireOrganizer(meeting, caller); err != nil {
		return err
	}

	participant, ok := s.takePending(meetingID, connID)
	if !ok {
		return domain.ErrNotWaiting
	}

	snapshot := s.commitJoin(meeting, participant)
	_ = s.sender.Send(connID, domain.EventAdmittedToMeeting, *snapshot)
	return nil
}

func (s *roomService) Deny(ctx context.Context, meetingID domain.MeetingID, caller, connID domain.ConnectionID) error {
	mu := s.lockFor(meetingID)
	mu.Lock()
	defer mu.Unlock()

	meeting, err := s.meetingRepo.GetByID(ctx, meetingID)
	if err != nil {
		return err
	}

	if err := s.requireOrganizer(meeting, caller); err != nil {
		return err
	}

	if _, ok := s.takePending(meetingID, connID); !ok {
		return domain.ErrNotWaiting
	}

	_ = s.sender.Send(connID, domain.EventDeniedFromMeeting, domain.ErrorPayload{
		Message: "You were denied access to the meeting",
	})

	s.logger.Infow("participant denied",
		"meeting_id", meetingID,
		"connection_id", connID,
	)
	return nil
}

func (s *roomService) requireOrganizer(meeting *domain.Meeting, caller domain.ConnectionID) error {
	p, ok := meeting.Find(caller)
	if !ok || p.Role != domain.RoleOrganizer {
		return domain.ErrNotOrganizer
	}
	return nil
}

func (s *roomService) Leave(ctx context.Context, meetingID domain.MeetingID, connID domain.ConnectionID) error {
	mu := s.lockFor(meetingID)
	mu.Lock()
	defer mu.Unlock()

	meeting, err := s.meetingRepo.GetByID(ctx, meetingID)
	if err != nil {
		// Meeting already gone; drop any waiting-room entry and finish.
		s.takePending(meetingID, connID)
		return nil
	}

	// A waiting participant that disconnects is simply forgotten.
	if _, wasPending := s.takePending(meetingID, connID); wasPending {
		return nil
	}

	participant, ok := meeting.Remove(connID)
	if !ok {
		return nil
	}

	for _, other := range meeting.Roster {
		_ = s.sender.Send(other.ConnectionID, domain.EventUserLeft, domain.UserLeftPayload{
			ConnectionID: connID,
			Participant:  *participant,
		})
	}

	s.metrics.RecordLeave(meetingID)
	s.logger.Infow("participant left",
		"meeting_id", meetingID,
		"connection_id", connID,
		"roster_size", len(meeting.Roster),
	)

	// An instant meeting that drains is destroyed; scheduled meetings persist
	// empty until the expiry sweep removes them.
	if len(meeting.Roster) == 0 && meeting.Mode == domain.ModeInstant {
		if err := s.meetingRepo.Delete(ctx, meetingID); err == nil {
			s.dropLock(meetingID)
			s.clearPending(meetingID)
			s.metrics.RecordMeetingDestroyed(meetingID)
			s.logger.Infow("instant meeting destroyed", "meeting_id", meetingID)
		}
	}

	return nil
}

// Roster returns value copies of the current roster, taken under the meeting
// lock so callers never observe a half-applied mutation.
func (s *roomService) Roster(ctx context.Context, meetingID domain.MeetingID) ([]domain.Participant, error) {
	mu := s.lockFor(meetingID)
	mu.Lock()
	defer mu.Unlock()

	meeting, err := s.meetingRepo.GetByID(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	return meeting.RosterSnapshot(""), nil
}

// SetMediaFlag records a media-state change on the sender's roster entry and
// returns copies of the other members to broadcast to. The mutation runs under
// the meeting lock like every other roster write.
func (s *roomService) SetMediaFlag(ctx context.Context, meetingID domain.MeetingID, connID domain.ConnectionID, kind string, enabled bool) ([]domain.Participant, error) {
	mu := s.lockFor(meetingID)
	mu.Lock()
	defer mu.Unlock()

	meeting, err := s.meetingRepo.GetByID(ctx, meetingID)
	if err != nil {
		return nil, err
	}

	participant, ok := meeting.Find(connID)
	if !ok {
		return nil, domain.ErrMeetingNotFound
	}

	switch kind {
	case domain.KindToggleAudio:
		participant.Media.AudioEnabled = enabled
	case domain.KindToggleVideo:
		participant.Media.VideoEnabled = enabled
	case domain.KindToggleScreenShare:
		participant.Media.ScreenSharing = enabled
	default:
		return nil, domain.ErrUnknownSignalKind
	}

	return meeting.RosterSnapshot(connID), nil
}

func (s *roomService) clearPending(meetingID domain.MeetingID) {
	s.pendingMu.Lock()
	delete(s.pending, meetingID)
	s.pendingMu.Unlock()
}
