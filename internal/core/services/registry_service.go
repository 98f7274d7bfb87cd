package services

import (
	"context"
	"iter"
	"net/http"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/pkg/utils"
	"huddle/pkg/validation"

	"go.uber.org/zap"

	apperrors "huddle/pkg/errors"
)

// registryService owns meeting lifecycle: creation, lookup, scheduled listing
// and expiry. Roster mutation belongs to the room service.
type registryService struct {
	meetingRepo ports.MeetingRepository
	logger      *zap.SugaredLogger
}

func NewRegistryService(meetingRepo ports.MeetingRepository, logger *zap.SugaredLogger) ports.RegistryService {
	return &registryService{
		meetingRepo: meetingRepo,
		logger:      logger,
	}
}

func (s *registryService) Create(ctx context.Context, spec ports.MeetingSpec) (*domain.Meeting, error) {
	now := utils.Now()

	if err := validation.ValidateMeetingTitle(spec.Title); err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}

	title := spec.Title
	if title == "" {
		title = "Instant Meeting"
	}

	admission := spec.Admission
	if admission == "" {
		admission = domain.AdmissionOpen
	}

	meeting := &domain.Meeting{
		ID:        domain.MeetingID(utils.GenerateMeetingID()),
		Title:     title,
		Mode:      spec.Mode,
		Admission: admission,
		CreatedAt: now,
	}

	switch spec.Mode {
	case domain.ModeInstant:
		// Instant meetings never pass through the scheduled state.
		meeting.State = domain.StateActive
		meeting.StartTime = now
	case domain.ModeScheduled:
		if err := validation.ValidateScheduleWindow(spec.StartTime, spec.EndTime); err != nil {
			return nil, apperrors.NewInvalidInputError(err.Error())
		}
		meeting.State = domain.StateScheduled
		meeting.StartTime = spec.StartTime
		meeting.EndTime = spec.EndTime
	default:
		return nil, apperrors.NewInvalidInputError("unknown meeting mode")
	}

	if err := s.meetingRepo.Create(ctx, meeting); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to store meeting", http.StatusInternalServerError)
	}

	s.logger.Infow("meeting created",
		"meeting_id", meeting.ID,
		"mode", meeting.Mode,
		"admission", meeting.Admission,
	)

	return meeting, nil
}

func (s *registryService) Get(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error) {
	return s.meetingRepo.GetByID(ctx, id)
}

func (s *registryService) ListScheduled(ctx context.Context) iter.Seq[*domain.Meeting] {
	return s.meetingRepo.ListScheduled(ctx)
}

// Expire removes meetings whose end time has passed, regardless of state. The
// expiry sweeper in cmd/server drives this on a ticker.
func (s *registryService) Expire(ctx context.Context, now time.Time) ([]domain.MeetingID, error) {
	removed, err := s.meetingRepo.DeleteExpired(ctx, now)
	if err != nil {
		return nil, err
	}
	if len(removed) > 0 {
		s.logger.Infow("expired meetings removed", "count", len(removed))
	}
	return removed, nil
}
