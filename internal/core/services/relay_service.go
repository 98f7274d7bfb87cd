package services

import (
	"context"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"go.uber.org/zap"
)

// relayService routes negotiation and media-state messages. It holds no roster
// state of its own: membership checks and media-flag writes go through the
// room service so they run under its per-meeting lock. Delivery is
// best-effort, at-most-once.
type relayService struct {
	rooms   ports.RoomService
	sender  ports.EventSender
	metrics *MetricsService
	logger  *zap.SugaredLogger
}

func NewRelayService(rooms ports.RoomService, sender ports.EventSender, metrics *MetricsService, logger *zap.SugaredLogger) ports.RelayService {
	return &relayService{
		rooms:   rooms,
		sender:  sender,
		metrics: metrics,
		logger:  logger,
	}
}

// Relay forwards a negotiation message (offer, answer, ice-candidate) to its
// target. The sender identity on the outbound message is always overwritten
// with the authenticated connection id.
func (s *relayService) Relay(ctx context.Context, senderID domain.ConnectionID, kind string, env domain.SignalEnvelope) error {
	if !domain.IsNegotiationKind(kind) {
		return domain.ErrUnknownSignalKind
	}
	if env.Target == "" {
		return domain.ErrMissingTarget
	}

	roster, err := s.rooms.Roster(ctx, env.MeetingID)
	if err != nil {
		return err
	}
	if !rosterContains(roster, senderID) {
		return domain.ErrMeetingNotFound
	}

	delivery := domain.SignalDelivery{From: senderID, Payload: env.Payload}

	if !s.sender.IsConnected(env.Target) {
		// At-most-once: a gone target means a silent drop, not an error.
		s.metrics.RecordDroppedUnicast(kind)
		s.logger.Debugw("dropping signal for disconnected target",
			"kind", kind,
			"from", senderID,
			"target", env.Target,
		)
		return nil
	}

	if err := s.sender.Send(env.Target, kind, delivery); err != nil {
		s.metrics.RecordDroppedUnicast(kind)
		s.logger.Debugw("unicast delivery failed",
			"kind", kind,
			"from", senderID,
			"target", env.Target,
			"error", err,
		)
		return nil
	}

	s.metrics.RecordRelayed(kind, "unicast")
	return nil
}

// Toggle broadcasts a media-state change to every other roster member. The
// flag itself is written by the room service under its meeting lock so that
// later join snapshots carry current state.
func (s *relayService) Toggle(ctx context.Context, senderID domain.ConnectionID, kind string, payload domain.TogglePayload) error {
	if !domain.IsStateKind(kind) {
		return domain.ErrUnknownSignalKind
	}

	others, err := s.rooms.SetMediaFlag(ctx, payload.MeetingID, senderID, kind, payload.Enabled)
	if err != nil {
		return err
	}

	delivery := domain.ToggleDelivery{From: senderID, Enabled: payload.Enabled}
	for _, member := range others {
		_ = s.sender.Send(member.ConnectionID, kind, delivery)
	}

	s.metrics.RecordRelayed(kind, "broadcast")
	return nil
}

func rosterContains(roster []domain.Participant, id domain.ConnectionID) bool {
	for _, p := range roster {
		if p.ConnectionID == id {
			return true
		}
	}
	return false
}
