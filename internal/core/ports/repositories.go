package ports

import (
	"context"
	"iter"
	"time"

	"huddle/internal/core/domain"
)

type MeetingRepository interface {
	Create(ctx context.Context, meeting *domain.Meeting) error
	GetByID(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error)
	Delete(ctx context.Context, id domain.MeetingID) error
	// ListScheduled yields meetings currently in the scheduled state. The
	// sequence is lazy over a point-in-time snapshot and may be ranged over
	// more than once.
	ListScheduled(ctx context.Context) iter.Seq[*domain.Meeting]
	// DeleteExpired removes every meeting whose end time precedes now,
	// regardless of lifecycle state, and returns the removed ids.
	DeleteExpired(ctx context.Context, now time.Time) ([]domain.MeetingID, error)
}
