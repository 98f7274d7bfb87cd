package memory

import (
	"context"
	"iter"
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
)

// MemoryMeetingRepository is the single keyed store for meetings. Lifecycle is
// a field on the meeting, not a placement in one of several maps.
type MemoryMeetingRepository struct {
	meetings map[domain.MeetingID]*domain.Meeting
	mu       sync.RWMutex
}

func NewMemoryMeetingRepository() ports.MeetingRepository {
	return &MemoryMeetingRepository{
		meetings: make(map[domain.MeetingID]*domain.Meeting),
	}
}

func (r *MemoryMeetingRepository) Create(ctx context.Context, meeting *domain.Meeting) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.meetings[meeting.ID]; exists {
		return domain.ErrMeetingExists
	}

	r.meetings[meeting.ID] = meeting
	return nil
}

func (r *MemoryMeetingRepository) GetByID(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	meeting, exists := r.meetings[id]
	if !exists {
		return nil, domain.ErrMeetingNotFound
	}

	return meeting, nil
}

func (r *MemoryMeetingRepository) Delete(ctx context.Context, id domain.MeetingID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.meetings[id]; !exists {
		return domain.ErrMeetingNotFound
	}

	delete(r.meetings, id)
	return nil
}

func (r *MemoryMeetingRepository) ListScheduled(ctx context.Context) iter.Seq[*domain.Meeting] {
	r.mu.RLock()
	snapshot := make([]*domain.Meeting, 0, len(r.meetings))
	for _, m := range r.meetings {
		if m.State == domain.StateScheduled {
			snapshot = append(snapshot, m)
		}
	}
	r.mu.RUnlock()

	return func(yield func(*domain.Meeting) bool) {
		for _, m := range snapshot {
			if !yield(m) {
				return
			}
		}
	}
}

func (r *MemoryMeetingRepository) DeleteExpired(ctx context.Context, now time.Time) ([]domain.MeetingID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []domain.MeetingID
	for id, m := range r.meetings {
		if m.Expired(now) {
			delete(r.meetings, id)
			removed = append(removed, id)
		}
	}
	return removed, nil
}
