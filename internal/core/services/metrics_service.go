package services

import (
	"sync"

	"huddle/internal/core/domain"
)

// Recorder receives metric events for export. The prometheus collector in
// internal/infrastructure/monitoring implements it; a nil Recorder disables
// export without disturbing the in-memory stats.
type Recorder interface {
	ParticipantJoined()
	ParticipantLeft()
	MeetingDestroyed()
	WaitingDelta(delta int)
	MessageRelayed(kind, routing string)
	UnicastDropped(kind string)
}

// MeetingStats is a point-in-time view of one meeting's activity.
type MeetingStats struct {
	Joins   int `json:"joins"`
	Leaves  int `json:"leaves"`
	Waiting int `json:"waiting"`
}

// MetricsService aggregates per-meeting counters in memory and mirrors events
// to an optional Recorder.
type MetricsService struct {
	mu       sync.RWMutex
	stats    map[domain.MeetingID]*MeetingStats
	recorder Recorder
}

func NewMetricsService(recorder Recorder) *MetricsService {
	return &MetricsService{
		stats:    make(map[domain.MeetingID]*MeetingStats),
		recorder: recorder,
	}
}

func (m *MetricsService) statsFor(id domain.MeetingID) *MeetingStats {
	st, ok := m.stats[id]
	if !ok {
		st = &MeetingStats{}
		m.stats[id] = st
	}
	return st
}

func (m *MetricsService) RecordJoin(id domain.MeetingID) {
	m.mu.Lock()
	m.statsFor(id).Joins++
	m.mu.Unlock()
	if m.recorder != nil {
		m.recorder.ParticipantJoined()
	}
}

func (m *MetricsService) RecordLeave(id domain.MeetingID) {
	m.mu.Lock()
	m.statsFor(id).Leaves++
	m.mu.Unlock()
	if m.recorder != nil {
		m.recorder.ParticipantLeft()
	}
}

func (m *MetricsService) RecordWaiting(id domain.MeetingID, delta int) {
	m.mu.Lock()
	m.statsFor(id).Waiting += delta
	m.mu.Unlock()
	if m.recorder != nil {
		m.recorder.WaitingDelta(delta)
	}
}

func (m *MetricsService) RecordRelayed(kind, routing string) {
	if m.recorder != nil {
		m.recorder.MessageRelayed(kind, routing)
	}
}

func (m *MetricsService) RecordDroppedUnicast(kind string) {
	if m.recorder != nil {
		m.recorder.UnicastDropped(kind)
	}
}

func (m *MetricsService) RecordMeetingDestroyed(id domain.MeetingID) {
	m.mu.Lock()
	delete(m.stats, id)
	m.mu.Unlock()
	if m.recorder != nil {
		m.recorder.MeetingDestroyed()
	}
}

// Stats returns a copy of the counters for one meeting.
func (m *MetricsService) Stats(id domain.MeetingID) (MeetingStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.stats[id]
	if !ok {
		return MeetingStats{}, false
	}
	return *st, true
}
