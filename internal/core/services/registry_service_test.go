package services_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/internal/core/services"
	"huddle/internal/infrastructure/repositories/memory"
	apperrors "huddle/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRegistry() (ports.RegistryService, ports.MeetingRepository) {
	repo := memory.NewMemoryMeetingRepository()
	return services.NewRegistryService(repo, zap.NewNop().Sugar()), repo
}

func TestCreateInstantMeeting(t *testing.T) {
	registry, _ := newRegistry()

	meeting, err := registry.Create(context.Background(), ports.MeetingSpec{
		Mode: domain.ModeInstant,
	})

	require.NoError(t, err)
	assert.NotEmpty(t, meeting.ID)
	assert.Equal(t, domain.StateActive, meeting.State)
	assert.Equal(t, "Instant Meeting", meeting.Title)
	assert.Equal(t, domain.AdmissionOpen, meeting.Admission)
	assert.False(t, meeting.StartTime.IsZero())
}

func TestCreateScheduledMeeting(t *testing.T) {
	registry, _ := newRegistry()
	start := time.Now().Add(time.Hour)
	end := start.Add(time.Hour)

	meeting, err := registry.Create(context.Background(), ports.MeetingSpec{
		Title:     "Planning",
		Mode:      domain.ModeScheduled,
		Admission: domain.AdmissionWaitingRoom,
		StartTime: start,
		EndTime:   &end,
	})

	require.NoError(t, err)
	assert.Equal(t, domain.StateScheduled, meeting.State)
	assert.Equal(t, "Planning", meeting.Title)
	assert.Equal(t, domain.AdmissionWaitingRoom, meeting.Admission)
	assert.Equal(t, start, meeting.StartTime)
	require.NotNil(t, meeting.EndTime)
	assert.Equal(t, end, *meeting.EndTime)
}

func TestCreateRejectsBadInput(t *testing.T) {
	registry, _ := newRegistry()

	_, err := registry.Create(context.Background(), ports.MeetingSpec{
		Title: strings.Repeat("x", 201),
		Mode:  domain.ModeInstant,
	})
	appErr := apperrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, appErr.Code)

	_, err = registry.Create(context.Background(), ports.MeetingSpec{
		Mode: domain.ModeScheduled,
	})
	require.NotNil(t, apperrors.GetAppError(err), "missing start time")

	start := time.Now().Add(time.Hour)
	end := start.Add(-time.Minute)
	_, err = registry.Create(context.Background(), ports.MeetingSpec{
		Mode:      domain.ModeScheduled,
		StartTime: start,
		EndTime:   &end,
	})
	require.NotNil(t, apperrors.GetAppError(err), "end before start")

	_, err = registry.Create(context.Background(), ports.MeetingSpec{Mode: "drop-in"})
	require.NotNil(t, apperrors.GetAppError(err), "unknown mode")
}

func TestGetUnknownMeeting(t *testing.T) {
	registry, _ := newRegistry()

	_, err := registry.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrMeetingNotFound)
}

func TestListScheduledOmitsActiveMeetings(t *testing.T) {
	registry, _ := newRegistry()

	_, err := registry.Create(context.Background(), ports.MeetingSpec{Mode: domain.ModeInstant})
	require.NoError(t, err)

	scheduled, err := registry.Create(context.Background(), ports.MeetingSpec{
		Mode:      domain.ModeScheduled,
		StartTime: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	var listed []domain.MeetingID
	for m := range registry.ListScheduled(context.Background()) {
		listed = append(listed, m.ID)
	}
	assert.Equal(t, []domain.MeetingID{scheduled.ID}, listed)
}

func TestListScheduledSupportsEarlyStop(t *testing.T) {
	registry, _ := newRegistry()

	for i := 0; i < 3; i++ {
		_, err := registry.Create(context.Background(), ports.MeetingSpec{
			Mode:      domain.ModeScheduled,
			StartTime: time.Now().Add(time.Hour),
		})
		require.NoError(t, err)
	}

	count := 0
	for range registry.ListScheduled(context.Background()) {
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)

	// The sequence is restartable.
	count = 0
	for range registry.ListScheduled(context.Background()) {
		count++
	}
	assert.Equal(t, 3, count)
}

func TestExpireRemovesPastMeetings(t *testing.T) {
	registry, repo := newRegistry()

	start := time.Now().Add(-2 * time.Hour)
	end := time.Now().Add(-time.Hour)
	expired, err := registry.Create(context.Background(), ports.MeetingSpec{
		Mode:      domain.ModeScheduled,
		StartTime: start,
		EndTime:   &end,
	})
	require.NoError(t, err)

	kept, err := registry.Create(context.Background(), ports.MeetingSpec{Mode: domain.ModeInstant})
	require.NoError(t, err)

	removed, err := registry.Expire(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, []domain.MeetingID{expired.ID}, removed)

	_, err = repo.GetByID(context.Background(), expired.ID)
	assert.ErrorIs(t, err, domain.ErrMeetingNotFound)
	_, err = repo.GetByID(context.Background(), kept.ID)
	assert.NoError(t, err)
}
