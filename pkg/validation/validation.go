package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ValidateMeetingID validates meeting id format (UUID).
func ValidateMeetingID(id string) error {
	if id == "" {
		return fmt.Errorf("meeting id is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid meeting id format")
	}
	return nil
}

// ValidateMeetingTitle validates a meeting title.
func ValidateMeetingTitle(title string) error {
	title = strings.TrimSpace(title)
	if len(title) > 200 {
		return fmt.Errorf("title is too long (max 200 characters)")
	}
	return nil
}

// ValidateDisplayName validates a participant display name.
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("display name is required")
	}
	if len(name) > 100 {
		return fmt.Errorf("display name is too long (max 100 characters)")
	}
	return nil
}

// ValidateScheduleWindow validates a scheduled meeting's time window. The end
// time is optional, but when present it must follow the start.
func ValidateScheduleWindow(start time.Time, end *time.Time) error {
	if start.IsZero() {
		return fmt.Errorf("start time is required for scheduled meetings")
	}
	if end != nil && !end.After(start) {
		return fmt.Errorf("end time must be after start time")
	}
	return nil
}
