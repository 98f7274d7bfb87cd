package domain

import "errors"

var (
	ErrMeetingNotFound   = errors.New("meeting not found")
	ErrMeetingExists     = errors.New("meeting already exists")
	ErrMeetingNotStarted = errors.New("meeting has not started yet")
	ErrMeetingEnded      = errors.New("meeting has ended")
	ErrAlreadyJoined     = errors.New("connection already in roster")
	ErrNotOrganizer      = errors.New("only the organizer may do this")
	ErrNotWaiting        = errors.New("participant is not waiting for admission")
	ErrMissingTarget     = errors.New("negotiation messages require a target")
	ErrUnknownSignalKind = errors.New("unknown signal kind")
)
