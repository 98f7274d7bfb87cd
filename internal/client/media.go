package client

import (
	"errors"
	"fmt"

	webrtc "github.com/pion/webrtc/v3"
)

// Device acquisition failures. Acquisition happens once at join time; any of
// these aborts the join without retry.
var (
	ErrMediaPermissionDenied = errors.New("media access denied: permission refused")
	ErrNoMediaDevice         = errors.New("media access denied: no capture device")
	ErrMediaDeviceBusy       = errors.New("media access denied: device busy")
)

// MediaSource provides the local outgoing tracks. Implementations wrap a real
// capture pipeline; tests use the static source below.
type MediaSource interface {
	Audio() (webrtc.TrackLocal, error)
	Video() (webrtc.TrackLocal, error)
	Screen() (webrtc.TrackLocal, error)
	Close() error
}

// StaticMediaSource serves sample-fed Opus and VP8 tracks. It is enough for
// examples and tests where no real capture device exists.
type StaticMediaSource struct {
	audio  *webrtc.TrackLocalStaticSample
	video  *webrtc.TrackLocalStaticSample
	screen *webrtc.TrackLocalStaticSample
}

func NewStaticMediaSource(id string) (*StaticMediaSource, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", id+"-audio",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}

	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", id+"-video",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create video track: %w", err)
	}

	screen, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"screen", id+"-screen",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create screen track: %w", err)
	}

	return &StaticMediaSource{audio: audio, video: video, screen: screen}, nil
}

func (s *StaticMediaSource) Audio() (webrtc.TrackLocal, error)  { return s.audio, nil }
func (s *StaticMediaSource) Video() (webrtc.TrackLocal, error)  { return s.video, nil }
func (s *StaticMediaSource) Screen() (webrtc.TrackLocal, error) { return s.screen, nil }
func (s *StaticMediaSource) Close() error                       { return nil }
