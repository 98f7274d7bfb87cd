package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"huddle/internal/client"
	"huddle/internal/core/domain"
	"huddle/pkg/logger"

	"github.com/pion/rtp"
	webrtc "github.com/pion/webrtc/v3"
)

// logSurface prints inbound media activity instead of rendering it. Useful
// for poking at a running server from the command line.
type logSurface struct {
	packets int
}

func (s *logSurface) RenderRTP(remote domain.ConnectionID, pkt *rtp.Packet) {
	s.packets++
	if s.packets%500 == 0 {
		fmt.Printf("received %d RTP packets from %s\n", s.packets, remote)
	}
}

func (s *logSurface) Clear(remote domain.ConnectionID) {
	fmt.Printf("surface cleared for %s\n", remote)
}

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "websocket endpoint")
	meetingID := flag.String("meeting", "", "meeting id to join")
	name := flag.String("name", "cli", "display name")
	stun := flag.String("stun", "stun:stun.l.google.com:19302", "STUN server")
	flag.Parse()

	if *meetingID == "" {
		fmt.Fprintln(os.Stderr, "usage: client -meeting <id> [-url ws://...] [-name ...]")
		os.Exit(1)
	}

	log := logger.New("info", "console").Sugar()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport, err := client.Dial(ctx, *url)
	if err != nil {
		log.Fatalw("failed to connect", "error", err)
	}
	defer transport.Close()

	media, err := client.NewStaticMediaSource(*name)
	if err != nil {
		log.Fatalw("failed to create media source", "error", err)
	}

	cfg := client.DefaultConfig()
	cfg.ICEServers = []webrtc.ICEServer{{URLs: []string{*stun}}}

	controller := client.NewController(cfg, transport, media, log)
	controller.OnWaiting = func(msg string) { fmt.Println(msg) }
	controller.OnDenied = func(msg string) {
		fmt.Println(msg)
		cancel()
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- transport.Run(ctx, func(event string, payload json.RawMessage) error {
			err := controller.HandleEvent(event, payload)

			switch event {
			case domain.EventConnected:
				// Join once we know our connection id.
				if joinErr := controller.Join(domain.MeetingID(*meetingID), *name); joinErr != nil {
					log.Errorw("join failed", "error", joinErr)
					cancel()
				}
			case domain.EventMeetingJoined, domain.EventAdmittedToMeeting:
				var snapshot domain.JoinSnapshot
				if jsonErr := json.Unmarshal(payload, &snapshot); jsonErr == nil {
					for _, p := range snapshot.Participants {
						controller.RegisterSurface(p.ConnectionID, &logSurface{})
					}
				}
			case domain.EventUserJoined:
				// Render whatever every new participant sends.
				var p domain.Participant
				if jsonErr := json.Unmarshal(payload, &p); jsonErr == nil {
					controller.RegisterSurface(p.ConnectionID, &logSurface{})
				}
			}
			return err
		}, func(err error) {
			log.Warnw("event handling error", "error", err)
		})
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-runErr:
		if err != nil && ctx.Err() == nil {
			log.Errorw("transport stopped", "error", err)
		}
	case <-sigChan:
		fmt.Println("leaving meeting")
		if err := controller.Leave(); err != nil {
			log.Warnw("leave failed", "error", err)
		}
	}
}
