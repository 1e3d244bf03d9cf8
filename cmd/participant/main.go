package main

import (
	"bufio"
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mossy-p/meeting-signaling/config"
	"github.com/mossy-p/meeting-signaling/internal/media"
	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/mossy-p/meeting-signaling/internal/peer"
	"github.com/mossy-p/meeting-signaling/internal/transport"

	"github.com/pion/webrtc/v4"
)

func main() {
	cfg := config.LoadParticipant()
	loggerFactory := config.NewLoggerFactory(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := transport.Dial(ctx, cfg.SignalURL, loggerFactory)
	if err != nil {
		log.Fatalf("Failed to connect to relay: %v", err)
	}
	defer conn.Close()

	factory, err := peer.NewPionFactory(peer.PionConfig{
		ICEServers:    cfg.ICEServers,
		LoggerFactory: loggerFactory,
		OnTrack:       consumeTrack,
	})
	if err != nil {
		log.Fatalf("Failed to set up WebRTC: %v", err)
	}

	source := media.NewSynthetic(cfg.DisplayName, loggerFactory)
	source.ScreenLimit = cfg.ScreenLimit

	orch := peer.New(peer.Options{
		Transport:     conn,
		Factory:       factory,
		Source:        source,
		LoggerFactory: loggerFactory,
		DisplayName:   cfg.DisplayName,
		OnChat: func(msg models.ChatMessage) {
			log.Printf("[%s] %s: %s", msg.Room, msg.Sender, msg.Text)
		},
		OnStateChange: func(remote string, from, to peer.State) {
			log.Printf("Peer %s: %s -> %s", remote, from, to)
		},
	})

	done := make(chan error, 1)
	go func() { done <- orch.Run(ctx) }()

	if err := orch.StartCall(ctx, cfg.RoomID); err != nil {
		if !errors.Is(err, media.ErrMediaUnavailable) {
			log.Fatalf("Failed to start call: %v", err)
		}
		log.Printf("Continuing without local media: %v", err)
	}
	log.Printf("Joined room %s as %s. Commands: /screen, /mute, /video, /who, /quit", cfg.RoomID, cfg.DisplayName)

	go readCommands(ctx, orch, stop)

	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("Session ended: %v", err)
	}
}

// readCommands turns stdin lines into chat messages and call controls
func readCommands(ctx context.Context, orch *peer.Orchestrator, quit context.CancelFunc) {
	audio, video := true, true
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
		case "/quit":
			quit()
			return
		case "/who":
			log.Printf("In room: %s", strings.Join(orch.Participants(), ", "))
		case "/screen":
			var err error
			if orch.ScreenSharing() {
				err = orch.StopScreenShare()
			} else {
				err = orch.StartScreenShare(ctx)
			}
			if err != nil {
				log.Printf("Screen share: %v", err)
			}
		case "/mute":
			if err := orch.SetAudioEnabled(!audio); err != nil {
				log.Printf("Microphone: %v", err)
				continue
			}
			audio = !audio
			log.Printf("Microphone on: %t", audio)
		case "/video":
			if err := orch.SetVideoEnabled(!video); err != nil {
				log.Printf("Video: %v", err)
				continue
			}
			video = !video
			log.Printf("Video on: %t", video)
		default:
			if err := orch.SendChat(line); err != nil {
				log.Printf("Failed to send chat: %v", err)
			}
		}
	}
}

// consumeTrack reads remote media so the receive pipeline keeps moving
func consumeTrack(remote string, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	go func() {
		packets := 0
		for {
			if _, _, err := track.ReadRTP(); err != nil {
				log.Printf("Track %s from %s ended after %d packets", track.ID(), remote, packets)
				return
			}
			packets++
		}
	}()
}
