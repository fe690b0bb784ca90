package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/okutko/duplex/internal/adapters/media"
	"github.com/okutko/duplex/internal/adapters/rtc"
	sigchan "github.com/okutko/duplex/internal/adapters/signal"
	"github.com/okutko/duplex/internal/app"
	"github.com/okutko/duplex/internal/config"
	"github.com/okutko/duplex/internal/core"
	"github.com/okutko/duplex/internal/domain"
)

var (
	flagRelayURL string
	flagMedia    string
)

var rootCmd = &cobra.Command{
	Use:   "duplex",
	Short: "duplex is a two-party audio/video call endpoint",
	Long:  `duplex connects to a signaling relay and places or answers two-party WebRTC calls from an interactive prompt`,
	RunE:  runEndpoint,
}

func init() {
	rootCmd.Flags().StringVar(&flagRelayURL, "relay", "", "relay websocket URL (overrides config)")
	rootCmd.Flags().StringVar(&flagMedia, "media", "", "media source: capture or sample (overrides config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runEndpoint(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}
	if flagRelayURL != "" {
		cfg.RelayURL = flagRelayURL
	}
	if flagMedia != "" {
		cfg.MediaSource = flagMedia
	}

	src, err := newMediaSource(cfg.MediaSource)
	if err != nil {
		return fmt.Errorf("media source: %w", err)
	}
	api, err := src.API()
	if err != nil {
		return fmt.Errorf("webrtc api: %w", err)
	}

	rtcCfg := rtc.DefaultWebRTCConfig(cfg.StunServers)
	factory := func(role domain.Role, remotePeer domain.PeerID, tracks []webrtc.TrackLocal) (core.MediaConnection, error) {
		return rtc.NewSession(api, rtcCfg, role, remotePeer, tracks)
	}

	ch := sigchan.NewChannel()
	ctrl := app.New(ch, src, factory)

	ctrl.OnStatus(func(st domain.CallStatus) {
		switch st {
		case domain.StatusIncomingCall:
			fmt.Printf("\n*** incoming call from %s -- 'answer' or 'reject'\n> ", ctrl.RemotePeer())
		case domain.StatusConnected:
			fmt.Printf("\n*** connected to %s\n> ", ctrl.RemotePeer())
		default:
			fmt.Printf("\n*** %s\n> ", st)
		}
	})
	ctrl.OnRemoteTrack(func(track *webrtc.TrackRemote) {
		fmt.Printf("\n*** remote %s track %s\n> ", track.Kind(), track.ID())
	})

	dialCtx, dialCancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer dialCancel()
	if err := ch.Connect(dialCtx, cfg.RelayURL); err != nil {
		return fmt.Errorf("relay connect: %w", err)
	}
	defer ch.Close()
	defer ctrl.ReleaseMedia()

	fmt.Printf("registered as %s\ncommands: call <peer> | answer | reject | hangup | mute audio|video | unmute audio|video | status | quit\n", ch.LocalID())

	runREPL(ctx, ctrl)
	return nil
}

func newMediaSource(kind string) (core.MediaSource, error) {
	switch kind {
	case "sample":
		return media.NewSampleSource(), nil
	case "", "capture":
		return media.NewCaptureSource()
	default:
		return nil, fmt.Errorf("unknown media source %q", kind)
	}
}
