// Command streamcore is a thin example binary wiring the ten streaming-core
// components into a single session, the way a real client's main loop would.
// Session allocation (the REST call that produces a SessionHandle) is out of
// scope (spec §1); this binary reads the handle's fields from flags/env
// instead of performing that call itself.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zalo/streamcore"
	"github.com/zalo/streamcore/internal/orchestrator"
	"github.com/zalo/streamcore/internal/session"
)

var (
	serverHost     string
	signalingURL   string
	sessionID      string
	bearerToken    string
	iceServers     []string
	codecPref      string
	width, height  int
	targetFPS      float64
	maxBitrateKbps int
	mediaHintIP    string
	mediaHintPort  int
	showStatsHUD   bool
	intelRuntime   bool
	logFormat      string
	logLevel       string
)

var rootCmd = &cobra.Command{
	Use:   "streamcore",
	Short: "Native cloud-gaming streaming core",
	Long:  `streamcore negotiates a WebRTC session with a cloud-gaming host, decodes and presents the video stream, and relays input back over data channels.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Negotiate and run one streaming session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log output format: text or json")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	runCmd.Flags().StringVar(&serverHost, "host", "", "game host address (required)")
	runCmd.Flags().StringVar(&signalingURL, "signaling-url", "", "signaling WebSocket URL (required)")
	runCmd.Flags().StringVar(&sessionID, "session-id", "", "allocated session id, folded into the signaling subprotocol")
	runCmd.Flags().StringVar(&bearerToken, "bearer-token", "", "bearer token for the signaling upgrade request")
	runCmd.Flags().StringSliceVar(&iceServers, "ice-server", []string{"stun:stun.l.google.com:19302"}, "STUN/TURN server URI, repeatable")
	runCmd.Flags().StringVar(&codecPref, "codec", "h264", "preferred codec: h264, h265, or av1")
	runCmd.Flags().IntVar(&width, "width", 1920, "negotiated video width")
	runCmd.Flags().IntVar(&height, "height", 1080, "negotiated video height")
	runCmd.Flags().Float64Var(&targetFPS, "fps", 60, "target frame rate")
	runCmd.Flags().IntVar(&maxBitrateKbps, "max-bitrate-kbps", 20000, "maximum video bitrate in kbps")
	runCmd.Flags().StringVar(&mediaHintIP, "media-hint-ip", "", "known host media endpoint IP, synthesizes an ICE candidate without waiting on trickle ICE")
	runCmd.Flags().IntVar(&mediaHintPort, "media-hint-port", 0, "known host media endpoint port")
	runCmd.Flags().BoolVar(&showStatsHUD, "stats-hud", false, "overlay stream statistics on the presented frame")
	runCmd.Flags().BoolVar(&intelRuntime, "intel-runtime-present", false, "Intel QSV runtime libraries are present on disk, making the intel-qsv decode backend eligible")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("streamcore 0.1.0")
	},
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(logFormat) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// buildSessionHandle assembles the public streamcore.SessionHandle facade
// from CLI flags, standing in for the out-of-scope allocator response.
func buildSessionHandle() streamcore.SessionHandle {
	h := streamcore.SessionHandle{
		ServerHost:     serverHost,
		SignalingURL:   signalingURL,
		ICEServers:     iceServers,
		CodecRequest:   codecPref,
		Width:          width,
		Height:         height,
		TargetFPS:      int(targetFPS),
		MaxBitrateKbps: maxBitrateKbps,
		BearerToken:    bearerToken,
	}
	if mediaHintIP != "" {
		h.MediaHint = &streamcore.MediaHint{IP: mediaHintIP, Port: mediaHintPort}
	}
	return h
}

// toInternalHandle translates the public facade into the internal session
// package's Handle, restoring SessionID (§6 subprotocol requirement, not
// carried on the public facade since the embedding application already
// knows it from its own allocator call).
func toInternalHandle(h streamcore.SessionHandle) session.Handle {
	internal := session.Handle{
		SessionID:      sessionID,
		ServerHost:     h.ServerHost,
		SignalingURL:   h.SignalingURL,
		ICEServers:     h.ICEServers,
		CodecRequest:   h.CodecRequest,
		Width:          h.Width,
		Height:         h.Height,
		TargetFPS:      float64(h.TargetFPS),
		MaxBitrateKbps: h.MaxBitrateKbps,
		BearerToken:    h.BearerToken,
	}
	if h.MediaHint != nil {
		internal.MediaHint = &session.MediaHint{IP: h.MediaHint.IP, Port: h.MediaHint.Port}
	}
	return internal
}

func runSession() error {
	log := newLogger()

	if serverHost == "" || signalingURL == "" {
		return fmt.Errorf("--host and --signaling-url are required")
	}

	handle := toInternalHandle(buildSessionHandle())
	cfg := orchestrator.Config{
		CodecPreference:     codecPref,
		TargetFPS:           targetFPS,
		Width:               width,
		Height:              height,
		ShowStatsHUD:        showStatsHUD,
		IntelRuntimePresent: intelRuntime,
	}

	orch := orchestrator.New(log, cfg, handle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutting down")
		cancel()
	}()

	log.Info("starting session", "host", serverHost, "signalingUrl", signalingURL, "codec", codecPref)
	if err := orch.Run(ctx); err != nil && ctx.Err() == nil {
		return streamcore.NewFault(streamcore.ReasonNegotiation, err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
