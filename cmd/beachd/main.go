// Command beachd hosts a shell in a PTY and shares it with remote viewers
// over a session-server-mediated WebRTC/WebSocket transport.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/beachside/beach/internal/config"
	"github.com/beachside/beach/internal/host"
	"github.com/beachside/beach/internal/logger"
	"github.com/beachside/beach/internal/negotiate"
	"github.com/beachside/beach/internal/rendezvous"
	"github.com/beachside/beach/internal/transport"
)

var (
	flagLogLevel    string
	flagLogFile     string
	flagConfigPath  string
	flagServerURL   string
	flagPassphrase  string
	flagFullVT      bool
	flagHistoryRows int
)

func main() {
	root := &cobra.Command{
		Use:   "beachd [-- command [args...]]",
		Short: "share a terminal session over an encrypted peer-to-peer channel",
		Args:  cobra.ArbitraryArgs,
		RunE:  run,
	}
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "write logs to this file in addition to stdout")
	root.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path (default ~/.beach/config.yaml)")
	root.PersistentFlags().StringVar(&flagServerURL, "session-server", "", "rendezvous base URL (overrides config)")
	root.PersistentFlags().StringVar(&flagPassphrase, "passphrase", "", "shared passphrase sealing the signaling channel")
	root.Flags().BoolVar(&flagFullVT, "full-vt", true, "use the full VT-parser emulator instead of the line-buffered fallback")
	root.Flags().IntVar(&flagHistoryRows, "history-rows", 10000, "scrollback rows retained in the grid")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfigPath, cmd.Flags())
	if err != nil {
		return fmt.Errorf("beachd: load config: %w", err)
	}
	if flagServerURL != "" {
		cfg.SessionServerURL = flagServerURL
	}
	if err := logger.Init(flagLogLevel, flagLogFile); err != nil {
		return fmt.Errorf("beachd: init logger: %w", err)
	}

	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	command, cmdArgs := shell, []string{}
	if len(args) > 0 {
		command, cmdArgs = args[0], args[1:]
	}

	hostCfg := host.DefaultConfig()
	hostCfg.Command = command
	hostCfg.Args = cmdArgs
	hostCfg.Env = os.Environ()
	hostCfg.UseFullVT = flagFullVT
	hostCfg.HistoryLimit = flagHistoryRows
	hostCfg.SnapshotDotfiles = true

	h, err := host.New(hostCfg)
	if err != nil {
		return fmt.Errorf("beachd: start pty: %w", err)
	}
	defer h.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rc := rendezvous.New(cfg.SessionServerURL)
	sessionID := uuid.New().String()
	created, err := rc.CreateSession(ctx, rendezvous.CreateSessionRequest{
		SessionID:  sessionID,
		Passphrase: flagPassphrase,
	})
	if err != nil {
		return fmt.Errorf("beachd: create session: %w", err)
	}

	fmt.Printf("session code: %s\n", created.JoinCode)
	fmt.Printf("join url:     %s/sessions/%s/join\n", cfg.SessionServerURL, sessionID)

	log := logger.WithSession(sessionID)

	iceServers := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	for _, s := range cfg.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}

	go acceptViewers(ctx, h, rc, sessionID, flagPassphrase, iceServers, log)

	err = h.Run(ctx)
	if err != nil && !strings.Contains(err.Error(), "file already closed") {
		return fmt.Errorf("beachd: host loop: %w", err)
	}
	return nil
}

// acceptViewers repeatedly negotiates a transport for the next viewer,
// preferring WebRTC and falling back to the session server's WebSocket
// relay when negotiation fails, attaching each to the host as a new
// subscription. One negotiation failure does not stop later viewers from
// joining.
func acceptViewers(ctx context.Context, h *host.Host, rc *rendezvous.Client, sessionID, passphrase string, iceServers []webrtc.ICEServer, log *slog.Logger) {
	selfPeer := "host-" + uuid.New().String()[:8]
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		remotePeer := "viewer-" + uuid.New().String()[:8]
		negCfg := negotiate.Config{
			Role:       negotiate.Offerer,
			SessionID:  sessionID,
			SelfPeer:   selfPeer,
			RemotePeer: remotePeer,
			Passphrase: passphrase,
			ICEServers: iceServers,
			Rendezvous: rc,
		}
		t, err := negotiate.Negotiate(ctx, negCfg)
		upgrade := err != nil
		if err != nil {
			log.Warn("beachd: webrtc negotiation failed, falling back to websocket", "peer", remotePeer, "err", err)
			wsCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			t, err = transport.DialWebSocket(wsCtx, rc.WebSocketURL(sessionID))
			cancel()
			if err != nil {
				log.Error("beachd: websocket fallback failed", "peer", remotePeer, "err", err)
				time.Sleep(time.Second)
				continue
			}
		}

		sw := transport.NewSwappable(t)
		if upgrade {
			go upgradeToWebRTC(ctx, sw, negCfg, log)
		}

		if _, err := h.Attach(ctx, sw); err != nil {
			log.Error("beachd: attach subscription failed", "peer", remotePeer, "err", err)
			sw.Close()
		}
	}
}

// upgradeToWebRTC retries WebRTC negotiation in the background for a
// viewer that joined over the WebSocket fallback, migrating sw onto the
// new data channel once one opens without dropping the synchronizer's
// watermark state for that subscription (spec.md's supplemented transport
// migration feature, see DESIGN.md).
func upgradeToWebRTC(ctx context.Context, sw *transport.Swappable, cfg negotiate.Config, log *slog.Logger) {
	t, err := negotiate.Negotiate(ctx, cfg)
	if err != nil {
		return
	}
	if err := sw.MigrateTo(t); err != nil {
		log.Warn("beachd: webrtc upgrade migration failed", "peer", cfg.RemotePeer, "err", err)
		t.Close()
	}
}
