// Command beach joins a shared terminal session as a viewer, rendering
// the remote screen in a local TUI and forwarding keystrokes back.
package main

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/beachside/beach/internal/config"
	"github.com/beachside/beach/internal/logger"
	"github.com/beachside/beach/internal/negotiate"
	"github.com/beachside/beach/internal/rendezvous"
	"github.com/beachside/beach/internal/transport"
	"github.com/beachside/beach/internal/viewer"
)

var (
	flagLogLevel   string
	flagLogFile    string
	flagConfigPath string
	flagServerURL  string
	flagPassphrase string
)

func main() {
	root := &cobra.Command{
		Use:   "beach <session-uuid-or-url>",
		Short: "join a shared terminal session",
		Args:  cobra.ExactArgs(1),
		RunE:  run,
	}
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "write logs to this file in addition to stdout")
	root.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path (default ~/.beach/config.yaml)")
	root.PersistentFlags().StringVar(&flagServerURL, "session-server", "", "rendezvous base URL (overrides config and URL targets)")
	root.PersistentFlags().StringVar(&flagPassphrase, "passphrase", "", "shared passphrase for sealed signaling")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var sessionURLPattern = regexp.MustCompile(`sessions/([0-9a-fA-F-]{36})(?:/join)?`)

// resolveTarget extracts (baseURL, sessionID) from a viewer target: either
// a bare session UUID (combined with cfg.SessionServerURL) or a URL
// containing "sessions/{uuid}[/join]".
func resolveTarget(target string, defaultBase string) (baseURL, sessionID string, err error) {
	if m := sessionURLPattern.FindStringSubmatch(target); m != nil {
		idx := strings.Index(target, "/sessions/")
		return target[:idx], m[1], nil
	}
	if _, perr := uuid.Parse(target); perr == nil {
		return defaultBase, target, nil
	}
	return "", "", fmt.Errorf("beach: %q is not a session UUID or a sessions URL", target)
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfigPath, cmd.Flags())
	if err != nil {
		return fmt.Errorf("beach: load config: %w", err)
	}
	if flagServerURL != "" {
		cfg.SessionServerURL = flagServerURL
	}
	if err := logger.Init(flagLogLevel, flagLogFile); err != nil {
		return fmt.Errorf("beach: init logger: %w", err)
	}

	baseURL, sessionID, err := resolveTarget(args[0], cfg.SessionServerURL)
	if err != nil {
		return err
	}
	if flagServerURL != "" {
		baseURL = flagServerURL
	}

	ctx := context.Background()
	rc := rendezvous.New(baseURL)

	joinResp, err := rc.Join(ctx, sessionID, rendezvous.JoinRequest{Passphrase: flagPassphrase})
	if err != nil {
		return fmt.Errorf("beach: join session: %w", err)
	}
	if !joinResp.Success {
		return fmt.Errorf("beach: session rejected join")
	}

	iceServers := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	for _, s := range cfg.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}

	selfPeer := "viewer-" + uuid.New().String()[:8]
	t, err := negotiate.Negotiate(ctx, negotiate.Config{
		Role:       negotiate.Answerer,
		SessionID:  sessionID,
		SelfPeer:   selfPeer,
		RemotePeer: "host",
		Passphrase: flagPassphrase,
		ICEServers: iceServers,
		Rendezvous: rc,
	})
	if err != nil {
		wsURL := joinResp.WebSocketURL
		if wsURL == "" {
			wsURL = rc.WebSocketURL(sessionID)
		}
		wsCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		t, err = transport.DialWebSocket(wsCtx, wsURL)
		cancel()
		if err != nil {
			return fmt.Errorf("beach: could not establish transport (webrtc and websocket both failed): %w", err)
		}
	}
	defer t.Close()

	m := viewer.New(t)
	program := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("beach: tui: %w", err)
	}
	return nil
}
